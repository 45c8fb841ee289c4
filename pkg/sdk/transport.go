package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tiny-errors/internal/auth"
	"tiny-errors/pkg/report"
)

const (
	apiKeyHeader    = "X-API-Key"
	signatureHeader = "X-Signature"
	sendTimeout     = 5 * time.Second
)

// Transport posts reports to the ingestion API. Failures are logged and the
// reports dropped.
type Transport struct {
	endpoint string
	secret   string
	client   *http.Client
	log      zerolog.Logger
}

// NewTransport builds a transport for endpoint. A non-empty secret signs
// each request body.
func NewTransport(endpoint, secret string, client *http.Client, log zerolog.Logger) *Transport {
	if client == nil {
		client = &http.Client{Timeout: sendTimeout}
	}
	return &Transport{
		endpoint: strings.TrimRight(endpoint, "/"),
		secret:   secret,
		client:   client,
		log:      log,
	}
}

// Deliver sends one report to the single endpoint and larger sets to the
// batch endpoint.
func (t *Transport) Deliver(ctx context.Context, reports []report.ErrorReport) {
	switch len(reports) {
	case 0:
		return
	case 1:
		if err := t.send(ctx, "/api/errors", reports[0].APIKey, reports[0]); err != nil {
			t.log.Error().Err(err).Msg("failed to send error")
		}
	default:
		if err := t.send(ctx, "/api/errors/batch", reports[0].APIKey, report.Batch{Errors: reports}); err != nil {
			t.log.Error().Err(err).Int("count", len(reports)).Msg("failed to send batch")
		}
	}
}

func (t *Transport) send(ctx context.Context, path, apiKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, apiKey)
	if t.secret != "" {
		req.Header.Set(signatureHeader, auth.ComputeSignature(t.secret, body))
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}
