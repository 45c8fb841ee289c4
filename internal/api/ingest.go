package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tiny-errors/internal/auth"
	"tiny-errors/internal/httpx"
	"tiny-errors/internal/ingest"
	"tiny-errors/pkg/report"
)

// MaxBodyBytes bounds an ingestion request body.
const MaxBodyBytes = 1 << 20

// IngestHandler serves the report submission endpoints.
type IngestHandler struct {
	svc   *ingest.Service
	authz Authorizer
	log   zerolog.Logger
}

// NewIngestHandler builds an IngestHandler.
func NewIngestHandler(svc *ingest.Service, authz Authorizer, log zerolog.Logger) *IngestHandler {
	return &IngestHandler{svc: svc, authz: authz, log: log}
}

// Register mounts the ingestion routes.
func (h *IngestHandler) Register(r gin.IRouter) {
	r.POST("/api/errors", h.submit)
	r.POST("/api/errors/batch", h.submitBatch)
}

// readSigned reads the body and checks the API key and, for projects that
// hold a secret, the body signature. It writes the error response itself.
func (h *IngestHandler) readSigned(c *gin.Context) (apiKey string, body []byte, ok bool) {
	apiKey = c.GetHeader(httpx.APIKeyHeader)
	if apiKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing API key"})
		return "", nil, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return "", nil, false
	}
	creds, err := h.authz.Resolve(c.Request.Context(), apiKey)
	if errors.Is(err, auth.ErrProjectNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return "", nil, false
	}
	if err != nil {
		h.log.Error().Err(err).Msg("resolve api key")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process error"})
		return "", nil, false
	}
	if !auth.RequireSignature(creds.HMACSecret, body, c.GetHeader(httpx.SignatureHeader)) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return "", nil, false
	}
	return apiKey, body, true
}

// withHeaderKey makes the header key the one checked against the report's
// project. Reports without a key stay invalid.
func withHeaderKey(r report.ErrorReport, apiKey string) report.ErrorReport {
	if r.APIKey != "" {
		r.APIKey = apiKey
	}
	return r
}

func (h *IngestHandler) submit(c *gin.Context) {
	apiKey, body, ok := h.readSigned(c)
	if !ok {
		return
	}
	var r report.ErrorReport
	if err := json.Unmarshal(body, &r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	id, err := h.svc.Ingest(c.Request.Context(), withHeaderKey(r, apiKey))
	switch {
	case errors.Is(err, ingest.ErrInvalidReport):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
	case errors.Is(err, ingest.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	case errors.Is(err, ingest.ErrIgnored):
		c.JSON(http.StatusAccepted, gin.H{"success": true, "status": "ignored"})
	case err != nil:
		h.log.Error().Err(err).Str("project_id", r.ProjectID).Msg("ingest error report")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process error"})
	default:
		c.JSON(http.StatusAccepted, gin.H{"success": true, "errorId": id, "message": "Error received"})
	}
}

func (h *IngestHandler) submitBatch(c *gin.Context) {
	apiKey, body, ok := h.readSigned(c)
	if !ok {
		return
	}
	var batch report.Batch
	if err := json.Unmarshal(body, &batch); err != nil || batch.Errors == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	reports := make([]report.ErrorReport, len(batch.Errors))
	for i, r := range batch.Errors {
		reports[i] = withHeaderKey(r, apiKey)
	}
	accepted := h.svc.IngestBatch(c.Request.Context(), reports)
	c.JSON(http.StatusAccepted, gin.H{
		"success":  true,
		"count":    len(reports),
		"accepted": accepted,
		"message":  "Batch received",
	})
}
