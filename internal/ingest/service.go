// Package ingest validates, authorizes, fingerprints and records error
// reports.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"tiny-errors/internal/model"
	"tiny-errors/internal/pipeline"
	"tiny-errors/internal/util"
	"tiny-errors/pkg/fingerprint"
	"tiny-errors/pkg/report"
)

var (
	// ErrInvalidReport is returned for reports missing required fields.
	ErrInvalidReport = errors.New("invalid error report")
	// ErrUnauthorized is returned when the API key does not own the project.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrIgnored is returned for reports sent by denylisted user agents.
	ErrIgnored = errors.New("report ignored")
)

// Recorder persists an occurrence together with its group aggregate.
type Recorder interface {
	RecordOccurrence(ctx context.Context, occ *model.ErrorData) (inserted bool, err error)
}

// Authorizer answers whether an API key may write to a project.
type Authorizer interface {
	VerifyProjectAccess(ctx context.Context, apiKey, projectID string) (bool, error)
}

// Publisher forwards recorded occurrences downstream.
type Publisher interface {
	PublishOccurrence(ctx context.Context, msg model.OccurrenceMessage) error
}

// Metrics counts ingestion outcomes.
type Metrics struct {
	Accepted   prometheus.Counter
	Duplicates prometheus.Counter
	Rejected   *prometheus.CounterVec
}

// NewMetrics registers the ingestion counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Accepted: f.NewCounter(prometheus.CounterOpts{
			Name: "ingest_occurrences_accepted_total",
			Help: "Occurrences recorded",
		}),
		Duplicates: f.NewCounter(prometheus.CounterOpts{
			Name: "ingest_occurrences_duplicate_total",
			Help: "Re-delivered occurrences that were already recorded",
		}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_reports_rejected_total",
			Help: "Reports not recorded, by reason",
		}, []string{"reason"}),
	}
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher forwards every newly recorded occurrence to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithBotFilter drops reports whose user agent contains any of fragments.
func WithBotFilter(fragments []string) Option {
	return func(s *Service) { s.botUAs = fragments }
}

// WithClock overrides the time source used for reports without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics records outcome counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service is the ingestion entry point shared by the single and batch
// endpoints.
type Service struct {
	recorder  Recorder
	authz     Authorizer
	publisher Publisher
	botUAs    []string
	now       func() time.Time
	metrics   *Metrics
	log       zerolog.Logger
}

// NewService builds a Service.
func NewService(recorder Recorder, authz Authorizer, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		recorder: recorder,
		authz:    authz,
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks the fields every report must carry.
func Validate(r report.ErrorReport) error {
	switch {
	case r.ProjectID == "":
		return fmt.Errorf("%w: projectId is required", ErrInvalidReport)
	case r.APIKey == "":
		return fmt.Errorf("%w: apiKey is required", ErrInvalidReport)
	case r.Error.Message == "":
		return fmt.Errorf("%w: error.message is required", ErrInvalidReport)
	case r.Error.URL == "":
		return fmt.Errorf("%w: error.url is required", ErrInvalidReport)
	}
	return nil
}

// Ingest records one report and returns the occurrence id. Re-delivering a
// report with the same event id returns that id without counting it again.
func (s *Service) Ingest(ctx context.Context, r report.ErrorReport) (string, error) {
	if err := Validate(r); err != nil {
		s.reject("invalid")
		return "", err
	}
	ok, err := s.authz.VerifyProjectAccess(ctx, r.APIKey, r.ProjectID)
	if err != nil {
		s.reject("auth_error")
		return "", fmt.Errorf("verify project access: %w", err)
	}
	if !ok {
		s.reject("unauthorized")
		return "", ErrUnauthorized
	}
	if util.IsBot(r.Error.UserAgent, s.botUAs) {
		s.reject("bot")
		return "", ErrIgnored
	}

	occ, err := pipeline.Normalize(r, s.now().UnixMilli())
	if err != nil {
		s.reject("invalid")
		return "", fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	inserted, err := s.recorder.RecordOccurrence(ctx, &occ)
	if err != nil {
		s.reject("store_error")
		return "", fmt.Errorf("record occurrence: %w", err)
	}
	logger := s.log.With().
		Str("project_id", occ.ProjectID).
		Str("fingerprint", occ.Fingerprint).
		Str("error_id", occ.ID).
		Logger()
	if !inserted {
		if s.metrics != nil {
			s.metrics.Duplicates.Inc()
		}
		logger.Debug().Msg("duplicate occurrence ignored")
		return occ.ID, nil
	}
	if s.metrics != nil {
		s.metrics.Accepted.Inc()
	}
	logger.Debug().Msg("occurrence recorded")

	if s.publisher != nil {
		msg := model.OccurrenceMessage{
			ErrorData:         occ,
			ClientFingerprint: clientFingerprint(r),
		}
		if err := s.publisher.PublishOccurrence(ctx, msg); err != nil {
			logger.Warn().Err(err).Msg("publish occurrence")
		}
	}
	return occ.ID, nil
}

// IngestBatch ingests each report independently and returns how many were
// recorded. Failures are logged and skipped.
func (s *Service) IngestBatch(ctx context.Context, reports []report.ErrorReport) int {
	accepted := 0
	for i, r := range reports {
		if _, err := s.Ingest(ctx, r); err != nil {
			if !errors.Is(err, ErrIgnored) {
				s.log.Warn().Err(err).Int("index", i).Str("project_id", r.ProjectID).Msg("batch report skipped")
			}
			continue
		}
		accepted++
	}
	return accepted
}

func (s *Service) reject(reason string) {
	if s.metrics != nil {
		s.metrics.Rejected.WithLabelValues(reason).Inc()
	}
}

func clientFingerprint(r report.ErrorReport) string {
	if r.Error.Fingerprint != "" {
		return r.Error.Fingerprint
	}
	errType := r.Error.Type
	if errType == "" {
		errType = pipeline.DefaultErrorType
	}
	return fingerprint.Client(errType, r.Error.Message, r.Error.Stack)
}
