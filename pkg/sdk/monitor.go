// Package sdk captures errors and user activity inside an application and
// ships them to the ingestion API in batches.
//
// A Monitor is constructed once at startup and passed to whatever needs to
// report errors; there is no package-level instance.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tiny-errors/pkg/fingerprint"
	"tiny-errors/pkg/report"
)

// Version is reported as sdkVersion on every report.
const Version = "1.0.0"

const maxStackDepth = 32

// Config configures a Monitor.
type Config struct {
	ProjectID   string
	APIKey      string
	Endpoint    string
	Environment string
	// Secret signs request bodies when the project requires signatures.
	Secret string
	// URL is reported until the first navigation is captured.
	URL       string
	UserAgent string
	Debug     bool

	BatchSize     int
	FlushInterval time.Duration
	HTTPClient    *http.Client
	Logger        *zerolog.Logger
	Clock         func() time.Time
}

// Monitor is the process-wide capture context.
type Monitor struct {
	cfg       Config
	log       zerolog.Logger
	recorder  *Recorder
	queue     *Queue
	transport *Transport
	enabled   atomic.Bool
	url       atomic.Value
	inflight  sync.WaitGroup
	now       func() time.Time

	// lifecycle orders captures against Close: queue adds happen under the
	// read lock, Close flips closed under the write lock.
	lifecycle sync.RWMutex
	closed    bool
}

// New validates cfg, starts the delivery queue and returns the Monitor.
func New(cfg Config) (*Monitor, error) {
	if cfg.ProjectID == "" || cfg.APIKey == "" || cfg.Endpoint == "" {
		return nil, errors.New("sdk: project id, api key and endpoint are required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.URL == "" {
		cfg.URL = "app://localhost"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = fmt.Sprintf("tiny-errors-go/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	log = log.With().Str("component", "error-monitor").Logger()

	m := &Monitor{
		cfg:       cfg,
		log:       log,
		recorder:  NewRecorder(WithClock(cfg.Clock)),
		queue:     NewQueue(cfg.BatchSize, cfg.FlushInterval),
		transport: NewTransport(cfg.Endpoint, cfg.Secret, cfg.HTTPClient, log),
		now:       cfg.Clock,
	}
	m.enabled.Store(true)
	m.url.Store(cfg.URL)
	m.queue.Start(m.deliver)
	if cfg.Debug {
		log.Debug().Str("project_id", cfg.ProjectID).Str("endpoint", cfg.Endpoint).Msg("initialized")
	}
	return m, nil
}

// Recorder exposes the breadcrumb recorder for instrumentation hooks.
func (m *Monitor) Recorder() *Recorder {
	return m.recorder
}

// AddBreadcrumb records a custom breadcrumb.
func (m *Monitor) AddBreadcrumb(b report.Breadcrumb) {
	if b.Timestamp == 0 {
		b.Timestamp = m.now().UnixMilli()
	}
	m.recorder.AddBreadcrumb(b)
}

// CaptureClick forwards a click to the recorder.
func (m *Monitor) CaptureClick(ev ClickEvent) bool {
	return m.recorder.CaptureClick(ev)
}

// CaptureNavigation records a navigation and makes url the reported location.
func (m *Monitor) CaptureNavigation(url string) {
	m.url.Store(url)
	m.recorder.CaptureNavigation(url)
}

// SetEnabled toggles capturing without tearing the monitor down.
func (m *Monitor) SetEnabled(enabled bool) {
	m.enabled.Store(enabled)
}

// CaptureException queues a report for err.
func (m *Monitor) CaptureException(err error) {
	if err == nil {
		return
	}
	m.capture(errorType(err), err.Error(), 4)
}

// CaptureMessage queues a report for a plain message. The error type is the
// capitalized level.
func (m *Monitor) CaptureMessage(message string, level report.Level) {
	if level == "" {
		level = report.LevelInfo
	}
	m.capture(capitalize(string(level)), message, 4)
}

func (m *Monitor) capture(typ, message string, skip int) {
	if !m.enabled.Load() {
		return
	}
	stack := buildStack(typ, message, skip)
	r := report.ErrorReport{
		EventID:   uuid.NewString(),
		ProjectID: m.cfg.ProjectID,
		APIKey:    m.cfg.APIKey,
		Error: report.ErrorContext{
			Message:     message,
			Stack:       stack,
			Type:        typ,
			URL:         m.url.Load().(string),
			UserAgent:   m.cfg.UserAgent,
			Timestamp:   m.now().UnixMilli(),
			Breadcrumbs: m.recorder.Breadcrumbs(),
			Fingerprint: fingerprint.Client(typ, message, stack),
		},
		SDKVersion:  Version,
		Environment: m.cfg.Environment,
	}
	if m.cfg.Debug {
		m.log.Debug().
			Str("type", typ).
			Str("fingerprint", r.Error.Fingerprint).
			Int("breadcrumbs", len(r.Error.Breadcrumbs)).
			Msg("captured error")
	}
	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()
	if m.closed {
		return
	}
	m.queue.Add(r)
}

func (m *Monitor) deliver(reports []report.ErrorReport) {
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		m.transport.Deliver(context.Background(), reports)
	}()
}

// Flush hands buffered reports to the transport without waiting.
func (m *Monitor) Flush() {
	m.lifecycle.RLock()
	defer m.lifecycle.RUnlock()
	if m.closed {
		return
	}
	m.queue.Flush()
}

// Close stops the queue, drains it and waits for in-flight deliveries.
func (m *Monitor) Close() {
	m.lifecycle.Lock()
	if m.closed {
		m.lifecycle.Unlock()
		return
	}
	m.closed = true
	m.lifecycle.Unlock()
	m.queue.Stop()
	m.inflight.Wait()
	m.recorder.Clear()
}

// typed lets callers control the reported error type.
type typed interface {
	ErrorType() string
}

func errorType(err error) string {
	var t typed
	if errors.As(err, &t) {
		return t.ErrorType()
	}
	rt := reflect.TypeOf(err)
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	name := rt.Name()
	if name == "" || !unicode.IsUpper([]rune(name)[0]) {
		return "Error"
	}
	return name
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// buildStack renders the stack in the "at fn (file:line:col)" frame format
// understood by the fingerprint parser. skip is passed to runtime.Callers;
// runtime frames (panic machinery) are left out.
func buildStack(typ, message string, skip int) string {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var sb strings.Builder
	sb.WriteString(typ)
	sb.WriteString(": ")
	sb.WriteString(message)
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !strings.HasPrefix(frame.Function, "runtime.") {
			sb.WriteString("\n    at ")
			sb.WriteString(frame.Function)
			sb.WriteString(" (")
			sb.WriteString(frame.File)
			sb.WriteString(":")
			sb.WriteString(strconv.Itoa(frame.Line))
			sb.WriteString(":0)")
		}
		if !more {
			break
		}
	}
	return sb.String()
}
