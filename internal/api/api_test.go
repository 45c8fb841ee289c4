package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiny-errors/internal/analytics"
	"tiny-errors/internal/auth"
	"tiny-errors/internal/httpx"
	"tiny-errors/internal/ingest"
	"tiny-errors/internal/model"
	"tiny-errors/internal/pipeline"
	"tiny-errors/internal/store"
	"tiny-errors/pkg/fingerprint"
	"tiny-errors/pkg/report"
)

const (
	demoProject = "demo-project"
	demoKey     = "demo-key-12345"
	signedKey   = "signed-key"
	secret      = "shh"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

type server struct {
	router *gin.Engine
	store  *store.Store
}

func newServer(t *testing.T) *server {
	t.Helper()
	db, err := store.Open(store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(db) })
	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx, db))
	st := store.New(db)
	require.NoError(t, st.Projects.Upsert(ctx, &model.Project{ID: demoProject, Name: "Demo", APIKey: demoKey}))
	require.NoError(t, st.Projects.Upsert(ctx, &model.Project{ID: "signed", Name: "Signed", APIKey: signedKey, HMACSecret: secret}))

	log := zerolog.Nop()
	clock := func() time.Time { return testNow }
	authz := auth.NewAuthorizer(st.Projects, nil, time.Minute)
	svc := ingest.NewService(st, authz, log, ingest.WithClock(clock))
	reg := prometheus.NewRegistry()

	router := NewEngine(EngineConfig{
		Logger:   log,
		Metrics:  httpx.NewHTTPMetrics(reg, "test"),
		Gatherer: reg,
		Health:   func(ctx context.Context) error { return store.Ping(ctx, db) },
	})
	NewIngestHandler(svc, authz, log).Register(router)
	NewQueryHandler(st, authz,
		analytics.NewTrendAnalyzer(st.Groups, st.Occurrences, clock, log),
		analytics.NewRageClickAggregator(st.Occurrences, log),
		log,
	).Register(router)
	return &server{router: router, store: st}
}

func (s *server) do(t *testing.T, method, path, key string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case []byte:
			buf.Write(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(httpx.APIKeyHeader, key)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

const stack = "TypeError: x is null\n    at f (app.js:10:5)"

func errorReport(ts int64) report.ErrorReport {
	return report.ErrorReport{
		ProjectID: demoProject,
		APIKey:    demoKey,
		Error: report.ErrorContext{
			Message:   "x is null",
			Stack:     stack,
			Type:      "TypeError",
			URL:       "https://shop.example.com/",
			UserAgent: "Mozilla/5.0 Chrome/120.0",
			Timestamp: ts,
		},
		SDKVersion: "1.0.0",
	}
}

type submitResponse struct {
	Success  bool   `json:"success"`
	ErrorID  string `json:"errorId"`
	Count    int    `json:"count"`
	Accepted int    `json:"accepted"`
}

func TestSubmitAndQueryGroup(t *testing.T) {
	s := newServer(t)
	base := testNow.Add(-time.Hour).UnixMilli()

	w := s.do(t, http.MethodPost, "/api/errors", demoKey, errorReport(base))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	first := decode[submitResponse](t, w)
	assert.True(t, first.Success)
	require.NotEmpty(t, first.ErrorID)

	w = s.do(t, http.MethodPost, "/api/errors", demoKey, errorReport(base+1000))
	require.Equal(t, http.StatusAccepted, w.Code)

	fp := fingerprint.Server("TypeError", "x is null", stack)

	w = s.do(t, http.MethodGet, "/api/projects/demo-project/error-groups", demoKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	groups := decode[model.Page[model.ErrorGroup]](t, w)
	require.Len(t, groups.Data, 1)
	assert.EqualValues(t, 1, groups.Total)
	assert.Equal(t, fp, groups.Data[0].Fingerprint)
	assert.EqualValues(t, 2, groups.Data[0].Count)
	assert.Equal(t, base, groups.Data[0].FirstSeen)
	assert.Equal(t, base+1000, groups.Data[0].LastSeen)

	w = s.do(t, http.MethodGet, "/api/projects/demo-project/error-groups/"+fp, demoKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[model.ErrorDetail](t, w)
	require.NotNil(t, detail.Error)
	assert.Equal(t, base+1000, detail.Error.OccurredAt)
	assert.Len(t, detail.Similar, 1)
	require.NotNil(t, detail.Group)
	assert.EqualValues(t, 2, detail.Group.Count)

	w = s.do(t, http.MethodGet, "/api/errors/"+first.ErrorID, demoKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail = decode[model.ErrorDetail](t, w)
	assert.Equal(t, first.ErrorID, detail.Error.ID)
	assert.Len(t, detail.Similar, 2)

	w = s.do(t, http.MethodGet, "/api/projects/demo-project/trends", demoKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	trends := decode[struct {
		Data []model.TrendAnalysis `json:"data"`
	}](t, w)
	require.Len(t, trends.Data, 1)
	assert.EqualValues(t, 2, trends.Data[0].CurrentCount)
	assert.EqualValues(t, 100, trends.Data[0].TrendPercentage)
	assert.False(t, trends.Data[0].IsSpiking)
	require.Len(t, trends.Data[0].Trend, 24)
	assert.EqualValues(t, 2, trends.Data[0].Trend[23].Count)
}

func TestSubmitRejections(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodPost, "/api/errors", "", errorReport(1))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/errors", "unknown-key", errorReport(1))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	bad := errorReport(1)
	bad.Error.URL = ""
	w = s.do(t, http.MethodPost, "/api/errors", demoKey, bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/errors", demoKey, []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	other := errorReport(1)
	other.ProjectID = "signed"
	w = s.do(t, http.MethodPost, "/api/errors", demoKey, other)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubmitRequiresSignatureWhenProjectHasSecret(t *testing.T) {
	s := newServer(t)
	r := errorReport(1)
	r.ProjectID = "signed"
	r.APIKey = signedKey
	body, err := json.Marshal(r)
	require.NoError(t, err)

	w := s.do(t, http.MethodPost, "/api/errors", signedKey, body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/errors", signedKey, body, httpx.SignatureHeader, "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/errors", signedKey, body, httpx.SignatureHeader, auth.ComputeSignature(secret, body))
	assert.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
}

func TestSubmitBatch(t *testing.T) {
	s := newServer(t)
	invalid := errorReport(2)
	invalid.Error.Message = ""
	foreign := errorReport(3)
	foreign.ProjectID = "signed"

	w := s.do(t, http.MethodPost, "/api/errors/batch", demoKey, report.Batch{Errors: []report.ErrorReport{
		errorReport(1), invalid, foreign, errorReport(4),
	}})
	require.Equal(t, http.StatusAccepted, w.Code)
	resp := decode[submitResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, 4, resp.Count)
	assert.Equal(t, 2, resp.Accepted)

	w = s.do(t, http.MethodPost, "/api/errors/batch", demoKey, map[string]any{"nope": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitIsIdempotentOnEventID(t *testing.T) {
	s := newServer(t)
	r := errorReport(1000)
	r.EventID = "evt-1"

	want := pipeline.OccurrenceID(demoProject, "evt-1")
	for i := 0; i < 2; i++ {
		w := s.do(t, http.MethodPost, "/api/errors", demoKey, r)
		require.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, want, decode[submitResponse](t, w).ErrorID)
	}
	g, err := s.store.Groups.Find(context.Background(), demoProject, fingerprint.Server("TypeError", "x is null", stack))
	require.NoError(t, err)
	assert.EqualValues(t, 1, g.Count)
}

func TestListErrorsPaging(t *testing.T) {
	s := newServer(t)
	for i := 0; i < 5; i++ {
		w := s.do(t, http.MethodPost, "/api/errors", demoKey, errorReport(int64(1000+i)))
		require.Equal(t, http.StatusAccepted, w.Code)
	}

	w := s.do(t, http.MethodGet, "/api/projects/demo-project/errors?limit=2&offset=1", demoKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[model.Page[model.ErrorData]](t, w)
	assert.EqualValues(t, 5, page.Total)
	assert.Equal(t, 2, page.Limit)
	assert.Equal(t, 1, page.Offset)
	require.Len(t, page.Data, 2)
	assert.EqualValues(t, 1003, page.Data[0].OccurredAt)

	w = s.do(t, http.MethodGet, "/api/projects/demo-project/errors?limit=1000", demoKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 100, decode[model.Page[model.ErrorData]](t, w).Limit)
}

func TestQueryAuthorization(t *testing.T) {
	s := newServer(t)
	for _, path := range []string{
		"/api/projects/demo-project/errors",
		"/api/projects/demo-project/error-groups",
		"/api/projects/demo-project/error-groups/123",
		"/api/projects/demo-project/trends",
		"/api/projects/demo-project/rage-clicks",
	} {
		assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, path, "", nil).Code, path)
		assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, path, signedKey, nil).Code, path)
		assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, path, "nope", nil).Code, path)
	}
}

func TestNotFound(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/errors/missing", demoKey, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/projects/demo-project/error-groups/123", demoKey, nil).Code)
}

func TestErrorDetailHidesOtherProjectsOccurrences(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodPost, "/api/errors", demoKey, errorReport(1))
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode[submitResponse](t, w).ErrorID

	foreign := s.do(t, http.MethodGet, "/api/errors/"+id, signedKey, nil)
	missing := s.do(t, http.MethodGet, "/api/errors/missing", signedKey, nil)
	assert.Equal(t, http.StatusNotFound, foreign.Code)
	assert.Equal(t, missing.Code, foreign.Code)
	assert.JSONEq(t, missing.Body.String(), foreign.Body.String())

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/errors/"+id, "nope", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/errors/missing", "nope", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/errors/"+id, demoKey, nil).Code)
}

func TestRageClicks(t *testing.T) {
	s := newServer(t)
	r := errorReport(1)
	r.Error.Breadcrumbs = []report.Breadcrumb{
		{Category: report.CategoryUserInteraction, Message: "Rage clicked on button#buy", Timestamp: 50, Level: report.LevelWarning,
			Data: map[string]any{"element": "button#buy", "isRageClick": true, "clickCount": 3}},
		{Category: report.CategoryUserInteraction, Message: "Clicked on a.home", Timestamp: 60, Level: report.LevelInfo,
			Data: map[string]any{"element": "a.home", "isRageClick": false}},
	}
	w := s.do(t, http.MethodPost, "/api/errors", demoKey, r)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = s.do(t, http.MethodGet, "/api/projects/demo-project/rage-clicks", demoKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode[struct {
		Data []model.RageClick `json:"data"`
	}](t, w)
	require.Len(t, out.Data, 1)
	assert.Equal(t, model.RageClick{Element: "button#buy", Count: 1, LastSeen: 50}, out.Data[0])
}

func TestProjectMe(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodGet, "/api/projects/me", demoKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"demo-project"`)
	assert.NotContains(t, w.Body.String(), demoKey)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/projects/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/projects/me", "nope", nil).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}
