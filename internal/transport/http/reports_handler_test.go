package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adminreports/internal/config"
	apierrors "adminreports/internal/errors"
	"adminreports/internal/exporter"
	"adminreports/internal/operations"
	"adminreports/internal/shared/testutil"
	"adminreports/internal/source"
	api "adminreports/pkg/contracts/api/v1"
	"adminreports/pkg/contracts/domain"
	"adminreports/pkg/contracts/events"
)

var reportDay = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

type server struct {
	router   chi.Router
	manager  *operations.Manager
	upstream *testutil.Upstream
}

func newServer(t *testing.T, cfg ReportsHandlerConfig) *server {
	t.Helper()
	up := testutil.NewUpstream(t)
	logger, _ := testutil.NewTestLogger(t)

	svc, err := source.NewService(config.SourceConfig{
		BaseURL:           up.URL(),
		PageSize:          100,
		Timeout:           5 * time.Second,
		EnrichDetails:     true,
		EnrichConcurrency: 2,
		PaymentsPath:      testutil.PaymentsPath,
		UsersPath:         testutil.UsersPath,
		UserDetailPath:    testutil.UserDetailPath,
	}, source.WithLogger(logger))
	require.NoError(t, err)

	sink := exporter.NewMemorySink()
	registry := operations.NewRegistry()
	require.NoError(t, operations.RegisterReportSteps(registry, operations.StepDeps{
		Source:   svc,
		Renderer: exporter.NewWorkbookRenderer(time.UTC, func() time.Time { return reportDay }),
		Sink:     sink,
		Location: time.UTC,
		Logger:   logger,
	}))
	m := operations.NewManager(nil, registry, operations.NewConfig(), operations.WithLogger(logger))
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	h := NewReportsHandler(m, sink, apierrors.NewErrorHandler(logger, false), cfg, logger)
	r := chi.NewRouter()
	r.Mount("/api/reports/runs", h.Routes())

	return &server{router: r, manager: m, upstream: up}
}

func (s *server) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestReportsHandler_RunLifecycle(t *testing.T) {
	s := newServer(t, ReportsHandlerConfig{})
	origin := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.upstream.SetPayments(testutil.PaymentRecords(250, 10, origin))
	s.upstream.SetUsers(testutil.UserRecords(10, origin))

	rec := s.do(t, http.MethodPost, "/api/reports/runs", `{"kind":"payments","chunk_size":100}`, testutil.UpstreamToken)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	started := decodeBody[api.StartRunResponse](t, rec)
	id := started.Run.ID
	require.NotEmpty(t, id)
	assert.Equal(t, "/api/reports/runs/"+id, rec.Header().Get("Location"))
	assert.Equal(t, domain.ReportKindPayments, started.Run.Kind)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done, err := s.manager.Wait(ctx, id)
	require.NoError(t, err)
	require.Equal(t, operations.OperationStatusCompleted, done.Status, done.Error)

	rec = s.do(t, http.MethodGet, "/api/reports/runs/"+id, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	run := decodeBody[api.RunResponse](t, rec)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, 250, run.Records)
	require.Len(t, run.Artifacts, 3)
	assert.Equal(t, "payments_report_2024-03-15_part1.xlsx", run.Artifacts[0].FileName)

	rec = s.do(t, http.MethodGet, "/api/reports/runs/"+id+"/artifacts/payments_report_2024-03-15_part1.xlsx", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "payments_report_2024-03-15_part1.xlsx")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "PK"), "xlsx is a zip archive")

	rec = s.do(t, http.MethodGet, "/api/reports/runs/"+id+"/artifacts/other.xlsx", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/reports/runs?limit=5", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[api.RunListResponse](t, rec)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, id, list.Runs[0].ID)

	rec = s.do(t, http.MethodPost, "/api/reports/runs/"+id+"/cancel", "", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "finished runs cannot be cancelled")

	rec = s.do(t, http.MethodGet, "/api/reports/runs/current", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportsHandler_FallbackToken(t *testing.T) {
	s := newServer(t, ReportsHandlerConfig{FallbackToken: testutil.UpstreamToken, DefaultChunkSize: 2})
	origin := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.upstream.SetPayments(testutil.PaymentRecords(3, 3, origin))
	s.upstream.SetUsers(testutil.UserRecords(3, origin))

	rec := s.do(t, http.MethodPost, "/api/reports/runs", `{"kind":"users"}`, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	started := decodeBody[api.StartRunResponse](t, rec)
	assert.Equal(t, domain.ChunkSize(2), started.Run.Config.ChunkSize)

	done, err := s.manager.Wait(context.Background(), started.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, operations.OperationStatusCompleted, done.Status, done.Error)
	assert.Len(t, done.Artifacts, 2)
}

func TestReportsHandler_StartRejections(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		token      string
		wantStatus int
		wantType   string
	}{
		{"missing token", `{"kind":"payments"}`, "", http.StatusUnauthorized, apierrors.TypeUnauthenticated},
		{"unknown kind", `{"kind":"invoices"}`, "t", http.StatusBadRequest, apierrors.TypeValidation},
		{"bad date", `{"kind":"payments","date_start":"15.03.2024"}`, "t", http.StatusBadRequest, apierrors.TypeValidation},
		{"reversed range", `{"kind":"payments","date_start":"2024-02-01","date_end":"2024-01-01"}`, "t", http.StatusBadRequest, apierrors.TypeInvalidConfig},
		{"invalid config before token", `{"kind":"payments","date_start":"2024-02-01","date_end":"2024-01-01"}`, "", http.StatusBadRequest, apierrors.TypeInvalidConfig},
		{"malformed json", `{"kind":`, "t", http.StatusBadRequest, apierrors.TypeValidation},
		{"negative chunk", `{"kind":"users","chunk_size":-1}`, "t", http.StatusBadRequest, apierrors.TypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t, ReportsHandlerConfig{})
			rec := s.do(t, http.MethodPost, "/api/reports/runs", tt.body, tt.token)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			problem := decodeBody[map[string]interface{}](t, rec)
			assert.Equal(t, tt.wantType, problem["type"])
			assert.Empty(t, s.upstream.Requests("/"), "nothing is fetched")
		})
	}
}

// fakeRuns is a RunService with canned answers
type fakeRuns struct {
	startErr  error
	cancelErr error
	current   *operations.RunRecord
	snapshot  *events.OperationSnapshot
	listLimit int
	cancelled string
}

func (f *fakeRuns) Start(_ context.Context, req operations.RunRequest) (*operations.RunRecord, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &operations.RunRecord{ID: "run-1", Kind: req.Config.Kind, Config: req.Config, Status: operations.OperationStatusRunning}, nil
}

func (f *fakeRuns) Cancel(_ context.Context, id string) error {
	f.cancelled = id
	return f.cancelErr
}

func (f *fakeRuns) Get(_ context.Context, id string) (*operations.RunRecord, error) {
	return nil, operations.ErrOperationNotFound
}

func (f *fakeRuns) List(_ context.Context, limit int) ([]*operations.RunRecord, error) {
	f.listLimit = limit
	return nil, nil
}

func (f *fakeRuns) Current() (*operations.RunRecord, bool) {
	return f.current, f.current != nil
}

func (f *fakeRuns) Snapshot(id string) (*events.OperationSnapshot, bool) {
	return f.snapshot, f.snapshot != nil
}

func fakeRouter(t *testing.T, runs *fakeRuns) chi.Router {
	logger, _ := testutil.NewTestLogger(t)
	h := NewReportsHandler(runs, nil, nil, ReportsHandlerConfig{}, logger)
	r := chi.NewRouter()
	r.Mount("/api/reports/runs", h.Routes())
	return r
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "bearer abc")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestReportsHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		runs       *fakeRuns
		method     string
		path       string
		body       string
		wantStatus int
		wantType   string
	}{
		{"run in progress", &fakeRuns{startErr: operations.ErrRunInProgress}, http.MethodPost, "/api/reports/runs", `{"kind":"users"}`, http.StatusConflict, apierrors.TypeRunInProgress},
		{"unknown run", &fakeRuns{}, http.MethodGet, "/api/reports/runs/nope", "", http.StatusNotFound, apierrors.TypeRunNotFound},
		{"cancel unknown", &fakeRuns{cancelErr: operations.ErrOperationNotFound}, http.MethodPost, "/api/reports/runs/nope/cancel", "", http.StatusNotFound, apierrors.TypeRunNotFound},
		{"cancel finished", &fakeRuns{cancelErr: operations.ErrOperationNotRunning}, http.MethodPost, "/api/reports/runs/done/cancel", "", http.StatusConflict, apierrors.TypeRunNotRunning},
		{"no current run", &fakeRuns{}, http.MethodGet, "/api/reports/runs/current", "", http.StatusNotFound, apierrors.TypeRunNotFound},
		{"bad limit", &fakeRuns{}, http.MethodGet, "/api/reports/runs?limit=0", "", http.StatusBadRequest, apierrors.TypeValidation},
		{"artifact without reader", &fakeRuns{}, http.MethodGet, "/api/reports/runs/nope/artifacts/a.xlsx", "", http.StatusNotFound, apierrors.TypeRunNotFound},
		{"source unavailable", &fakeRuns{startErr: operations.NewSourceUnavailableError(operations.StepIDFetch, errors.New("503"))}, http.MethodPost, "/api/reports/runs", `{"kind":"payments"}`, http.StatusBadGateway, apierrors.TypeSourceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(fakeRouter(t, tt.runs), tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantType, decodeBody[map[string]interface{}](t, rec)["type"])
		})
	}
}

func TestReportsHandler_Success(t *testing.T) {
	runs := &fakeRuns{
		current:  &operations.RunRecord{ID: "run-7", Status: operations.OperationStatusRunning},
		snapshot: &events.OperationSnapshot{OperationID: "run-7", Progress: 45, Phase: "joining"},
	}
	r := fakeRouter(t, runs)

	rec := serve(r, http.MethodGet, "/api/reports/runs/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeBody[events.OperationSnapshot](t, rec)
	assert.Equal(t, 45, snap.Progress)

	rec = serve(r, http.MethodPost, "/api/reports/runs/run-7/cancel", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "run-7", runs.cancelled)

	rec = serve(r, http.MethodGet, "/api/reports/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultListLimit, runs.listLimit)
	assert.Equal(t, 0, decodeBody[api.RunListResponse](t, rec).Count)

	rec = serve(r, http.MethodPost, "/api/reports/runs", `{"kind":"combined","search":"  alice  ","status_filter":"COMPLETED"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	started := decodeBody[api.StartRunResponse](t, rec)
	assert.Equal(t, "alice", started.Run.Config.Search)
	assert.Equal(t, "completed", started.Run.Config.StatusFilter)
	assert.Equal(t, int64(45), int64(started.Snapshot.Progress))
}
