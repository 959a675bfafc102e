package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adminreports/internal/config"
	"adminreports/internal/exporter"
	"adminreports/internal/shared/testutil"
	"adminreports/internal/source"
	"adminreports/pkg/contracts/domain"
	"adminreports/pkg/contracts/events"
)

var (
	reportDay  = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	dataOrigin = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

type harness struct {
	manager  *Manager
	upstream *testutil.Upstream
	sink     *exporter.MemorySink
	logs     *testutil.BufferedSlogHandler
	hub      *recordingHub
	progress *recordingReporter
}

type harnessOption func(*StepDeps)

func withSink(s Sink) harnessOption {
	return func(d *StepDeps) { d.Sink = s }
}

func withSource(s Source) harnessOption {
	return func(d *StepDeps) { d.Source = s }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	up := testutil.NewUpstream(t)
	logger, logs := testutil.NewTestLogger(t)

	svc, err := source.NewService(config.SourceConfig{
		BaseURL:           up.URL(),
		PageSize:          100,
		Timeout:           5 * time.Second,
		EnrichDetails:     true,
		EnrichConcurrency: 4,
		PaymentsPath:      testutil.PaymentsPath,
		UsersPath:         testutil.UsersPath,
		UserDetailPath:    testutil.UserDetailPath,
	}, source.WithLogger(logger))
	require.NoError(t, err)

	sink := exporter.NewMemorySink()
	deps := StepDeps{
		Source:   svc,
		Renderer: exporter.NewWorkbookRenderer(time.UTC, func() time.Time { return reportDay }),
		Sink:     sink,
		Location: time.UTC,
		Logger:   logger,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	registry := NewRegistry()
	require.NoError(t, RegisterReportSteps(registry, deps))

	hub := &recordingHub{}
	progress := &recordingReporter{}
	m := NewManager(hub, registry, NewConfig(), WithLogger(logger), WithReporter(progress))
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	return &harness{manager: m, upstream: up, sink: sink, logs: logs, hub: hub, progress: progress}
}

func (h *harness) seed(payments, users int) {
	h.upstream.SetPayments(testutil.PaymentRecords(payments, users, dataOrigin))
	h.upstream.SetUsers(testutil.UserRecords(users, dataOrigin))
}

func paymentsRequest(chunk int) RunRequest {
	return RunRequest{
		Config: domain.ReportConfig{Kind: domain.ReportKindPayments, ChunkSize: domain.ChunkSize(chunk)},
		Token:  testutil.UpstreamToken,
	}
}

type recordingHub struct {
	mu        sync.Mutex
	snapshots []events.OperationSnapshot
}

func (h *recordingHub) BroadcastUpdate(eventType, step, status string, metadata interface{}) {
	if snap, ok := metadata.(*events.OperationSnapshot); ok {
		h.mu.Lock()
		h.snapshots = append(h.snapshots, *snap)
		h.mu.Unlock()
	}
}

func (h *recordingHub) last() events.OperationSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshots[len(h.snapshots)-1]
}

func (h *recordingHub) phases() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, s := range h.snapshots {
		if len(out) == 0 || out[len(out)-1] != s.Phase {
			out = append(out, s.Phase)
		}
	}
	return out
}

type progressEvent struct {
	stage   string
	percent int
	message string
}

type recordingReporter struct {
	mu     sync.Mutex
	events []progressEvent
}

func (r *recordingReporter) Report(stage string, percent int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, progressEvent{stage, percent, message})
}

func (r *recordingReporter) all() []progressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progressEvent(nil), r.events...)
}

// blockingSource holds the fetch until released or cancelled
type blockingSource struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingSource() *blockingSource {
	return &blockingSource{started: make(chan struct{}), release: make(chan struct{})}
}

func (s *blockingSource) FetchPayments(ctx context.Context, _ string, _ source.PageFunc) ([]domain.RawRecord, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
		return toRaw(testutil.PaymentRecords(3, 1, dataOrigin)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *blockingSource) FetchUsers(context.Context, string, source.PageFunc) ([]domain.RawRecord, error) {
	return toRaw(testutil.UserRecords(1, dataOrigin)), nil
}

func (s *blockingSource) FetchUserDetails(context.Context, string, []string) map[string]domain.RawRecord {
	return map[string]domain.RawRecord{}
}

func toRaw(in []map[string]any) []domain.RawRecord {
	out := make([]domain.RawRecord, len(in))
	for i, r := range in {
		out[i] = domain.RawRecord(r)
	}
	return out
}

func waitStarted(t *testing.T, s *blockingSource) {
	t.Helper()
	select {
	case <-s.started:
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not start")
	}
}

func TestManager_PaymentsScenario(t *testing.T) {
	h := newHarness(t)
	h.seed(250, 10)

	rec, err := h.manager.Run(context.Background(), paymentsRequest(100))
	require.NoError(t, err)

	assert.Equal(t, OperationStatusCompleted, rec.Status)
	assert.Equal(t, PhaseDone, rec.Phase)
	assert.Equal(t, 250, rec.Records)
	require.Len(t, rec.Artifacts, 3)

	wantRecords := []int{100, 100, 50}
	for i, a := range rec.Artifacts {
		assert.Equal(t, fmt.Sprintf("payments_report_2024-03-15_part%d.xlsx", i+1), a.FileName)
		assert.Equal(t, wantRecords[i], a.Records)
		assert.Equal(t, i+1, a.Part)
		assert.Equal(t, 3, a.Parts)
		assert.Nil(t, a.Data)
		assert.NotEmpty(t, a.Checksum)
	}

	assert.Len(t, h.sink.Artifacts(rec.ID), 3)
	// three data pages plus the empty terminating page
	assert.Len(t, h.upstream.Requests(testutil.PaymentsPath), 4)
	assert.Len(t, h.upstream.Requests(testutil.UsersPath), 2)
	// every payment matched a user with a name and email
	assert.Empty(t, h.upstream.Requests(testutil.UserDetailPath))

	stored, err := h.manager.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, OperationStatusCompleted, stored.Status)
	assert.Len(t, stored.Artifacts, 3)

	_, running := h.manager.Current()
	assert.False(t, running)
}

func TestManager_UsersAndCombinedReports(t *testing.T) {
	tests := []struct {
		name      string
		cfg       domain.ReportConfig
		records   int
		artifacts []string
	}{
		{
			name:      "users split in two",
			cfg:       domain.ReportConfig{Kind: domain.ReportKindUsers, ChunkSize: 4},
			records:   6,
			artifacts: []string{"users_report_2024-03-15_part1.xlsx", "users_report_2024-03-15_part2.xlsx"},
		},
		{
			name:      "users with tariff",
			cfg:       domain.ReportConfig{Kind: domain.ReportKindUsers, TariffFilter: domain.TariffFilterWith},
			records:   4,
			artifacts: []string{"users_report_2024-03-15.xlsx"},
		},
		{
			name:      "combined is never chunked",
			cfg:       domain.ReportConfig{Kind: domain.ReportKindCombined, ChunkSize: 2},
			records:   9,
			artifacts: []string{"combined_report_2024-03-15.xlsx"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.seed(3, 6)

			rec, err := h.manager.Run(context.Background(), RunRequest{Config: tt.cfg, Token: testutil.UpstreamToken})
			require.NoError(t, err)
			assert.Equal(t, OperationStatusCompleted, rec.Status)
			assert.Equal(t, tt.records, rec.Records)
			assert.Equal(t, tt.artifacts, rec.ArtifactNames())
		})
	}
}

func TestManager_NoDataAborts(t *testing.T) {
	h := newHarness(t)
	h.seed(20, 5)

	req := paymentsRequest(100)
	req.Config.DateStart = "2030-01-01"

	rec, err := h.manager.Run(context.Background(), req)
	require.Error(t, err)
	assert.True(t, IsType(err, ErrorTypeNoData))

	assert.Equal(t, OperationStatusAborted, rec.Status)
	assert.Equal(t, PhaseAborted, rec.Phase)
	assert.Equal(t, ErrorTypeNoData, rec.ErrorType)
	assert.Empty(t, rec.Artifacts)
	assert.Empty(t, h.sink.Artifacts(rec.ID))

	last := h.hub.last()
	assert.Equal(t, "aborted", last.Status)
	assert.Equal(t, "aborted", last.Phase)
	for _, s := range last.Steps {
		if s.ID == StepIDChunk || s.ID == StepIDRender {
			assert.Equal(t, "skipped", s.Status, s.ID)
		}
	}
	testutil.AssertLogContains(t, h.logs, slog.LevelWarn, "operation_complete")
}

func TestManager_RenderFailureKeepsOtherParts(t *testing.T) {
	sink := &testutil.RecordingSink{Fail: map[int]error{2: errors.New("disk full")}}
	h := newHarness(t, withSink(sink))
	h.seed(250, 10)

	rec, err := h.manager.Run(context.Background(), paymentsRequest(100))
	require.Error(t, err)

	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, ErrorTypeRenderFailure, opErr.Type)
	assert.Equal(t, []int{2}, opErr.Context["failed_parts"])

	assert.Equal(t, OperationStatusFailed, rec.Status)
	assert.Equal(t, ErrorTypeRenderFailure, rec.ErrorType)
	assert.Equal(t, []string{"payments_report_2024-03-15_part1.xlsx", "payments_report_2024-03-15_part3.xlsx"}, rec.ArtifactNames())
	assert.Len(t, sink.Emitted(), 2)
	assert.Equal(t, rec.ArtifactNames(), h.hub.last().Artifacts)
}

func TestManager_RejectsBeforeFetching(t *testing.T) {
	tests := []struct {
		name     string
		req      RunRequest
		wantType ErrorType
	}{
		{"unknown kind", RunRequest{Config: domain.ReportConfig{Kind: "orders"}, Token: "t"}, ErrorTypeInvalidConfig},
		{"reversed dates", RunRequest{Config: domain.ReportConfig{Kind: domain.ReportKindPayments, DateStart: "2024-02-10", DateEnd: "2024-02-01"}, Token: "t"}, ErrorTypeInvalidConfig},
		{"malformed date", RunRequest{Config: domain.ReportConfig{Kind: domain.ReportKindPayments, DateEnd: "01.02.2024"}, Token: "t"}, ErrorTypeInvalidConfig},
		{"negative chunk", RunRequest{Config: domain.ReportConfig{Kind: domain.ReportKindUsers, ChunkSize: -5}, Token: "t"}, ErrorTypeInvalidConfig},
		{"unknown status", RunRequest{Config: domain.ReportConfig{Kind: domain.ReportKindPayments, StatusFilter: "paid"}, Token: "t"}, ErrorTypeInvalidConfig},
		{"invalid config wins over missing token", RunRequest{Config: domain.ReportConfig{Kind: "orders"}}, ErrorTypeInvalidConfig},
		{"missing token", RunRequest{Config: domain.ReportConfig{Kind: domain.ReportKindPayments}}, ErrorTypeUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.seed(5, 2)

			_, err := h.manager.Start(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.wantType, GetErrorType(err))

			assert.Empty(t, h.upstream.Requests("/"))
			runs, err := h.manager.List(context.Background(), 0)
			require.NoError(t, err)
			assert.Empty(t, runs)
		})
	}
}

func TestManager_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(up *testutil.Upstream)
		wantType ErrorType
	}{
		{"rejected token", func(up *testutil.Upstream) { up.SetToken("other") }, ErrorTypeUnauthenticated},
		{"users unavailable", func(up *testutil.Upstream) { up.FailPath(testutil.UsersPath, 503) }, ErrorTypeSourceUnavailable},
		{"payments unavailable", func(up *testutil.Upstream) { up.FailPath(testutil.PaymentsPath, 500) }, ErrorTypeSourceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.seed(150, 3)
			tt.setup(h.upstream)

			rec, err := h.manager.Run(context.Background(), paymentsRequest(100))
			require.Error(t, err)
			assert.Equal(t, tt.wantType, GetErrorType(err))
			assert.Equal(t, OperationStatusFailed, rec.Status)
			assert.Equal(t, PhaseFailed, rec.Phase)
			assert.Equal(t, tt.wantType, rec.ErrorType)
			assert.Empty(t, rec.Artifacts)
			assert.Empty(t, h.sink.Artifacts(rec.ID))
		})
	}
}

func TestManager_SingleFlight(t *testing.T) {
	src := newBlockingSource()
	h := newHarness(t, withSource(src))
	ctx := context.Background()

	first, err := h.manager.Start(ctx, paymentsRequest(0))
	require.NoError(t, err)
	waitStarted(t, src)

	current, ok := h.manager.Current()
	require.True(t, ok)
	assert.Equal(t, first.ID, current.ID)
	assert.Equal(t, PhaseFetching, current.Phase)

	_, err = h.manager.Start(ctx, paymentsRequest(0))
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(src.release)
	rec, err := h.manager.Wait(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, OperationStatusCompleted, rec.Status)

	// a new run starts once the previous one is terminal
	second, err := h.manager.Start(ctx, paymentsRequest(0))
	require.NoError(t, err)
	rec, err = h.manager.Wait(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, OperationStatusCompleted, rec.Status)

	runs, err := h.manager.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestManager_StartOutlivesRequestContext(t *testing.T) {
	src := newBlockingSource()
	h := newHarness(t, withSource(src))

	reqCtx, cancel := context.WithCancel(context.Background())
	run, err := h.manager.Start(reqCtx, paymentsRequest(0))
	require.NoError(t, err)
	waitStarted(t, src)
	cancel()

	close(src.release)
	rec, err := h.manager.Wait(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, OperationStatusCompleted, rec.Status)
}

func TestManager_Cancel(t *testing.T) {
	src := newBlockingSource()
	h := newHarness(t, withSource(src))
	ctx := context.Background()

	assert.ErrorIs(t, h.manager.Cancel(ctx, "missing"), ErrOperationNotFound)

	run, err := h.manager.Start(ctx, paymentsRequest(0))
	require.NoError(t, err)
	waitStarted(t, src)

	require.NoError(t, h.manager.Cancel(ctx, run.ID))
	rec, err := h.manager.Wait(ctx, run.ID)
	require.NoError(t, err)

	assert.Equal(t, OperationStatusFailed, rec.Status)
	assert.Equal(t, ErrorTypeCancellation, rec.ErrorType)
	assert.Empty(t, rec.Artifacts)

	assert.ErrorIs(t, h.manager.Cancel(ctx, run.ID), ErrOperationNotRunning)
}

func TestManager_RunHonoursCallerCancellation(t *testing.T) {
	src := newBlockingSource()
	h := newHarness(t, withSource(src))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-src.started
		cancel()
	}()

	rec, err := h.manager.Run(ctx, paymentsRequest(0))
	require.Error(t, err)
	assert.Equal(t, ErrorTypeCancellation, GetErrorType(err))
	assert.Equal(t, OperationStatusFailed, rec.Status)
}

func TestManager_Progress(t *testing.T) {
	h := newHarness(t)
	h.seed(250, 10)

	rec, err := h.manager.Run(context.Background(), paymentsRequest(100))
	require.NoError(t, err)

	reported := h.progress.all()
	require.NotEmpty(t, reported)

	// stages report in pipeline order
	order := []string{}
	for _, e := range reported {
		if len(order) == 0 || order[len(order)-1] != e.stage {
			order = append(order, e.stage)
		}
		assert.GreaterOrEqual(t, e.percent, 0)
		assert.LessOrEqual(t, e.percent, 100)
	}
	assert.Equal(t, []string{StepIDFetch, StepIDJoin, StepIDFilter, StepIDChunk, StepIDRender}, order)
	assert.Equal(t, progressEvent{StepIDFetch, 5, "loaded 100 records"}, reported[0])

	var renders []int
	for _, e := range reported {
		if e.stage == StepIDRender {
			renders = append(renders, e.percent)
		}
	}
	assert.Equal(t, []int{33, 66, 100}, renders)

	assert.Equal(t, []string{"idle", "fetching", "joining", "filtering", "chunking", "rendering", "done"}, h.hub.phases())

	snap, ok := h.manager.Snapshot(rec.ID)
	require.True(t, ok)
	assert.Equal(t, "completed", snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.Len(t, snap.Artifacts, 3)
	assert.NotNil(t, snap.CompletedAt)
}

func TestManager_EnrichesMissingUsers(t *testing.T) {
	h := newHarness(t)
	h.upstream.SetPayments(testutil.PaymentRecords(4, 4, dataOrigin))
	// user 4 is only reachable through the detail endpoint
	h.upstream.SetUsers(testutil.UserRecords(3, dataOrigin))
	h.upstream.SetDetail("4", map[string]any{"id": 4, "name": "Detail User", "email": "detail@example.com"})

	rec, err := h.manager.Run(context.Background(), paymentsRequest(0))
	require.NoError(t, err)
	assert.Equal(t, OperationStatusCompleted, rec.Status)
	assert.Equal(t, []string{testutil.UserDetailPath + "/4"}, h.upstream.Requests(testutil.UserDetailPath))
}

func TestManager_CleanupDropsFinishedSnapshots(t *testing.T) {
	h := newHarness(t)
	h.seed(10, 2)

	rec, err := h.manager.Run(context.Background(), paymentsRequest(0))
	require.NoError(t, err)

	_, ok := h.manager.Snapshot(rec.ID)
	require.True(t, ok)
	assert.Zero(t, h.manager.Cleanup(context.Background()))

	h.manager.config.SnapshotRetention = 0
	assert.Equal(t, 1, h.manager.Cleanup(context.Background()))
	_, ok = h.manager.Snapshot(rec.ID)
	assert.False(t, ok)

	// history survives in the run store
	stored, err := h.manager.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, OperationStatusCompleted, stored.Status)
}

func TestManager_LatestSnapshotOutlivesRun(t *testing.T) {
	h := newHarness(t)
	_, ok := h.manager.LatestSnapshot()
	assert.False(t, ok)

	h.seed(10, 2)
	rec, err := h.manager.Run(context.Background(), paymentsRequest(0))
	require.NoError(t, err)

	snap, ok := h.manager.LatestSnapshot()
	require.True(t, ok)
	assert.Equal(t, rec.ID, snap.OperationID)
	assert.Equal(t, string(OperationStatusCompleted), snap.Status)
}
