package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adminreports/internal/config"
	"adminreports/internal/operations"
	"adminreports/internal/shared/testutil"
	api "adminreports/pkg/contracts/api/v1"
	"adminreports/pkg/contracts/events"
)

func testConfig(t *testing.T, upstreamURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Source.BaseURL = upstreamURL
	cfg.Source.Timeout = 5 * time.Second
	cfg.Source.RequestsPerSecond = 0
	cfg.Report.OutputDir = filepath.Join(t.TempDir(), "reports")
	cfg.Report.Timezone = "UTC"
	cfg.Store.Driver = "memory"
	cfg.Security.RateLimit.Enabled = false
	cfg.Server.ShutdownTimeout = 5 * time.Second
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) (*Application, *httptest.Server) {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)

	a, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)
	a.WebSocketHub.Start()

	srv := httptest.NewServer(a.Router)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Manager.Shutdown(ctx)
		a.WebSocketHub.Stop()
		a.release(ctx)
	})
	return a, srv
}

func TestApplication_ReportRunOverHTTP(t *testing.T) {
	up := testutil.NewUpstream(t)
	origin := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	up.SetPayments(testutil.PaymentRecords(120, 5, origin))
	up.SetUsers(testutil.UserRecords(5, origin))

	a, srv := newTestApp(t, testConfig(t, up.URL()))

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/reports/runs", strings.NewReader(`{"kind":"payments","chunk_size":50}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testutil.UpstreamToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var started api.StartRunResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec, err := a.Manager.Wait(ctx, started.Run.ID)
	require.NoError(t, err)
	require.Equal(t, operations.OperationStatusCompleted, rec.Status, rec.Error)
	require.Len(t, rec.Artifacts, 3)

	// artifacts land in <output_dir>/<run_id>/
	for _, name := range rec.ArtifactNames() {
		_, err := os.Stat(filepath.Join(a.Config.Report.OutputDir, rec.ID, name))
		assert.NoError(t, err, name)
	}

	dl, err := http.Get(srv.URL + "/api/reports/runs/" + rec.ID + "/artifacts/" + rec.Artifacts[2].FileName)
	require.NoError(t, err)
	defer dl.Body.Close()
	require.Equal(t, http.StatusOK, dl.StatusCode)
	body, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, "PK", string(body[:2]))
	assert.Equal(t, rec.Artifacts[2].Size, int64(len(body)))
}

func TestApplication_Routes(t *testing.T) {
	up := testutil.NewUpstream(t)
	_, srv := newTestApp(t, testConfig(t, up.URL()))

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"health", http.MethodGet, "/api/health", http.StatusOK, `"run_store"`},
		{"health build details", http.MethodGet, "/api/health", http.StatusOK, `"git_commit":"unknown"`},
		{"ready", http.MethodGet, "/api/health/ready", http.StatusOK, `"ready"`},
		{"live", http.MethodGet, "/api/health/live", http.StatusOK, `"alive"`},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK, "go_goroutines"},
		{"empty history", http.MethodGet, "/api/reports/runs", http.StatusOK, `"count":0`},
		{"no current run", http.MethodGet, "/api/reports/runs/current", http.StatusNotFound, "/errors/operation/not-found"},
		{"unknown route", http.MethodGet, "/api/nope", http.StatusNotFound, "/errors/not-found"},
		{"wrong method", http.MethodDelete, "/api/health", http.StatusMethodNotAllowed, "Method Not Allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode, string(body))
			assert.Contains(t, string(body), tt.wantBody)
		})
	}
}

func TestApplication_WebSocketGreets(t *testing.T) {
	up := testutil.NewUpstream(t)
	_, srv := newTestApp(t, testConfig(t, up.URL()))

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg events.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, events.MessageTypeConnect, msg.Type)
}
