package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/order-robot/internal/config"
	"github.com/jonathan/order-robot/internal/db"
	"github.com/jonathan/order-robot/internal/pipeline"
	"github.com/jonathan/order-robot/internal/server/ratelimit"
	"github.com/jonathan/order-robot/internal/types"
)

// gatedRunner emits a start event, waits for release, then saves one receipt.
type gatedRunner struct {
	release     chan struct{}
	archivePath string
	err         error

	mu    sync.Mutex
	calls int
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{release: make(chan struct{})}
}

func (g *gatedRunner) run(ctx context.Context, runID uuid.UUID, onProgress pipeline.ProgressCallback) (*pipeline.RunResult, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	onProgress(pipeline.ProgressEvent{Step: pipeline.StepRunStarted, RunID: runID.String(), Message: "Processing 1 orders"})
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	artifact := types.ReceiptArtifact{OrderID: "RSB-ROBO-ORDER-1", Row: 1, PDFPath: "/out/receipts/RSB-ROBO-ORDER-1.pdf"}
	onProgress(pipeline.ProgressEvent{Step: pipeline.StepReceiptSaved, RunID: runID.String(), Row: 1, OrderID: artifact.OrderID, Content: artifact})

	manifest := &types.Manifest{}
	manifest.Add(artifact)
	result := &pipeline.RunResult{RunID: runID, Rows: 1, Manifest: manifest}
	if g.archivePath != "" {
		result.Archive = &types.ArchiveResult{Path: g.archivePath, Entries: []string{"RSB-ROBO-ORDER-1.pdf"}}
	}
	return result, g.err
}

type fakeLookup struct {
	runs     map[uuid.UUID]*db.Run
	receipts map[uuid.UUID][]types.ReceiptArtifact
}

func (f *fakeLookup) GetRun(_ context.Context, id uuid.UUID) (*db.Run, error) {
	return f.runs[id], nil
}

func (f *fakeLookup) ListReceipts(_ context.Context, id uuid.UUID) ([]types.ReceiptArtifact, error) {
	return f.receipts[id], nil
}

func testAuth(t *testing.T) *config.AuthConfig {
	t.Helper()
	auth := &config.AuthConfig{JWTSecret: testSecret, TokenTTL: time.Hour, Operator: "operator", BcryptCost: 10}
	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	auth.PasswordHash = hash
	return auth
}

func newTestServer(t *testing.T, runner RunFunc, lookup RunLookup) *Server {
	t.Helper()
	s, err := New(Config{
		Auth:      testAuth(t),
		Runner:    runner,
		Lookup:    lookup,
		RateLimit: &ratelimit.Config{Enabled: false},
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func bearer(t *testing.T, s *Server) string {
	t.Helper()
	token, _, err := s.jwtService.GenerateToken("operator")
	require.NoError(t, err)
	return "Bearer " + token
}

func do(t *testing.T, s *Server, method, path, auth string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func startRun(t *testing.T, s *Server) uuid.UUID {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/runs", bearer(t, s), "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decode[map[string]string](t, rec)
	id, err := uuid.Parse(body["run_id"])
	require.NoError(t, err)
	assert.Equal(t, "/runs/"+id.String(), rec.Header().Get("Location"))
	return id
}

func waitForStatus(t *testing.T, s *Server, id uuid.UUID, status string) RunView {
	t.Helper()
	var view RunView
	require.Eventually(t, func() bool {
		rec := do(t, s, http.MethodGet, "/runs/"+id.String(), bearer(t, s), "")
		if rec.Code != http.StatusOK {
			return false
		}
		view = decode[RunView](t, rec)
		return view.Status == status
	}, 2*time.Second, 10*time.Millisecond)
	return view
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Auth: testAuth(t)})
	assert.Error(t, err)

	_, err = New(Config{Runner: newGatedRunner().run})
	assert.Error(t, err)

	_, err = New(Config{Runner: newGatedRunner().run, Auth: &config.AuthConfig{}})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, newGatedRunner().run, nil)

	rec := do(t, s, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, newGatedRunner().run, nil)

	rec := do(t, s, http.MethodOptions, "/runs", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestToken(t *testing.T) {
	s := newTestServer(t, newGatedRunner().run, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "valid", body: `{"username":"operator","password":"hunter2"}`, want: http.StatusOK},
		{name: "wrong password", body: `{"username":"operator","password":"nope"}`, want: http.StatusUnauthorized},
		{name: "wrong user", body: `{"username":"admin","password":"hunter2"}`, want: http.StatusUnauthorized},
		{name: "missing password", body: `{"username":"operator"}`, want: http.StatusBadRequest},
		{name: "malformed", body: `{`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/auth/token", "", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.want != http.StatusOK {
				return
			}
			resp := decode[tokenResponse](t, rec)
			assert.Equal(t, "Bearer", resp.TokenType)

			claims, err := s.jwtService.ValidateToken(resp.Token)
			require.NoError(t, err)
			assert.Equal(t, "operator", claims.Subject)
		})
	}
}

func TestToken_LoginDisabled(t *testing.T) {
	s, err := New(Config{
		Auth:      &config.AuthConfig{JWTSecret: testSecret, TokenTTL: time.Hour, Operator: "operator"},
		Runner:    newGatedRunner().run,
		RateLimit: &ratelimit.Config{},
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	rec := do(t, s, http.MethodPost, "/auth/token", "", `{"username":"operator","password":"x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunRoutes_RequireAuth(t *testing.T) {
	runner := newGatedRunner()
	s := newTestServer(t, runner.run, nil)
	id := uuid.New().String()

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/runs"},
		{http.MethodGet, "/runs/" + id},
		{http.MethodGet, "/runs/" + id + "/events"},
		{http.MethodGet, "/runs/" + id + "/archive"},
	} {
		rec := do(t, s, route.method, route.path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, route.path)
		rec = do(t, s, route.method, route.path, "Bearer forged", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, route.path)
	}
	assert.Zero(t, runner.calls)
}

func TestCreateRun_SingleActiveRun(t *testing.T) {
	runner := newGatedRunner()
	s := newTestServer(t, runner.run, nil)

	first := startRun(t, s)

	rec := do(t, s, http.MethodPost, "/runs", bearer(t, s), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], first.String())

	health := decode[map[string]any](t, do(t, s, http.MethodGet, "/health", "", ""))
	assert.Equal(t, first.String(), health["active_run"])

	running := waitForStatus(t, s, first, db.RunStatusRunning)
	assert.Empty(t, running.Receipts)

	close(runner.release)
	done := waitForStatus(t, s, first, db.RunStatusCompleted)
	require.Len(t, done.Receipts, 1)
	assert.Equal(t, "RSB-ROBO-ORDER-1", done.Receipts[0].OrderID)
	assert.Equal(t, 1, done.Rows)
	assert.NotNil(t, done.CompletedAt)

	// The slot is free again.
	second := startRun(t, s)
	assert.NotEqual(t, first, second)
}

func TestGetRun_FailedRun(t *testing.T) {
	runner := newGatedRunner()
	runner.err = errors.New("browser crashed")
	close(runner.release)
	s := newTestServer(t, runner.run, nil)

	id := startRun(t, s)
	view := waitForStatus(t, s, id, db.RunStatusFailed)
	assert.Equal(t, "browser crashed", view.Error)
	assert.Len(t, view.Receipts, 1)
}

func TestGetRun_Errors(t *testing.T) {
	s := newTestServer(t, newGatedRunner().run, nil)

	rec := do(t, s, http.MethodGet, "/runs/not-a-uuid", bearer(t, s), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/runs/"+uuid.NewString(), bearer(t, s), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRun_FallsBackToLedger(t *testing.T) {
	id := uuid.New()
	completed := time.Now().UTC().Truncate(time.Second)
	lookup := &fakeLookup{
		runs: map[uuid.UUID]*db.Run{id: {
			ID:          id,
			Status:      db.RunStatusCompleted,
			Rows:        2,
			ArchivePath: "/out/receipts_archive.zip",
			CreatedAt:   completed.Add(-time.Minute),
			CompletedAt: &completed,
		}},
		receipts: map[uuid.UUID][]types.ReceiptArtifact{id: {{OrderID: "A", Row: 1}, {OrderID: "B", Row: 2}}},
	}
	s := newTestServer(t, newGatedRunner().run, lookup)

	rec := do(t, s, http.MethodGet, "/runs/"+id.String(), bearer(t, s), "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[RunView](t, rec)
	assert.Equal(t, db.RunStatusCompleted, view.Status)
	assert.Len(t, view.Receipts, 2)
	assert.Equal(t, "/out/receipts_archive.zip", view.ArchivePath)

	events := do(t, s, http.MethodGet, "/runs/"+id.String()+"/events", bearer(t, s), "")
	assert.Equal(t, "text/event-stream", events.Header().Get("Content-Type"))
	assert.Contains(t, events.Body.String(), "event: complete")
}

func TestRunEvents_ReplayAfterCompletion(t *testing.T) {
	runner := newGatedRunner()
	close(runner.release)
	s := newTestServer(t, runner.run, nil)

	id := startRun(t, s)
	waitForStatus(t, s, id, db.RunStatusCompleted)

	rec := do(t, s, http.MethodGet, "/runs/"+id.String()+"/events", bearer(t, s), "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	started := strings.Index(body, "event: "+pipeline.StepRunStarted)
	saved := strings.Index(body, "event: "+pipeline.StepReceiptSaved)
	complete := strings.Index(body, "event: complete")
	require.True(t, started >= 0 && saved > started && complete > saved, body)
	assert.Contains(t, body, `"status":"completed"`)
}

func TestRunEvents_Live(t *testing.T) {
	runner := newGatedRunner()
	s := newTestServer(t, runner.run, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	id := startRun(t, s)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/runs/"+id.String()+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", bearer(t, s))
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: "+pipeline.StepRunStarted+"\n", line)

	close(runner.release)

	var events []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if name, ok := strings.CutPrefix(strings.TrimSpace(line), "event: "); ok {
			events = append(events, name)
		}
	}
	assert.Equal(t, []string{pipeline.StepReceiptSaved, "complete"}, events)
}

func TestRunArchive(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "receipts_archive.zip")
	require.NoError(t, os.WriteFile(archivePath, []byte("PK\x05\x06zip"), 0o644))

	runner := newGatedRunner()
	runner.archivePath = archivePath
	s := newTestServer(t, runner.run, nil)

	id := startRun(t, s)
	path := "/runs/" + id.String() + "/archive"

	rec := do(t, s, http.MethodGet, path, bearer(t, s), "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "no archive while running")

	close(runner.release)
	waitForStatus(t, s, id, db.RunStatusCompleted)

	rec = do(t, s, http.MethodGet, path, bearer(t, s), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="receipts_archive.zip"`)
	assert.Equal(t, "PK\x05\x06zip", rec.Body.String())

	require.NoError(t, os.Remove(archivePath))
	rec = do(t, s, http.MethodGet, path, bearer(t, s), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunArchive_SequentialRunsKeepTheirOwn(t *testing.T) {
	cfg := config.Defaults()
	cfg.OutputDir = t.TempDir()

	// Writes each run's archive where the serve command's robot would.
	runner := func(_ context.Context, runID uuid.UUID, _ pipeline.ProgressCallback) (*pipeline.RunResult, error) {
		run := cfg.ForRun(runID.String())
		if err := os.MkdirAll(run.OutputDir, 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(run.ArchivePath(), []byte("zip of "+runID.String()), 0o644); err != nil {
			return nil, err
		}
		return &pipeline.RunResult{
			RunID:    runID,
			Manifest: &types.Manifest{},
			Archive:  &types.ArchiveResult{Path: run.ArchivePath(), Entries: []string{}},
		}, nil
	}
	s := newTestServer(t, runner, nil)

	first := startRun(t, s)
	waitForStatus(t, s, first, db.RunStatusCompleted)
	second := startRun(t, s)
	waitForStatus(t, s, second, db.RunStatusCompleted)

	for _, id := range []uuid.UUID{first, second} {
		rec := do(t, s, http.MethodGet, "/runs/"+id.String()+"/archive", bearer(t, s), "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "zip of "+id.String(), rec.Body.String())
	}
}

func TestRateLimit(t *testing.T) {
	s, err := New(Config{
		Auth:   testAuth(t),
		Runner: newGatedRunner().run,
		RateLimit: &ratelimit.Config{
			Enabled:       true,
			DefaultLimit:  100,
			DefaultWindow: time.Minute,
			EndpointConfigs: []ratelimit.EndpointConfig{
				{Path: "/auth/token", Method: http.MethodPost, Limit: 1, Window: time.Hour, Burst: 1},
			},
		},
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	body := `{"username":"operator","password":"nope"}`
	first := do(t, s, http.MethodPost, "/auth/token", "", body)
	assert.Equal(t, http.StatusUnauthorized, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))

	second := do(t, s, http.MethodPost, "/auth/token", "", body)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decode[map[string]any](t, second)["error"])

	// Health is never limited.
	for range 5 {
		assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", "", "").Code)
	}
}

func TestStart_StopsOnCancel(t *testing.T) {
	runner := newGatedRunner()
	s, err := New(Config{Port: 0, Auth: testAuth(t), Runner: runner.run, RateLimit: &ratelimit.Config{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	// A run blocked in the browser is cancelled by shutdown.
	startRun(t, s)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
