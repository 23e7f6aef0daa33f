package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"desktop-telemetry-agent/internal/config"
	"desktop-telemetry-agent/internal/engine"
	"desktop-telemetry-agent/internal/upload"
)

type fakeController struct {
	mu       sync.Mutex
	startErr error
	running  bool
	starts   int
	stops    int
}

func (f *fakeController) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running = false
}

func (f *fakeController) Status() engine.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := "stopped"
	if f.running {
		state = "active"
	}
	return engine.Status{State: state, Running: f.running, NotConfigured: f.startErr != nil}
}

func testAgent(ctrl Controller, cfg config.Config) *Agent {
	if cfg.DeviceID == "" {
		cfg.DeviceID = "ws-1"
	}
	return &Agent{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		engine: ctrl,
	}
}

func decodeStatus(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func TestRoutesHealthz(t *testing.T) {
	a := testAgent(&fakeController{}, config.Config{})
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "desktop-telemetry-agent:ok\n", rec.Body.String())
}

func TestRoutesStartStopStatus(t *testing.T) {
	ctrl := &fakeController{}
	a := testAgent(ctrl, config.Config{})
	h := a.routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/engine/start", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	st := decodeStatus(t, rec.Body)
	assert.Equal(t, "active", st["state"])
	assert.Equal(t, true, st["running"])
	assert.Equal(t, "ws-1", st["device_id"])
	assert.Equal(t, config.Version, st["version"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", decodeStatus(t, rec.Body)["state"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/engine/stop", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", decodeStatus(t, rec.Body)["state"])
	assert.Equal(t, 1, ctrl.stops)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/engine/start", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRoutesStartNotConfigured(t *testing.T) {
	ctrl := &fakeController{startErr: fmt.Errorf("%w: api_url is required", engine.ErrNotConfigured)}
	a := testAgent(ctrl, config.Config{})

	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/engine/start", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeStatus(t, rec.Body)["error"], "api_url is required")
}

func TestRoutesMetrics(t *testing.T) {
	a := testAgent(&fakeController{}, config.Config{})
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRunAutostartNotConfiguredKeepsListening(t *testing.T) {
	ctrl := &fakeController{startErr: engine.ErrNotConfigured}
	a := testAgent(ctrl, config.Config{
		Autostart:         true,
		StatusListenAddr:  "127.0.0.1:0",
		HeartbeatInterval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	require.Eventually(t, func() bool {
		ctrl.mu.Lock()
		defer ctrl.mu.Unlock()
		return ctrl.starts == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRunAutostartUnexpectedError(t *testing.T) {
	ctrl := &fakeController{startErr: errors.New("boom")}
	a := testAgent(ctrl, config.Config{Autostart: true, StatusListenAddr: "127.0.0.1:0", HeartbeatInterval: time.Hour})

	err := a.run(context.Background())
	assert.EqualError(t, err, "boom")
}

func TestNewTransport(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tr, err := newTransport(config.Config{Transport: config.TransportHTTPS, APIURL: "https://c.example.com", VerifySSL: true}, logger)
	require.NoError(t, err)
	assert.IsType(t, &upload.HTTPTransport{}, tr)

	tr, err = newTransport(config.Config{Transport: config.TransportGRPC, GRPCAddr: "c.example.com:443", VerifySSL: true}, logger)
	require.NoError(t, err)
	assert.IsType(t, &upload.GRPCTransport{}, tr)

	_, err = newTransport(config.Config{Transport: "smoke-signals"}, logger)
	assert.Error(t, err)
}

func TestBuildLogger(t *testing.T) {
	ctx := context.Background()
	assert.True(t, BuildLogger(config.Config{LogLevel: "debug"}).Enabled(ctx, slog.LevelDebug))
	assert.False(t, BuildLogger(config.Config{LogLevel: "info"}).Enabled(ctx, slog.LevelDebug))
	assert.False(t, BuildLogger(config.Config{LogLevel: "error", LogJSON: true}).Enabled(ctx, slog.LevelWarn))
}

func TestWaitForExitDrainsAfterSignal(t *testing.T) {
	a := testAgent(&fakeController{}, config.Config{ShutdownTimeout: time.Second})
	done := make(chan error, 1)
	sigs := make(chan os.Signal, 2)
	stopped := make(chan struct{})

	sigs <- syscall.SIGTERM
	err := a.waitForExit(done, sigs, func() {
		close(stopped)
		done <- context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)
	_, open := <-stopped
	assert.False(t, open, "run is cancelled on the first signal")
}

func TestWaitForExitDrainWindow(t *testing.T) {
	a := testAgent(&fakeController{}, config.Config{ShutdownTimeout: 20 * time.Millisecond})
	sigs := make(chan os.Signal, 2)
	sigs <- os.Interrupt

	err := a.waitForExit(make(chan error), sigs, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForExitSecondSignal(t *testing.T) {
	a := testAgent(&fakeController{}, config.Config{ShutdownTimeout: time.Hour})
	sigs := make(chan os.Signal, 2)
	sigs <- os.Interrupt
	sigs <- syscall.SIGTERM

	err := a.waitForExit(make(chan error), sigs, func() {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitForExitReturnsRunResult(t *testing.T) {
	a := testAgent(&fakeController{}, config.Config{ShutdownTimeout: time.Hour})
	done := make(chan error, 1)
	done <- errors.New("listener failed")

	err := a.waitForExit(done, make(chan os.Signal), func() {})
	assert.EqualError(t, err, "listener failed")
}
