package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"desktop-telemetry-agent/internal/config"
	"desktop-telemetry-agent/internal/engine"
	"desktop-telemetry-agent/internal/metrics"
)

type statusResponse struct {
	engine.Status
	DeviceID string `json:"device_id"`
	Version  string `json:"version"`
}

// routes is the local control plane the tray shell talks to.
func (a *Agent) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("desktop-telemetry-agent:ok\n"))
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		a.writeStatus(w, http.StatusOK)
	})
	r.Route("/engine", func(r chi.Router) {
		r.Post("/start", a.handleStart)
		r.Post("/stop", func(w http.ResponseWriter, _ *http.Request) {
			a.engine.Stop()
			a.writeStatus(w, http.StatusOK)
		})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

func (a *Agent) handleStart(w http.ResponseWriter, r *http.Request) {
	err := a.engine.Start(r.Context())
	switch {
	case err == nil:
		a.writeStatus(w, http.StatusAccepted)
	case errors.Is(err, engine.ErrNotConfigured):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		a.logger.Error("engine start failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func (a *Agent) writeStatus(w http.ResponseWriter, code int) {
	writeJSON(w, code, statusResponse{
		Status:   a.engine.Status(),
		DeviceID: a.cfg.DeviceID,
		Version:  config.Version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *Agent) runStatusListener(ctx context.Context) error {
	addr := strings.TrimSpace(a.cfg.StatusListenAddr)
	if addr == "" {
		a.logger.Info("status endpoint disabled")
		<-ctx.Done()
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen status endpoint %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.logger.Info("status endpoint listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve status endpoint %s: %w", addr, err)
	}
	return nil
}
