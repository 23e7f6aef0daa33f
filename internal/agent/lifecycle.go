package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"desktop-telemetry-agent/internal/engine"
)

func (a *Agent) run(ctx context.Context) error {
	if a.cfg.Autostart {
		if err := a.engine.Start(ctx); err != nil {
			if !errors.Is(err, engine.ErrNotConfigured) {
				return err
			}
			a.logger.Warn("autostart skipped, agent is not configured", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runStatusListener(gctx)
	})
	g.Go(func() error {
		return a.runHealthLoop(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Agent) runHealthLoop(ctx context.Context) error {
	t := time.NewTicker(a.cfg.HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			st := a.engine.Status()
			level := slog.LevelDebug
			if st.NeedsReauth || st.ConsecutiveErrors >= 3 {
				level = slog.LevelWarn
			}
			a.logger.Log(ctx, level, "agent health",
				"state", st.State,
				"running", st.Running,
				"needs_reauth", st.NeedsReauth,
				"capture_errors", st.CaptureErrors,
				"heartbeat_errors", st.HeartbeatErrors,
				"last_error", st.LastError)
		}
	}
}

func (a *Agent) shutdown(ctx context.Context) {
	a.engine.Stop()
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			a.logger.Warn("upload transport close failed", "error", err)
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", "error", err)
		}
	}
}
