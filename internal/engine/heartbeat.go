package engine

import (
	"context"
	"time"

	"desktop-telemetry-agent/internal/activity"
	"desktop-telemetry-agent/internal/metrics"
	"desktop-telemetry-agent/internal/model"
)

func (e *Engine) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.HeartbeatInterval)
	defer ticker.Stop()

	e.heartbeatTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.heartbeatTick(ctx)
		}
	}
}

// heartbeatTick sends one liveness record. The send is bounded by one
// heartbeat interval so retries never overrun the next tick.
func (e *Engine) heartbeatTick(ctx context.Context) {
	state := e.machine.State()
	if state == activity.Stopped || ctx.Err() != nil {
		return
	}
	app, err := e.source.Foreground(ctx)
	if err != nil {
		e.logger.Debug("foreground app lookup failed", "error", err)
	}

	hbCtx, cancel := context.WithTimeout(ctx, e.opts.HeartbeatInterval)
	defer cancel()

	hb := model.NewHeartbeat(e.opts.DeviceID, state.String(), app, e.opts.Now())
	if _, err := e.uploader.Send(hbCtx, model.PayloadKindHeartbeat, hb); err != nil {
		metrics.Heartbeats.WithLabelValues("error").Inc()
		if ctx.Err() == nil {
			e.status.recordError(channelHeartbeat, "heartbeat", err, e.opts.Now())
		}
		return
	}
	metrics.Heartbeats.WithLabelValues("ok").Inc()
	e.status.markSuccess(channelHeartbeat, e.opts.Now())
	e.logger.Debug("heartbeat sent", "state", state.String())
}
