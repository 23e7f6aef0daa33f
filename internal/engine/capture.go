package engine

import (
	"context"
	"errors"
	"strconv"

	"desktop-telemetry-agent/internal/activity"
	"desktop-telemetry-agent/internal/capture"
	"desktop-telemetry-agent/internal/metrics"
	"desktop-telemetry-agent/internal/model"
	"desktop-telemetry-agent/internal/tracing"
	"desktop-telemetry-agent/internal/upload"
)

type captureJob struct {
	frame   capture.Frame
	payload model.Capture
	first   bool
}

// captureTick observes the foreground app and, when Active with no upload in
// flight, captures and compares against reference. It returns a job only
// for a significant frame.
func (e *Engine) captureTick(ctx context.Context, reference *capture.Frame, inFlight bool) (captureJob, bool) {
	if ctx.Err() != nil {
		return captureJob{}, false
	}
	ctx, span := tracing.StartCaptureSpan(ctx)
	defer span.End()

	app, err := e.source.Foreground(ctx)
	if err != nil {
		e.logger.Debug("foreground app lookup failed", "error", err)
	}
	e.status.setForeground(app)
	state := e.machine.Observe(app)
	if state != activity.Active {
		e.logger.Debug("capture skipped", "state", state.String(), "foreground_app", app)
		return captureJob{}, false
	}
	if inFlight {
		e.logger.Debug("capture skipped, previous upload still in flight")
		return captureJob{}, false
	}

	frame, err := e.source.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return captureJob{}, false
		}
		metrics.CaptureErrors.Inc()
		e.status.recordError(channelCapture, "capture", err, e.opts.Now())
		e.logger.Warn("screen capture failed", "error", err, "unavailable", errors.Is(err, capture.ErrCaptureUnavailable))
		return captureJob{}, false
	}

	ev := e.detector.Compare(frame, reference)
	if !ev.First {
		metrics.SimilarityScore.Observe(ev.Score)
	}
	metrics.FramesCaptured.WithLabelValues(strconv.FormatBool(ev.Significant)).Inc()
	if !ev.Significant {
		e.logger.Debug("frame unchanged", "similarity", ev.Score, "threshold", e.detector.Threshold())
		return captureJob{}, false
	}

	w, h := frame.Size()
	fg := frame.ForegroundApp
	if fg == "" || fg == capture.UnknownApp {
		fg = app
	}
	return captureJob{
		frame: frame,
		first: ev.First,
		payload: model.Capture{
			DeviceID:        e.opts.DeviceID,
			Timestamp:       frame.CapturedAt.UTC(),
			ImageBase64:     frame.JPEG,
			ForegroundApp:   fg,
			SimilarityScore: ev.Score,
			Width:           w,
			Height:          h,
		},
	}, true
}

// uploadCapture sends one significant frame and returns it as the new
// reference, or nil when the upload did not succeed.
func (e *Engine) uploadCapture(ctx context.Context, job captureJob) *capture.Frame {
	res, err := e.uploader.Send(ctx, model.PayloadKindCapture, job.payload)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrCaptureDropped):
		case ctx.Err() != nil:
		default:
			e.status.recordError(channelCapture, "capture upload", err, e.opts.Now())
		}
		return nil
	}

	e.status.markSuccess(channelCapture, e.opts.Now())
	e.logger.Info("capture uploaded",
		"similarity", job.payload.SimilarityScore,
		"first", job.first,
		"bytes", len(job.frame.JPEG),
		"attempts", res.Attempts,
		"foreground_app", job.payload.ForegroundApp)
	frame := job.frame
	return &frame
}
