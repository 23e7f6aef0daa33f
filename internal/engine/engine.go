package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"desktop-telemetry-agent/internal/activity"
	"desktop-telemetry-agent/internal/capture"
	"desktop-telemetry-agent/internal/detect"
	"desktop-telemetry-agent/internal/model"
	"desktop-telemetry-agent/internal/upload"
)

var ErrNotConfigured = errors.New("engine: not configured")

type Uploader interface {
	Send(ctx context.Context, kind model.PayloadKind, payload any) (upload.Result, error)
	NeedsReauth() bool
}

// Preflight checks settings and credentials before a run starts.
type Preflight func(ctx context.Context) error

type Options struct {
	DeviceID          string
	CaptureInterval   time.Duration
	HeartbeatInterval time.Duration
	StopGracePeriod   time.Duration
	Now               func() time.Time
}

type Engine struct {
	opts      Options
	logger    *slog.Logger
	source    capture.Source
	detector  *detect.Detector
	machine   *activity.Machine
	uploader  Uploader
	preflight Preflight
	status    statusTracker

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
}

func New(
	opts Options,
	source capture.Source,
	detector *detect.Detector,
	machine *activity.Machine,
	uploader Uploader,
	preflight Preflight,
	logger *slog.Logger,
) *Engine {
	if opts.CaptureInterval <= 0 {
		opts.CaptureInterval = time.Minute
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = time.Minute
	}
	if opts.StopGracePeriod <= 0 {
		opts.StopGracePeriod = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		opts:      opts,
		logger:    logger,
		source:    source,
		detector:  detector,
		machine:   machine,
		uploader:  uploader,
		preflight: preflight,
	}
}

// Start runs preflight, moves the agent to Active and launches the capture
// and heartbeat loops. Calling Start on a running engine is a no-op.
// ctx only bounds preflight; the loops live until Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return nil
	}

	if e.preflight != nil {
		if err := e.preflight(ctx); err != nil {
			e.status.notConfigured.Store(true)
			e.status.recordError(channelPreflight, "preflight", err, e.opts.Now())
			e.logger.Warn("engine not started, preflight failed", "error", err)
			return fmt.Errorf("%w: %w", ErrNotConfigured, err)
		}
	}
	e.status.notConfigured.Store(false)
	e.status.markSuccess(channelPreflight, e.opts.Now())

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done
	e.running.Store(true)
	e.machine.Start()

	jobs := make(chan captureJob, 1)
	results := make(chan *capture.Frame, 1)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return e.captureLoop(gctx, jobs, results)
	})
	g.Go(func() error {
		return e.uploadLoop(gctx, jobs, results)
	})
	g.Go(func() error {
		return e.heartbeatLoop(gctx)
	})
	go func() {
		defer close(done)
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error("engine loops exited", "error", err)
		}
	}()

	e.logger.Info("engine started",
		"device_id", e.opts.DeviceID,
		"capture_interval", e.opts.CaptureInterval,
		"heartbeat_interval", e.opts.HeartbeatInterval,
		"threshold", e.detector.Threshold())
	return nil
}

// Stop moves the agent to Stopped, cancels in-flight work and waits up to
// the grace period for the loops to return. It is idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.machine.Stop()
	if e.cancel == nil {
		return
	}
	e.cancel()
	done := e.done
	e.cancel = nil
	e.done = nil
	e.running.Store(false)

	grace := time.NewTimer(e.opts.StopGracePeriod)
	defer grace.Stop()
	select {
	case <-done:
		e.logger.Info("engine stopped")
	case <-grace.C:
		e.logger.Warn("engine stop grace period elapsed, abandoning in-flight work", "grace", e.opts.StopGracePeriod)
	}
}

func (e *Engine) Running() bool {
	return e.running.Load()
}

func (e *Engine) Status() Status {
	st := Status{
		State:       e.machine.State().String(),
		Running:     e.Running(),
		NeedsReauth: e.uploader.NeedsReauth(),
	}
	e.status.fill(&st)
	if at, _, ok := e.machine.PausedSince(); ok {
		t := at.UTC()
		st.PausedSince = &t
	}
	return st
}

// captureLoop owns the reference frame. Significant frames are handed to
// uploadLoop through a single slot; the loop keeps observing the foreground
// app while an upload retries and captures nothing new until it settles.
func (e *Engine) captureLoop(ctx context.Context, jobs chan<- captureJob, results <-chan *capture.Frame) error {
	ticker := time.NewTicker(e.opts.CaptureInterval)
	defer ticker.Stop()

	var reference *capture.Frame
	inFlight := false
	step := func() {
		if job, ok := e.captureTick(ctx, reference, inFlight); ok {
			inFlight = true
			jobs <- job
		}
	}

	step()
	for {
		select {
		case <-ctx.Done():
			return nil
		case uploaded := <-results:
			inFlight = false
			if uploaded != nil {
				reference = uploaded
			}
		case <-ticker.C:
			step()
		}
	}
}

func (e *Engine) uploadLoop(ctx context.Context, jobs <-chan captureJob, results chan<- *capture.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-jobs:
			results <- e.uploadCapture(ctx, job)
		}
	}
}
