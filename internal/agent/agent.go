package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"desktop-telemetry-agent/internal/activity"
	"desktop-telemetry-agent/internal/capture"
	"desktop-telemetry-agent/internal/config"
	"desktop-telemetry-agent/internal/credentials"
	"desktop-telemetry-agent/internal/detect"
	"desktop-telemetry-agent/internal/engine"
	"desktop-telemetry-agent/internal/metrics"
	"desktop-telemetry-agent/internal/model"
	"desktop-telemetry-agent/internal/tracing"
	"desktop-telemetry-agent/internal/upload"
)

// Controller is the part of the engine the shell drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	Status() engine.Status
}

type Agent struct {
	cfg     config.Config
	logger  *slog.Logger
	creds   *credentials.Provider
	client  *upload.Client
	engine  Controller
	machine *activity.Machine
	tracer  *sdktrace.TracerProvider
}

func New(cfg config.Config, creds *credentials.Provider, logger *slog.Logger) (*Agent, error) {
	transport, err := newTransport(cfg, logger)
	if err != nil {
		return nil, err
	}

	client := upload.NewClient(transport, creds, upload.Options{
		MaxAttempts:       cfg.MaxUploadAttempts,
		BaseBackoff:       cfg.RetryBaseBackoff,
		MaxBackoff:        cfg.RetryMaxBackoff,
		RateLimitBackoff:  cfg.RateLimitBackoff,
		RequestTimeout:    cfg.RequestTimeout,
		CapturesPerMinute: cfg.CapturesPerMinute,
		UserAgent:         cfg.UserAgent(),
	}, logger)

	machine := activity.NewMachine(cfg.GamingProcessList, cfg.PauseCooldown, logger,
		activity.WithObserver(func(tr activity.Transition) {
			metrics.SetState(tr.To.String(), activity.Stopped.String(), activity.Active.String(), activity.Paused.String())
		}),
	)
	metrics.SetState(activity.Stopped.String(), activity.Stopped.String(), activity.Active.String(), activity.Paused.String())

	source := capture.NewScreenSource(&capture.DisplayGrabber{}, capture.NewForegroundReader(), cfg.MaxImageWidth, cfg.JPEGQuality, logger)

	a := &Agent{
		cfg:     cfg,
		logger:  logger,
		creds:   creds,
		client:  client,
		machine: machine,
	}
	a.engine = engine.New(engine.Options{
		DeviceID:          cfg.DeviceID,
		CaptureInterval:   cfg.CaptureInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		StopGracePeriod:   cfg.StopGracePeriod,
	}, source, detect.NewDetector(cfg.SimilarityThreshold), machine, client, a.preflight, logger)
	return a, nil
}

func newTransport(cfg config.Config, logger *slog.Logger) (upload.Transport, error) {
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}
	switch cfg.Transport {
	case config.TransportGRPC:
		return upload.NewGRPCTransport(upload.GRPCConfig{Addr: cfg.GRPCAddr, TLSConfig: tlsCfg}, logger), nil
	case config.TransportHTTPS, "":
		return upload.NewHTTPTransport(upload.HTTPConfig{
			BaseURL:   cfg.APIURL,
			Timeout:   cfg.RequestTimeout,
			VerifySSL: cfg.VerifySSL,
			TLSConfig: tlsCfg,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

// NewCredentialProvider opens the configured credential store for the device.
func NewCredentialProvider(cfg config.Config) (*credentials.Provider, error) {
	store, err := credentials.NewStore(credentials.Config{
		Provider:        cfg.CredentialProvider,
		VaultAddr:       cfg.VaultAddr,
		VaultToken:      cfg.VaultToken,
		VaultPathPrefix: cfg.VaultPathPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("credential store: %w", err)
	}
	return credentials.NewProvider(store, cfg.DeviceID), nil
}

// preflight re-reads the token so one saved by the shell after startup is
// picked up on the next Start.
func (a *Agent) preflight(ctx context.Context) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	if _, err := a.creds.Refresh(ctx); err != nil {
		return err
	}
	return nil
}

// Check validates settings and delivers one heartbeat to the collector.
func (a *Agent) Check(ctx context.Context) error {
	if err := a.preflight(ctx); err != nil {
		return fmt.Errorf("%w: %w", engine.ErrNotConfigured, err)
	}
	app, _ := capture.NewForegroundReader().ForegroundApp(ctx)
	if app == "" {
		app = capture.UnknownApp
	}
	res, err := a.client.Send(ctx, model.PayloadKindHeartbeat,
		model.NewHeartbeat(a.cfg.DeviceID, activity.Active.String(), app, time.Now()))
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	a.logger.Info("collector reachable", "api_url", a.cfg.APIURL, "status", res.Status, "attempts", res.Attempts)
	return nil
}

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting desktop-telemetry-agent", "version", config.Version, "device_id", a.cfg.DeviceID, "transport", a.cfg.Transport)
	tp, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "desktop-telemetry-agent",
		ExportEndpoint: a.cfg.TracingEndpoint,
		Insecure:       a.cfg.TracingInsecure,
		DeviceID:       a.cfg.DeviceID,
	})
	if err != nil {
		a.logger.Warn("tracing disabled", "error", err)
	}
	a.tracer = tp

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	done := make(chan error, 1)
	go func() { done <- a.run(runCtx) }()
	runErr := a.waitForExit(done, sigs, stopRun)

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelDrain()
	a.shutdown(drainCtx)

	switch {
	case runErr == nil, errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		a.logger.Info("desktop-telemetry-agent exited")
		return nil
	default:
		return runErr
	}
}

// waitForExit returns the result of run. After the first signal the engine
// gets ShutdownTimeout to drain; a second signal exits at once.
func (a *Agent) waitForExit(done <-chan error, sigs <-chan os.Signal, stopRun context.CancelFunc) error {
	var sig os.Signal
	select {
	case err := <-done:
		return err
	case sig = <-sigs:
	}

	a.logger.Info("draining engine", "signal", sig.String(), "drain_window", a.cfg.ShutdownTimeout)
	stopRun()

	drain := time.NewTimer(a.cfg.ShutdownTimeout)
	defer drain.Stop()
	select {
	case err := <-done:
		return err
	case again := <-sigs:
		a.logger.Warn("exiting without drain", "signal", again.String())
		return context.Canceled
	case <-drain.C:
		a.logger.Warn("drain window closed with work outstanding", "drain_window", a.cfg.ShutdownTimeout)
		return context.DeadlineExceeded
	}
}

func BuildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, hOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, hOpts))
}
