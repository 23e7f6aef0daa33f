package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"desktop-telemetry-agent/internal/credentials"
	"desktop-telemetry-agent/internal/metrics"
	"desktop-telemetry-agent/internal/model"
	"desktop-telemetry-agent/internal/tracing"
)

type CredentialSource interface {
	Credentials(ctx context.Context) (credentials.Credentials, error)
	Refresh(ctx context.Context) (credentials.Credentials, error)
}

type Options struct {
	MaxAttempts       int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	RateLimitBackoff  time.Duration
	RequestTimeout    time.Duration
	CapturesPerMinute int // 0 selects the default; negative disables the cap
	UserAgent         string

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o *Options) applyDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 2 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Minute
	}
	if o.RateLimitBackoff <= 0 {
		o.RateLimitBackoff = time.Minute
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.CapturesPerMinute == 0 {
		o.CapturesPerMinute = 2
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepWithContext
	}
}

// Client delivers heartbeat and capture payloads with classification,
// bounded retries and auth refresh. Safe for concurrent use.
type Client struct {
	transport Transport
	creds     CredentialSource
	limiter   *Limiter
	backoff   *backoff
	opts      Options
	logger    *slog.Logger
	dropLog   rate.Sometimes

	mu          sync.RWMutex
	needsReauth bool
	rejected    string
}

func NewClient(transport Transport, creds CredentialSource, opts Options, logger *slog.Logger) *Client {
	opts.applyDefaults()
	return &Client{
		transport: transport,
		creds:     creds,
		limiter:   NewLimiter(opts.CapturesPerMinute, time.Minute, opts.Now),
		backoff:   newBackoff(opts.BaseBackoff, opts.MaxBackoff),
		opts:      opts,
		logger:    logger,
		dropLog:   rate.Sometimes{Interval: time.Minute},
	}
}

// NeedsReauth reports whether the collector rejected the current token after
// a refresh. The flag clears on the next successful send.
func (c *Client) NeedsReauth() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.needsReauth
}

func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) Send(ctx context.Context, kind model.PayloadKind, payload any) (Result, error) {
	res := Result{Kind: string(kind), RequestID: uuid.NewString()}

	if kind == model.PayloadKindCapture && !c.limiter.Allow() {
		res.Class = ClassDropped
		metrics.CapturesDropped.Inc()
		metrics.UploadResults.WithLabelValues(res.Kind, res.Class.String()).Inc()
		c.logger.Debug("capture upload dropped", "kind", res.Kind, "limit_per_minute", c.opts.CapturesPerMinute)
		c.dropLog.Do(func() {
			c.logger.Warn("capture uploads are being dropped by the client rate cap", "limit_per_minute", c.opts.CapturesPerMinute)
		})
		return res, ErrCaptureDropped
	}

	ctx, span := tracing.StartUploadSpan(ctx, res.Kind, res.RequestID)
	defer span.End()
	started := c.opts.Now()

	body, err := json.Marshal(payload)
	if err != nil {
		res.Class = ClassPermanent
		return c.finish(span, started, res, fmt.Errorf("%w: encode %s: %w", ErrPermanent, kind, err))
	}

	creds, err := c.currentCredentials(ctx)
	if err != nil {
		res.Class = ClassAuthFailure
		return c.finish(span, started, res, err)
	}

	req := Request{
		Kind:      res.Kind,
		Body:      body,
		Token:     creds.Token,
		DeviceID:  creds.DeviceID,
		RequestID: res.RequestID,
		UserAgent: c.opts.UserAgent,
	}

	refreshed := false
	for {
		// every capture POST, retries included, spends the capture cap
		if res.Attempts > 0 && kind == model.PayloadKindCapture && !c.limiter.Allow() {
			res.Class = ClassDropped
			metrics.CapturesDropped.Inc()
			return c.finish(span, started, res, fmt.Errorf("%w: %s: retry %d over the capture cap", ErrCaptureDropped, kind, res.Attempts+1))
		}
		res.Attempts++
		resp, postErr := c.post(ctx, req)
		class := ClassTransient
		res.Status = 0
		if postErr == nil {
			res.Status = resp.Status
			class = Classify(resp.Status)
		}
		res.Class = class
		metrics.UploadAttempts.WithLabelValues(res.Kind, class.String()).Inc()

		if postErr != nil && ctx.Err() != nil {
			return c.finish(span, started, res, fmt.Errorf("%w: %s: %w", ErrTransient, kind, ctx.Err()))
		}

		switch class {
		case ClassSuccess:
			c.clearReauth()
			return c.finish(span, started, res, nil)

		case ClassPermanent:
			return c.finish(span, started, res, fmt.Errorf("%w: %s: status %d", ErrPermanent, kind, res.Status))

		case ClassAuthFailure:
			if refreshed {
				c.markReauth(req.Token)
				return c.finish(span, started, res, fmt.Errorf("%w: %s: status %d after refresh", ErrAuthFailure, kind, res.Status))
			}
			refreshed = true
			c.logger.Warn("upload rejected, refreshing credentials", "kind", res.Kind, "attempt", res.Attempts, "status", res.Status)
			fresh, rerr := c.creds.Refresh(ctx)
			if rerr != nil {
				c.markReauth(req.Token)
				return c.finish(span, started, res, fmt.Errorf("%w: refresh credentials: %w", ErrAuthFailure, rerr))
			}
			req.Token = fresh.Token
			continue

		case ClassRateLimited, ClassTransient:
			if res.Attempts >= c.opts.MaxAttempts {
				cause := fmt.Errorf("%w: %s: gave up after %d attempts", class.Err(), kind, res.Attempts)
				if postErr != nil {
					cause = fmt.Errorf("%w: %w", cause, postErr)
				}
				return c.finish(span, started, res, cause)
			}
			wait := c.waitFor(class, resp, res.Attempts)
			if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
				return c.finish(span, started, res, fmt.Errorf("%w: %s: backoff %s does not fit the deadline", class.Err(), kind, wait))
			}
			c.logger.Warn("upload attempt failed, retrying",
				"kind", res.Kind,
				"attempt", res.Attempts,
				"status", res.Status,
				"class", class.String(),
				"backoff", wait,
				"error", postErr)
			if err := c.opts.Sleep(ctx, wait); err != nil {
				return c.finish(span, started, res, fmt.Errorf("%w: %s: %w", class.Err(), kind, err))
			}
		}
	}
}

func (c *Client) post(ctx context.Context, req Request) (Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	return c.transport.Post(attemptCtx, req)
}

func (c *Client) waitFor(class Class, resp Response, attempt int) time.Duration {
	if class == ClassRateLimited {
		if d, ok := parseRetryAfter(resp.RetryAfter, c.opts.Now()); ok {
			return min(d, max(c.opts.MaxBackoff, c.opts.RateLimitBackoff))
		}
		return c.opts.RateLimitBackoff
	}
	return c.backoff.next(attempt)
}

// currentCredentials re-reads the store while the client is flagged and
// fails fast if it still holds the token the collector rejected.
func (c *Client) currentCredentials(ctx context.Context) (credentials.Credentials, error) {
	c.mu.RLock()
	flagged, rejected := c.needsReauth, c.rejected
	c.mu.RUnlock()

	var (
		creds credentials.Credentials
		err   error
	)
	if flagged {
		creds, err = c.creds.Refresh(ctx)
	} else {
		creds, err = c.creds.Credentials(ctx)
	}
	if err != nil {
		c.markReauth("")
		return creds, fmt.Errorf("%w: %w", ErrAuthFailure, err)
	}
	if flagged && creds.Token == rejected {
		return creds, fmt.Errorf("%w: token was rejected and has not been replaced", ErrAuthFailure)
	}
	return creds, nil
}

func (c *Client) markReauth(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.needsReauth {
		c.logger.Error("collector rejected credentials, re-authentication required")
	}
	c.needsReauth = true
	c.rejected = token
}

func (c *Client) clearReauth() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.needsReauth {
		c.logger.Info("credentials accepted again")
	}
	c.needsReauth = false
	c.rejected = ""
}

func (c *Client) finish(span trace.Span, started time.Time, res Result, err error) (Result, error) {
	metrics.UploadDuration.WithLabelValues(res.Kind).Observe(c.opts.Now().Sub(started).Seconds())
	metrics.UploadResults.WithLabelValues(res.Kind, res.Class.String()).Inc()
	span.SetAttributes(
		attribute.Int("upload.attempts", res.Attempts),
		attribute.Int("upload.status", res.Status),
		attribute.String("upload.class", res.Class.String()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, res.Class.String())
		if !errors.Is(err, ErrCaptureDropped) {
			c.logger.Warn("upload failed", "kind", res.Kind, "attempts", res.Attempts, "status", res.Status, "class", res.Class.String(), "error", err)
		}
		return res, err
	}
	c.logger.Debug("upload delivered", "kind", res.Kind, "attempts", res.Attempts, "status", res.Status)
	return res, nil
}
