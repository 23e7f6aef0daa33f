package upload

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type HTTPConfig struct {
	BaseURL   string
	Timeout   time.Duration
	VerifySSL bool
	TLSConfig *tls.Config // takes precedence over VerifySSL when set
}

// HTTPTransport posts JSON payloads to <base>/<kind>.
type HTTPTransport struct {
	client *resty.Client
}

func NewHTTPTransport(cfg HTTPConfig, logger *slog.Logger) *HTTPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{logger: logger})
	switch {
	case cfg.TLSConfig != nil:
		c.SetTLSClientConfig(cfg.TLSConfig)
	case !cfg.VerifySSL:
		c.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec // operator opted out via verify_ssl
	}
	return &HTTPTransport{client: c}
}

func (t *HTTPTransport) Post(ctx context.Context, req Request) (Response, error) {
	r := t.client.R().
		SetContext(ctx).
		SetHeader("X-Device-ID", req.DeviceID).
		SetHeader("X-Request-ID", req.RequestID).
		SetBody(req.Body)
	if req.Token != "" {
		r.SetAuthToken(req.Token)
	}
	if req.UserAgent != "" {
		r.SetHeader("User-Agent", req.UserAgent)
	}

	resp, err := r.Post("/" + req.Kind)
	if err != nil {
		return Response{}, fmt.Errorf("post %s: %w", req.Kind, err)
	}
	return Response{
		Status:     resp.StatusCode(),
		RetryAfter: resp.Header().Get("Retry-After"),
		Body:       resp.Body(),
	}, nil
}

func (t *HTTPTransport) Close() error {
	t.client.GetClient().CloseIdleConnections()
	return nil
}

// restyLogger routes resty's printf-style logger into slog.
type restyLogger struct {
	logger *slog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	if l.logger != nil {
		l.logger.Error("http client", "msg", fmt.Sprintf(format, v...))
	}
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	if l.logger != nil {
		l.logger.Warn("http client", "msg", fmt.Sprintf(format, v...))
	}
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	if l.logger != nil {
		l.logger.Debug("http client", "msg", fmt.Sprintf(format, v...))
	}
}
