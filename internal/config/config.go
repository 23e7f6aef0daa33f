package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

type Transport string

const (
	TransportHTTPS Transport = "https"
	TransportGRPC  Transport = "grpc"
	Version        string    = "1.0.0"

	MinInterval = 10 * time.Second
)

// DefaultGamingProcesses pause capture when any of them is in the foreground.
var DefaultGamingProcesses = []string{
	"steam.exe",
	"steamwebhelper.exe",
	"dota2.exe",
	"csgo.exe",
	"cyberpunk2077.exe",
	"valorant.exe",
}

type Config struct {
	APIURL              string
	DeviceID            string
	Hostname            string
	CaptureInterval     time.Duration
	HeartbeatInterval   time.Duration
	SimilarityThreshold float64
	MaxImageWidth       int
	JPEGQuality         int
	VerifySSL           bool
	GamingProcessList   []string

	Transport         Transport
	GRPCAddr          string
	GRPCInsecure      bool
	TLSCAPath         string
	TLSCertPath       string
	TLSKeyPath        string
	PauseCooldown     time.Duration
	CapturesPerMinute int
	RequestTimeout    time.Duration
	MaxUploadAttempts int
	RetryBaseBackoff  time.Duration
	RetryMaxBackoff   time.Duration
	RateLimitBackoff  time.Duration
	StopGracePeriod   time.Duration
	ShutdownTimeout   time.Duration
	StatusListenAddr  string

	CredentialProvider string
	VaultAddr          string
	VaultToken         string
	VaultPathPrefix    string

	LogLevel        string
	LogJSON         bool
	TracingEndpoint string
	TracingInsecure bool
	Autostart       bool
}

// Load reads every setting from store, applying defaults. It does not
// validate: an agent with no api_url still runs and reports itself as not
// configured.
func Load(store Store) Config {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown-host"
	}

	return Config{
		APIURL:              strings.TrimRight(str(store, "api_url", ""), "/"),
		DeviceID:            str(store, "device_id", "workstation-"+hostname),
		Hostname:            hostname,
		CaptureInterval:     duration(store, "capture_interval", 60*time.Second),
		HeartbeatInterval:   duration(store, "heartbeat_interval", 60*time.Second),
		SimilarityThreshold: float(store, "similarity_threshold", 0.95),
		MaxImageWidth:       integer(store, "max_image_width", 1024),
		JPEGQuality:         integer(store, "jpeg_quality", 70),
		VerifySSL:           boolean(store, "verify_ssl", true),
		GamingProcessList:   list(store, "gaming_process_list", DefaultGamingProcesses),

		Transport:         Transport(strings.ToLower(str(store, "transport", string(TransportHTTPS)))),
		GRPCAddr:          str(store, "grpc_addr", ""),
		GRPCInsecure:      boolean(store, "grpc_insecure", false),
		TLSCAPath:         str(store, "tls_ca_path", ""),
		TLSCertPath:       str(store, "tls_cert_path", ""),
		TLSKeyPath:        str(store, "tls_key_path", ""),
		PauseCooldown:     duration(store, "pause_cooldown", 5*time.Minute),
		CapturesPerMinute: integer(store, "capture_uploads_per_minute", 2),
		RequestTimeout:    duration(store, "request_timeout", 30*time.Second),
		MaxUploadAttempts: integer(store, "max_upload_attempts", 4),
		RetryBaseBackoff:  duration(store, "retry_base_backoff", 2*time.Second),
		RetryMaxBackoff:   duration(store, "retry_max_backoff", 60*time.Second),
		RateLimitBackoff:  duration(store, "rate_limit_backoff", 60*time.Second),
		StopGracePeriod:   duration(store, "stop_grace_period", 5*time.Second),
		ShutdownTimeout:   duration(store, "shutdown_timeout", 10*time.Second),
		StatusListenAddr:  str(store, "status_listen_addr", "127.0.0.1:7465"),

		CredentialProvider: strings.ToLower(str(store, "credential_provider", "keyring")),
		VaultAddr:          str(store, "vault_addr", ""),
		VaultToken:         str(store, "vault_token", ""),
		VaultPathPrefix:    str(store, "vault_path_prefix", "secret/desktop-telemetry"),

		LogLevel:        strings.ToLower(str(store, "log_level", "info")),
		LogJSON:         boolean(store, "log_json", false),
		TracingEndpoint: str(store, "tracing_endpoint", ""),
		TracingInsecure: boolean(store, "tracing_insecure", false),
		Autostart:       boolean(store, "autostart", false),
	}
}

func (c Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("api_url is required")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("api_url %q is not a valid URL", c.APIURL)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !isLoopback(u.Hostname()) {
			return fmt.Errorf("api_url must use https (got %q)", c.APIURL)
		}
	default:
		return fmt.Errorf("api_url must use https (got %q)", c.APIURL)
	}
	if strings.TrimSpace(c.DeviceID) == "" {
		return errors.New("device_id must not be empty")
	}
	if c.CaptureInterval < MinInterval {
		return fmt.Errorf("capture_interval must be >= %s", MinInterval)
	}
	if c.HeartbeatInterval < MinInterval {
		return fmt.Errorf("heartbeat_interval must be >= %s", MinInterval)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return errors.New("similarity_threshold must be between 0 and 1")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return errors.New("jpeg_quality must be between 1 and 100")
	}
	if c.MaxImageWidth < 64 {
		return errors.New("max_image_width must be >= 64")
	}
	switch c.Transport {
	case TransportHTTPS:
	case TransportGRPC:
		if c.GRPCAddr == "" {
			return errors.New("grpc_addr is required for grpc transport")
		}
	default:
		return fmt.Errorf("unsupported transport %q", c.Transport)
	}
	if c.PauseCooldown <= 0 {
		return errors.New("pause_cooldown must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout must be > 0")
	}
	if c.MaxUploadAttempts < 1 {
		return errors.New("max_upload_attempts must be >= 1")
	}
	if c.StopGracePeriod <= 0 || c.ShutdownTimeout <= 0 {
		return errors.New("stop_grace_period and shutdown_timeout must be > 0")
	}
	switch c.CredentialProvider {
	case "keyring", "env", "memory":
	case "vault":
		if c.VaultAddr == "" {
			return errors.New("vault_addr is required for the vault credential provider")
		}
	default:
		return fmt.Errorf("unsupported credential_provider %q", c.CredentialProvider)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level %q", c.LogLevel)
	}
	return nil
}

func (c Config) UserAgent() string {
	return "DesktopTelemetryAgent/" + c.DeviceID
}

// TLSConfig builds the client TLS settings for either transport. It returns
// nil for a plaintext gRPC channel.
func (c Config) TLSConfig() (*tls.Config, error) {
	if c.Transport == TransportGRPC && c.GRPCInsecure {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: !c.VerifySSL} //nolint:gosec // verify_ssl=false is an explicit opt-out
	if c.TLSCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLSCertPath != "" || c.TLSKeyPath != "" {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return nil, errors.New("both TLS cert and key are required")
		}
		crt, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func str(s Store, key, fallback string) string {
	v, err := cast.ToStringE(s.Get(key, fallback))
	if err != nil {
		return fallback
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	return v
}

func integer(s Store, key string, fallback int) int {
	i, err := cast.ToIntE(s.Get(key, fallback))
	if err != nil {
		return fallback
	}
	return i
}

func float(s Store, key string, fallback float64) float64 {
	f, err := cast.ToFloat64E(s.Get(key, fallback))
	if err != nil {
		return fallback
	}
	return f
}

func boolean(s Store, key string, fallback bool) bool {
	raw := s.Get(key, fallback)
	if sv, ok := raw.(string); ok {
		switch strings.TrimSpace(strings.ToLower(sv)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		default:
			return fallback
		}
	}
	b, err := cast.ToBoolE(raw)
	if err != nil {
		return fallback
	}
	return b
}

// duration accepts Go duration strings ("90s", "5m") or a bare number of
// seconds, which is how the shell writes intervals.
func duration(s Store, key string, fallback time.Duration) time.Duration {
	switch v := s.Get(key, fallback).(type) {
	case time.Duration:
		return v
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return fallback
		}
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fallback
		}
		return d
	default:
		secs, err := cast.ToFloat64E(v)
		if err != nil {
			return fallback
		}
		return time.Duration(secs * float64(time.Second))
	}
}

// list accepts a YAML sequence or a comma separated string (env override).
func list(s Store, key string, fallback []string) []string {
	raw := s.Get(key, nil)
	if raw == nil {
		return append([]string(nil), fallback...)
	}
	var items []string
	if sv, ok := raw.(string); ok {
		items = strings.Split(sv, ",")
	} else {
		var err error
		items, err = cast.ToStringSliceE(raw)
		if err != nil {
			return append([]string(nil), fallback...)
		}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
