package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Load(NewMapStore(map[string]any{
		"api_url":   "https://collector.example.com/api/",
		"device_id": "ws-42",
	}))
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load(NewMapStore(nil))
	host, _ := os.Hostname()

	assert.Equal(t, "", cfg.APIURL)
	assert.Equal(t, "workstation-"+host, cfg.DeviceID)
	assert.Equal(t, 60*time.Second, cfg.CaptureInterval)
	assert.Equal(t, 60*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 0.95, cfg.SimilarityThreshold)
	assert.Equal(t, 1024, cfg.MaxImageWidth)
	assert.Equal(t, 70, cfg.JPEGQuality)
	assert.True(t, cfg.VerifySSL)
	assert.Equal(t, DefaultGamingProcesses, cfg.GamingProcessList)
	assert.Equal(t, TransportHTTPS, cfg.Transport)
	assert.Equal(t, 5*time.Minute, cfg.PauseCooldown)
	assert.Equal(t, 2, cfg.CapturesPerMinute)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "keyring", cfg.CredentialProvider)
	assert.Equal(t, "info", cfg.LogLevel)

	require.Error(t, cfg.Validate(), "missing api_url must not validate")
}

func TestLoadConversions(t *testing.T) {
	cfg := Load(NewMapStore(map[string]any{
		"api_url":              "https://collector.example.com/",
		"capture_interval":     30,
		"heartbeat_interval":   "2m",
		"pause_cooldown":       "90",
		"similarity_threshold": "0.9",
		"verify_ssl":           "off",
		"gaming_process_list":  "game.exe, other.exe ,",
		"log_level":            "DEBUG",
	}))

	assert.Equal(t, "https://collector.example.com", cfg.APIURL)
	assert.Equal(t, 30*time.Second, cfg.CaptureInterval)
	assert.Equal(t, 2*time.Minute, cfg.HeartbeatInterval)
	assert.Equal(t, 90*time.Second, cfg.PauseCooldown)
	assert.Equal(t, 0.9, cfg.SimilarityThreshold)
	assert.False(t, cfg.VerifySSL)
	assert.Equal(t, []string{"game.exe", "other.exe"}, cfg.GamingProcessList)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "DesktopTelemetryAgent/"+cfg.DeviceID, cfg.UserAgent())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		errContains string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "plain http rejected", mutate: func(c *Config) { c.APIURL = "http://collector.example.com" }, errContains: "https"},
		{name: "http localhost allowed", mutate: func(c *Config) { c.APIURL = "http://localhost:8080" }},
		{name: "http loopback ip allowed", mutate: func(c *Config) { c.APIURL = "http://127.0.0.1:8080" }},
		{name: "http ipv6 loopback allowed", mutate: func(c *Config) { c.APIURL = "http://[::1]:8080" }},
		{name: "ftp rejected", mutate: func(c *Config) { c.APIURL = "ftp://collector.example.com" }, errContains: "https"},
		{name: "capture interval floor", mutate: func(c *Config) { c.CaptureInterval = 9 * time.Second }, errContains: "capture_interval"},
		{name: "capture interval at floor", mutate: func(c *Config) { c.CaptureInterval = 10 * time.Second }},
		{name: "heartbeat interval floor", mutate: func(c *Config) { c.HeartbeatInterval = time.Second }, errContains: "heartbeat_interval"},
		{name: "threshold above one", mutate: func(c *Config) { c.SimilarityThreshold = 1.01 }, errContains: "similarity_threshold"},
		{name: "threshold negative", mutate: func(c *Config) { c.SimilarityThreshold = -0.1 }, errContains: "similarity_threshold"},
		{name: "quality zero", mutate: func(c *Config) { c.JPEGQuality = 0 }, errContains: "jpeg_quality"},
		{name: "quality too high", mutate: func(c *Config) { c.JPEGQuality = 101 }, errContains: "jpeg_quality"},
		{name: "tiny width", mutate: func(c *Config) { c.MaxImageWidth = 32 }, errContains: "max_image_width"},
		{name: "grpc without addr", mutate: func(c *Config) { c.Transport = TransportGRPC }, errContains: "grpc_addr"},
		{name: "grpc with addr", mutate: func(c *Config) { c.Transport = TransportGRPC; c.GRPCAddr = "collector:443" }},
		{name: "unknown transport", mutate: func(c *Config) { c.Transport = "carrier-pigeon" }, errContains: "transport"},
		{name: "vault without addr", mutate: func(c *Config) { c.CredentialProvider = "vault" }, errContains: "vault_addr"},
		{name: "unknown provider", mutate: func(c *Config) { c.CredentialProvider = "postit" }, errContains: "credential_provider"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, errContains: "log_level"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.errContains == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errContains)
		})
	}
}

func TestTLSConfig(t *testing.T) {
	cfg := validConfig()
	tlsCfg, err := cfg.TLSConfig()
	require.NoError(t, err)
	require.NotNil(t, tlsCfg)
	assert.False(t, tlsCfg.InsecureSkipVerify)

	cfg.VerifySSL = false
	tlsCfg, err = cfg.TLSConfig()
	require.NoError(t, err)
	assert.True(t, tlsCfg.InsecureSkipVerify)

	cfg.Transport = TransportGRPC
	cfg.GRPCInsecure = true
	tlsCfg, err = cfg.TLSConfig()
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)

	cfg.GRPCInsecure = false
	cfg.TLSCertPath = "/nonexistent.pem"
	_, err = cfg.TLSConfig()
	assert.Error(t, err)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(`
api_url: https://collector.example.com
capture_interval: 45
gaming_process_list:
  - game.exe
  - launcher.exe
`), 0o600))

	store, err := OpenStore(path)
	require.NoError(t, err)
	cfg := Load(store)
	assert.Equal(t, "https://collector.example.com", cfg.APIURL)
	assert.Equal(t, 45*time.Second, cfg.CaptureInterval)
	assert.Equal(t, []string{"game.exe", "launcher.exe"}, cfg.GamingProcessList)
	assert.Equal(t, "fallback", store.Get("missing_key", "fallback"))

	require.NoError(t, store.Set("device_id", "ws-7"))
	reopened, err := OpenStore(path)
	require.NoError(t, err)
	assert.Equal(t, "ws-7", Load(reopened).DeviceID)
	assert.Equal(t, 45*time.Second, Load(reopened).CaptureInterval)
}

func TestFileStoreMissingFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	t.Setenv("TRACKER_HEARTBEAT_INTERVAL", "15s")
	t.Setenv("TRACKER_VERIFY_SSL", "false")

	store, err := OpenStore(path)
	require.NoError(t, err)
	cfg := Load(store)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatInterval)
	assert.False(t, cfg.VerifySSL)

	require.NoError(t, store.Set("api_url", "https://c.example.com"))
	_, err = os.Stat(path)
	assert.NoError(t, err, "first Set creates the file")
}
