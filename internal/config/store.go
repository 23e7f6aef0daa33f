package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

const (
	EnvPrefix   = "TRACKER"
	appDirName  = "desktop-telemetry-agent"
	defaultFile = "config.yaml"
)

// Store is the persistent key/value settings store shared with the shell.
type Store interface {
	Get(key string, fallback any) any
	Set(key string, value any) error
}

// FileStore is a YAML-backed Store. Environment variables named
// TRACKER_<KEY> override file values.
type FileStore struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// DefaultPath is <user config dir>/desktop-telemetry-agent/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, appDirName, defaultFile)
}

// OpenStore reads path if it exists. A missing file yields an empty store
// that is created on the first Set.
func OpenStore(path string) (*FileStore, error) {
	if path == "" {
		path = DefaultPath()
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		}
	}
	return &FileStore{v: v, path: path}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(key string, fallback any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.v.IsSet(key) {
		return fallback
	}
	return s.v.Get(key)
}

func (s *FileStore) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, value)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write settings %s: %w", s.path, err)
	}
	return nil
}

// MapStore is an in-memory Store used by tests and the -check path.
type MapStore struct {
	mu     sync.RWMutex
	values map[string]any
}

func NewMapStore(values map[string]any) *MapStore {
	m := &MapStore{values: make(map[string]any, len(values))}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

func (m *MapStore) Get(key string, fallback any) any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.values[key]; ok {
		return v
	}
	return fallback
}

func (m *MapStore) Set(key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
