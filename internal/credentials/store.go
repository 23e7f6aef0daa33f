package credentials

import (
	"context"
	"errors"
	"fmt"
)

var ErrTokenNotFound = errors.New("credentials: token not found")

// Store keeps one bearer token per device id.
type Store interface {
	GetToken(ctx context.Context, deviceID string) (string, error)
	SetToken(ctx context.Context, deviceID, token string) error
	DeleteToken(ctx context.Context, deviceID string) error
}

type Config struct {
	Provider        string // keyring | env | memory | vault
	VaultAddr       string
	VaultToken      string
	VaultPathPrefix string
}

func NewStore(cfg Config) (Store, error) {
	switch cfg.Provider {
	case "", "keyring":
		return NewKeyringStore(), nil
	case "env":
		return NewEnvStore(), nil
	case "memory":
		return NewMemoryStore(), nil
	case "vault":
		return NewVaultStore(VaultConfig{
			Address:    cfg.VaultAddr,
			Token:      cfg.VaultToken,
			PathPrefix: cfg.VaultPathPrefix,
		})
	default:
		return nil, fmt.Errorf("unsupported credential provider: %s", cfg.Provider)
	}
}
