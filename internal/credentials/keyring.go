package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name entries are filed under in the OS
// credential vault (Windows Credential Manager, macOS Keychain, Secret Service).
const KeyringService = "desktop-telemetry-agent"

type keyringStore struct {
	service string
}

func NewKeyringStore() Store {
	return keyringStore{service: KeyringService}
}

func (k keyringStore) GetToken(_ context.Context, deviceID string) (string, error) {
	tok, err := keyring.Get(k.service, deviceID)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keyring get: %w", err)
	}
	return tok, nil
}

func (k keyringStore) SetToken(_ context.Context, deviceID, token string) error {
	if err := keyring.Set(k.service, deviceID, token); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}
	return nil
}

func (k keyringStore) DeleteToken(_ context.Context, deviceID string) error {
	err := keyring.Delete(k.service, deviceID)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}
