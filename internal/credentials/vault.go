package credentials

import (
	"context"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

type VaultConfig struct {
	Address    string // e.g. https://vault.corp:8200
	Token      string
	PathPrefix string // e.g. "secret/telemetry"
}

type vaultStore struct {
	client     *vault.Client
	pathPrefix string
}

func NewVaultStore(cfg VaultConfig) (Store, error) {
	if cfg.Address == "" {
		cfg.Address = "http://localhost:8200"
	}

	vcfg := vault.DefaultConfig()
	vcfg.Address = cfg.Address

	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	if _, err := client.Sys().Health(); err != nil {
		return nil, fmt.Errorf("connect to vault: %w", err)
	}

	prefix := strings.Trim(cfg.PathPrefix, "/")
	if prefix == "" {
		prefix = "secret"
	}
	return &vaultStore{client: client, pathPrefix: prefix}, nil
}

func (v *vaultStore) GetToken(ctx context.Context, deviceID string) (string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.buildPath(deviceID))
	if err != nil {
		return "", fmt.Errorf("read token from vault: %w", err)
	}
	if secret == nil {
		return "", ErrTokenNotFound
	}
	if tok, ok := secret.Data["token"].(string); ok && tok != "" {
		return tok, nil
	}
	return "", ErrTokenNotFound
}

func (v *vaultStore) SetToken(ctx context.Context, deviceID, token string) error {
	_, err := v.client.Logical().WriteWithContext(ctx, v.buildPath(deviceID), map[string]interface{}{
		"token": token,
	})
	if err != nil {
		return fmt.Errorf("write token to vault: %w", err)
	}
	return nil
}

func (v *vaultStore) DeleteToken(ctx context.Context, deviceID string) error {
	if _, err := v.client.Logical().DeleteWithContext(ctx, v.buildPath(deviceID)); err != nil {
		return fmt.Errorf("delete token from vault: %w", err)
	}
	return nil
}

func (v *vaultStore) buildPath(deviceID string) string {
	return fmt.Sprintf("%s/%s", v.pathPrefix, deviceID)
}
