package credentials

import (
	"context"
	"os"
)

// TokenEnv is read for every device id; the env provider suits single-device
// installs and CI.
const TokenEnv = "TRACKER_API_TOKEN"

type envStore struct{}

func NewEnvStore() Store {
	return envStore{}
}

func (envStore) GetToken(_ context.Context, _ string) (string, error) {
	v := os.Getenv(TokenEnv)
	if v == "" {
		return "", ErrTokenNotFound
	}
	return v, nil
}

func (envStore) SetToken(_ context.Context, _ string, token string) error {
	return os.Setenv(TokenEnv, token)
}

func (envStore) DeleteToken(_ context.Context, _ string) error {
	return os.Unsetenv(TokenEnv)
}
