package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrMissingToken = errors.New("credentials: no token configured for device")

type Credentials struct {
	DeviceID string
	Token    string
}

// Provider caches the device token in memory and re-reads the backing store
// on Refresh. It is safe for concurrent use.
type Provider struct {
	store    Store
	deviceID string

	mu     sync.RWMutex
	cached Credentials
	loaded bool
}

func NewProvider(store Store, deviceID string) *Provider {
	return &Provider{store: store, deviceID: deviceID}
}

func (p *Provider) DeviceID() string {
	return p.deviceID
}

func (p *Provider) Credentials(ctx context.Context) (Credentials, error) {
	p.mu.RLock()
	if p.loaded {
		c := p.cached
		p.mu.RUnlock()
		return c, nil
	}
	p.mu.RUnlock()
	return p.Refresh(ctx)
}

func (p *Provider) Refresh(ctx context.Context) (Credentials, error) {
	tok, err := p.store.GetToken(ctx, p.deviceID)
	if errors.Is(err, ErrTokenNotFound) || (err == nil && tok == "") {
		p.invalidate()
		return Credentials{}, fmt.Errorf("%w: %s", ErrMissingToken, p.deviceID)
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("load token: %w", err)
	}

	c := Credentials{DeviceID: p.deviceID, Token: tok}
	p.mu.Lock()
	p.cached = c
	p.loaded = true
	p.mu.Unlock()
	return c, nil
}

func (p *Provider) Save(ctx context.Context, token string) error {
	if token == "" {
		return ErrMissingToken
	}
	if err := p.store.SetToken(ctx, p.deviceID, token); err != nil {
		return err
	}
	p.mu.Lock()
	p.cached = Credentials{DeviceID: p.deviceID, Token: token}
	p.loaded = true
	p.mu.Unlock()
	return nil
}

func (p *Provider) Forget(ctx context.Context) error {
	p.invalidate()
	return p.store.DeleteToken(ctx, p.deviceID)
}

func (p *Provider) invalidate() {
	p.mu.Lock()
	p.cached = Credentials{}
	p.loaded = false
	p.mu.Unlock()
}
