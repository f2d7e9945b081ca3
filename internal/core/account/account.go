// Package account owns the doorbells reachable with one credential.
package account

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/trymwestin/fenotek/internal/core/device"
)

// API is the backend surface an account needs.
type API interface {
	device.API
	Login(ctx context.Context) (bool, error)
	ListDevices(ctx context.Context) ([]string, error)
	Username() string
}

// Account fans login, refresh and ping out to its doorbells.
type Account struct {
	api API
	log *slog.Logger

	mu      sync.RWMutex
	devices []*device.Doorbell
}

func New(api API, log *slog.Logger) *Account {
	return &Account{
		api: api,
		log: log.With("username", api.Username()),
	}
}

func (a *Account) Username() string {
	return a.api.Username()
}

// Login exchanges the credentials for a session. A rejection is false without
// error.
func (a *Account) Login(ctx context.Context) (bool, error) {
	return a.api.Login(ctx)
}

// DiscoverDevices lists the account's doorbells, updates each once and
// replaces the known set. Nothing is replaced when any update fails.
func (a *Account) DiscoverDevices(ctx context.Context) ([]*device.Doorbell, error) {
	ids, err := a.api.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("account: list devices: %w", err)
	}

	devices := make([]*device.Doorbell, 0, len(ids))
	for _, id := range ids {
		d := device.New(a.api, id, a.log)
		if err := d.Update(ctx); err != nil {
			return nil, fmt.Errorf("account: discover: %w", err)
		}
		devices = append(devices, d)
	}

	a.mu.Lock()
	a.devices = devices
	a.mu.Unlock()

	a.log.Info("devices discovered", "count", len(devices))
	return append([]*device.Doorbell(nil), devices...), nil
}

// Refresh fetches every doorbell in turn. The first failure aborts the cycle
// and no doorbell is modified; otherwise all fetched states are applied.
func (a *Account) Refresh(ctx context.Context) error {
	devices := a.Devices()

	pending := make([]*device.Pending, len(devices))
	for i, d := range devices {
		p, err := d.Fetch(ctx)
		if err != nil {
			return fmt.Errorf("account: refresh: %w", err)
		}
		pending[i] = p
	}

	for i, d := range devices {
		d.Apply(pending[i])
	}
	return nil
}

// Ping probes every doorbell and returns availability by id.
func (a *Account) Ping(ctx context.Context) map[string]bool {
	devices := a.Devices()
	out := make(map[string]bool, len(devices))
	for _, d := range devices {
		out[d.ID()] = d.Ping(ctx)
	}
	return out
}

// Devices returns the known doorbells in discovery order.
func (a *Account) Devices() []*device.Doorbell {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]*device.Doorbell(nil), a.devices...)
}

func (a *Account) Device(id string) (*device.Doorbell, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, d := range a.devices {
		if d.ID() == id {
			return d, true
		}
	}
	return nil, false
}
