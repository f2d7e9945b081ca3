// Package registry keeps the set up accounts, keyed by username. It is owned
// by whoever composes the daemon and handed to the presentation adapters.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/trymwestin/fenotek/internal/core/account"
	"github.com/trymwestin/fenotek/internal/core/coordinator"
	"github.com/trymwestin/fenotek/internal/core/device"
	"github.com/trymwestin/fenotek/internal/core/state"
	"github.com/trymwestin/fenotek/internal/core/transport"
)

// AccountConfig is everything needed to set up one account.
type AccountConfig struct {
	Transport transport.Config
	Refresh   coordinator.Config
	// Session is the HTTP session to use; nil builds one from Transport.
	Session *resty.Client
	// Poll starts the refresh loop after setup.
	Poll bool
}

// Entry is one set up account.
type Entry struct {
	Client      *transport.Client
	Account     *account.Account
	Store       *state.Store
	Coordinator *coordinator.Coordinator
}

func (e *Entry) Username() string {
	return e.Account.Username()
}

// Device returns a doorbell of the account.
func (e *Entry) Device(id string) (*device.Doorbell, error) {
	d, ok := e.Account.Device(id)
	if !ok {
		return nil, fmt.Errorf("registry: device %s: %w", id, ErrUnknownDevice)
	}
	return d, nil
}

// ActivateRelay triggers a relay, publishes the outcome and asks for a
// refresh so the activation shows up in the event window.
func (e *Entry) ActivateRelay(ctx context.Context, deviceID, relayID string) (bool, error) {
	d, err := e.Device(deviceID)
	if err != nil {
		return false, err
	}
	ok, err := d.ActivateRelay(ctx, relayID)
	if err != nil {
		return false, err
	}
	e.Store.RelayActivated(deviceID, relayID, ok)
	if ok {
		e.Coordinator.RequestRefresh()
	}
	return ok, nil
}

// Registry holds the accounts of the process.
type Registry struct {
	bus *state.EventBus
	log *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
}

func New(bus *state.EventBus, log *slog.Logger) *Registry {
	return &Registry{
		bus:     bus,
		log:     log,
		entries: make(map[string]*Entry),
	}
}

// Bus returns the event bus shared by every account.
func (r *Registry) Bus() *state.EventBus {
	return r.bus
}

// Setup logs in, discovers the devices, runs the first refresh and registers
// the account. Rejected credentials fail with ErrAuth.
func (r *Registry) Setup(ctx context.Context, cfg AccountConfig) (*Entry, error) {
	username := cfg.Transport.Username

	r.mu.RLock()
	_, exists := r.entries[username]
	r.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("registry: setup %s: %w", username, ErrAlreadyRegistered)
	}

	log := r.log.With("username", username)
	client := transport.NewClient(cfg.Session, cfg.Transport, log.With("component", "transport"))
	acc := account.New(client, log)

	ok, err := acc.Login(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: setup %s: %w", username, err)
	}
	if !ok {
		return nil, fmt.Errorf("registry: setup %s: %w", username, ErrAuth)
	}

	if _, err := acc.DiscoverDevices(ctx); err != nil {
		return nil, fmt.Errorf("registry: setup %s: %w", username, err)
	}

	store := state.NewStore(username, r.bus, log)
	coord := coordinator.New(acc, store, cfg.Refresh, log.With("component", "coordinator"))
	if err := coord.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("registry: setup %s: first refresh: %w", username, err)
	}

	entry := &Entry{Client: client, Account: acc, Store: store, Coordinator: coord}

	r.mu.Lock()
	if _, exists := r.entries[username]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("registry: setup %s: %w", username, ErrAlreadyRegistered)
	}
	r.entries[username] = entry
	r.mu.Unlock()

	if cfg.Poll {
		if err := coord.Start(context.WithoutCancel(ctx)); err != nil {
			return nil, fmt.Errorf("registry: setup %s: %w", username, err)
		}
	}

	log.Info("account set up", "devices", len(acc.Devices()), "interval", coord.Interval())
	return entry, nil
}

// Get returns the entry of username.
func (r *Registry) Get(username string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[username]
	if !ok {
		return nil, fmt.Errorf("registry: %s: %w", username, ErrUnknownAccount)
	}
	return e, nil
}

// Entries returns every entry ordered by username.
func (r *Registry) Entries() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username() < out[j].Username() })
	return out
}

// FindDevice looks a doorbell up across every account.
func (r *Registry) FindDevice(id string) (*Entry, *device.Doorbell, error) {
	for _, e := range r.Entries() {
		if d, ok := e.Account.Device(id); ok {
			return e, d, nil
		}
	}
	return nil, nil, fmt.Errorf("registry: device %s: %w", id, ErrUnknownDevice)
}

// Teardown stops the refresh loop of username and removes it.
func (r *Registry) Teardown(ctx context.Context, username string) error {
	r.mu.Lock()
	e, ok := r.entries[username]
	delete(r.entries, username)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("registry: teardown %s: %w", username, ErrUnknownAccount)
	}
	if err := e.Coordinator.Stop(ctx); err != nil {
		return fmt.Errorf("registry: teardown %s: %w", username, err)
	}
	r.log.Info("account removed", "username", username)
	return nil
}

// Close tears every account down.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	for _, e := range r.Entries() {
		if err := r.Teardown(ctx, e.Username()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
