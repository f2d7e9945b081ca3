// Package device holds the per-doorbell aggregate: profile, relays and the
// rolling event window, with the derived "last event of kind X" views.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/trymwestin/fenotek/internal/core/event"
	"github.com/trymwestin/fenotek/internal/core/transport/wire"
)

const (
	Manufacturer = "CDVI"
	Model        = "Hi"
)

// API is the slice of the backend a doorbell needs.
type API interface {
	event.Fetcher
	GetDevice(ctx context.Context, deviceID string) (*wire.Visiophone, error)
	GetHome(ctx context.Context, deviceID string) (*wire.Home, error)
	ListNotifications(ctx context.Context, deviceID string) ([]wire.Notification, error)
	Ping(ctx context.Context, deviceID string) bool
	ActivateRelay(ctx context.Context, deviceID, relayID string) (bool, error)
}

// Relay is a dry contact of the doorbell.
type Relay struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CommandID string `json:"command_id"`
	Icon      string `json:"icon"`
	// Delay is the activation hold time in seconds.
	Delay  int  `json:"delay"`
	OnHold bool `json:"on_hold"`
}

func (r Relay) HoldDelay() time.Duration {
	return time.Duration(r.Delay) * time.Second
}

// Pending is the result of a Fetch, applied later by Apply.
type Pending struct {
	profile   *wire.Visiophone
	home      *wire.Home
	homeEvent *event.Event
	events    []event.Event
	fetchedAt time.Time
}

// Doorbell is one Fenotek device. Profile accessors return zero values until
// the first successful Update.
type Doorbell struct {
	id  string
	api API
	log *slog.Logger

	mu        sync.RWMutex
	profile   *wire.Visiophone
	home      *wire.Home
	homeEvent *event.Event
	relays    []Relay
	events    []event.Event
	available bool
	updatedAt time.Time
}

// New creates a doorbell that has not been fetched yet.
func New(api API, id string, log *slog.Logger) *Doorbell {
	return &Doorbell{
		id:  id,
		api: api,
		log: log.With("device_id", id),
	}
}

// Fetch reads profile, home summary and notifications and builds the event
// window without touching the doorbell.
func (d *Doorbell) Fetch(ctx context.Context) (*Pending, error) {
	profile, err := d.api.GetDevice(ctx, d.id)
	if err != nil {
		return nil, fmt.Errorf("device %s: profile: %w", d.id, err)
	}

	home, err := d.api.GetHome(ctx, d.id)
	if err != nil {
		return nil, fmt.Errorf("device %s: home: %w", d.id, err)
	}

	var homeEvent *event.Event
	if home.LastNotification != nil {
		ev, err := event.Classify(*home.LastNotification)
		if err != nil {
			return nil, fmt.Errorf("device %s: home: %w", d.id, err)
		}
		homeEvent = &ev
	}

	raws, err := d.api.ListNotifications(ctx, d.id)
	if err != nil {
		return nil, fmt.Errorf("device %s: notifications: %w", d.id, err)
	}

	events, err := event.Build(ctx, d.api, raws)
	if err != nil {
		return nil, fmt.Errorf("device %s: notifications: %w", d.id, err)
	}

	return &Pending{
		profile:   profile,
		home:      home,
		homeEvent: homeEvent,
		events:    events,
		fetchedAt: time.Now().UTC(),
	}, nil
}

// Apply swaps in a fetched state. Relays are taken from the profile only
// while none are known; they are never re-synced afterwards.
func (d *Doorbell) Apply(p *Pending) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.profile = p.profile
	d.home = p.home
	d.homeEvent = p.homeEvent
	d.events = p.events
	d.updatedAt = p.fetchedAt

	if len(d.relays) == 0 && len(p.profile.DryContacts) > 0 {
		relays := make([]Relay, 0, len(p.profile.DryContacts))
		for _, dc := range p.profile.DryContacts {
			relays = append(relays, Relay{
				ID:        dc.ID,
				Name:      dc.Name,
				CommandID: dc.CommandID,
				Icon:      dc.Icon,
				Delay:     dc.Delay,
				OnHold:    dc.IsOnHold,
			})
		}
		d.relays = relays
		d.log.Debug("relays populated", "count", len(relays))
	}
}

// Update is Fetch followed by Apply. On error the doorbell is unchanged.
func (d *Doorbell) Update(ctx context.Context) error {
	p, err := d.Fetch(ctx)
	if err != nil {
		return err
	}
	d.Apply(p)
	return nil
}

// Ping probes the doorbell and records the result as its availability.
func (d *Doorbell) Ping(ctx context.Context) bool {
	ok := d.api.Ping(ctx, d.id)

	d.mu.Lock()
	d.available = ok
	d.mu.Unlock()
	return ok
}

// ActivateRelay triggers one of the doorbell's relays. A backend rejection is
// false without error.
func (d *Doorbell) ActivateRelay(ctx context.Context, relayID string) (bool, error) {
	if _, ok := d.Relay(relayID); !ok {
		return false, fmt.Errorf("device %s: relay %s: %w", d.id, relayID, ErrUnknownRelay)
	}
	return d.api.ActivateRelay(ctx, d.id, relayID)
}

func (d *Doorbell) ID() string { return d.id }

func (d *Doorbell) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.profile == nil {
		return ""
	}
	return d.profile.Description
}

func (d *Doorbell) Manufacturer() string { return Manufacturer }

func (d *Doorbell) Model() string { return Model }

// HWVersion is "{major}.{minor}".
func (d *Doorbell) HWVersion() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.profile == nil {
		return ""
	}
	return fmt.Sprintf("%d.%d", d.profile.Major, d.profile.Minor)
}

func (d *Doorbell) SWVersion() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.profile == nil {
		return ""
	}
	return d.profile.HiVersion
}

func (d *Doorbell) ConnectionType() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.profile == nil {
		return ""
	}
	return d.profile.ConnectionType
}

// Available reports the result of the last Ping. False until one succeeds.
func (d *Doorbell) Available() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.available
}

// Updated reports whether at least one Update succeeded.
func (d *Doorbell) Updated() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.profile != nil
}

func (d *Doorbell) UpdatedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.updatedAt
}

// MediaURL is the home summary's latest still image.
func (d *Doorbell) MediaURL() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.home == nil {
		return ""
	}
	return d.home.MediaURL
}

func (d *Doorbell) Relays() []Relay {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Relay(nil), d.relays...)
}

func (d *Doorbell) Relay(id string) (Relay, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range d.relays {
		if r.ID == id {
			return r, true
		}
	}
	return Relay{}, false
}
