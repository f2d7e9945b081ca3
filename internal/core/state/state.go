package state

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/trymwestin/fenotek/internal/core/device"
)

// Snapshot is the device map published after a successful refresh.
type Snapshot struct {
	Devices map[string]*device.Doorbell
	TakenAt time.Time
}

// IDs returns the device ids in sorted order.
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.Devices))
	for id := range s.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Status is the refresh health of one account.
type Status struct {
	Account           string        `json:"account"`
	LastUpdateSuccess bool          `json:"last_update_success"`
	LastError         string        `json:"last_error,omitempty"`
	LastAttempt       time.Time     `json:"last_attempt"`
	LastSuccess       time.Time     `json:"last_success"`
	Interval          time.Duration `json:"interval"`
	DeviceCount       int           `json:"device_count"`
}

// EventType identifies event categories.
type EventType string

const (
	EventRefreshed       EventType = "refreshed"
	EventRefreshFailed   EventType = "refresh_failed"
	EventIntervalChanged EventType = "interval_changed"
	EventRelayActivated  EventType = "relay_activated"
)

// Event represents a state change.
type Event struct {
	Type      EventType   `json:"type"`
	Account   string      `json:"account"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// RefreshedData is the payload of EventRefreshed.
type RefreshedData struct {
	Devices []string `json:"devices"`
}

// FailureData is the payload of EventRefreshFailed.
type FailureData struct {
	Error string `json:"error"`
}

// IntervalData is the payload of EventIntervalChanged.
type IntervalData struct {
	Interval time.Duration `json:"interval"`
	Seconds  float64       `json:"seconds"`
}

// RelayData is the payload of EventRelayActivated.
type RelayData struct {
	DeviceID string `json:"device_id"`
	RelayID  string `json:"relay_id"`
	Success  bool   `json:"success"`
}

// StateReader provides read-only access to state.
type StateReader interface {
	Snapshot() Snapshot
	Status() Status
}

var _ StateReader = (*Store)(nil)

// --- EventBus ---

// EventBus is a simple publish/subscribe event bus.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	log         *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(log *slog.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[int]chan Event),
		log:         log,
	}
}

// Publish sends an event to all subscribers without blocking. Events for a
// subscriber whose buffer is full are dropped.
func (b *EventBus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.log.Warn("event bus: subscriber buffer full, dropping event", "subscriber_id", id, "event_type", evt.Type)
		}
	}
}

// Subscribe returns a channel of events and an unsubscribe function. The
// channel is closed on unsubscribe.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

// --- Store ---

// Store holds the latest snapshot and refresh status of one account.
type Store struct {
	account string
	bus     *EventBus
	log     *slog.Logger

	mu          sync.RWMutex
	snapshot    Snapshot
	success     bool
	lastErr     error
	lastAttempt time.Time
	lastSuccess time.Time
	interval    time.Duration
}

// NewStore creates a store wired to the event bus.
func NewStore(account string, bus *EventBus, log *slog.Logger) *Store {
	return &Store{
		account:  account,
		bus:      bus,
		log:      log,
		snapshot: Snapshot{Devices: map[string]*device.Doorbell{}},
	}
}

// Snapshot returns a copy of the device map.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make(map[string]*device.Doorbell, len(s.snapshot.Devices))
	for k, v := range s.snapshot.Devices {
		devices[k] = v
	}
	return Snapshot{Devices: devices, TakenAt: s.snapshot.TakenAt}
}

func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Account:           s.account,
		LastUpdateSuccess: s.success,
		LastAttempt:       s.lastAttempt,
		LastSuccess:       s.lastSuccess,
		Interval:          s.interval,
		DeviceCount:       len(s.snapshot.Devices),
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Store) LastUpdateSuccess() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.success
}

// LastError returns the error of the last failed refresh, nil after a
// success.
func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// SetSnapshot records a successful refresh and publishes EventRefreshed.
func (s *Store) SetSnapshot(devices []*device.Doorbell) {
	now := time.Now().UTC()
	snap := Snapshot{Devices: make(map[string]*device.Doorbell, len(devices)), TakenAt: now}
	for _, d := range devices {
		snap.Devices[d.ID()] = d
	}

	s.mu.Lock()
	s.snapshot = snap
	s.success = true
	s.lastErr = nil
	s.lastAttempt = now
	s.lastSuccess = now
	s.mu.Unlock()

	s.bus.Publish(Event{Type: EventRefreshed, Account: s.account, Timestamp: now, Data: RefreshedData{Devices: snap.IDs()}})
}

// SetFailure records a failed refresh and publishes EventRefreshFailed. The
// previous snapshot is kept.
func (s *Store) SetFailure(err error) {
	now := time.Now().UTC()

	s.mu.Lock()
	s.success = false
	s.lastErr = err
	s.lastAttempt = now
	s.mu.Unlock()

	s.bus.Publish(Event{Type: EventRefreshFailed, Account: s.account, Timestamp: now, Data: FailureData{Error: err.Error()}})
}

// SetInterval records the polling interval and publishes
// EventIntervalChanged when it differs from the previous one.
func (s *Store) SetInterval(d time.Duration) {
	s.mu.Lock()
	changed := s.interval != d
	s.interval = d
	s.mu.Unlock()

	if changed {
		s.bus.Publish(Event{Type: EventIntervalChanged, Account: s.account, Data: IntervalData{Interval: d, Seconds: d.Seconds()}})
	}
}

// RelayActivated publishes the outcome of a relay activation.
func (s *Store) RelayActivated(deviceID, relayID string, ok bool) {
	s.bus.Publish(Event{Type: EventRelayActivated, Account: s.account, Data: RelayData{DeviceID: deviceID, RelayID: relayID, Success: ok}})
}
