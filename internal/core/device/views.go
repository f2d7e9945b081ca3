package device

import (
	"fmt"
	"time"

	"github.com/trymwestin/fenotek/internal/core/event"
)

// Events returns a copy of the event window, ascending by creation time.
func (d *Doorbell) Events() []event.Event {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]event.Event(nil), d.events...)
}

func (d *Doorbell) filter(p event.Predicate) []event.Event {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return event.Filter(d.events, p)
}

func (d *Doorbell) Calls() []event.Event { return d.filter(event.IsSub(event.SubAnsweredCall)) }

func (d *Doorbell) MissedCalls() []event.Event { return d.filter(event.IsSub(event.SubMissedCall)) }

func (d *Doorbell) Activations() []event.Event {
	return d.filter(event.IsSub(event.SubRelayActivation))
}

func (d *Doorbell) Motions() []event.Event { return d.filter(event.IsSub(event.SubMotionVideo)) }

func (d *Doorbell) Rings() []event.Event { return d.filter(event.IsSub(event.SubRing)) }

// Last returns the most recent event matching p.
func (d *Doorbell) Last(p event.Predicate) (event.Event, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return event.Last(d.events, p)
}

func (d *Doorbell) LastCall() (event.Event, bool) {
	return d.Last(event.IsSub(event.SubAnsweredCall))
}

func (d *Doorbell) LastMissedCall() (event.Event, bool) {
	return d.Last(event.IsSub(event.SubMissedCall))
}

func (d *Doorbell) LastMotion() (event.Event, bool) {
	return d.Last(event.IsSub(event.SubMotionVideo))
}

func (d *Doorbell) LastRing() (event.Event, bool) {
	return d.Last(event.IsSub(event.SubRing))
}

// LastActivation returns the latest relay activation. A non-empty label
// scopes it to the relay carrying that name.
func (d *Doorbell) LastActivation(label string) (event.Event, bool) {
	if label == "" {
		return d.Last(event.IsSub(event.SubRelayActivation))
	}
	return d.Last(event.IsActivationOf(label))
}

func (d *Doorbell) LastEvent() (event.Event, bool) {
	return d.Last(func(event.Event) bool { return true })
}

func (d *Doorbell) LastVideoEvent() (event.Event, bool) {
	return d.Last(event.HasVideo)
}

// LastHomeEvent is the last notification reported by the home summary.
func (d *Doorbell) LastHomeEvent() (event.Event, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.homeEvent == nil {
		return event.Event{}, false
	}
	return *d.homeEvent, true
}

// Kind names a derived view for adapters.
type Kind string

const (
	KindMotion     Kind = "motion"
	KindMissedCall Kind = "missed_call"
	KindCall       Kind = "call"
	KindRing       Kind = "ring"
	KindActivation Kind = "activation"
	KindEvent      Kind = "event"
	KindVideo      Kind = "video"
	KindHome       Kind = "home"
)

// Kinds lists every view in presentation order.
var Kinds = []Kind{KindMotion, KindMissedCall, KindCall, KindRing, KindActivation, KindEvent, KindVideo, KindHome}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("device: unknown view %q: %w", s, ErrUnknownKind)
}

// LastOf returns the view named by k.
func (d *Doorbell) LastOf(k Kind) (event.Event, bool) {
	switch k {
	case KindMotion:
		return d.LastMotion()
	case KindMissedCall:
		return d.LastMissedCall()
	case KindCall:
		return d.LastCall()
	case KindRing:
		return d.LastRing()
	case KindActivation:
		return d.LastActivation("")
	case KindEvent:
		return d.LastEvent()
	case KindVideo:
		return d.LastVideoEvent()
	case KindHome:
		return d.LastHomeEvent()
	default:
		return event.Event{}, false
	}
}

// View is a point-in-time copy of a doorbell for serialization.
type View struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name"`
	Manufacturer   string                 `json:"manufacturer"`
	Model          string                 `json:"model"`
	HWVersion      string                 `json:"hw_version"`
	SWVersion      string                 `json:"sw_version"`
	ConnectionType string                 `json:"connection_type"`
	Available      bool                   `json:"available"`
	MediaURL       string                 `json:"media_url,omitempty"`
	UpdatedAt      time.Time              `json:"updated_at"`
	Relays         []Relay                `json:"relays"`
	EventCount     int                    `json:"event_count"`
	Last           map[Kind]event.Event   `json:"last"`
	Activations    map[string]event.Event `json:"last_activation_by_relay,omitempty"`
}

// View copies the doorbell state.
func (d *Doorbell) View() View {
	v := View{
		ID:             d.id,
		Name:           d.Name(),
		Manufacturer:   Manufacturer,
		Model:          Model,
		HWVersion:      d.HWVersion(),
		SWVersion:      d.SWVersion(),
		ConnectionType: d.ConnectionType(),
		Available:      d.Available(),
		MediaURL:       d.MediaURL(),
		UpdatedAt:      d.UpdatedAt(),
		Relays:         d.Relays(),
		Last:           make(map[Kind]event.Event),
	}

	d.mu.RLock()
	v.EventCount = len(d.events)
	d.mu.RUnlock()

	for _, k := range Kinds {
		if ev, ok := d.LastOf(k); ok {
			v.Last[k] = ev
		}
	}
	for _, r := range v.Relays {
		if ev, ok := d.LastActivation(r.Name); ok {
			if v.Activations == nil {
				v.Activations = make(map[string]event.Event)
			}
			v.Activations[r.ID] = ev
		}
	}
	return v
}
