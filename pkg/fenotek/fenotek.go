// Package fenotek provides a public facade re-exporting core types
// for external consumers of this module.
package fenotek

import (
	"log/slog"

	"github.com/trymwestin/fenotek/internal/core/account"
	"github.com/trymwestin/fenotek/internal/core/coordinator"
	"github.com/trymwestin/fenotek/internal/core/device"
	"github.com/trymwestin/fenotek/internal/core/event"
	"github.com/trymwestin/fenotek/internal/core/registry"
	"github.com/trymwestin/fenotek/internal/core/state"
	"github.com/trymwestin/fenotek/internal/core/transport"
)

// Re-export core types for external use.
type (
	// Client is the authenticated session with the Fenotek backend.
	Client = transport.Client
	// ClientConfig configures a Client.
	ClientConfig = transport.Config
	// Account owns the doorbells of one credential.
	Account = account.Account
	// Doorbell is one device with its event window and relays.
	Doorbell = device.Doorbell
	// Relay is a dry contact of a doorbell.
	Relay = device.Relay
	// Kind names a derived "last event" view.
	Kind = device.Kind
	// DoorbellView is a serializable copy of a doorbell.
	DoorbellView = device.View
	// Event is one classified notification.
	Event = event.Event
	// Category is the coarse event class.
	Category = event.Category
	// SubCategory is the fine event class.
	SubCategory = event.SubCategory
	// Registry holds the set up accounts.
	Registry = registry.Registry
	// AccountConfig is everything needed to set up one account.
	AccountConfig = registry.AccountConfig
	// RefreshConfig bounds the polling interval.
	RefreshConfig = coordinator.Config
	// Status is the refresh health of one account.
	Status = state.Status
	// BusEvent is a state change published on the event bus.
	BusEvent = state.Event
	// BusEventType identifies bus event categories.
	BusEventType = state.EventType
)

// Sub-category constants.
const (
	SubMotionPhoto       = event.SubMotionPhoto
	SubAnsweredCall      = event.SubAnsweredCall
	SubRing              = event.SubRing
	SubShake             = event.SubShake
	SubMissedCall        = event.SubMissedCall
	SubRelayActivation   = event.SubRelayActivation
	SubMotionVideo       = event.SubMotionVideo
	SubDeviceUnreachable = event.SubDeviceUnreachable
	SubDeviceReachable   = event.SubDeviceReachable
	SubUnknown           = event.SubUnknown
)

// View kinds.
const (
	KindMotion     = device.KindMotion
	KindMissedCall = device.KindMissedCall
	KindCall       = device.KindCall
	KindRing       = device.KindRing
	KindActivation = device.KindActivation
	KindEvent      = device.KindEvent
	KindVideo      = device.KindVideo
	KindHome       = device.KindHome
)

// Bus event type constants.
const (
	EventRefreshed       = state.EventRefreshed
	EventRefreshFailed   = state.EventRefreshFailed
	EventIntervalChanged = state.EventIntervalChanged
	EventRelayActivated  = state.EventRelayActivated
)

// Errors, for errors.Is.
var (
	ErrAuth           = registry.ErrAuth
	ErrUnknownAccount = registry.ErrUnknownAccount
	ErrUnknownDevice  = registry.ErrUnknownDevice
	ErrUnknownRelay   = device.ErrUnknownRelay
	ErrRefreshFailed  = coordinator.ErrRefreshFailed
	ErrClassification = event.ErrClassification
)

// NewRegistry returns an empty registry with its own event bus.
func NewRegistry(log *slog.Logger) *Registry {
	return registry.New(state.NewEventBus(log), log)
}
