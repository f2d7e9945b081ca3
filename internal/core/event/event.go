// Package event turns raw backend notifications into typed, immutable events.
package event

import "time"

// Category is the coarse classification of an event.
type Category string

const (
	CategoryRelayActivation Category = "relay_activation"
	CategoryNotification    Category = "notification"
	CategoryAnsweredCall    Category = "answered_call"
	CategoryMissedCall      Category = "missed_call"
	CategoryConnected       Category = "connected"
	CategoryDisconnected    Category = "disconnected"
)

// SubCategory is the fine-grained classification of an event.
type SubCategory string

const (
	SubMotionPhoto       SubCategory = "motion_photo"
	SubAnsweredCall      SubCategory = "answered_call"
	SubRing              SubCategory = "ring"
	SubShake             SubCategory = "shake"
	SubMissedCall        SubCategory = "missed_call"
	SubRelayActivation   SubCategory = "relay_activation"
	SubMotionVideo       SubCategory = "motion_video"
	SubDeviceUnreachable SubCategory = "device_unreachable"
	SubDeviceReachable   SubCategory = "device_reachable"
	SubUnknown           SubCategory = "unknown"
)

// Event is one classified notification. Values are never mutated after
// construction; Resolve returns a modified copy.
type Event struct {
	ID          string      `json:"id"`
	Category    Category    `json:"category"`
	SubCategory SubCategory `json:"sub_category"`
	// Code is the raw detail type, NoCode when absent.
	Code      int       `json:"code"`
	CreatedAt time.Time `json:"created_at"`
	// Label names what was triggered, e.g. the relay of an activation.
	Label string `json:"label,omitempty"`
	// Name is who triggered the event.
	Name       string `json:"name,omitempty"`
	AnsweredBy string `json:"answered_by,omitempty"`
	Room       string `json:"room,omitempty"`
	Recorded   bool   `json:"recorded,omitempty"`
	// URL is a JPEG, or a JSON document pointing at an MP4 for calls.
	URL      string `json:"url,omitempty"`
	Download string `json:"download,omitempty"`
	// ResolvedVideoURL is filled by the follow-up fetch of call events.
	ResolvedVideoURL string `json:"resolved_video_url,omitempty"`
}

// VideoURL returns the resolved video URL, falling back to URL.
func (e Event) VideoURL() string {
	if e.ResolvedVideoURL != "" {
		return e.ResolvedVideoURL
	}
	return e.URL
}

// NeedsResolution reports whether URL must be followed to find the video.
func (e Event) NeedsResolution() bool {
	if e.URL == "" {
		return false
	}
	return e.SubCategory == SubAnsweredCall || e.SubCategory == SubMissedCall
}

// StillURL returns the image of the event. Call URLs point at a JSON
// document, so calls use their downloadable capture instead.
func (e Event) StillURL() string {
	if e.NeedsResolution() {
		return e.Download
	}
	return e.URL
}

// Predicate selects events.
type Predicate func(Event) bool

// IsSub matches events of any of the given sub-categories.
func IsSub(subs ...SubCategory) Predicate {
	return func(e Event) bool {
		for _, s := range subs {
			if e.SubCategory == s {
				return true
			}
		}
		return false
	}
}

// IsActivationOf matches relay activations carrying label.
func IsActivationOf(label string) Predicate {
	return func(e Event) bool {
		return e.SubCategory == SubRelayActivation && e.Label == label
	}
}

// HasVideo matches events with a playable video.
func HasVideo(e Event) bool {
	return e.VideoURL() != ""
}

// Filter returns the events matching p, keeping their order.
func Filter(events []Event, p Predicate) []Event {
	var out []Event
	for _, e := range events {
		if p(e) {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the final event matching p. On a list sorted by CreatedAt this
// is the most recent match, ties resolved by list order.
func Last(events []Event, p Predicate) (Event, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		if p(events[i]) {
			return events[i], true
		}
	}
	return Event{}, false
}
