package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/trymwestin/fenotek/internal/core/device"
	"github.com/trymwestin/fenotek/internal/core/event"
	"github.com/trymwestin/fenotek/internal/core/state"
)

// relayIcons maps the backend icon codes of dry contacts to HA icons.
var relayIcons = map[string]string{
	"W": "mdi:door",
	"j": "mdi:gate",
}

// imageKinds are the views exposed as image entities, with their names.
var imageKinds = []struct {
	kind device.Kind
	name string
}{
	{device.KindRing, "Last ring"},
	{device.KindMotion, "Last motion"},
	{device.KindMissedCall, "Last missed call"},
	{device.KindCall, "Last answered call"},
	{device.KindVideo, "Last event"},
}

// Message is one MQTT publication.
type Message struct {
	Topic    string
	Payload  string
	Retained bool
}

// Topics builds the topic layout of the publisher.
type Topics struct {
	Prefix    string
	Discovery string
}

// Availability is the bridge's online/offline topic.
func (t Topics) Availability() string {
	return t.Prefix + "/status"
}

// Device builds {prefix}/{device_id}/{suffix}.
func (t Topics) Device(deviceID, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", t.Prefix, deviceID, suffix)
}

// DiscoveryConfig builds the HA auto-discovery topic.
func (t Topics) DiscoveryConfig(component, deviceID, objectID string) string {
	return fmt.Sprintf("%s/%s/%s_%s/config", t.Discovery, component, deviceID, objectID)
}

// BirthTopic is where Home Assistant announces itself.
func (t Topics) BirthTopic() string {
	return t.Discovery + "/status"
}

func (t Topics) relayCommandFilter() string {
	return t.Prefix + "/+/relay/+/activate"
}

func (t Topics) intervalCommandFilter() string {
	return t.Prefix + "/+/interval/set"
}

// command is a parsed command topic.
type command struct {
	kind     string // "relay" or "interval"
	deviceID string
	relayID  string
}

// parseCommand recognises {prefix}/{device}/relay/{relay}/activate and
// {prefix}/{device}/interval/set.
func (t Topics) parseCommand(topic string) (command, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/")
	if !ok {
		return command{}, false
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 4 && parts[1] == "relay" && parts[3] == "activate" && parts[0] != "" && parts[2] != "":
		return command{kind: "relay", deviceID: parts[0], relayID: parts[2]}, true
	case len(parts) == 3 && parts[1] == "interval" && parts[2] == "set" && parts[0] != "":
		return command{kind: "interval", deviceID: parts[0]}, true
	default:
		return command{}, false
	}
}

// parseSeconds reads a number entity payload ("30" or "30.0").
func parseSeconds(payload string) (time.Duration, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(f * float64(time.Second)), nil
}

func deviceInfo(d *device.Doorbell) map[string]interface{} {
	info := map[string]interface{}{
		"identifiers":  []string{"fenotek_" + d.ID()},
		"name":         d.Name(),
		"manufacturer": d.Manufacturer(),
		"model":        d.Model(),
	}
	if v := d.HWVersion(); v != "" {
		info["hw_version"] = v
	}
	if v := d.SWVersion(); v != "" {
		info["sw_version"] = v
	}
	return info
}

// objectID sanitises an id for use in topics and unique ids.
func objectID(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// DiscoveryMessages returns the retained discovery configs of one doorbell.
func DiscoveryMessages(t Topics, d *device.Doorbell, minInterval, maxInterval time.Duration) ([]Message, error) {
	id := d.ID()
	dev := deviceInfo(d)
	avail := []map[string]interface{}{
		{"topic": t.Availability()},
		{"topic": t.Device(id, "available/state")},
	}

	type config struct {
		component string
		objectID  string
		payload   map[string]interface{}
	}
	var configs []config
	add := func(component, object string, payload map[string]interface{}) {
		payload["unique_id"] = fmt.Sprintf("fenotek_%s_%s", id, object)
		payload["device"] = dev
		configs = append(configs, config{component, object, payload})
	}

	add("binary_sensor", "connectivity", map[string]interface{}{
		"name":         "Connectivity",
		"state_topic":  t.Device(id, "available/state"),
		"device_class": "connectivity",
		"payload_on":   "ON",
		"payload_off":  "OFF",
		"availability": []map[string]interface{}{{"topic": t.Availability()}},
	})

	add("binary_sensor", "refresh_problem", map[string]interface{}{
		"name":                  "Refresh problem",
		"state_topic":           t.Device(id, "refresh/state"),
		"json_attributes_topic": t.Device(id, "refresh/attributes"),
		"device_class":          "problem",
		"entity_category":       "diagnostic",
		"payload_on":            "ON",
		"payload_off":           "OFF",
		"availability":          []map[string]interface{}{{"topic": t.Availability()}},
	})

	add("number", "refresh_interval", map[string]interface{}{
		"name":                "Refresh interval",
		"state_topic":         t.Device(id, "interval/state"),
		"command_topic":       t.Device(id, "interval/set"),
		"min":                 minInterval.Seconds(),
		"max":                 maxInterval.Seconds(),
		"step":                1,
		"mode":                "box",
		"unit_of_measurement": "s",
		"entity_category":     "config",
		"icon":                "mdi:timer-refresh",
		"availability":        []map[string]interface{}{{"topic": t.Availability()}},
	})

	add("sensor", "last_event", map[string]interface{}{
		"name":                  "Last event",
		"state_topic":           t.Device(id, "last/event/state"),
		"json_attributes_topic": t.Device(id, "last/event/attributes"),
		"icon":                  "mdi:doorbell",
		"availability":          avail,
		"availability_mode":     "all",
	})

	for _, k := range imageKinds {
		kind := string(k.kind)
		add("image", "image_"+kind, map[string]interface{}{
			"name":                  k.name,
			"url_topic":             t.Device(id, "last/"+kind+"/image"),
			"json_attributes_topic": t.Device(id, "last/"+kind+"/attributes"),
			"content_type":          "image/jpeg",
			"availability":          avail,
			"availability_mode":     "all",
		})
	}

	for _, r := range d.Relays() {
		rid := objectID(r.ID)
		button := map[string]interface{}{
			"name":              r.Name,
			"command_topic":     t.Device(id, "relay/"+r.ID+"/activate"),
			"payload_press":     "PRESS",
			"availability":      avail,
			"availability_mode": "all",
		}
		if icon, ok := relayIcons[r.Icon]; ok {
			button["icon"] = icon
		}
		add("button", "relay_"+rid, button)

		add("sensor", "relay_"+rid+"_last_activation", map[string]interface{}{
			"name":              r.Name + " last activation",
			"state_topic":       t.Device(id, "relay/"+r.ID+"/last_activation"),
			"device_class":      "timestamp",
			"availability":      avail,
			"availability_mode": "all",
		})
	}

	out := make([]Message, 0, len(configs))
	for _, c := range configs {
		data, err := json.Marshal(c.payload)
		if err != nil {
			return nil, fmt.Errorf("mqtt: discovery %s/%s: %w", c.component, c.objectID, err)
		}
		out = append(out, Message{Topic: t.DiscoveryConfig(c.component, objectID(id), c.objectID), Payload: string(data), Retained: true})
	}
	return out, nil
}

// eventAttributes is the attribute payload of a "last X" entity.
type eventAttributes struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	SubCategory string    `json:"sub_category"`
	CreatedAt   time.Time `json:"created_at"`
	Label       string    `json:"label,omitempty"`
	Name        string    `json:"name,omitempty"`
	AnsweredBy  string    `json:"answered_by,omitempty"`
	VideoURL    string    `json:"video_url,omitempty"`
	Download    string    `json:"download,omitempty"`
}

func attributes(ev event.Event) eventAttributes {
	return eventAttributes{
		ID:          ev.ID,
		Category:    string(ev.Category),
		SubCategory: string(ev.SubCategory),
		CreatedAt:   ev.CreatedAt,
		Label:       ev.Label,
		Name:        ev.Name,
		AnsweredBy:  ev.AnsweredBy,
		VideoURL:    ev.VideoURL(),
		Download:    ev.Download,
	}
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

// StateMessages returns the retained state of one doorbell. Views without an
// event are skipped so HA keeps its last value.
func StateMessages(t Topics, d *device.Doorbell, st state.Status) ([]Message, error) {
	id := d.ID()
	out := []Message{
		{Topic: t.Device(id, "available/state"), Payload: onOff(d.Available()), Retained: true},
		{Topic: t.Device(id, "interval/state"), Payload: strconv.FormatFloat(st.Interval.Seconds(), 'f', -1, 64), Retained: true},
	}

	refresh, err := RefreshMessages(t, id, st)
	if err != nil {
		return nil, err
	}
	out = append(out, refresh...)

	addAttrs := func(topic string, ev event.Event) error {
		data, err := json.Marshal(attributes(ev))
		if err != nil {
			return fmt.Errorf("mqtt: attributes %s: %w", ev.ID, err)
		}
		out = append(out, Message{Topic: topic, Payload: string(data), Retained: true})
		return nil
	}

	if ev, ok := d.LastEvent(); ok {
		out = append(out, Message{Topic: t.Device(id, "last/event/state"), Payload: string(ev.SubCategory), Retained: true})
		if err := addAttrs(t.Device(id, "last/event/attributes"), ev); err != nil {
			return nil, err
		}
	}

	for _, k := range imageKinds {
		ev, ok := d.LastOf(k.kind)
		if !ok {
			continue
		}
		kind := string(k.kind)
		if u := ev.StillURL(); u != "" {
			out = append(out, Message{Topic: t.Device(id, "last/"+kind+"/image"), Payload: u, Retained: true})
		}
		if err := addAttrs(t.Device(id, "last/"+kind+"/attributes"), ev); err != nil {
			return nil, err
		}
	}

	for _, r := range d.Relays() {
		if ev, ok := d.LastActivation(r.Name); ok {
			out = append(out, Message{
				Topic:    t.Device(id, "relay/"+r.ID+"/last_activation"),
				Payload:  ev.CreatedAt.UTC().Format(time.RFC3339),
				Retained: true,
			})
		}
	}
	return out, nil
}

// RefreshMessages returns the refresh problem state of one doorbell.
func RefreshMessages(t Topics, deviceID string, st state.Status) ([]Message, error) {
	attrs := map[string]interface{}{
		"last_attempt": st.LastAttempt,
		"last_success": st.LastSuccess,
	}
	if st.LastError != "" {
		attrs["last_error"] = st.LastError
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("mqtt: refresh attributes: %w", err)
	}
	return []Message{
		{Topic: t.Device(deviceID, "refresh/state"), Payload: onOff(!st.LastUpdateSuccess), Retained: true},
		{Topic: t.Device(deviceID, "refresh/attributes"), Payload: string(data), Retained: true},
	}, nil
}
