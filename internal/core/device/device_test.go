package device_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trymwestin/fenotek/internal/core/device"
	"github.com/trymwestin/fenotek/internal/core/event"
	"github.com/trymwestin/fenotek/internal/core/transport/wire"
)

type fakeAPI struct {
	mu            sync.Mutex
	profile       wire.Visiophone
	home          wire.Home
	notifications []wire.Notification
	docs          map[string]string
	pingOK        bool
	activateOK    bool
	failProfile   error
	failNotifs    error
	activations   []string
}

func (f *fakeAPI) GetDevice(_ context.Context, id string) (*wire.Visiophone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failProfile != nil {
		return nil, f.failProfile
	}
	p := f.profile
	p.ID = id
	return &p, nil
}

func (f *fakeAPI) GetHome(context.Context, string) (*wire.Home, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.home
	return &h, nil
}

func (f *fakeAPI) ListNotifications(context.Context, string) ([]wire.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNotifs != nil {
		return nil, f.failNotifs
	}
	return append([]wire.Notification(nil), f.notifications...), nil
}

func (f *fakeAPI) FetchJSON(_ context.Context, url string, out interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	out.(*wire.MediaDocument).Data.URL = f.docs[url]
	return nil
}

func (f *fakeAPI) Ping(context.Context, string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingOK
}

func (f *fakeAPI) ActivateRelay(_ context.Context, _, relayID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activations = append(f.activations, relayID)
	return f.activateOK, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func notif(id, category string, subType int, createdAt string) wire.Notification {
	return wire.Notification{
		ID:        id,
		Type:      category,
		Detail:    wire.NotificationDetail{Type: wire.Int(subType)},
		CreatedAt: createdAt,
	}
}

func newDoorbell(api *fakeAPI) *device.Doorbell {
	return device.New(api, "d1", discardLogger())
}

func TestUpdate_Profile(t *testing.T) {
	api := &fakeAPI{profile: wire.Visiophone{
		Description:    "Front door",
		Major:          2,
		Minor:          7,
		HiVersion:      "1.4.2",
		ConnectionType: "wifi",
	}}
	d := newDoorbell(api)

	assert.False(t, d.Updated())
	assert.Empty(t, d.Name())

	require.NoError(t, d.Update(context.Background()))
	assert.True(t, d.Updated())
	assert.Equal(t, "d1", d.ID())
	assert.Equal(t, "Front door", d.Name())
	assert.Equal(t, "CDVI", d.Manufacturer())
	assert.Equal(t, "Hi", d.Model())
	assert.Equal(t, "2.7", d.HWVersion())
	assert.Equal(t, "1.4.2", d.SWVersion())
	assert.Equal(t, "wifi", d.ConnectionType())
	assert.False(t, d.UpdatedAt().IsZero())
}

func TestUpdate_DerivedViews(t *testing.T) {
	api := &fakeAPI{notifications: []wire.Notification{
		notif("a", "notification", 11, "2024-01-01T00:00:00"),
		notif("b", "notification", 6, "2024-01-02T00:00:00"),
	}}
	d := newDoorbell(api)
	require.NoError(t, d.Update(context.Background()))

	motion, ok := d.LastMotion()
	require.True(t, ok)
	assert.Equal(t, "a", motion.ID)

	ring, ok := d.LastRing()
	require.True(t, ok)
	assert.Equal(t, "b", ring.ID)

	_, ok = d.LastCall()
	assert.False(t, ok)
	_, ok = d.LastMissedCall()
	assert.False(t, ok)

	last, ok := d.LastEvent()
	require.True(t, ok)
	assert.Equal(t, "b", last.ID)
}

func TestUpdate_EventsSortedAndReplaced(t *testing.T) {
	api := &fakeAPI{
		docs: map[string]string{"/doc/c2": "https://cdn.example.com/c2.mp4"},
		notifications: []wire.Notification{
			notif("m2", "notification", 11, "2024-01-05T00:00:00"),
			notif("c1", "call", 3, "2024-01-01T00:00:00"),
			notif("m1", "notification", 11, "2024-01-03T00:00:00"),
		},
	}
	d := newDoorbell(api)
	require.NoError(t, d.Update(context.Background()))

	events := d.Events()
	require.Len(t, events, 3)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].CreatedAt.Before(events[i-1].CreatedAt))
	}
	motion, _ := d.LastMotion()
	assert.Equal(t, "m2", motion.ID)
	assert.Len(t, d.Motions(), 2)
	assert.Len(t, d.Calls(), 1)

	c2 := notif("c2", "call", 3, "2024-01-06T00:00:00")
	c2.Detail.URL = "/doc/c2"
	api.mu.Lock()
	api.notifications = []wire.Notification{c2}
	api.mu.Unlock()
	require.NoError(t, d.Update(context.Background()))

	assert.Len(t, d.Events(), 1)
	_, ok := d.LastMotion()
	assert.False(t, ok, "events are replaced, not merged")

	call, ok := d.LastCall()
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/c2.mp4", call.VideoURL())

	video, ok := d.LastVideoEvent()
	require.True(t, ok)
	assert.Equal(t, "c2", video.ID)
}

func TestUpdate_RelaysPopulatedOnce(t *testing.T) {
	api := &fakeAPI{profile: wire.Visiophone{DryContacts: []wire.DryContact{
		{ID: "r1", Name: "Gate", Icon: "j", Delay: 3, CommandID: "c1"},
	}}}
	d := newDoorbell(api)
	require.NoError(t, d.Update(context.Background()))

	relays := d.Relays()
	require.Len(t, relays, 1)
	assert.Equal(t, "Gate", relays[0].Name)
	assert.Equal(t, 3*time.Second, relays[0].HoldDelay())

	api.mu.Lock()
	api.profile.DryContacts = []wire.DryContact{{ID: "r2", Name: "Door"}, {ID: "r3", Name: "Garage"}}
	api.mu.Unlock()
	require.NoError(t, d.Update(context.Background()))

	assert.Equal(t, relays, d.Relays())
	_, ok := d.Relay("r2")
	assert.False(t, ok)
}

func TestUpdate_RelaysWaitForNonEmptyList(t *testing.T) {
	api := &fakeAPI{}
	d := newDoorbell(api)
	require.NoError(t, d.Update(context.Background()))
	assert.Empty(t, d.Relays())

	api.mu.Lock()
	api.profile.DryContacts = []wire.DryContact{{ID: "r1", Name: "Gate"}}
	api.mu.Unlock()
	require.NoError(t, d.Update(context.Background()))
	assert.Len(t, d.Relays(), 1)
}

func TestUpdate_FailureLeavesStateUntouched(t *testing.T) {
	api := &fakeAPI{
		profile:       wire.Visiophone{Description: "Front door"},
		notifications: []wire.Notification{notif("a", "notification", 6, "2024-01-01T00:00:00")},
	}
	d := newDoorbell(api)
	require.NoError(t, d.Update(context.Background()))

	boom := errors.New("boom")
	api.mu.Lock()
	api.profile.Description = "Renamed"
	api.failNotifs = boom
	api.mu.Unlock()

	err := d.Update(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "Front door", d.Name())
	assert.Len(t, d.Events(), 1)
}

func TestUpdate_UnknownCategoryFails(t *testing.T) {
	api := &fakeAPI{notifications: []wire.Notification{notif("x", "doorbellv2", 6, "2024-01-01T00:00:00")}}
	d := newDoorbell(api)
	assert.ErrorIs(t, d.Update(context.Background()), event.ErrClassification)
}

func TestPing(t *testing.T) {
	api := &fakeAPI{pingOK: true}
	d := newDoorbell(api)
	assert.False(t, d.Available())

	require.NoError(t, d.Update(context.Background()))
	assert.False(t, d.Available(), "update does not change availability")

	assert.True(t, d.Ping(context.Background()))
	assert.True(t, d.Available())

	api.mu.Lock()
	api.pingOK = false
	api.mu.Unlock()
	assert.False(t, d.Ping(context.Background()))
	assert.False(t, d.Available())
}

func TestLastActivationByLabel(t *testing.T) {
	gate := notif("g", "drycontact", 10, "2024-01-01T00:00:00")
	gate.Detail.Label = "Gate"
	door := notif("d", "drycontact", 10, "2024-01-02T00:00:00")
	door.Detail.Label = "Door"
	api := &fakeAPI{notifications: []wire.Notification{gate, door}}
	d := newDoorbell(api)
	require.NoError(t, d.Update(context.Background()))

	got, ok := d.LastActivation("Gate")
	require.True(t, ok)
	assert.Equal(t, "g", got.ID)

	got, ok = d.LastActivation("")
	require.True(t, ok)
	assert.Equal(t, "d", got.ID)

	_, ok = d.LastActivation("Garage")
	assert.False(t, ok)
	assert.Len(t, d.Activations(), 2)
}

func TestLastHomeEvent(t *testing.T) {
	last := notif("h", "missedcall", 8, "2024-01-01T00:00:00Z")
	api := &fakeAPI{home: wire.Home{LastNotification: &last, MediaURL: "https://cdn.example.com/still.jpg"}}
	d := newDoorbell(api)

	_, ok := d.LastHomeEvent()
	assert.False(t, ok)

	require.NoError(t, d.Update(context.Background()))
	ev, ok := d.LastHomeEvent()
	require.True(t, ok)
	assert.Equal(t, "h", ev.ID)
	assert.Equal(t, event.SubMissedCall, ev.SubCategory)
	assert.Equal(t, "https://cdn.example.com/still.jpg", d.MediaURL())
}

func TestActivateRelay(t *testing.T) {
	api := &fakeAPI{
		activateOK: true,
		profile:    wire.Visiophone{DryContacts: []wire.DryContact{{ID: "r1", Name: "Gate"}}},
	}
	d := newDoorbell(api)
	require.NoError(t, d.Update(context.Background()))

	ok, err := d.ActivateRelay(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = d.ActivateRelay(context.Background(), "nope")
	assert.ErrorIs(t, err, device.ErrUnknownRelay)
	assert.Equal(t, []string{"r1"}, api.activations)
}

func TestView(t *testing.T) {
	gate := notif("g", "drycontact", 10, "2024-01-01T00:00:00")
	gate.Detail.Label = "Gate"
	api := &fakeAPI{
		profile: wire.Visiophone{
			Description: "Front door",
			DryContacts: []wire.DryContact{{ID: "r1", Name: "Gate"}, {ID: "r2", Name: "Door"}},
		},
		notifications: []wire.Notification{gate, notif("a", "notification", 11, "2024-01-02T00:00:00")},
	}
	d := newDoorbell(api)
	require.NoError(t, d.Update(context.Background()))

	v := d.View()
	assert.Equal(t, "Front door", v.Name)
	assert.Equal(t, 2, v.EventCount)
	assert.Equal(t, "a", v.Last[device.KindMotion].ID)
	assert.Equal(t, "a", v.Last[device.KindEvent].ID)
	assert.NotContains(t, v.Last, device.KindRing)
	assert.Equal(t, "g", v.Activations["r1"].ID)
	assert.NotContains(t, v.Activations, "r2")
}

func TestParseKind(t *testing.T) {
	k, err := device.ParseKind("missed_call")
	require.NoError(t, err)
	assert.Equal(t, device.KindMissedCall, k)

	_, err = device.ParseKind("visitor")
	assert.ErrorIs(t, err, device.ErrUnknownKind)
}
