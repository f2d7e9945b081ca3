package state_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trymwestin/fenotek/internal/core/device"
	"github.com/trymwestin/fenotek/internal/core/state"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recv(t *testing.T, ch <-chan state.Event) state.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return state.Event{}
	}
}

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := state.NewEventBus(discardLogger())
	a, unsubA := bus.Subscribe(4)
	b, unsubB := bus.Subscribe(4)
	defer unsubA()
	defer unsubB()

	bus.Publish(state.Event{Type: state.EventRefreshed, Account: "x"})

	for _, ch := range []<-chan state.Event{a, b} {
		evt := recv(t, ch)
		assert.Equal(t, state.EventRefreshed, evt.Type)
		assert.False(t, evt.Timestamp.IsZero())
	}
}

func TestEventBus_FullBufferDrops(t *testing.T) {
	bus := state.NewEventBus(discardLogger())
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	bus.Publish(state.Event{Type: state.EventRefreshed})
	bus.Publish(state.Event{Type: state.EventRefreshFailed})

	assert.Equal(t, state.EventRefreshed, recv(t, ch).Type)
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %v", evt.Type)
	default:
	}
}

func TestEventBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := state.NewEventBus(discardLogger())
	ch, unsub := bus.Subscribe(1)

	unsub()
	unsub()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.Publish(state.Event{Type: state.EventRefreshed})
}

func TestStore_SnapshotAndFailure(t *testing.T) {
	bus := state.NewEventBus(discardLogger())
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	store := state.NewStore("owner@example.com", bus, discardLogger())
	assert.False(t, store.LastUpdateSuccess())
	assert.Empty(t, store.Snapshot().Devices)

	d1 := device.New(nil, "d1", discardLogger())
	d2 := device.New(nil, "d2", discardLogger())
	store.SetSnapshot([]*device.Doorbell{d2, d1})

	evt := recv(t, ch)
	assert.Equal(t, state.EventRefreshed, evt.Type)
	assert.Equal(t, "owner@example.com", evt.Account)
	assert.Equal(t, state.RefreshedData{Devices: []string{"d1", "d2"}}, evt.Data)
	assert.True(t, store.LastUpdateSuccess())

	snap := store.Snapshot()
	require.Len(t, snap.Devices, 2)
	assert.Same(t, d1, snap.Devices["d1"])

	store.SetFailure(errors.New("boom"))
	evt = recv(t, ch)
	assert.Equal(t, state.EventRefreshFailed, evt.Type)
	assert.Equal(t, state.FailureData{Error: "boom"}, evt.Data)

	assert.False(t, store.LastUpdateSuccess())
	assert.EqualError(t, store.LastError(), "boom")
	assert.Len(t, store.Snapshot().Devices, 2, "failure keeps the previous snapshot")

	st := store.Status()
	assert.False(t, st.LastUpdateSuccess)
	assert.Equal(t, "boom", st.LastError)
	assert.Equal(t, 2, st.DeviceCount)
	assert.True(t, st.LastAttempt.After(st.LastSuccess) || st.LastAttempt.Equal(st.LastSuccess))
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	store := state.NewStore("a", state.NewEventBus(discardLogger()), discardLogger())
	store.SetSnapshot([]*device.Doorbell{device.New(nil, "d1", discardLogger())})

	snap := store.Snapshot()
	delete(snap.Devices, "d1")
	assert.Len(t, store.Snapshot().Devices, 1)
}

func TestStore_SetIntervalPublishesChanges(t *testing.T) {
	bus := state.NewEventBus(discardLogger())
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	store := state.NewStore("a", bus, discardLogger())
	store.SetInterval(20 * time.Second)
	store.SetInterval(20 * time.Second)
	store.SetInterval(5 * time.Second)

	first := recv(t, ch)
	assert.Equal(t, state.IntervalData{Interval: 20 * time.Second, Seconds: 20}, first.Data)
	second := recv(t, ch)
	assert.Equal(t, state.IntervalData{Interval: 5 * time.Second, Seconds: 5}, second.Data)
	assert.Equal(t, 5*time.Second, store.Status().Interval)
}

func TestStore_RelayActivated(t *testing.T) {
	bus := state.NewEventBus(discardLogger())
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	store := state.NewStore("a", bus, discardLogger())
	store.RelayActivated("d1", "r1", true)

	evt := recv(t, ch)
	assert.Equal(t, state.EventRelayActivated, evt.Type)
	assert.Equal(t, state.RelayData{DeviceID: "d1", RelayID: "r1", Success: true}, evt.Data)
}
