package event_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trymwestin/fenotek/internal/core/event"
	"github.com/trymwestin/fenotek/internal/core/transport/wire"
)

type fakeFetcher struct {
	mu    sync.Mutex
	docs  map[string]string
	err   error
	calls []string
}

func (f *fakeFetcher) FetchJSON(_ context.Context, url string, out interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if f.err != nil {
		return f.err
	}
	doc, ok := out.(*wire.MediaDocument)
	if !ok {
		return errors.New("unexpected target")
	}
	doc.Data.URL = f.docs[url]
	return nil
}

func raw(id, category string, subType int, createdAt string) wire.Notification {
	return wire.Notification{
		ID:        id,
		Type:      category,
		Detail:    wire.NotificationDetail{Type: wire.Int(subType)},
		CreatedAt: createdAt,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		raw      wire.Notification
		category event.Category
		sub      event.SubCategory
		code     int
	}{
		{"motion video", raw("1", "notification", 11, "2024-01-01T00:00:00"), event.CategoryNotification, event.SubMotionVideo, 11},
		{"motion photo", raw("2", "notification", 0, "2024-01-01T00:00:00"), event.CategoryNotification, event.SubMotionPhoto, 0},
		{"ring", raw("3", "notification", 6, "2024-01-01T00:00:00"), event.CategoryNotification, event.SubRing, 6},
		{"answered call", raw("4", "call", 3, "2024-01-01T00:00:00"), event.CategoryAnsweredCall, event.SubAnsweredCall, 3},
		{"missed call", raw("5", "missedcall", 8, "2024-01-01T00:00:00"), event.CategoryMissedCall, event.SubMissedCall, 8},
		{"activation", raw("6", "drycontact", 10, "2024-01-01T00:00:00"), event.CategoryRelayActivation, event.SubRelayActivation, 10},
		{"unreachable", raw("7", "disconnected", 12, "2024-01-01T00:00:00"), event.CategoryDisconnected, event.SubDeviceUnreachable, 12},
		{"reachable", raw("8", "connected", 13, "2024-01-01T00:00:00"), event.CategoryConnected, event.SubDeviceReachable, 13},
		{"unknown code", raw("9", "notification", 42, "2024-01-01T00:00:00"), event.CategoryNotification, event.SubUnknown, 42},
		{"missing code", wire.Notification{ID: "10", Type: "notification", CreatedAt: "2024-01-01T00:00:00Z"}, event.CategoryNotification, event.SubUnknown, event.NoCode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := event.Classify(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.category, ev.Category)
			assert.Equal(t, tt.sub, ev.SubCategory)
			assert.Equal(t, tt.code, ev.Code)
		})
	}
}

func TestClassify_UnknownCategoryFails(t *testing.T) {
	_, err := event.Classify(raw("x", "doorbellv2", 6, "2024-01-01T00:00:00"))
	require.Error(t, err)
	assert.ErrorIs(t, err, event.ErrClassification)

	var cerr *event.ClassificationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "x", cerr.ID)
	assert.Equal(t, "category", cerr.Field)
}

func TestClassify_BadTimestampFails(t *testing.T) {
	_, err := event.Classify(raw("x", "notification", 6, "yesterday"))
	assert.ErrorIs(t, err, event.ErrClassification)
}

func TestClassify_TimestampsAreUTC(t *testing.T) {
	naive, err := event.Classify(raw("a", "notification", 6, "2024-01-01T10:00:00"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), naive.CreatedAt)

	zoned, err := event.Classify(raw("b", "notification", 6, "2024-01-01T12:00:00.500+02:00"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 500_000_000, time.UTC), zoned.CreatedAt)
	assert.Equal(t, time.UTC, zoned.CreatedAt.Location())
}

func TestClassify_CarriesDetail(t *testing.T) {
	r := raw("a", "drycontact", 10, "2024-01-01T00:00:00Z")
	r.Detail.Label = "Gate"
	r.Detail.Name = "Alice"
	r.Detail.URL = "https://cdn.example.com/a.jpg"
	r.Detail.Download = "https://cdn.example.com/a.jpg?dl=1"

	ev, err := event.Classify(r)
	require.NoError(t, err)
	assert.Equal(t, "Gate", ev.Label)
	assert.Equal(t, "Alice", ev.Name)
	assert.Equal(t, "https://cdn.example.com/a.jpg", ev.VideoURL())
	assert.Equal(t, "https://cdn.example.com/a.jpg?dl=1", ev.Download)
}

func TestResolve(t *testing.T) {
	f := &fakeFetcher{docs: map[string]string{"/doc/1": "https://cdn.example.com/1.mp4"}}

	call := raw("c", "call", 3, "2024-01-01T00:00:00")
	call.Detail.URL = "/doc/1"
	ev, err := event.Classify(call)
	require.NoError(t, err)

	resolved, err := event.Resolve(context.Background(), f, ev)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/1.mp4", resolved.ResolvedVideoURL)
	assert.Equal(t, "https://cdn.example.com/1.mp4", resolved.VideoURL())
	assert.Empty(t, ev.ResolvedVideoURL, "original event must stay untouched")
}

func TestResolve_SkipsNonCalls(t *testing.T) {
	f := &fakeFetcher{}

	ring := raw("r", "notification", 6, "2024-01-01T00:00:00")
	ring.Detail.URL = "https://cdn.example.com/ring.jpg"
	ev, err := event.Classify(ring)
	require.NoError(t, err)

	got, err := event.Resolve(context.Background(), f, ev)
	require.NoError(t, err)
	assert.Equal(t, ev, got)
	assert.Empty(t, f.calls)
}

func TestBuild_SortsAndResolves(t *testing.T) {
	f := &fakeFetcher{docs: map[string]string{
		"/doc/m": "https://cdn.example.com/m.mp4",
		"/doc/c": "https://cdn.example.com/c.mp4",
	}}

	missed := raw("m", "missedcall", 8, "2024-01-03T00:00:00")
	missed.Detail.URL = "/doc/m"
	call := raw("c", "call", 3, "2024-01-01T00:00:00")
	call.Detail.URL = "/doc/c"
	raws := []wire.Notification{
		raw("late", "notification", 6, "2024-01-04T00:00:00"),
		missed,
		raw("tie1", "notification", 11, "2024-01-02T00:00:00"),
		raw("tie2", "notification", 6, "2024-01-02T00:00:00"),
		call,
	}

	events, err := event.Build(context.Background(), f, raws)
	require.NoError(t, err)

	var ids []string
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	assert.Equal(t, []string{"c", "tie1", "tie2", "m", "late"}, ids)
	assert.Equal(t, "https://cdn.example.com/c.mp4", events[0].ResolvedVideoURL)
	assert.Equal(t, "https://cdn.example.com/m.mp4", events[3].ResolvedVideoURL)
	assert.Len(t, f.calls, 2)

	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].CreatedAt.Before(events[i-1].CreatedAt))
	}
}

func TestBuild_PropagatesFetchError(t *testing.T) {
	boom := errors.New("boom")
	f := &fakeFetcher{err: boom}

	call := raw("c", "call", 3, "2024-01-01T00:00:00")
	call.Detail.URL = "/doc/c"

	_, err := event.Build(context.Background(), f, []wire.Notification{call})
	assert.ErrorIs(t, err, boom)
}

func TestBuild_UnknownCategoryFails(t *testing.T) {
	raws := []wire.Notification{
		raw("a", "notification", 6, "2024-01-01T00:00:00"),
		raw("b", "visitor", 6, "2024-01-01T00:00:00"),
	}
	_, err := event.Build(context.Background(), &fakeFetcher{}, raws)
	assert.ErrorIs(t, err, event.ErrClassification)
}

func TestLastViews(t *testing.T) {
	raws := []wire.Notification{
		raw("a", "notification", 11, "2024-01-01T00:00:00"),
		raw("b", "notification", 6, "2024-01-02T00:00:00"),
	}
	events, err := event.Build(context.Background(), &fakeFetcher{}, raws)
	require.NoError(t, err)

	motion, ok := event.Last(events, event.IsSub(event.SubMotionVideo))
	require.True(t, ok)
	assert.Equal(t, "a", motion.ID)

	ring, ok := event.Last(events, event.IsSub(event.SubRing))
	require.True(t, ok)
	assert.Equal(t, "b", ring.ID)

	_, ok = event.Last(events, event.IsSub(event.SubAnsweredCall))
	assert.False(t, ok)
}

func TestIsActivationOf(t *testing.T) {
	gate := raw("g", "drycontact", 10, "2024-01-01T00:00:00")
	gate.Detail.Label = "Gate"
	door := raw("d", "drycontact", 10, "2024-01-02T00:00:00")
	door.Detail.Label = "Door"

	events, err := event.Build(context.Background(), &fakeFetcher{}, []wire.Notification{gate, door})
	require.NoError(t, err)

	got, ok := event.Last(events, event.IsActivationOf("Gate"))
	require.True(t, ok)
	assert.Equal(t, "g", got.ID)
	assert.Len(t, event.Filter(events, event.IsSub(event.SubRelayActivation)), 2)
}

func TestStillURL(t *testing.T) {
	ring := event.Event{SubCategory: event.SubRing, URL: "https://cdn.example.com/ring.jpg"}
	assert.Equal(t, "https://cdn.example.com/ring.jpg", ring.StillURL())

	call := event.Event{
		SubCategory: event.SubMissedCall,
		URL:         "https://api.example.com/doc/1",
		Download:    "https://cdn.example.com/call.jpg",
	}
	assert.Equal(t, "https://cdn.example.com/call.jpg", call.StillURL())

	assert.Empty(t, event.Event{SubCategory: event.SubAnsweredCall}.StillURL())
}
