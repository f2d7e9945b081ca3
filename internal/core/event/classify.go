package event

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/trymwestin/fenotek/internal/core/transport/wire"
	"golang.org/x/sync/errgroup"
)

// resolveConcurrency bounds the parallel follow-up fetches of one device.
const resolveConcurrency = 4

// timestamp layouts accepted for createdAt. Values without a zone are UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Fetcher decodes the JSON document behind a URL.
type Fetcher interface {
	FetchJSON(ctx context.Context, url string, out interface{}) error
}

// Classify builds a typed event from a raw notification. An unknown category
// or an unparseable timestamp is a *ClassificationError.
func Classify(raw wire.Notification) (Event, error) {
	category, ok := categoryCodes[raw.Type]
	if !ok {
		return Event{}, &ClassificationError{ID: raw.ID, Field: "category", Value: raw.Type}
	}

	createdAt, err := parseTime(raw.CreatedAt)
	if err != nil {
		return Event{}, &ClassificationError{ID: raw.ID, Field: "createdAt", Value: raw.CreatedAt, Err: err}
	}

	code := NoCode
	sub := SubUnknown
	if raw.Detail.Type != nil {
		code = *raw.Detail.Type
		if s, known := subCategoryCodes[code]; known {
			sub = s
		}
	}

	d := raw.Detail
	return Event{
		ID:               raw.ID,
		Category:         category,
		SubCategory:      sub,
		Code:             code,
		CreatedAt:        createdAt,
		Label:            d.Label,
		Name:             d.Name,
		AnsweredBy:       d.AnsweredBy,
		Room:             d.Room,
		Recorded:         d.Recorded,
		URL:              d.URL,
		Download:         d.Download,
		ResolvedVideoURL: d.VideoURL,
	}, nil
}

func parseTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Resolve follows the URL of answered and missed calls and returns a copy of
// ev carrying the playable video URL. Other events are returned unchanged.
// Fetch errors propagate: the event would be incomplete.
func Resolve(ctx context.Context, f Fetcher, ev Event) (Event, error) {
	if !ev.NeedsResolution() {
		return ev, nil
	}

	var doc wire.MediaDocument
	if err := f.FetchJSON(ctx, ev.URL, &doc); err != nil {
		return ev, fmt.Errorf("event: resolve %s: %w", ev.ID, err)
	}
	ev.ResolvedVideoURL = doc.Data.URL
	return ev, nil
}

// Build classifies raws, resolves call videos concurrently and returns the
// events sorted ascending by creation time. Equal timestamps keep response
// order.
func Build(ctx context.Context, f Fetcher, raws []wire.Notification) ([]Event, error) {
	events := make([]Event, len(raws))
	for i, raw := range raws {
		ev, err := Classify(raw)
		if err != nil {
			return nil, err
		}
		events[i] = ev
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for i := range events {
		if !events[i].NeedsResolution() {
			continue
		}
		g.Go(func() error {
			resolved, err := Resolve(gctx, f, events[i])
			if err != nil {
				return err
			}
			events[i] = resolved
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(events, func(a, b int) bool {
		return events[a].CreatedAt.Before(events[b].CreatedAt)
	})
	return events, nil
}
