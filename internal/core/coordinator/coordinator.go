// Package coordinator drives the periodic refresh of one account.
//
// A single goroutine waits for the timer or a refresh request, runs one
// cycle (refresh every doorbell, then ping them) and re-arms the timer from
// the cycle's completion with the interval current at that moment. Outcomes
// are recorded in the state store, which publishes them on the event bus.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trymwestin/fenotek/internal/core/device"
	"github.com/trymwestin/fenotek/internal/core/state"
)

// Defaults for the polling interval.
const (
	DefaultInterval    = 20 * time.Second
	DefaultMinInterval = time.Second
	DefaultMaxInterval = 120 * time.Second
)

// Account is what a cycle refreshes.
type Account interface {
	Username() string
	Refresh(ctx context.Context) error
	Ping(ctx context.Context) map[string]bool
	Devices() []*device.Doorbell
}

// Config bounds the polling interval.
type Config struct {
	Interval    time.Duration
	MinInterval time.Duration
	MaxInterval time.Duration
}

// Coordinator schedules refresh cycles. One cycle runs at a time.
type Coordinator struct {
	acc   Account
	store *state.Store
	log   *slog.Logger

	min, max time.Duration
	interval atomic.Int64

	cycleMu sync.Mutex
	wakeCh  chan struct{}

	cancel  context.CancelFunc
	stopped chan struct{}
	running atomic.Bool
}

func New(acc Account, store *state.Store, cfg Config, log *slog.Logger) *Coordinator {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	c := &Coordinator{
		acc:    acc,
		store:  store,
		log:    log,
		min:    cfg.MinInterval,
		max:    cfg.MaxInterval,
		wakeCh: make(chan struct{}, 1),
	}
	c.SetInterval(cfg.Interval)
	return c
}

// Start runs the scheduling loop in the background until Stop or ctx is
// cancelled.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("coordinator: already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.stopped = make(chan struct{})

	go func() {
		defer close(c.stopped)
		c.Run(ctx)
	}()
	return nil
}

// Stop ends scheduling and waits for an in-flight cycle to finish, or for
// ctx to expire.
func (c *Coordinator) Stop(ctx context.Context) error {
	if !c.running.Load() {
		return nil
	}
	c.cancel()
	select {
	case <-c.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.running.Store(false)
	return nil
}

// Run schedules cycles until ctx is cancelled. A cycle in progress when ctx
// is cancelled is not interrupted.
func (c *Coordinator) Run(ctx context.Context) {
	cycleCtx := context.WithoutCancel(ctx)

	timer := time.NewTimer(c.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("coordinator: shutting down")
			return
		case <-c.wakeCh:
			timer.Stop()
			c.log.Debug("refresh requested")
		case <-timer.C:
		}

		_ = c.Refresh(cycleCtx)
		timer.Reset(c.Interval())
	}
}

// Refresh runs one cycle synchronously. A failure is recorded, published and
// returned as a *RefreshFailure; the previous snapshot stays in place.
func (c *Coordinator) Refresh(ctx context.Context) (err error) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = c.fail(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := c.acc.Refresh(ctx); err != nil {
		return c.fail(err)
	}

	avail := c.acc.Ping(ctx)
	devices := c.acc.Devices()
	c.store.SetSnapshot(devices)

	online := 0
	for _, ok := range avail {
		if ok {
			online++
		}
	}
	c.log.Debug("refresh complete", "devices", len(devices), "available", online, "duration", time.Since(start))
	return nil
}

func (c *Coordinator) fail(err error) error {
	failure := &RefreshFailure{Account: c.acc.Username(), Err: err}
	c.log.Error("refresh failed", "error", failure)
	c.store.SetFailure(failure)
	return failure
}

// RequestRefresh asks the loop for a cycle now. Requests made while one is
// already pending coalesce.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// SetInterval changes the polling interval, clamped to the configured
// bounds, and returns the value applied. It takes effect when the timer is
// next armed.
func (c *Coordinator) SetInterval(d time.Duration) time.Duration {
	if d < c.min {
		d = c.min
	}
	if d > c.max {
		d = c.max
	}
	c.interval.Store(int64(d))
	c.store.SetInterval(d)
	return d
}

func (c *Coordinator) Interval() time.Duration {
	return time.Duration(c.interval.Load())
}

// Bounds returns the accepted interval range.
func (c *Coordinator) Bounds() (lo, hi time.Duration) {
	return c.min, c.max
}

func (c *Coordinator) LastUpdateSuccess() bool {
	return c.store.LastUpdateSuccess()
}

func (c *Coordinator) Store() *state.Store {
	return c.store
}
