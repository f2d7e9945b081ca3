// Package mqtt provides MQTT publishing for Home Assistant integration.
// It defines the Publisher interface and includes both a StubPublisher (no-op)
// and a full HAPublisher that connects to an MQTT broker, publishes HA
// auto-discovery configs for every doorbell, relays relay and interval
// commands to the accounts, and forwards refresh outcomes from the EventBus.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/trymwestin/fenotek/internal/core/device"
	"github.com/trymwestin/fenotek/internal/core/registry"
	"github.com/trymwestin/fenotek/internal/core/state"
)

// commandTimeout bounds the backend call triggered by one MQTT command.
const commandTimeout = 30 * time.Second

// ---------------------------------------------------------------------------
// Publisher interface
// ---------------------------------------------------------------------------

// Publisher sends events and state to an MQTT broker.
type Publisher interface {
	// Start begins publishing events from the event bus.
	Start(ctx context.Context) error
	// Stop shuts down the publisher.
	Stop(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// StubPublisher (no-op, used when MQTT is disabled)
// ---------------------------------------------------------------------------

// StubPublisher is a no-op publisher for when MQTT is not configured.
type StubPublisher struct {
	log *slog.Logger
}

// NewStubPublisher creates a no-op MQTT publisher.
func NewStubPublisher(log *slog.Logger) *StubPublisher {
	return &StubPublisher{log: log}
}

// Start is a no-op.
func (s *StubPublisher) Start(_ context.Context) error {
	s.log.Info("MQTT publisher disabled (stub)")
	return nil
}

// Stop is a no-op.
func (s *StubPublisher) Stop(_ context.Context) error {
	return nil
}

// Ensure StubPublisher implements Publisher.
var _ Publisher = (*StubPublisher)(nil)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds MQTT publisher configuration.
type Config struct {
	Broker          string
	Username        string
	Password        string
	ClientID        string
	TopicPrefix     string
	DiscoveryPrefix string
}

func (c Config) topics() Topics {
	return Topics{Prefix: c.TopicPrefix, Discovery: c.DiscoveryPrefix}
}

// ---------------------------------------------------------------------------
// Controller – abstraction over the account registry
// ---------------------------------------------------------------------------

// Controller gives the publisher access to the set up accounts.
type Controller interface {
	Entries() []*registry.Entry
	Get(username string) (*registry.Entry, error)
	FindDevice(id string) (*registry.Entry, *device.Doorbell, error)
}

// ---------------------------------------------------------------------------
// HAPublisher – full Home Assistant MQTT implementation
// ---------------------------------------------------------------------------

// Ensure HAPublisher implements Publisher at compile time.
var _ Publisher = (*HAPublisher)(nil)

// HAPublisher publishes Home Assistant auto-discovery configs, subscribes to
// command topics and forwards refresh outcomes from the EventBus.
type HAPublisher struct {
	cfg    Config
	topics Topics
	ctrl   Controller
	bus    *state.EventBus
	log    *slog.Logger

	client pahomqtt.Client

	// relays published per device; discovery is resent when it changes
	mu         sync.Mutex
	discovered map[string]int

	unsub    func() // EventBus unsubscribe
	stopC    chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHAPublisher creates a new Home Assistant MQTT publisher.
func NewHAPublisher(cfg Config, ctrl Controller, bus *state.EventBus, log *slog.Logger) *HAPublisher {
	return &HAPublisher{
		cfg:        cfg,
		topics:     cfg.topics(),
		ctrl:       ctrl,
		bus:        bus,
		log:        log,
		discovered: make(map[string]int),
		stopC:      make(chan struct{}),
	}
}

// ---------------------------------------------------------------------------
// Start / Stop
// ---------------------------------------------------------------------------

// Start connects to the MQTT broker and starts listening on the EventBus.
// Discovery, command subscriptions and full state are (re)sent on every
// connect.
func (p *HAPublisher) Start(_ context.Context) error {
	availTopic := p.topics.Availability()

	opts := pahomqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(p.cfg.ClientID).
		SetUsername(p.cfg.Username).
		SetPassword(p.cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetOrderMatters(false). // commands call the backend; don't block the router
		SetWill(availTopic, "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			p.log.Info("MQTT connected, publishing discovery and state")
			p.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			p.log.Warn("MQTT connection lost", "error", err)
		})

	p.client = pahomqtt.NewClient(opts)

	token := p.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	evtCh, unsub := p.bus.Subscribe(128)
	p.unsub = unsub

	p.wg.Add(1)
	go p.eventLoop(evtCh)

	p.log.Info("MQTT publisher started", "broker", p.cfg.Broker)
	return nil
}

// Stop gracefully disconnects from the MQTT broker and stops the event loop.
// Calls after the first are no-ops.
func (p *HAPublisher) Stop(_ context.Context) error {
	p.stopOnce.Do(func() {
		p.log.Info("MQTT publisher stopping")

		close(p.stopC)
		if p.unsub != nil {
			p.unsub()
		}
		p.wg.Wait()

		if p.client != nil && p.client.IsConnected() {
			p.publish(Message{Topic: p.topics.Availability(), Payload: "offline", Retained: true})
			p.client.Disconnect(1000)
		}
		p.log.Info("MQTT publisher stopped")
	})
	return nil
}

// ---------------------------------------------------------------------------
// onConnect – called on every (re)connect
// ---------------------------------------------------------------------------

func (p *HAPublisher) onConnect() {
	p.publish(Message{Topic: p.topics.Availability(), Payload: "online", Retained: true})

	p.mu.Lock()
	p.discovered = make(map[string]int)
	p.mu.Unlock()
	p.publishAll()

	p.subscribeCommands()

	p.client.Subscribe(p.topics.BirthTopic(), 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if string(msg.Payload()) == "online" {
			p.log.Info("Home Assistant came online, re-publishing discovery")
			p.mu.Lock()
			p.discovered = make(map[string]int)
			p.mu.Unlock()
			p.publishAll()
		}
	})
}

// publishAll sends discovery and state for every doorbell of every account.
func (p *HAPublisher) publishAll() {
	for _, e := range p.ctrl.Entries() {
		p.publishAccount(e)
	}
}

func (p *HAPublisher) publishAccount(e *registry.Entry) {
	st := e.Store.Status()
	lo, hi := e.Coordinator.Bounds()
	snap := e.Store.Snapshot()
	for _, id := range snap.IDs() {
		d := snap.Devices[id]
		p.publishDiscovery(d, lo, hi)
		p.publishState(d, st)
	}
}

// publishDiscovery sends the discovery configs of d unless they were already
// sent for the same relay set.
func (p *HAPublisher) publishDiscovery(d *device.Doorbell, lo, hi time.Duration) {
	relays := len(d.Relays())

	p.mu.Lock()
	n, seen := p.discovered[d.ID()]
	if seen && n == relays {
		p.mu.Unlock()
		return
	}
	p.discovered[d.ID()] = relays
	p.mu.Unlock()

	msgs, err := DiscoveryMessages(p.topics, d, lo, hi)
	if err != nil {
		p.log.Error("failed to build discovery configs", "device_id", d.ID(), "error", err)
		return
	}
	for _, m := range msgs {
		p.publish(m)
	}
}

func (p *HAPublisher) publishState(d *device.Doorbell, st state.Status) {
	msgs, err := StateMessages(p.topics, d, st)
	if err != nil {
		p.log.Error("failed to build state", "device_id", d.ID(), "error", err)
		return
	}
	for _, m := range msgs {
		p.publish(m)
	}
}

// ---------------------------------------------------------------------------
// Command subscriptions
// ---------------------------------------------------------------------------

func (p *HAPublisher) subscribeCommands() {
	for _, t := range []string{p.topics.relayCommandFilter(), p.topics.intervalCommandFilter()} {
		token := p.client.Subscribe(t, 1, p.handleCommand)
		token.Wait()
		if err := token.Error(); err != nil {
			p.log.Error("failed to subscribe to command topic", "topic", t, "error", err)
		}
	}
}

func (p *HAPublisher) handleCommand(_ pahomqtt.Client, msg pahomqtt.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := p.dispatch(ctx, msg.Topic(), string(msg.Payload())); err != nil {
		p.log.Error("MQTT command failed", "topic", msg.Topic(), "error", err)
	}
}

// dispatch executes one command message.
func (p *HAPublisher) dispatch(ctx context.Context, topic, payload string) error {
	cmd, ok := p.topics.parseCommand(topic)
	if !ok {
		return fmt.Errorf("mqtt: unknown command topic %s", topic)
	}

	entry, _, err := p.ctrl.FindDevice(cmd.deviceID)
	if err != nil {
		return err
	}

	switch cmd.kind {
	case "relay":
		p.log.Info("MQTT command: activate relay", "device_id", cmd.deviceID, "relay_id", cmd.relayID)
		ok, err := entry.ActivateRelay(ctx, cmd.deviceID, cmd.relayID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("mqtt: relay %s of %s: activation rejected", cmd.relayID, cmd.deviceID)
		}
		return nil

	case "interval":
		d, err := parseSeconds(payload)
		if err != nil {
			return fmt.Errorf("mqtt: invalid interval %q: %w", strings.TrimSpace(payload), err)
		}
		applied := entry.Coordinator.SetInterval(d)
		p.log.Info("MQTT command: refresh interval", "account", entry.Username(), "interval", applied)
		entry.Coordinator.RequestRefresh()
		return nil
	}
	return nil
}

// ---------------------------------------------------------------------------
// EventBus loop
// ---------------------------------------------------------------------------

func (p *HAPublisher) eventLoop(ch <-chan state.Event) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopC:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			p.handleEvent(evt)
		}
	}
}

func (p *HAPublisher) handleEvent(evt state.Event) {
	entry, err := p.ctrl.Get(evt.Account)
	if err != nil {
		p.log.Debug("event for unknown account", "account", evt.Account, "event_type", evt.Type)
		return
	}

	switch evt.Type {
	case state.EventRefreshed, state.EventIntervalChanged:
		p.publishAccount(entry)

	case state.EventRefreshFailed:
		st := entry.Store.Status()
		for _, id := range entry.Store.Snapshot().IDs() {
			msgs, err := RefreshMessages(p.topics, id, st)
			if err != nil {
				p.log.Error("failed to build refresh state", "device_id", id, "error", err)
				continue
			}
			for _, m := range msgs {
				p.publish(m)
			}
		}

	case state.EventRelayActivated:
		if data, ok := evt.Data.(state.RelayData); ok && !data.Success {
			p.log.Warn("relay activation rejected", "device_id", data.DeviceID, "relay_id", data.RelayID)
		}
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// publish is a convenience wrapper that publishes a message and logs errors.
func (p *HAPublisher) publish(m Message) {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	token := p.client.Publish(m.Topic, 1, m.Retained, m.Payload)
	token.Wait()
	if err := token.Error(); err != nil {
		p.log.Error("mqtt publish failed", "topic", m.Topic, "error", err)
	}
}
