// Package mqttbridge backs the shade handles with an MQTT broker. Device
// gateways publish retained state to <prefix>/<device>/state and accept
// commands on <prefix>/<device>/command; the bridge caches the last reading
// per device and turns group-controller status transitions into bus events.
package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/kalsky/shadesd/internal/config"
	"github.com/kalsky/shadesd/internal/eventbus"
	"github.com/kalsky/shadesd/internal/shade"
)

const connectTimeout = 30 * time.Second

// statePayload is the JSON shape of a device state topic.
type statePayload struct {
	Status   string `json:"status"`
	Position *int   `json:"position,omitempty"`
}

// commandPayload is the JSON shape published to a device command topic.
type commandPayload struct {
	Action   string `json:"action"` // open, close, set_position, refresh
	Position *int   `json:"position,omitempty"`
}

// Bridge connects to the broker, tracks last-known readings for every
// device under the topic prefix and hands out shade handles bound to
// device ids.
type Bridge struct {
	client  pahomqtt.Client
	prefix  string
	timeout time.Duration
	bus     *eventbus.Bus

	mu          sync.RWMutex
	readings    map[string]shade.Reading
	seen        map[string]bool   // devices that have reported at least once
	controllers map[string]string // controller device id -> group name
}

// New creates a bridge from broker configuration. Connect with Start.
func New(cfg config.MQTTConfig, bus *eventbus.Bus) *Bridge {
	b := &Bridge{
		prefix:      cfg.TopicPrefix,
		timeout:     cfg.Timeout.Duration(),
		bus:         bus,
		readings:    make(map[string]shade.Reading),
		seen:        make(map[string]bool),
		controllers: make(map[string]string),
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.OnConnect = func(client pahomqtt.Client) {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		subTopic := b.prefix + "/+/state"
		log.Info().Str("broker", cfg.Broker).Str("topic", subTopic).Msg("MQTT connected, subscribing to device state")

		token := client.Subscribe(subTopic, 0, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			b.onStateMessage(msg.Topic(), msg.Payload())
		})
		if err := awaitToken(ctx, token); err != nil {
			log.Error().Err(err).Str("topic", subTopic).Msg("MQTT subscribe failed")
		}
	}

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	b.client = pahomqtt.NewClient(opts)
	return b
}

// Start connects to the broker and blocks until the connection is up or the
// timeout elapses.
func (b *Bridge) Start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := awaitToken(ctx, b.client.Connect()); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// Stop disconnects from the broker.
func (b *Bridge) Stop() {
	b.client.Disconnect(250)
}

// RegisterController marks a device id as a group controller so its status
// transitions arm verification for the named group.
func (b *Bridge) RegisterController(deviceID, groupName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.controllers[deviceID] = groupName
}

// Feedback returns the two-way handle for a device id.
func (b *Bridge) Feedback(deviceID string) shade.FeedbackHandle {
	return &feedbackHandle{bridge: b, id: deviceID}
}

// Broadcast returns the one-way mirror handle for a device id, or nil for
// an empty binding.
func (b *Bridge) Broadcast(deviceID string) shade.BroadcastHandle {
	if deviceID == "" {
		return nil
	}
	return &broadcastHandle{bridge: b, id: deviceID}
}

// Controller returns the group controller handle for a device id.
func (b *Bridge) Controller(deviceID string) shade.Controller {
	return &controllerHandle{bridge: b, id: deviceID}
}

// Publish sends a raw payload to an absolute topic. Used by the MQTT
// notifier; device commands go through the handles instead.
func (b *Bridge) Publish(ctx context.Context, topic string, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	return awaitToken(ctx, b.client.Publish(topic, 0, false, payload))
}

// onStateMessage updates the reading cache and raises bus events. Only a
// group controller transition arms verification; member updates are
// published for diagnostics and are never a verification trigger.
func (b *Bridge) onStateMessage(topic string, payload []byte) {
	device, ok := b.deviceFromTopic(topic)
	if !ok {
		log.Debug().Str("topic", topic).Msg("Ignoring message on unexpected topic")
		return
	}

	var p statePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Warn().Err(err).Str("device", device).Msg("Malformed state payload")
		return
	}

	reading := shade.Reading{Status: shade.ParseStatus(p.Status), Position: p.Position}

	b.mu.Lock()
	prev, hadPrev := b.readings[device]
	b.readings[device] = reading
	b.seen[device] = true
	group, isController := b.controllers[device]
	b.mu.Unlock()

	log.Debug().Str("device", device).Str("reading", reading.String()).Msg("Device state updated")

	if isController {
		// Arm only on a transition; a retained re-publish of the same
		// status is not a new command.
		if hadPrev && prev.Status == reading.Status {
			return
		}
		b.bus.Publish(eventbus.Event{
			Type:     eventbus.EventTypeGroupCommand,
			Group:    group,
			Device:   device,
			Status:   p.Status,
			Position: p.Position,
		})
		return
	}

	b.bus.Publish(eventbus.Event{
		Type:     eventbus.EventTypeMemberStatus,
		Device:   device,
		Status:   p.Status,
		Position: p.Position,
	})
}

// deviceFromTopic extracts the device id from <prefix>/<device>/state.
func (b *Bridge) deviceFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/")
	if !ok {
		return "", false
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "state" || parts[0] == "" {
		return "", false
	}
	return parts[0], true
}

// read returns the cached reading for a device.
func (b *Bridge) read(deviceID string) (shade.Reading, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.seen[deviceID] {
		return shade.Reading{}, fmt.Errorf("no reading received for device %q", deviceID)
	}
	return b.readings[deviceID], nil
}

// command publishes a command to a device's command topic.
func (b *Bridge) command(ctx context.Context, deviceID string, p commandPayload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	topic := fmt.Sprintf("%s/%s/command", b.prefix, deviceID)

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := awaitToken(ctx, b.client.Publish(topic, 0, false, payload)); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", p.Action, topic, err)
	}
	return nil
}

// awaitToken waits for a paho token with context cancellation.
func awaitToken(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
