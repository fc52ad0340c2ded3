// Package notify delivers aggregated user-facing messages about
// verification outcomes. Delivery is best effort; failures are logged and
// never escalate into the verification cycle.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Notifier delivers a single aggregated text message.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Publisher publishes a raw payload to a topic. Satisfied by the MQTT bridge.
type Publisher func(ctx context.Context, topic string, payload []byte) error

// LogNotifier writes notifications to the application log.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(_ context.Context, message string) error {
	log.Warn().Str("notification", message).Msg("Notification")
	return nil
}

// MQTTNotifier publishes notifications to a fixed MQTT topic.
type MQTTNotifier struct {
	Topic   string
	Publish Publisher
}

// NewMQTTNotifier creates a notifier publishing to the given topic.
func NewMQTTNotifier(topic string, publish Publisher) (*MQTTNotifier, error) {
	if topic == "" {
		return nil, fmt.Errorf("mqtt notifier requires a topic")
	}
	return &MQTTNotifier{Topic: topic, Publish: publish}, nil
}

// Notify implements Notifier.
func (n *MQTTNotifier) Notify(ctx context.Context, message string) error {
	if err := n.Publish(ctx, n.Topic, []byte(message)); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}
