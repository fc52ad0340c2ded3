package app

import (
	"context"
	"fmt"
	"time"

	"github.com/kalsky/shadesd/internal/config"
	"github.com/kalsky/shadesd/internal/db"
	"github.com/kalsky/shadesd/internal/eventbus"
	"github.com/kalsky/shadesd/internal/ledger"
	"github.com/kalsky/shadesd/internal/notify"
	"github.com/kalsky/shadesd/internal/shade/mqttbridge"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Bus    *eventbus.Bus
	Bridge *mqttbridge.Bridge

	// High-level services
	Verify    *VerifyService
	Health    *HealthService
	Webhook   *WebhookService
	Retention *RetentionService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Initialize ledger
	s.Ledger = ledger.New(database.DB)

	// Initialize event bus
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	// Initialize the MQTT shade bridge
	s.Bridge = mqttbridge.New(cfg.MQTT, s.Bus)

	// Initialize notifier
	notifier, err := buildNotifier(cfg, s.Bridge)
	if err != nil {
		s.Close()
		return nil, err
	}

	// Initialize verification service (one engine per group)
	s.Verify = NewVerifyService(cfg, s.Bus, s.Bridge, s.Ledger, notifier)

	// Initialize health service
	s.Health = NewHealthService(cfg)

	// Initialize webhook service
	s.Webhook = NewWebhookService(cfg, s.Bus, s.Ledger)

	// Initialize ledger retention pruning
	s.Retention = NewRetentionService(cfg, s.Ledger)

	return s, nil
}

// buildNotifier selects the notification backend from configuration.
func buildNotifier(cfg *config.Config, bridge *mqttbridge.Bridge) (notify.Notifier, error) {
	switch cfg.Notify.Backend {
	case "log":
		return notify.LogNotifier{}, nil
	case "mqtt":
		return notify.NewMQTTNotifier(cfg.Notify.Topic, bridge.Publish)
	default:
		return nil, fmt.Errorf("unknown notify backend %q", cfg.Notify.Backend)
	}
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	// Connect to the broker first so readings flow before verification arms
	if err := s.Bridge.Start(ctx); err != nil {
		return err
	}

	s.Verify.Start(ctx)
	s.Health.Start(ctx)
	s.Webhook.Start(ctx)
	s.Retention.Start(ctx)

	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Verify != nil {
		s.Verify.Stop()
	}
	if s.Bridge != nil {
		s.Bridge.Stop()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()
		s.Bus.Close(ctx)
	}
	if s.DB != nil {
		s.DB.Close()
	}
}

func (s *Services) shutdownTimeout() time.Duration {
	if s.cfg != nil && s.cfg.ShutdownTimeout != 0 {
		return s.cfg.ShutdownTimeout.Duration()
	}
	return 5 * time.Second
}
