package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Limits enforced on group configuration.
const (
	MinTravelTime = 15 * time.Second
	MaxTravelTime = 120 * time.Second
	MinMembers    = 1
	MaxMembers    = 20
)

// Config represents the application configuration
type Config struct {
	MQTT            MQTTConfig        `yaml:"mqtt"`
	Database        DatabaseConfig    `yaml:"database"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Log             LogConfig         `yaml:"log"`
	Verify          VerifyConfig      `yaml:"verify"`
	Notify          NotifyConfig      `yaml:"notify"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	Webhook         WebhookConfig     `yaml:"webhook"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	Groups          []GroupConfig     `yaml:"groups"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// MQTTConfig contains broker connection settings for the shade bridge
type MQTTConfig struct {
	Broker      string   `yaml:"broker"` // e.g. tcp://127.0.0.1:1883
	ClientID    string   `yaml:"client_id"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	TopicPrefix string   `yaml:"topic_prefix"` // Prefix for all device topics (default: shades)
	Timeout     Duration `yaml:"timeout"`      // Publish/subscribe acknowledgement timeout
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LedgerConfig contains cycle history retention settings
type LedgerConfig struct {
	Retention     Duration `yaml:"retention"`      // How long cycle entries are kept (default: 720h)
	PruneInterval Duration `yaml:"prune_interval"` // How often expired entries are pruned (default: 1h)
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// VerifyConfig contains verification timing settings. The settle delays are
// empirical defaults tuned against shipped hardware; they are configurable
// but the defaults should be kept for behavioral parity.
type VerifyConfig struct {
	SettleDelay        Duration `yaml:"settle_delay"`         // Wait after a full refresh before sampling (default: 15s)
	RefreshSettleDelay Duration `yaml:"refresh_settle_delay"` // Wait after a targeted refresh before re-sampling (default: 8s)
	MaxRetries         int      `yaml:"max_retries"`          // Remediation retry rounds after the first wave (default: 3)
}

// NotifyConfig contains notification delivery settings
type NotifyConfig struct {
	Backend string `yaml:"backend"` // "log" (default) or "mqtt"
	Topic   string `yaml:"topic"`   // MQTT topic for backend "mqtt"
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// WebhookConfig contains the inbound command webhook server settings
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// GroupConfig describes one shade group: identity, travel time and the
// ordered member bindings. Editable while the daemon runs; verification
// re-reads it between steps and tolerates mid-cycle edits.
type GroupConfig struct {
	Name            string         `yaml:"name"`
	Controller      string         `yaml:"controller"` // Broadcast group controller device id
	TravelTime      Duration       `yaml:"travel_time"`
	FallbackEnabled bool           `yaml:"fallback_enabled"`
	Members         []MemberConfig `yaml:"members"`
}

// MemberConfig binds one physical shade's two control handles.
type MemberConfig struct {
	Index     int    `yaml:"index"`     // Stable ordinal 1..N, used for naming and correlation
	Broadcast string `yaml:"broadcast"` // One-way mirror device id (status-only)
	Feedback  string `yaml:"feedback"`  // Two-way authoritative device id
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads, parses and validates the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./shadesd.sqlite"
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "shadesd"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "shades"
	}
	if cfg.MQTT.Timeout == 0 {
		cfg.MQTT.Timeout = Duration(10 * time.Second)
	}

	// Ledger retention defaults
	if cfg.Ledger.Retention == 0 {
		cfg.Ledger.Retention = Duration(30 * 24 * time.Hour)
	}
	if cfg.Ledger.PruneInterval == 0 {
		cfg.Ledger.PruneInterval = Duration(time.Hour)
	}

	// Verify defaults - keep in sync with shipped hardware tuning
	if cfg.Verify.SettleDelay == 0 {
		cfg.Verify.SettleDelay = Duration(15 * time.Second)
	}
	if cfg.Verify.RefreshSettleDelay == 0 {
		cfg.Verify.RefreshSettleDelay = Duration(8 * time.Second)
	}
	if cfg.Verify.MaxRetries == 0 {
		cfg.Verify.MaxRetries = 3
	}

	// Notify defaults
	if cfg.Notify.Backend == "" {
		cfg.Notify.Backend = "log"
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// Webhook defaults
	if cfg.Webhook.Port == 0 {
		cfg.Webhook.Port = 8088
	}
	if cfg.Webhook.Host == "" {
		cfg.Webhook.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks group configuration invariants. A member without a
// feedback binding is rejected here rather than silently shrinking the
// verification denominator at run time.
func (c *Config) Validate() error {
	seenGroups := make(map[string]bool)

	for _, g := range c.Groups {
		if g.Name == "" {
			return fmt.Errorf("group without a name")
		}
		if seenGroups[g.Name] {
			return fmt.Errorf("group %q: duplicate name", g.Name)
		}
		seenGroups[g.Name] = true

		if g.Controller == "" {
			return fmt.Errorf("group %q: controller binding is required", g.Name)
		}

		tt := g.TravelTime.Duration()
		if tt < MinTravelTime || tt > MaxTravelTime {
			return fmt.Errorf("group %q: travel_time %s outside %s..%s", g.Name, tt, MinTravelTime, MaxTravelTime)
		}

		if len(g.Members) < MinMembers || len(g.Members) > MaxMembers {
			return fmt.Errorf("group %q: member count %d outside %d..%d", g.Name, len(g.Members), MinMembers, MaxMembers)
		}

		seenIdx := make(map[int]bool)
		for _, m := range g.Members {
			if m.Index < 1 || m.Index > len(g.Members) {
				return fmt.Errorf("group %q: member index %d outside 1..%d", g.Name, m.Index, len(g.Members))
			}
			if seenIdx[m.Index] {
				return fmt.Errorf("group %q: duplicate member index %d", g.Name, m.Index)
			}
			seenIdx[m.Index] = true

			if m.Feedback == "" {
				return fmt.Errorf("group %q member %d: feedback binding is required", g.Name, m.Index)
			}
		}
	}

	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ExpandEnvString expands a single string with environment variables
func ExpandEnvString(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return expandEnvVars(s)
	}
	return s
}
