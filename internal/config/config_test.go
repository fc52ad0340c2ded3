package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
mqtt:
  broker: tcp://127.0.0.1:1883
groups:
  - name: living-room
    controller: living-room-group
    travel_time: 30s
    fallback_enabled: true
    members:
      - index: 1
        broadcast: shade-1-bcast
        feedback: shade-1
      - index: 2
        feedback: shade-2
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q, want info", cfg.Log.Level)
	}
	if cfg.MQTT.ClientID != "shadesd" {
		t.Errorf("client id = %q, want shadesd", cfg.MQTT.ClientID)
	}
	if cfg.MQTT.TopicPrefix != "shades" {
		t.Errorf("topic prefix = %q, want shades", cfg.MQTT.TopicPrefix)
	}
	if got := cfg.Verify.SettleDelay.Duration(); got != 15*time.Second {
		t.Errorf("settle delay = %s, want 15s", got)
	}
	if got := cfg.Verify.RefreshSettleDelay.Duration(); got != 8*time.Second {
		t.Errorf("refresh settle delay = %s, want 8s", got)
	}
	if cfg.Verify.MaxRetries != 3 {
		t.Errorf("max retries = %d, want 3", cfg.Verify.MaxRetries)
	}
	if cfg.Notify.Backend != "log" {
		t.Errorf("notify backend = %q, want log", cfg.Notify.Backend)
	}
	if got := cfg.Ledger.Retention.Duration(); got != 30*24*time.Hour {
		t.Errorf("ledger retention = %s, want 720h", got)
	}
	if got := cfg.Ledger.PruneInterval.Duration(); got != time.Hour {
		t.Errorf("ledger prune interval = %s, want 1h", got)
	}
	if got := cfg.ShutdownTimeout.Duration(); got != 5*time.Second {
		t.Errorf("shutdown timeout = %s, want 5s", got)
	}

	if len(cfg.Groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(cfg.Groups))
	}
	g := cfg.Groups[0]
	if got := g.TravelTime.Duration(); got != 30*time.Second {
		t.Errorf("travel time = %s, want 30s", got)
	}
	if !g.FallbackEnabled {
		t.Error("fallback_enabled not parsed")
	}
	if g.Members[1].Broadcast != "" {
		t.Errorf("member 2 broadcast = %q, want empty", g.Members[1].Broadcast)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_MQTT_BROKER", "tcp://broker.local:1883")

	content := strings.Replace(minimalConfig,
		"broker: tcp://127.0.0.1:1883",
		"broker: ${TEST_MQTT_BROKER}\n  password: ${TEST_MQTT_PASSWORD:fallback-secret}", 1)

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MQTT.Broker != "tcp://broker.local:1883" {
		t.Errorf("broker = %q, env var not expanded", cfg.MQTT.Broker)
	}
	if cfg.MQTT.Password != "fallback-secret" {
		t.Errorf("password = %q, default not applied", cfg.MQTT.Password)
	}
}

func TestValidate(t *testing.T) {
	member := func(idx int, feedback string) MemberConfig {
		return MemberConfig{Index: idx, Feedback: feedback}
	}
	group := func(mutate func(*GroupConfig)) GroupConfig {
		g := GroupConfig{
			Name:       "living-room",
			Controller: "living-room-group",
			TravelTime: Duration(30 * time.Second),
			Members:    []MemberConfig{member(1, "shade-1"), member(2, "shade-2")},
		}
		if mutate != nil {
			mutate(&g)
		}
		return g
	}

	tests := []struct {
		name    string
		groups  []GroupConfig
		wantErr string
	}{
		{
			name:   "valid",
			groups: []GroupConfig{group(nil)},
		},
		{
			name:    "missing_name",
			groups:  []GroupConfig{group(func(g *GroupConfig) { g.Name = "" })},
			wantErr: "without a name",
		},
		{
			name:    "duplicate_name",
			groups:  []GroupConfig{group(nil), group(nil)},
			wantErr: "duplicate name",
		},
		{
			name:    "missing_controller",
			groups:  []GroupConfig{group(func(g *GroupConfig) { g.Controller = "" })},
			wantErr: "controller binding",
		},
		{
			name:    "travel_time_too_short",
			groups:  []GroupConfig{group(func(g *GroupConfig) { g.TravelTime = Duration(10 * time.Second) })},
			wantErr: "travel_time",
		},
		{
			name:    "travel_time_too_long",
			groups:  []GroupConfig{group(func(g *GroupConfig) { g.TravelTime = Duration(3 * time.Minute) })},
			wantErr: "travel_time",
		},
		{
			name:    "no_members",
			groups:  []GroupConfig{group(func(g *GroupConfig) { g.Members = nil })},
			wantErr: "member count",
		},
		{
			name: "too_many_members",
			groups: []GroupConfig{group(func(g *GroupConfig) {
				g.Members = nil
				for i := 1; i <= 21; i++ {
					g.Members = append(g.Members, member(i, "shade"))
				}
			})},
			wantErr: "member count",
		},
		{
			name: "index_out_of_range",
			groups: []GroupConfig{group(func(g *GroupConfig) {
				g.Members = []MemberConfig{member(1, "shade-1"), member(3, "shade-3")}
			})},
			wantErr: "member index",
		},
		{
			name: "duplicate_index",
			groups: []GroupConfig{group(func(g *GroupConfig) {
				g.Members = []MemberConfig{member(1, "shade-1"), member(1, "shade-2")}
			})},
			wantErr: "duplicate member index",
		},
		{
			name: "missing_feedback",
			groups: []GroupConfig{group(func(g *GroupConfig) {
				g.Members = []MemberConfig{member(1, "shade-1"), member(2, "")}
			})},
			wantErr: "feedback binding",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Groups: tt.groups}
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
