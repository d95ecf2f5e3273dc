package domain

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		def := DefaultConfig()
		if cfg.Server != def.Server {
			t.Errorf("server = %+v, want %+v", cfg.Server, def.Server)
		}
		if cfg.Graph != def.Graph {
			t.Errorf("graph = %+v, want %+v", cfg.Graph, def.Graph)
		}
		if cfg.Rules != def.Rules {
			t.Errorf("rules = %+v, want %+v", cfg.Rules, def.Rules)
		}
		if cfg.Worker != def.Worker {
			t.Errorf("worker = %+v, want %+v", cfg.Worker, def.Worker)
		}
		if cfg.Tracing != def.Tracing {
			t.Errorf("tracing = %+v, want %+v", cfg.Tracing, def.Tracing)
		}
	})

	t.Run("Overrides", func(t *testing.T) {
		t.Setenv("SHAAYUD_GRAPH_DRIVER", "neo4j")
		t.Setenv("SHAAYUD_GRAPH_MAX_INFLIGHT_TX", "4")
		t.Setenv("SHAAYUD_GRAPH_TX_TIMEOUT", "3s")
		t.Setenv("SHAAYUD_RULES_PATH", "/etc/shaayud/rules.yaml")
		t.Setenv("SHAAYUD_BUS_TYPE", "nats")
		t.Setenv("SHAAYUD_WORKER_COUNT", "8")

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Graph.Driver != "neo4j" || cfg.Graph.MaxInFlightTx != 4 || cfg.Graph.TxTimeout != 3*time.Second {
			t.Errorf("unexpected graph config: %+v", cfg.Graph)
		}
		if cfg.Rules.Path != "/etc/shaayud/rules.yaml" {
			t.Errorf("rules path = %q", cfg.Rules.Path)
		}
		if cfg.EventBus.Type != "nats" {
			t.Errorf("bus type = %q", cfg.EventBus.Type)
		}
		if cfg.Worker.Count != 8 {
			t.Errorf("worker count = %d", cfg.Worker.Count)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		tests := []struct {
			name, key, value string
		}{
			{"ZeroInFlight", "SHAAYUD_GRAPH_MAX_INFLIGHT_TX", "0"},
			{"ThresholdsInverted", "SHAAYUD_RULES_REJECT_THRESHOLD", "10"},
			{"NotANumber", "SHAAYUD_SERVER_PORT", "http"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Setenv(tt.key, tt.value)
				_, err := LoadConfig()
				if !errors.Is(err, ErrConfiguration) {
					t.Errorf("expected ErrConfiguration, got %v", err)
				}
			})
		}
	})
}
