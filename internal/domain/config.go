package domain

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the complete service configuration.
type Config struct {
	// Server settings
	Server ServerConfig `envPrefix:"SERVER_"`

	// Graph store and admission settings
	Graph GraphConfig `envPrefix:"GRAPH_"`

	// Static rule set
	Rules RulesConfig `envPrefix:"RULES_"`

	// Component configurations
	Journal  JournalConfig  `envPrefix:"JOURNAL_"`
	Cache    CacheConfig    `envPrefix:"CACHE_"`
	Velocity VelocityConfig `envPrefix:"VELOCITY_"`
	EventBus EventBusConfig `envPrefix:"BUS_"`
	Worker   WorkerConfig   `envPrefix:"WORKER_"`

	// Observability
	Logging LoggingConfig `envPrefix:"LOG_"`
	Tracing TracingConfig `envPrefix:"TRACING_"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `env:"HOST" envDefault:"0.0.0.0"`
	Port         int    `env:"PORT" envDefault:"8080"`
	ReadTimeout  int    `env:"READ_TIMEOUT" envDefault:"30"`  // seconds
	WriteTimeout int    `env:"WRITE_TIMEOUT" envDefault:"30"` // seconds
	MaxBodyBytes int64  `env:"MAX_BODY_BYTES" envDefault:"1048576"`
}

// GraphConfig holds graph store settings.
type GraphConfig struct {
	// Driver is the store type: "memory" or "neo4j"
	Driver string `env:"DRIVER" envDefault:"memory"`

	// Neo4j settings
	URI            string        `env:"URI" envDefault:"neo4j://localhost:7687"`
	User           string        `env:"USER" envDefault:"neo4j"`
	Password       string        `env:"PASSWORD"`
	Database       string        `env:"DATABASE"`
	MaxPoolSize    int           `env:"MAX_POOL_SIZE" envDefault:"50"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
	EnsureSchema   bool          `env:"ENSURE_SCHEMA" envDefault:"true"`

	// MaxInFlightTx caps simultaneous graph transactions; callers beyond it queue.
	MaxInFlightTx int64 `env:"MAX_INFLIGHT_TX" envDefault:"32"`

	// TxTimeout bounds a single admitted transaction, independent of the caller.
	TxTimeout time.Duration `env:"TX_TIMEOUT" envDefault:"15s"`
}

// RulesConfig locates the static rule set and its verdict thresholds.
type RulesConfig struct {
	Path            string `env:"PATH"`
	ReviewThreshold int64  `env:"REVIEW_THRESHOLD" envDefault:"50"`
	RejectThreshold int64  `env:"REJECT_THRESHOLD" envDefault:"80"`
}

// VelocityConfig controls the per-entity activity counters fed into the fact bag.
type VelocityConfig struct {
	Enabled bool          `env:"ENABLED" envDefault:"true"`
	Window  time.Duration `env:"WINDOW" envDefault:"1h"`
}

// WorkerConfig controls the consumer of the async ingest topic.
type WorkerConfig struct {
	Enabled bool `env:"ENABLED" envDefault:"true"`
	Count   int  `env:"COUNT" envDefault:"4"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`  // debug, info, warn, error
	Format string `env:"FORMAT" envDefault:"json"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `env:"ENABLED" envDefault:"false"`
	ServiceName string  `env:"SERVICE_NAME" envDefault:"shaayud"`
	Endpoint    string  `env:"ENDPOINT"` // OTLP/HTTP host:port; empty keeps spans in-process
	Insecure    bool    `env:"INSECURE" envDefault:"false"`
	SampleRatio float64 `env:"SAMPLE_RATIO" envDefault:"1"`
}

// LoadConfig reads the configuration from SHAAYUD_* environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "SHAAYUD_"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if cfg.Graph.MaxInFlightTx <= 0 {
		return nil, fmt.Errorf("%w: SHAAYUD_GRAPH_MAX_INFLIGHT_TX must be positive", ErrConfiguration)
	}
	if cfg.Rules.RejectThreshold < cfg.Rules.ReviewThreshold {
		return nil, fmt.Errorf("%w: reject threshold %d is below review threshold %d",
			ErrConfiguration, cfg.Rules.RejectThreshold, cfg.Rules.ReviewThreshold)
	}
	return cfg, nil
}

// DefaultConfig returns the configuration used when no environment is set.
// In-memory graph, no journal, in-process counters and channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
			MaxBodyBytes: 1 << 20,
		},
		Graph: GraphConfig{
			Driver:         "memory",
			URI:            "neo4j://localhost:7687",
			User:           "neo4j",
			MaxPoolSize:    50,
			ConnectTimeout: 10 * time.Second,
			EnsureSchema:   true,
			MaxInFlightTx:  32,
			TxTimeout:      15 * time.Second,
		},
		Rules: RulesConfig{
			ReviewThreshold: 50,
			RejectThreshold: 80,
		},
		Journal: JournalConfig{
			Driver: "none",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
		},
		Velocity: VelocityConfig{
			Enabled: true,
			Window:  time.Hour,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Enabled: true,
			Count:   4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "shaayud",
			SampleRatio: 1,
		},
	}
}
