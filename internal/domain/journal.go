package domain

import (
	"context"
	"time"
)

// Journal is the append-only relational record of ingested events.
type Journal interface {
	// Append stores one entry. Entries are never updated.
	Append(ctx context.Context, entry *JournalEntry) error

	// ListByEvent returns every entry recorded for an event id, oldest first.
	ListByEvent(ctx context.Context, eventID string) ([]*JournalEntry, error)

	// ListByIdentity returns entries for an identity received at or after since, newest first.
	ListByIdentity(ctx context.Context, identityID string, since time.Time, limit int) ([]*JournalEntry, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// JournalEntry is one scored ingest.
type JournalEntry struct {
	ID             string    `json:"id"`
	EventID        string    `json:"eventId"`
	IdentityID     string    `json:"identityId"`
	DeviceID       string    `json:"deviceId"`
	SessionID      string    `json:"sessionId"`
	EventType      string    `json:"eventType"`
	IP             string    `json:"ip,omitempty"`
	GeoKey         string    `json:"geoKey,omitempty"`
	Total          int64     `json:"total"`
	Verdict        Verdict   `json:"verdict"`
	Matched        []Match   `json:"matched"`
	RuleSetVersion int64     `json:"ruleSetVersion"`
	ReceivedAt     time.Time `json:"receivedAt"`
	Payload        []byte    `json:"-"`
}

// JournalConfig holds configuration for the journal database.
type JournalConfig struct {
	// Driver is the database driver: "none", "sqlite" or "postgres"
	Driver string `env:"DRIVER" envDefault:"none"`

	// SQLite specific
	SQLitePath string `env:"SQLITE_PATH" envDefault:"shaayud.db"`

	// PostgreSQL specific
	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"shaayud"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"shaayud"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	// Connection pool settings
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"5m"`
}
