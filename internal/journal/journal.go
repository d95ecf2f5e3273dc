// Package journal keeps an append-only SQL record of scored ingests.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaayud/shaayud/internal/domain"
)

// SQLJournal implements domain.Journal using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLJournal struct {
	db     *sql.DB
	driver string
}

// New opens the journal named by cfg.Driver. The "none" driver returns a nil journal.
func New(cfg domain.JournalConfig) (domain.Journal, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "none", "":
		return nil, nil
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported journal driver: %s", domain.ErrConfiguration, cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	j := &SQLJournal{
		db:     db,
		driver: cfg.Driver,
	}

	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return j, nil
}

func (j *SQLJournal) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := j.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// Append stores one entry, assigning an id when it has none.
func (j *SQLJournal) Append(ctx context.Context, entry *domain.JournalEntry) error {
	if entry.EventID == "" || entry.IdentityID == "" {
		return domain.Malformed("journal entry needs event and identity ids")
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now().UTC()
	}

	matched := entry.Matched
	if matched == nil {
		matched = []domain.Match{}
	}
	matchedJSON, err := json.Marshal(matched)
	if err != nil {
		return fmt.Errorf("failed to encode matched rules: %w", err)
	}

	query := `
		INSERT INTO ingest_events (
			id, event_id, identity_id, device_id, session_id, event_type,
			ip, geo_key, total, verdict, matched, rule_set_version,
			received_at, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = j.db.ExecContext(ctx, j.rebind(query),
		entry.ID, entry.EventID, entry.IdentityID, entry.DeviceID, entry.SessionID, entry.EventType,
		nullString(entry.IP), nullString(entry.GeoKey),
		entry.Total, string(entry.Verdict), string(matchedJSON), entry.RuleSetVersion,
		entry.ReceivedAt.UnixMilli(), nullString(string(entry.Payload)),
	)
	return err
}

const selectColumns = `
	SELECT id, event_id, identity_id, device_id, session_id, event_type,
		   ip, geo_key, total, verdict, matched, rule_set_version,
		   received_at, payload
	FROM ingest_events
`

// ListByEvent returns every entry recorded for eventID, oldest first.
func (j *SQLJournal) ListByEvent(ctx context.Context, eventID string) ([]*domain.JournalEntry, error) {
	query := selectColumns + `
		WHERE event_id = ?
		ORDER BY received_at ASC, id ASC
	`

	rows, err := j.db.QueryContext(ctx, j.rebind(query), eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ListByIdentity returns entries for identityID received at or after since, newest first.
// A non-positive limit returns every match.
func (j *SQLJournal) ListByIdentity(ctx context.Context, identityID string, since time.Time, limit int) ([]*domain.JournalEntry, error) {
	query := selectColumns + `
		WHERE identity_id = ?
		  AND received_at >= ?
		ORDER BY received_at DESC, id DESC
	`
	args := []any{identityID, since.UnixMilli()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, j.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]*domain.JournalEntry, error) {
	entries := []*domain.JournalEntry{}
	for rows.Next() {
		var e domain.JournalEntry
		var ip, geoKey, payload sql.NullString
		var verdict, matched string
		var receivedAt int64

		if err := rows.Scan(
			&e.ID, &e.EventID, &e.IdentityID, &e.DeviceID, &e.SessionID, &e.EventType,
			&ip, &geoKey, &e.Total, &verdict, &matched, &e.RuleSetVersion,
			&receivedAt, &payload,
		); err != nil {
			return nil, err
		}

		e.IP = ip.String
		e.GeoKey = geoKey.String
		e.Verdict = domain.Verdict(verdict)
		e.ReceivedAt = time.UnixMilli(receivedAt).UTC()
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		if err := json.Unmarshal([]byte(matched), &e.Matched); err != nil {
			return nil, fmt.Errorf("failed to decode matched rules for %s: %w", e.ID, err)
		}

		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// Ping checks database connectivity.
func (j *SQLJournal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// Close closes the database connection.
func (j *SQLJournal) Close() error {
	return j.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (j *SQLJournal) rebind(query string) string {
	if j.driver != "postgres" {
		return query
	}
	return rebind(query)
}

func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
