package journal

// Schema definitions for the event journal.
// Compatible with both SQLite and PostgreSQL.

const schemaEvents = `
CREATE TABLE IF NOT EXISTS ingest_events (
    id TEXT PRIMARY KEY,
    event_id TEXT NOT NULL,
    identity_id TEXT NOT NULL,
    device_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    ip TEXT,
    geo_key TEXT,
    total BIGINT NOT NULL,
    verdict TEXT NOT NULL,
    matched TEXT NOT NULL,
    rule_set_version BIGINT NOT NULL,
    received_at BIGINT NOT NULL,
    payload TEXT
);

CREATE INDEX IF NOT EXISTS idx_ingest_events_event ON ingest_events(event_id, received_at);
CREATE INDEX IF NOT EXISTS idx_ingest_events_identity ON ingest_events(identity_id, received_at);
CREATE INDEX IF NOT EXISTS idx_ingest_events_verdict ON ingest_events(verdict);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaEvents,
	}
}
