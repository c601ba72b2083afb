package observability

import "database/sql"

// Schema contains the DDL for the event store. Call Init(db) to apply it,
// or embed the constant in your own schema management.
const Schema = `
-- Loading Lifecycle Events
CREATE TABLE IF NOT EXISTS loadx_events (
    event_id TEXT PRIMARY KEY,
    phase TEXT NOT NULL,
    element TEXT NOT NULL DEFAULT '',
    strategy TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    value INTEGER NOT NULL DEFAULT 0,
    elapsed_us INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_loadx_events_time
    ON loadx_events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_loadx_events_phase
    ON loadx_events(phase, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_loadx_events_element
    ON loadx_events(element, created_at DESC);

-- Metadata registry
CREATE TABLE IF NOT EXISTS _loadx_metadata (
    table_name TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    description TEXT
);
INSERT OR IGNORE INTO _loadx_metadata (table_name, description) VALUES
    ('loadx_events', 'Loading lifecycle events, one row per phase transition');
`

// Init applies the event store schema to the given database.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
