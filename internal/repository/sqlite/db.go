// Package sqlite implements the repository interfaces on an embedded
// single-file SQLite store (modernc.org/sqlite, CGO-free). The store runs in
// WAL mode with foreign keys on; the pipeline is the single writer.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the embedded store handle for the repository implementations.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if needed) the store file and applies the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// Single-writer design: one connection avoids SQLITE_BUSY churn between
	// the job goroutine and admin API readers.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.initSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the store handle.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks store availability.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

func (db *DB) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS incidents (
			incident_id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			source_event_id TEXT,
			university_name TEXT,
			victim_raw_name TEXT,
			institution_type TEXT,
			country TEXT,
			region TEXT,
			city TEXT,
			incident_date TEXT,
			date_precision TEXT NOT NULL DEFAULT 'unknown',
			source_published_date TEXT,
			ingested_at TEXT NOT NULL,
			title TEXT,
			subtitle TEXT,
			primary_url TEXT,
			all_urls TEXT,
			leak_site_url TEXT,
			source_detail_url TEXT,
			screenshot_url TEXT,
			attack_type_hint TEXT,
			status TEXT NOT NULL DEFAULT 'suspected',
			source_confidence TEXT NOT NULL DEFAULT 'medium',
			notes TEXT,
			llm_enriched INTEGER NOT NULL DEFAULT 0,
			llm_enriched_at TEXT,
			llm_summary TEXT,
			llm_timeline TEXT,
			llm_mitre_attack TEXT,
			llm_attack_dynamics TEXT,
			last_updated_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_source ON incidents(source)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_enriched ON incidents(llm_enriched)`,
		`CREATE TABLE IF NOT EXISTS incident_sources (
			incident_id TEXT NOT NULL,
			source TEXT NOT NULL,
			observed_at TEXT NOT NULL,
			PRIMARY KEY (incident_id, source),
			FOREIGN KEY (incident_id) REFERENCES incidents(incident_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS source_events (
			source TEXT NOT NULL,
			source_event_id TEXT NOT NULL,
			incident_id TEXT NOT NULL,
			registered_at TEXT NOT NULL,
			UNIQUE (source, source_event_id)
		)`,
		`CREATE TABLE IF NOT EXISTS source_state (
			source TEXT PRIMARY KEY,
			last_pubdate TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS articles (
			incident_id TEXT NOT NULL,
			url TEXT NOT NULL,
			title TEXT,
			author TEXT,
			publish_date TEXT,
			content TEXT,
			fetch_successful INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			content_length INTEGER NOT NULL DEFAULT 0,
			is_primary INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (incident_id, url),
			FOREIGN KEY (incident_id) REFERENCES incidents(incident_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_incident ON articles(incident_id)`,
		`CREATE TABLE IF NOT EXISTS incident_enrichments (
			incident_id TEXT PRIMARY KEY,
			enrichment_data TEXT NOT NULL,
			enrichment_version TEXT DEFAULT '2.0',
			raw_json TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY (incident_id) REFERENCES incidents(incident_id) ON DELETE CASCADE
		)`,
		flatTableDDL,
		`CREATE INDEX IF NOT EXISTS idx_enrichments_attack_category ON incident_enrichments_flat(attack_category)`,
		`CREATE INDEX IF NOT EXISTS idx_enrichments_country ON incident_enrichments_flat(country)`,
		`CREATE INDEX IF NOT EXISTS idx_enrichments_ransom_demanded ON incident_enrichments_flat(was_ransom_demanded)`,
		`CREATE INDEX IF NOT EXISTS idx_enrichments_date ON incident_enrichments_flat(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}

	return nil
}

// begin starts a transaction on the store.
func (db *DB) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}
