package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/eduthreat/cti-pipeline/internal/repository"
)

type sourceStateRepository struct {
	db *DB
}

// NewSourceStateRepository creates a source-state repository on the embedded store
func NewSourceStateRepository(db *DB) repository.SourceStateRepository {
	if db == nil {
		panic("database cannot be nil")
	}
	return &sourceStateRepository{db: db}
}

// SourceEventExists reports whether a source-native event has been ingested
func (r *sourceStateRepository) SourceEventExists(ctx context.Context, source, sourceEventID string) (bool, error) {
	if source == "" || sourceEventID == "" {
		return false, nil
	}

	var one int
	err := r.db.conn.QueryRowContext(ctx,
		"SELECT 1 FROM source_events WHERE source = ? AND source_event_id = ?",
		source, sourceEventID,
	).Scan(&one)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check source event: %w", err)
	}
	return true, nil
}

// RegisterSourceEvent records a (source, source_event_id) -> incident mapping.
// Idempotent: re-registration of an existing pair is a no-op.
func (r *sourceStateRepository) RegisterSourceEvent(ctx context.Context, source, sourceEventID, incidentID, registeredAt string) error {
	if source == "" {
		return fmt.Errorf("source cannot be empty")
	}
	if sourceEventID == "" {
		return fmt.Errorf("source event id cannot be empty")
	}
	if incidentID == "" {
		return fmt.Errorf("incident id cannot be empty")
	}

	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO source_events (source, source_event_id, incident_id, registered_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (source, source_event_id) DO NOTHING`,
		source, sourceEventID, incidentID, registeredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to register source event: %w", err)
	}
	return nil
}

// GetLastPubdate returns the per-source watermark, "" when unset
func (r *sourceStateRepository) GetLastPubdate(ctx context.Context, source string) (string, error) {
	if source == "" {
		return "", fmt.Errorf("source cannot be empty")
	}

	var date sql.NullString
	err := r.db.conn.QueryRowContext(ctx,
		"SELECT last_pubdate FROM source_state WHERE source = ?", source,
	).Scan(&date)

	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get last pubdate: %w", err)
	}
	return date.String, nil
}

// SetLastPubdate advances the per-source watermark. The watermark never moves
// backwards: an older date than the stored one is ignored.
func (r *sourceStateRepository) SetLastPubdate(ctx context.Context, source, date string) error {
	if source == "" {
		return fmt.Errorf("source cannot be empty")
	}
	if date == "" {
		return nil
	}

	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO source_state (source, last_pubdate)
		VALUES (?, ?)
		ON CONFLICT (source) DO UPDATE SET last_pubdate = excluded.last_pubdate
		WHERE excluded.last_pubdate > COALESCE(source_state.last_pubdate, '')`,
		source, date,
	)
	if err != nil {
		return fmt.Errorf("failed to set last pubdate: %w", err)
	}
	return nil
}
