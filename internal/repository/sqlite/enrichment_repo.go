package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/eduthreat/cti-pipeline/internal/domain"
	"github.com/eduthreat/cti-pipeline/internal/repository"
)

// skippedNotePrefix marks incidents that were processed but intentionally not
// enriched; the suffix carries the model's reasoning.
const skippedNotePrefix = "LLM_ENRICHMENT_SKIPPED: "

type enrichmentRepository struct {
	db *DB
}

// NewEnrichmentRepository creates an enrichment repository on the embedded store
func NewEnrichmentRepository(db *DB) repository.EnrichmentRepository {
	if db == nil {
		panic("database cannot be nil")
	}
	return &enrichmentRepository{db: db}
}

// Save persists one enrichment pass atomically: incident row update, full
// enrichment record, flat projection, primary-article marking, and deletion
// of non-primary articles either all land or none do.
func (r *enrichmentRepository) Save(ctx context.Context, params repository.SaveEnrichmentParams) error {
	if params.IncidentID == "" {
		return fmt.Errorf("incident id is required")
	}
	if params.EnrichmentJSON == "" {
		return fmt.Errorf("enrichment record is required")
	}

	for col := range params.FlatRow {
		if !isFlatColumn(col) {
			return fmt.Errorf("unknown flat column: %s", col)
		}
	}

	now := domain.NowUTC()

	tx, err := r.db.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Incident row: enrichment flags, cached projections, and any model
	// corrections to date/country.
	setClauses := []string{
		"llm_enriched = 1",
		"llm_enriched_at = ?",
		"primary_url = ?",
		"llm_summary = ?",
		"llm_timeline = ?",
		"llm_mitre_attack = ?",
		"llm_attack_dynamics = ?",
		"last_updated_at = ?",
	}
	args := []any{
		now,
		nullIfEmpty(params.PrimaryURL),
		nullIfEmpty(params.Summary),
		nullIfEmpty(params.TimelineJSON),
		nullIfEmpty(params.MitreJSON),
		nullIfEmpty(params.AttackDynamicsJSON),
		now,
	}

	if params.Country != "" {
		setClauses = append(setClauses, "country = ?")
		args = append(args, params.Country)
	}
	if params.IncidentDate != "" {
		precision := params.DatePrecision
		if precision == "" {
			precision = string(domain.PrecisionDay)
		}
		setClauses = append(setClauses, "incident_date = ?", "date_precision = ?")
		args = append(args, params.IncidentDate, precision)
	}
	args = append(args, params.IncidentID)

	result, err := tx.ExecContext(ctx,
		"UPDATE incidents SET "+strings.Join(setClauses, ", ")+" WHERE incident_id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update incident: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("incident not found: %s", params.IncidentID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO incident_enrichments (incident_id, enrichment_data, raw_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (incident_id) DO UPDATE SET
			enrichment_data = excluded.enrichment_data,
			raw_json = excluded.raw_json,
			updated_at = excluded.updated_at`,
		params.IncidentID, params.EnrichmentJSON, nullIfEmpty(params.RawJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save enrichment record: %w", err)
	}

	if err := upsertFlatRow(ctx, tx, params.IncidentID, params.FlatRow, now); err != nil {
		return err
	}

	if params.PrimaryURL != "" {
		if _, err := tx.ExecContext(ctx,
			"UPDATE articles SET is_primary = 0 WHERE incident_id = ?", params.IncidentID); err != nil {
			return fmt.Errorf("failed to clear primary articles: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE articles SET is_primary = 1 WHERE incident_id = ? AND url = ?",
			params.IncidentID, params.PrimaryURL); err != nil {
			return fmt.Errorf("failed to mark primary article: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM articles WHERE incident_id = ? AND is_primary = 0", params.IncidentID); err != nil {
			return fmt.Errorf("failed to delete non-primary articles: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit enrichment: %w", err)
	}

	return nil
}

func upsertFlatRow(ctx context.Context, tx *sql.Tx, incidentID string, flat map[string]any, now string) error {
	values := make([]any, 0, len(flatColumns))
	placeholders := make([]string, 0, len(flatColumns))
	for _, col := range flatColumns {
		placeholders = append(placeholders, "?")
		switch col {
		case "incident_id":
			values = append(values, incidentID)
		case "created_at", "updated_at":
			values = append(values, now)
		default:
			values = append(values, normalizeFlatValue(flat[col]))
		}
	}

	updates := make([]string, 0, len(flatColumns))
	for _, col := range flatColumns {
		if col == "incident_id" || col == "created_at" {
			continue
		}
		updates = append(updates, col+" = excluded."+col)
	}

	_, err := tx.ExecContext(ctx,
		"INSERT INTO incident_enrichments_flat ("+strings.Join(flatColumns, ", ")+") VALUES ("+
			strings.Join(placeholders, ", ")+") ON CONFLICT (incident_id) DO UPDATE SET "+
			strings.Join(updates, ", "),
		values...)
	if err != nil {
		return fmt.Errorf("failed to save flat projection: %w", err)
	}
	return nil
}

// MarkSkipped flags an incident as processed without a usable enrichment
func (r *enrichmentRepository) MarkSkipped(ctx context.Context, incidentID, reason string) error {
	if incidentID == "" {
		return fmt.Errorf("incident id is required")
	}

	now := domain.NowUTC()
	note := skippedNotePrefix + reason

	result, err := r.db.conn.ExecContext(ctx, `
		UPDATE incidents
		SET llm_enriched = 1,
			llm_enriched_at = ?,
			notes = CASE WHEN notes IS NULL OR notes = '' THEN ? ELSE notes || '; ' || ? END,
			last_updated_at = ?
		WHERE incident_id = ?`,
		now, note, note, now, incidentID)
	if err != nil {
		return fmt.Errorf("failed to mark incident skipped: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("incident not found: %s", incidentID)
	}
	return nil
}

// GetData returns the serialized full enrichment record for an incident
func (r *enrichmentRepository) GetData(ctx context.Context, incidentID string) (string, error) {
	if incidentID == "" {
		return "", fmt.Errorf("incident id is required")
	}

	var data string
	err := r.db.conn.QueryRowContext(ctx,
		"SELECT enrichment_data FROM incident_enrichments WHERE incident_id = ?", incidentID,
	).Scan(&data)

	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get enrichment data: %w", err)
	}
	return data, nil
}

// GetFlat returns the flat projection row for an incident
func (r *enrichmentRepository) GetFlat(ctx context.Context, incidentID string) (map[string]any, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("incident id is required")
	}

	rows, err := r.db.conn.QueryContext(ctx,
		"SELECT "+strings.Join(flatColumns, ", ")+" FROM incident_enrichments_flat WHERE incident_id = ?",
		incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flat row: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanFlatRow(rows)
}

// Revert removes the enrichment for one incident and resets its state
func (r *enrichmentRepository) Revert(ctx context.Context, incidentID string) error {
	if incidentID == "" {
		return fmt.Errorf("incident id is required")
	}

	tx, err := r.db.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := revertInTx(ctx, tx, incidentID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit revert: %w", err)
	}
	return nil
}

// RevertAll reverts every enriched incident
func (r *enrichmentRepository) RevertAll(ctx context.Context) (int, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		"SELECT incident_id FROM incidents WHERE llm_enriched = 1")
	if err != nil {
		return 0, fmt.Errorf("failed to list enriched incidents: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan incident id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate enriched incidents: %w", err)
	}

	tx, err := r.db.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, id := range ids {
		if err := revertInTx(ctx, tx, id); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit revert-all: %w", err)
	}
	return len(ids), nil
}

func revertInTx(ctx context.Context, tx *sql.Tx, incidentID string) error {
	for _, stmt := range []string{
		"DELETE FROM incident_enrichments_flat WHERE incident_id = ?",
		"DELETE FROM incident_enrichments WHERE incident_id = ?",
		"DELETE FROM articles WHERE incident_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, incidentID); err != nil {
			return fmt.Errorf("failed to revert enrichment rows: %w", err)
		}
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE incidents
		SET llm_enriched = 0,
			llm_enriched_at = NULL,
			primary_url = NULL,
			llm_summary = NULL,
			llm_timeline = NULL,
			llm_mitre_attack = NULL,
			llm_attack_dynamics = NULL,
			last_updated_at = ?
		WHERE incident_id = ?`,
		domain.NowUTC(), incidentID)
	if err != nil {
		return fmt.Errorf("failed to reset incident: %w", err)
	}
	return nil
}

// Stats summarizes enrichment progress
func (r *enrichmentRepository) Stats(ctx context.Context) (repository.EnrichmentStats, error) {
	var stats repository.EnrichmentStats

	queries := []struct {
		dest  *int
		query string
	}{
		{&stats.TotalIncidents, "SELECT COUNT(*) FROM incidents"},
		{&stats.Enriched, "SELECT COUNT(*) FROM incidents WHERE llm_enriched = 1"},
		{&stats.Unenriched, "SELECT COUNT(*) FROM incidents WHERE llm_enriched = 0"},
		{&stats.Skipped, "SELECT COUNT(*) FROM incidents WHERE notes LIKE '%" + skippedNotePrefix + "%'"},
	}
	for _, q := range queries {
		if err := r.db.conn.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return stats, fmt.Errorf("failed to compute enrichment stats: %w", err)
		}
	}

	return stats, nil
}

// FlatRows returns all flat projection rows, newest first
func (r *enrichmentRepository) FlatRows(ctx context.Context) ([]map[string]any, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		"SELECT "+strings.Join(flatColumns, ", ")+" FROM incident_enrichments_flat ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query flat rows: %w", err)
	}
	defer rows.Close()

	var result []map[string]any
	for rows.Next() {
		row, err := scanFlatRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flat rows: %w", err)
	}
	return result, nil
}

// FlatColumns returns the canonical flat projection column order
func (r *enrichmentRepository) FlatColumns() []string {
	cols := make([]string, len(flatColumns))
	copy(cols, flatColumns)
	return cols
}

func scanFlatRow(rows *sql.Rows) (map[string]any, error) {
	dests := make([]any, len(flatColumns))
	for i := range dests {
		dests[i] = new(any)
	}
	if err := rows.Scan(dests...); err != nil {
		return nil, fmt.Errorf("failed to scan flat row: %w", err)
	}

	row := make(map[string]any, len(flatColumns))
	for i, col := range flatColumns {
		row[col] = *(dests[i].(*any))
	}
	return row, nil
}

func isFlatColumn(name string) bool {
	for _, col := range flatColumns {
		if col == name {
			return true
		}
	}
	return false
}

// normalizeFlatValue converts Go values into SQLite-storable forms; booleans
// become 0/1 and nil stays NULL.
func normalizeFlatValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bool:
		return boolToInt(val)
	default:
		return v
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
