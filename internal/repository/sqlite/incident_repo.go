package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/eduthreat/cti-pipeline/internal/domain"
	"github.com/eduthreat/cti-pipeline/internal/repository"
)

type incidentRepository struct {
	db *DB
}

// NewIncidentRepository creates an incident repository on the embedded store
func NewIncidentRepository(db *DB) repository.IncidentRepository {
	if db == nil {
		panic("database cannot be nil")
	}
	return &incidentRepository{db: db}
}

const incidentColumns = `incident_id, source, source_event_id, university_name, victim_raw_name,
	institution_type, country, region, city, incident_date, date_precision,
	source_published_date, ingested_at, title, subtitle, primary_url, all_urls,
	leak_site_url, source_detail_url, screenshot_url, attack_type_hint, status,
	source_confidence, notes, llm_enriched, llm_enriched_at, llm_summary,
	llm_timeline, llm_mitre_attack, llm_attack_dynamics, last_updated_at`

// Insert inserts an incident, merging URLs into an existing row on conflict.
func (r *incidentRepository) Insert(ctx context.Context, incident *domain.Incident) (bool, error) {
	if incident == nil {
		return false, fmt.Errorf("incident cannot be nil")
	}

	if err := incident.Validate(); err != nil {
		return false, fmt.Errorf("invalid incident: %w", err)
	}

	tx, err := r.db.begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var existingURLs sql.NullString
	err = tx.QueryRowContext(ctx,
		"SELECT all_urls FROM incidents WHERE incident_id = ?", incident.IncidentID,
	).Scan(&existingURLs)

	inserted := false
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO incidents (`+incidentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			incident.IncidentID,
			incident.Source,
			incident.SourceEventID,
			incident.UniversityName,
			incident.VictimRawName,
			incident.InstitutionType,
			incident.Country,
			incident.Region,
			incident.City,
			incident.IncidentDate,
			string(incident.DatePrecision),
			incident.SourcePublishedDate,
			incident.IngestedAt,
			incident.Title,
			incident.Subtitle,
			incident.PrimaryURL,
			domain.JoinURLs(incident.AllURLs),
			incident.LeakSiteURL,
			incident.SourceDetailURL,
			incident.ScreenshotURL,
			incident.AttackTypeHint,
			string(incident.Status),
			string(incident.SourceConfidence),
			incident.Notes,
			boolToInt(incident.LLMEnriched),
			incident.LLMEnrichedAt,
			incident.LLMSummary,
			incident.LLMTimeline,
			incident.LLMMitreAttack,
			incident.LLMAttackDynamics,
			incident.LastUpdatedAt,
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert incident: %w", err)
		}
		inserted = true

	case err != nil:
		return false, fmt.Errorf("failed to look up incident: %w", err)

	default:
		merged := domain.MergeURLs(domain.SplitURLs(existingURLs.String), incident.AllURLs)
		_, err = tx.ExecContext(ctx, `
			UPDATE incidents SET all_urls = ?, ingested_at = ?, last_updated_at = ?
			WHERE incident_id = ?`,
			domain.JoinURLs(merged), incident.IngestedAt, incident.IngestedAt, incident.IncidentID,
		)
		if err != nil {
			return false, fmt.Errorf("failed to merge incident urls: %w", err)
		}
	}

	// Record which source observed this incident; an incident may be seen by
	// multiple sources.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO incident_sources (incident_id, source, observed_at)
		VALUES (?, ?, ?)
		ON CONFLICT (incident_id, source) DO UPDATE SET observed_at = excluded.observed_at`,
		incident.IncidentID, incident.Source, incident.IngestedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record incident source: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit incident insert: %w", err)
	}

	return inserted, nil
}

// GetByID retrieves an incident by ID
func (r *incidentRepository) GetByID(ctx context.Context, incidentID string) (*domain.Incident, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("incident id cannot be empty")
	}

	row := r.db.conn.QueryRowContext(ctx,
		"SELECT "+incidentColumns+" FROM incidents WHERE incident_id = ?", incidentID)

	incident, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("incident not found: %s", incidentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}

	return incident, nil
}

// List retrieves incidents ordered by ingestion time, newest first
func (r *incidentRepository) List(ctx context.Context, limit, offset int) ([]*domain.Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.conn.QueryContext(ctx,
		"SELECT "+incidentColumns+" FROM incidents ORDER BY ingested_at DESC LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	return collectIncidents(rows)
}

// Count returns the total number of incidents
func (r *incidentRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM incidents").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count incidents: %w", err)
	}
	return count, nil
}

// CountEnriched returns the number of enriched incidents
func (r *incidentRepository) CountEnriched(ctx context.Context) (int, error) {
	var count int
	if err := r.db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM incidents WHERE llm_enriched = 1").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count enriched incidents: %w", err)
	}
	return count, nil
}

// GetUnenriched returns incidents awaiting enrichment, newest first
func (r *incidentRepository) GetUnenriched(ctx context.Context, limit int) ([]*domain.Incident, error) {
	query := "SELECT " + incidentColumns + ` FROM incidents
		WHERE llm_enriched = 0 AND all_urls IS NOT NULL AND all_urls != ''
		ORDER BY ingested_at DESC`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.conn.QueryContext(ctx, query+" LIMIT ?", limit)
	} else {
		rows, err = r.db.conn.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query unenriched incidents: %w", err)
	}
	defer rows.Close()

	return collectIncidents(rows)
}

// ListEnriched returns every enriched incident, newest first
func (r *incidentRepository) ListEnriched(ctx context.Context) ([]*domain.Incident, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		"SELECT "+incidentColumns+" FROM incidents WHERE llm_enriched = 1 ORDER BY ingested_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list enriched incidents: %w", err)
	}
	defer rows.Close()

	return collectIncidents(rows)
}

// Delete removes an incident and its dependent rows
func (r *incidentRepository) Delete(ctx context.Context, incidentID string) error {
	if incidentID == "" {
		return fmt.Errorf("incident id cannot be empty")
	}

	result, err := r.db.conn.ExecContext(ctx, "DELETE FROM incidents WHERE incident_id = ?", incidentID)
	if err != nil {
		return fmt.Errorf("failed to delete incident: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("incident not found: %s", incidentID)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*domain.Incident, error) {
	var (
		inc         domain.Incident
		allURLs     sql.NullString
		precision   string
		status      string
		confidence  string
		llmEnriched int
	)

	err := row.Scan(
		&inc.IncidentID,
		&inc.Source,
		&inc.SourceEventID,
		&inc.UniversityName,
		&inc.VictimRawName,
		&inc.InstitutionType,
		&inc.Country,
		&inc.Region,
		&inc.City,
		&inc.IncidentDate,
		&precision,
		&inc.SourcePublishedDate,
		&inc.IngestedAt,
		&inc.Title,
		&inc.Subtitle,
		&inc.PrimaryURL,
		&allURLs,
		&inc.LeakSiteURL,
		&inc.SourceDetailURL,
		&inc.ScreenshotURL,
		&inc.AttackTypeHint,
		&status,
		&confidence,
		&inc.Notes,
		&llmEnriched,
		&inc.LLMEnrichedAt,
		&inc.LLMSummary,
		&inc.LLMTimeline,
		&inc.LLMMitreAttack,
		&inc.LLMAttackDynamics,
		&inc.LastUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	inc.DatePrecision = domain.DatePrecision(precision)
	inc.Status = domain.Status(status)
	inc.SourceConfidence = domain.SourceConfidence(confidence)
	inc.AllURLs = domain.SplitURLs(allURLs.String)
	inc.LLMEnriched = llmEnriched == 1

	return &inc, nil
}

func collectIncidents(rows *sql.Rows) ([]*domain.Incident, error) {
	var incidents []*domain.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate incidents: %w", err)
	}
	return incidents, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
