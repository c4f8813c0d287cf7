package repository

import (
	"context"

	"github.com/eduthreat/cti-pipeline/internal/domain"
)

// Repository interfaces define contracts for the persistence layer.
// The embedded-store implementation lives in the sqlite/ subdirectory.

// IncidentRepository defines operations for incident persistence
type IncidentRepository interface {
	// Insert is idempotent by incident_id: re-insertion merges new URLs into
	// all_urls (ordered set union) and refreshes ingested_at. The returned
	// bool reports whether a new row was created.
	Insert(ctx context.Context, incident *domain.Incident) (bool, error)
	GetByID(ctx context.Context, incidentID string) (*domain.Incident, error)
	List(ctx context.Context, limit, offset int) ([]*domain.Incident, error)
	Count(ctx context.Context) (int, error)
	CountEnriched(ctx context.Context) (int, error)
	// GetUnenriched returns incidents with llm_enriched=0 and a non-empty
	// all_urls list, newest first. limit <= 0 returns all.
	GetUnenriched(ctx context.Context, limit int) ([]*domain.Incident, error)
	// ListEnriched returns every enriched incident, newest first.
	ListEnriched(ctx context.Context) ([]*domain.Incident, error)
	Delete(ctx context.Context, incidentID string) error
}

// SourceStateRepository defines operations for per-source ingestion state
type SourceStateRepository interface {
	SourceEventExists(ctx context.Context, source, sourceEventID string) (bool, error)
	RegisterSourceEvent(ctx context.Context, source, sourceEventID, incidentID, registeredAt string) error
	// GetLastPubdate returns the per-source watermark date (YYYY-MM-DD), or
	// "" when the source has never completed a run.
	GetLastPubdate(ctx context.Context, source string) (string, error)
	SetLastPubdate(ctx context.Context, source, date string) error
}

// ArticleRepository defines operations for fetched-article persistence
type ArticleRepository interface {
	Upsert(ctx context.Context, article *domain.Article) error
	GetByIncident(ctx context.Context, incidentID string) ([]*domain.Article, error)
	DeleteByIncident(ctx context.Context, incidentID string) error
}

// SaveEnrichmentParams carries everything one enrichment transaction writes.
type SaveEnrichmentParams struct {
	IncidentID     string
	EnrichmentJSON string
	// FlatRow maps incident_enrichments_flat column names to values. Unknown
	// columns are rejected; missing columns are stored as NULL.
	FlatRow map[string]any
	RawJSON string

	PrimaryURL         string
	Summary            string
	TimelineJSON       string
	MitreJSON          string
	AttackDynamicsJSON string

	// Corrections extracted by the model; empty values leave the incident
	// row untouched.
	IncidentDate  string
	DatePrecision string
	Country       string
}

// EnrichmentStats summarizes enrichment progress.
type EnrichmentStats struct {
	TotalIncidents int
	Enriched       int
	Unenriched     int
	Skipped        int
}

// EnrichmentRepository defines operations for enrichment persistence
type EnrichmentRepository interface {
	// Save atomically updates the incident row, writes the full enrichment
	// record and the flat projection, marks the primary article, and deletes
	// non-primary articles.
	Save(ctx context.Context, params SaveEnrichmentParams) error
	// MarkSkipped flags an incident as processed without enrichment, storing
	// the reason in notes.
	MarkSkipped(ctx context.Context, incidentID, reason string) error
	GetData(ctx context.Context, incidentID string) (string, error)
	GetFlat(ctx context.Context, incidentID string) (map[string]any, error)
	// Revert removes the enrichment rows and articles for one incident and
	// returns it to the unenriched state.
	Revert(ctx context.Context, incidentID string) error
	// RevertAll reverts every enriched incident and returns how many were reset.
	RevertAll(ctx context.Context) (int, error)
	Stats(ctx context.Context) (EnrichmentStats, error)
	// FlatRows streams the flat projection for export, newest first.
	FlatRows(ctx context.Context) ([]map[string]any, error)
	FlatColumns() []string
}
