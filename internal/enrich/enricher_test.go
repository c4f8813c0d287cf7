package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduthreat/cti-pipeline/internal/domain"
	"github.com/eduthreat/cti-pipeline/internal/extract"
	"github.com/eduthreat/cti-pipeline/internal/fetch"
	"github.com/eduthreat/cti-pipeline/internal/llm"
	"github.com/eduthreat/cti-pipeline/internal/metrics"
	"github.com/eduthreat/cti-pipeline/internal/repository"
	"github.com/eduthreat/cti-pipeline/internal/repository/sqlite"
)

// fakeGateway returns canned responses keyed by a marker substring in the
// user prompt (the article content carries the marker).
type fakeGateway struct {
	responses map[string]string
	err       error
	calls     int
}

func (f *fakeGateway) Extract(_ context.Context, _ string, userPrompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	for marker, response := range f.responses {
		if strings.Contains(userPrompt, marker) {
			return response, nil
		}
	}
	return "", fmt.Errorf("no canned response matched")
}

type enricherEnv struct {
	incidents   repository.IncidentRepository
	articles    repository.ArticleRepository
	enrichments repository.EnrichmentRepository
	registry    *metrics.Registry
}

func setupEnricher(t *testing.T, gateway Gateway) (*Enricher, enricherEnv) {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := enricherEnv{
		incidents:   sqlite.NewIncidentRepository(db),
		articles:    sqlite.NewArticleRepository(db),
		enrichments: sqlite.NewEnrichmentRepository(db),
		registry:    metrics.NewRegistry(zerolog.Nop()),
	}

	client := fetch.NewClient(fetch.Config{
		Timeout:     time.Second,
		MaxRetries:  0,
		BackoffBase: time.Millisecond,
	}, zerolog.Nop())
	extractor := extract.NewExtractor(client, nil, nil, zerolog.Nop())

	e := NewEnricher(env.incidents, env.articles, env.enrichments, extractor, gateway, env.registry, zerolog.Nop())
	return e, env
}

func storeIncident(t *testing.T, env enricherEnv, id string, urls []string) *domain.Incident {
	t.Helper()
	date := "2024-05-01"
	inc := &domain.Incident{
		IncidentID:          id,
		Source:              "testsource",
		UniversityName:      "Test University",
		VictimRawName:       "Test University",
		IncidentDate:        &date,
		DatePrecision:       domain.PrecisionDay,
		SourcePublishedDate: &date,
		IngestedAt:          domain.NowUTC(),
		AllURLs:             urls,
		Status:              domain.StatusSuspected,
		SourceConfidence:    domain.ConfidenceMedium,
	}
	_, err := env.incidents.Insert(context.Background(), inc)
	require.NoError(t, err)
	return inc
}

func storeArticle(t *testing.T, env enricherEnv, incidentID, url, marker string) {
	t.Helper()
	content := marker + " " + strings.Repeat("The incident details are described at length here. ", 5)
	require.NoError(t, env.articles.Upsert(context.Background(), &domain.Article{
		IncidentID:      incidentID,
		URL:             url,
		Title:           "Article " + marker,
		Content:         content,
		FetchSuccessful: true,
		ContentLength:   len(content),
	}))
}

const sparseResponse = `{
	"is_edu_cyber_incident": true,
	"education_relevance_reasoning": "A university is named.",
	"institution_name": "Test University",
	"enriched_summary": "A university suffered an incident."
}`

const richResponse = `{
	"is_edu_cyber_incident": true,
	"education_relevance_reasoning": "A university is named.",
	"institution_name": "Test University",
	"country": "US",
	"incident_date": "2024-04-28",
	"incident_date_precision": "exact",
	"attack_category": "ransomware_double_extortion",
	"ransomware_family": "lockbit",
	"was_ransom_demanded": true,
	"ransom_amount": 2000000,
	"systems_affected": ["email_system", "backup_systems"],
	"data_exfiltrated": true,
	"enriched_summary": "Ransomware with exfiltration at a university."
}`

const notEducationResponse = `{
	"is_edu_cyber_incident": false,
	"education_relevance_reasoning": "The affected entity is a retail chain.",
	"enriched_summary": "A retailer was breached."
}`

func TestEnrichIncidentSingleArticle(t *testing.T) {
	gateway := &fakeGateway{responses: map[string]string{"MARK-A": richResponse}}
	e, env := setupEnricher(t, gateway)
	ctx := context.Background()

	inc := storeIncident(t, env, "testsource_0000000000000001", []string{"https://a.com/1"})
	storeArticle(t, env, inc.IncidentID, "https://a.com/1", "MARK-A")

	outcome, err := e.EnrichIncident(ctx, inc, Options{SkipIfNotEducation: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeEnriched, outcome)

	got, err := env.incidents.GetByID(ctx, inc.IncidentID)
	require.NoError(t, err)
	assert.True(t, got.LLMEnriched)
	assert.Equal(t, "https://a.com/1", domain.StrOrEmpty(got.PrimaryURL))
	// model-corrected date and normalized country
	assert.Equal(t, "2024-04-28", domain.StrOrEmpty(got.IncidentDate))
	assert.Equal(t, "United States", domain.StrOrEmpty(got.Country))

	flat, err := env.enrichments.GetFlat(ctx, inc.IncidentID)
	require.NoError(t, err)
	require.NotNil(t, flat)
	assert.Equal(t, "lockbit", flat["ransomware_family"])
	assert.Equal(t, int64(1), flat["was_ransom_demanded"])
	assert.Equal(t, 2000000.0, flat["ransom_amount"])
	assert.Equal(t, "US", flat["country_code"])

	var systems []string
	require.NoError(t, json.Unmarshal([]byte(flat["systems_affected"].(string)), &systems))
	assert.Equal(t, []string{"email_system", "backup_systems"}, systems)
}

func TestEnrichIncidentMultiArticleSelectsBestCoverage(t *testing.T) {
	gateway := &fakeGateway{responses: map[string]string{
		"MARK-U1": sparseResponse,
		"MARK-U2": richResponse,
	}}
	e, env := setupEnricher(t, gateway)
	ctx := context.Background()

	inc := storeIncident(t, env, "testsource_0000000000000002", []string{"https://a.com/u1", "https://b.com/u2"})
	storeArticle(t, env, inc.IncidentID, "https://a.com/u1", "MARK-U1")
	storeArticle(t, env, inc.IncidentID, "https://b.com/u2", "MARK-U2")

	outcome, err := e.EnrichIncident(ctx, inc, Options{SkipIfNotEducation: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeEnriched, outcome)

	got, err := env.incidents.GetByID(ctx, inc.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, "https://b.com/u2", domain.StrOrEmpty(got.PrimaryURL))

	// non-primary article deleted by the save transaction
	remaining, err := env.articles.GetByIncident(ctx, inc.IncidentID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "https://b.com/u2", remaining[0].URL)
	assert.True(t, remaining[0].IsPrimary)

	flat, err := env.enrichments.GetFlat(ctx, inc.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, "lockbit", flat["ransomware_family"])
}

func TestEnrichIncidentNotEducationGate(t *testing.T) {
	gateway := &fakeGateway{responses: map[string]string{"MARK-RETAIL": notEducationResponse}}
	e, env := setupEnricher(t, gateway)
	ctx := context.Background()

	inc := storeIncident(t, env, "testsource_0000000000000003", []string{"https://a.com/retail"})
	storeArticle(t, env, inc.IncidentID, "https://a.com/retail", "MARK-RETAIL")

	outcome, err := e.EnrichIncident(ctx, inc, Options{SkipIfNotEducation: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotEducationRelated, outcome)

	got, err := env.incidents.GetByID(ctx, inc.IncidentID)
	require.NoError(t, err)
	assert.True(t, got.LLMEnriched)
	require.NotNil(t, got.Notes)
	assert.Contains(t, *got.Notes, "LLM_ENRICHMENT_SKIPPED: The affected entity is a retail chain.")

	// no enrichment rows were written
	data, err := env.enrichments.GetData(ctx, inc.IncidentID)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestEnrichIncidentNoValidArticles(t *testing.T) {
	gateway := &fakeGateway{responses: map[string]string{}}
	e, env := setupEnricher(t, gateway)
	ctx := context.Background()

	inc := storeIncident(t, env, "testsource_0000000000000004", []string{"https://a.com/dead"})
	msg := "fetch failed"
	require.NoError(t, env.articles.Upsert(ctx, &domain.Article{
		IncidentID:      inc.IncidentID,
		URL:             "https://a.com/dead",
		FetchSuccessful: false,
		ErrorMessage:    &msg,
	}))

	outcome, err := e.EnrichIncident(ctx, inc, Options{SkipIfNotEducation: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoValidArticles, outcome)
	assert.Equal(t, 0, gateway.calls)

	got, err := env.incidents.GetByID(ctx, inc.IncidentID)
	require.NoError(t, err)
	assert.True(t, got.LLMEnriched)
}

func TestEnrichBatchRateLimitAborts(t *testing.T) {
	gateway := &fakeGateway{err: &llm.RateLimitError{Attempts: 5, Err: errors.New("429")}}
	e, env := setupEnricher(t, gateway)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("testsource_00000000000000a%d", i)
		inc := storeIncident(t, env, id, []string{fmt.Sprintf("https://a.com/%d", i)})
		storeArticle(t, env, inc.IncidentID, inc.AllURLs[0], "MARK-ANY")
	}

	enriched, err := e.EnrichBatch(ctx, 0, Options{SkipIfNotEducation: true})
	require.Error(t, err)
	assert.True(t, llm.IsRateLimit(err))
	assert.Equal(t, 0, enriched)
	// aborted on the first incident, no further model calls
	assert.Equal(t, 1, gateway.calls)
	assert.Equal(t, int64(1), env.registry.Counter("enrichment_runs", map[string]string{"status": "error"}))

	// nothing was partially persisted
	stats, err := env.enrichments.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Enriched)
}

func TestEnrichBatchContinuesPastParseFailures(t *testing.T) {
	gateway := &fakeGateway{responses: map[string]string{
		"MARK-BAD":  "this is not json at all",
		"MARK-GOOD": richResponse,
	}}
	e, env := setupEnricher(t, gateway)
	ctx := context.Background()

	bad := storeIncident(t, env, "testsource_00000000000000b1", []string{"https://a.com/bad"})
	storeArticle(t, env, bad.IncidentID, "https://a.com/bad", "MARK-BAD")
	good := storeIncident(t, env, "testsource_00000000000000b2", []string{"https://a.com/good"})
	storeArticle(t, env, good.IncidentID, "https://a.com/good", "MARK-GOOD")

	enriched, err := e.EnrichBatch(ctx, 0, Options{SkipIfNotEducation: true})
	require.NoError(t, err)
	assert.Equal(t, 1, enriched)

	// the failed incident stays unenriched for a later pass
	gotBad, err := env.incidents.GetByID(ctx, bad.IncidentID)
	require.NoError(t, err)
	assert.False(t, gotBad.LLMEnriched)
}
