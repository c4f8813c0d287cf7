package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/eduthreat/cti-pipeline/internal/domain"
	"github.com/eduthreat/cti-pipeline/internal/extract"
	"github.com/eduthreat/cti-pipeline/internal/geo"
	"github.com/eduthreat/cti-pipeline/internal/llm"
	"github.com/eduthreat/cti-pipeline/internal/metrics"
	"github.com/eduthreat/cti-pipeline/internal/repository"
)

// Outcome classifies how processing one incident ended. NotEducationRelated
// is a classified outcome, not a failure: the model read the articles and
// concluded the victim is outside the sector.
type Outcome int

const (
	OutcomeEnriched Outcome = iota
	OutcomeNotEducationRelated
	OutcomeNoValidArticles
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEnriched:
		return "enriched"
	case OutcomeNotEducationRelated:
		return "not_education_related"
	case OutcomeNoValidArticles:
		return "no_valid_articles"
	default:
		return "failed"
	}
}

// Options tunes one enrichment pass.
type Options struct {
	// SkipIfNotEducation marks non-education incidents as skipped instead of
	// persisting their extraction.
	SkipIfNotEducation bool
	// RateLimitDelay is the courtesy pause between incidents.
	RateLimitDelay time.Duration
}

// Gateway is the LLM call surface the enricher depends on; *llm.Client
// satisfies it.
type Gateway interface {
	Extract(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Enricher runs the per-incident enrichment workflow.
type Enricher struct {
	incidents   repository.IncidentRepository
	articles    repository.ArticleRepository
	enrichments repository.EnrichmentRepository
	extractor   *extract.Extractor
	gateway     Gateway
	registry    *metrics.Registry
	logger      zerolog.Logger
}

// NewEnricher creates an enricher.
func NewEnricher(
	incidents repository.IncidentRepository,
	articles repository.ArticleRepository,
	enrichments repository.EnrichmentRepository,
	extractor *extract.Extractor,
	gateway Gateway,
	registry *metrics.Registry,
	logger zerolog.Logger,
) *Enricher {
	if incidents == nil || articles == nil || enrichments == nil {
		panic("repositories cannot be nil")
	}
	if extractor == nil {
		panic("extractor cannot be nil")
	}
	if gateway == nil {
		panic("llm gateway cannot be nil")
	}
	if registry == nil {
		panic("metrics registry cannot be nil")
	}
	return &Enricher{
		incidents:   incidents,
		articles:    articles,
		enrichments: enrichments,
		extractor:   extractor,
		gateway:     gateway,
		registry:    registry,
		logger:      logger,
	}
}

// EnrichBatch processes up to limit unenriched incidents (limit <= 0 means
// all). A persistent LLM rate limit aborts the whole pass; any other
// per-incident failure is counted and the pass continues.
func (e *Enricher) EnrichBatch(ctx context.Context, limit int, opts Options) (int, error) {
	incidents, err := e.incidents.GetUnenriched(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list unenriched incidents: %w", err)
	}

	e.logger.Info().Int("count", len(incidents)).Msg("enrichment pass starting")

	enriched := 0
	for i, incident := range incidents {
		outcome, err := e.EnrichIncident(ctx, incident, opts)
		if err != nil {
			if llm.IsRateLimit(err) {
				e.registry.Increment("enrichment_runs", 1, map[string]string{"status": "error"})
				return enriched, fmt.Errorf("enrichment pass aborted: %w", err)
			}
			if ctx.Err() != nil {
				return enriched, ctx.Err()
			}
			e.registry.Increment("enrichment_failures", 1, map[string]string{"source": incident.Source})
			e.logger.Error().Err(err).Str("incident_id", incident.IncidentID).Msg("enrichment failed")
			continue
		}

		e.registry.Increment("enrichment_outcomes", 1, map[string]string{"outcome": outcome.String()})
		if outcome == OutcomeEnriched {
			enriched++
		}

		if opts.RateLimitDelay > 0 && i < len(incidents)-1 {
			select {
			case <-ctx.Done():
				return enriched, ctx.Err()
			case <-time.After(opts.RateLimitDelay):
			}
		}
	}

	e.registry.Increment("enrichment_runs", 1, map[string]string{"status": "success"})
	return enriched, nil
}

// EnrichIncident runs the full workflow for one incident: fetch articles,
// extract per article, score, gate, persist. The returned Outcome is only
// meaningful when err is nil.
func (e *Enricher) EnrichIncident(ctx context.Context, incident *domain.Incident, opts Options) (Outcome, error) {
	if incident == nil {
		return OutcomeFailed, fmt.Errorf("incident cannot be nil")
	}

	articles, err := e.fetchArticles(ctx, incident)
	if err != nil {
		return OutcomeFailed, err
	}

	var usable []*domain.Article
	for _, a := range articles {
		if a.Usable() {
			usable = append(usable, a)
		}
	}

	if len(usable) == 0 {
		e.logger.Warn().Str("incident_id", incident.IncidentID).Msg("no valid articles")
		if err := e.enrichments.MarkSkipped(ctx, incident.IncidentID, "no valid articles could be fetched"); err != nil {
			return OutcomeFailed, err
		}
		return OutcomeNoValidArticles, nil
	}

	best, outcome, err := e.selectBest(ctx, incident, usable, opts)
	if err != nil {
		return OutcomeFailed, err
	}
	if outcome != OutcomeEnriched {
		return outcome, nil
	}

	if err := e.persist(ctx, incident, best); err != nil {
		return OutcomeFailed, err
	}

	e.logger.Info().
		Str("incident_id", incident.IncidentID).
		Str("primary_url", best.PrimaryURL).
		Int("coverage", best.Coverage).
		Msg("incident enriched")

	return OutcomeEnriched, nil
}

// fetchArticles retrieves (and persists) one article per URL. Previously
// fetched articles are reused.
func (e *Enricher) fetchArticles(ctx context.Context, incident *domain.Incident) ([]*domain.Article, error) {
	existing, err := e.articles.GetByIncident(ctx, incident.IncidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load articles: %w", err)
	}

	byURL := make(map[string]*domain.Article, len(existing))
	for _, a := range existing {
		byURL[a.URL] = a
	}

	var out []*domain.Article
	for _, u := range incident.AllURLs {
		if a, ok := byURL[u]; ok {
			out = append(out, a)
			continue
		}

		fetched := e.extractor.Fetch(ctx, incident.IncidentID, u)
		if err := e.articles.Upsert(ctx, &fetched); err != nil {
			return nil, fmt.Errorf("failed to store article: %w", err)
		}
		out = append(out, &fetched)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return out, nil
}

// selectBest extracts each article independently, scores the results by
// field coverage, and picks the winner. The education gate fires only when
// every article was extracted and each says not-education; if any article
// fails extraction and none is education-related, the incident fails.
func (e *Enricher) selectBest(ctx context.Context, incident *domain.Incident, articles []*domain.Article, opts Options) (*Result, Outcome, error) {
	type scored struct {
		result *Result
	}

	var (
		candidates    []scored
		allNotEdu     = true
		anyExtracted  = false
		lastReasoning string
	)

	for _, article := range articles {
		result, err := e.extractArticle(ctx, incident, article)
		if err != nil {
			if llm.IsRateLimit(err) {
				return nil, OutcomeFailed, err
			}
			e.logger.Warn().Err(err).Str("url", article.URL).Msg("article extraction failed")
			allNotEdu = false
			continue
		}
		anyExtracted = true

		if opts.SkipIfNotEducation && !result.IsEducationRelated {
			lastReasoning = result.Reasoning
			e.logger.Info().Str("url", article.URL).Msg("article classified as not education-related")
			continue
		}
		allNotEdu = false

		candidates = append(candidates, scored{result: result})
		e.logger.Info().Str("url", article.URL).Int("coverage", result.Coverage).Msg("article scored")
	}

	if len(candidates) == 0 {
		if anyExtracted && allNotEdu {
			reason := lastReasoning
			if reason == "" {
				reason = "all articles classified as not education-related"
			}
			if err := e.enrichments.MarkSkipped(ctx, incident.IncidentID, reason); err != nil {
				return nil, OutcomeFailed, err
			}
			return nil, OutcomeNotEducationRelated, nil
		}
		return nil, OutcomeFailed, fmt.Errorf("no article produced a valid extraction for %s", incident.IncidentID)
	}

	best := candidates[0].result
	for _, c := range candidates[1:] {
		if c.result.Coverage > best.Coverage {
			best = c.result
		}
	}
	return best, OutcomeEnriched, nil
}

// extractArticle calls the model for one article and normalizes the
// response. A parse or validation failure gets one renormalize retry via
// NormalizeAndValidate before surfacing.
func (e *Enricher) extractArticle(ctx context.Context, incident *domain.Incident, article *domain.Article) (*Result, error) {
	prompt := BuildExtractionPrompt(article.URL, article.Title, article.Content)

	e.registry.StartTimer("llm_call", nil)
	raw, err := e.gateway.Extract(ctx, SystemPrompt, prompt)
	e.registry.StopTimer("llm_call", nil)
	if err != nil {
		return nil, err
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		// One repair attempt for the known escaping mistakes.
		if rerr := json.Unmarshal([]byte(llm.RepairJSONEscapes(raw)), &parsed); rerr != nil {
			return nil, fmt.Errorf("failed to parse model response: %w", err)
		}
	}

	normalized, err := NormalizeAndValidate(parsed)
	if err != nil {
		return nil, fmt.Errorf("response failed schema validation: %w", err)
	}

	return ResultFromNormalized(normalized, article.URL)
}

// persist writes the enrichment transactionally.
func (e *Enricher) persist(ctx context.Context, incident *domain.Incident, result *Result) error {
	record, err := result.MarshalRecord()
	if err != nil {
		return err
	}

	rawJSON, err := json.Marshal(result.Normalized)
	if err != nil {
		return fmt.Errorf("failed to marshal raw extraction: %w", err)
	}
	rawStr := string(rawJSON)
	// Stamp the winning article onto the raw record when the model left
	// source_url empty.
	if gjson.Get(rawStr, "source_url").String() == "" {
		if stamped, serr := sjson.Set(rawStr, "source_url", result.PrimaryURL); serr == nil {
			rawStr = stamped
		}
	}

	params := repository.SaveEnrichmentParams{
		IncidentID:         incident.IncidentID,
		EnrichmentJSON:     record,
		FlatRow:            Flatten(result, incident),
		RawJSON:            rawStr,
		PrimaryURL:         result.PrimaryURL,
		Summary:            result.EnrichedSummary,
		TimelineJSON:       result.TimelineJSON(),
		MitreJSON:          result.MitreJSON(),
		AttackDynamicsJSON: result.AttackDynamicsJSON(),
	}

	// Model corrections: a concrete incident date and a normalized country
	// override what the listing supplied.
	if result.IncidentDate != "" {
		params.IncidentDate = result.IncidentDate
		params.DatePrecision = mapIncidentDatePrecision(result.IncidentDatePrecision)
	} else if earliest := earliestTimelineDate(result.Timeline); earliest != "" {
		params.IncidentDate = earliest
		params.DatePrecision = string(domain.PrecisionDay)
	}
	if result.Country != "" {
		params.Country = geo.NormalizeCountry(result.Country)
	}

	if err := e.enrichments.Save(ctx, params); err != nil {
		return fmt.Errorf("failed to save enrichment: %w", err)
	}
	return nil
}

func mapIncidentDatePrecision(p string) string {
	switch p {
	case "exact":
		return string(domain.PrecisionDay)
	case "month_only":
		return string(domain.PrecisionMonth)
	case "year_only":
		return string(domain.PrecisionYear)
	case "approximate":
		return string(domain.PrecisionDay)
	default:
		return string(domain.PrecisionDay)
	}
}

func earliestTimelineDate(timeline []TimelineEvent) string {
	earliest := ""
	for _, ev := range timeline {
		if ev.Date == nil || *ev.Date == "" {
			continue
		}
		if earliest == "" || *ev.Date < earliest {
			earliest = *ev.Date
		}
	}
	return earliest
}
