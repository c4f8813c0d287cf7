// Package dedup implements the optional post-enrichment deduplication pass:
// different sources reporting the same real-world event produce distinct
// incident ids, so after enrichment the records are matched on normalized
// institution name within a date window and collapsed to the best one.
package dedup

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/eduthreat/cti-pipeline/internal/domain"
	"github.com/eduthreat/cti-pipeline/internal/repository"
)

// DefaultWindowDays is the date window within which two enriched incidents
// for the same institution count as the same event.
const DefaultWindowDays = 14

var (
	namePrefixes = []*regexp.Regexp{
		regexp.MustCompile(`^the\s+university\s+of\s+`),
		regexp.MustCompile(`^university\s+of\s+`),
		regexp.MustCompile(`^the\s+`),
		regexp.MustCompile(`^university\s+`),
		regexp.MustCompile(`^college\s+of\s+`),
		regexp.MustCompile(`^college\s+`),
		regexp.MustCompile(`^school\s+of\s+`),
		regexp.MustCompile(`^school\s+`),
	}
	nameSuffixes = []*regexp.Regexp{
		regexp.MustCompile(`\s+university\s+system$`),
		regexp.MustCompile(`\s+university$`),
		regexp.MustCompile(`\s+college$`),
		regexp.MustCompile(`\s+school$`),
		regexp.MustCompile(`\s+institute$`),
	}
	punctuation = regexp.MustCompile(`[^\w\s-]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// NormalizeInstitutionName canonicalizes an institution name for matching:
// lowercase, common prefixes/suffixes stripped, punctuation removed,
// whitespace collapsed.
func NormalizeInstitutionName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return ""
	}

	for _, p := range namePrefixes {
		n = p.ReplaceAllString(n, "")
	}
	for _, s := range nameSuffixes {
		n = s.ReplaceAllString(n, "")
	}

	n = punctuation.ReplaceAllString(n, "")
	n = whitespace.ReplaceAllString(n, " ")
	return strings.TrimSpace(n)
}

// DatesWithinWindow reports whether two ISO dates fall within the window.
// A missing date on either side never matches.
func DatesWithinWindow(date1, date2 string, windowDays int) bool {
	t1, err1 := time.Parse("2006-01-02", date1)
	t2, err2 := time.Parse("2006-01-02", date2)
	if err1 != nil || err2 != nil {
		return false
	}

	delta := t1.Sub(t2)
	if delta < 0 {
		delta = -delta
	}
	return delta <= time.Duration(windowDays)*24*time.Hour
}

// Stats summarizes one deduplication pass.
type Stats struct {
	TotalEnriched int
	Groups        int
	Removed       int
}

// Deduplicator runs the post-enrichment pass.
type Deduplicator struct {
	incidents   repository.IncidentRepository
	enrichments repository.EnrichmentRepository
	logger      zerolog.Logger
}

// NewDeduplicator creates a deduplicator.
func NewDeduplicator(incidents repository.IncidentRepository, enrichments repository.EnrichmentRepository, logger zerolog.Logger) *Deduplicator {
	if incidents == nil || enrichments == nil {
		panic("repositories cannot be nil")
	}
	return &Deduplicator{incidents: incidents, enrichments: enrichments, logger: logger}
}

// Run finds groups of enriched incidents with the same normalized
// institution name and incident dates within windowDays, keeps the record
// with the highest coverage score, and deletes the rest.
func (d *Deduplicator) Run(ctx context.Context, windowDays int) (Stats, error) {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}

	enriched, err := d.incidents.ListEnriched(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list enriched incidents: %w", err)
	}

	stats := Stats{TotalEnriched: len(enriched)}
	processed := make(map[string]bool)

	for _, inc := range enriched {
		if processed[inc.IncidentID] {
			continue
		}

		name := inc.UniversityName
		if name == "" {
			name = inc.VictimRawName
		}
		normalized := NormalizeInstitutionName(name)
		if normalized == "" {
			processed[inc.IncidentID] = true
			continue
		}

		group := []*domain.Incident{inc}
		for _, other := range enriched {
			if other.IncidentID == inc.IncidentID || processed[other.IncidentID] {
				continue
			}
			otherName := other.UniversityName
			if otherName == "" {
				otherName = other.VictimRawName
			}
			if NormalizeInstitutionName(otherName) != normalized {
				continue
			}
			if !DatesWithinWindow(domain.StrOrEmpty(inc.IncidentDate), domain.StrOrEmpty(other.IncidentDate), windowDays) {
				continue
			}
			group = append(group, other)
		}

		for _, member := range group {
			processed[member.IncidentID] = true
		}
		if len(group) < 2 {
			continue
		}
		stats.Groups++

		keep := group[0]
		keepScore := d.coverageScore(ctx, keep.IncidentID)
		for _, member := range group[1:] {
			score := d.coverageScore(ctx, member.IncidentID)
			if score > keepScore {
				keep = member
				keepScore = score
			}
		}

		for _, member := range group {
			if member.IncidentID == keep.IncidentID {
				continue
			}
			d.logger.Info().
				Str("removed", member.IncidentID).
				Str("kept", keep.IncidentID).
				Str("institution", name).
				Msg("removing duplicate incident")
			if err := d.incidents.Delete(ctx, member.IncidentID); err != nil {
				return stats, fmt.Errorf("failed to delete duplicate %s: %w", member.IncidentID, err)
			}
			stats.Removed++
		}
	}

	d.logger.Info().
		Int("total", stats.TotalEnriched).
		Int("groups", stats.Groups).
		Int("removed", stats.Removed).
		Msg("post-enrichment deduplication complete")

	return stats, nil
}

// coverageScore reads the stored coverage from the enrichment record; absent
// or unreadable records score zero.
func (d *Deduplicator) coverageScore(ctx context.Context, incidentID string) int {
	data, err := d.enrichments.GetData(ctx, incidentID)
	if err != nil || data == "" {
		return 0
	}
	return int(gjson.Get(data, "coverage_score").Int())
}
