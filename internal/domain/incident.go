package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

type DatePrecision string

const (
	PrecisionDay     DatePrecision = "day"
	PrecisionMonth   DatePrecision = "month"
	PrecisionYear    DatePrecision = "year"
	PrecisionUnknown DatePrecision = "unknown"
)

// IsValid validates the date precision value
func (p DatePrecision) IsValid() bool {
	switch p {
	case PrecisionDay, PrecisionMonth, PrecisionYear, PrecisionUnknown:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusSuspected Status = "suspected"
	StatusConfirmed Status = "confirmed"
)

// IsValid validates the incident status value
func (s Status) IsValid() bool {
	return s == StatusSuspected || s == StatusConfirmed
}

type SourceConfidence string

const (
	ConfidenceLow    SourceConfidence = "low"
	ConfidenceMedium SourceConfidence = "medium"
	ConfidenceHigh   SourceConfidence = "high"
)

// IsValid validates the source confidence value
func (c SourceConfidence) IsValid() bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	default:
		return false
	}
}

// SourceGroup identifies the class of upstream sources an ingestion run targets.
type SourceGroup string

const (
	GroupCurated SourceGroup = "curated"
	GroupNews    SourceGroup = "news"
	GroupRSS     SourceGroup = "rss"
)

// IsValid validates the source group value
func (g SourceGroup) IsValid() bool {
	switch g {
	case GroupCurated, GroupNews, GroupRSS:
		return true
	default:
		return false
	}
}

// Incident represents one observed cyber incident affecting an educational
// institution. It is the unit of ingestion (Phase 1) and enrichment (Phase 2).
type Incident struct {
	IncidentID    string  `json:"incident_id"`
	Source        string  `json:"source"`
	SourceEventID *string `json:"source_event_id,omitempty"`

	UniversityName  string  `json:"university_name"`
	VictimRawName   string  `json:"victim_raw_name"`
	InstitutionType *string `json:"institution_type,omitempty"`
	Country         *string `json:"country,omitempty"`
	Region          *string `json:"region,omitempty"`
	City            *string `json:"city,omitempty"`

	IncidentDate        *string       `json:"incident_date,omitempty"` // YYYY-MM-DD
	DatePrecision       DatePrecision `json:"date_precision"`
	SourcePublishedDate *string       `json:"source_published_date,omitempty"`
	IngestedAt          string        `json:"ingested_at"`

	Title    *string `json:"title,omitempty"`
	Subtitle *string `json:"subtitle,omitempty"`

	// Phase 1 leaves PrimaryURL nil; Phase 2 selects the best URL from AllURLs.
	PrimaryURL *string  `json:"primary_url,omitempty"`
	AllURLs    []string `json:"all_urls"`

	LeakSiteURL     *string `json:"leak_site_url,omitempty"`
	SourceDetailURL *string `json:"source_detail_url,omitempty"`
	ScreenshotURL   *string `json:"screenshot_url,omitempty"`

	AttackTypeHint   *string          `json:"attack_type_hint,omitempty"`
	Status           Status           `json:"status"`
	SourceConfidence SourceConfidence `json:"source_confidence"`
	Notes            *string          `json:"notes,omitempty"`

	LLMEnriched   bool    `json:"llm_enriched"`
	LLMEnrichedAt *string `json:"llm_enriched_at,omitempty"`
	LLMSummary    *string `json:"llm_summary,omitempty"`
	// Cached enrichment projections (JSON blobs) mirrored onto the incident row.
	LLMTimeline       *string `json:"llm_timeline,omitempty"`
	LLMMitreAttack    *string `json:"llm_mitre_attack,omitempty"`
	LLMAttackDynamics *string `json:"llm_attack_dynamics,omitempty"`
	LastUpdatedAt     *string `json:"last_updated_at,omitempty"`
}

// Validate performs validation on the Incident
func (i *Incident) Validate() error {
	if i.IncidentID == "" {
		return fmt.Errorf("incident_id is required")
	}

	if i.Source == "" {
		return fmt.Errorf("source is required")
	}

	if i.IngestedAt == "" {
		return fmt.Errorf("ingested_at is required")
	}

	if !i.DatePrecision.IsValid() {
		return fmt.Errorf("invalid date_precision value: %s", i.DatePrecision)
	}

	if !i.Status.IsValid() {
		return fmt.Errorf("invalid status value: %s", i.Status)
	}

	if !i.SourceConfidence.IsValid() {
		return fmt.Errorf("invalid source_confidence value: %s", i.SourceConfidence)
	}

	// incident_date is null exactly when precision is unknown
	if (i.IncidentDate == nil) != (i.DatePrecision == PrecisionUnknown) {
		return fmt.Errorf("incident_date must be set iff date_precision is not unknown")
	}

	seen := make(map[string]bool, len(i.AllURLs))
	for _, u := range i.AllURLs {
		if u == "" {
			return fmt.Errorf("all_urls must not contain empty entries")
		}
		if seen[u] {
			return fmt.Errorf("duplicate url in all_urls: %s", u)
		}
		seen[u] = true
	}

	if i.PrimaryURL != nil && !seen[*i.PrimaryURL] {
		return fmt.Errorf("primary_url must be an element of all_urls")
	}

	return nil
}

// MakeIncidentID derives the stable incident identifier for a source and its
// unique string. Two invocations with the same inputs always yield the same
// id, which is what makes re-ingestion idempotent.
func MakeIncidentID(source, uniqueString string) string {
	sum := sha256.Sum256([]byte(source + "|" + uniqueString))
	return source + "_" + hex.EncodeToString(sum[:])[:16]
}

// MergeURLs returns the ordered set union of existing and incoming URLs.
// Existing order is preserved; new URLs are appended in discovery order.
func MergeURLs(existing, incoming []string) []string {
	merged := make([]string, 0, len(existing)+len(incoming))
	seen := make(map[string]bool, len(existing)+len(incoming))
	for _, u := range existing {
		if u != "" && !seen[u] {
			seen[u] = true
			merged = append(merged, u)
		}
	}
	for _, u := range incoming {
		if u != "" && !seen[u] {
			seen[u] = true
			merged = append(merged, u)
		}
	}
	return merged
}

// JoinURLs serializes a URL list into the semicolon-joined storage form.
func JoinURLs(urls []string) string {
	return strings.Join(urls, ";")
}

// SplitURLs parses the semicolon-joined storage form back into a list.
func SplitURLs(joined string) []string {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ";")
	urls := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			urls = append(urls, p)
		}
	}
	return urls
}

// NowUTC returns the current UTC time as an ISO8601 string with 'Z' suffix.
func NowUTC() string {
	return time.Now().UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z")
}

// StrPtr returns a pointer to s, or nil when s is empty.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StrOrEmpty dereferences s, returning "" for nil.
func StrOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
