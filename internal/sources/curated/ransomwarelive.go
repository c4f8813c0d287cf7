package curated

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/eduthreat/cti-pipeline/internal/domain"
	"github.com/eduthreat/cti-pipeline/internal/fetch"
	"github.com/eduthreat/cti-pipeline/internal/sources"
)

const ransomwareLiveSource = "ransomwarelive"

var ransomwareLiveBaseURL = "https://api.ransomware.live/v2"

// ransomwareVictim mirrors the fields we consume from the sector API.
type ransomwareVictim struct {
	Activity    string          `json:"activity"`
	Victim      string          `json:"victim"`
	Name        string          `json:"name"`
	Company     string          `json:"company"`
	Description string          `json:"description"`
	Group       string          `json:"group"`
	AttackDate  string          `json:"attackdate"`
	Discovered  string          `json:"discovered"`
	Country     string          `json:"country"`
	CountryCode string          `json:"countrycode"`
	Domain      string          `json:"domain"`
	URL         string          `json:"url"`
	ClaimURL    string          `json:"claim_url"`
	Screenshot  string          `json:"screenshot"`
	Press       json.RawMessage `json:"press"`
	Infostealer map[string]any  `json:"infostealer"`
}

// RansomwareLive collects education-sector victims from the ransomware.live
// API. Leak-site and screenshot URLs are kept out of all_urls: only real
// press articles feed enrichment.
type RansomwareLive struct {
	client *fetch.Client
	logger zerolog.Logger
}

// NewRansomwareLive creates the ransomware.live adapter.
func NewRansomwareLive(client *fetch.Client, logger zerolog.Logger) *RansomwareLive {
	if client == nil {
		panic("client cannot be nil")
	}
	return &RansomwareLive{client: client, logger: logger}
}

// Name returns the stable source identifier
func (r *RansomwareLive) Name() string { return ransomwareLiveSource }

// Group returns the source group
func (r *RansomwareLive) Group() domain.SourceGroup { return domain.GroupCurated }

// Collect fetches the education sector victims and emits them in one batch.
func (r *RansomwareLive) Collect(ctx context.Context, opts sources.CollectOptions, sink sources.Sink) error {
	resp, err := r.client.Get(ctx, ransomwareLiveBaseURL+"/sectorvictims/Education", fetch.Options{
		AllowStatus:       []int{429},
		NoBrowserFallback: true,
	})
	if err != nil {
		return fmt.Errorf("failed to fetch ransomware.live victims: %w", err)
	}
	if resp == nil || resp.StatusCode >= 400 {
		return fmt.Errorf("ransomware.live returned no usable response")
	}

	victims, err := parseVictims(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to parse ransomware.live response: %w", err)
	}

	ingestedAt := domain.NowUTC()
	seen := make(map[string]bool)
	var incidents []domain.Incident

	for _, v := range victims {
		if v.Activity != "" && !strings.EqualFold(v.Activity, "education") {
			continue
		}

		name := firstNonEmpty(v.Victim, v.Name, v.Company)
		if name == "" {
			continue
		}

		country := firstNonEmpty(v.Country, v.CountryCode)

		incidentDate, precision := datePart(v.AttackDate)
		publishedDate, _ := datePart(v.Discovered)
		if publishedDate == nil {
			publishedDate = incidentDate
		}

		uniqueKey := fmt.Sprintf("%s|%s|%s|%s|%s", name, v.Domain, domain.StrOrEmpty(incidentDate), v.Group, country)
		if seen[uniqueKey] {
			continue
		}
		seen[uniqueKey] = true

		var notes []string
		if v.Group != "" {
			notes = append(notes, "group="+v.Group)
		}
		if brief := infostealerBrief(v.Infostealer); brief != "" {
			notes = append(notes, brief)
		}

		sourceEventID := slugFromURL(v.URL)
		if sourceEventID == "" {
			sourceEventID = slugFromURL(v.ClaimURL)
		}

		inc := domain.Incident{
			IncidentID:          domain.MakeIncidentID(ransomwareLiveSource, uniqueKey),
			Source:              ransomwareLiveSource,
			SourceEventID:       domain.StrPtr(sourceEventID),
			UniversityName:      name,
			VictimRawName:       name,
			InstitutionType:     domain.StrPtr(guessInstitutionType(name, v.Description)),
			Country:             domain.StrPtr(country),
			IncidentDate:        incidentDate,
			DatePrecision:       precision,
			SourcePublishedDate: publishedDate,
			IngestedAt:          ingestedAt,
			Title:               domain.StrPtr(name),
			Subtitle:            domain.StrPtr(truncate(v.Description, 200)),
			AllURLs:             pressArticleURLs(v.Press),
			LeakSiteURL:         domain.StrPtr(v.ClaimURL),
			SourceDetailURL:     domain.StrPtr(v.URL),
			ScreenshotURL:       domain.StrPtr(v.Screenshot),
			AttackTypeHint:      domain.StrPtr("ransomware"),
			Status:              domain.StatusSuspected,
			SourceConfidence:    domain.ConfidenceMedium,
		}
		if len(notes) > 0 {
			inc.Notes = domain.StrPtr(strings.Join(notes, "; "))
		}
		incidents = append(incidents, inc)
	}

	r.logger.Info().Int("count", len(incidents)).Msg("ransomware.live victims parsed")

	if len(incidents) == 0 {
		return nil
	}
	if err := sink.Save(ctx, incidents); err != nil {
		return fmt.Errorf("failed to save ransomware.live incidents: %w", err)
	}
	return nil
}

func parseVictims(body string) ([]ransomwareVictim, error) {
	var victims []ransomwareVictim
	if err := json.Unmarshal([]byte(body), &victims); err == nil {
		return victims, nil
	}

	// Some deployments wrap the list.
	var wrapped struct {
		Victims []ransomwareVictim `json:"victims"`
		Data    []ransomwareVictim `json:"data"`
	}
	if err := json.Unmarshal([]byte(body), &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Victims != nil {
		return wrapped.Victims, nil
	}
	return wrapped.Data, nil
}

// pressArticleURLs extracts real article URLs from the press field, which the
// API serves as a string list or object list. Internal pages and images are
// dropped.
func pressArticleURLs(press json.RawMessage) []string {
	if len(press) == 0 {
		return nil
	}

	var candidates []string

	var asStrings []string
	if err := json.Unmarshal(press, &asStrings); err == nil {
		candidates = asStrings
	} else {
		var asObjects []map[string]any
		if err := json.Unmarshal(press, &asObjects); err == nil {
			for _, obj := range asObjects {
				for _, key := range []string{"source", "url", "link"} {
					if s, ok := obj[key].(string); ok && s != "" {
						candidates = append(candidates, s)
					}
				}
			}
		} else {
			var asObject map[string]any
			if err := json.Unmarshal(press, &asObject); err == nil {
				for _, key := range []string{"source", "url", "link"} {
					if s, ok := asObject[key].(string); ok && s != "" {
						candidates = append(candidates, s)
					}
				}
			}
		}
	}

	var urls []string
	seen := make(map[string]bool)
	for _, u := range candidates {
		u = strings.TrimSpace(u)
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			continue
		}
		if strings.Contains(u, "ransomware.live") {
			continue
		}
		lower := strings.ToLower(u)
		if strings.HasSuffix(lower, ".png") || strings.HasSuffix(lower, ".jpg") ||
			strings.HasSuffix(lower, ".jpeg") || strings.HasSuffix(lower, ".gif") ||
			strings.HasSuffix(lower, ".webp") {
			continue
		}
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	return urls
}

// guessInstitutionType is a rough classification from name and description;
// the enrichment phase refines it.
func guessInstitutionType(name, description string) string {
	base := strings.ToLower(name + " " + description)

	for _, k := range []string{"school district", "county schools", "high school"} {
		if strings.Contains(base, k) {
			return "School"
		}
	}
	for _, k := range []string{"school", "schule", "école", "escuela", "colegio", "scuola", "skola"} {
		if strings.Contains(base, k) {
			return "School"
		}
	}
	for _, k := range []string{"university", "universität", "universidade", "universidad", "université", "università"} {
		if strings.Contains(base, k) {
			return "University"
		}
	}
	for _, k := range []string{"institute", "instituto", "institut", "research", "academy", "akademie", "akademia"} {
		if strings.Contains(base, k) {
			return "Research Institute"
		}
	}
	return "Unknown"
}

func infostealerBrief(info map[string]any) string {
	if len(info) == 0 {
		return ""
	}
	var parts []string
	for _, key := range []string{"employees", "users", "thirdparties"} {
		if v, ok := info[key]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", key, v))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "infostealer(" + strings.Join(parts, ", ") + ")"
}

func datePart(raw string) (*string, domain.DatePrecision) {
	if raw == "" {
		return nil, domain.PrecisionUnknown
	}
	part := strings.SplitN(raw, " ", 2)[0]
	iso, precision := domain.ParseDateWithPrecision(part)
	if iso == "" {
		return nil, domain.PrecisionUnknown
	}
	return &iso, precision
}

func slugFromURL(rawURL string) string {
	trimmed := strings.TrimRight(rawURL, "/")
	if trimmed == "" {
		return ""
	}
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
