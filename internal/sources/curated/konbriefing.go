// Package curated holds adapters for curated incident databases: hand-edited
// listing pages, which carry high source confidence, and sector-specific
// APIs, which carry medium source confidence.
package curated

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/eduthreat/cti-pipeline/internal/domain"
	"github.com/eduthreat/cti-pipeline/internal/fetch"
	"github.com/eduthreat/cti-pipeline/internal/sources"
)

const konbriefingSource = "konbriefing"

// konbriefingListingURL is a package-level var so fixture tests can pin it to
// a local server.
var konbriefingListingURL = "https://konbriefing.com/en-topics/cyber-attacks-universities.html"

// KonBriefing collects incidents from the curated KonBriefing listing of
// cyber attacks on universities. One landing page, article blocks with a
// country flag, date text, bold title, subtitle, and outbound links.
type KonBriefing struct {
	client *fetch.Client
	logger zerolog.Logger
}

// NewKonBriefing creates the KonBriefing adapter.
func NewKonBriefing(client *fetch.Client, logger zerolog.Logger) *KonBriefing {
	if client == nil {
		panic("client cannot be nil")
	}
	return &KonBriefing{client: client, logger: logger}
}

// Name returns the stable source identifier
func (k *KonBriefing) Name() string { return konbriefingSource }

// Group returns the source group
func (k *KonBriefing) Group() domain.SourceGroup { return domain.GroupCurated }

// Collect scrapes the listing page and emits one incident per article block.
// The whole listing is a single page, so the sink is called once at the end.
func (k *KonBriefing) Collect(ctx context.Context, opts sources.CollectOptions, sink sources.Sink) error {
	doc, err := k.client.GetDocument(ctx, konbriefingListingURL, fetch.Options{})
	if err != nil {
		return fmt.Errorf("failed to fetch konbriefing listing: %w", err)
	}
	if doc == nil {
		return fmt.Errorf("konbriefing listing unavailable")
	}

	ingestedAt := domain.NowUTC()
	var incidents []domain.Incident

	doc.Find("article.portfolio-item").Each(func(_ int, art *goquery.Selection) {
		inc, ok := k.parseArticle(art, ingestedAt)
		if ok {
			incidents = append(incidents, inc)
		}
	})

	k.logger.Info().Int("count", len(incidents)).Msg("konbriefing listing parsed")

	if len(incidents) == 0 {
		return nil
	}
	if err := sink.Save(ctx, incidents); err != nil {
		return fmt.Errorf("failed to save konbriefing incidents: %w", err)
	}
	return nil
}

func (k *KonBriefing) parseArticle(art *goquery.Selection, ingestedAt string) (domain.Incident, bool) {
	flag := art.Find("img").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.HasPrefix(s.AttrOr("alt", ""), "Flag ")
	}).First()
	if flag.Length() == 0 {
		return domain.Incident{}, false
	}

	country := strings.TrimSpace(strings.TrimPrefix(flag.AttrOr("alt", ""), "Flag "))
	rawDate := textAfterImage(flag)
	dateISO, precision := domain.ParseDateWithPrecision(rawDate)

	title := strings.TrimSpace(art.Find("div").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(strings.ToLower(s.AttrOr("style", "")), "bold")
	}).First().Text())

	subtitle, links := extractSubtitleAndLinks(art)
	institution := institutionFromSubtitle(subtitle)

	var incidentDate *string
	if dateISO != "" {
		incidentDate = &dateISO
	}

	uniqueString := fmt.Sprintf("%s|%s|%s", institution, dateISO, strings.Join(links, ";"))

	inc := domain.Incident{
		IncidentID:          domain.MakeIncidentID(konbriefingSource, uniqueString),
		Source:              konbriefingSource,
		UniversityName:      institution,
		VictimRawName:       institution,
		InstitutionType:     domain.StrPtr("University"),
		Country:             domain.StrPtr(country),
		IncidentDate:        incidentDate,
		DatePrecision:       precision,
		SourcePublishedDate: incidentDate,
		IngestedAt:          ingestedAt,
		Title:               domain.StrPtr(title),
		Subtitle:            domain.StrPtr(subtitle),
		AllURLs:             links,
		Status:              domain.StatusConfirmed,
		SourceConfidence:    domain.ConfidenceHigh,
	}
	return inc, true
}

// textAfterImage returns the date text that follows the country flag image.
func textAfterImage(img *goquery.Selection) string {
	if img.Length() == 0 {
		return ""
	}

	// Parent text minus the alt attribute approximates "text next to image".
	parent := img.Parent()
	text := strings.TrimSpace(parent.Text())
	text = strings.TrimSpace(strings.ReplaceAll(text, img.AttrOr("alt", ""), ""))
	return text
}

// extractSubtitleAndLinks pulls the subtitle and all absolute outbound links
// from the article's result box.
func extractSubtitleAndLinks(art *goquery.Selection) (string, []string) {
	kbox := art.Find("div.kbresbox1").First()
	if kbox.Length() == 0 {
		return "", nil
	}

	topBlocks := kbox.ChildrenFiltered("div")
	if topBlocks.Length() < 2 {
		return "", nil
	}
	blockB := topBlocks.Eq(1)

	subtitle := strings.TrimSpace(blockB.ChildrenFiltered("div").First().Text())

	var links []string
	seen := make(map[string]bool)
	blockB.Find("div").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.Contains(s.AttrOr("style", ""), "margin-left")
	}).First().Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if (strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://")) && !seen[href] {
			seen[href] = true
			links = append(links, href)
		}
	})

	return subtitle, links
}

// institutionFromSubtitle takes a rough institution name from the subtitle's
// leading segment; the enrichment model refines it later.
func institutionFromSubtitle(subtitle string) string {
	for _, sep := range []string{"–", "—", "--", "-"} {
		if idx := strings.Index(subtitle, sep); idx > 0 {
			return strings.TrimSpace(subtitle[:idx])
		}
	}
	if idx := strings.Index(subtitle, ","); idx > 3 {
		return strings.TrimSpace(subtitle[:idx])
	}
	return ""
}
