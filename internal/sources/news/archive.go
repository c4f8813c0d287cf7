package news

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

// ArchiveSiteConfig describes one paginated news-archive target.
type ArchiveSiteConfig struct {
	Source string
	// PageURL formats a page number into an archive page URL. Page 1 is the
	// archive root.
	PageURL func(page int) string
	// ArticleSelector locates one article block on an archive page.
	ArticleSelector string
	LinkSelector    string
	DateSelector    string
	SubtitleSelector string
}

// ArchiveAdapter walks a news site's paginated archive, keeping only
// education-relevant headlines. The site's page-numbers block is not read;
// the walk advances one page at a time until Collect stops it.
type ArchiveAdapter struct {
	cfg      ArchiveSiteConfig
	keywords []string
	client   *fetch.Client
	logger   zerolog.Logger
}

// NewArchiveAdapter creates a paginated news-archive adapter.
func NewArchiveAdapter(cfg ArchiveSiteConfig, keywords []string, client *fetch.Client, logger zerolog.Logger) *ArchiveAdapter {
	if client == nil {
		panic("client cannot be nil")
	}
	if cfg.Source == "" {
		panic("source name is required")
	}
	if cfg.PageURL == nil {
		panic("page url builder is required")
	}
	if len(keywords) == 0 {
		keywords = sources.NewsKeywords
	}
	return &ArchiveAdapter{cfg: cfg, keywords: keywords, client: client, logger: logger}
}

// Name returns the stable source identifier
func (a *ArchiveAdapter) Name() string { return a.cfg.Source }

// Group returns the source group
func (a *ArchiveAdapter) Group() domain.SourceGroup { return domain.GroupNews }

// Collect walks archive pages from 1 upward, saving per page. The walk ends
// on a 404, after opts.MaxPages pages, or at the first page after page 1 that
// yields no keyword-matching headlines.
func (a *ArchiveAdapter) Collect(ctx context.Context, opts sources.CollectOptions, sink sources.Sink) error {
	for page := 1; ; page++ {
		if opts.MaxPages > 0 && page > opts.MaxPages {
			return nil
		}

		doc, err := a.client.GetDocument(ctx, a.cfg.PageURL(page), fetch.Options{Allow404: true})
		if err != nil {
			return fmt.Errorf("failed to fetch archive page %d: %w", page, err)
		}
		if doc == nil {
			return nil
		}

		if DetectCaptcha(doc) {
			return &sources.CaptchaError{Source: a.cfg.Source, Target: a.cfg.PageURL(page)}
		}

		incidents := a.parsePage(doc)
		if page > 1 && len(incidents) == 0 {
			return nil
		}
		if len(incidents) > 0 {
			if err := sink.Save(ctx, incidents); err != nil {
				return fmt.Errorf("failed to save archive page %d: %w", page, err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (a *ArchiveAdapter) parsePage(doc *goquery.Document) []domain.Incident {
	ingestedAt := domain.NowUTC()
	var incidents []domain.Incident

	doc.Find(a.cfg.ArticleSelector).Each(func(_ int, art *goquery.Selection) {
		link := art.Find(a.cfg.LinkSelector).First()
		title := strings.TrimSpace(link.Text())
		href := strings.TrimSpace(link.AttrOr("href", ""))
		if title == "" || href == "" {
			return
		}

		subtitle := ""
		if a.cfg.SubtitleSelector != "" {
			subtitle = strings.TrimSpace(art.Find(a.cfg.SubtitleSelector).First().Text())
		}

		if !sources.MatchesKeywords(title+" "+subtitle, a.keywords) {
			return
		}

		var incidentDate *string
		precision := domain.PrecisionUnknown
		if a.cfg.DateSelector != "" {
			raw := strings.TrimSpace(art.Find(a.cfg.DateSelector).First().AttrOr("datetime", ""))
			if raw == "" {
				raw = strings.TrimSpace(art.Find(a.cfg.DateSelector).First().Text())
			}
			if iso := domain.NormalizeISODate(raw); iso != "" {
				incidentDate = &iso
				precision = domain.PrecisionDay
			}
		}

		inc := domain.Incident{
			IncidentID:          domain.MakeIncidentID(a.cfg.Source, href),
			Source:              a.cfg.Source,
			SourceEventID:       domain.StrPtr(href),
			IncidentDate:        incidentDate,
			DatePrecision:       precision,
			SourcePublishedDate: incidentDate,
			IngestedAt:          ingestedAt,
			Title:               domain.StrPtr(title),
			Subtitle:            domain.StrPtr(subtitle),
			AllURLs:             []string{href},
			Status:              domain.StatusSuspected,
			SourceConfidence:    domain.ConfidenceMedium,
		}
		incidents = append(incidents, inc)
	})

	return incidents
}

// SecurityWeekConfig is the archive configuration for securityweek.com's
// data-breach category.
var SecurityWeekConfig = ArchiveSiteConfig{
	Source: "securityweek",
	PageURL: func(page int) string {
		if page <= 1 {
			return "https://www.securityweek.com/category/data-breaches/"
		}
		return fmt.Sprintf("https://www.securityweek.com/category/data-breaches/page/%d/", page)
	},
	ArticleSelector:  "article",
	LinkSelector:     "h2 a, .entry-title a",
	DateSelector:     "time",
	SubtitleSelector: ".entry-summary, .excerpt",
}

// TheRecordConfig is the archive configuration for therecord.media's
// cybercrime section.
var TheRecordConfig = ArchiveSiteConfig{
	Source: "therecord",
	PageURL: func(page int) string {
		if page <= 1 {
			return "https://therecord.media/news/cybercrime"
		}
		return fmt.Sprintf("https://therecord.media/news/cybercrime?page=%d", page)
	},
	ArticleSelector: "article",
	LinkSelector:    "a[href*='/']",
	DateSelector:    "time",
}
