// Package news holds adapters for general security-news sites. These sites
// are not education-specific, so collection is driven by keyword search or
// keyword-filtered archive walks, and results carry medium confidence.
package news

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/eduthreat/cti-pipeline/internal/domain"
	"github.com/eduthreat/cti-pipeline/internal/fetch"
	"github.com/eduthreat/cti-pipeline/internal/sources"
)

// captchaTextMarkers flag a CAPTCHA interstitial in page text.
var captchaTextMarkers = []string{
	"recaptcha",
	"g-recaptcha",
	"hcaptcha",
	"captcha",
	"verify you are human",
	"unusual traffic",
}

// captchaSelectors flag CAPTCHA widgets in the DOM.
var captchaSelectors = []string{
	"div.g-recaptcha",
	"iframe[src*='recaptcha']",
	"iframe[src*='hcaptcha']",
	"[data-sitekey]",
}

// SearchSiteConfig describes one keyword-search news target.
type SearchSiteConfig struct {
	// Source is the stable identifier, e.g. "thehackernews".
	Source string
	// SearchURL formats a keyword and page number into a search page URL.
	SearchURL func(keyword string, page int) string
	// ResultSelector locates one search result block.
	ResultSelector string
	// LinkSelector locates the article link within a result block.
	LinkSelector string
	// DateSelector locates the publication date within a result block.
	DateSelector string
	// NextPageSelector locates the "next page" link; empty means single page.
	NextPageSelector string
	// RequiresBrowser forces browser-driven fetches; search results on these
	// targets are rendered client-side.
	RequiresBrowser bool
}

// SearchAdapter walks a site's search results for each configured keyword,
// page by page, until no next page or the page cap is reached. CAPTCHA
// detection aborts the current keyword walk; other keywords proceed.
type SearchAdapter struct {
	cfg      SearchSiteConfig
	keywords []string
	client   *fetch.Client
	browser  *fetch.Browser
	logger   zerolog.Logger
}

// NewSearchAdapter creates a keyword-search news adapter.
func NewSearchAdapter(cfg SearchSiteConfig, keywords []string, client *fetch.Client, browser *fetch.Browser, logger zerolog.Logger) *SearchAdapter {
	if client == nil {
		panic("client cannot be nil")
	}
	if cfg.Source == "" {
		panic("source name is required")
	}
	if cfg.SearchURL == nil {
		panic("search url builder is required")
	}
	if len(keywords) == 0 {
		keywords = sources.NewsKeywords
	}
	return &SearchAdapter{cfg: cfg, keywords: keywords, client: client, browser: browser, logger: logger}
}

// Name returns the stable source identifier
func (a *SearchAdapter) Name() string { return a.cfg.Source }

// Group returns the source group
func (a *SearchAdapter) Group() domain.SourceGroup { return domain.GroupNews }

// Collect walks search results for every keyword. A CAPTCHA aborts only the
// keyword being walked; the error for the last aborted keyword is returned
// after the remaining keywords finish so the orchestrator can count it.
func (a *SearchAdapter) Collect(ctx context.Context, opts sources.CollectOptions, sink sources.Sink) error {
	var captchaErr error

	for _, keyword := range a.keywords {
		if err := a.collectKeyword(ctx, keyword, opts, sink); err != nil {
			var ce *sources.CaptchaError
			if errors.As(err, &ce) {
				a.logger.Warn().Str("keyword", keyword).Msg("captcha detected, aborting keyword walk")
				captchaErr = err
				continue
			}
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	return captchaErr
}

func (a *SearchAdapter) collectKeyword(ctx context.Context, keyword string, opts sources.CollectOptions, sink sources.Sink) error {
	seen := make(map[string]bool)

	for page := 1; ; page++ {
		if opts.MaxPages > 0 && page > opts.MaxPages {
			return nil
		}

		pageURL := a.cfg.SearchURL(keyword, page)
		doc, err := a.fetchSearchPage(ctx, pageURL)
		if err != nil {
			return err
		}
		if doc == nil {
			return nil
		}

		if DetectCaptcha(doc) {
			return &sources.CaptchaError{Source: a.cfg.Source, Target: pageURL, Keyword: keyword}
		}

		incidents := a.parseResults(doc, keyword, seen)
		if len(incidents) > 0 {
			if err := sink.Save(ctx, incidents); err != nil {
				return fmt.Errorf("failed to save search results: %w", err)
			}
		}

		if a.cfg.NextPageSelector == "" || doc.Find(a.cfg.NextPageSelector).Length() == 0 {
			return nil
		}
	}
}

func (a *SearchAdapter) fetchSearchPage(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if a.cfg.RequiresBrowser {
		if a.browser == nil {
			return nil, fmt.Errorf("search target %s requires a browser but none is configured", a.cfg.Source)
		}
		doc, err := a.browser.GetDocument(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("browser fetch failed for %s: %w", pageURL, err)
		}
		return doc, nil
	}

	doc, err := a.client.GetDocument(ctx, pageURL, fetch.Options{Allow404: true})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch search page %s: %w", pageURL, err)
	}
	return doc, nil
}

func (a *SearchAdapter) parseResults(doc *goquery.Document, keyword string, seen map[string]bool) []domain.Incident {
	ingestedAt := domain.NowUTC()
	var incidents []domain.Incident

	doc.Find(a.cfg.ResultSelector).Each(func(_ int, result *goquery.Selection) {
		link := result.Find(a.cfg.LinkSelector).First()
		title := strings.TrimSpace(link.Text())
		href := strings.TrimSpace(link.AttrOr("href", ""))
		if title == "" || href == "" || seen[href] {
			return
		}
		if !sources.MatchesKeywords(title, a.keywords) {
			return
		}
		seen[href] = true

		var incidentDate *string
		precision := domain.PrecisionUnknown
		if a.cfg.DateSelector != "" {
			raw := strings.TrimSpace(result.Find(a.cfg.DateSelector).First().Text())
			if iso, p := domain.ParseDateWithPrecision(raw); iso != "" {
				incidentDate = &iso
				precision = p
			}
		}

		incidents = append(incidents, domain.Incident{
			IncidentID:          domain.MakeIncidentID(a.cfg.Source, href),
			Source:              a.cfg.Source,
			SourceEventID:       domain.StrPtr(href),
			IncidentDate:        incidentDate,
			DatePrecision:       precision,
			SourcePublishedDate: incidentDate,
			IngestedAt:          ingestedAt,
			Title:               domain.StrPtr(title),
			AllURLs:             []string{href},
			Status:              domain.StatusSuspected,
			SourceConfidence:    domain.ConfidenceMedium,
			Notes:               domain.StrPtr("search_keyword=" + keyword),
		})
	})

	return incidents
}

// DetectCaptcha reports whether the document is a CAPTCHA interstitial
// rather than real content.
func DetectCaptcha(doc *goquery.Document) bool {
	for _, sel := range captchaSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}

	text := strings.ToLower(doc.Find("body").Text())
	// Short pages mentioning a captcha are interstitials; long article pages
	// may legitimately mention the word.
	if len(text) < 3000 {
		for _, marker := range captchaTextMarkers {
			if strings.Contains(text, marker) {
				return true
			}
		}
	}
	return false
}

// TheHackerNewsConfig is the search configuration for thehackernews.com.
var TheHackerNewsConfig = SearchSiteConfig{
	Source: "thehackernews",
	SearchURL: func(keyword string, page int) string {
		return fmt.Sprintf("https://thehackernews.com/search?q=%s&page=%d", url.QueryEscape(keyword), page)
	},
	ResultSelector:   ".blog-posts .body-post",
	LinkSelector:     "a.story-link",
	DateSelector:     ".item-label",
	NextPageSelector: "a.blog-pager-older-link",
	RequiresBrowser:  true,
}
