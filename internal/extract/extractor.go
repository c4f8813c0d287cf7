// Package extract turns arbitrary article URLs into clean text records for
// enrichment. Three strategies run in order: a readability parse of the
// plainly fetched page, a browser-rendered fetch with selector-driven DOM
// extraction, and an archival snapshot with the same DOM extraction.
package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/rs/zerolog"

	"github.com/eduthreat/cti-pipeline/internal/domain"
	"github.com/eduthreat/cti-pipeline/internal/fetch"
)

// minContentLength is the general floor below which an extraction counts as
// failed; curated breach-notice sites publish very short items and get the
// lower bound.
const (
	minContentLength      = 100
	minContentLengthShort = 50
)

// shortContentDomains publish legitimate sub-100-char items.
var shortContentDomains = []string{"databreaches.net"}

// unwantedSelectors are stripped before content extraction.
var unwantedSelectors = []string{
	"script", "style", "noscript", "iframe",
	"nav", "header", "footer", "aside",
	".nav", ".navbar", ".menu", ".sidebar",
	".footer", ".header", ".comments", ".comment",
	".related", ".related-posts", ".share", ".social",
	".advertisement", ".ads", ".ad", "[class*='advert']",
	".cookie", ".consent", ".newsletter", ".subscribe",
	".popup", ".modal", ".overlay",
}

// contentSelectors are tried in priority order: site-specific first, then
// common CMS patterns, then semantic HTML5.
var contentSelectors = []string{
	// site-specific
	".articlebody",
	".article__content",
	".c-article__content",
	".post-single__content",
	// CMS patterns
	".entry-content",
	".post-content",
	".article-content",
	".article-body",
	".story-body",
	".content-body",
	"div[itemprop='articleBody']",
	// semantic HTML5
	"article",
	"main article",
	"main",
	"[role='main']",
}

var titleSelectors = []string{
	"h1.entry-title",
	"h1.post-title",
	"h1.article-title",
	"h1[class*='title']",
	"article h1",
	".article-header h1",
	"h1",
	"title",
}

var authorSelectors = []string{
	"[rel='author']",
	".author-name",
	".byline .author",
	".byline",
	"[itemprop='author']",
	"meta[name='author']",
}

var dateSelectors = []string{
	"meta[property='article:published_time']",
	"meta[name='publish-date']",
	"time[datetime]",
	".entry-date",
	".posted-on time",
	".article-date",
}

// Extractor fetches and extracts article content.
type Extractor struct {
	client  *fetch.Client
	browser *fetch.Browser
	archive *fetch.Archive
	logger  zerolog.Logger
}

// NewExtractor creates an article extractor. browser and archive may be nil,
// which disables those fallback strategies.
func NewExtractor(client *fetch.Client, browser *fetch.Browser, archive *fetch.Archive, logger zerolog.Logger) *Extractor {
	if client == nil {
		panic("client cannot be nil")
	}
	return &Extractor{client: client, browser: browser, archive: archive, logger: logger}
}

// Fetch retrieves the article at rawURL for the incident. Failures return a
// record with FetchSuccessful=false and an error message rather than an
// error: a dead URL is data, not a fault.
func (e *Extractor) Fetch(ctx context.Context, incidentID, rawURL string) domain.Article {
	if art, ok := e.fetchWithReadability(ctx, incidentID, rawURL); ok {
		return art
	}

	if e.browser != nil {
		if art, ok := e.fetchWithBrowser(ctx, incidentID, rawURL); ok {
			return art
		}
	}

	if e.archive != nil {
		if art, ok := e.fetchFromArchive(ctx, incidentID, rawURL); ok {
			return art
		}
	}

	e.logger.Warn().Str("url", rawURL).Msg("all article extraction strategies failed")
	return failedArticle(incidentID, rawURL, "all fetch strategies failed (readability, browser, archive)")
}

func (e *Extractor) fetchWithReadability(ctx context.Context, incidentID, rawURL string) (domain.Article, bool) {
	resp, err := e.client.Get(ctx, rawURL, fetch.Options{})
	if err != nil || resp == nil {
		e.logger.Debug().Err(err).Str("url", rawURL).Msg("plain fetch for readability failed")
		return domain.Article{}, false
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return domain.Article{}, false
	}

	article, err := readability.FromReader(strings.NewReader(resp.Body), parsedURL)
	if err != nil {
		e.logger.Debug().Err(err).Str("url", rawURL).Msg("readability parse failed")
		return domain.Article{}, false
	}

	content := cleanContent(article.TextContent)
	if len(content) < minLengthFor(rawURL) {
		e.logger.Debug().Str("url", rawURL).Int("length", len(content)).Msg("readability content too short")
		return domain.Article{}, false
	}

	var publishDate *string
	if article.PublishedTime != nil {
		iso := article.PublishedTime.Format("2006-01-02")
		publishDate = &iso
	}

	return domain.Article{
		IncidentID:      incidentID,
		URL:             rawURL,
		Title:           strings.TrimSpace(article.Title),
		Author:          domain.StrPtr(strings.TrimSpace(article.Byline)),
		PublishDate:     publishDate,
		Content:         content,
		FetchSuccessful: true,
		ContentLength:   len(content),
	}, true
}

func (e *Extractor) fetchWithBrowser(ctx context.Context, incidentID, rawURL string) (domain.Article, bool) {
	doc, err := e.browser.GetDocument(ctx, rawURL)
	if err != nil {
		e.logger.Debug().Err(err).Str("url", rawURL).Msg("browser fetch failed")
		return domain.Article{}, false
	}
	return e.extractFromDocument(doc, incidentID, rawURL)
}

func (e *Extractor) fetchFromArchive(ctx context.Context, incidentID, rawURL string) (domain.Article, bool) {
	doc, err := e.archive.GetDocument(ctx, rawURL)
	if err != nil || doc == nil {
		// A lookup miss is not an error; there is simply no fallback content.
		return domain.Article{}, false
	}
	return e.extractFromDocument(doc, incidentID, rawURL)
}

func (e *Extractor) extractFromDocument(doc *goquery.Document, incidentID, rawURL string) (domain.Article, bool) {
	art := ExtractArticle(doc, incidentID, rawURL)
	if !art.FetchSuccessful {
		return domain.Article{}, false
	}
	return art, true
}

// ExtractArticle runs the selector-driven DOM extraction against a parsed
// page. Exported for the archive path and for fixture tests.
func ExtractArticle(doc *goquery.Document, incidentID, rawURL string) domain.Article {
	for _, sel := range unwantedSelectors {
		doc.Find(sel).Remove()
	}

	title := extractTitle(doc)
	content := extractContent(doc)
	author := extractAuthor(doc)
	publishDate := extractPublishDate(doc)

	if len(content) < minLengthFor(rawURL) {
		art := failedArticle(incidentID, rawURL,
			fmt.Sprintf("extracted content too short (length %d, min %d)", len(content), minLengthFor(rawURL)))
		art.Title = title
		art.Content = content
		art.ContentLength = len(content)
		return art
	}

	return domain.Article{
		IncidentID:      incidentID,
		URL:             rawURL,
		Title:           title,
		Author:          domain.StrPtr(author),
		PublishDate:     domain.StrPtr(publishDate),
		Content:         content,
		FetchSuccessful: true,
		ContentLength:   len(content),
	}
}

func extractTitle(doc *goquery.Document) string {
	for _, sel := range titleSelectors {
		if title := strings.TrimSpace(doc.Find(sel).First().Text()); title != "" {
			return title
		}
	}
	return ""
}

func extractContent(doc *goquery.Document) string {
	for _, sel := range contentSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		content := cleanContent(node.Text())
		if len(content) >= minContentLengthShort {
			return content
		}
	}

	// Paragraph aggregation fallback: join every non-trivial paragraph.
	var parts []string
	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := strings.TrimSpace(p.Text())
		if len(text) > 40 {
			parts = append(parts, text)
		}
	})
	return cleanContent(strings.Join(parts, "\n"))
}

func extractAuthor(doc *goquery.Document) string {
	for _, sel := range authorSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		if node.Is("meta") {
			if author := strings.TrimSpace(node.AttrOr("content", "")); author != "" {
				return author
			}
			continue
		}
		if author := strings.TrimSpace(node.Text()); author != "" {
			return strings.TrimSpace(strings.TrimPrefix(author, "By "))
		}
	}
	return ""
}

func extractPublishDate(doc *goquery.Document) string {
	for _, sel := range dateSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		raw := node.AttrOr("content", "")
		if raw == "" {
			raw = node.AttrOr("datetime", "")
		}
		if raw == "" {
			raw = node.Text()
		}
		if iso := domain.NormalizeISODate(raw); iso != "" {
			return iso
		}
	}
	return ""
}

// cleanContent collapses whitespace and drops boilerplate-looking short lines.
func cleanContent(content string) string {
	lines := strings.Split(content, "\n")
	var cleaned []string
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		cleaned = append(cleaned, line)
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

func minLengthFor(rawURL string) int {
	lower := strings.ToLower(rawURL)
	for _, d := range shortContentDomains {
		if strings.Contains(lower, d) {
			return minContentLengthShort
		}
	}
	return minContentLength
}

func failedArticle(incidentID, rawURL, message string) domain.Article {
	return domain.Article{
		IncidentID:      incidentID,
		URL:             rawURL,
		FetchSuccessful: false,
		ErrorMessage:    &message,
	}
}
