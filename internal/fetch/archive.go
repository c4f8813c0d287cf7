package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const waybackAvailableAPI = "https://archive.org/wayback/available?url="

// Archive looks up historical snapshots of pages that are no longer
// reachable. A lookup miss is not an error, just absent content.
type Archive struct {
	client *Client
	logger zerolog.Logger
}

// NewArchive creates an archival-mirror fetcher on top of the plain client.
func NewArchive(client *Client, logger zerolog.Logger) *Archive {
	if client == nil {
		panic("client cannot be nil")
	}
	return &Archive{client: client, logger: logger}
}

// SnapshotURL returns the closest archived snapshot URL for the page, or ""
// when no snapshot exists. The availability API is exact-match, so common
// URL variations (www toggling, http/https) are tried as well.
func (a *Archive) SnapshotURL(ctx context.Context, pageURL string) (string, error) {
	for _, candidate := range urlVariations(pageURL) {
		resp, err := a.client.Get(ctx, waybackAvailableAPI+url.QueryEscape(candidate), Options{NoBrowserFallback: true})
		if err != nil {
			a.logger.Debug().Err(err).Str("url", candidate).Msg("wayback availability lookup failed")
			continue
		}
		if resp == nil {
			continue
		}

		closest := gjson.Get(resp.Body, "archived_snapshots.closest")
		if closest.Get("available").Bool() {
			snapshot := closest.Get("url").String()
			if snapshot != "" {
				a.logger.Info().Str("url", pageURL).Str("snapshot", snapshot).
					Str("timestamp", closest.Get("timestamp").String()).
					Msg("found archive snapshot")
				return snapshot, nil
			}
		}
	}
	return "", nil
}

// GetDocument fetches the archived copy of a page and strips the archive
// toolbar markup, or returns (nil, nil) when no snapshot exists.
func (a *Archive) GetDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	snapshot, err := a.SnapshotURL(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if snapshot == "" {
		return nil, nil
	}

	resp, err := a.client.Get(ctx, snapshot, Options{NoBrowserFallback: true})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	if resp == nil {
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot html: %w", err)
	}

	stripWaybackChrome(doc)
	return doc, nil
}

// stripWaybackChrome removes the injected toolbar and overlay nodes so the
// extraction selectors see the original page.
func stripWaybackChrome(doc *goquery.Document) {
	doc.Find("[id^='wm-'], [class*='wm-'], #wm-ipp-base, #wm-ipp-print, #donato").Remove()
	doc.Find("script[src*='web.archive.org'], link[href*='web.archive.org/_static']").Remove()
}

func urlVariations(pageURL string) []string {
	variations := []string{pageURL}

	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return variations
	}

	host := strings.ToLower(u.Host)
	alt := *u
	if strings.HasPrefix(host, "www.") {
		alt.Host = host[4:]
	} else {
		alt.Host = "www." + host
	}
	variations = append(variations, alt.String())

	if u.Scheme == "https" {
		for _, v := range variations[:2] {
			variations = append(variations, "http"+strings.TrimPrefix(v, "https"))
		}
	}

	return variations
}
