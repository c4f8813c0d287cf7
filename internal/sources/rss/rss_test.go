package rss

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduthreat/cti-pipeline/internal/domain"
	"github.com/eduthreat/cti-pipeline/internal/fetch"
	"github.com/eduthreat/cti-pipeline/internal/sources"
)

type memorySink struct {
	incidents []domain.Incident
}

func (m *memorySink) Save(_ context.Context, incidents []domain.Incident) error {
	m.incidents = append(m.incidents, incidents...)
	return nil
}

// fixedNow anchors age-window checks.
var fixedNow = time.Date(2025, 1, 4, 12, 0, 0, 0, time.UTC)

func rssItem(title, link, guid, pubdate, category string) string {
	return fmt.Sprintf(`
    <item>
      <title>%s</title>
      <link>%s</link>
      <guid>%s</guid>
      <pubDate>%s</pubDate>
      <category>%s</category>
      <description><![CDATA[<p>Breach details here.</p>]]></description>
    </item>`, title, link, guid, pubdate, category)
}

func feedXML(items ...string) string {
	body := ""
	for _, item := range items {
		body += item
	}
	return `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Test Feed</title>` + body + `</channel></rss>`
}

func testAdapter(t *testing.T, cfg FeedConfig, xml string) (*FeedAdapter, *memorySink) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(xml))
	}))
	t.Cleanup(srv.Close)

	cfg.URL = srv.URL
	client := fetch.NewClient(fetch.Config{
		Timeout:     5 * time.Second,
		MaxRetries:  1,
		BackoffBase: time.Millisecond,
	}, zerolog.Nop())

	adapter := NewFeedAdapter(cfg, client, zerolog.Nop())
	adapter.now = func() time.Time { return fixedNow }
	return adapter, &memorySink{}
}

func TestFeedCollectCategoryFilter(t *testing.T) {
	xml := feedXML(
		rssItem("University of Test breached", "https://db.net/a", "guid-a", "Fri, 03 Jan 2025 10:00:00 +0000", "Education Sector"),
		rssItem("Retailer breached", "https://db.net/b", "guid-b", "Fri, 03 Jan 2025 11:00:00 +0000", "Business Sector"),
	)

	adapter, sink := testAdapter(t, FeedConfig{
		Source:                   "databreaches_rss",
		RequireEducationCategory: true,
		DefaultMaxAgeDays:        30,
	}, xml)

	require.NoError(t, adapter.Collect(context.Background(), sources.CollectOptions{MaxAgeDays: 30}, sink))

	require.Len(t, sink.incidents, 1)
	inc := sink.incidents[0]
	assert.Equal(t, "University of Test breached", domain.StrOrEmpty(inc.Title))
	assert.Equal(t, "guid-a", domain.StrOrEmpty(inc.SourceEventID))
	require.NotNil(t, inc.SourcePublishedDate)
	assert.Equal(t, "2025-01-03", *inc.SourcePublishedDate)
	assert.Equal(t, []string{"https://db.net/a"}, inc.AllURLs)
	assert.Nil(t, inc.PrimaryURL)
	// html stripped from description
	assert.Equal(t, "Breach details here.", domain.StrOrEmpty(inc.Subtitle))
}

func TestFeedCollectIncrementalWatermark(t *testing.T) {
	xml := feedXML(
		rssItem("College A hit", "https://db.net/old", "guid-old", "Mon, 30 Dec 2024 10:00:00 +0000", "Education Sector"),
		rssItem("College B hit", "https://db.net/jan2", "guid-jan2", "Thu, 02 Jan 2025 10:00:00 +0000", "Education Sector"),
		rssItem("College C hit", "https://db.net/jan3", "guid-jan3", "Fri, 03 Jan 2025 10:00:00 +0000", "Education Sector"),
	)

	adapter, sink := testAdapter(t, FeedConfig{
		Source:                   "databreaches_rss",
		RequireEducationCategory: true,
		DefaultMaxAgeDays:        30,
	}, xml)

	require.NoError(t, adapter.Collect(context.Background(), sources.CollectOptions{
		MaxAgeDays:  30,
		Incremental: true,
		LastPubdate: "2025-01-01",
	}, sink))

	require.Len(t, sink.incidents, 2)
	assert.Equal(t, "guid-jan2", domain.StrOrEmpty(sink.incidents[0].SourceEventID))
	assert.Equal(t, "guid-jan3", domain.StrOrEmpty(sink.incidents[1].SourceEventID))
}

func TestFeedCollectMaxAge(t *testing.T) {
	xml := feedXML(
		rssItem("Old university story", "https://db.net/ancient", "guid-ancient", "Tue, 01 Oct 2024 10:00:00 +0000", "Education Sector"),
		rssItem("Fresh university story", "https://db.net/fresh", "guid-fresh", "Fri, 03 Jan 2025 10:00:00 +0000", "Education Sector"),
	)

	adapter, sink := testAdapter(t, FeedConfig{
		Source:                   "databreaches_rss",
		RequireEducationCategory: true,
	}, xml)

	require.NoError(t, adapter.Collect(context.Background(), sources.CollectOptions{MaxAgeDays: 7}, sink))

	require.Len(t, sink.incidents, 1)
	assert.Equal(t, "guid-fresh", domain.StrOrEmpty(sink.incidents[0].SourceEventID))
}

func TestFeedCollectKeywordPredicate(t *testing.T) {
	xml := feedXML(
		rssItem("Ransomware gang leaks student records", "https://bc.com/students", "g1", "Fri, 03 Jan 2025 10:00:00 +0000", "Security"),
		rssItem("New CPU vulnerability found", "https://bc.com/cpu", "g2", "Fri, 03 Jan 2025 10:00:00 +0000", "Security"),
	)

	adapter, sink := testAdapter(t, FeedConfig{
		Source:                   "bleepingcomputer_rss",
		RequireEducationCategory: false,
		DefaultMaxAgeDays:        30,
	}, xml)

	require.NoError(t, adapter.Collect(context.Background(), sources.CollectOptions{MaxAgeDays: 30}, sink))

	require.Len(t, sink.incidents, 1)
	assert.Contains(t, domain.StrOrEmpty(sink.incidents[0].Title), "student records")
}

func TestFeedCollectEmptyFeed(t *testing.T) {
	adapter, sink := testAdapter(t, FeedConfig{
		Source:                   "databreaches_rss",
		RequireEducationCategory: true,
	}, feedXML())

	require.NoError(t, adapter.Collect(context.Background(), sources.CollectOptions{}, sink))
	assert.Empty(t, sink.incidents)
}
