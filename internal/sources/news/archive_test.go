package news

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduthreat/cti-pipeline/internal/domain"
	"github.com/eduthreat/cti-pipeline/internal/sources"
)

func newsArchiveDoc(t *testing.T, articles ...string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<html><body><main>` + strings.Join(articles, "\n") + `</main></body></html>`))
	require.NoError(t, err)
	return doc
}

func newsArchiveArticle(href, title, datetime, summary string) string {
	return fmt.Sprintf(`<article>
	  <h2><a href="%s">%s</a></h2>
	  <time datetime="%s">%s</time>
	  <div class="entry-summary">%s</div>
	</article>`, href, title, datetime, datetime, summary)
}

var testArchiveConfig = ArchiveSiteConfig{
	Source: "testarchivesite",
	PageURL: func(page int) string {
		if page <= 1 {
			return "https://news.example.com/category/breaches/"
		}
		return fmt.Sprintf("https://news.example.com/category/breaches/page/%d/", page)
	},
	ArticleSelector:  "article",
	LinkSelector:     "h2 a",
	DateSelector:     "time",
	SubtitleSelector: ".entry-summary",
}

func TestArchiveParsePageKeywordFilter(t *testing.T) {
	adapter := NewArchiveAdapter(testArchiveConfig, []string{"university", "college"}, testFetchClient(t), zerolog.Nop())

	doc := newsArchiveDoc(t,
		// headline matches the keyword set
		newsArchiveArticle("https://news.example.com/uni", "University breach disclosed", "2024-11-01T00:00:00Z", ""),
		// headline misses but the subtitle carries an education keyword
		newsArchiveArticle("https://news.example.com/records", "Millions of records leaked", "2024-11-02T00:00:00Z",
			"The stolen data includes student records from several campuses."),
		// neither headline nor subtitle is education-related
		newsArchiveArticle("https://news.example.com/bank", "Bank breach reported", "2024-11-03T00:00:00Z",
			"A regional bank lost customer data."),
		// no link at all
		`<article><h2>Untitled stub</h2></article>`,
	)

	incidents := adapter.parsePage(doc)
	require.Len(t, incidents, 2)

	first := incidents[0]
	assert.Equal(t, "testarchivesite", first.Source)
	assert.Equal(t, "University breach disclosed", domain.StrOrEmpty(first.Title))
	require.NotNil(t, first.IncidentDate)
	assert.Equal(t, "2024-11-01", *first.IncidentDate)
	assert.Equal(t, domain.PrecisionDay, first.DatePrecision)
	assert.Equal(t, []string{"https://news.example.com/uni"}, first.AllURLs)
	assert.Nil(t, first.PrimaryURL)
	assert.Equal(t, domain.ConfidenceMedium, first.SourceConfidence)

	second := incidents[1]
	assert.Equal(t, "Millions of records leaked", domain.StrOrEmpty(second.Title))
	assert.Contains(t, domain.StrOrEmpty(second.Subtitle), "student records")

	// stable ids across parses
	again := adapter.parsePage(doc)
	require.Len(t, again, 2)
	assert.Equal(t, first.IncidentID, again[0].IncidentID)
}

func TestArchiveCollectStopsOnEmptyPage(t *testing.T) {
	var paths []string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/":
			w.Write([]byte(`<html><body>` +
				newsArchiveArticle("https://news.example.com/uni-1", "University hit by ransomware", "2024-11-01T00:00:00Z", "") +
				`</body></html>`))
		case "/page/2/":
			w.Write([]byte(`<html><body>` +
				newsArchiveArticle("https://news.example.com/uni-2", "College phishing wave", "2024-10-20T00:00:00Z", "") +
				`</body></html>`))
		default:
			// an archive page with no articles ends the walk
			w.Write([]byte(`<html><body><p>No more posts.</p></body></html>`))
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testArchiveConfig
	cfg.PageURL = func(page int) string {
		if page <= 1 {
			return srv.URL + "/"
		}
		return fmt.Sprintf("%s/page/%d/", srv.URL, page)
	}

	adapter := NewArchiveAdapter(cfg, []string{"university", "college"}, testFetchClient(t), zerolog.Nop())
	sink := &memorySink{}

	require.NoError(t, adapter.Collect(context.Background(), sources.CollectOptions{}, sink))

	require.Len(t, sink.incidents, 2)
	assert.Equal(t, "University hit by ransomware", domain.StrOrEmpty(sink.incidents[0].Title))
	assert.Equal(t, "College phishing wave", domain.StrOrEmpty(sink.incidents[1].Title))
	assert.Equal(t, []string{"/", "/page/2/", "/page/3/"}, paths)
}

func TestArchiveCollectMaxPages(t *testing.T) {
	var served int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served++
		w.Write([]byte(`<html><body>` +
			newsArchiveArticle(fmt.Sprintf("https://news.example.com%s", r.URL.Path), "University story", "2024-11-01T00:00:00Z", "") +
			`</body></html>`))
	}))
	defer srv.Close()

	cfg := testArchiveConfig
	cfg.PageURL = func(page int) string {
		return fmt.Sprintf("%s/page/%d/", srv.URL, page)
	}

	adapter := NewArchiveAdapter(cfg, []string{"university"}, testFetchClient(t), zerolog.Nop())
	sink := &memorySink{}

	require.NoError(t, adapter.Collect(context.Background(), sources.CollectOptions{MaxPages: 2}, sink))
	assert.Equal(t, 2, served)
}

func TestArchiveCollectCaptchaAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><div class="g-recaptcha" data-sitekey="xyz"></div>Please verify you are human</body></html>`))
	}))
	defer srv.Close()

	cfg := testArchiveConfig
	cfg.PageURL = func(page int) string { return srv.URL + "/" }

	adapter := NewArchiveAdapter(cfg, []string{"university"}, testFetchClient(t), zerolog.Nop())
	sink := &memorySink{}

	err := adapter.Collect(context.Background(), sources.CollectOptions{}, sink)
	require.Error(t, err)

	var ce *sources.CaptchaError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "testarchivesite", ce.Source)
	assert.Empty(t, sink.incidents)
}

func TestSecurityWeekConfigPageURLs(t *testing.T) {
	assert.Equal(t, "https://www.securityweek.com/category/data-breaches/", SecurityWeekConfig.PageURL(1))
	assert.Equal(t, "https://www.securityweek.com/category/data-breaches/page/4/", SecurityWeekConfig.PageURL(4))
}
