package news

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
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

func testFetchClient(t *testing.T) *fetch.Client {
	t.Helper()
	return fetch.NewClient(fetch.Config{
		Timeout:     5 * time.Second,
		MaxRetries:  1,
		BackoffBase: time.Millisecond,
	}, zerolog.Nop())
}

func searchResultPage(withNext bool, entries ...[2]string) string {
	var b strings.Builder
	b.WriteString("<html><body><div class='results'>")
	for _, e := range entries {
		fmt.Fprintf(&b, `<div class="result"><a class="story" href="%s">%s</a><span class="date">April 17, 2025</span></div>`, e[0], e[1])
	}
	b.WriteString("</div>")
	if withNext {
		b.WriteString(`<a class="next" href="?page=2">Older</a>`)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func testSearchConfig(baseURL string) SearchSiteConfig {
	return SearchSiteConfig{
		Source: "testnews",
		SearchURL: func(keyword string, page int) string {
			return fmt.Sprintf("%s/search?q=%s&page=%d", baseURL, keyword, page)
		},
		ResultSelector:   ".result",
		LinkSelector:     "a.story",
		DateSelector:     ".date",
		NextPageSelector: "a.next",
	}
}

func TestSearchAdapterWalksPagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			w.Write([]byte(searchResultPage(true,
				[2]string{"https://site.com/uni-breach", "University hit by ransomware"},
				[2]string{"https://site.com/cpu-bug", "New CPU bug disclosed"},
			)))
		case "2":
			w.Write([]byte(searchResultPage(false,
				[2]string{"https://site.com/college-phishing", "College phishing wave"},
			)))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	adapter := NewSearchAdapter(testSearchConfig(srv.URL), []string{"university", "college"}, testFetchClient(t), nil, zerolog.Nop())
	sink := &memorySink{}

	require.NoError(t, adapter.Collect(context.Background(), sources.CollectOptions{}, sink))

	// one keyword-matching result per page, non-matching headline dropped;
	// both keywords walk the same fixture so URLs dedupe per keyword walk
	var urls []string
	for _, inc := range sink.incidents {
		urls = append(urls, inc.AllURLs...)
	}
	assert.Contains(t, urls, "https://site.com/uni-breach")
	assert.Contains(t, urls, "https://site.com/college-phishing")
	for _, inc := range sink.incidents {
		assert.NotEqual(t, "New CPU bug disclosed", domain.StrOrEmpty(inc.Title))
		assert.Equal(t, domain.ConfidenceMedium, inc.SourceConfidence)
		assert.Nil(t, inc.PrimaryURL)
	}
}

func TestSearchAdapterMaxPages(t *testing.T) {
	var pagesServed int
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		pagesServed++
		w.Write([]byte(searchResultPage(true,
			[2]string{fmt.Sprintf("https://site.com/u-%s", r.URL.RawQuery), "University story"},
		)))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	adapter := NewSearchAdapter(testSearchConfig(srv.URL), []string{"university"}, testFetchClient(t), nil, zerolog.Nop())
	sink := &memorySink{}

	require.NoError(t, adapter.Collect(context.Background(), sources.CollectOptions{MaxPages: 3}, sink))
	assert.Equal(t, 3, pagesServed)
}

func TestSearchAdapterCaptchaAbortsKeyword(t *testing.T) {
	captchaPage := `<html><body><div class="g-recaptcha" data-sitekey="xyz"></div>Please verify you are human</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(captchaPage))
	}))
	defer srv.Close()

	adapter := NewSearchAdapter(testSearchConfig(srv.URL), []string{"university"}, testFetchClient(t), nil, zerolog.Nop())
	sink := &memorySink{}

	err := adapter.Collect(context.Background(), sources.CollectOptions{}, sink)
	require.Error(t, err)

	var ce *sources.CaptchaError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "testnews", ce.Source)
	assert.Equal(t, "university", ce.Keyword)
	assert.Empty(t, sink.incidents)
}

func TestDetectCaptcha(t *testing.T) {
	captcha, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<html><body><iframe src="https://www.google.com/recaptcha/api2/anchor"></iframe></body></html>`))
	require.NoError(t, err)
	assert.True(t, DetectCaptcha(captcha))

	normal, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<html><body><article>` + strings.Repeat("Long article text about a university breach. ", 100) + `</article></body></html>`))
	require.NoError(t, err)
	assert.False(t, DetectCaptcha(normal))
}
