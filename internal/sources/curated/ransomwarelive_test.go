package curated

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduthreat/cti-pipeline/internal/domain"
	"github.com/eduthreat/cti-pipeline/internal/sources"
)

const ransomwareLiveFixture = `[
  {
    "activity": "Education",
    "victim": "Example University",
    "description": "Large public university in the midwest",
    "group": "lockbit",
    "attackdate": "2024-06-10 00:00:00",
    "discovered": "2024-06-12 08:30:00",
    "country": "US",
    "domain": "example.edu",
    "url": "https://www.ransomware.live/victim/example-university",
    "claim_url": "http://leaksite.onion/example-university",
    "screenshot": "https://images.ransomware.live/example.png",
    "press": [
      {"url": "https://news.example.com/example-university-hit"},
      {"url": "https://www.ransomware.live/internal/page"},
      {"url": "https://cdn.example.com/shot.png"}
    ],
    "infostealer": {"employees": 12, "users": 240}
  },
  {
    "activity": "Education",
    "victim": "Example University",
    "group": "lockbit",
    "attackdate": "2024-06-10 00:00:00",
    "country": "US",
    "domain": "example.edu",
    "press": []
  },
  {
    "activity": "Healthcare",
    "victim": "Some Hospital",
    "attackdate": "2024-06-01",
    "country": "US"
  },
  {
    "activity": "Education",
    "victim": "",
    "attackdate": "2024-06-01"
  }
]`

func TestRansomwareLiveCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sectorvictims/Education", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(ransomwareLiveFixture))
	}))
	defer srv.Close()

	oldURL := ransomwareLiveBaseURL
	ransomwareLiveBaseURL = srv.URL
	t.Cleanup(func() { ransomwareLiveBaseURL = oldURL })

	adapter := NewRansomwareLive(fixtureClient(t), zerolog.Nop())
	sink := &memorySink{}

	require.NoError(t, adapter.Collect(context.Background(), sources.CollectOptions{}, sink))

	// duplicate composite key, non-education activity, and nameless victim
	// are all dropped
	incidents := sink.all()
	require.Len(t, incidents, 1)

	inc := incidents[0]
	assert.Equal(t, "ransomwarelive", inc.Source)
	assert.Equal(t, "Example University", inc.UniversityName)
	assert.Equal(t, "University", domain.StrOrEmpty(inc.InstitutionType))
	require.NotNil(t, inc.IncidentDate)
	assert.Equal(t, "2024-06-10", *inc.IncidentDate)
	require.NotNil(t, inc.SourcePublishedDate)
	assert.Equal(t, "2024-06-12", *inc.SourcePublishedDate)

	// leak-site and screenshot URLs go to dedicated fields, not all_urls
	assert.Equal(t, []string{"https://news.example.com/example-university-hit"}, inc.AllURLs)
	assert.Equal(t, "http://leaksite.onion/example-university", domain.StrOrEmpty(inc.LeakSiteURL))
	assert.Equal(t, "https://images.ransomware.live/example.png", domain.StrOrEmpty(inc.ScreenshotURL))

	assert.Equal(t, "ransomware", domain.StrOrEmpty(inc.AttackTypeHint))
	assert.Equal(t, "example-university", domain.StrOrEmpty(inc.SourceEventID))
	assert.Contains(t, domain.StrOrEmpty(inc.Notes), "group=lockbit")
	assert.Contains(t, domain.StrOrEmpty(inc.Notes), "infostealer(")
}

func TestGuessInstitutionType(t *testing.T) {
	assert.Equal(t, "School", guessInstitutionType("Springfield School District", ""))
	assert.Equal(t, "University", guessInstitutionType("Universität Beispiel", ""))
	assert.Equal(t, "Research Institute", guessInstitutionType("Institut Pasteur", ""))
	assert.Equal(t, "Unknown", guessInstitutionType("Acme Corp", ""))
}

func TestPressArticleURLsStringList(t *testing.T) {
	urls := pressArticleURLs([]byte(`["https://a.com/x", "ftp://bad", "https://a.com/x"]`))
	assert.Equal(t, []string{"https://a.com/x"}, urls)
}
