package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validIncident() *Incident {
	date := "2024-01-15"
	return &Incident{
		IncidentID:          "test_source_0011223344556677",
		Source:              "test_source",
		UniversityName:      "Test University",
		VictimRawName:       "Test University",
		IncidentDate:        &date,
		DatePrecision:       PrecisionDay,
		SourcePublishedDate: &date,
		IngestedAt:          "2024-01-17T10:30:00Z",
		AllURLs:             []string{"https://example.com/a", "https://example.com/b"},
		Status:              StatusSuspected,
		SourceConfidence:    ConfidenceMedium,
	}
}

func TestIncidentValidate(t *testing.T) {
	inc := validIncident()
	require.NoError(t, inc.Validate())

	t.Run("missing incident id", func(t *testing.T) {
		bad := validIncident()
		bad.IncidentID = ""
		assert.Error(t, bad.Validate())
	})

	t.Run("date precision coupling", func(t *testing.T) {
		bad := validIncident()
		bad.IncidentDate = nil
		// precision still "day" while the date is gone
		assert.Error(t, bad.Validate())

		bad.DatePrecision = PrecisionUnknown
		assert.NoError(t, bad.Validate())

		bad2 := validIncident()
		bad2.DatePrecision = PrecisionUnknown
		assert.Error(t, bad2.Validate())
	})

	t.Run("duplicate urls rejected", func(t *testing.T) {
		bad := validIncident()
		bad.AllURLs = []string{"https://example.com/a", "https://example.com/a"}
		assert.Error(t, bad.Validate())
	})

	t.Run("primary url must be member of all_urls", func(t *testing.T) {
		bad := validIncident()
		other := "https://elsewhere.com/x"
		bad.PrimaryURL = &other
		assert.Error(t, bad.Validate())

		ok := validIncident()
		member := ok.AllURLs[1]
		ok.PrimaryURL = &member
		assert.NoError(t, ok.Validate())
	})

	t.Run("invalid enum values", func(t *testing.T) {
		bad := validIncident()
		bad.Status = Status("maybe")
		assert.Error(t, bad.Validate())

		bad = validIncident()
		bad.SourceConfidence = SourceConfidence("absolute")
		assert.Error(t, bad.Validate())
	})
}

func TestMakeIncidentID(t *testing.T) {
	t.Run("stable", func(t *testing.T) {
		id1 := MakeIncidentID("source1", "unique_string_123")
		id2 := MakeIncidentID("source1", "unique_string_123")
		assert.Equal(t, id1, id2)
	})

	t.Run("unique per input", func(t *testing.T) {
		id1 := MakeIncidentID("source1", "unique_string_123")
		id2 := MakeIncidentID("source1", "unique_string_456")
		id3 := MakeIncidentID("source2", "unique_string_123")
		assert.NotEqual(t, id1, id2)
		assert.NotEqual(t, id1, id3)
	})

	t.Run("format", func(t *testing.T) {
		id := MakeIncidentID("test_source", "unique_string")
		require.True(t, strings.HasPrefix(id, "test_source_"))

		suffix := id[strings.LastIndex(id, "_")+1:]
		require.Len(t, suffix, 16)
		for _, c := range suffix {
			assert.Contains(t, "0123456789abcdef", string(c))
		}
	})
}

func TestMergeURLs(t *testing.T) {
	existing := []string{"https://a.com/1", "https://a.com/2"}
	incoming := []string{"https://a.com/2", "https://b.com/3", "https://a.com/1"}

	merged := MergeURLs(existing, incoming)
	assert.Equal(t, []string{"https://a.com/1", "https://a.com/2", "https://b.com/3"}, merged)

	assert.Empty(t, MergeURLs(nil, nil))
	assert.Equal(t, []string{"https://x.com"}, MergeURLs(nil, []string{"https://x.com", ""}))
}

func TestJoinSplitURLs(t *testing.T) {
	urls := []string{"https://example.com/1", "https://example.com/2"}
	joined := JoinURLs(urls)
	assert.Equal(t, "https://example.com/1;https://example.com/2", joined)
	assert.Equal(t, urls, SplitURLs(joined))

	assert.Nil(t, SplitURLs(""))
	assert.Equal(t, []string{"https://x.com"}, SplitURLs(" https://x.com ;"))
}

func TestArticleUsable(t *testing.T) {
	long := strings.Repeat("a", 60)

	a := &Article{IncidentID: "i", URL: "https://x.com", Content: long, FetchSuccessful: true, ContentLength: len(long)}
	assert.True(t, a.Usable())

	short := &Article{IncidentID: "i", URL: "https://x.com", Content: "tiny", FetchSuccessful: true, ContentLength: 4}
	assert.False(t, short.Usable())

	failed := &Article{IncidentID: "i", URL: "https://x.com", Content: long, FetchSuccessful: false}
	assert.False(t, failed.Usable())
}
