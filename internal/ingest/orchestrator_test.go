package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduthreat/cti-pipeline/internal/domain"
	"github.com/eduthreat/cti-pipeline/internal/metrics"
	"github.com/eduthreat/cti-pipeline/internal/repository"
	"github.com/eduthreat/cti-pipeline/internal/repository/sqlite"
	"github.com/eduthreat/cti-pipeline/internal/sources"
)

// fakeAdapter emits canned incidents, honoring the incremental watermark the
// way the RSS adapters do.
type fakeAdapter struct {
	name      string
	group     domain.SourceGroup
	incidents []domain.Incident
	err       error
	calls     int
}

func (f *fakeAdapter) Name() string              { return f.name }
func (f *fakeAdapter) Group() domain.SourceGroup { return f.group }

func (f *fakeAdapter) Collect(ctx context.Context, opts sources.CollectOptions, sink sources.Sink) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	var batch []domain.Incident
	for _, inc := range f.incidents {
		if opts.Incremental && opts.LastPubdate != "" &&
			domain.StrOrEmpty(inc.SourcePublishedDate) <= opts.LastPubdate {
			continue
		}
		batch = append(batch, inc)
	}
	if len(batch) == 0 {
		return nil
	}
	return sink.Save(ctx, batch)
}

func makeIncident(source, eventID, pubdate string) domain.Incident {
	inc := domain.Incident{
		IncidentID:       domain.MakeIncidentID(source, eventID),
		Source:           source,
		SourceEventID:    &eventID,
		UniversityName:   "U " + eventID,
		VictimRawName:    "U " + eventID,
		DatePrecision:    domain.PrecisionUnknown,
		IngestedAt:       domain.NowUTC(),
		AllURLs:          []string{fmt.Sprintf("https://example.com/%s/%s", source, eventID)},
		Status:           domain.StatusSuspected,
		SourceConfidence: domain.ConfidenceHigh,
	}
	if pubdate != "" {
		inc.SourcePublishedDate = &pubdate
		inc.IncidentDate = &pubdate
		inc.DatePrecision = domain.PrecisionDay
	}
	return inc
}

type testEnv struct {
	incidents   repository.IncidentRepository
	sourceState repository.SourceStateRepository
	registry    *metrics.Registry
}

func setup(t *testing.T) testEnv {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return testEnv{
		incidents:   sqlite.NewIncidentRepository(db),
		sourceState: sqlite.NewSourceStateRepository(db),
		registry:    metrics.NewRegistry(zerolog.Nop()),
	}
}

func TestIngestGroupFirstRun(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	adapter := &fakeAdapter{
		name:  "curatedsite",
		group: domain.GroupCurated,
		incidents: []domain.Incident{
			makeIncident("curatedsite", "e1", "2024-09-01"),
			makeIncident("curatedsite", "e2", "2024-10-15"),
			makeIncident("curatedsite", "e3", "2024-11-01"),
		},
	}

	o := NewOrchestrator(env.incidents, env.sourceState, []sources.Adapter{adapter}, env.registry, zerolog.Nop())
	result, err := o.IngestGroup(ctx, domain.GroupCurated, nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Inserted)
	assert.Equal(t, 0, result.Skipped)

	count, err := env.incidents.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	watermark, err := env.sourceState.GetLastPubdate(ctx, "curatedsite")
	require.NoError(t, err)
	assert.Equal(t, "2024-11-01", watermark)

	labels := map[string]string{"source": "curatedsite", "group": "curated"}
	assert.Equal(t, int64(3), env.registry.Counter("ingestion_incidents", labels))
}

func TestIngestGroupSecondRunOneNew(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	adapter := &fakeAdapter{
		name:  "curatedsite",
		group: domain.GroupCurated,
		incidents: []domain.Incident{
			makeIncident("curatedsite", "e1", "2024-09-01"),
			makeIncident("curatedsite", "e2", "2024-10-15"),
			makeIncident("curatedsite", "e3", "2024-11-01"),
		},
	}

	o := NewOrchestrator(env.incidents, env.sourceState, []sources.Adapter{adapter}, env.registry, zerolog.Nop())
	_, err := o.IngestGroup(ctx, domain.GroupCurated, nil, Options{})
	require.NoError(t, err)

	// second run sees one new article
	adapter.incidents = append(adapter.incidents, makeIncident("curatedsite", "e4", "2024-12-10"))

	result, err := o.IngestGroup(ctx, domain.GroupCurated, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 3, result.Skipped)

	count, err := env.incidents.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	watermark, err := env.sourceState.GetLastPubdate(ctx, "curatedsite")
	require.NoError(t, err)
	assert.Equal(t, "2024-12-10", watermark)
}

func TestIngestGroupIncrementalUsesWatermark(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	require.NoError(t, env.sourceState.SetLastPubdate(ctx, "feed", "2025-01-01"))

	adapter := &fakeAdapter{
		name:  "feed",
		group: domain.GroupRSS,
		incidents: []domain.Incident{
			makeIncident("feed", "dec30", "2024-12-30"),
			makeIncident("feed", "jan2", "2025-01-02"),
			makeIncident("feed", "jan3", "2025-01-03"),
		},
	}

	o := NewOrchestrator(env.incidents, env.sourceState, []sources.Adapter{adapter}, env.registry, zerolog.Nop())
	result, err := o.IngestGroup(ctx, domain.GroupRSS, nil, Options{Incremental: true})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Inserted)

	watermark, err := env.sourceState.GetLastPubdate(ctx, "feed")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-03", watermark)
}

func TestIngestGroupAdapterErrorContinues(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	broken := &fakeAdapter{name: "broken", group: domain.GroupNews, err: fmt.Errorf("site unreachable")}
	healthy := &fakeAdapter{
		name:      "healthy",
		group:     domain.GroupNews,
		incidents: []domain.Incident{makeIncident("healthy", "x1", "2025-02-01")},
	}

	o := NewOrchestrator(env.incidents, env.sourceState, []sources.Adapter{broken, healthy}, env.registry, zerolog.Nop())
	result, err := o.IngestGroup(ctx, domain.GroupNews, nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, int64(1), env.registry.Counter("ingestion_errors", map[string]string{"source": "broken"}))
}

func TestIngestGroupSourceFilter(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	a := &fakeAdapter{name: "a", group: domain.GroupCurated, incidents: []domain.Incident{makeIncident("a", "1", "2025-01-01")}}
	b := &fakeAdapter{name: "b", group: domain.GroupCurated, incidents: []domain.Incident{makeIncident("b", "1", "2025-01-01")}}

	o := NewOrchestrator(env.incidents, env.sourceState, []sources.Adapter{a, b}, env.registry, zerolog.Nop())
	_, err := o.IngestGroup(ctx, domain.GroupCurated, []string{"b"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, a.calls)
	assert.Equal(t, 1, b.calls)
}

func TestIngestGroupEmptyResponseNoWrites(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	adapter := &fakeAdapter{name: "quiet", group: domain.GroupCurated}
	o := NewOrchestrator(env.incidents, env.sourceState, []sources.Adapter{adapter}, env.registry, zerolog.Nop())

	result, err := o.IngestGroup(ctx, domain.GroupCurated, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)

	watermark, err := env.sourceState.GetLastPubdate(ctx, "quiet")
	require.NoError(t, err)
	assert.Equal(t, "", watermark)
}
