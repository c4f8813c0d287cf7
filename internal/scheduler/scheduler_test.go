package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduthreat/cti-pipeline/internal/domain"
	"github.com/eduthreat/cti-pipeline/internal/ingest"
	"github.com/eduthreat/cti-pipeline/internal/metrics"
	"github.com/eduthreat/cti-pipeline/internal/repository/sqlite"
	"github.com/eduthreat/cti-pipeline/internal/sources"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type countingAdapter struct {
	name  string
	group domain.SourceGroup
	calls int
}

func (a *countingAdapter) Name() string              { return a.name }
func (a *countingAdapter) Group() domain.SourceGroup { return a.group }
func (a *countingAdapter) Collect(ctx context.Context, opts sources.CollectOptions, sink sources.Sink) error {
	a.calls++
	return nil
}

func newTestScheduler(t *testing.T, cfg Config, clock Clock, adapters ...sources.Adapter) *Scheduler {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	registry := metrics.NewRegistry(zerolog.Nop())
	orchestrator := ingest.NewOrchestrator(
		sqlite.NewIncidentRepository(db),
		sqlite.NewSourceStateRepository(db),
		adapters,
		registry,
		zerolog.Nop(),
	)
	return New(cfg, orchestrator, nil, registry, clock, zerolog.Nop())
}

func TestTriggerRunsNamedJob(t *testing.T) {
	rssAdapter := &countingAdapter{name: "feed", group: domain.GroupRSS}
	s := newTestScheduler(t, Config{}, &fakeClock{now: time.Now()}, rssAdapter)

	require.NoError(t, s.Trigger(context.Background(), "rss"))
	assert.Equal(t, 1, rssAdapter.calls)

	err := s.Trigger(context.Background(), "bogus")
	assert.Error(t, err)
}

func TestTriggerWeeklyRunsCuratedAndNews(t *testing.T) {
	curated := &countingAdapter{name: "curatedsite", group: domain.GroupCurated}
	news := &countingAdapter{name: "newssite", group: domain.GroupNews}
	rss := &countingAdapter{name: "feed", group: domain.GroupRSS}

	s := newTestScheduler(t, Config{}, &fakeClock{now: time.Now()}, curated, news, rss)
	require.NoError(t, s.Trigger(context.Background(), "weekly"))

	assert.Equal(t, 1, curated.calls)
	assert.Equal(t, 1, news.calls)
	assert.Equal(t, 0, rss.calls)
}

func TestRunDueJobsRSSInterval(t *testing.T) {
	rssAdapter := &countingAdapter{name: "feed", group: domain.GroupRSS}
	clock := &fakeClock{now: time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)} // a Monday
	s := newTestScheduler(t, Config{RSSInterval: 2 * time.Hour, WeeklyDay: time.Sunday}, clock, rssAdapter)

	// first check: never ran, due immediately
	s.runDueJobs(context.Background())
	assert.Equal(t, 1, rssAdapter.calls)

	// one hour later: not due
	clock.now = clock.now.Add(time.Hour)
	s.runDueJobs(context.Background())
	assert.Equal(t, 1, rssAdapter.calls)

	// two more hours: due again
	clock.now = clock.now.Add(2 * time.Hour)
	s.runDueJobs(context.Background())
	assert.Equal(t, 2, rssAdapter.calls)
}

func TestWeeklyDue(t *testing.T) {
	curated := &countingAdapter{name: "curatedsite", group: domain.GroupCurated}
	// Sunday 01:00, slot 02:00
	clock := &fakeClock{now: time.Date(2025, 1, 5, 1, 0, 0, 0, time.UTC)}
	s := newTestScheduler(t, Config{
		RSSInterval: 1000 * time.Hour, // keep rss quiet
		WeeklyDay:   time.Sunday,
		WeeklyTime:  "02:00",
	}, clock, curated)
	// suppress the immediate first rss run
	now := clock.now
	s.lastRSSRun = &now

	s.runDueJobs(context.Background())
	assert.Equal(t, 0, curated.calls, "before the slot")

	clock.now = time.Date(2025, 1, 5, 2, 30, 0, 0, time.UTC)
	s.runDueJobs(context.Background())
	assert.Equal(t, 1, curated.calls, "after the slot")

	// later the same day: already ran this week
	clock.now = time.Date(2025, 1, 5, 9, 0, 0, 0, time.UTC)
	s.runDueJobs(context.Background())
	assert.Equal(t, 1, curated.calls)

	// Monday: wrong day
	clock.now = time.Date(2025, 1, 6, 2, 30, 0, 0, time.UTC)
	s.runDueJobs(context.Background())
	assert.Equal(t, 1, curated.calls)

	// next Sunday after the slot: due again
	clock.now = time.Date(2025, 1, 12, 2, 30, 0, 0, time.UTC)
	s.runDueJobs(context.Background())
	assert.Equal(t, 2, curated.calls)
}

func TestJobsSerialized(t *testing.T) {
	s := newTestScheduler(t, Config{}, &fakeClock{now: time.Now()})

	s.mu.Lock()
	s.activeJob = "weekly"
	s.mu.Unlock()

	err := s.Trigger(context.Background(), "rss")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestStatusSnapshot(t *testing.T) {
	s := newTestScheduler(t, Config{
		RSSInterval: 2 * time.Hour,
		WeeklyDay:   time.Sunday,
		WeeklyTime:  "02:00",
	}, &fakeClock{now: time.Now()})

	status := s.GetStatus()
	assert.False(t, status.Running)
	assert.Equal(t, "2h0m0s", status.RSSInterval)
	assert.Equal(t, "Sunday 02:00", status.WeeklySlot)
	assert.Nil(t, status.LastRSSRun)
}

func TestParseWeekday(t *testing.T) {
	d, err := ParseWeekday("sunday")
	require.NoError(t, err)
	assert.Equal(t, time.Sunday, d)

	d, err = ParseWeekday(" Wednesday ")
	require.NoError(t, err)
	assert.Equal(t, time.Wednesday, d)

	_, err = ParseWeekday("someday")
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s := newTestScheduler(t, Config{RSSInterval: time.Hour}, &fakeClock{now: time.Now()})

	require.NoError(t, s.Start(context.Background(), false, false))
	assert.True(t, s.GetStatus().Running)

	// double start rejected
	assert.Error(t, s.Start(context.Background(), false, false))

	s.Stop()
	assert.False(t, s.GetStatus().Running)
}
