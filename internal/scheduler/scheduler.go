// Package scheduler drives the recurring pipeline jobs: RSS ingestion every
// N hours, a weekly full ingestion, and enrichment after each ingestion.
// Jobs are strictly serialized; a cooperative loop checks for due work every
// minute.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eduthreat/cti-pipeline/internal/domain"
	"github.com/eduthreat/cti-pipeline/internal/enrich"
	"github.com/eduthreat/cti-pipeline/internal/ingest"
	"github.com/eduthreat/cti-pipeline/internal/llm"
	"github.com/eduthreat/cti-pipeline/internal/metrics"
)

// tickInterval is how often the loop checks for due jobs.
const tickInterval = 60 * time.Second

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SystemClock is the production clock.
var SystemClock Clock = realClock{}

// Config tunes the schedule.
type Config struct {
	RSSInterval     time.Duration
	WeeklyDay       time.Weekday
	WeeklyTime      string // HH:MM local
	EnableEnrich    bool
	EnrichBatchSize int
	EnrichOptions   enrich.Options
}

// Status is a snapshot of the scheduler state.
type Status struct {
	Running       bool       `json:"running"`
	ActiveJob     string     `json:"active_job,omitempty"`
	LastRSSRun    *time.Time `json:"last_rss_run,omitempty"`
	LastWeeklyRun *time.Time `json:"last_weekly_run,omitempty"`
	RSSInterval   string     `json:"rss_interval"`
	WeeklySlot    string     `json:"weekly_slot"`
}

// Scheduler owns the background loop.
type Scheduler struct {
	cfg          Config
	orchestrator *ingest.Orchestrator
	enricher     *enrich.Enricher
	registry     *metrics.Registry
	clock        Clock
	logger       zerolog.Logger

	mu            sync.Mutex
	running       bool
	activeJob     string
	lastRSSRun    *time.Time
	lastWeeklyRun *time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a scheduler. clock may be nil for the system clock.
func New(cfg Config, orchestrator *ingest.Orchestrator, enricher *enrich.Enricher, registry *metrics.Registry, clock Clock, logger zerolog.Logger) *Scheduler {
	if orchestrator == nil {
		panic("orchestrator cannot be nil")
	}
	if registry == nil {
		panic("metrics registry cannot be nil")
	}
	if clock == nil {
		clock = SystemClock
	}
	if cfg.RSSInterval <= 0 {
		cfg.RSSInterval = 2 * time.Hour
	}
	if cfg.WeeklyTime == "" {
		cfg.WeeklyTime = "02:00"
	}
	return &Scheduler{
		cfg:          cfg,
		orchestrator: orchestrator,
		enricher:     enricher,
		registry:     registry,
		clock:        clock,
		logger:       logger,
	}
}

// Start launches the background loop. Initial jobs run synchronously before
// the loop starts when requested.
func (s *Scheduler) Start(ctx context.Context, runInitialRSS, runInitialWeekly bool) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info().
		Dur("rss_interval", s.cfg.RSSInterval).
		Str("weekly_day", s.cfg.WeeklyDay.String()).
		Str("weekly_time", s.cfg.WeeklyTime).
		Msg("scheduler starting")

	if runInitialRSS {
		s.runJob(ctx, "rss")
	}
	if runInitialWeekly {
		s.runJob(ctx, "weekly")
	}

	go s.loop(ctx)
	return nil
}

// Stop stops the background loop, waiting for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDueJobs(ctx)
		}
	}
}

func (s *Scheduler) runDueJobs(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	rssDue := s.lastRSSRun == nil || now.Sub(*s.lastRSSRun) >= s.cfg.RSSInterval
	weeklyDue := s.weeklyDueLocked(now)
	s.mu.Unlock()

	if weeklyDue {
		s.runJob(ctx, "weekly")
	}
	if rssDue {
		s.runJob(ctx, "rss")
	}
}

// weeklyDueLocked reports whether the weekly slot has been reached and not
// yet run this week. Caller holds the mutex.
func (s *Scheduler) weeklyDueLocked(now time.Time) bool {
	if now.Weekday() != s.cfg.WeeklyDay {
		return false
	}

	slot, err := time.Parse("15:04", s.cfg.WeeklyTime)
	if err != nil {
		return false
	}
	slotToday := time.Date(now.Year(), now.Month(), now.Day(), slot.Hour(), slot.Minute(), 0, 0, now.Location())
	if now.Before(slotToday) {
		return false
	}

	return s.lastWeeklyRun == nil || now.Sub(*s.lastWeeklyRun) > 24*time.Hour
}

// Trigger runs a named job immediately: "rss", "weekly", or "enrich".
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	switch strings.ToLower(name) {
	case "rss", "weekly", "enrich":
		return s.runJob(ctx, strings.ToLower(name))
	default:
		return fmt.Errorf("unknown job: %s", name)
	}
}

// runJob executes one job, serialized against all others by the active-job
// flag. A job finding another active is skipped, not queued.
func (s *Scheduler) runJob(ctx context.Context, name string) error {
	s.mu.Lock()
	if s.activeJob != "" {
		active := s.activeJob
		s.mu.Unlock()
		s.logger.Warn().Str("job", name).Str("active", active).Msg("job skipped, another is running")
		return fmt.Errorf("job %s already running", active)
	}
	s.activeJob = name
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.activeJob = ""
		s.mu.Unlock()
	}()

	runID := uuid.NewString()
	logger := s.logger.With().Str("job", name).Str("run_id", runID).Logger()

	var err error
	switch name {
	case "rss":
		err = s.runRSS(ctx)
	case "weekly":
		err = s.runWeekly(ctx)
	case "enrich":
		err = s.runEnrichment(ctx)
	}

	if err != nil {
		logger.Error().Err(err).Msg("job finished with error")
	} else {
		logger.Info().Msg("job finished")
	}
	return err
}

func (s *Scheduler) runRSS(ctx context.Context) error {
	s.logger.Info().Msg("rss ingestion starting")
	s.registry.StartTimer("rss_ingestion", nil)

	result, err := s.orchestrator.IngestGroup(ctx, domain.GroupRSS, nil, ingest.Options{
		MaxAgeDays:  30,
		Incremental: true,
	})

	duration := s.registry.StopTimer("rss_ingestion", nil)
	if err != nil {
		s.registry.Increment("rss_ingestion_runs", 1, map[string]string{"status": "error"})
		return fmt.Errorf("rss ingestion failed: %w", err)
	}

	now := s.clock.Now()
	s.mu.Lock()
	s.lastRSSRun = &now
	s.mu.Unlock()

	s.registry.Increment("rss_ingestion_runs", 1, map[string]string{"status": "success"})
	s.registry.Increment("rss_ingestion_incidents", int64(result.Inserted), nil)
	s.logger.Info().Int("new", result.Inserted).Dur("duration", duration).Msg("rss ingestion complete")

	if s.cfg.EnableEnrich && result.Inserted > 0 {
		return s.runEnrichment(ctx)
	}
	return nil
}

func (s *Scheduler) runWeekly(ctx context.Context) error {
	s.logger.Info().Msg("weekly full ingestion starting")
	s.registry.StartTimer("weekly_ingestion", nil)

	total := 0
	var firstErr error
	for _, group := range []domain.SourceGroup{domain.GroupCurated, domain.GroupNews} {
		result, err := s.orchestrator.IngestGroup(ctx, group, nil, ingest.Options{Incremental: true})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += result.Inserted
	}

	duration := s.registry.StopTimer("weekly_ingestion", nil)
	if firstErr != nil {
		s.registry.Increment("weekly_ingestion_runs", 1, map[string]string{"status": "error"})
		return fmt.Errorf("weekly ingestion failed: %w", firstErr)
	}

	now := s.clock.Now()
	s.mu.Lock()
	s.lastWeeklyRun = &now
	s.mu.Unlock()

	s.registry.Increment("weekly_ingestion_runs", 1, map[string]string{"status": "success"})
	s.registry.Increment("weekly_ingestion_incidents", int64(total), nil)
	s.logger.Info().Int("new", total).Dur("duration", duration).Msg("weekly ingestion complete")

	if s.cfg.EnableEnrich && total > 0 {
		return s.runEnrichment(ctx)
	}
	return nil
}

// runEnrichment processes the next batch of unenriched incidents. A
// persistent rate limit aborts the pass and surfaces as an error.
func (s *Scheduler) runEnrichment(ctx context.Context) error {
	if s.enricher == nil {
		s.logger.Debug().Msg("enrichment disabled, no enricher configured")
		return nil
	}

	s.logger.Info().Msg("enrichment starting")
	s.registry.StartTimer("enrichment", nil)

	enriched, err := s.enricher.EnrichBatch(ctx, s.cfg.EnrichBatchSize, s.cfg.EnrichOptions)

	duration := s.registry.StopTimer("enrichment", nil)
	if err != nil {
		if llm.IsRateLimit(err) {
			s.logger.Error().Err(err).Msg("enrichment aborted on rate limit")
		}
		return fmt.Errorf("enrichment failed: %w", err)
	}

	s.registry.Increment("enrichment_incidents", int64(enriched), nil)
	s.logger.Info().Int("enriched", enriched).Dur("duration", duration).Msg("enrichment complete")
	return nil
}

// GetStatus returns a snapshot of the scheduler state.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:       s.running,
		ActiveJob:     s.activeJob,
		LastRSSRun:    s.lastRSSRun,
		LastWeeklyRun: s.lastWeeklyRun,
		RSSInterval:   s.cfg.RSSInterval.String(),
		WeeklySlot:    fmt.Sprintf("%s %s", s.cfg.WeeklyDay, s.cfg.WeeklyTime),
	}
}

// ParseWeekday converts a lowercase day name into a time.Weekday.
func ParseWeekday(day string) (time.Weekday, error) {
	days := map[string]time.Weekday{
		"sunday":    time.Sunday,
		"monday":    time.Monday,
		"tuesday":   time.Tuesday,
		"wednesday": time.Wednesday,
		"thursday":  time.Thursday,
		"friday":    time.Friday,
		"saturday":  time.Saturday,
	}
	d, ok := days[strings.ToLower(strings.TrimSpace(day))]
	if !ok {
		return 0, fmt.Errorf("invalid weekday: %s", day)
	}
	return d, nil
}
