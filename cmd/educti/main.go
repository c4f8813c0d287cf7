package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/eduthreat/cti-pipeline/internal/api"
	"github.com/eduthreat/cti-pipeline/internal/config"
	"github.com/eduthreat/cti-pipeline/internal/dedup"
	"github.com/eduthreat/cti-pipeline/internal/domain"
	"github.com/eduthreat/cti-pipeline/internal/enrich"
	"github.com/eduthreat/cti-pipeline/internal/extract"
	"github.com/eduthreat/cti-pipeline/internal/fetch"
	"github.com/eduthreat/cti-pipeline/internal/ingest"
	"github.com/eduthreat/cti-pipeline/internal/llm"
	"github.com/eduthreat/cti-pipeline/internal/metrics"
	"github.com/eduthreat/cti-pipeline/internal/repository"
	"github.com/eduthreat/cti-pipeline/internal/repository/sqlite"
	"github.com/eduthreat/cti-pipeline/internal/scheduler"
	"github.com/eduthreat/cti-pipeline/internal/sources"
	"github.com/eduthreat/cti-pipeline/internal/sources/curated"
	"github.com/eduthreat/cti-pipeline/internal/sources/news"
	"github.com/eduthreat/cti-pipeline/internal/sources/rss"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitUsage
	}

	setupLogging(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch args[0] {
	case "phase1":
		return runPhase1(ctx, cfg, args[1:])
	case "phase2":
		return runPhase2(ctx, cfg, args[1:])
	case "scheduler":
		return runScheduler(ctx, cfg, args[1:])
	case "serve":
		return runServe(ctx, cfg, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		usage()
		return exitUsage
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: educti <command> [flags]

commands:
  phase1     run ingestion once
  phase2     run enrichment once
  scheduler  start the scheduler or run a single job
  serve      start the admin/export HTTP API`)
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if cfg.Logger.File != "" {
		f, err := os.OpenFile(cfg.Logger.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			log.Logger = log.Output(zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stderr}, f))
			return
		}
		log.Warn().Err(err).Str("file", cfg.Logger.File).Msg("cannot open log file, logging to stderr only")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// pipeline bundles everything the commands share.
type pipeline struct {
	db           *sqlite.DB
	incidents    repository.IncidentRepository
	articles     repository.ArticleRepository
	enrichments  repository.EnrichmentRepository
	sourceState  repository.SourceStateRepository
	registry     *metrics.Registry
	fetcher      *fetch.Client
	browser      *fetch.Browser
	archive      *fetch.Archive
	orchestrator *ingest.Orchestrator
}

func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	db, err := sqlite.Open(ctx, cfg.Data.StorePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	registry := metrics.NewRegistry(log.Logger)
	browser := fetch.NewBrowser(cfg.Fetch.BrowserWait, log.Logger)
	fetcher := fetch.NewClient(fetch.Config{
		Timeout:     cfg.Fetch.Timeout,
		MaxRetries:  cfg.Fetch.MaxRetries,
		BackoffBase: cfg.Fetch.BackoffBase,
		MinDelay:    cfg.Fetch.MinDelay,
		MaxDelay:    cfg.Fetch.MaxDelay,
		Browser:     browser,
	}, log.Logger)
	archive := fetch.NewArchive(fetcher, log.Logger)

	p := &pipeline{
		db:          db,
		incidents:   sqlite.NewIncidentRepository(db),
		articles:    sqlite.NewArticleRepository(db),
		enrichments: sqlite.NewEnrichmentRepository(db),
		sourceState: sqlite.NewSourceStateRepository(db),
		registry:    registry,
		fetcher:     fetcher,
		browser:     browser,
		archive:     archive,
	}

	adapters := []sources.Adapter{
		curated.NewKonBriefing(fetcher, log.Logger),
		curated.NewRansomwareLive(fetcher, log.Logger),
		curated.NewDataBreach(fetcher, log.Logger),
		news.NewSearchAdapter(news.TheHackerNewsConfig, nil, fetcher, browser, log.Logger),
		news.NewArchiveAdapter(news.SecurityWeekConfig, nil, fetcher, log.Logger),
		news.NewArchiveAdapter(news.TheRecordConfig, nil, fetcher, log.Logger),
		rss.NewFeedAdapter(rss.DataBreachesFeed, fetcher, log.Logger),
		rss.NewFeedAdapter(rss.BleepingComputerFeed, fetcher, log.Logger),
	}
	p.orchestrator = ingest.NewOrchestrator(p.incidents, p.sourceState, adapters, registry, log.Logger)

	return p, nil
}

func (p *pipeline) buildEnricher(cfg *config.Config) (*enrich.Enricher, error) {
	if err := cfg.RequireLLM(); err != nil {
		return nil, err
	}

	gateway, err := llm.NewClient(llm.Config{
		APIKey:     cfg.LLM.APIKey,
		Host:       cfg.LLM.Host,
		Model:      cfg.LLM.Model,
		MaxRetries: cfg.Enrichment.MaxRetries,
	}, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm gateway: %w", err)
	}

	extractor := extract.NewExtractor(p.fetcher, p.browser, p.archive, log.Logger)
	return enrich.NewEnricher(p.incidents, p.articles, p.enrichments, extractor, gateway, p.registry, log.Logger), nil
}

func runPhase1(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("phase1", flag.ContinueOnError)
	fullHistorical := fs.Bool("full-historical", false, "fetch all pages from all sources, ignoring watermarks")
	sourceList := fs.String("sources", "", "comma-separated source names to run (default all)")
	maxPages := fs.Int("max-pages", 0, "cap pagination walks (0 = all pages)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("pipeline setup failed")
		return exitFailure
	}
	defer p.db.Close()

	var filter []string
	if *sourceList != "" {
		filter = strings.Split(*sourceList, ",")
	}

	opts := ingest.Options{
		MaxPages:    *maxPages,
		Incremental: !*fullHistorical,
	}
	if *fullHistorical {
		opts.MaxAgeDays = 365
	} else {
		opts.MaxAgeDays = 30
	}

	for _, group := range []domain.SourceGroup{domain.GroupCurated, domain.GroupNews, domain.GroupRSS} {
		if _, err := p.orchestrator.IngestGroup(ctx, group, filter, opts); err != nil {
			log.Error().Err(err).Str("group", string(group)).Msg("ingestion aborted")
			return exitFailure
		}
	}

	p.registry.LogSummary()
	return exitOK
}

func runPhase2(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("phase2", flag.ContinueOnError)
	limit := fs.Int("limit", 0, "max incidents to enrich (0 = all unenriched)")
	skipNonEducation := fs.Bool("skip-non-education", false, "mark non-education incidents as skipped")
	rateLimitDelay := fs.Float64("rate-limit-delay", cfg.Enrichment.RateLimitDelay.Seconds(), "seconds between incidents")
	runDedup := fs.Bool("dedup", false, "run post-enrichment deduplication after the pass")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("pipeline setup failed")
		return exitFailure
	}
	defer p.db.Close()

	enricher, err := p.buildEnricher(cfg)
	if err != nil {
		log.Error().Err(err).Msg("enrichment setup failed")
		return exitUsage
	}

	enriched, err := enricher.EnrichBatch(ctx, *limit, enrich.Options{
		SkipIfNotEducation: *skipNonEducation,
		RateLimitDelay:     time.Duration(*rateLimitDelay * float64(time.Second)),
	})
	if err != nil {
		log.Error().Err(err).Int("enriched", enriched).Msg("enrichment pass aborted")
		return exitFailure
	}

	log.Info().Int("enriched", enriched).Msg("enrichment pass complete")

	if *runDedup {
		d := dedup.NewDeduplicator(p.incidents, p.enrichments, log.Logger)
		if _, err := d.Run(ctx, dedup.DefaultWindowDays); err != nil {
			log.Error().Err(err).Msg("deduplication failed")
			return exitFailure
		}
	}

	p.registry.LogSummary()
	return exitOK
}

func runScheduler(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("scheduler", flag.ContinueOnError)
	mode := fs.String("mode", "scheduler", "scheduler|historical|rss-once|weekly-once|enrich-once")
	rssInterval := fs.Int("rss-interval", cfg.Scheduler.RSSIntervalHours, "hours between rss checks")
	weeklyDay := fs.String("weekly-day", cfg.Scheduler.WeeklyDay, "day for weekly ingestion")
	weeklyTime := fs.String("weekly-time", cfg.Scheduler.WeeklyTime, "time for weekly ingestion (HH:MM)")
	noEnrichment := fs.Bool("no-enrichment", false, "disable automatic enrichment after ingestion")
	runInitialRSS := fs.Bool("run-initial-rss", false, "run rss ingestion immediately on start")
	runInitialWeekly := fs.Bool("run-initial-weekly", false, "run weekly ingestion immediately on start")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	day, err := scheduler.ParseWeekday(*weeklyDay)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --weekly-day: %v\n", err)
		return exitUsage
	}

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("pipeline setup failed")
		return exitFailure
	}
	defer p.db.Close()

	var enricher *enrich.Enricher
	if !*noEnrichment {
		enricher, err = p.buildEnricher(cfg)
		if err != nil {
			log.Error().Err(err).Msg("enrichment setup failed")
			return exitUsage
		}
	}

	sched := scheduler.New(scheduler.Config{
		RSSInterval:     time.Duration(*rssInterval) * time.Hour,
		WeeklyDay:       day,
		WeeklyTime:      *weeklyTime,
		EnableEnrich:    !*noEnrichment,
		EnrichBatchSize: cfg.Enrichment.BatchSize,
		EnrichOptions: enrich.Options{
			SkipIfNotEducation: true,
			RateLimitDelay:     cfg.Enrichment.RateLimitDelay,
		},
	}, p.orchestrator, enricher, p.registry, nil, log.Logger)

	switch *mode {
	case "historical":
		opts := ingest.Options{Incremental: false, MaxAgeDays: 365}
		for _, group := range []domain.SourceGroup{domain.GroupCurated, domain.GroupNews, domain.GroupRSS} {
			if _, err := p.orchestrator.IngestGroup(ctx, group, nil, opts); err != nil {
				log.Error().Err(err).Msg("historical ingestion failed")
				return exitFailure
			}
		}
		return exitOK
	case "rss-once", "weekly-once", "enrich-once":
		job := strings.TrimSuffix(*mode, "-once")
		if job == "enrich" && enricher == nil {
			log.Error().Msg("enrich-once requires enrichment to be enabled")
			return exitUsage
		}
		if err := sched.Trigger(ctx, job); err != nil {
			log.Error().Err(err).Str("job", job).Msg("job failed")
			return exitFailure
		}
		p.registry.LogSummary()
		return exitOK
	case "scheduler":
		if err := sched.Start(ctx, *runInitialRSS, *runInitialWeekly); err != nil {
			log.Error().Err(err).Msg("scheduler failed to start")
			return exitFailure
		}
		<-ctx.Done()
		log.Info().Msg("shutdown signal received")
		sched.Stop()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "invalid --mode: %s\n", *mode)
		return exitUsage
	}
}

func runServe(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	port := fs.Int("port", cfg.Admin.Port, "listen port")
	withScheduler := fs.Bool("with-scheduler", false, "run the scheduler in-process")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("pipeline setup failed")
		return exitFailure
	}
	defer p.db.Close()

	var sched *scheduler.Scheduler
	if *withScheduler {
		enricher, err := p.buildEnricher(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("enrichment unavailable, scheduler runs ingestion only")
		}

		day, err := scheduler.ParseWeekday(cfg.Scheduler.WeeklyDay)
		if err != nil {
			return exitUsage
		}
		sched = scheduler.New(scheduler.Config{
			RSSInterval:     time.Duration(cfg.Scheduler.RSSIntervalHours) * time.Hour,
			WeeklyDay:       day,
			WeeklyTime:      cfg.Scheduler.WeeklyTime,
			EnableEnrich:    enricher != nil,
			EnrichBatchSize: cfg.Enrichment.BatchSize,
			EnrichOptions: enrich.Options{
				SkipIfNotEducation: true,
				RateLimitDelay:     cfg.Enrichment.RateLimitDelay,
			},
		}, p.orchestrator, enricher, p.registry, nil, log.Logger)

		if err := sched.Start(ctx, false, false); err != nil {
			log.Error().Err(err).Msg("scheduler failed to start")
			return exitFailure
		}
		defer sched.Stop()
	}

	auth := api.NewAuth(cfg.Admin.Username, cfg.Admin.PasswordHash, cfg.Admin.JWTSecret)
	server := api.NewServer(api.Config{
		Port:         *port,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, p.incidents, p.enrichments, sched, p.registry, auth, log.Logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
			return exitFailure
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
		return exitFailure
	}

	return exitOK
}
