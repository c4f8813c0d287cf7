// Package ingest implements the Phase 1 orchestrator: it drives the source
// adapters, enforces deduplication against previously seen source events,
// persists incidents incrementally, and advances per-source watermarks.
package ingest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/eduthreat/cti-pipeline/internal/domain"
	"github.com/eduthreat/cti-pipeline/internal/metrics"
	"github.com/eduthreat/cti-pipeline/internal/repository"
	"github.com/eduthreat/cti-pipeline/internal/sources"
)

// Options tunes one ingestion run.
type Options struct {
	// MaxPages caps pagination walks; 0 walks everything.
	MaxPages int
	// MaxAgeDays caps RSS item age; 0 uses adapter defaults.
	MaxAgeDays int
	// Incremental skips items at or before each source's watermark.
	Incremental bool
}

// Result summarizes one ingestion run.
type Result struct {
	Inserted int
	Skipped  int
	Errors   int
}

// Orchestrator runs groups of source adapters against the store.
type Orchestrator struct {
	incidents   repository.IncidentRepository
	sourceState repository.SourceStateRepository
	adapters    []sources.Adapter
	registry    *metrics.Registry
	logger      zerolog.Logger
}

// NewOrchestrator creates an ingestion orchestrator.
func NewOrchestrator(
	incidents repository.IncidentRepository,
	sourceState repository.SourceStateRepository,
	adapters []sources.Adapter,
	registry *metrics.Registry,
	logger zerolog.Logger,
) *Orchestrator {
	if incidents == nil {
		panic("incident repository cannot be nil")
	}
	if sourceState == nil {
		panic("source state repository cannot be nil")
	}
	if registry == nil {
		panic("metrics registry cannot be nil")
	}
	return &Orchestrator{
		incidents:   incidents,
		sourceState: sourceState,
		adapters:    adapters,
		registry:    registry,
		logger:      logger,
	}
}

// IngestGroup runs every adapter in the group (optionally filtered by source
// name). Adapter failures are logged and counted; remaining sources proceed.
func (o *Orchestrator) IngestGroup(ctx context.Context, group domain.SourceGroup, sourceFilter []string, opts Options) (Result, error) {
	if !group.IsValid() {
		return Result{}, fmt.Errorf("invalid source group: %s", group)
	}

	filter := make(map[string]bool, len(sourceFilter))
	for _, s := range sourceFilter {
		filter[s] = true
	}

	var result Result
	ran := 0

	for _, adapter := range o.adapters {
		if adapter.Group() != group {
			continue
		}
		if len(filter) > 0 && !filter[adapter.Name()] {
			continue
		}
		ran++

		collectOpts := sources.CollectOptions{
			MaxPages:    opts.MaxPages,
			MaxAgeDays:  opts.MaxAgeDays,
			Incremental: opts.Incremental,
		}
		if opts.Incremental {
			watermark, err := o.sourceState.GetLastPubdate(ctx, adapter.Name())
			if err != nil {
				o.logger.Error().Err(err).Str("source", adapter.Name()).Msg("failed to read watermark")
			} else {
				collectOpts.LastPubdate = watermark
			}
		}

		sink := &storeSink{
			orchestrator: o,
			source:       adapter.Name(),
			group:        group,
			result:       &result,
		}

		o.logger.Info().Str("source", adapter.Name()).Str("group", string(group)).Msg("collecting source")

		if err := adapter.Collect(ctx, collectOpts, sink); err != nil {
			result.Errors++
			o.registry.Increment("ingestion_errors", 1, map[string]string{"source": adapter.Name()})
			o.logger.Error().Err(err).Str("source", adapter.Name()).Msg("source collection failed")
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
		}
	}

	if ran == 0 {
		o.logger.Warn().Str("group", string(group)).Msg("no adapters matched the requested sources")
	}

	o.logger.Info().
		Str("group", string(group)).
		Int("inserted", result.Inserted).
		Int("skipped", result.Skipped).
		Int("errors", result.Errors).
		Msg("ingestion group complete")

	return result, nil
}

// storeSink routes adapter batches into the store. One Save call corresponds
// to one page or API response; the watermark advances only after the batch's
// inserts succeeded (at-least-once semantics across crashes).
type storeSink struct {
	orchestrator *Orchestrator
	source       string
	group        domain.SourceGroup
	result       *Result
}

// Save persists one adapter batch.
func (s *storeSink) Save(ctx context.Context, incidents []domain.Incident) error {
	o := s.orchestrator
	labels := map[string]string{"source": s.source, "group": string(s.group)}

	maxPubdate := ""
	for i := range incidents {
		inc := &incidents[i]

		eventID := domain.StrOrEmpty(inc.SourceEventID)
		if eventID != "" {
			exists, err := o.sourceState.SourceEventExists(ctx, inc.Source, eventID)
			if err != nil {
				return fmt.Errorf("failed to check source event: %w", err)
			}
			if exists {
				s.result.Skipped++
				o.registry.Increment("ingestion_skipped", 1, labels)
				continue
			}
		}

		inserted, err := o.incidents.Insert(ctx, inc)
		if err != nil {
			return fmt.Errorf("failed to insert incident %s: %w", inc.IncidentID, err)
		}

		if eventID != "" {
			if err := o.sourceState.RegisterSourceEvent(ctx, inc.Source, eventID, inc.IncidentID, inc.IngestedAt); err != nil {
				return fmt.Errorf("failed to register source event: %w", err)
			}
		}

		if inserted {
			s.result.Inserted++
			o.registry.Increment("ingestion_incidents", 1, labels)
		} else {
			s.result.Skipped++
			o.registry.Increment("ingestion_skipped", 1, labels)
		}

		if pub := domain.StrOrEmpty(inc.SourcePublishedDate); pub > maxPubdate {
			maxPubdate = pub
		}
	}

	if maxPubdate != "" {
		if err := o.sourceState.SetLastPubdate(ctx, s.source, maxPubdate); err != nil {
			return fmt.Errorf("failed to advance watermark: %w", err)
		}
	}

	return nil
}
