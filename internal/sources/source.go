// Package sources defines the adapter contract shared by all collectors.
// Adapters turn upstream providers (curated listings, news search, APIs, RSS
// feeds) into normalized incident records and hand them to a Sink
// incrementally so long page walks persist partial progress.
package sources

import (
	"context"
	"fmt"

	"github.com/eduthreat/cti-pipeline/internal/domain"
)

// Sink receives batches of collected incidents, typically once per paginated
// page or API response. The ingestion orchestrator provides the store-backed
// implementation; tests use an in-memory one.
type Sink interface {
	Save(ctx context.Context, incidents []domain.Incident) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, incidents []domain.Incident) error

// Save calls the wrapped function.
func (f SinkFunc) Save(ctx context.Context, incidents []domain.Incident) error {
	return f(ctx, incidents)
}

// CollectOptions tunes one collection run.
type CollectOptions struct {
	// MaxPages bounds pagination walks; 0 walks every page.
	MaxPages int
	// MaxAgeDays bounds RSS item age; 0 uses the adapter default.
	MaxAgeDays int
	// Incremental skips items at or before the source's watermark.
	Incremental bool
	// LastPubdate is the source watermark (YYYY-MM-DD) for incremental runs;
	// supplied by the orchestrator.
	LastPubdate string
}

// Adapter is a single upstream collector.
type Adapter interface {
	// Name is the stable source identifier used in incident ids, source
	// events, and watermarks.
	Name() string
	Group() domain.SourceGroup
	// Collect streams normalized incidents into sink. Errors abort only this
	// adapter; the orchestrator continues with remaining sources.
	Collect(ctx context.Context, opts CollectOptions, sink Sink) error
}

// CaptchaError aborts a keyword or page walk when the target serves a
// CAPTCHA. Other sources are unaffected.
type CaptchaError struct {
	Source  string
	Target  string
	Keyword string
}

func (e *CaptchaError) Error() string {
	if e.Keyword != "" {
		return fmt.Sprintf("captcha detected on %s (keyword %q, target %s)", e.Source, e.Keyword, e.Target)
	}
	return fmt.Sprintf("captcha detected on %s (target %s)", e.Source, e.Target)
}

// NewsKeywords is the default keyword set for search-driven news adapters.
var NewsKeywords = []string{
	"university",
	"universities",
	"school",
	"college",
	"campus",
	"education",
	"academy",
}

// EducationKeywords identifies education-sector incidents in headlines and
// feed items. Kept minimal to avoid false positives.
var EducationKeywords = []string{
	"university",
	"college",
	"school district",
	"school board",
	"student data",
	"student records",
	"student information",
	"faculty",
	"alumni",
	"k-12",
	"k12",
	"high school",
	"elementary school",
	"middle school",
	"campus",
	"higher education",
	"research institute",
	"research university",
	"academic research",
	"department of education",
	"ministry of education",
	"public schools",
}
