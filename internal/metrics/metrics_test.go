package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	r.Increment("ingestion_incidents", 3, map[string]string{"source": "konbriefing", "group": "curated"})
	r.Increment("ingestion_incidents", 2, map[string]string{"group": "curated", "source": "konbriefing"})
	r.Increment("ingestion_incidents", 1, map[string]string{"source": "rss"})

	// Label order must not matter.
	assert.Equal(t, int64(5), r.Counter("ingestion_incidents", map[string]string{"source": "konbriefing", "group": "curated"}))
	assert.Equal(t, int64(1), r.Counter("ingestion_incidents", map[string]string{"source": "rss"}))
	assert.Equal(t, int64(0), r.Counter("ingestion_incidents", nil))
}

func TestGauges(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	r.SetGauge("unenriched_incidents", 42, nil)
	assert.Equal(t, 42.0, r.Gauge("unenriched_incidents", nil))

	r.SetGauge("unenriched_incidents", 7, nil)
	assert.Equal(t, 7.0, r.Gauge("unenriched_incidents", nil))
}

func TestTimer(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	r.StartTimer("rss_ingestion", nil)
	time.Sleep(5 * time.Millisecond)
	d := r.StopTimer("rss_ingestion", nil)
	assert.Greater(t, d, time.Duration(0))

	// stopping an unstarted timer is a no-op
	assert.Equal(t, time.Duration(0), r.StopTimer("never_started", nil))

	out := r.FormatPrometheus()
	assert.Contains(t, out, "rss_ingestion_duration_seconds_count 1")
}

func TestFormatPrometheus(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.Increment("enrichment_runs", 1, map[string]string{"status": "success"})
	r.Observe("llm_call_seconds", 1.5, nil)
	r.Observe("llm_call_seconds", 2.5, nil)

	out := r.FormatPrometheus()
	assert.Contains(t, out, "enrichment_runs{status=success} 1")
	assert.Contains(t, out, "llm_call_seconds_count 2")
	assert.Contains(t, out, "llm_call_seconds_sum 4")
	assert.True(t, strings.Contains(out, "# TYPE enrichment_runs counter"))
}

func TestReset(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.Increment("x", 1, nil)
	r.Reset()
	assert.Equal(t, int64(0), r.Counter("x", nil))
}
