// Package metrics implements the in-process counter/gauge/histogram registry
// used by the ingestion and enrichment jobs. All updates are serialized
// through a single mutex; contention is negligible at pipeline rates.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registry collects counters, gauges, and histograms keyed by metric name
// plus an optional label set.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
	startTimes map[string]time.Time
	logger     zerolog.Logger
}

// NewRegistry creates an empty metrics registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
		startTimes: make(map[string]time.Time),
		logger:     logger,
	}
}

func makeKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%s=%s", k, labels[k])
	}
	b.WriteString("}")
	return b.String()
}

// Increment adds value to a counter.
func (r *Registry) Increment(name string, value int64, labels map[string]string) {
	key := makeKey(name, labels)

	r.mu.Lock()
	r.counters[key] += value
	total := r.counters[key]
	r.mu.Unlock()

	r.logger.Debug().Str("metric", key).Int64("delta", value).Int64("total", total).Msg("counter incremented")
}

// SetGauge sets a gauge to value.
func (r *Registry) SetGauge(name string, value float64, labels map[string]string) {
	key := makeKey(name, labels)

	r.mu.Lock()
	r.gauges[key] = value
	r.mu.Unlock()
}

// Observe records a histogram observation.
func (r *Registry) Observe(name string, value float64, labels map[string]string) {
	key := makeKey(name, labels)

	r.mu.Lock()
	r.histograms[key] = append(r.histograms[key], value)
	r.mu.Unlock()
}

// StartTimer marks the start of a duration measurement.
func (r *Registry) StartTimer(name string, labels map[string]string) {
	key := makeKey(name, labels)

	r.mu.Lock()
	r.startTimes[key] = time.Now()
	r.mu.Unlock()
}

// StopTimer ends a duration measurement, records it as a
// <name>_duration_seconds observation, and returns the elapsed duration.
// Returns zero when no matching StartTimer was seen.
func (r *Registry) StopTimer(name string, labels map[string]string) time.Duration {
	key := makeKey(name, labels)

	r.mu.Lock()
	start, ok := r.startTimes[key]
	if ok {
		delete(r.startTimes, key)
	}
	r.mu.Unlock()

	if !ok {
		return 0
	}

	elapsed := time.Since(start)
	r.Observe(name+"_duration_seconds", elapsed.Seconds(), labels)
	return elapsed
}

// Counter returns the current value of a counter.
func (r *Registry) Counter(name string, labels map[string]string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[makeKey(name, labels)]
}

// Gauge returns the current value of a gauge.
func (r *Registry) Gauge(name string, labels map[string]string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gauges[makeKey(name, labels)]
}

// FormatPrometheus renders all metrics in Prometheus text exposition format.
func (r *Registry) FormatPrometheus() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder

	counterKeys := sortedKeys(r.counters)
	for _, key := range counterKeys {
		fmt.Fprintf(&b, "# TYPE %s counter\n", baseName(key))
		fmt.Fprintf(&b, "%s %d\n", key, r.counters[key])
	}

	gaugeKeys := sortedKeys(r.gauges)
	for _, key := range gaugeKeys {
		fmt.Fprintf(&b, "# TYPE %s gauge\n", baseName(key))
		fmt.Fprintf(&b, "%s %g\n", key, r.gauges[key])
	}

	histKeys := sortedKeys(r.histograms)
	for _, key := range histKeys {
		values := r.histograms[key]
		if len(values) == 0 {
			continue
		}
		var sum float64
		for _, v := range values {
			sum += v
		}
		fmt.Fprintf(&b, "# TYPE %s summary\n", baseName(key))
		fmt.Fprintf(&b, "%s_count %d\n", key, len(values))
		fmt.Fprintf(&b, "%s_sum %g\n", key, sum)
	}

	return b.String()
}

// LogSummary logs a summary of all collected metrics.
func (r *Registry) LogSummary() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range sortedKeys(r.counters) {
		r.logger.Info().Str("metric", key).Int64("value", r.counters[key]).Msg("counter")
	}
	for _, key := range sortedKeys(r.gauges) {
		r.logger.Info().Str("metric", key).Float64("value", r.gauges[key]).Msg("gauge")
	}
	for _, key := range sortedKeys(r.histograms) {
		values := r.histograms[key]
		if len(values) == 0 {
			continue
		}
		var sum, minV, maxV float64
		minV = values[0]
		maxV = values[0]
		for _, v := range values {
			sum += v
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
		}
		r.logger.Info().
			Str("metric", key).
			Int("count", len(values)).
			Float64("avg", sum/float64(len(values))).
			Float64("min", minV).
			Float64("max", maxV).
			Msg("histogram")
	}
}

// Reset clears all collected metrics.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = make(map[string]int64)
	r.gauges = make(map[string]float64)
	r.histograms = make(map[string][]float64)
	r.startTimes = make(map[string]time.Time)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func baseName(key string) string {
	if i := strings.Index(key, "{"); i >= 0 {
		return key[:i]
	}
	return key
}
