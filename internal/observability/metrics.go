// Package observability exposes the service's Prometheus metrics: HTTP
// request counters, upstream call latency, ingest pipeline outcomes, and
// result-cache hit/miss counts.
package observability

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var enabled atomic.Bool

// Init registers the package's collectors against r if isEnabled; a nil
// registerer or isEnabled=false leaves all Observe* calls as no-ops.
func Init(r prometheus.Registerer, isEnabled bool) {
	enabled.Store(isEnabled)
	if !isEnabled || r == nil {
		return
	}
	initCollectors(r)
}

// Enabled reports whether metrics collection is active.
func Enabled() bool { return enabled.Load() }

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	upstreamRequestsTotal      *prometheus.CounterVec
	upstreamLatencySeconds     *prometheus.HistogramVec
	upstreamBBoxSplitsTotal    *prometheus.CounterVec

	ingestLayersBuiltTotal   *prometheus.CounterVec
	ingestLayersSkippedTotal *prometheus.CounterVec
	ingestBuildDurationSeconds prometheus.Histogram
	ingestBuildBusyTotal     prometheus.Counter

	hotmapRebuildTotal          *prometheus.CounterVec
	hotmapRebuildDurationSeconds *prometheus.HistogramVec

	queryDurationSeconds *prometheus.HistogramVec

	resultCacheHitsTotal   *prometheus.CounterVec
	resultCacheMissesTotal *prometheus.CounterVec
)

func initCollectors(r prometheus.Registerer) {
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total number of HTTP requests."},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "Duration of HTTP requests in seconds.", Buckets: prometheus.ExponentialBuckets(0.005, 2, 12)},
		[]string{"method", "route", "status"},
	)

	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "upstream_requests_total", Help: "Total upstream geogrid requests by outcome."},
		[]string{"outcome"},
	)
	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "upstream_latency_seconds", Help: "Latency of upstream geogrid calls in seconds.", Buckets: prometheus.ExponentialBuckets(0.05, 2, 14)},
		[]string{"outcome"},
	)
	upstreamBBoxSplitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "upstream_bbox_splits_total", Help: "Number of recursive bbox splits triggered by too-many-cells responses."},
		[]string{"depth"},
	)

	ingestLayersBuiltTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ingest_layers_built_total", Help: "Layers written because their content hash changed (or force was set)."},
		[]string{"zoom"},
	)
	ingestLayersSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ingest_layers_skipped_total", Help: "Layers skipped because their content hash was unchanged."},
		[]string{"zoom"},
	)
	ingestBuildDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "ingest_build_duration_seconds", Help: "Wall-clock duration of a full pipeline build.", Buckets: prometheus.ExponentialBuckets(1, 2, 14)},
	)
	ingestBuildBusyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "ingest_build_busy_total", Help: "Count of build requests rejected because a build was already in progress."},
	)

	hotmapRebuildTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hotmap_rebuild_total", Help: "Count of hotmap rebuilds by (zoom, slot) key."},
		[]string{"zoom", "slot"},
	)
	hotmapRebuildDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "hotmap_rebuild_duration_seconds", Help: "Duration of a single rebuild_hotmap call.", Buckets: prometheus.ExponentialBuckets(0.01, 2, 12)},
		[]string{"zoom"},
	)

	queryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "query_duration_seconds", Help: "Duration of a query engine operation in seconds.", Buckets: prometheus.ExponentialBuckets(0.001, 2, 14)},
		[]string{"operation"},
	)

	resultCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "result_cache_hits_total", Help: "Result cache hits by tier."},
		[]string{"tier"},
	)
	resultCacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "result_cache_misses_total", Help: "Result cache misses."},
		[]string{"tier"},
	)

	r.MustRegister(
		httpRequestsTotal, httpRequestDurationSeconds,
		upstreamRequestsTotal, upstreamLatencySeconds, upstreamBBoxSplitsTotal,
		ingestLayersBuiltTotal, ingestLayersSkippedTotal, ingestBuildDurationSeconds, ingestBuildBusyTotal,
		hotmapRebuildTotal, hotmapRebuildDurationSeconds,
		queryDurationSeconds,
		resultCacheHitsTotal, resultCacheMissesTotal,
	)
}

// ObserveHTTP records one HTTP request's status and latency.
func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	if !enabled.Load() || httpRequestsTotal == nil {
		return
	}
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveUpstream records one upstream geogrid call's outcome and latency.
func ObserveUpstream(outcome string, durationSeconds float64) {
	if !enabled.Load() || upstreamRequestsTotal == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	upstreamRequestsTotal.WithLabelValues(outcome).Inc()
	upstreamLatencySeconds.WithLabelValues(outcome).Observe(durationSeconds)
}

// IncBBoxSplit records one recursive bbox split at the given recursion depth.
func IncBBoxSplit(depth int) {
	if !enabled.Load() || upstreamBBoxSplitsTotal == nil {
		return
	}
	upstreamBBoxSplitsTotal.WithLabelValues(strconv.Itoa(depth)).Inc()
}

// IncLayerBuilt records one layer written because its hash changed.
func IncLayerBuilt(zoom int) {
	if !enabled.Load() || ingestLayersBuiltTotal == nil {
		return
	}
	ingestLayersBuiltTotal.WithLabelValues(strconv.Itoa(zoom)).Inc()
}

// IncLayerSkipped records one layer skipped because its hash was unchanged.
func IncLayerSkipped(zoom int) {
	if !enabled.Load() || ingestLayersSkippedTotal == nil {
		return
	}
	ingestLayersSkippedTotal.WithLabelValues(strconv.Itoa(zoom)).Inc()
}

// ObserveBuildDuration records one full pipeline build's wall-clock time.
func ObserveBuildDuration(seconds float64) {
	if !enabled.Load() || ingestBuildDurationSeconds == nil {
		return
	}
	ingestBuildDurationSeconds.Observe(seconds)
}

// IncBuildBusy records one build request rejected because of a concurrent
// build in progress.
func IncBuildBusy() {
	if !enabled.Load() || ingestBuildBusyTotal == nil {
		return
	}
	ingestBuildBusyTotal.Inc()
}

// ObserveHotmapRebuild records one rebuild_hotmap call.
func ObserveHotmapRebuild(zoom, slot int, durationSeconds float64) {
	if !enabled.Load() || hotmapRebuildTotal == nil {
		return
	}
	z := strconv.Itoa(zoom)
	hotmapRebuildTotal.WithLabelValues(z, strconv.Itoa(slot)).Inc()
	hotmapRebuildDurationSeconds.WithLabelValues(z).Observe(durationSeconds)
}

// ObserveQuery records one query engine operation's latency.
func ObserveQuery(operation string, durationSeconds float64) {
	if !enabled.Load() || queryDurationSeconds == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	queryDurationSeconds.WithLabelValues(operation).Observe(durationSeconds)
}

// IncResultCacheHit records a result cache hit at the given tier (lru|redis).
func IncResultCacheHit(tier string) {
	if !enabled.Load() || resultCacheHitsTotal == nil {
		return
	}
	resultCacheHitsTotal.WithLabelValues(tier).Inc()
}

// IncResultCacheMiss records a result cache miss.
func IncResultCacheMiss(tier string) {
	if !enabled.Load() || resultCacheMissesTotal == nil {
		return
	}
	resultCacheMissesTotal.WithLabelValues(tier).Inc()
}
