package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	eventsPublishedTotal     atomic.Uint64
	eventsPublishFailedTotal atomic.Uint64
	eventsReceivedTotal      atomic.Uint64
	eventsCompletedTotal     atomic.Uint64
	eventsFailedTotal        atomic.Uint64
	eventsDeadLetteredTotal  atomic.Uint64

	cacheHitsTotal   atomic.Uint64
	cacheMissesTotal atomic.Uint64

	analysisCompletedTotal atomic.Uint64
	analysisFailedTotal    atomic.Uint64
	engineFallbackTotal    atomic.Uint64

	httpPanicsTotal  atomic.Uint64
	rateLimitedTotal atomic.Uint64

	analysisDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000})
)

// IncEventsPublished counts events accepted by the event channel.
func IncEventsPublished() { eventsPublishedTotal.Add(1) }

// IncEventsPublishFailed counts events the producer could not hand to the channel.
func IncEventsPublishFailed() { eventsPublishFailedTotal.Add(1) }

// IncEventsReceived counts deliveries pulled by the worker.
func IncEventsReceived() { eventsReceivedTotal.Add(1) }

// IncEventsCompleted counts deliveries processed and acknowledged.
func IncEventsCompleted() { eventsCompletedTotal.Add(1) }

// IncEventsFailed counts processing attempts that returned an error.
func IncEventsFailed() { eventsFailedTotal.Add(1) }

// IncEventsDeadLettered counts deliveries moved to the dead-letter topic.
func IncEventsDeadLettered() { eventsDeadLetteredTotal.Add(1) }

// IncCacheHit increments the cache hit counter.
func IncCacheHit() { cacheHitsTotal.Add(1) }

// IncCacheMiss increments the cache miss counter.
func IncCacheMiss() { cacheMissesTotal.Add(1) }

// IncAnalysisCompleted increments the completed counter.
func IncAnalysisCompleted() { analysisCompletedTotal.Add(1) }

// IncAnalysisFailed increments the failed counter.
func IncAnalysisFailed() { analysisFailedTotal.Add(1) }

// IncEngineFallback counts analyses that fell back to the safe default result.
func IncEngineFallback() { engineFallbackTotal.Add(1) }

// IncHTTPPanics counts handler panics caught by the recovery middleware.
func IncHTTPPanics() { httpPanicsTotal.Add(1) }

// IncRateLimited counts requests rejected with 429.
func IncRateLimited() { rateLimitedTotal.Add(1) }

// ObserveAnalysisDurationMs records an analysis duration in milliseconds.
func ObserveAnalysisDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	analysisDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "events_published_total", "Events accepted by the event channel", eventsPublishedTotal.Load())
	writeCounter(&buf, "events_publish_failed_total", "Events that could not be published", eventsPublishFailedTotal.Load())
	writeCounter(&buf, "events_received_total", "Events delivered to the worker", eventsReceivedTotal.Load())
	writeCounter(&buf, "events_completed_total", "Events processed and acknowledged", eventsCompletedTotal.Load())
	writeCounter(&buf, "events_failed_total", "Event processing attempts that failed", eventsFailedTotal.Load())
	writeCounter(&buf, "events_dead_lettered_total", "Events moved to the dead-letter topic", eventsDeadLetteredTotal.Load())
	writeCounter(&buf, "cache_hits_total", "Cache lookups served from cache", cacheHitsTotal.Load())
	writeCounter(&buf, "cache_misses_total", "Cache lookups that missed", cacheMissesTotal.Load())
	writeCounter(&buf, "analysis_completed_total", "Total analyses completed", analysisCompletedTotal.Load())
	writeCounter(&buf, "analysis_failed_total", "Total analyses failed", analysisFailedTotal.Load())
	writeCounter(&buf, "engine_fallback_total", "Analyses that used the fallback result", engineFallbackTotal.Load())
	writeCounter(&buf, "http_panics_total", "Handler panics recovered", httpPanicsTotal.Load())
	writeCounter(&buf, "http_rate_limited_total", "Requests rejected by the rate limiter", rateLimitedTotal.Load())
	writeHistogram(&buf, "analysis_duration_ms", "Analysis duration in milliseconds", analysisDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe places value in the first bucket whose bound is not below it.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
