// Package metrics provides Prometheus metrics for the file explorer.
package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"file-explorer/logging"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "file_explorer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "file_explorer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	listingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "file_explorer_listings_total",
			Help: "Directory listings served",
		},
		[]string{"status"},
	)

	listingEntriesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "file_explorer_listing_entries_dropped_total",
			Help: "Entries dropped from listings because stat or hashing failed",
		},
	)

	hashLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "file_explorer_hash_cache_lookups_total",
			Help: "Content hash lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	hashCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "file_explorer_hash_cache_entries",
			Help: "Number of memoized content hashes",
		},
	)

	bytesStreamed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "file_explorer_bytes_served_total",
			Help: "Bytes handed to clients by kind (stream, download, archive)",
		},
		[]string{"kind"},
	)

	archiveJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "file_explorer_archive_jobs_total",
			Help: "Archive jobs by terminal status",
		},
		[]string{"status"},
	)

	archiveJobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "file_explorer_archive_jobs_active",
			Help: "Archive jobs currently running",
		},
	)

	archiveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "file_explorer_archive_duration_seconds",
			Help:    "Time to build an archive",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		},
	)

	archivesRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "file_explorer_archives_removed_total",
			Help: "Expired archives removed by the janitor",
		},
		[]string{"result"},
	)

	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "file_explorer_auth_attempts_total",
			Help: "Login attempts by result",
		},
		[]string{"result"},
	)
)

// Handler exposes the default registry as a fiber handler.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// Middleware records request counts and latency per matched route.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := logging.ResponseStatus(c, err)

		route := c.Route().Path
		httpRequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())

		return err
	}
}

func RecordListing(ok bool) {
	listingsTotal.WithLabelValues(result(ok)).Inc()
}

func RecordDroppedEntry() {
	listingEntriesDropped.Inc()
}

func RecordHashLookup(res string) {
	hashLookups.WithLabelValues(res).Inc()
}

func SetHashCacheEntries(n int) {
	hashCacheEntries.Set(float64(n))
}

func RecordBytesServed(kind string, n int64) {
	bytesStreamed.WithLabelValues(kind).Add(float64(n))
}

func ArchiveStarted() {
	archiveJobsActive.Inc()
}

func ArchiveFinished(status string, d time.Duration) {
	archiveJobsActive.Dec()
	archiveJobsTotal.WithLabelValues(status).Inc()
	archiveDuration.Observe(d.Seconds())
}

func RecordArchiveRemoved(ok bool) {
	archivesRemoved.WithLabelValues(result(ok)).Inc()
}

func RecordAuthAttempt(ok bool) {
	authAttemptsTotal.WithLabelValues(result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
