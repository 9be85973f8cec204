package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh cycle outcomes, used as the "result" label.
const (
	RefreshSucceeded = "success"
	RefreshFailed    = "error"
	RefreshInvalid   = "invalid"
	RefreshSkipped   = "skipped"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tletrack_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tletrack_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tletrack_refresh_total",
			Help: "Refresh cycles by result.",
		},
		[]string{"result"},
	)

	refreshDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tletrack_refresh_duration_seconds",
			Help:    "Duration of refresh cycles in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
	)

	datasetRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tletrack_dataset_records",
			Help: "Number of satellite records in the stored dataset.",
		},
	)

	datasetFetchedAt = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tletrack_dataset_fetched_timestamp_seconds",
			Help: "Unix time at which the stored dataset was fetched.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		refreshTotal,
		refreshDurationSeconds,
		datasetRecords,
		datasetFetchedAt,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncRefresh counts one refresh cycle with the given result.
func IncRefresh(result string) {
	refreshTotal.WithLabelValues(result).Inc()
}

// ObserveRefreshDuration records how long a refresh cycle took.
func ObserveRefreshDuration(d time.Duration) {
	refreshDurationSeconds.Observe(d.Seconds())
}

// SetDatasetRecords sets the stored record count.
func SetDatasetRecords(n int) {
	datasetRecords.Set(float64(n))
}

// SetDatasetFetchedAt sets the fetch time of the stored dataset.
func SetDatasetFetchedAt(t time.Time) {
	datasetFetchedAt.Set(float64(t.Unix()))
}

// knownRoutes are served as their own label; everything else collapses to
// "other" so scanners can't inflate label cardinality.
var knownRoutes = map[string]bool{
	"/healthz":           true,
	"/readyz":            true,
	"/metrics":           true,
	"/satelite/track":    true,
	"/satelite/list":     true,
	"/satelite/metadata": true,
	"/satelite/refresh":  true,
}

func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	if len(path) > 1 && path[len(path)-1] == '/' && knownRoutes[path[:len(path)-1]] {
		return path[:len(path)-1]
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := normalizeRoute(r.URL.Path)
		code := strconv.Itoa(rw.statusCode)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
