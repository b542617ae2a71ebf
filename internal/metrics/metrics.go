package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: memoized answers served without touching upstream.
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of fresh cache hits.",
		},
	)

	// Counter: producer invocations (cache misses).
	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses that invoked a producer.",
		},
	)

	// Counter: callers that piggybacked on an in-flight producer.
	CacheCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_coalesced_waits_total",
			Help: "Total number of callers coalesced onto an in-flight fetch.",
		},
	)

	// Counter: hits on the shared (Redis) tier.
	StoreHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shared_store_hits_total",
			Help: "Total number of shared cache tier hits.",
		},
	)

	// Histogram: telemetry upstream latency in seconds.
	UpstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Telemetry API request latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"path", "status"},
	)

	// Histogram: backend HTTP latency in seconds.
	GatewayLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_latency_seconds",
			Help:    "HTTP request latency for the backend in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"path", "method", "status_code"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		CacheHitsTotal,
		CacheMissesTotal,
		CacheCoalescedTotal,
		StoreHitsTotal,
		UpstreamLatencySeconds,
		GatewayLatencySeconds,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures gateway latency for each HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		GatewayLatencySeconds.
			WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
