package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain counters.
var (
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Payment gateway webhook deliveries by outcome.",
		},
		[]string{"outcome"},
	)

	OrdersCancelledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Orders cancelled by the reconciliation job.",
	})

	PaymentsReconciledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payments_reconciled_total",
		Help: "Orders forward-corrected to paid by the reconciliation job.",
	})

	LockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_lockouts_total",
		Help: "Accounts locked out after repeated failed attempts.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		WebhookEventsTotal, OrdersCancelledTotal, PaymentsReconciledTotal, LockoutsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CanonicalPath collapses resource identifiers so metric cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	collapse := func(prefix []string, suffix ...string) bool {
		if len(parts) != len(prefix)+1+len(suffix) {
			return false
		}
		for i, p := range prefix {
			if parts[i] != p {
				return false
			}
		}
		for i, s := range suffix {
			if parts[len(prefix)+1+i] != s {
				return false
			}
		}
		return true
	}
	switch {
	case collapse([]string{"", "v1", "orders"}):
		return "/v1/orders/:id"
	case collapse([]string{"", "v1", "admin", "tickets"}):
		return "/v1/admin/tickets/:id"
	case collapse([]string{"", "v1", "admin", "coupons"}):
		return "/v1/admin/coupons/:id"
	case collapse([]string{"", "v1", "admin", "invites"}):
		return "/v1/admin/invites/:id"
	case collapse([]string{"", "v1", "admin", "users"}):
		return "/v1/admin/users/:id"
	}
	return path
}

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
