package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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

	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Dispatched downstream API calls by outcome.",
		},
		[]string{"api", "action", "outcome"},
	)

	upstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Downstream API call latencies in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"api", "action"},
	)

	tokenExchangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_exchanges_total",
			Help: "Client-credentials token exchanges by outcome.",
		},
		[]string{"outcome"},
	)

	remindersSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_sent_total",
			Help: "Missing-document reminders sent, by threshold.",
		},
		[]string{"threshold"},
	)

	reminderRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_runs_total",
			Help: "Reminder engine runs by outcome.",
		},
		[]string{"outcome"},
	)

	registerOnce sync.Once
)

var knownPaths = map[string]struct{}{
	"/":                  {},
	"/healthz":           {},
	"/readyz":            {},
	"/metrics":           {},
	"/api/sharepoint":    {},
	"/api/graph":         {},
	"/api/email":         {},
	"/api/twilio":        {},
	"/api/appenate":      {},
	"/api/claude":        {},
	"/api/data":          {},
	"/api/reminders/run": {},
}

// InitMetrics registers metrics in the default registry. Safe to call repeatedly.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			upstreamRequestsTotal, upstreamRequestDuration,
			tokenExchangesTotal, remindersSentTotal, reminderRunsTotal,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests for next.
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

// CanonicalPath strips the query and folds unknown routes into "other" so the
// path label stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	if _, ok := knownPaths[p]; ok {
		return p
	}
	return "other"
}

// ObserveUpstream records one dispatched downstream call.
func ObserveUpstream(api, action, outcome string, d time.Duration) {
	upstreamRequestsTotal.WithLabelValues(api, action, outcome).Inc()
	upstreamRequestDuration.WithLabelValues(api, action).Observe(d.Seconds())
}

// CountTokenExchange records one token exchange attempt.
func CountTokenExchange(outcome string) {
	tokenExchangesTotal.WithLabelValues(outcome).Inc()
}

// CountReminderSent records one reminder delivered at threshold.
func CountReminderSent(threshold string) {
	remindersSentTotal.WithLabelValues(threshold).Inc()
}

// CountReminderRun records a finished reminder run.
func CountReminderRun(outcome string) {
	reminderRunsTotal.WithLabelValues(outcome).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
