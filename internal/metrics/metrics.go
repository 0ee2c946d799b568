package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	GeneratorCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkup_generator_calls_total",
			Help: "Generator calls by purpose (question, report, insight) and outcome",
		},
		[]string{"purpose", "outcome"},
	)

	CheckupsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkup_reports_published_total",
			Help: "Checkup reports appended to a subject's history",
		},
		[]string{"mode"},
	)

	ScoreMismatches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "checkup_score_mismatch_total",
		Help: "Reports where the generator restated a total different from the computed one",
	})

	PublishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "checkup_publish_failures_total",
		Help: "Failed attempts to append a report to the store",
	})

	MoodScans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mood_scans_total",
			Help: "Recorded webcam mood scans by dominant mood",
		},
		[]string{"mood"},
	)
)

// Init registers all collectors with the default registry.
func Init() {
	prometheus.MustRegister(
		RequestCounter,
		RequestDuration,
		GeneratorCalls,
		CheckupsCompleted,
		ScoreMismatches,
		PublishFailures,
		MoodScans,
	)
}

// Middleware records request count and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		RequestCounter.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the Prometheus exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
