package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const apiSubsystem = "api"

// unmatchedRoute labels requests chi could not route, such as probes of
// unknown paths.
const unmatchedRoute = "unmatched"

var (
	apiRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: apiSubsystem,
			Name:      "requests_total",
			Help:      "Dashboard API requests by route pattern and response status.",
		},
		[]string{"method", "route", "status"},
	)

	apiLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: apiSubsystem,
			Name:      "request_duration_seconds",
			Help:      "Time to serve a dashboard API request, including widget hydration on reads.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	apiResponseBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: apiSubsystem,
			Name:      "response_bytes_total",
			Help:      "Bytes of dashboard and widget payloads written to clients.",
		},
		[]string{"route"},
	)

	apiInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: apiSubsystem,
			Name:      "requests_in_flight",
			Help:      "Dashboard API requests currently being served.",
		},
	)
)

// Instrument records per-route request counts, latency and payload size for
// the dashboard API. Routes are labelled by chi pattern, not raw path, so
// dashboard and widget ids do not explode label cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiInFlight.Inc()
		defer apiInFlight.Dec()

		start := time.Now()
		rw := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := routePattern(r)
		apiRequests.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		apiLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		if rw.bytes > 0 {
			apiResponseBytes.WithLabelValues(route).Add(float64(rw.bytes))
		}
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return unmatchedRoute
}

type responseRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *responseRecorder) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseRecorder) Write(p []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
