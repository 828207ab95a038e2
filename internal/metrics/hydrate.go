package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dashboards"

var (
	hydrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hydrations_total",
			Help:      "Widget hydrations by widget type and outcome.",
		},
		[]string{"widget_type", "outcome"},
	)

	hydrationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hydration_duration_seconds",
			Help:      "Time to hydrate one widget, gateway call included.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"widget_type"},
	)

	gatewayCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Query gateway calls by datasource and result.",
		},
		[]string{"datasource", "result"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per datasource (0 closed, 1 open, 2 half-open).",
		},
		[]string{"datasource"},
	)

	refreshRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_refreshes_total",
			Help:      "Dashboards refreshed by the scheduler, by result.",
		},
		[]string{"result"},
	)
)

// ObserveHydration records one widget hydration.
func ObserveHydration(widgetType, outcome string, d time.Duration) {
	hydrationsTotal.WithLabelValues(widgetType, outcome).Inc()
	hydrationDuration.WithLabelValues(widgetType).Observe(d.Seconds())
}

// ObserveGatewayCall records one gateway call. result is "ok", "query_error",
// "error" or "rejected".
func ObserveGatewayCall(datasource, result string) {
	gatewayCallsTotal.WithLabelValues(datasource, result).Inc()
}

// SetBreakerState publishes the breaker state for a datasource.
func SetBreakerState(datasource string, state int) {
	breakerState.WithLabelValues(datasource).Set(float64(state))
}

// ObserveScheduledRefresh records one scheduler refresh.
func ObserveScheduledRefresh(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	refreshRunsTotal.WithLabelValues(result).Inc()
}
