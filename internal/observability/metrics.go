package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters and gauges for the worker hot path. All collectors register on the
// default registry and are served by the metrics listener in internal/runtime.
var (
	MessagesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screenshot",
		Name:      "messages_handled_total",
		Help:      "Queue messages handled, by terminal outcome.",
	}, []string{"outcome"})

	MessageSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "screenshot",
		Name:      "message_skips_total",
		Help:      "Messages acknowledged without work, by skip reason.",
	}, []string{"reason"})

	StaleTakeovers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "screenshot",
		Name:      "stale_takeovers_total",
		Help:      "Requests re-claimed from a presumed-dead worker.",
	})

	RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "screenshot",
		Name:      "render_duration_seconds",
		Help:      "Wall time of a single page render.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45},
	})

	InflightHandlers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "screenshot",
		Name:      "inflight_handlers",
		Help:      "Message handlers currently running.",
	})

	RequestsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "screenshot",
		Name:      "requests_by_status",
		Help:      "Sampled count of request records, by status.",
	}, []string{"status"})
)
