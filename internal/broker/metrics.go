package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors the teacher's promauto-vector registration style
// (internal/escrow/metrics.go) scoped to the router's counters.
type Metrics struct {
	EventsTouched       prometheus.Counter
	EventsRouted        prometheus.Counter
	EventsDropped       prometheus.Counter
	RateLimitRejections prometheus.Counter
	OverloadTrips       prometheus.Counter
	PendingControlGauge prometheus.Gauge
}

// NewMetrics registers the broker's counters against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the process
// default registry across repeated construction.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsTouched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "aria_bridge",
			Subsystem: "router",
			Name:      "events_touched_total",
			Help:      "Bridge events that reached the routing predicate.",
		}),
		EventsRouted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "aria_bridge",
			Subsystem: "router",
			Name:      "events_routed_total",
			Help:      "Event deliveries to a consumer (one event to N consumers counts N times).",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "aria_bridge",
			Subsystem: "router",
			Name:      "events_dropped_total",
			Help:      "Events that matched zero consumers.",
		}),
		RateLimitRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "aria_bridge",
			Subsystem: "router",
			Name:      "screenshot_rate_limit_rejections_total",
			Help:      "Screenshot events rejected by the per-bridge rate limit.",
		}),
		OverloadTrips: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "aria_bridge",
			Subsystem: "router",
			Name:      "overload_window_trips_total",
			Help:      "Times the rolling overload window became saturated.",
		}),
		PendingControlGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "aria_bridge",
			Subsystem: "control",
			Name:      "pending_requests",
			Help:      "Control requests currently awaiting a result.",
		}),
	}
}
