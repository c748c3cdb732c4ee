package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the dial engine. It is
// injected, not global; construct once in main and pass down.
type Metrics struct {
	CallsPlacedTotal      *prometheus.CounterVec
	CallsTerminalTotal    *prometheus.CounterVec
	DispatchFailuresTotal *prometheus.CounterVec
	WebhookEventsTotal    *prometheus.CounterVec
	DuplicateEventsTotal  prometheus.Counter
	StaleTransitionsTotal prometheus.Counter
	SweepForcedTotal      prometheus.Counter

	CallsInFlight *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with all instruments registered on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		CallsPlacedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outdial_calls_placed_total",
				Help: "Total number of outbound calls dispatched to the provider",
			},
			[]string{"campaign"},
		),
		CallsTerminalTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outdial_calls_terminal_total",
				Help: "Total number of calls that reached a terminal status",
			},
			[]string{"campaign", "outcome"},
		),
		DispatchFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outdial_dispatch_failures_total",
				Help: "Total number of provider placement rejections",
			},
			[]string{"campaign"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outdial_webhook_events_total",
				Help: "Total number of webhook events received by type",
			},
			[]string{"type"},
		),
		DuplicateEventsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "outdial_duplicate_events_total",
				Help: "Total number of duplicate webhook deliveries accepted as no-ops",
			},
		),
		StaleTransitionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "outdial_stale_transitions_total",
				Help: "Total number of out-of-order status transitions discarded",
			},
		),
		SweepForcedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "outdial_sweep_forced_total",
				Help: "Total number of stuck calls force-finalized by the sweeper",
			},
		),
		CallsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "outdial_calls_in_flight",
				Help: "Calls currently occupying a concurrency slot",
			},
			[]string{"campaign"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.CallsPlacedTotal,
		m.CallsTerminalTotal,
		m.DispatchFailuresTotal,
		m.WebhookEventsTotal,
		m.DuplicateEventsTotal,
		m.StaleTransitionsTotal,
		m.SweepForcedTotal,
		m.CallsInFlight,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
