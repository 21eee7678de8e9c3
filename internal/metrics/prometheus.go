package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "hl_perp_trader"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
	outcomes *prometheus.CounterVec
	events   *prometheus.CounterVec
	duration prometheus.Histogram
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "order_outcomes_total",
		Help:      "Terminal order attempt outcomes by kind.",
	}, []string{"outcome"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "engine_events_total",
		Help:      "Notable engine events: tick retries, leverage failures, invariant violations, sink failures, stale quotes.",
	}, []string{"event"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: promNamespace,
		Name:      "attempt_duration_seconds",
		Help:      "Wall time from confirmation to terminal outcome.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	registry.MustRegister(outcomes, events, duration)

	outcome := func(kind string) Counter { return promCounter{outcomes.WithLabelValues(kind)} }
	event := func(name string) Counter { return promCounter{events.WithLabelValues(name)} }
	m := &Metrics{
		OrdersFilled:        outcome("filled"),
		OrdersResting:       outcome("resting"),
		OrdersRejected:      outcome("rejected"),
		TransportErrors:     outcome("transport_error"),
		TimedOut:            outcome("timed_out"),
		TickRetries:         event("tick_retry"),
		LeverageFailures:    event("leverage_failure"),
		InvariantViolations: event("invariant_violation"),
		SinkFailures:        event("sink_failure"),
		StaleQuotes:         event("stale_quote"),
		AttemptSeconds:      duration,
	}

	return &Prometheus{
		Metrics:  m,
		registry: registry,
		outcomes: outcomes,
		events:   events,
		duration: duration,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
