package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexus-trading/poolwatch/internal/pipeline"
	"github.com/nexus-trading/poolwatch/internal/solana"
)

const namespace = "poolwatch"

// Metrics holds the pipeline collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	transitions *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	state       prometheus.Gauge
}

// NewMetrics registers the pipeline collectors plus Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by trigger and result.",
		}, []string{"trigger", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "transitions_total",
			Help:      "State machine transitions by target state.",
		}, []string{"to"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a run, excluding cooldown.",
			Buckets:   []float64{1, 5, 15, 30, 45, 60, 90, 120, 300},
		}, []string{"result"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "state",
			Help:      "Current state machine state (numeric).",
		}),
	}

	m.registry.MustRegister(
		m.runs,
		m.transitions,
		m.runDuration,
		m.state,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveTransition is a pipeline.TransitionHook.
func (m *Metrics) ObserveTransition(t pipeline.Transition) {
	m.transitions.WithLabelValues(t.To.String()).Inc()
	m.state.Set(float64(t.To))
}

// ObserveOutcome is a pipeline.OutcomeHook.
func (m *Metrics) ObserveOutcome(out pipeline.Outcome) {
	m.runs.WithLabelValues(string(out.Trigger), string(out.Result)).Inc()
	m.runDuration.WithLabelValues(string(out.Result)).Observe(out.Duration.Seconds())
}

// WSStatsSource is satisfied by *solana.WSMonitor.
type WSStatsSource interface {
	Stats() solana.WSStats
}

// RegisterWS exposes the subscription counters, read at scrape time.
func (m *Metrics) RegisterWS(src WSStatsSource) {
	counter := func(name, help string, fn func(solana.WSStats) int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: name, Help: help,
		}, func() float64 { return float64(fn(src.Stats())) })
	}

	m.registry.MustRegister(
		counter("messages_total", "Frames received from the log subscription.",
			func(s solana.WSStats) int64 { return s.MessagesRecv }),
		counter("pools_detected_total", "Pool-initialization events detected.",
			func(s solana.WSStats) int64 { return s.PoolsDetected }),
		counter("events_dropped_total", "Events dropped because the queue was full.",
			func(s solana.WSStats) int64 { return s.Dropped }),
		counter("reconnects_total", "Subscription reconnects.",
			func(s solana.WSStats) int64 { return s.Reconnects }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "connected",
			Help: "1 while the subscription is connected.",
		}, func() float64 {
			if src.Stats().Connected {
				return 1
			}
			return 0
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "queued_events",
			Help: "Detected events waiting for the pipeline.",
		}, func() float64 { return float64(src.Stats().Queued) }),
	)
}

// RegisterCounterFunc exposes an externally maintained counter.
func (m *Metrics) RegisterCounterFunc(subsystem, name, help string, fn func() int64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, func() float64 { return float64(fn()) }))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
