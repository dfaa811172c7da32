// Package metrics exposes thread lifecycle notifications as Prometheus
// metrics. Observer implements core.Observer and can be passed through
// core.StartOptions or registry.WithObserver.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/headlesscoder/core"
)

// Options configures the collector names.
type Options struct {
	// Namespace prefixes every metric name.
	Namespace string
	// DurationBuckets are the run duration histogram buckets in seconds.
	DurationBuckets []float64
}

// Observer records runs, events and durations per provider.
type Observer struct {
	// RunsStarted counts runs that began
	RunsStarted *prometheus.CounterVec
	// RunsFinished counts runs by outcome
	RunsFinished *prometheus.CounterVec
	// RunDuration tracks how long runs take
	RunDuration *prometheus.HistogramVec
	// ActiveRuns tracks runs currently in flight
	ActiveRuns *prometheus.GaugeVec
	// Events counts emitted events by type
	Events *prometheus.CounterVec
	// Tokens counts reported tokens by kind
	Tokens *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, optFns ...func(o *Options)) *Observer {
	opts := Options{
		Namespace:       "headless_coder",
		DurationBuckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Observer{
		RunsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runs started",
			},
			[]string{"provider"},
		),
		RunsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Name:      "runs_finished_total",
				Help:      "Total number of finished runs by outcome",
			},
			[]string{"provider", "outcome"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: opts.Namespace,
				Name:      "run_duration_seconds",
				Help:      "Run duration in seconds",
				Buckets:   opts.DurationBuckets,
			},
			[]string{"provider", "outcome"},
		),
		ActiveRuns: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: opts.Namespace,
				Name:      "active_runs",
				Help:      "Number of runs in flight",
			},
			[]string{"provider"},
		),
		Events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Name:      "events_total",
				Help:      "Total number of stream events by type",
			},
			[]string{"provider", "type"},
		),
		Tokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Name:      "tokens_total",
				Help:      "Total number of tokens reported by backends",
			},
			[]string{"provider", "kind"},
		),
	}
}

// RunStarted implements core.Observer.
func (o *Observer) RunStarted(provider core.CoderType) {
	p := string(provider)
	o.RunsStarted.WithLabelValues(p).Inc()
	o.ActiveRuns.WithLabelValues(p).Inc()
}

// EventEmitted implements core.Observer.
func (o *Observer) EventEmitted(provider core.CoderType, ev core.Event) {
	p := string(provider)
	o.Events.WithLabelValues(p, string(ev.Type)).Inc()

	if ev.Type == core.EventUsage && ev.Usage != nil {
		o.Tokens.WithLabelValues(p, "input").Add(float64(ev.Usage.InputTokens))
		o.Tokens.WithLabelValues(p, "cached_input").Add(float64(ev.Usage.CachedInputTokens))
		o.Tokens.WithLabelValues(p, "output").Add(float64(ev.Usage.OutputTokens))
	}
}

// RunFinished implements core.Observer.
func (o *Observer) RunFinished(provider core.CoderType, outcome core.RunOutcome, elapsed time.Duration) {
	p := string(provider)
	o.ActiveRuns.WithLabelValues(p).Dec()
	o.RunsFinished.WithLabelValues(p, string(outcome)).Inc()
	o.RunDuration.WithLabelValues(p, string(outcome)).Observe(elapsed.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler for g. A nil g uses
// prometheus.DefaultGatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

var _ core.Observer = (*Observer)(nil)
