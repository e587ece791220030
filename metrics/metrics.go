// Package metrics provides Prometheus metrics for the script bridge.
//
// A Collector plugs into the other packages through their observer hooks:
//
//	m := metrics.New(prometheus.DefaultRegisterer, "scriptbridge")
//	reg := function.NewRegistry(function.WithObserver(m))
//	w := world.New(world.WithGuardOptions(access.WithObserver(m.ObserveConflict)))
//	mgr := lifecycle.NewManager(w, reg, src, lifecycle.WithListener(m))
//	m.TrackContexts(mgr)
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wippyai/scriptbridge/access"
	"github.com/wippyai/scriptbridge/function"
	"github.com/wippyai/scriptbridge/lifecycle"
)

// Collector holds all Prometheus metrics.
type Collector struct {
	// Access metrics
	AccessConflicts *prometheus.CounterVec

	// Function metrics
	FunctionCalls *prometheus.CounterVec
	Shadowed      prometheus.Counter

	// Lifecycle metrics
	Transitions  *prometheus.CounterVec
	ScriptErrors *prometheus.CounterVec

	factory   promauto.Factory
	namespace string
}

var (
	_ function.Observer  = (*Collector)(nil)
	_ lifecycle.Listener = (*Collector)(nil)
)

// New creates a collector with every metric registered on reg.
func New(reg prometheus.Registerer, namespace string) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		AccessConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "access_conflicts_total",
				Help:      "Total number of refused access claims",
			},
			[]string{"requested", "scope"},
		),

		FunctionCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "function_calls_total",
				Help:      "Total number of registered function calls by outcome",
			},
			[]string{"namespace", "function", "outcome"},
		),
		Shadowed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "function_shadowed_total",
				Help:      "Total number of registrations that replaced an existing function",
			},
		),

		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lifecycle_transitions_total",
				Help:      "Total number of attachment state transitions",
			},
			[]string{"to"},
		),
		ScriptErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "script_errors_total",
				Help:      "Total number of script errors by lifecycle stage",
			},
			[]string{"stage"},
		),

		factory:   factory,
		namespace: namespace,
	}
}

// ObserveConflict counts a refused claim. It has the shape of an
// access.Observer.
func (c *Collector) ObserveConflict(err *access.ConflictError) {
	scope := "root"
	if err.Global {
		scope = "world"
	}
	c.AccessConflicts.WithLabelValues(err.Requested.String(), scope).Inc()
}

func (c *Collector) OnCall(info function.Info, outcome function.Outcome) {
	c.FunctionCalls.WithLabelValues(info.Namespace.String(), info.Name, string(outcome)).Inc()
}

func (c *Collector) OnShadow(function.Info) {
	c.Shadowed.Inc()
}

func (c *Collector) OnTransition(_ lifecycle.Attachment, _, to lifecycle.State) {
	c.Transitions.WithLabelValues(to.String()).Inc()
}

func (c *Collector) OnError(ev lifecycle.ErrorEvent) {
	c.ScriptErrors.WithLabelValues(ev.Stage.String()).Inc()
}

// TrackContexts registers gauges reading live contexts and attachments
// from m at scrape time.
func (c *Collector) TrackContexts(m *lifecycle.Manager) {
	c.factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      "contexts",
			Help:      "Number of live script contexts",
		},
		func() float64 { return float64(len(m.Contexts())) },
	)
	c.factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      "attachments",
			Help:      "Number of tracked attachments",
		},
		func() float64 { return float64(len(m.Snapshot())) },
	)
}
