// Package metrics exposes Prometheus counters and gauges for one run's
// acquisition loop, grounded on pkg/monitoring/metrics.go's
// NewCounterVec/MustRegister/promhttp.Handler pattern from the example
// pack (the teacher itself only consumes Prometheus as a data source, it
// never exposes its own metrics).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric one acquisition program updates over its
// lifetime (§9 DOMAIN STACK).
type Registry struct {
	SamplesTaken     prometheus.Counter
	EventsDispatched *prometheus.CounterVec // label: controlName
	TriggersFired    *prometheus.CounterVec // label: triggerName
	CAErrors         *prometheus.CounterVec // label: kind (connect, get, put)
	SupervisorPings  *prometheus.CounterVec // label: result (ok, abort, timeout)
}

// New builds and registers a fresh Registry against reg. Callers in
// tests pass prometheus.NewRegistry(); cmd/ entrypoints pass
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		SamplesTaken: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sdds_samples_taken_total",
			Help: "Total number of ticks sampled by the Run Controller.",
		}),
		EventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sdds_events_dispatched_total",
			Help: "Total number of Events accepted by the Subscription Dispatcher, by control name.",
		}, []string{"controlName"}),
		TriggersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sdds_triggers_fired_total",
			Help: "Total number of capture sequences started, by trigger name.",
		}, []string{"triggerName"}),
		CAErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sdds_ca_errors_total",
			Help: "Total number of channel-access errors, by operation kind.",
		}, []string{"kind"}),
		SupervisorPings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sdds_supervisor_pings_total",
			Help: "Total number of supervisor pings, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(r.SamplesTaken, r.EventsDispatched, r.TriggersFired, r.CAErrors, r.SupervisorPings)
	return r
}

// Handler serves the registry's metrics in the Prometheus text exposition
// format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
