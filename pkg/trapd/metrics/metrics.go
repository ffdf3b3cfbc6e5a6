// Package metrics exposes the pipeline's operational counters as Prometheus
// collectors behind a small Recorder interface, so StormGuard, the
// Persister, and the Dispatcher (which also counts filter matches) record
// through an injected dependency rather than a package-level global registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the subset of metrics operations the pipeline components need.
// A nil Recorder is never passed around; use NewNoop for tests and for
// callers that don't want metrics wired up.
type Recorder interface {
	IncTrapsReceived(source string)
	IncTrapsDropped(reason string)
	IncTrapsFiltered()
	IncPersisted()
	IncPersistErrors()
	IncForwardErrors()
	IncSilenceEvents()
	SetActiveSilences(n int)
}

// Registry is the Prometheus-backed Recorder implementation. Construct one
// per process with New and serve Handler() on an admin HTTP mux.
type Registry struct {
	trapsReceived  *prometheus.CounterVec
	trapsDropped   *prometheus.CounterVec
	trapsFiltered  prometheus.Counter
	persisted      prometheus.Counter
	persistErrors  prometheus.Counter
	forwardErrors  prometheus.Counter
	silenceEvents  prometheus.Counter
	activeSilences prometheus.Gauge
}

// New creates a Registry and registers its collectors with reg. Pass
// prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer to expose on the process-wide default handler.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		trapsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trapd_traps_received_total",
			Help: "Total traps read from tailed log files, by source.",
		}, []string{"source"}),
		trapsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trapd_traps_dropped_total",
			Help: "Total traps dropped before persistence, by reason.",
		}, []string{"reason"}),
		trapsFiltered: factory.NewCounter(prometheus.CounterOpts{
			Name: "trapd_traps_filtered_total",
			Help: "Total traps dropped because they matched a filter group.",
		}),
		persisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "trapd_traps_persisted_total",
			Help: "Total traps successfully inserted into the trap store.",
		}),
		persistErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "trapd_persist_errors_total",
			Help: "Total trap store insert failures.",
		}),
		forwardErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "trapd_forward_errors_total",
			Help: "Total downstream forwarding failures.",
		}),
		silenceEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "trapd_storm_silence_events_total",
			Help: "Total storm-silencing transitions emitted.",
		}),
		activeSilences: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trapd_storm_active_silences",
			Help: "Number of sources currently silenced by storm protection.",
		}),
	}
}

func (r *Registry) IncTrapsReceived(source string) { r.trapsReceived.WithLabelValues(source).Inc() }
func (r *Registry) IncTrapsDropped(reason string)  { r.trapsDropped.WithLabelValues(reason).Inc() }
func (r *Registry) IncTrapsFiltered()              { r.trapsFiltered.Inc() }
func (r *Registry) IncPersisted()                  { r.persisted.Inc() }
func (r *Registry) IncPersistErrors()              { r.persistErrors.Inc() }
func (r *Registry) IncForwardErrors()              { r.forwardErrors.Inc() }
func (r *Registry) IncSilenceEvents()              { r.silenceEvents.Inc() }
func (r *Registry) SetActiveSilences(n int)        { r.activeSilences.Set(float64(n)) }

// Handler returns the HTTP handler to mount at /metrics.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Noop is a Recorder that discards everything. Used by components and tests
// that don't care about metrics.
type Noop struct{}

func NewNoop() Noop { return Noop{} }

func (Noop) IncTrapsReceived(string)  {}
func (Noop) IncTrapsDropped(string)   {}
func (Noop) IncTrapsFiltered()        {}
func (Noop) IncPersisted()            {}
func (Noop) IncPersistErrors()        {}
func (Noop) IncForwardErrors()        {}
func (Noop) IncSilenceEvents()        {}
func (Noop) SetActiveSilences(int)    {}
