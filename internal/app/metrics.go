package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dkeye/whep/internal/core"
)

// Metrics collects session counters on a private registry so embedders
// can expose them without colliding with the process default registry.
type Metrics struct {
	registry *prometheus.Registry

	restarts       prometheus.Counter
	flowStalls     prometheus.Counter
	playbackStalls prometheus.Counter
	errors         *prometheus.CounterVec
	state          *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whep_session_restarts_total",
			Help: "Session restarts, recoverable errors and flow stalls combined.",
		}),
		flowStalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whep_flow_stalls_total",
			Help: "Flow monitor stall signals.",
		}),
		playbackStalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "whep_playback_stalls_total",
			Help: "Playback monitor stall signals.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "whep_errors_total",
			Help: "Errors surfaced to the error event, by kind.",
		}, []string{"kind"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "whep_lifecycle_state",
			Help: "Current lifecycle state, 1 for the active state.",
		}, []string{"state"}),
	}
	m.registry.MustRegister(m.restarts, m.flowStalls, m.playbackStalls, m.errors, m.state)
	m.setState(core.StateDiscovering)
	return m
}

// Registry exposes the private registry for the diagnostics console.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) setState(s core.State) {
	for _, st := range []core.State{
		core.StateDiscovering, core.StateRunning, core.StateRestarting,
		core.StateClosed, core.StateFailed,
	} {
		v := 0.0
		if st == s {
			v = 1.0
		}
		m.state.WithLabelValues(string(st)).Set(v)
	}
}

func (m *Metrics) countError(err error) {
	m.errors.WithLabelValues(string(core.KindOf(err))).Inc()
}
