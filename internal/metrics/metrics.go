// Package metrics exposes prometheus collectors for supervisor activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/eliteGoblin/focusd/bgsvc/internal/domain"
)

// Metrics holds all supervisor collectors.
type Metrics struct {
	// Lifecycle
	State        *prometheus.GaugeVec
	Boots        prometheus.Counter
	BootFailures *prometheus.CounterVec
	Restarts     *prometheus.CounterVec

	// Worker channel
	WorkerCalls *prometheus.CounterVec

	// Clients
	ClientsAttached prometheus.Gauge
	Deliveries      *prometheus.CounterVec
}

var allStates = []domain.SupervisorState{
	domain.StateStopped,
	domain.StateStarting,
	domain.StateRunning,
	domain.StateManuallyStopping,
	domain.StateCrashedPendingRestart,
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		State: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bgsvc_supervisor_state",
				Help: "1 for the current supervisor state, 0 otherwise",
			},
			[]string{"state"},
		),
		Boots: f.NewCounter(
			prometheus.CounterOpts{
				Name: "bgsvc_worker_boots_total",
				Help: "Worker sessions booted",
			},
		),
		BootFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bgsvc_worker_boot_failures_total",
				Help: "Worker boots that failed",
			},
			[]string{"reason"},
		),
		Restarts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bgsvc_watchdog_restarts_scheduled_total",
				Help: "Watchdog restarts scheduled",
			},
			[]string{"reason"},
		),
		WorkerCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bgsvc_worker_calls_total",
				Help: "Worker-to-supervisor method calls",
			},
			[]string{"method", "status"},
		),
		ClientsAttached: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "bgsvc_clients_attached",
				Help: "Clients currently bound",
			},
		),
		Deliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bgsvc_broadcast_deliveries_total",
				Help: "Per-client broadcast deliveries",
			},
			[]string{"kind", "outcome"},
		),
	}
}

// SetState marks s as the current state.
func (m *Metrics) SetState(s domain.SupervisorState) {
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		m.State.WithLabelValues(st.String()).Set(v)
	}
}
