package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

// Metrics carries its own registry so constructing a second instance
// (tests do) never trips duplicate registration.
type Metrics struct {
	Registry *prometheus.Registry

	TicksTotal       *prometheus.CounterVec
	FetchErrorsTotal *prometheus.CounterVec
	JobsCompleted    *prometheus.CounterVec
	WarsRecorded     prometheus.Counter
	PhaseGauge       *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		TicksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warsync_ticks_total",
			Help: "Clan ticks run, by result.",
		}, []string{"result"}),
		FetchErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warsync_fetch_errors_total",
			Help: "External fetch failures, by source.",
		}, []string{"source"}),
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warsync_reconcile_jobs_completed_total",
			Help: "Reconciliation jobs reaching a terminal status.",
		}, []string{"status"}),
		WarsRecorded: factory.NewCounter(prometheus.CounterOpts{
			Name: "warsync_wars_recorded_total",
			Help: "Settled wars written to history.",
		}),
		PhaseGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "warsync_clan_phase",
			Help: "Current war phase per clan (0 notInWar, 1 preparation, 2 inWar).",
		}, []string{"clan"}),
	}
}

var Module = fx.Provide(New)
