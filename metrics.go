package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Commits         *prometheus.CounterVec
	Callbacks       *prometheus.CounterVec
	SPFScheduled    *prometheus.CounterVec
	SPFRuns         prometheus.Counter
	ABRRuns         prometheus.Counter
	ASBRUpdates     *prometheus.CounterVec
	CostRecomputes  prometheus.Counter
	RunningEntries  prometheus.Gauge
	RequestsHandled *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Commits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ospfnbd",
			Name:      "commits_total",
			Help:      "Configuration commits by result.",
		}, []string{"result"}),
		Callbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ospfnbd",
			Name:      "callbacks_total",
			Help:      "Northbound callbacks by phase and result.",
		}, []string{"phase", "result"}),
		SPFScheduled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ospfnbd",
			Name:      "spf_scheduled_total",
			Help:      "SPF schedule requests by reason, including coalesced ones.",
		}, []string{"reason"}),
		SPFRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ospfnbd",
			Name:      "spf_runs_total",
			Help:      "SPF calculations handed to the protocol engine.",
		}),
		ABRRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ospfnbd",
			Name:      "abr_task_runs_total",
			Help:      "Area border router tasks handed to the protocol engine.",
		}),
		ASBRUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ospfnbd",
			Name:      "asbr_updates_total",
			Help:      "External route updates by redistributed route type.",
		}, []string{"type"}),
		CostRecomputes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ospfnbd",
			Name:      "interface_cost_changes_total",
			Help:      "Interface output cost changes.",
		}),
		RunningEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ospfnbd",
			Name:      "bound_entries",
			Help:      "Configuration nodes bound to runtime objects.",
		}),
		RequestsHandled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ospfnbd",
			Name:      "requests_total",
			Help:      "Edit requests received through the store by result.",
		}, []string{"result"}),
	}
}
