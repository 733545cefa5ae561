package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "schedule"
	metricsSubsystem = "worker"
)

// Metrics of the coordination cycle, labeled by the task type.
type Metrics struct {
	ticks           *prometheus.CounterVec
	tickDuration    *prometheus.HistogramVec
	registrations   *prometheus.CounterVec
	leader          *prometheus.GaugeVec
	assignedItems   *prometheus.CounterVec
	releasedItems   *prometheus.CounterVec
	ownedItems      *prometheus.GaugeVec
	sweptServers    *prometheus.CounterVec
	sweptDomains    *prometheus.CounterVec
	clearedOwners   *prometheus.CounterVec
	executorUpdates *prometheus.CounterVec
}

// NewMetrics registers the metrics, the prometheus.DefaultRegisterer is used if the reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "ticks_total",
			Help:      "Total coordination cycles by result (success, error).",
		}, []string{"task_type", "result"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "tick_duration_seconds",
			Help:      "Duration of a coordination cycle in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"task_type"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "registrations_total",
			Help:      "Total server registrations, including re-registrations after a lost session.",
		}, []string{"task_type"}),
		leader: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "leader",
			Help:      "The server is the leader of the domain (1) or not (0).",
		}, []string{"task_type"}),
		assignedItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "assigned_items_total",
			Help:      "Total task items changed by the leader by kind (assigned, requested).",
		}, []string{"task_type", "kind"}),
		releasedItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "released_items_total",
			Help:      "Total task items handed over to another server.",
		}, []string{"task_type"}),
		ownedItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "owned_items",
			Help:      "Current number of task items owned by the server.",
		}, []string{"task_type"}),
		sweptServers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "swept_servers_total",
			Help:      "Total expired servers removed.",
		}, []string{"task_type"}),
		sweptDomains: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "swept_domains_total",
			Help:      "Total expired domains removed.",
		}, []string{"base_task_type"}),
		clearedOwners: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "unowned_items_total",
			Help:      "Total task items found without a live owner by the leader.",
		}, []string{"task_type"}),
		executorUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "executor_updates_total",
			Help:      "Total updates of owned task items passed to the executor.",
		}, []string{"task_type"}),
	}

	reg.MustRegister(
		m.ticks,
		m.tickDuration,
		m.registrations,
		m.leader,
		m.assignedItems,
		m.releasedItems,
		m.ownedItems,
		m.sweptServers,
		m.sweptDomains,
		m.clearedOwners,
		m.executorUpdates,
	)
	return m
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
