package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "alertengine"

// Metrics holds the Prometheus collectors shared by the engine components
type Metrics struct {
	RuleEvaluations   *prometheus.CounterVec
	RulesSkipped      *prometheus.CounterVec
	TenantDuration    prometheus.Histogram
	AlertsCreated     *prometheus.CounterVec
	AlertTransitions  *prometheus.CounterVec
	ActionExecutions  *prometheus.CounterVec
	ActionRetries     *prometheus.CounterVec
	PanicsRecovered   *prometheus.CounterVec
	JobsEnqueued      prometheus.Counter
	JobsProcessed     *prometheus.CounterVec
	WorkersBusy       prometheus.Gauge
	EventsPublished   *prometheus.CounterVec
	HostCPUPercent    prometheus.Gauge
	HostMemoryPercent prometheus.Gauge
	InstancesPurged   prometheus.Counter
}

// NewMetrics registers the engine collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RuleEvaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_evaluations_total",
			Help:      "Rule evaluations by outcome (triggered, quiet, error)",
		}, []string{"outcome"}),
		RulesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_skipped_total",
			Help:      "Rules excluded by the gatekeeper, by reason",
		}, []string{"reason"}),
		TenantDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tenant_evaluation_duration_seconds",
			Help:      "Time spent evaluating all enabled rules of a tenant",
			Buckets:   prometheus.DefBuckets,
		}),
		AlertsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Alert instances created, by severity",
		}, []string{"severity"}),
		AlertTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_transitions_total",
			Help:      "Alert lifecycle transitions, by target status",
		}, []string{"status"}),
		ActionExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_executions_total",
			Help:      "Finished actions by type and final status",
		}, []string{"type", "status"}),
		ActionRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_retries_total",
			Help:      "Action retry attempts by type",
		}, []string{"type"}),
		PanicsRecovered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panics_recovered_total",
			Help:      "Recovered panics by component",
		}, []string{"component"}),
		JobsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Tenant evaluation jobs enqueued by the scheduler",
		}),
		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Tenant evaluation jobs processed by the worker pool",
		}, []string{"result"}),
		WorkersBusy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_busy",
			Help:      "Workers currently evaluating a tenant",
		}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Alert events published, by type and result",
		}, []string{"type", "result"}),
		HostCPUPercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_cpu_percent",
			Help:      "CPU usage of the host running the engine",
		}),
		HostMemoryPercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_memory_percent",
			Help:      "Memory usage of the host running the engine",
		}),
		InstancesPurged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_purged_total",
			Help:      "Closed alert instances removed by retention",
		}),
	}
}
