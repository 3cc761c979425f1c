package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "esim"

// Metrics is nil-safe: every method is a no-op on a nil receiver so services
// can be built without a registry in tests.
type Metrics struct {
	orderTransitions *prometheus.CounterVec
	vendorCalls      *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	usageRecords     prometheus.Counter
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		orderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order status transitions by target status.",
		}, []string{"status"}),
		vendorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vendor_calls_total",
			Help:      "Vendor API calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification delivery outcomes by kind.",
		}, []string{"kind", "outcome"}),
		usageRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_records_appended_total",
			Help:      "Usage history rows appended.",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Batch job runs by job and result.",
		}, []string{"job", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Batch job wall time.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"job"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.orderTransitions,
			m.vendorCalls,
			m.notifications,
			m.usageRecords,
			m.jobRuns,
			m.jobDuration,
		)
	}
	return m
}

func (m *Metrics) OrderTransition(status string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) VendorCall(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.vendorCalls.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) Notification(kind, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) UsageRecordAppended() {
	if m == nil {
		return
	}
	m.usageRecords.Inc()
}

func (m *Metrics) JobRun(job string, latency time.Duration, err error) {
	if m == nil {
		return
	}
	result := "completed"
	if err != nil {
		result = "failed"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
	m.jobDuration.WithLabelValues(job).Observe(latency.Seconds())
}
