package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the verification lifecycle metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Transitions       *prometheus.CounterVec
	AutomatedOutcomes *prometheus.CounterVec
	Submissions       *prometheus.CounterVec
	UploadsRejected   *prometheus.CounterVec
	ActiveWidgets     prometheus.Gauge
	OpenSessions      prometheus.Gauge
	BackendDuration   *prometheus.HistogramVec
}

// New registers the metrics with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studentcheck_case_transitions_total",
			Help: "Total number of applied case status transitions",
		}, []string{"from", "to"}),
		AutomatedOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studentcheck_automated_outcomes_total",
			Help: "Total number of automated verification outcomes by kind",
		}, []string{"outcome"}),
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studentcheck_submissions_total",
			Help: "Total number of manual submissions by kind and result",
		}, []string{"kind", "result"}),
		UploadsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studentcheck_uploads_rejected_total",
			Help: "Total number of document uploads rejected by validation",
		}, []string{"category"}),
		ActiveWidgets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "studentcheck_active_widgets",
			Help: "Current number of active automated verification widgets",
		}),
		OpenSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "studentcheck_open_sessions",
			Help: "Current number of open verification sessions",
		}),
		BackendDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studentcheck_backend_request_duration_seconds",
			Help:    "Duration of calls to the verification backend",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "result"}),
	}
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveAutomatedOutcome(outcome string) {
	if m == nil {
		return
	}
	m.AutomatedOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSubmission(kind, result string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) IncrementUploadsRejected(category string) {
	if m == nil {
		return
	}
	m.UploadsRejected.WithLabelValues(category).Inc()
}

func (m *Metrics) WidgetActivated() {
	if m == nil {
		return
	}
	m.ActiveWidgets.Inc()
}

func (m *Metrics) WidgetReleased() {
	if m == nil {
		return
	}
	m.ActiveWidgets.Dec()
}

func (m *Metrics) SetOpenSessions(n int) {
	if m == nil {
		return
	}
	m.OpenSessions.Set(float64(n))
}

func (m *Metrics) ObserveBackend(operation, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BackendDuration.WithLabelValues(operation, result).Observe(elapsed.Seconds())
}
