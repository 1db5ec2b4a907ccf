// Package sagametrics exposes the Prometheus instrumentation required of
// the saga engine: counters and histograms for saga lifecycle, step
// execution, compensation, state transitions, and controlled failures, plus
// gauges for in-flight sagas.
package sagametrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector groups every metric the saga engine emits behind one handle so
// callers wire a single dependency instead of a dozen globals.
type Collector struct {
	SagasStarted          *prometheus.CounterVec
	SagasCompletedSuccess *prometheus.CounterVec
	SagasCompletedFailure *prometheus.CounterVec
	SagaDuration          *prometheus.HistogramVec

	StepTotal       *prometheus.CounterVec
	StepSuccess     *prometheus.CounterVec
	StepFailure     *prometheus.CounterVec
	StepDuration    *prometheus.HistogramVec
	CompensationTotal   *prometheus.CounterVec
	CompensationSuccess *prometheus.CounterVec
	CompensationFailure *prometheus.CounterVec

	StateTransitions  *prometheus.CounterVec
	ControlledFailure *prometheus.CounterVec

	ActiveSagas  *prometheus.GaugeVec
	SagasInState *prometheus.GaugeVec
}

// New registers every saga metric under namespace (typically "saga") with
// the default registry, mirroring promauto usage elsewhere in the pack.
func New(namespace string) *Collector {
	return &Collector{
		SagasStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sagas_started_total",
			Help:      "Total number of sagas started, by saga type.",
		}, []string{"sagaType"}),

		SagasCompletedSuccess: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sagas_completed_success_total",
			Help:      "Total number of sagas that reached Completed, by saga type.",
		}, []string{"sagaType"}),

		SagasCompletedFailure: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sagas_completed_failure_total",
			Help:      "Total number of sagas that reached Compensated or Failed, by saga type and failure reason.",
		}, []string{"sagaType", "failureReason"}),

		SagaDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "saga_duration_seconds",
			Help:      "Wall-clock duration of a saga from start to terminal state, by saga type and outcome.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"sagaType", "status"}),

		StepTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_total",
			Help:      "Total number of step invocations, by saga type, step name and service.",
		}, []string{"sagaType", "stepName", "serviceName"}),

		StepSuccess: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_success_total",
			Help:      "Total number of step invocations that succeeded, by saga type, step name and service.",
		}, []string{"sagaType", "stepName", "serviceName"}),

		StepFailure: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_failure_total",
			Help:      "Total number of step invocations that failed, by saga type, step name, service and error type.",
		}, []string{"sagaType", "stepName", "serviceName", "errorType"}),

		StepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of a single step invocation, by saga type, step name, service and outcome.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"sagaType", "stepName", "serviceName", "status"}),

		CompensationTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensation_total",
			Help:      "Total number of compensation invocations, by saga type, step name and service.",
		}, []string{"sagaType", "stepName", "serviceName"}),

		CompensationSuccess: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensation_success_total",
			Help:      "Total number of compensation invocations that succeeded, by saga type, step name and service.",
		}, []string{"sagaType", "stepName", "serviceName"}),

		CompensationFailure: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensation_failure_total",
			Help:      "Total number of compensation invocations that failed, by saga type, step name and service.",
		}, []string{"sagaType", "stepName", "serviceName"}),

		StateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of saga state transitions, by saga type, origin state, destination state and service.",
		}, []string{"sagaType", "fromState", "toState", "serviceName"}),

		ControlledFailure: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controlled_failures_total",
			Help:      "Total number of faults injected by the controlled failure injector, by failure type and service.",
		}, []string{"failureType", "serviceName"}),

		ActiveSagas: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sagas",
			Help:      "Current number of sagas that have not reached a terminal state, by saga type.",
		}, []string{"sagaType"}),

		SagasInState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sagas_in_state",
			Help:      "Current number of sagas sitting in a given state, by saga type and state.",
		}, []string{"sagaType", "state"}),
	}
}
