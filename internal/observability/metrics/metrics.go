package metrics

import (
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics exposes application-level instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatewayRequests     *prometheus.CounterVec
	gatewayRetries      *prometheus.CounterVec
	paymentOutcomes     *prometheus.CounterVec
	settlementConflicts prometheus.Counter
	settlementRecalcs   *prometheus.CounterVec
	jobRuns             *prometheus.CounterVec
	jobDuration         *prometheus.HistogramVec
}

var Module = fx.Module("metrics",
	fx.Provide(func() prometheus.Registerer { return prometheus.DefaultRegisterer }),
	fx.Provide(New),
)

// New registers the instruments on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contentmarket",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Gateway calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		gatewayRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contentmarket",
			Subsystem: "gateway",
			Name:      "retries_total",
			Help:      "Gateway retries scheduled after a transient failure.",
		}, []string{"operation"}),
		paymentOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contentmarket",
			Subsystem: "payment",
			Name:      "outcomes_total",
			Help:      "Payment flow results by flow and outcome.",
		}, []string{"flow", "outcome"}),
		settlementConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "contentmarket",
			Subsystem: "settlement",
			Name:      "version_conflicts_total",
			Help:      "Optimistic lock conflicts on settlements and settlement items.",
		}),
		settlementRecalcs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contentmarket",
			Subsystem: "settlement",
			Name:      "recalculations_total",
			Help:      "Settlement total recomputations by trigger.",
		}, []string{"trigger"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contentmarket",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduler job runs by job and outcome.",
		}, []string{"job", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "contentmarket",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Scheduler job duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
	}

	collectors := []prometheus.Collector{
		m.gatewayRequests,
		m.gatewayRetries,
		m.paymentOutcomes,
		m.settlementConflicts,
		m.settlementRecalcs,
		m.jobRuns,
		m.jobDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) RecordGatewayRequest(operation, outcome string) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(strings.TrimSpace(operation), outcome).Inc()
}

func (m *Metrics) RecordGatewayRetry(operation string) {
	if m == nil {
		return
	}
	m.gatewayRetries.WithLabelValues(strings.TrimSpace(operation)).Inc()
}

func (m *Metrics) RecordPaymentOutcome(flow, outcome string) {
	if m == nil {
		return
	}
	m.paymentOutcomes.WithLabelValues(flow, outcome).Inc()
}

func (m *Metrics) RecordSettlementConflict() {
	if m == nil {
		return
	}
	m.settlementConflicts.Inc()
}

func (m *Metrics) RecordSettlementRecalc(trigger string) {
	if m == nil {
		return
	}
	m.settlementRecalcs.WithLabelValues(trigger).Inc()
}

func (m *Metrics) RecordJobRun(job, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, outcome).Inc()
	m.jobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}
