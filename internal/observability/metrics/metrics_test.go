package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordGatewayRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RecordGatewayRequest("approval", OutcomeSuccess)
	m.RecordGatewayRequest("approval", OutcomeSuccess)
	m.RecordGatewayRequest("approval", OutcomeError)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.gatewayRequests.WithLabelValues("approval", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gatewayRequests.WithLabelValues("approval", OutcomeError)))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordGatewayRequest("auth", OutcomeSuccess)
	m.RecordSettlementConflict()
	m.RecordSettlementRecalc("refund")
	m.RecordPaymentOutcome("confirm", OutcomeSuccess)
	m.RecordGatewayRetry("auth")
	m.RecordJobRun("settlement_sync", OutcomeSuccess, time.Second)
}

func TestRecordJobRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.RecordJobRun("settlement_sync", OutcomeSuccess, 20*time.Millisecond)
	m.RecordJobRun("settlement_sync", OutcomeError, 5*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("settlement_sync", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("settlement_sync", OutcomeError)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.jobDuration))
}

func TestNewToleratesDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.NoError(t, err)
}
