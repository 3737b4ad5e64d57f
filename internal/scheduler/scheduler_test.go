package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/contentmarket/internal/clock"
	"github.com/smallbiznis/contentmarket/internal/lock"
	"github.com/smallbiznis/contentmarket/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSyncer struct {
	mock.Mock
}

func (m *mockSyncer) SyncPending(ctx context.Context, limit int) (int, error) {
	args := m.Called(ctx, limit)
	return args.Int(0), args.Error(1)
}

func newTestScheduler(t *testing.T, syncer SettlementSyncer, cfg Config) (*Scheduler, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	log := zap.NewNop()
	s, err := New(Params{
		Log:         log,
		Clock:       clock.NewFakeClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
		Locker:      lock.NewLocker(lock.Params{Log: log}),
		Settlements: syncer,
		Metrics:     m,
		Config:      cfg,
	})
	require.NoError(t, err)
	return s, reg
}

func TestRunOnceSyncsSettlements(t *testing.T) {
	syncer := &mockSyncer{}
	syncer.On("SyncPending", mock.Anything, 25).Return(3, nil).Once()
	s, reg := newTestScheduler(t, syncer, Config{SettlementSyncBatch: 25})

	require.NoError(t, s.RunOnce(context.Background()))

	syncer.AssertExpectations(t)
	labels := map[string]string{"job": jobSettlementSync, "outcome": metrics.OutcomeSuccess}
	assert.Equal(t, 1.0, getCounterValue(t, reg, "contentmarket_scheduler_job_runs_total", labels))
}

func TestRunOnceReturnsJobError(t *testing.T) {
	syncer := &mockSyncer{}
	syncer.On("SyncPending", mock.Anything, 100).Return(0, errors.New("db down")).Once()
	s, _ := newTestScheduler(t, syncer, Config{})

	err := s.RunOnce(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), jobSettlementSync)
}

func TestRunJobTimeoutIsSoft(t *testing.T) {
	s, _ := newTestScheduler(t, &mockSyncer{}, Config{})

	err := s.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.NoError(t, err)
}

func TestNewRequiresSyncer(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop(), Clock: clock.New()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, time.Minute, cfg.RunInterval)
	assert.Equal(t, 30*time.Second, cfg.JobTimeout)
	assert.Equal(t, 100, cfg.SettlementSyncBatch)
}

func getCounterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelsMatch(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) != len(labels) {
		return false
	}
	for _, pair := range metric.GetLabel() {
		if labels[pair.GetName()] != pair.GetValue() {
			return false
		}
	}
	return true
}
