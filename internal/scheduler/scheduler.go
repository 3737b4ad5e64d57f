package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/contentmarket/internal/clock"
	"github.com/smallbiznis/contentmarket/internal/lock"
	"github.com/smallbiznis/contentmarket/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const jobSettlementSync = "settlement_sync"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// SettlementSyncer backfills settlement items for paid purchases.
type SettlementSyncer interface {
	SyncPending(ctx context.Context, limit int) (int, error)
}

type Params struct {
	fx.In

	Log         *zap.Logger
	Clock       clock.Clock
	Locker      *lock.Locker
	Settlements SettlementSyncer
	Metrics     *metrics.Metrics `optional:"true"`
	Config      Config           `optional:"true"`
}

type Scheduler struct {
	log         *zap.Logger
	cfg         Config
	clock       clock.Clock
	locker      *lock.Locker
	settlements SettlementSyncer
	metrics     *metrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Settlements == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:         p.Log.Named("scheduler"),
		cfg:         p.Config.withDefaults(),
		clock:       p.Clock,
		locker:      p.Locker,
		settlements: p.Settlements,
		metrics:     p.Metrics,
	}, nil
}

// runJob runs fn under a per-job lock so only one replica works a job at a
// time. A deadline is a soft timeout and is not reported as an error.
func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))

	err := s.locker.WithLock(ctx, "scheduler:"+name, timeout, fn)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		s.metrics.RecordJobRun(name, metrics.OutcomeSuccess, elapsed)
		return nil
	case errors.Is(err, lock.ErrLocked):
		log.Debug("job skipped, held by another runner")
		s.metrics.RecordJobRun(name, metrics.OutcomeRejected, elapsed)
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		log.Warn("job timed out", zap.Duration("timeout", timeout), zap.Error(err))
		s.metrics.RecordJobRun(name, metrics.OutcomeError, elapsed)
		return nil
	default:
		s.metrics.RecordJobRun(name, metrics.OutcomeError, elapsed)
		return fmt.Errorf("%s: %w", name, err)
	}
}

func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.runJob(ctx, jobSettlementSync, s.cfg.JobTimeout, s.SettlementSyncJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SettlementSyncJob records purchases the payment flow failed to hand to the
// settlement engine.
func (s *Scheduler) SettlementSyncJob(ctx context.Context) error {
	recorded, err := s.settlements.SyncPending(ctx, s.cfg.SettlementSyncBatch)
	if err != nil {
		return err
	}
	if recorded > 0 {
		s.log.Info("settlement sync recorded purchases",
			zap.Int("recorded", recorded),
			zap.Time("at", s.clock.Now()),
		)
	}
	return nil
}
