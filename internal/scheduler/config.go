package scheduler

import (
	"time"

	"github.com/smallbiznis/contentmarket/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	Enabled             bool
	RunInterval         time.Duration
	JobTimeout          time.Duration
	SettlementSyncBatch int
}

func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		RunInterval:         time.Minute,
		JobTimeout:          30 * time.Second,
		SettlementSyncBatch: 100,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:             cfg.Scheduler.Enabled,
		RunInterval:         cfg.Scheduler.Interval,
		SettlementSyncBatch: cfg.Scheduler.SettlementSyncBatch,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.SettlementSyncBatch <= 0 {
		c.SettlementSyncBatch = defaults.SettlementSyncBatch
	}
	return c
}
