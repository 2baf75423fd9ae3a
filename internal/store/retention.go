package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes log rows created before a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

type JanitorConfig struct {
	Store     Pruner
	Retention time.Duration
	Schedule  string // standard cron spec or descriptor such as "@every 6h"
	Logger    *slog.Logger
}

// Janitor enforces the extraction log retention period on a schedule.
type Janitor struct {
	store     Pruner
	retention time.Duration
	schedule  cron.Schedule
	logger    *slog.Logger
	now       func() time.Time
}

func NewJanitor(cfg JanitorConfig) (*Janitor, error) {
	if cfg.Store == nil {
		return nil, errors.New("janitor: store is required")
	}
	if cfg.Retention <= 0 {
		return nil, errors.New("janitor: retention must be positive")
	}
	sched, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("janitor: schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Janitor{
		store:     cfg.Store,
		retention: cfg.Retention,
		schedule:  sched,
		logger:    cfg.Logger,
		now:       time.Now,
	}, nil
}

// RunOnce deletes rows older than the retention period.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	n, err := j.store.Prune(ctx, j.now().Add(-j.retention))
	if err != nil {
		return 0, fmt.Errorf("prune extraction log: %w", err)
	}
	return n, nil
}

// Run prunes once, then on every tick of the schedule until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	job := func() {
		if _, err := j.RunOnce(ctx); err != nil {
			j.logger.Warn("retention run failed", "error", err)
		}
	}
	job()

	c := cron.New()
	c.Schedule(j.schedule, cron.FuncJob(job))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
}
