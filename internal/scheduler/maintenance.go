// Package scheduler keeps the slot horizon current: it prunes stale slots and
// generates new ones once at startup and then on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/slot-booking-core/internal/appointment"
)

// Pruner removes slots that started before a point in time and were never booked.
type Pruner interface {
	DeletePastUnbookedSlots(ctx context.Context, before time.Time) (int64, error)
}

type Generator interface {
	Generate(ctx context.Context, doctorID *uuid.UUID) (appointment.GenerateResult, error)
}

type Config struct {
	Spec     string         // cron spec, e.g. "0 0 * * *"
	Location *time.Location // zone the spec is evaluated in
	Timeout  time.Duration  // bound for a single run
}

type Maintenance struct {
	pruner    Pruner
	generator Generator
	log       *logrus.Logger
	cfg       Config
	now       func() time.Time
}

func NewMaintenance(pruner Pruner, generator Generator, log *logrus.Logger, cfg Config) *Maintenance {
	if cfg.Spec == "" {
		cfg.Spec = "0 0 * * *"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Maintenance{
		pruner:    pruner,
		generator: generator,
		log:       log,
		cfg:       cfg,
		now:       time.Now,
	}
}

// RunOnce prunes and then generates. A failed prune does not skip generation.
func (m *Maintenance) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	start := time.Now()
	var errs []error

	pruned, err := m.pruner.DeletePastUnbookedSlots(ctx, m.now())
	if err != nil {
		m.log.WithError(err).Error("prune past slots failed")
		errs = append(errs, fmt.Errorf("prune: %w", err))
	} else {
		m.log.WithField("deleted", pruned).Info("pruned past unbooked slots")
	}

	res, err := m.generator.Generate(ctx, nil)
	if err != nil {
		m.log.WithError(err).Error("generate slots failed")
		errs = append(errs, fmt.Errorf("generate: %w", err))
	}

	m.log.WithFields(logrus.Fields{
		"pruned":   pruned,
		"created":  res.Created,
		"existing": res.Existing,
		"duration": time.Since(start).String(),
	}).Info("maintenance run finished")

	return errors.Join(errs...)
}

// Start runs maintenance immediately and then on the configured schedule until
// ctx is done. Overlapping runs are skipped.
func (m *Maintenance) Start(ctx context.Context) error {
	schedule, err := cron.ParseStandard(m.cfg.Spec)
	if err != nil {
		return fmt.Errorf("parse maintenance schedule %q: %w", m.cfg.Spec, err)
	}

	logger := cron.PrintfLogger(m.log)
	job := cron.NewChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	).Then(cron.FuncJob(func() {
		_ = m.RunOnce(ctx)
	}))

	c := cron.New(cron.WithLocation(m.cfg.Location))
	c.Schedule(schedule, job)

	m.log.WithField("schedule", m.cfg.Spec).Info("maintenance scheduler started")

	// The startup run shares the chain, so a tick that fires meanwhile is skipped.
	startup := make(chan struct{})
	go func() {
		defer close(startup)
		job.Run()
	}()

	c.Start()
	<-ctx.Done()

	stopped := c.Stop()
	<-startup
	<-stopped.Done()
	m.log.Info("maintenance scheduler stopped")
	return nil
}
