package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/hackgods/slot-booking-core/internal/bootstrap"
	"github.com/hackgods/slot-booking-core/internal/config"
)

// slot-worker runs slot maintenance on its own, for deployments where the
// api-server runs with MAINTENANCE_ENABLED=false.
func main() {
	cfg, err := config.Load()
	if err != nil {
		bootstrap.NewLogger("info").WithError(err).Fatal("config load error")
	}

	log := bootstrap.NewLogger(cfg.LogLevel)
	log.WithFields(logrus.Fields{
		"env":          cfg.Env,
		"schedule":     cfg.MaintenanceCron,
		"timezone":     cfg.MaintenanceTZ,
		"horizon_days": cfg.SlotHorizonDays,
		"timeout":      cfg.MaintenanceTTL.String(),
	}).Info("slot-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The worker never takes slot locks or publishes events.
	cfg.LockBackend = config.BackendMemory
	cfg.NotifyRelay = false

	app, err := bootstrap.New(rootCtx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer app.Close()

	if err := app.Maintenance().Start(rootCtx); err != nil {
		log.WithError(err).Error("maintenance scheduler failed")
		return
	}
	log.Info("shutdown signal received, slot-worker stopped")
}
