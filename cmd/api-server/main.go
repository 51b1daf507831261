package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/slot-booking-core/internal/api"
	"github.com/hackgods/slot-booking-core/internal/bootstrap"
	"github.com/hackgods/slot-booking-core/internal/config"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootstrap.NewLogger("info").WithError(err).Fatal("config load error")
	}

	log := bootstrap.NewLogger(cfg.LogLevel)
	log.WithFields(logrus.Fields{
		"env":           cfg.Env,
		"http_port":     cfg.HTTPPort,
		"store_backend": cfg.StoreBackend,
		"lock_backend":  cfg.LockBackend,
		"lock_ttl":      cfg.LockTTL.String(),
		"notify_relay":  cfg.NotifyRelay,
		"maintenance":   cfg.MaintenanceRun,
	}).Info("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(rootCtx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer app.Close()

	var wg sync.WaitGroup

	if app.Relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.Relay.Run(rootCtx); err != nil {
				log.WithError(err).Error("notify relay stopped")
			}
		}()
	}

	if cfg.MaintenanceRun {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.Maintenance().Start(rootCtx); err != nil {
				log.WithError(err).Error("maintenance scheduler stopped")
			}
		}()
	}

	router := api.NewRouter(api.RouterConfig{
		Service: app.Service,
		Health:  api.NewHealthHandler(app.PgPool, redisOrNil(app), cfg.Env, version),
		Hub:     app.Hub,
		Log:     log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server failed")
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http server forced to shutdown")
	}

	wg.Wait()
	log.Info("api-server stopped")
}

// redisOrNil keeps a missing client from becoming a non-nil interface.
func redisOrNil(app *bootstrap.App) redis.UniversalClient {
	if app.Redis == nil {
		return nil
	}
	return app.Redis
}
