// Package bootstrap wires configuration into concrete stores, locks and notifiers.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/slot-booking-core/internal/appointment"
	"github.com/hackgods/slot-booking-core/internal/config"
	"github.com/hackgods/slot-booking-core/internal/db"
	"github.com/hackgods/slot-booking-core/internal/lock"
	"github.com/hackgods/slot-booking-core/internal/notify"
	redisclient "github.com/hackgods/slot-booking-core/internal/redis"
	"github.com/hackgods/slot-booking-core/internal/scheduler"
	"github.com/hackgods/slot-booking-core/internal/seed"
)

// NewLogger returns a JSON logger on stdout at the configured level.
func NewLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	log.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("unknown LOG_LEVEL, using info")
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// App holds everything a process needs to serve or maintain bookings.
type App struct {
	Config    config.Config
	Log       *logrus.Logger
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Repo      appointment.Repository
	Locker    lock.Locker
	Hub       *notify.Hub
	Relay     *notify.RedisRelay
	Publisher notify.Publisher
	Generator *appointment.Generator
	Service   *appointment.Service
	Pruner    scheduler.Pruner
}

type repository interface {
	appointment.Repository
	scheduler.Pruner
}

func New(ctx context.Context, cfg config.Config, log *logrus.Logger) (*App, error) {
	app := &App{Config: cfg, Log: log}

	var repo repository
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{
			AppName:  "slot-booking-core",
			MaxConns: int32(cfg.PgMaxConns),
			MinConns: 2,
			Attempts: 5,
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		app.PgPool = pool
		log.Info("connected to postgres")

		applied, err := db.NewMigrator(pool, log).Up(ctx)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.WithField("applied", applied).Info("migrations up to date")
		repo = appointment.NewPgRepository(pool)
	default:
		mem := appointment.NewMemoryRepository()
		loadDemoClinics(mem, log)
		repo = mem
	}
	app.Repo = repo
	app.Pruner = repo

	if cfg.NeedsRedis() {
		rdb, err := redisclient.NewClient(ctx, cfg)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		app.Redis = rdb
		log.WithField("addr", cfg.RedisAddr).Info("connected to redis")
	}

	if cfg.LockBackend == config.BackendRedis {
		app.Locker = redisclient.NewSlotLocker(app.Redis)
	} else {
		app.Locker = lock.NewMemoryLocker()
	}

	app.Hub = notify.NewHub(log)
	app.Publisher = app.Hub
	if cfg.NotifyRelay {
		app.Relay = notify.NewRedisRelay(app.Redis, cfg.NotifyChannel, app.Hub, log)
		app.Publisher = app.Relay
	}

	app.Generator = appointment.NewGenerator(repo, log, cfg.SlotHorizonDays)
	app.Service = appointment.NewService(repo, app.Locker, app.Generator, app.Publisher, log, cfg.LockTTL)

	return app, nil
}

// Maintenance builds the prune + generate scheduler from the app's config.
func (a *App) Maintenance() *scheduler.Maintenance {
	loc, err := time.LoadLocation(a.Config.MaintenanceTZ)
	if err != nil {
		loc = time.UTC
	}
	return scheduler.NewMaintenance(a.Pruner, a.Generator, a.Log, scheduler.Config{
		Spec:     a.Config.MaintenanceCron,
		Location: loc,
		Timeout:  a.Config.MaintenanceTTL,
	})
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.WithError(err).Warn("error closing redis")
		}
	}
	if a.PgPool != nil {
		a.PgPool.Close()
	}
}

// loadDemoClinics fills an empty in-memory store so a memory-backed process has doctors to schedule.
func loadDemoClinics(repo *appointment.MemoryRepository, log *logrus.Logger) {
	clinics := seed.Clinics(gofakeit.New(0), 2, 3, 0)
	for _, c := range clinics {
		for _, d := range c.Doctors {
			repo.AddDoctor(d)
		}
		log.WithFields(logrus.Fields{
			"tenant_id": c.TenantID,
			"clinic":    c.Name,
			"doctors":   len(c.Doctors),
		}).Info("loaded demo clinic into memory store")
	}
}
