package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/slot-booking-core/internal/appointment"
	"github.com/hackgods/slot-booking-core/internal/db"
	"github.com/hackgods/slot-booking-core/internal/seed"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.Info("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	clinics := getInt("SEED_CLINICS", 5)
	doctors := getInt("SEED_DOCTORS_PER_CLINIC", 20)
	patients := getInt("SEED_PATIENTS_PER_CLINIC", 1800)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{AppName: "slot-booking-seed", MaxConns: 4, Attempts: 3})
	if err != nil {
		log.WithError(err).Fatal("connect postgres")
	}
	defer pool.Close()

	if _, err := db.NewMigrator(pool, log).Up(ctx); err != nil {
		log.WithError(err).Fatal("migrate")
	}

	faker := gofakeit.New(0)
	for _, c := range seed.Clinics(faker, clinics, doctors, patients) {
		if err := seedClinic(ctx, pool, c, log); err != nil {
			log.WithError(err).WithField("tenant_id", c.TenantID).Fatal("seed clinic")
		}
	}

	if os.Getenv("SEED_SKIP_SLOTS") != "true" {
		gen := appointment.NewGenerator(appointment.NewPgRepository(pool), log, getInt("SLOT_HORIZON_DAYS", appointment.DefaultHorizonDays))
		res, err := gen.Generate(ctx, nil)
		if err != nil {
			log.WithError(err).Error("slot generation finished with errors")
		}
		log.WithFields(logrus.Fields{
			"doctors":  res.Doctors,
			"created":  res.Created,
			"existing": res.Existing,
		}).Info("slots generated")
	}

	log.Info("seed complete")
}

func seedClinic(ctx context.Context, pool *pgxpool.Pool, c seed.Clinic, log *logrus.Logger) error {
	const batchSize = 500

	if _, err := pool.Exec(ctx, `INSERT INTO tenants (id, name) VALUES ($1, $2)`, c.TenantID, c.Name); err != nil {
		return err
	}

	for offset := 0; offset < len(c.Users); offset += batchSize {
		end := min(offset+batchSize, len(c.Users))

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			for _, u := range c.Users[offset:end] {
				_, err := tx.Exec(ctx, `
					INSERT INTO users (id, tenant_id, name, email, role)
					VALUES ($1, $2, $3, $4, $5)
				`, u.ID, u.TenantID, u.Name, u.Email, string(u.Role))
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, d := range c.Doctors {
			_, err := tx.Exec(ctx, `
				INSERT INTO doctors (id, tenant_id, user_id, name, specialization,
					working_start, working_end, slot_duration, timezone)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, d.ID, d.TenantID, d.UserID, d.Name, d.Specialization,
				d.WorkingHours.Start, d.WorkingHours.End, d.WorkingHours.SlotDuration, d.Timezone)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"tenant_id": c.TenantID,
		"clinic":    c.Name,
		"users":     len(c.Users),
		"doctors":   len(c.Doctors),
	}).Info("clinic seeded")
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
