package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/slot-booking-core/internal/api"
	"github.com/hackgods/slot-booking-core/internal/bootstrap"
	"github.com/hackgods/slot-booking-core/internal/config"
	"github.com/hackgods/slot-booking-core/internal/db"
	"github.com/hackgods/slot-booking-core/internal/seed"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	RescheduleRatio float64
	CancelRatio     float64
	ReadRatio       float64
	PatientLimit    int
	SlotLimit       int
	PostgresDSN     string
}

type patient struct {
	ID       uuid.UUID
	TenantID uuid.UUID
}

type slot struct {
	ID       uuid.UUID
	DoctorID uuid.UUID
	TenantID uuid.UUID
}

type booking struct {
	ID       uuid.UUID
	Patient  patient
	DoctorID uuid.UUID
}

type DataPool struct {
	Patients []patient
	Slots    []slot
	byTenant map[uuid.UUID][]slot

	mu       sync.Mutex
	bookings []booking
}

func (dp *DataPool) AddBooking(b booking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, b)
}

// TakeBooking removes and returns a random booking so two workers never act on the same one.
func (dp *DataPool) TakeBooking(rng *rand.Rand) (booking, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.bookings) == 0 {
		return booking{}, false
	}
	i := rng.Intn(len(dp.bookings))
	b := dp.bookings[i]
	dp.bookings[i] = dp.bookings[len(dp.bookings)-1]
	dp.bookings = dp.bookings[:len(dp.bookings)-1]
	return b, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[min2(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min2(len(latencies)*95/100, len(latencies)-1)]
	return avg, min, max, p50, p95
}

type Metrics struct {
	Booking    OperationMetrics
	Reschedule OperationMetrics
	Cancel     OperationMetrics
	Read       OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     *logrus.Logger
}

func main() {
	log := bootstrap.NewLogger(getEnv("LOG_LEVEL", "info"))

	cfg := loadConfig(log)
	if err := validateConfig(cfg); err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	log.WithFields(logrus.Fields{
		"duration":   cfg.Duration.String(),
		"workers":    cfg.Workers,
		"booking":    cfg.BookingRatio,
		"reschedule": cfg.RescheduleRatio,
		"cancel":     cfg.CancelRatio,
		"read":       cfg.ReadRatio,
	}).Info("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{AppName: "slot-booking-simulate", MaxConns: 4})
	if err != nil {
		log.WithError(err).Fatal("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.WithError(err).Fatal("load data pool")
	}
	log.WithFields(logrus.Fields{"patients": len(dataPool.Patients), "slots": len(dataPool.Slots)}).Info("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.Run()
	sim.PrintReport()

	verifyCtx, verifyCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer verifyCancel()
	if err := verifyConsistency(verifyCtx, pgPool); err != nil {
		log.WithError(err).Error("consistency check failed")
		os.Exit(1)
	}
	log.Info("consistency check passed: every booked slot has exactly one appointment")
}

func loadConfig(log *logrus.Logger) SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load base config")
	}

	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.5),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.15),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.25),
		PatientLimit:    getInt("SIM_PATIENT_LIMIT", 4000),
		SlotLimit:       getInt("SIM_SLOT_LIMIT", 2400),
		PostgresDSN:     baseCfg.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.RescheduleRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.RescheduleRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{byTenant: make(map[uuid.UUID][]slot)}

	rows, err := pool.Query(ctx, `
		SELECT id, tenant_id FROM users WHERE role = 'user' LIMIT $1
	`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	dataPool.Patients, err = pgx.CollectRows(rows, pgx.RowToStructByPos[patient])
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	rows, err = pool.Query(ctx, `
		SELECT id, doctor_id, tenant_id FROM time_slots
		WHERE status = 'available' AND start_time > now()
		ORDER BY random()
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	dataPool.Slots, err = pgx.CollectRows(rows, pgx.RowToStructByPos[slot])
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run cmd/seed first")
	}
	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no slots loaded, run the api-server or slot-worker first")
	}
	for _, s := range dataPool.Slots {
		dataPool.byTenant[s.TenantID] = append(dataPool.byTenant[s.TenantID], s)
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.WithField("workers", s.config.Workers).Info("simulation started")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	faker := gofakeit.New(uint64(workerID) + 1)

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng, faker)
		case r < s.config.BookingRatio+s.config.RescheduleRatio:
			s.doReschedule(ctx, rng)
		case r < s.config.BookingRatio+s.config.RescheduleRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			s.doRead(ctx, rng)
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand, faker *gofakeit.Faker) {
	p := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	candidates := s.pool.byTenant[p.TenantID]
	if len(candidates) == 0 {
		return
	}
	sl := candidates[rng.Intn(len(candidates))]

	var created struct {
		ID uuid.UUID `json:"id"`
	}
	status, latency, err := s.call(ctx, http.MethodPost, "/bookings", p, seed.Intake(faker, sl.DoctorID, sl.ID), &created)
	s.metrics.Booking.Record(latency, status, err)

	if err == nil && status == http.StatusCreated && created.ID != uuid.Nil {
		s.pool.AddBooking(booking{ID: created.ID, Patient: p, DoctorID: sl.DoctorID})
	}
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakeBooking(rng)
	if !ok {
		return
	}
	var target *slot
	for _, c := range s.pool.byTenant[b.Patient.TenantID] {
		if c.DoctorID == b.DoctorID && rng.Intn(4) == 0 {
			c := c
			target = &c
			break
		}
	}
	if target == nil {
		s.pool.AddBooking(b)
		return
	}

	body := api.RescheduleRequest{NewTimeSlotID: target.ID}
	status, latency, err := s.call(ctx, http.MethodPatch, "/appointments/"+b.ID.String()+"/reschedule", b.Patient, body, nil)
	s.metrics.Reschedule.Record(latency, status, err)
	s.pool.AddBooking(b)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakeBooking(rng)
	if !ok {
		return
	}
	status, latency, err := s.call(ctx, http.MethodDelete, "/appointments/"+b.ID.String(), b.Patient, nil, nil)
	s.metrics.Cancel.Record(latency, status, err)
	if err != nil || status >= 300 {
		s.pool.AddBooking(b)
	}
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	p := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	status, latency, err := s.call(ctx, http.MethodGet, "/my-appointments", p, nil, nil)
	s.metrics.Read.Record(latency, status, err)
}

func (s *Simulator) call(ctx context.Context, method, path string, p patient, body, out any) (int, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.HeaderUserID, p.ID.String())
	req.Header.Set(api.HeaderUserRole, "user")
	req.Header.Set(api.HeaderTenantID, p.TenantID.String())

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, latency, nil
}

// verifyConsistency checks that slot state and appointments agree after the run.
func verifyConsistency(ctx context.Context, pool *pgxpool.Pool) error {
	var orphanBooked, unbookedWithAppt, doubles int
	err := pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM time_slots s WHERE s.status = 'booked'
				AND NOT EXISTS (SELECT 1 FROM appointments a WHERE a.time_slot_id = s.id)),
			(SELECT count(*) FROM time_slots s WHERE s.status <> 'booked'
				AND EXISTS (SELECT 1 FROM appointments a WHERE a.time_slot_id = s.id)),
			(SELECT count(*) FROM (SELECT time_slot_id FROM appointments GROUP BY time_slot_id HAVING count(*) > 1) d)
	`).Scan(&orphanBooked, &unbookedWithAppt, &doubles)
	if err != nil {
		return fmt.Errorf("query consistency: %w", err)
	}
	if orphanBooked+unbookedWithAppt+doubles > 0 {
		return fmt.Errorf("booked without appointment=%d, appointment on unbooked slot=%d, double booked=%d",
			orphanBooked, unbookedWithAppt, doubles)
	}
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("My appointments", &s.metrics.Read)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func min2(a, b int) int {
	if a < b {
		return a
	}
	return b
}
