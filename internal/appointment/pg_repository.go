package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const (
	doctorColumns = `id, tenant_id, user_id, name, specialization, working_start, working_end,
		slot_duration, timezone, created_at, updated_at`

	slotColumns = `s.id, s.tenant_id, s.doctor_id, s.date, s.start_time, s.end_time, s.status,
		a.id, s.created_at, s.updated_at`

	slotFrom = `time_slots s LEFT JOIN appointments a ON a.time_slot_id = s.id`

	appointmentColumns = `id, tenant_id, user_id, doctor_id, time_slot_id, name, email, phone,
		gender, date_of_birth, address, note, created_at, updated_at`
)

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID,
		&d.TenantID,
		&d.UserID,
		&d.Name,
		&d.Specialization,
		&d.Start,
		&d.End,
		&d.SlotDuration,
		&d.Timezone,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot
	err := row.Scan(
		&s.ID,
		&s.TenantID,
		&s.DoctorID,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.State,
		&s.AppointmentID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.PatientID,
		&a.DoctorID,
		&a.TimeSlotID,
		&a.Name,
		&a.Email,
		&a.Phone,
		&a.Gender,
		&a.DateOfBirth,
		&a.Address,
		&a.Note,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrSlotTaken, pgErr.ConstraintName)
	}
	return err
}

// Reads

func (r *PgRepository) GetDoctor(ctx context.Context, scope Scope, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE id = $1 AND ($2::boolean OR tenant_id = $3)
	`, id, scope.Platform, scope.TenantID)
	return scanDoctor(row)
}

func (r *PgRepository) GetDoctorByUserID(ctx context.Context, scope Scope, userID uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE user_id = $1 AND ($2::boolean OR tenant_id = $3)
	`, userID, scope.Platform, scope.TenantID)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+doctorColumns+` FROM doctors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return collect(rows, scanDoctor)
}

func (r *PgRepository) GetSlot(ctx context.Context, scope Scope, id uuid.UUID) (*TimeSlot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM `+slotFrom+`
		WHERE s.id = $1 AND ($2::boolean OR s.tenant_id = $3)
	`, id, scope.Platform, scope.TenantID)
	return scanSlot(row)
}

func (r *PgRepository) ListSlots(ctx context.Context, scope Scope, f SlotFilter) ([]TimeSlot, error) {
	var (
		date *time.Time
		from *time.Time
	)
	if !f.Date.IsZero() {
		date = &f.Date
	}
	if !f.From.IsZero() {
		from = &f.From
	}
	var doctorID *uuid.UUID
	if f.DoctorID != uuid.Nil {
		doctorID = &f.DoctorID
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM `+slotFrom+`
		WHERE ($1::boolean OR s.tenant_id = $2)
		  AND ($3::uuid IS NULL OR s.doctor_id = $3)
		  AND ($4::date IS NULL OR s.date = $4)
		  AND ($5::timestamptz IS NULL OR s.start_time >= $5)
		ORDER BY s.start_time
	`, scope.Platform, scope.TenantID, doctorID, date, from)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return collect(rows, scanSlot)
}

func (r *PgRepository) GetAppointment(ctx context.Context, scope Scope, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND ($2::boolean OR tenant_id = $3)
	`, id, scope.Platform, scope.TenantID)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, scope Scope, patientID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE user_id = $1 AND ($2::boolean OR tenant_id = $3)
		ORDER BY created_at DESC
	`, patientID, scope.Platform, scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, scope Scope, doctorID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND ($2::boolean OR tenant_id = $3)
		ORDER BY created_at DESC
	`, doctorID, scope.Platform, scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return collect(rows, scanAppointment)
}

// Generation and maintenance

func (r *PgRepository) InsertSlotIfAbsent(ctx context.Context, slot TimeSlot) (bool, error) {
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	if slot.State == "" {
		slot.State = SlotAvailable
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO time_slots (id, tenant_id, doctor_id, date, start_time, end_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (doctor_id, start_time) DO NOTHING
	`, slot.ID, slot.TenantID, slot.DoctorID, slot.Date, slot.StartTime, slot.EndTime, slot.State)
	if err != nil {
		return false, fmt.Errorf("insert slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) DeletePastUnbookedSlots(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM time_slots s
		WHERE s.start_time < $1
		  AND s.status <> 'booked'
		  AND NOT EXISTS (SELECT 1 FROM appointments a WHERE a.time_slot_id = s.id)
	`, before)
	if err != nil {
		return 0, fmt.Errorf("delete past slots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) SetSlotsState(ctx context.Context, doctorID uuid.UUID, ids []uuid.UUID, from, to SlotState) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		WITH changed AS (
			UPDATE time_slots s
			SET status = $3, updated_at = now()
			WHERE s.id = ANY($2::uuid[])
			  AND s.doctor_id = $1
			  AND s.status = $4
			  AND NOT EXISTS (SELECT 1 FROM appointments a WHERE a.time_slot_id = s.id)
			RETURNING s.id
		)
		SELECT id FROM changed
		UNION
		SELECT s.id FROM time_slots s
		WHERE s.id = ANY($2::uuid[])
		  AND s.doctor_id = $1
		  AND s.status = $3
		  AND NOT EXISTS (SELECT 1 FROM appointments a WHERE a.time_slot_id = s.id)
	`, doctorID, ids, to, from)
	if err != nil {
		return nil, fmt.Errorf("set slots state: %w", err)
	}
	affected, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("set slots state: %w", err)
	}
	return affected, nil
}

func (r *PgRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&pgTx{q: tx})
	})
}

// pgTx implements Tx on an open pgx transaction.
type pgTx struct {
	q querier
}

func (t *pgTx) GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM `+slotFrom+`
		WHERE s.id = $1
		FOR UPDATE OF s
	`, id)
	return scanSlot(row)
}

func (t *pgTx) SetSlotState(ctx context.Context, id uuid.UUID, state SlotState) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE time_slots SET status = $2, updated_at = now() WHERE id = $1
	`, id, state)
	if err != nil {
		return fmt.Errorf("set slot state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (t *pgTx) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := t.q.QueryRow(ctx, `
		INSERT INTO appointments (id, tenant_id, user_id, doctor_id, time_slot_id, name, email, phone,
			gender, date_of_birth, address, note, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		RETURNING created_at, updated_at
	`, a.ID, a.TenantID, a.PatientID, a.DoctorID, a.TimeSlotID, a.Name, a.Email, a.Phone,
		a.Gender, a.DateOfBirth, a.Address, a.Note).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create appointment: %w", mapUniqueViolation(err))
	}
	return nil
}

func (t *pgTx) DeleteAppointment(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := t.q.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete appointment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) MoveAppointment(ctx context.Context, id, newSlotID uuid.UUID) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE appointments SET time_slot_id = $2, updated_at = now() WHERE id = $1
	`, id, newSlotID)
	if err != nil {
		return fmt.Errorf("move appointment: %w", mapUniqueViolation(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (t *pgTx) UpdateAppointmentIntake(ctx context.Context, id uuid.UUID, in Intake, note string) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE appointments
		SET name = $2, email = $3, phone = $4, gender = $5, date_of_birth = $6,
		    address = $7, note = $8, updated_at = now()
		WHERE id = $1
	`, id, in.Name, in.Email, in.Phone, in.Gender, in.DateOfBirth, in.Address, note)
	if err != nil {
		return fmt.Errorf("update appointment intake: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (t *pgTx) UpdateWorkingHours(ctx context.Context, doctorID uuid.UUID, wh WorkingHours) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE doctors
		SET working_start = $2, working_end = $3, slot_duration = $4, updated_at = now()
		WHERE id = $1
	`, doctorID, wh.Start, wh.End, wh.SlotDuration)
	if err != nil {
		return fmt.Errorf("update working hours: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

func (t *pgTx) DeleteUnbookedSlotsFrom(ctx context.Context, doctorID uuid.UUID, from time.Time) (int64, error) {
	tag, err := t.q.Exec(ctx, `
		DELETE FROM time_slots s
		WHERE s.doctor_id = $1
		  AND s.start_time >= $2
		  AND s.status <> 'booked'
		  AND NOT EXISTS (SELECT 1 FROM appointments a WHERE a.time_slot_id = s.id)
	`, doctorID, from)
	if err != nil {
		return 0, fmt.Errorf("delete unbooked slots: %w", err)
	}
	return tag.RowsAffected(), nil
}
