package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SlotFilter struct {
	DoctorID uuid.UUID
	Date     time.Time // civil date, zero means any day
	From     time.Time // start_time lower bound, zero means unbounded
}

// Repository contains all store interactions needed by the service, the generator
// and the maintenance job.
type Repository interface {
	GetDoctor(ctx context.Context, scope Scope, id uuid.UUID) (*Doctor, error)
	GetDoctorByUserID(ctx context.Context, scope Scope, userID uuid.UUID) (*Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)

	GetSlot(ctx context.Context, scope Scope, id uuid.UUID) (*TimeSlot, error)
	ListSlots(ctx context.Context, scope Scope, f SlotFilter) ([]TimeSlot, error)

	GetAppointment(ctx context.Context, scope Scope, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, scope Scope, patientID uuid.UUID) ([]Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, scope Scope, doctorID uuid.UUID) ([]Appointment, error)

	// Generation and maintenance
	InsertSlotIfAbsent(ctx context.Context, slot TimeSlot) (bool, error)
	// DeletePastUnbookedSlots removes slots that start before the cutoff and carry
	// no appointment. Past disabled slots are removed too.
	DeletePastUnbookedSlots(ctx context.Context, before time.Time) (int64, error)

	// SetSlotsState moves the doctor's slots in ids from one state to another,
	// skipping anything booked. Slots already in the target state count as affected.
	SetSlotsState(ctx context.Context, doctorID uuid.UUID, ids []uuid.UUID, from, to SlotState) ([]uuid.UUID, error)

	// WithinTx runs fn in a single transaction. Any error rolls everything back.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the unit of work used by the booking engine.
type Tx interface {
	GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	SetSlotState(ctx context.Context, id uuid.UUID, state SlotState) error

	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	CreateAppointment(ctx context.Context, a *Appointment) error
	DeleteAppointment(ctx context.Context, id uuid.UUID) (bool, error)
	MoveAppointment(ctx context.Context, id, newSlotID uuid.UUID) error
	UpdateAppointmentIntake(ctx context.Context, id uuid.UUID, in Intake, note string) error

	UpdateWorkingHours(ctx context.Context, doctorID uuid.UUID, wh WorkingHours) error
	DeleteUnbookedSlotsFrom(ctx context.Context, doctorID uuid.UUID, from time.Time) (int64, error)
}
