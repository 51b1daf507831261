package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/slot-booking-core/internal/lock"
	"github.com/hackgods/slot-booking-core/internal/notify"
)

type Service struct {
	repo      Repository
	locker    lock.Locker
	generator *Generator
	publisher notify.Publisher
	validator *Validator
	log       *logrus.Logger
	lockTTL   time.Duration
	now       func() time.Time
}

func NewService(repo Repository, locker lock.Locker, generator *Generator, publisher notify.Publisher, log *logrus.Logger, lockTTL time.Duration) *Service {
	if lockTTL <= 0 {
		lockTTL = lock.DefaultTTL
	}
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &Service{
		repo:      repo,
		locker:    locker,
		generator: generator,
		publisher: publisher,
		validator: NewValidator(),
		log:       log,
		lockTTL:   lockTTL,
		now:       time.Now,
	}
}

// withSlotLock holds the slot lock for the duration of fn. Contention is a conflict;
// a lock backend failure is internal and nothing is written.
func (s *Service) withSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	err := lock.With(ctx, s.locker, lock.SlotKey(slotID), s.lockTTL, fn)
	if errors.Is(err, lock.ErrNotAcquired) {
		return ErrSlotBusy
	}
	return err
}

// Book reserves a time slot for the calling patient.
func (s *Service) Book(ctx context.Context, caller Caller, req BookRequest) (*Appointment, error) {
	const op = "book"

	if err := s.validator.Struct(op, req); err != nil {
		return nil, err
	}
	dob, _ := time.Parse(dateLayout, req.DateOfBirth)

	intake := Intake{
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		Gender:      req.Gender,
		DateOfBirth: dob,
		Address:     req.Address,
	}
	if intake.Name == "" {
		intake.Name = caller.Name
	}
	if intake.Email == "" {
		intake.Email = caller.Email
	}

	scope := caller.Scope()
	var booked *Appointment

	err := s.withSlotLock(ctx, req.TimeSlotID, func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(tx Tx) error {
			slot, err := tx.GetSlotForUpdate(ctx, req.TimeSlotID)
			if errors.Is(err, ErrSlotNotFound) {
				return fmt.Errorf("%w: %w", ErrSlotUnavailable, err)
			}
			if err != nil {
				return err
			}
			if !scope.Allows(slot.TenantID) {
				return fmt.Errorf("%w: %w", ErrSlotUnavailable, ErrSlotNotFound)
			}
			if slot.DoctorID != req.DoctorID {
				return ErrSlotDoctorMismatch
			}
			if slot.Unavailable() || slot.AppointmentID != nil {
				return ErrSlotUnavailable
			}

			tenantID := caller.TenantID
			if scope.Platform {
				tenantID = slot.TenantID
			}
			appt := &Appointment{
				TenantID:   tenantID,
				PatientID:  caller.UserID,
				DoctorID:   slot.DoctorID,
				TimeSlotID: slot.ID,
				Intake:     intake,
				Note:       req.Note,
			}
			if err := tx.CreateAppointment(ctx, appt); err != nil {
				return err
			}
			if err := tx.SetSlotState(ctx, slot.ID, SlotBooked); err != nil {
				return err
			}
			booked = appt
			return nil
		})
	})
	if err != nil {
		s.logFailure(op, caller, err, logrus.Fields{"time_slot_id": req.TimeSlotID})
		return nil, classify(op, err)
	}

	s.log.WithFields(logrus.Fields{
		"appointment_id": booked.ID,
		"time_slot_id":   booked.TimeSlotID,
		"patient_id":     booked.PatientID,
	}).Info("appointment booked")

	s.publishSlot(ctx, booked.TenantID, booked.TimeSlotID, true)
	return booked, nil
}

// loadOwned loads an appointment visible to the caller and checks that the caller owns it.
func (s *Service) loadOwned(ctx context.Context, op string, caller Caller, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, caller.Scope(), id)
	if err != nil {
		return nil, classify(op, err)
	}
	if appt.PatientID != caller.UserID {
		return nil, newError(KindForbidden, op, ErrNotOwner)
	}
	return appt, nil
}

// Cancel deletes the caller's appointment and frees its slot.
func (s *Service) Cancel(ctx context.Context, caller Caller, appointmentID uuid.UUID) error {
	const op = "cancel"

	if _, err := s.loadOwned(ctx, op, caller, appointmentID); err != nil {
		return err
	}

	// The slot to free is read under the row lock; a reschedule may have moved it.
	var canceled *Appointment
	err := s.repo.WithinTx(ctx, func(tx Tx) error {
		current, err := tx.GetAppointmentForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		if current.PatientID != caller.UserID {
			return ErrNotOwner
		}
		deleted, err := tx.DeleteAppointment(ctx, current.ID)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrAppointmentNotFound
		}
		if err := tx.SetSlotState(ctx, current.TimeSlotID, SlotAvailable); err != nil {
			return err
		}
		canceled = current
		return nil
	})
	if err != nil {
		s.logFailure(op, caller, err, logrus.Fields{"appointment_id": appointmentID})
		return classify(op, err)
	}

	s.log.WithFields(logrus.Fields{
		"appointment_id": canceled.ID,
		"time_slot_id":   canceled.TimeSlotID,
	}).Info("appointment canceled")

	s.publishSlot(ctx, canceled.TenantID, canceled.TimeSlotID, false)
	s.publisher.Publish(ctx, notify.NewEvent(notify.EventAppointmentCanceled, canceled.TenantID, map[string]any{
		"appointmentId": canceled.ID,
		"timeSlotId":    canceled.TimeSlotID,
	}))
	return nil
}

// Reschedule moves the caller's appointment to another slot of the same doctor.
func (s *Service) Reschedule(ctx context.Context, caller Caller, appointmentID, newSlotID uuid.UUID) (*Appointment, error) {
	const op = "reschedule"

	appt, err := s.loadOwned(ctx, op, caller, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.TimeSlotID == newSlotID {
		return nil, newError(KindValidation, op, ErrSameSlot)
	}

	scope := caller.Scope()
	var (
		moved     *Appointment
		oldSlotID uuid.UUID
	)

	err = s.withSlotLock(ctx, newSlotID, func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(tx Tx) error {
			current, err := tx.GetAppointmentForUpdate(ctx, appt.ID)
			if err != nil {
				return err
			}
			if current.PatientID != caller.UserID {
				return ErrNotOwner
			}
			if current.TimeSlotID == newSlotID {
				return ErrSameSlot
			}

			next, err := tx.GetSlotForUpdate(ctx, newSlotID)
			if err != nil {
				return err
			}
			if !scope.Allows(next.TenantID) {
				return ErrSlotNotFound
			}
			if next.DoctorID != current.DoctorID {
				return ErrSlotDoctorMismatch
			}
			if next.Unavailable() || next.AppointmentID != nil {
				return ErrSlotUnavailable
			}

			if err := tx.SetSlotState(ctx, current.TimeSlotID, SlotAvailable); err != nil {
				return err
			}
			if err := tx.MoveAppointment(ctx, current.ID, next.ID); err != nil {
				return err
			}
			if err := tx.SetSlotState(ctx, next.ID, SlotBooked); err != nil {
				return err
			}

			oldSlotID = current.TimeSlotID
			updated, err := tx.GetAppointmentForUpdate(ctx, current.ID)
			if err != nil {
				return err
			}
			moved = updated
			return nil
		})
	})
	if err != nil {
		s.logFailure(op, caller, err, logrus.Fields{"appointment_id": appointmentID, "time_slot_id": newSlotID})
		return nil, classify(op, err)
	}

	s.log.WithFields(logrus.Fields{
		"appointment_id":   moved.ID,
		"old_time_slot_id": oldSlotID,
		"new_time_slot_id": moved.TimeSlotID,
	}).Info("appointment rescheduled")

	s.publishSlot(ctx, moved.TenantID, oldSlotID, false)
	s.publishSlot(ctx, moved.TenantID, moved.TimeSlotID, true)
	s.publisher.Publish(ctx, notify.NewEvent(notify.EventAppointmentRescheduled, moved.TenantID, map[string]any{
		"appointmentId": moved.ID,
		"appointment":   moved,
	}))
	return moved, nil
}

// UpdateIntake edits the intake fields of the caller's appointment.
func (s *Service) UpdateIntake(ctx context.Context, caller Caller, appointmentID uuid.UUID, upd IntakeUpdate) (*Appointment, error) {
	const op = "update appointment"

	if err := s.validator.Struct(op, upd); err != nil {
		return nil, err
	}
	if _, err := s.loadOwned(ctx, op, caller, appointmentID); err != nil {
		return nil, err
	}

	var updated *Appointment
	err := s.repo.WithinTx(ctx, func(tx Tx) error {
		current, err := tx.GetAppointmentForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		in, note := current.Intake, current.Note
		if upd.Phone != nil {
			in.Phone = *upd.Phone
		}
		if upd.Gender != nil {
			in.Gender = *upd.Gender
		}
		if upd.DateOfBirth != nil {
			dob, _ := time.Parse(dateLayout, *upd.DateOfBirth)
			in.DateOfBirth = dob
		}
		if upd.Address != nil {
			in.Address = *upd.Address
		}
		if upd.Note != nil {
			note = *upd.Note
		}
		if err := tx.UpdateAppointmentIntake(ctx, current.ID, in, note); err != nil {
			return err
		}
		updated, err = tx.GetAppointmentForUpdate(ctx, current.ID)
		return err
	})
	if err != nil {
		s.logFailure(op, caller, err, logrus.Fields{"appointment_id": appointmentID})
		return nil, classify(op, err)
	}

	s.publisher.Publish(ctx, notify.NewEvent(notify.EventAppointmentUpdated, updated.TenantID, map[string]any{
		"appointmentId": updated.ID,
		"appointment":   updated,
	}))
	return updated, nil
}

// DisableSlots blocks the calling doctor's unbooked slots.
func (s *Service) DisableSlots(ctx context.Context, caller Caller, slotIDs []uuid.UUID) (SlotBatchResult, error) {
	return s.setAvailability(ctx, "disable slots", caller, slotIDs, SlotAvailable, SlotDisabled)
}

// EnableSlots reopens the calling doctor's disabled slots.
func (s *Service) EnableSlots(ctx context.Context, caller Caller, slotIDs []uuid.UUID) (SlotBatchResult, error) {
	return s.setAvailability(ctx, "enable slots", caller, slotIDs, SlotDisabled, SlotAvailable)
}

func (s *Service) setAvailability(ctx context.Context, op string, caller Caller, slotIDs []uuid.UUID, from, to SlotState) (SlotBatchResult, error) {
	res := SlotBatchResult{Requested: len(slotIDs)}
	if len(slotIDs) == 0 {
		return res, newError(KindValidation, op, fmt.Errorf("%w: slotIds must not be empty", ErrInvalidInput))
	}

	doctor, err := s.callerDoctor(ctx, op, caller)
	if err != nil {
		return res, err
	}

	affected, err := s.repo.SetSlotsState(ctx, doctor.ID, slotIDs, from, to)
	if err != nil {
		s.logFailure(op, caller, err, logrus.Fields{"doctor_id": doctor.ID})
		return res, classify(op, err)
	}
	if len(affected) == 0 {
		return res, newError(KindValidation, op, ErrNoValidSlots)
	}
	res.Affected = affected

	s.log.WithFields(logrus.Fields{
		"doctor_id": doctor.ID,
		"requested": res.Requested,
		"affected":  len(affected),
		"state":     to,
	}).Info("slot availability changed")

	s.publishAvailability(ctx, doctor)
	return res, nil
}

// UpdateWorkingHours replaces the calling doctor's working hours and rebuilds
// every future unbooked slot. Booked slots are kept.
func (s *Service) UpdateWorkingHours(ctx context.Context, caller Caller, wh WorkingHours) (*Doctor, error) {
	const op = "update working hours"

	if err := s.validator.Struct(op, wh); err != nil {
		return nil, err
	}
	if err := wh.check(); err != nil {
		return nil, newError(KindValidation, op, err)
	}

	doctor, err := s.callerDoctor(ctx, op, caller)
	if err != nil {
		return nil, err
	}
	loc, err := doctor.Location()
	if err != nil {
		return nil, newError(KindInternal, op, err)
	}
	from := startOfDay(s.now(), loc)

	var removed int64
	err = s.repo.WithinTx(ctx, func(tx Tx) error {
		if err := tx.UpdateWorkingHours(ctx, doctor.ID, wh); err != nil {
			return err
		}
		removed, err = tx.DeleteUnbookedSlotsFrom(ctx, doctor.ID, from)
		return err
	})
	if err != nil {
		s.logFailure(op, caller, err, logrus.Fields{"doctor_id": doctor.ID})
		return nil, classify(op, err)
	}

	id := doctor.ID
	gen, err := s.generator.Generate(ctx, &id)
	if err != nil {
		s.logFailure(op, caller, err, logrus.Fields{"doctor_id": doctor.ID})
		return nil, newError(KindInternal, op, err)
	}

	s.log.WithFields(logrus.Fields{
		"doctor_id": doctor.ID,
		"removed":   removed,
		"created":   gen.Created,
	}).Info("working hours updated")

	doctor.WorkingHours = wh
	s.publishAvailability(ctx, doctor)
	return doctor, nil
}

// ListDoctorSlots returns a doctor's slots on a civil date ("YYYY-MM-DD").
func (s *Service) ListDoctorSlots(ctx context.Context, caller Caller, doctorID uuid.UUID, date string) ([]TimeSlot, error) {
	const op = "list doctor slots"

	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, newError(KindValidation, op, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput))
	}
	scope := caller.Scope()
	if _, err := s.repo.GetDoctor(ctx, scope, doctorID); err != nil {
		return nil, classify(op, err)
	}
	slots, err := s.repo.ListSlots(ctx, scope, SlotFilter{DoctorID: doctorID, Date: day})
	if err != nil {
		return nil, classify(op, err)
	}
	return slots, nil
}

func (s *Service) MyAppointments(ctx context.Context, caller Caller) ([]Appointment, error) {
	out, err := s.repo.ListAppointmentsByPatient(ctx, caller.Scope(), caller.UserID)
	if err != nil {
		return nil, classify("my appointments", err)
	}
	return out, nil
}

func (s *Service) DoctorAppointments(ctx context.Context, caller Caller) ([]Appointment, error) {
	const op = "doctor appointments"

	doctor, err := s.callerDoctor(ctx, op, caller)
	if err != nil {
		return nil, err
	}
	out, err := s.repo.ListAppointmentsByDoctor(ctx, caller.Scope(), doctor.ID)
	if err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

// GetAppointment returns an appointment visible to its patient, its doctor or a tenant admin.
func (s *Service) GetAppointment(ctx context.Context, caller Caller, id uuid.UUID) (*Appointment, error) {
	const op = "get appointment"

	appt, err := s.repo.GetAppointment(ctx, caller.Scope(), id)
	if err != nil {
		return nil, classify(op, err)
	}
	switch caller.Role {
	case RoleAdmin, RoleSuperAdmin:
		return appt, nil
	case RoleDoctor:
		doctor, err := s.repo.GetDoctorByUserID(ctx, caller.Scope(), caller.UserID)
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, newError(KindForbidden, op, ErrNotDoctor)
		}
		if err != nil {
			return nil, classify(op, err)
		}
		if doctor.ID == appt.DoctorID {
			return appt, nil
		}
	default:
		if appt.PatientID == caller.UserID {
			return appt, nil
		}
	}
	return nil, newError(KindForbidden, op, ErrNotOwner)
}

func (s *Service) callerDoctor(ctx context.Context, op string, caller Caller) (*Doctor, error) {
	if caller.Role != RoleDoctor {
		return nil, newError(KindForbidden, op, ErrNotDoctor)
	}
	doctor, err := s.repo.GetDoctorByUserID(ctx, caller.Scope(), caller.UserID)
	if err != nil {
		return nil, classify(op, err)
	}
	return doctor, nil
}

func (s *Service) publishSlot(ctx context.Context, tenantID, slotID uuid.UUID, booked bool) {
	s.publisher.Publish(ctx, notify.NewEvent(notify.EventSlotUpdated, tenantID, map[string]any{
		"timeSlotId": slotID,
		"isBooked":   booked,
	}))
}

func (s *Service) publishAvailability(ctx context.Context, doctor *Doctor) {
	s.publisher.Publish(ctx, notify.NewEvent(notify.EventAvailabilityChanged, doctor.TenantID, map[string]any{
		"doctorId": doctor.ID,
	}))
}

func (s *Service) logFailure(op string, caller Caller, err error, fields logrus.Fields) {
	entry := s.log.WithError(err).WithFields(fields).WithFields(logrus.Fields{
		"op":        op,
		"user_id":   caller.UserID,
		"tenant_id": caller.TenantID,
	})
	if KindOf(classify(op, err)) == KindInternal {
		entry.Error("booking operation failed")
		return
	}
	entry.Debug("booking operation rejected")
}
