package appointment

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal_error"
	}
}

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrSlotNotFound        = errors.New("time slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	ErrSlotUnavailable     = errors.New("time slot is not available")
	ErrSlotBusy            = errors.New("time slot is being booked, please retry")
	ErrSlotTaken           = errors.New("time slot already has an appointment")
	ErrNotOwner            = errors.New("appointment belongs to another patient")
	ErrNotDoctor           = errors.New("caller is not a doctor")
	ErrSameSlot            = errors.New("new time slot is the current time slot")
	ErrSlotDoctorMismatch  = errors.New("time slot belongs to a different doctor")
	ErrNoValidSlots        = errors.New("no valid slots to update")
	ErrInvalidWorkingHours = errors.New("invalid working hours")
	ErrInvalidInput        = errors.New("invalid input")
)

// Error is returned by every Service operation.
type Error struct {
	Kind   Kind
	Op     string
	Err    error
	Fields map[string]string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of err. Errors that did not come from the engine are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// FieldsOf returns per-field validation messages, if any.
func FieldsOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// classify maps store and lock causes to a kind. Already classified errors pass through.
// Conflict is checked first: a booking on a slot that does not exist is a conflict.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, ErrSlotUnavailable),
		errors.Is(err, ErrSlotBusy),
		errors.Is(err, ErrSlotTaken):
		return newError(KindConflict, op, err)
	case errors.Is(err, ErrDoctorNotFound),
		errors.Is(err, ErrSlotNotFound),
		errors.Is(err, ErrAppointmentNotFound):
		return newError(KindNotFound, op, err)
	case errors.Is(err, ErrNotOwner), errors.Is(err, ErrNotDoctor):
		return newError(KindForbidden, op, err)
	case errors.Is(err, ErrSameSlot),
		errors.Is(err, ErrSlotDoctorMismatch),
		errors.Is(err, ErrNoValidSlots),
		errors.Is(err, ErrInvalidWorkingHours),
		errors.Is(err, ErrInvalidInput):
		return newError(KindValidation, op, err)
	}
	return newError(KindInternal, op, err)
}
