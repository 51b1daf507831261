package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient    Role = "user"
	RoleDoctor     Role = "doctor"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Caller is the authenticated identity handed to the engine by the outer layer.
type Caller struct {
	UserID   uuid.UUID
	Role     Role
	TenantID uuid.UUID
	Name     string
	Email    string
}

func (c Caller) Scope() Scope {
	return Scope{TenantID: c.TenantID, Platform: c.Role == RoleSuperAdmin}
}

// Scope restricts store reads to one tenant unless Platform is set.
type Scope struct {
	TenantID uuid.UUID
	Platform bool
}

// PlatformScope sees every tenant. Used by maintenance and generation.
var PlatformScope = Scope{Platform: true}

func (s Scope) Allows(tenantID uuid.UUID) bool {
	return s.Platform || s.TenantID == tenantID
}

type SlotState string

const (
	SlotAvailable SlotState = "available"
	SlotBooked    SlotState = "booked"
	SlotDisabled  SlotState = "disabled"
)

type Doctor struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	UserID         uuid.UUID
	Name           string
	Specialization string
	WorkingHours
	Timezone  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Location resolves the doctor's IANA timezone. Empty means UTC.
func (d Doctor) Location() (*time.Location, error) {
	if d.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return nil, fmt.Errorf("doctor %s timezone %q: %w", d.ID, d.Timezone, err)
	}
	return loc, nil
}

type WorkingHours struct {
	Start        string `json:"workingHoursStart" validate:"required,clock"`
	End          string `json:"workingHoursEnd" validate:"required,clock"`
	SlotDuration int    `json:"slotDuration" validate:"required,gt=0,lte=1440"`
}

type TimeSlot struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	DoctorID      uuid.UUID
	Date          time.Time // civil date, midnight UTC
	StartTime     time.Time
	EndTime       time.Time
	State         SlotState
	AppointmentID *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Unavailable is true when the slot cannot be booked.
func (s TimeSlot) Unavailable() bool {
	return s.State != SlotAvailable
}

// Intake is the patient information captured when the appointment is booked.
type Intake struct {
	Name        string
	Email       string
	Phone       string
	Gender      string
	DateOfBirth time.Time
	Address     string
}

type Appointment struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	PatientID  uuid.UUID
	DoctorID   uuid.UUID
	TimeSlotID uuid.UUID
	Intake
	Note      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SlotWindow struct {
	Start time.Time
	End   time.Time
}

type SlotBatchResult struct {
	Requested int
	Affected  []uuid.UUID
}

// civilDate returns the calendar date of t in loc as midnight UTC.
func civilDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// startOfDay returns local midnight of t's calendar date in loc.
func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
