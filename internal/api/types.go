package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-booking-core/internal/appointment"
)

type RescheduleRequest struct {
	NewTimeSlotID uuid.UUID `json:"newTimeSlotId"`
}

type SlotIDsRequest struct {
	SlotIDs []uuid.UUID `json:"slotIds"`
}

type AppointmentResponse struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenantId"`
	PatientID   uuid.UUID `json:"userId"`
	DoctorID    uuid.UUID `json:"doctorId"`
	TimeSlotID  uuid.UUID `json:"timeSlotId"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	Gender      string    `json:"gender"`
	DateOfBirth string    `json:"dob"`
	Address     string    `json:"address"`
	Note        string    `json:"note,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type SlotResponse struct {
	ID            uuid.UUID  `json:"id"`
	DoctorID      uuid.UUID  `json:"doctorId"`
	Date          string     `json:"date"`
	StartTime     time.Time  `json:"startTime"`
	EndTime       time.Time  `json:"endTime"`
	State         string     `json:"state"`
	IsUnavailable bool       `json:"isUnavailable"`
	AppointmentID *uuid.UUID `json:"appointmentId,omitempty"`
}

type SlotBatchResponse struct {
	Requested int         `json:"requested"`
	Updated   int         `json:"updated"`
	SlotIDs   []uuid.UUID `json:"slotIds"`
}

type DoctorResponse struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	Specialization    string    `json:"specialization,omitempty"`
	WorkingHoursStart string    `json:"workingHoursStart"`
	WorkingHoursEnd   string    `json:"workingHoursEnd"`
	SlotDuration      int       `json:"slotDuration"`
	Timezone          string    `json:"timezone,omitempty"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:         a.ID,
		TenantID:   a.TenantID,
		PatientID:  a.PatientID,
		DoctorID:   a.DoctorID,
		TimeSlotID: a.TimeSlotID,
		Name:       a.Name,
		Email:      a.Email,
		Phone:      a.Phone,
		Gender:     a.Gender,
		Address:    a.Address,
		Note:       a.Note,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
	if !a.DateOfBirth.IsZero() {
		resp.DateOfBirth = a.DateOfBirth.Format("2006-01-02")
	}
	return resp
}

func toAppointmentList(in []appointment.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(in))
	for i := range in {
		out = append(out, toAppointmentResponse(&in[i]))
	}
	return out
}

func toSlotList(in []appointment.TimeSlot) []SlotResponse {
	out := make([]SlotResponse, 0, len(in))
	for _, s := range in {
		out = append(out, SlotResponse{
			ID:            s.ID,
			DoctorID:      s.DoctorID,
			Date:          s.Date.Format("2006-01-02"),
			StartTime:     s.StartTime,
			EndTime:       s.EndTime,
			State:         string(s.State),
			IsUnavailable: s.Unavailable(),
			AppointmentID: s.AppointmentID,
		})
	}
	return out
}

func toDoctorResponse(d *appointment.Doctor) DoctorResponse {
	return DoctorResponse{
		ID:                d.ID,
		Name:              d.Name,
		Specialization:    d.Specialization,
		WorkingHoursStart: d.Start,
		WorkingHoursEnd:   d.End,
		SlotDuration:      d.SlotDuration,
		Timezone:          d.Timezone,
	}
}
