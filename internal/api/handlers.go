package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/slot-booking-core/internal/appointment"
)

// BookingService is the part of appointment.Service the HTTP layer uses.
type BookingService interface {
	Book(ctx context.Context, caller appointment.Caller, req appointment.BookRequest) (*appointment.Appointment, error)
	Cancel(ctx context.Context, caller appointment.Caller, appointmentID uuid.UUID) error
	Reschedule(ctx context.Context, caller appointment.Caller, appointmentID, newSlotID uuid.UUID) (*appointment.Appointment, error)
	UpdateIntake(ctx context.Context, caller appointment.Caller, appointmentID uuid.UUID, upd appointment.IntakeUpdate) (*appointment.Appointment, error)
	DisableSlots(ctx context.Context, caller appointment.Caller, slotIDs []uuid.UUID) (appointment.SlotBatchResult, error)
	EnableSlots(ctx context.Context, caller appointment.Caller, slotIDs []uuid.UUID) (appointment.SlotBatchResult, error)
	UpdateWorkingHours(ctx context.Context, caller appointment.Caller, wh appointment.WorkingHours) (*appointment.Doctor, error)
	ListDoctorSlots(ctx context.Context, caller appointment.Caller, doctorID uuid.UUID, date string) ([]appointment.TimeSlot, error)
	MyAppointments(ctx context.Context, caller appointment.Caller) ([]appointment.Appointment, error)
	DoctorAppointments(ctx context.Context, caller appointment.Caller) ([]appointment.Appointment, error)
	GetAppointment(ctx context.Context, caller appointment.Caller, id uuid.UUID) (*appointment.Appointment, error)
}

type Handler struct {
	svc BookingService
	log *logrus.Logger
}

func NewHandler(svc BookingService, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func (h *Handler) book(w http.ResponseWriter, r *http.Request) {
	var req appointment.BookRequest
	if !decode(w, r, &req) {
		return
	}
	appt, err := h.svc.Book(r.Context(), mustCaller(r), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *Handler) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	appt, err := h.svc.GetAppointment(r.Context(), mustCaller(r), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) updateAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var upd appointment.IntakeUpdate
	if !decode(w, r, &upd) {
		return
	}
	appt, err := h.svc.UpdateIntake(r.Context(), mustCaller(r), id, upd)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Cancel(r.Context(), mustCaller(r), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req RescheduleRequest
	if !decode(w, r, &req) {
		return
	}
	if req.NewTimeSlotID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "validation_error", "newTimeSlotId is required")
		return
	}
	appt, err := h.svc.Reschedule(r.Context(), mustCaller(r), id, req.NewTimeSlotID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) doctorSlots(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	slots, err := h.svc.ListDoctorSlots(r.Context(), mustCaller(r), id, r.URL.Query().Get("date"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotList(slots))
}

func (h *Handler) myAppointments(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.MyAppointments(r.Context(), mustCaller(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentList(list))
}

func (h *Handler) doctorAppointments(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.DoctorAppointments(r.Context(), mustCaller(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentList(list))
}

func (h *Handler) updateWorkingHours(w http.ResponseWriter, r *http.Request) {
	var wh appointment.WorkingHours
	if !decode(w, r, &wh) {
		return
	}
	doctor, err := h.svc.UpdateWorkingHours(r.Context(), mustCaller(r), wh)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDoctorResponse(doctor))
}

func (h *Handler) disableSlots(w http.ResponseWriter, r *http.Request) {
	h.slotBatch(w, r, h.svc.DisableSlots)
}

func (h *Handler) enableSlots(w http.ResponseWriter, r *http.Request) {
	h.slotBatch(w, r, h.svc.EnableSlots)
}

func (h *Handler) slotBatch(w http.ResponseWriter, r *http.Request, op func(context.Context, appointment.Caller, []uuid.UUID) (appointment.SlotBatchResult, error)) {
	var req SlotIDsRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := op(r.Context(), mustCaller(r), req.SlotIDs)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SlotBatchResponse{
		Requested: res.Requested,
		Updated:   len(res.Affected),
		SlotIDs:   res.Affected,
	})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := appointment.KindOf(err)
	resp := ErrorResponse{Error: kind.String()}

	switch kind {
	case appointment.KindValidation:
		resp.Message = rootMessage(err)
		resp.Details = appointment.FieldsOf(err)
		writeJSON(w, http.StatusBadRequest, resp)
	case appointment.KindConflict:
		w.Header().Set("Retry-After", "1")
		resp.Message = rootMessage(err)
		writeJSON(w, http.StatusConflict, resp)
	case appointment.KindNotFound:
		resp.Message = rootMessage(err)
		writeJSON(w, http.StatusNotFound, resp)
	case appointment.KindForbidden:
		resp.Message = rootMessage(err)
		writeJSON(w, http.StatusForbidden, resp)
	default:
		h.log.WithError(err).WithField("request_id", GetRequestID(r.Context())).Error("internal error")
		resp.Message = "internal server error"
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

// rootMessage strips the operation prefix from engine errors.
func rootMessage(err error) string {
	var e *appointment.Error
	if errors.As(err, &e) && e.Err != nil {
		return e.Err.Error()
	}
	return err.Error()
}

func mustCaller(r *http.Request) appointment.Caller {
	c, _ := CallerFrom(r.Context())
	return c
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
