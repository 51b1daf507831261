package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/slot-booking-core/internal/appointment"
	"github.com/hackgods/slot-booking-core/internal/notify"
)

type RouterConfig struct {
	Service BookingService
	Health  *HealthHandler
	Hub     *notify.Hub // nil disables /ws
	Log     *logrus.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	h := NewHandler(cfg.Service, cfg.Log)

	r.Group(func(r chi.Router) {
		r.Use(IdentityMiddleware)

		r.Post("/bookings", h.book)

		r.Route("/appointments/{id}", func(r chi.Router) {
			r.Get("/", h.getAppointment)
			r.Put("/", h.updateAppointment)
			r.Delete("/", h.cancelAppointment)
			r.Patch("/reschedule", h.rescheduleAppointment)
		})

		r.Get("/my-appointments", h.myAppointments)
		r.Get("/doctors/{id}/slots", h.doctorSlots)

		r.Route("/doctor", func(r chi.Router) {
			r.Get("/appointments", h.doctorAppointments)
			r.Patch("/schedule/update-hours", h.updateWorkingHours)
			r.Post("/schedule/disable-slots", h.disableSlots)
			r.Post("/schedule/enable-slots", h.enableSlots)
		})

		if cfg.Hub != nil {
			r.Handle("/ws", notify.NewWebSocketHandler(cfg.Hub, observerTopics, cfg.Log))
		}
	})

	return r
}

// observerTopics limits a websocket observer to its own tenant. Platform callers see everything.
func observerTopics(r *http.Request) ([]string, error) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		return nil, errors.New("missing caller identity")
	}
	if caller.Role == appointment.RoleSuperAdmin {
		return []string{notify.AllTopics}, nil
	}
	return []string{notify.TenantTopic(caller.TenantID)}, nil
}
