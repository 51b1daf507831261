// Package notify fans booking changes out to live observers.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	EventSlotUpdated            = "slot:updated"
	EventAppointmentRescheduled = "appointment:rescheduled"
	EventAppointmentCanceled    = "appointment:canceled"
	EventAppointmentUpdated     = "appointment:updated"
	EventAvailabilityChanged    = "availability:changed"
)

// AllTopics is the platform topic. Its subscribers receive every event.
const AllTopics = "*"

type Event struct {
	Type      string    `json:"type"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Publisher delivers events at most once. Publish never blocks on slow
// observers and never reports failure to the caller.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

func TenantTopic(tenantID uuid.UUID) string {
	return "tenant:" + tenantID.String()
}

// NewEvent builds an event for the given tenant.
func NewEvent(typ string, tenantID uuid.UUID, data any) Event {
	return Event{
		Type:      typ,
		Topic:     TenantTopic(tenantID),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
