// Package notify is the fire-and-forget notification boundary. The core
// reports state changes here and never waits on, or fails because of,
// delivery.
package notify

import (
	"context"
	"log"

	"github.com/google/uuid"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventReferralRewarded     = "REFERRAL_REWARDED"
	EventMembershipChanged    = "MEMBERSHIP_CHANGED"
)

type Event struct {
	Type   string
	UserID uuid.UUID
	Data   map[string]any
}

type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event)
}

// LogDispatcher writes notifications to the process log. A real deployment
// swaps in a push/SMS gateway behind the same interface.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, ev Event) {
	log.Printf("notify type=%s user=%s data=%v", ev.Type, ev.UserID, ev.Data)
}
