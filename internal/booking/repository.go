package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrChamberNotFound     = errors.New("chamber not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidChamber      = errors.New("chamber must have at least one slot and a non-empty time window")
)

// Repository contains all DB interactions needed by the booking service.
type Repository interface {
	CreateChamber(ctx context.Context, c *Chamber) error
	GetChamberByID(ctx context.Context, id uuid.UUID) (*Chamber, error)
	// DeactivateChamber clears the active flag; chambers are never deleted
	// while appointments reference them.
	DeactivateChamber(ctx context.Context, id uuid.UUID) error

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Slot occupancy for one chamber day. The day is the half-open range
	// [dayStart, dayEnd) so time-of-day noise in stored visit dates cannot
	// skew the count. Cancelled appointments never count.
	CountBookedSlots(ctx context.Context, chamberID uuid.UUID, dayStart, dayEnd time.Time) (int, error)
	ListTakenSlotNumbers(ctx context.Context, chamberID uuid.UUID, dayStart, dayEnd time.Time) ([]int, error)

	// InsertAppointment persists a new pending appointment. A conflicting
	// non-cancelled row for the same (chamber, date, slot) fails with
	// ErrSlotUnavailable via the partial unique index.
	InsertAppointment(ctx context.Context, a *Appointment) error

	// UpdateAppointmentStatus is a compare-and-swap: the row is updated only
	// if it still has the from status, otherwise ErrAppointmentNotFound.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// CompleteWithRecord attaches the medical record, flips the appointment
	// to completed and its payment to paid, all in one transaction. The CAS
	// on the pending status fails with ErrAppointmentNotFound if lost.
	CompleteWithRecord(ctx context.Context, appointmentID uuid.UUID, rec *MedicalRecord) (*Appointment, error)

	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAppointmentsByPharmacy(ctx context.Context, pharmacyID uuid.UUID, limit, offset int) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
