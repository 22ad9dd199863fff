package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/careport/chamber-booking/internal/schedule"
)

type Role string

const (
	RolePatient  Role = "patient"
	RoleDoctor   Role = "doctor"
	RolePharmacy Role = "pharmacy"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RolePharmacy:
		return true
	}
	return false
}

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

type PaymentMethod string

const (
	PayOnline PaymentMethod = "online"
	PayCash   PaymentMethod = "cash"
)

func (m PaymentMethod) Valid() bool {
	return m == PayOnline || m == PayCash
}

// Chamber is a doctor's recurring availability window hosted at a pharmacy.
// Chambers are deactivated rather than deleted while appointments still
// reference them.
type Chamber struct {
	ID          uuid.UUID
	PharmacyID  uuid.UUID
	DoctorID    uuid.UUID
	Rule        schedule.Rule
	StartClock  schedule.ClockTime
	EndClock    schedule.ClockTime
	Fee         int64 // rupees
	SlotMinutes int
	MaxSlots    int
	Active      bool
	Verified    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (c *Chamber) Validate() error {
	if err := c.Rule.Validate(); err != nil {
		return err
	}
	if c.MaxSlots < 1 {
		return ErrInvalidChamber
	}
	if c.StartClock >= c.EndClock {
		return ErrInvalidChamber
	}
	return nil
}

type Appointment struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	PharmacyID    uuid.UUID
	ChamberID     uuid.UUID
	VisitDate     time.Time // midnight, local
	SlotNo        int       // 1..Chamber.MaxSlots
	Status        AppointmentStatus
	PaymentStatus PaymentStatus
	PaymentMethod PaymentMethod
	Amount        int64  // rupees actually charged
	ReferralCode  string // empty when none was used
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MedicalRecord is attached when a doctor completes an appointment.
// Attachment and the status flip happen in one transaction.
type MedicalRecord struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	Diagnosis     string
	Prescription  string
	Notes         string
	CreatedAt     time.Time
}

// Availability describes one chamber day from the booker's point of view.
type Availability struct {
	ChamberID  uuid.UUID
	Date       time.Time
	MaxSlots   int
	Booked     int
	Remaining  int
	TakenSlots []int
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
