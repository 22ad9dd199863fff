package referral

import (
	"time"

	"github.com/google/uuid"

	"github.com/careport/chamber-booking/internal/booking"
)

type RewardType string

const (
	RewardPatientToPatient RewardType = "patient_to_patient"
	RewardDoctorToPatient  RewardType = "doctor_to_patient"
	RewardPharmacyToDoctor RewardType = "pharmacy_to_doctor"
)

type RewardStatus string

const (
	RewardPending  RewardStatus = "pending"
	RewardApproved RewardStatus = "approved"
	RewardPaid     RewardStatus = "paid"
)

// RewardSide distinguishes the two rows a patient-to-patient settlement can
// produce. Together with the appointment and code ids it forms the
// idempotency key, so a retried settlement cannot double-pay either side.
type RewardSide string

const (
	SideReferrer RewardSide = "referrer"
	SideReferred RewardSide = "referred"
)

// ReferralCode is a user's single, never-deleted referral code. Created
// lazily on first request.
type ReferralCode struct {
	ID            uuid.UUID
	Code          string
	OwnerID       uuid.UUID
	OwnerRole     booking.Role
	Active        bool
	UsedCount     int
	TotalEarnings int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Reward struct {
	ID             uuid.UUID
	ReferrerID     uuid.UUID
	ReferrerRole   booking.Role
	ReferredID     uuid.UUID
	ReferredRole   booking.Role
	Type           RewardType
	Side           RewardSide
	Amount         int64
	Status         RewardStatus
	AppointmentID  uuid.UUID
	ReferralCodeID uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LedgerEntry is the money trail for a settled reward. Payout of approved
// balances is a separate process that only reads these.
type LedgerEntry struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Amount    int64
	Kind      string
	RewardID  uuid.UUID
	Note      string
	CreatedAt time.Time
}

const LedgerKindReferralCredit = "referral_credit"

type Stats struct {
	Code          string
	Active        bool
	UsedCount     int
	TotalEarnings int64
	Pending       int
	Approved      int
	Paid          int
}
