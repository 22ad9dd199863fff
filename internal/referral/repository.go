package referral

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/careport/chamber-booking/internal/booking"
)

var (
	ErrCodeNotFound   = errors.New("referral code not found")
	ErrCodeTaken      = errors.New("referral code value already exists")
	ErrOwnerHasCode   = errors.New("user already has a referral code")
	ErrRewardExists   = errors.New("reward already settled for this appointment and side")
	ErrRewardNotFound = errors.New("reward not found")
)

// SettlementSource is the slice of an appointment that settlement needs.
type SettlementSource struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	Status        booking.AppointmentStatus
	PaymentStatus booking.PaymentStatus
	ReferralCode  string
}

// Repository contains all DB interactions needed by the reward engine.
type Repository interface {
	// CreateCode fails with ErrCodeTaken when the code value collides and
	// ErrOwnerHasCode when the owner already holds one.
	CreateCode(ctx context.Context, c *ReferralCode) error
	GetCodeByOwner(ctx context.Context, ownerID uuid.UUID) (*ReferralCode, error)
	GetCodeByValue(ctx context.Context, code string) (*ReferralCode, error)
	GetAppointmentForSettlement(ctx context.Context, appointmentID uuid.UUID) (*SettlementSource, error)

	// CreateSettlement writes one side's reward, its ledger entry and, for
	// referrer-side rewards, the code's used_count/total_earnings bump in a
	// single transaction: a side is either fully settled or not at all. A
	// reward with the same (appointment_id, referral_code_id, side) already
	// existing fails the whole transaction with ErrRewardExists.
	CreateSettlement(ctx context.Context, rw *Reward, entry *LedgerEntry) error

	// GetRewardByKey loads a reward by its settlement idempotency key, or
	// ErrRewardNotFound.
	GetRewardByKey(ctx context.Context, appointmentID, codeID uuid.UUID, side RewardSide) (*Reward, error)

	// CountSettledRewards counts approved or paid referrer-side rewards
	// attributed to the referrer, for the first-N bonus.
	CountSettledRewards(ctx context.Context, referrerID uuid.UUID) (int, error)
	CountRewardsByStatus(ctx context.Context, userID uuid.UUID) (pending, approved, paid int, err error)
}
