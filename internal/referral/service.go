package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/careport/chamber-booking/internal/booking"
	"github.com/careport/chamber-booking/internal/notify"
)

var (
	ErrCodeGenerationExhausted = errors.New("could not generate a unique referral code")
	ErrInvalidReferralPairing  = errors.New("referral pairing is not allowed for these roles")
	ErrSelfReferral            = errors.New("users cannot refer themselves")
	ErrCodeInactive            = errors.New("referral code is not active")
)

// maxCodeAttempts bounds collision retries during lazy code creation.
const maxCodeAttempts = 10

type Service struct {
	repo     Repository
	rewards  RewardTable
	notifier notify.Dispatcher
	now      func() time.Time
}

func NewService(repo Repository, rewards RewardTable, notifier notify.Dispatcher) *Service {
	return &Service{
		repo:     repo,
		rewards:  rewards,
		notifier: notifier,
		now:      time.Now,
	}
}

// WithClock overrides the service clock. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// MyCode returns the caller's referral code, creating it on first request.
// At most one code exists per user; concurrent first requests converge on
// whichever insert won.
func (s *Service) MyCode(ctx context.Context, ownerID uuid.UUID, role booking.Role) (*ReferralCode, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	code, err := s.repo.GetCodeByOwner(ctx, ownerID)
	if err == nil {
		return code, nil
	}
	if !errors.Is(err, ErrCodeNotFound) {
		return nil, fmt.Errorf("load referral code: %w", err)
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		value, err := newCode()
		if err != nil {
			return nil, err
		}

		c := &ReferralCode{
			ID:        uuid.New(),
			Code:      value,
			OwnerID:   ownerID,
			OwnerRole: role,
			Active:    true,
		}

		err = s.repo.CreateCode(ctx, c)
		switch {
		case err == nil:
			return c, nil
		case errors.Is(err, ErrCodeTaken):
			continue
		case errors.Is(err, ErrOwnerHasCode):
			return s.repo.GetCodeByOwner(ctx, ownerID)
		default:
			return nil, fmt.Errorf("create referral code: %w", err)
		}
	}

	return nil, ErrCodeGenerationExhausted
}

// Apply validates a code presented at registration or booking time: the
// code must exist and be active, the owner must not be the referred user,
// and the role pairing must be sanctioned.
func (s *Service) Apply(ctx context.Context, codeValue string, referredID uuid.UUID, referredRole booking.Role) (*ReferralCode, error) {
	code, err := s.repo.GetCodeByValue(ctx, codeValue)
	if err != nil {
		return nil, err
	}
	if !code.Active {
		return nil, ErrCodeInactive
	}
	if code.OwnerID == referredID {
		return nil, ErrSelfReferral
	}
	if _, ok := pairingFor(code.OwnerRole, referredRole); !ok {
		return nil, ErrInvalidReferralPairing
	}
	return code, nil
}

// Settle creates the reward(s) for one completed, referral-bearing
// appointment. It is invoked at-least-once by the completion flow and is
// idempotent: each side's reward is keyed by (appointment, code, side), so
// a retry after a partial run only fills in what is missing.
func (s *Service) Settle(ctx context.Context, appointmentID uuid.UUID) error {
	src, err := s.repo.GetAppointmentForSettlement(ctx, appointmentID)
	if err != nil {
		return fmt.Errorf("load appointment for settlement: %w", err)
	}
	if src.Status != booking.StatusCompleted || src.PaymentStatus != booking.PaymentPaid || src.ReferralCode == "" {
		return nil
	}

	code, err := s.repo.GetCodeByValue(ctx, src.ReferralCode)
	if err != nil {
		return fmt.Errorf("load referral code %q: %w", src.ReferralCode, err)
	}
	if !code.Active {
		// Deactivated since booking; nothing to pay out.
		return nil
	}

	// The referred party depends on who referred: pharmacies refer the
	// doctor holding the chamber, everyone else refers the patient.
	referredID := src.PatientID
	referredRole := booking.RolePatient
	if code.OwnerRole == booking.RolePharmacy {
		referredID = src.DoctorID
		referredRole = booking.RoleDoctor
	}

	if code.OwnerID == referredID {
		return ErrSelfReferral
	}
	typ, ok := pairingFor(code.OwnerRole, referredRole)
	if !ok {
		return ErrInvalidReferralPairing
	}

	settled, err := s.repo.CountSettledRewards(ctx, code.OwnerID)
	if err != nil {
		return fmt.Errorf("count settled rewards: %w", err)
	}
	amount := s.rewards.Amount(typ, settled)

	paid, err := s.settleSide(ctx, code, typ, SideReferrer, code.OwnerID, referredID, referredRole, appointmentID, amount)
	if err != nil {
		return err
	}

	// Patient-to-patient referrals credit both sides with the same amount.
	// The referred side mirrors whatever the referrer side actually settled
	// at: on a retry the settled count has moved past the referrer's own
	// row, so recomputing here would skew the two sides apart.
	if typ == RewardPatientToPatient {
		if _, err := s.settleSide(ctx, code, typ, SideReferred, referredID, referredID, referredRole, appointmentID, paid); err != nil {
			return err
		}
	}

	return nil
}

// settleSide settles one side: reward, ledger entry and (for the referrer
// side) the code's usage counters, all in one repository transaction. An
// existing row for the same key means this side already fully settled;
// its amount is returned so callers can mirror it.
func (s *Service) settleSide(ctx context.Context, code *ReferralCode, typ RewardType, side RewardSide, creditedID, referredID uuid.UUID, referredRole booking.Role, appointmentID uuid.UUID, amount int64) (int64, error) {
	now := s.now()
	rw := &Reward{
		ID:             uuid.New(),
		ReferrerID:     code.OwnerID,
		ReferrerRole:   code.OwnerRole,
		ReferredID:     referredID,
		ReferredRole:   referredRole,
		Type:           typ,
		Side:           side,
		Amount:         amount,
		Status:         RewardApproved,
		AppointmentID:  appointmentID,
		ReferralCodeID: code.ID,
		CreatedAt:      now,
	}
	entry := &LedgerEntry{
		ID:        uuid.New(),
		UserID:    creditedID,
		Amount:    amount,
		Kind:      LedgerKindReferralCredit,
		RewardID:  rw.ID,
		Note:      fmt.Sprintf("%s reward for appointment %s", typ, appointmentID),
		CreatedAt: now,
	}

	err := s.repo.CreateSettlement(ctx, rw, entry)
	if errors.Is(err, ErrRewardExists) {
		existing, err := s.repo.GetRewardByKey(ctx, appointmentID, code.ID, side)
		if err != nil {
			return 0, fmt.Errorf("load settled %s reward: %w", side, err)
		}
		return existing.Amount, nil
	}
	if err != nil {
		return 0, fmt.Errorf("settle %s side: %w", side, err)
	}

	s.notifier.Dispatch(ctx, notify.Event{
		Type:   notify.EventReferralRewarded,
		UserID: creditedID,
		Data:   map[string]any{"reward_id": rw.ID.String(), "amount": amount},
	})

	return amount, nil
}

// Stats reports a user's referral code with its cumulative usage and the
// reward breakdown by status.
func (s *Service) Stats(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	code, err := s.repo.GetCodeByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}

	pending, approved, paid, err := s.repo.CountRewardsByStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count rewards: %w", err)
	}

	return &Stats{
		Code:          code.Code,
		Active:        code.Active,
		UsedCount:     code.UsedCount,
		TotalEarnings: code.TotalEarnings,
		Pending:       pending,
		Approved:      approved,
		Paid:          paid,
	}, nil
}
