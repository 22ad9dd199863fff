package membership

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
	ErrRenewalNotApplicable = errors.New("lifetime memberships cannot be renewed")
	ErrAlreadyCancelled     = errors.New("membership is already cancelled")
)

type Service struct {
	repo     Repository
	terms    PlanTerms
	notifier notify.Dispatcher
	now      func() time.Time
}

func NewService(repo Repository, terms PlanTerms, notifier notify.Dispatcher) *Service {
	return &Service{
		repo:     repo,
		terms:    terms,
		notifier: notifier,
		now:      time.Now,
	}
}

// WithClock overrides the service clock. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Purchase creates or replaces the patient's membership. Cash activates
// immediately; online purchases stay pending until the payment gateway
// confirms (a flow outside this core).
func (s *Service) Purchase(ctx context.Context, patientID uuid.UUID, plan Plan, method booking.PaymentMethod) (*Membership, error) {
	if !plan.Valid() {
		return nil, fmt.Errorf("invalid plan %q", plan)
	}
	if !method.Valid() {
		return nil, fmt.Errorf("invalid payment method %q", method)
	}

	now := s.now()
	status := StatusPending
	if method == booking.PayCash {
		status = StatusActive
	}

	m := &Membership{
		ID:        uuid.New(),
		PatientID: patientID,
		Plan:      plan,
		Status:    status,
		StartDate: now,
		EndDate:   s.terms.Extend(plan, now),
		AutoRenew: plan != PlanLifetime,
	}

	if err := s.repo.Upsert(ctx, m); err != nil {
		return nil, fmt.Errorf("upsert membership: %w", err)
	}

	s.notifier.Dispatch(ctx, notify.Event{
		Type:   notify.EventMembershipChanged,
		UserID: patientID,
		Data:   map[string]any{"plan": string(plan), "status": string(status)},
	})

	return s.repo.GetByPatient(ctx, patientID)
}

// Renew extends the membership by one plan period from max(endDate, now):
// renewing early loses nothing, renewing late never back-dates.
func (s *Service) Renew(ctx context.Context, patientID uuid.UUID) (*Membership, error) {
	m, err := s.repo.GetByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if m.Plan == PlanLifetime {
		return nil, ErrRenewalNotApplicable
	}

	base := m.EndDate
	if now := s.now(); base.Before(now) {
		base = now
	}

	renewed, err := s.repo.SetRenewal(ctx, m.ID, s.terms.Extend(m.Plan, base))
	if err != nil {
		return nil, fmt.Errorf("renew membership: %w", err)
	}

	s.notifier.Dispatch(ctx, notify.Event{
		Type:   notify.EventMembershipChanged,
		UserID: patientID,
		Data:   map[string]any{"plan": string(m.Plan), "status": string(StatusActive)},
	})

	return renewed, nil
}

// Cancel records the cancellation but leaves the end date alone, so paid-for
// benefits continue until expiry.
func (s *Service) Cancel(ctx context.Context, patientID uuid.UUID, reason string) (*Membership, error) {
	m, err := s.repo.GetByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if m.Status == StatusCancelled {
		return nil, ErrAlreadyCancelled
	}

	cancelled, err := s.repo.MarkCancelled(ctx, m.ID, reason, s.now())
	if err != nil {
		return nil, fmt.Errorf("cancel membership: %w", err)
	}

	s.notifier.Dispatch(ctx, notify.Event{
		Type:   notify.EventMembershipChanged,
		UserID: patientID,
		Data:   map[string]any{"status": string(StatusCancelled)},
	})

	return cancelled, nil
}

func (s *Service) Get(ctx context.Context, patientID uuid.UUID) (*Membership, error) {
	return s.repo.GetByPatient(ctx, patientID)
}

// IsPremium derives the premium flag at the given instant. No membership at
// all simply means not premium.
func (s *Service) IsPremium(ctx context.Context, patientID uuid.UUID, at time.Time) (bool, error) {
	m, err := s.repo.GetByPatient(ctx, patientID)
	if err != nil {
		if errors.Is(err, ErrNoMembership) {
			return false, nil
		}
		return false, err
	}
	return m.IsPremiumAt(at), nil
}

// ExpireDue is the worker entry point.
func (s *Service) ExpireDue(ctx context.Context) (int64, error) {
	return s.repo.ExpireDue(ctx, s.now())
}
