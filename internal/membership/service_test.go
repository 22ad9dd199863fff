package membership

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/careport/chamber-booking/internal/booking"
	"github.com/careport/chamber-booking/internal/notify"
)

// memRepo keeps one membership per patient, matching the Postgres upsert.
type memRepo struct {
	byPatient map[uuid.UUID]*Membership
}

func newMemRepo() *memRepo {
	return &memRepo{byPatient: make(map[uuid.UUID]*Membership)}
}

func (m *memRepo) GetByPatient(_ context.Context, patientID uuid.UUID) (*Membership, error) {
	ms, ok := m.byPatient[patientID]
	if !ok {
		return nil, ErrNoMembership
	}
	cp := *ms
	return &cp, nil
}

func (m *memRepo) Upsert(_ context.Context, ms *Membership) error {
	if existing, ok := m.byPatient[ms.PatientID]; ok {
		// Re-purchase keeps the row identity.
		ms.ID = existing.ID
	}
	cp := *ms
	cp.CancelReason = ""
	cp.CancelledAt = nil
	m.byPatient[ms.PatientID] = &cp
	return nil
}

func (m *memRepo) find(id uuid.UUID) *Membership {
	for _, ms := range m.byPatient {
		if ms.ID == id {
			return ms
		}
	}
	return nil
}

func (m *memRepo) SetRenewal(_ context.Context, id uuid.UUID, newEnd time.Time) (*Membership, error) {
	ms := m.find(id)
	if ms == nil {
		return nil, ErrNoMembership
	}
	ms.EndDate = newEnd
	ms.Status = StatusActive
	cp := *ms
	return &cp, nil
}

func (m *memRepo) MarkCancelled(_ context.Context, id uuid.UUID, reason string, at time.Time) (*Membership, error) {
	ms := m.find(id)
	if ms == nil {
		return nil, ErrNoMembership
	}
	ms.Status = StatusCancelled
	ms.AutoRenew = false
	ms.CancelReason = reason
	ms.CancelledAt = &at
	cp := *ms
	return &cp, nil
}

func (m *memRepo) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for _, ms := range m.byPatient {
		if ms.Status == StatusActive && !ms.EndDate.After(now) {
			ms.Status = StatusExpired
			n++
		}
	}
	return n, nil
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(_ context.Context, _ notify.Event) {}

var testNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo Repository) *Service {
	return NewService(repo, DefaultPlanTerms(), nopDispatcher{}).
		WithClock(func() time.Time { return testNow })
}

func TestPurchase(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	tests := []struct {
		name       string
		plan       Plan
		method     booking.PaymentMethod
		wantStatus Status
		wantEnd    time.Time
		wantRenew  bool
	}{
		{
			name:       "cash activates immediately",
			plan:       PlanMonthly,
			method:     booking.PayCash,
			wantStatus: StatusActive,
			wantEnd:    testNow.AddDate(0, 0, 30),
			wantRenew:  true,
		},
		{
			name:       "online stays pending",
			plan:       PlanQuarterly,
			method:     booking.PayOnline,
			wantStatus: StatusPending,
			wantEnd:    testNow.AddDate(0, 0, 90),
			wantRenew:  true,
		},
		{
			name:       "lifetime never auto-renews",
			plan:       PlanLifetime,
			method:     booking.PayCash,
			wantStatus: StatusActive,
			wantEnd:    testNow.AddDate(100, 0, 0),
			wantRenew:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := svc.Purchase(ctx, uuid.New(), tt.plan, tt.method)
			if err != nil {
				t.Fatalf("Purchase: %v", err)
			}
			if m.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", m.Status, tt.wantStatus)
			}
			if !m.EndDate.Equal(tt.wantEnd) {
				t.Errorf("end date = %s, want %s", m.EndDate, tt.wantEnd)
			}
			if m.AutoRenew != tt.wantRenew {
				t.Errorf("auto renew = %v, want %v", m.AutoRenew, tt.wantRenew)
			}
		})
	}

	if _, err := svc.Purchase(ctx, uuid.New(), Plan("weekly"), booking.PayCash); err == nil {
		t.Error("unknown plan accepted")
	}
	if _, err := svc.Purchase(ctx, uuid.New(), PlanMonthly, booking.PaymentMethod("barter")); err == nil {
		t.Error("unknown payment method accepted")
	}
}

func TestRepurchaseReplacesMembership(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	patientID := uuid.New()

	if _, err := svc.Purchase(ctx, patientID, PlanMonthly, booking.PayCash); err != nil {
		t.Fatalf("first Purchase: %v", err)
	}
	m, err := svc.Purchase(ctx, patientID, PlanYearly, booking.PayCash)
	if err != nil {
		t.Fatalf("second Purchase: %v", err)
	}
	if m.Plan != PlanYearly {
		t.Errorf("plan = %s, want yearly after re-purchase", m.Plan)
	}
	if len(repo.byPatient) != 1 {
		t.Fatalf("%d memberships stored, want 1", len(repo.byPatient))
	}
}

func TestRenewExtendsFromEndDate(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	patientID := uuid.New()

	if _, err := svc.Purchase(ctx, patientID, PlanMonthly, booking.PayCash); err != nil {
		t.Fatalf("Purchase: %v", err)
	}

	// Renewing before expiry stacks onto the current end date.
	m, err := svc.Renew(ctx, patientID)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	want := testNow.AddDate(0, 0, 60)
	if !m.EndDate.Equal(want) {
		t.Fatalf("end date = %s, want %s", m.EndDate, want)
	}
}

func TestRenewLapsedStartsFromNow(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	patientID := uuid.New()

	if _, err := svc.Purchase(ctx, patientID, PlanMonthly, booking.PayCash); err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	repo.byPatient[patientID].EndDate = testNow.AddDate(0, 0, -10)
	repo.byPatient[patientID].Status = StatusExpired

	m, err := svc.Renew(ctx, patientID)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	want := testNow.AddDate(0, 0, 30)
	if !m.EndDate.Equal(want) {
		t.Fatalf("end date = %s, want %s (no back-dating)", m.EndDate, want)
	}
	if m.Status != StatusActive {
		t.Fatalf("status = %s, want active after renewal", m.Status)
	}
}

func TestRenewLifetime(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	patientID := uuid.New()

	if _, err := svc.Purchase(ctx, patientID, PlanLifetime, booking.PayCash); err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if _, err := svc.Renew(ctx, patientID); !errors.Is(err, ErrRenewalNotApplicable) {
		t.Fatalf("Renew lifetime err = %v, want ErrRenewalNotApplicable", err)
	}
}

func TestCancelKeepsBenefitsUntilExpiry(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	patientID := uuid.New()

	bought, err := svc.Purchase(ctx, patientID, PlanMonthly, booking.PayCash)
	if err != nil {
		t.Fatalf("Purchase: %v", err)
	}

	m, err := svc.Cancel(ctx, patientID, "too expensive")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if m.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", m.Status)
	}
	if m.AutoRenew {
		t.Error("auto renew still set after cancel")
	}
	if !m.EndDate.Equal(bought.EndDate) {
		t.Errorf("end date moved from %s to %s on cancel", bought.EndDate, m.EndDate)
	}
	if m.CancelReason != "too expensive" {
		t.Errorf("cancel reason = %q", m.CancelReason)
	}

	if _, err := svc.Cancel(ctx, patientID, "again"); !errors.Is(err, ErrAlreadyCancelled) {
		t.Fatalf("second Cancel err = %v, want ErrAlreadyCancelled", err)
	}

	// Cancelled is not premium even before the end date.
	premium, err := svc.IsPremium(ctx, patientID, testNow)
	if err != nil {
		t.Fatalf("IsPremium: %v", err)
	}
	if premium {
		t.Error("cancelled membership still premium")
	}
}

func TestIsPremium(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	patientID := uuid.New()

	// No membership at all is simply not premium, not an error.
	premium, err := svc.IsPremium(ctx, patientID, testNow)
	if err != nil {
		t.Fatalf("IsPremium: %v", err)
	}
	if premium {
		t.Fatal("member-less patient reported premium")
	}

	if _, err := svc.Purchase(ctx, patientID, PlanMonthly, booking.PayCash); err != nil {
		t.Fatalf("Purchase: %v", err)
	}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"during the term", testNow.AddDate(0, 0, 15), true},
		{"moment of expiry", testNow.AddDate(0, 0, 30), false},
		{"after expiry", testNow.AddDate(0, 0, 45), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.IsPremium(ctx, patientID, tt.at)
			if err != nil {
				t.Fatalf("IsPremium: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsPremium = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsPremiumIgnoresStaleActiveStatus(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	patientID := uuid.New()

	if _, err := svc.Purchase(ctx, patientID, PlanMonthly, booking.PayCash); err != nil {
		t.Fatalf("Purchase: %v", err)
	}

	// The expiry worker hasn't run yet: the row still says active although
	// the end date has passed. The derived check must not discount.
	afterExpiry := testNow.AddDate(0, 0, 31)
	premium, err := svc.IsPremium(ctx, patientID, afterExpiry)
	if err != nil {
		t.Fatalf("IsPremium: %v", err)
	}
	if premium {
		t.Fatal("expired-but-unmarked membership still premium")
	}
}

func TestExpireDue(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	fresh := uuid.New()
	stale := uuid.New()
	if _, err := svc.Purchase(ctx, fresh, PlanYearly, booking.PayCash); err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	if _, err := svc.Purchase(ctx, stale, PlanMonthly, booking.PayCash); err != nil {
		t.Fatalf("Purchase: %v", err)
	}
	repo.byPatient[stale].EndDate = testNow.AddDate(0, 0, -1)

	n, err := svc.ExpireDue(ctx)
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d memberships, want 1", n)
	}
	if repo.byPatient[stale].Status != StatusExpired {
		t.Error("stale membership not marked expired")
	}
	if repo.byPatient[fresh].Status != StatusActive {
		t.Error("fresh membership was expired")
	}
}

func TestFinalAmount(t *testing.T) {
	tests := []struct {
		name    string
		baseFee int64
		premium bool
		pct     int64
		want    int64
	}{
		{"no membership pays full", 500, false, 10, 500},
		{"ten percent off", 500, true, 10, 450},
		{"discount rounds down", 999, true, 10, 900},
		{"zero fee", 0, true, 10, 0},
		{"zero percent", 500, true, 0, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FinalAmount(tt.baseFee, tt.premium, tt.pct); got != tt.want {
				t.Errorf("FinalAmount = %d, want %d", got, tt.want)
			}
		})
	}
}
