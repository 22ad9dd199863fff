package referral

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/careport/chamber-booking/internal/booking"
	"github.com/careport/chamber-booking/internal/notify"
)

// memRepo mirrors the Postgres repository's contract: one code per owner,
// unique code values, and the (appointment, code, side) reward key.
type memRepo struct {
	codes   map[uuid.UUID]*ReferralCode // by code id
	appts   map[uuid.UUID]*SettlementSource
	rewards map[string]*Reward
	ledger  []*LedgerEntry

	createCodeErr  error
	missOwnerLooks int // initial GetCodeByOwner calls that miss
	settleCalls    int
	failSettleOn   int // 1-based CreateSettlement call that fails
}

func newMemRepo() *memRepo {
	return &memRepo{
		codes:   make(map[uuid.UUID]*ReferralCode),
		appts:   make(map[uuid.UUID]*SettlementSource),
		rewards: make(map[string]*Reward),
	}
}

func rewardKey(appointmentID, codeID uuid.UUID, side RewardSide) string {
	return fmt.Sprintf("%s/%s/%s", appointmentID, codeID, side)
}

func (m *memRepo) CreateCode(_ context.Context, c *ReferralCode) error {
	if m.createCodeErr != nil {
		return m.createCodeErr
	}
	for _, other := range m.codes {
		if other.OwnerID == c.OwnerID {
			return ErrOwnerHasCode
		}
		if other.Code == c.Code {
			return ErrCodeTaken
		}
	}
	cp := *c
	m.codes[c.ID] = &cp
	return nil
}

func (m *memRepo) GetCodeByOwner(_ context.Context, ownerID uuid.UUID) (*ReferralCode, error) {
	if m.missOwnerLooks > 0 {
		m.missOwnerLooks--
		return nil, ErrCodeNotFound
	}
	for _, c := range m.codes {
		if c.OwnerID == ownerID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrCodeNotFound
}

func (m *memRepo) GetCodeByValue(_ context.Context, code string) (*ReferralCode, error) {
	for _, c := range m.codes {
		if c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrCodeNotFound
}

func (m *memRepo) GetAppointmentForSettlement(_ context.Context, appointmentID uuid.UUID) (*SettlementSource, error) {
	src, ok := m.appts[appointmentID]
	if !ok {
		return nil, booking.ErrAppointmentNotFound
	}
	cp := *src
	return &cp, nil
}

// CreateSettlement lands all of a side's writes together or not at all,
// like the transactional implementation.
func (m *memRepo) CreateSettlement(_ context.Context, rw *Reward, entry *LedgerEntry) error {
	m.settleCalls++
	if m.failSettleOn != 0 && m.settleCalls == m.failSettleOn {
		return errors.New("referral store down")
	}

	key := rewardKey(rw.AppointmentID, rw.ReferralCodeID, rw.Side)
	if _, ok := m.rewards[key]; ok {
		return ErrRewardExists
	}
	c, ok := m.codes[rw.ReferralCodeID]
	if !ok {
		return ErrCodeNotFound
	}

	cp := *rw
	m.rewards[key] = &cp
	if rw.Side == SideReferrer {
		c.UsedCount++
		c.TotalEarnings += rw.Amount
	}
	ecp := *entry
	m.ledger = append(m.ledger, &ecp)
	return nil
}

func (m *memRepo) GetRewardByKey(_ context.Context, appointmentID, codeID uuid.UUID, side RewardSide) (*Reward, error) {
	rw, ok := m.rewards[rewardKey(appointmentID, codeID, side)]
	if !ok {
		return nil, ErrRewardNotFound
	}
	cp := *rw
	return &cp, nil
}

func (m *memRepo) CountSettledRewards(_ context.Context, referrerID uuid.UUID) (int, error) {
	n := 0
	for _, rw := range m.rewards {
		if rw.ReferrerID == referrerID && rw.Side == SideReferrer &&
			(rw.Status == RewardApproved || rw.Status == RewardPaid) {
			n++
		}
	}
	return n, nil
}

func (m *memRepo) CountRewardsByStatus(_ context.Context, userID uuid.UUID) (pending, approved, paid int, err error) {
	for _, rw := range m.rewards {
		if rw.ReferrerID != userID || rw.Side != SideReferrer {
			continue
		}
		switch rw.Status {
		case RewardPending:
			pending++
		case RewardApproved:
			approved++
		case RewardPaid:
			paid++
		}
	}
	return pending, approved, paid, nil
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(_ context.Context, _ notify.Event) {}

var testNow = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo Repository) *Service {
	return NewService(repo, DefaultRewardTable(), nopDispatcher{}).
		WithClock(func() time.Time { return testNow })
}

func addCode(repo *memRepo, value string, ownerID uuid.UUID, role booking.Role) *ReferralCode {
	c := &ReferralCode{
		ID:        uuid.New(),
		Code:      value,
		OwnerID:   ownerID,
		OwnerRole: role,
		Active:    true,
	}
	repo.codes[c.ID] = c
	return c
}

func addCompletedAppointment(repo *memRepo, patientID, doctorID uuid.UUID, code string) uuid.UUID {
	id := uuid.New()
	repo.appts[id] = &SettlementSource{
		AppointmentID: id,
		PatientID:     patientID,
		DoctorID:      doctorID,
		Status:        booking.StatusCompleted,
		PaymentStatus: booking.PaymentPaid,
		ReferralCode:  code,
	}
	return id
}

func (m *memRepo) ledgerTotal(userID uuid.UUID) int64 {
	var total int64
	for _, e := range m.ledger {
		if e.UserID == userID {
			total += e.Amount
		}
	}
	return total
}

func TestMyCodeCreatesOnce(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	ownerID := uuid.New()

	first, err := svc.MyCode(ctx, ownerID, booking.RolePatient)
	if err != nil {
		t.Fatalf("MyCode: %v", err)
	}
	if len(first.Code) != codeLength {
		t.Fatalf("code %q has length %d, want %d", first.Code, len(first.Code), codeLength)
	}
	if !first.Active {
		t.Fatal("new code is not active")
	}

	second, err := svc.MyCode(ctx, ownerID, booking.RolePatient)
	if err != nil {
		t.Fatalf("second MyCode: %v", err)
	}
	if second.Code != first.Code {
		t.Fatalf("second call returned %q, want the original %q", second.Code, first.Code)
	}
	if len(repo.codes) != 1 {
		t.Fatalf("%d codes stored, want 1", len(repo.codes))
	}
}

func TestMyCodeConvergesOnLostInsertRace(t *testing.T) {
	repo := newMemRepo()
	ctx := context.Background()
	ownerID := uuid.New()

	// Another request for the same owner won the insert between our lookup
	// and create: the initial lookup misses, then CreateCode collides.
	winner := addCode(repo, "WINNER88", ownerID, booking.RolePatient)
	repo.missOwnerLooks = 1
	repo.createCodeErr = ErrOwnerHasCode

	got, err := newTestService(repo).MyCode(ctx, ownerID, booking.RolePatient)
	if err != nil {
		t.Fatalf("MyCode: %v", err)
	}
	if got.Code != winner.Code {
		t.Fatalf("got %q, want the winner's code %q", got.Code, winner.Code)
	}
}

func TestMyCodeExhaustsOnPersistentCollision(t *testing.T) {
	repo := newMemRepo()
	repo.createCodeErr = ErrCodeTaken

	_, err := newTestService(repo).MyCode(context.Background(), uuid.New(), booking.RoleDoctor)
	if !errors.Is(err, ErrCodeGenerationExhausted) {
		t.Fatalf("err = %v, want ErrCodeGenerationExhausted", err)
	}
}

func TestApply(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	patientOwner := uuid.New()
	addCode(repo, "PATCODE1", patientOwner, booking.RolePatient)
	addCode(repo, "DOCCODE1", uuid.New(), booking.RoleDoctor)
	addCode(repo, "PHACODE1", uuid.New(), booking.RolePharmacy)
	inactive := addCode(repo, "GONECOD1", uuid.New(), booking.RolePatient)
	inactive.Active = false

	tests := []struct {
		name         string
		code         string
		referredRole booking.Role
		wantErr      error
	}{
		{"patient refers patient", "PATCODE1", booking.RolePatient, nil},
		{"doctor refers patient", "DOCCODE1", booking.RolePatient, nil},
		{"pharmacy refers doctor", "PHACODE1", booking.RoleDoctor, nil},
		{"patient cannot refer doctor", "PATCODE1", booking.RoleDoctor, ErrInvalidReferralPairing},
		{"doctor cannot refer doctor", "DOCCODE1", booking.RoleDoctor, ErrInvalidReferralPairing},
		{"pharmacy cannot refer patient", "PHACODE1", booking.RolePatient, ErrInvalidReferralPairing},
		{"unknown code", "NOPECOD1", booking.RolePatient, ErrCodeNotFound},
		{"inactive code", "GONECOD1", booking.RolePatient, ErrCodeInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Apply(ctx, tt.code, uuid.New(), tt.referredRole)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Apply err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := svc.Apply(ctx, "PATCODE1", patientOwner, booking.RolePatient); !errors.Is(err, ErrSelfReferral) {
		t.Errorf("self-referral err = %v, want ErrSelfReferral", err)
	}
}

func TestSettlePatientToPatientCreditsBothSides(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	referrer := uuid.New()
	referred := uuid.New()
	code := addCode(repo, "PATCODE1", referrer, booking.RolePatient)
	apptID := addCompletedAppointment(repo, referred, uuid.New(), code.Code)

	if err := svc.Settle(ctx, apptID); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	// First settlement, under the bonus threshold: 50 * 2 for each side.
	if got := repo.ledgerTotal(referrer); got != 100 {
		t.Errorf("referrer credited %d, want 100", got)
	}
	if got := repo.ledgerTotal(referred); got != 100 {
		t.Errorf("referred credited %d, want 100", got)
	}
	if len(repo.rewards) != 2 {
		t.Fatalf("%d rewards stored, want 2", len(repo.rewards))
	}

	c := repo.codes[code.ID]
	if c.UsedCount != 1 {
		t.Errorf("used count = %d, want 1 (referred side does not bump usage)", c.UsedCount)
	}
	if c.TotalEarnings != 100 {
		t.Errorf("total earnings = %d, want 100", c.TotalEarnings)
	}
}

func TestSettleIsIdempotent(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	referrer := uuid.New()
	code := addCode(repo, "PATCODE1", referrer, booking.RolePatient)
	apptID := addCompletedAppointment(repo, uuid.New(), uuid.New(), code.Code)

	for i := 0; i < 3; i++ {
		if err := svc.Settle(ctx, apptID); err != nil {
			t.Fatalf("Settle attempt %d: %v", i+1, err)
		}
	}

	if got := repo.ledgerTotal(referrer); got != 100 {
		t.Errorf("referrer credited %d after retries, want 100", got)
	}
	if len(repo.rewards) != 2 {
		t.Errorf("%d rewards after retries, want 2", len(repo.rewards))
	}
	if c := repo.codes[code.ID]; c.UsedCount != 1 {
		t.Errorf("used count = %d after retries, want 1", c.UsedCount)
	}
}

func TestSettleRetryKeepsSidesSymmetric(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	referrer := uuid.New()
	referred := uuid.New()
	code := addCode(repo, "PATCODE1", referrer, booking.RolePatient)

	// Two prior settlements: the next one is the referrer's third, so the
	// 2x bonus still applies to it (50*2 = 100) but not to any later one.
	for i := 0; i < 2; i++ {
		prior := uuid.New()
		repo.rewards[rewardKey(prior, code.ID, SideReferrer)] = &Reward{
			ReferrerID: referrer,
			Side:       SideReferrer,
			Status:     RewardApproved,
			Amount:     100,
		}
	}

	apptID := addCompletedAppointment(repo, referred, uuid.New(), code.Code)

	// The referrer side lands, then the store fails before the referred
	// side does.
	repo.failSettleOn = 2
	if err := svc.Settle(ctx, apptID); err == nil {
		t.Fatal("Settle with a failing store must surface the error")
	}

	// The retry crosses the bonus threshold (the referrer row from the
	// first attempt now counts as settled), but the referred side must
	// mirror the referrer's actual amount, not a recomputed one.
	if err := svc.Settle(ctx, apptID); err != nil {
		t.Fatalf("retry Settle: %v", err)
	}

	refRw := repo.rewards[rewardKey(apptID, code.ID, SideReferrer)]
	redRw := repo.rewards[rewardKey(apptID, code.ID, SideReferred)]
	if refRw == nil || redRw == nil {
		t.Fatal("both sides must be settled after the retry")
	}
	if refRw.Amount != 100 {
		t.Errorf("referrer amount = %d, want 100", refRw.Amount)
	}
	if redRw.Amount != refRw.Amount {
		t.Errorf("referred amount = %d, referrer amount = %d, want equal", redRw.Amount, refRw.Amount)
	}

	c := repo.codes[code.ID]
	if c.UsedCount != 1 {
		t.Errorf("used count = %d, want 1", c.UsedCount)
	}
	if c.TotalEarnings != 100 {
		t.Errorf("total earnings = %d, want 100", c.TotalEarnings)
	}
	if got := repo.ledgerTotal(referrer); got != 100 {
		t.Errorf("referrer ledger total = %d, want 100", got)
	}
	if got := repo.ledgerTotal(referred); got != 100 {
		t.Errorf("referred ledger total = %d, want 100", got)
	}
}

func TestSettleFailureWritesNothing(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	referrer := uuid.New()
	code := addCode(repo, "PATCODE1", referrer, booking.RolePatient)
	apptID := addCompletedAppointment(repo, uuid.New(), uuid.New(), code.Code)

	repo.failSettleOn = 1
	if err := svc.Settle(ctx, apptID); err == nil {
		t.Fatal("Settle with a failing store must surface the error")
	}

	// A failed settlement is all-or-nothing: no reward, no counters, no
	// ledger entry to leak.
	if len(repo.rewards) != 0 {
		t.Fatalf("%d rewards after failed settlement, want 0", len(repo.rewards))
	}
	if len(repo.ledger) != 0 {
		t.Fatalf("%d ledger entries after failed settlement, want 0", len(repo.ledger))
	}
	if c := repo.codes[code.ID]; c.UsedCount != 0 || c.TotalEarnings != 0 {
		t.Fatalf("code counters moved on failed settlement: used=%d earnings=%d", c.UsedCount, c.TotalEarnings)
	}

	// The retry settles cleanly.
	if err := svc.Settle(ctx, apptID); err != nil {
		t.Fatalf("retry Settle: %v", err)
	}
	if got := repo.ledgerTotal(referrer); got != 100 {
		t.Errorf("referrer ledger total = %d, want 100", got)
	}
}

func TestSettleBonusPhasesOut(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	referrer := uuid.New()
	code := addCode(repo, "DOCCODE1", referrer, booking.RoleDoctor)

	// First three settlements pay 25*2, every one after pays 25.
	wantAmounts := []int64{50, 50, 50, 25, 25}
	for i, want := range wantAmounts {
		apptID := addCompletedAppointment(repo, uuid.New(), uuid.New(), code.Code)
		if err := svc.Settle(ctx, apptID); err != nil {
			t.Fatalf("Settle %d: %v", i+1, err)
		}
		rw := repo.rewards[rewardKey(apptID, code.ID, SideReferrer)]
		if rw == nil {
			t.Fatalf("settlement %d stored no reward", i+1)
		}
		if rw.Amount != want {
			t.Errorf("settlement %d amount = %d, want %d", i+1, rw.Amount, want)
		}
	}

	if got := repo.ledgerTotal(referrer); got != 200 {
		t.Errorf("total credited %d, want 200", got)
	}
}

func TestSettlePharmacyCodeRewardsDoctorReferral(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	pharmacy := uuid.New()
	doctor := uuid.New()
	code := addCode(repo, "PHACODE1", pharmacy, booking.RolePharmacy)
	apptID := addCompletedAppointment(repo, uuid.New(), doctor, code.Code)

	if err := svc.Settle(ctx, apptID); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	rw := repo.rewards[rewardKey(apptID, code.ID, SideReferrer)]
	if rw == nil {
		t.Fatal("no reward stored")
	}
	if rw.Type != RewardPharmacyToDoctor {
		t.Errorf("type = %s, want pharmacy_to_doctor", rw.Type)
	}
	if rw.ReferredID != doctor || rw.ReferredRole != booking.RoleDoctor {
		t.Error("referred party is not the chamber's doctor")
	}
	if rw.Amount != 200 {
		t.Errorf("amount = %d, want 100*2 first-settlement bonus", rw.Amount)
	}
	if !rw.CreatedAt.Equal(testNow) {
		t.Errorf("created at = %s, want the service clock %s", rw.CreatedAt, testNow)
	}
	// Only patient-to-patient pays both sides.
	if len(repo.rewards) != 1 {
		t.Errorf("%d rewards stored, want 1", len(repo.rewards))
	}
}

func TestSettleSkipsIneligibleAppointments(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	code := addCode(repo, "PATCODE1", uuid.New(), booking.RolePatient)

	pendingID := uuid.New()
	repo.appts[pendingID] = &SettlementSource{
		AppointmentID: pendingID,
		PatientID:     uuid.New(),
		DoctorID:      uuid.New(),
		Status:        booking.StatusPending,
		PaymentStatus: booking.PaymentPending,
		ReferralCode:  code.Code,
	}

	noCodeID := uuid.New()
	repo.appts[noCodeID] = &SettlementSource{
		AppointmentID: noCodeID,
		PatientID:     uuid.New(),
		DoctorID:      uuid.New(),
		Status:        booking.StatusCompleted,
		PaymentStatus: booking.PaymentPaid,
	}

	for _, id := range []uuid.UUID{pendingID, noCodeID} {
		if err := svc.Settle(ctx, id); err != nil {
			t.Fatalf("Settle: %v", err)
		}
	}
	if len(repo.rewards) != 0 {
		t.Fatalf("%d rewards stored for ineligible appointments, want 0", len(repo.rewards))
	}
}

func TestSettleInactiveCodePaysNothing(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)

	code := addCode(repo, "GONECOD1", uuid.New(), booking.RolePatient)
	apptID := addCompletedAppointment(repo, uuid.New(), uuid.New(), code.Code)
	code.Active = false

	if err := svc.Settle(context.Background(), apptID); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if len(repo.rewards) != 0 {
		t.Fatalf("%d rewards stored for inactive code, want 0", len(repo.rewards))
	}
}

func TestSettleSelfReferral(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)

	owner := uuid.New()
	code := addCode(repo, "SELFCOD1", owner, booking.RolePatient)
	apptID := addCompletedAppointment(repo, owner, uuid.New(), code.Code)

	if err := svc.Settle(context.Background(), apptID); !errors.Is(err, ErrSelfReferral) {
		t.Fatalf("Settle err = %v, want ErrSelfReferral", err)
	}
}

func TestStats(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	referrer := uuid.New()
	code := addCode(repo, "PATCODE1", referrer, booking.RolePatient)

	for i := 0; i < 2; i++ {
		apptID := addCompletedAppointment(repo, uuid.New(), uuid.New(), code.Code)
		if err := svc.Settle(ctx, apptID); err != nil {
			t.Fatalf("Settle: %v", err)
		}
	}

	stats, err := svc.Stats(ctx, referrer)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Code != code.Code {
		t.Errorf("code = %q, want %q", stats.Code, code.Code)
	}
	if stats.UsedCount != 2 {
		t.Errorf("used count = %d, want 2", stats.UsedCount)
	}
	if stats.TotalEarnings != 200 {
		t.Errorf("total earnings = %d, want 200", stats.TotalEarnings)
	}
	if stats.Approved != 2 {
		t.Errorf("approved = %d, want 2", stats.Approved)
	}

	if _, err := svc.Stats(ctx, uuid.New()); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("Stats for codeless user err = %v, want ErrCodeNotFound", err)
	}
}

func TestRewardTableAmount(t *testing.T) {
	table := DefaultRewardTable()

	tests := []struct {
		typ     RewardType
		settled int
		want    int64
	}{
		{RewardPatientToPatient, 0, 100},
		{RewardPatientToPatient, 2, 100},
		{RewardPatientToPatient, 3, 50},
		{RewardDoctorToPatient, 1, 50},
		{RewardDoctorToPatient, 10, 25},
		{RewardPharmacyToDoctor, 0, 200},
		{RewardPharmacyToDoctor, 5, 100},
	}
	for _, tt := range tests {
		if got := table.Amount(tt.typ, tt.settled); got != tt.want {
			t.Errorf("Amount(%s, %d) = %d, want %d", tt.typ, tt.settled, got, tt.want)
		}
	}
}
