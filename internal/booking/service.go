package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/careport/chamber-booking/internal/notify"
	"github.com/careport/chamber-booking/internal/redlock"
	"github.com/careport/chamber-booking/internal/schedule"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
)

var (
	ErrChamberInactive        = errors.New("chamber is not active and verified")
	ErrInvalidPaymentMethod   = errors.New("payment method must be online or cash")
	ErrScheduleMismatch       = errors.New("date does not fall on the chamber schedule")
	ErrSlotOutOfRange         = errors.New("slot number is outside the chamber's slot range")
	ErrSlotUnavailable        = errors.New("slot is not available")
	ErrBookingContended       = errors.New("chamber day is currently being booked, please retry")
	ErrInvalidStateTransition = errors.New("invalid appointment status transition")
	ErrNotOwner               = errors.New("appointment does not belong to the caller")
)

// Pricer computes the amount actually charged for a booking. The membership
// discount is re-derived at call time, never cached.
type Pricer interface {
	FinalAmount(ctx context.Context, patientID uuid.UUID, baseFee int64, at time.Time) (int64, error)
}

// ReferralSettler is invoked after completion for referral-bearing
// appointments. Settlement is idempotent on its side, so at-least-once
// delivery from here is fine.
type ReferralSettler interface {
	Settle(ctx context.Context, appointmentID uuid.UUID) error
}

type Service struct {
	repo     Repository
	locker   redlock.Locker
	pricer   Pricer
	settler  ReferralSettler
	notifier notify.Dispatcher
	now      func() time.Time
}

func NewService(repo Repository, locker redlock.Locker, pricer Pricer, settler ReferralSettler, notifier notify.Dispatcher) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		pricer:   pricer,
		settler:  settler,
		notifier: notifier,
		now:      time.Now,
	}
}

// WithClock overrides the service clock. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateChamber registers a pharmacy's recurring availability window. New
// chambers start unverified; bookings open once verification is granted.
func (s *Service) CreateChamber(ctx context.Context, c *Chamber) (*Chamber, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Active = true
	if err := s.repo.CreateChamber(ctx, c); err != nil {
		return nil, fmt.Errorf("create chamber: %w", err)
	}
	return c, nil
}

func (s *Service) GetChamber(ctx context.Context, id uuid.UUID) (*Chamber, error) {
	return s.repo.GetChamberByID(ctx, id)
}

func (s *Service) DeactivateChamber(ctx context.Context, id, callerPharmacyID uuid.UUID) error {
	c, err := s.repo.GetChamberByID(ctx, id)
	if err != nil {
		return err
	}
	if c.PharmacyID != callerPharmacyID {
		return ErrNotOwner
	}
	return s.repo.DeactivateChamber(ctx, id)
}

// NextVisitDate resolves the chamber's next bookable date from now.
func (s *Service) NextVisitDate(ctx context.Context, chamberID uuid.UUID) (time.Time, error) {
	c, err := s.repo.GetChamberByID(ctx, chamberID)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.NextOccurrence(c.Rule, s.now(), c.StartClock)
}

// Availability reports slot occupancy for one chamber day.
func (s *Service) Availability(ctx context.Context, chamberID uuid.UUID, date time.Time) (*Availability, error) {
	c, err := s.repo.GetChamberByID(ctx, chamberID)
	if err != nil {
		return nil, err
	}
	if !schedule.Matches(date, c.Rule) {
		return nil, ErrScheduleMismatch
	}

	dayStart := schedule.StartOfDay(date)
	dayEnd := dayStart.AddDate(0, 0, 1)

	booked, err := s.repo.CountBookedSlots(ctx, chamberID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("count booked slots: %w", err)
	}
	taken, err := s.repo.ListTakenSlotNumbers(ctx, chamberID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("list taken slots: %w", err)
	}

	return &Availability{
		ChamberID:  chamberID,
		Date:       dayStart,
		MaxSlots:   c.MaxSlots,
		Booked:     booked,
		Remaining:  c.MaxSlots - booked,
		TakenSlots: taken,
	}, nil
}

type BookRequest struct {
	ChamberID     uuid.UUID
	Date          time.Time
	SlotNo        int
	PaymentMethod PaymentMethod
	ReferralCode  string
}

// Book reserves one slot for the patient. The capacity re-check and the
// insert run inside a per-(chamber, day) lock; the partial unique index on
// (chamber_id, visit_date, slot_no) backs it up, so two racers for the last
// slot can never both win.
func (s *Service) Book(ctx context.Context, patientID uuid.UUID, req BookRequest) (*Appointment, error) {
	if !req.PaymentMethod.Valid() {
		return nil, ErrInvalidPaymentMethod
	}

	c, err := s.repo.GetChamberByID(ctx, req.ChamberID)
	if err != nil {
		return nil, err
	}
	if !c.Active || !c.Verified {
		return nil, ErrChamberInactive
	}
	if req.SlotNo < 1 || req.SlotNo > c.MaxSlots {
		return nil, ErrSlotOutOfRange
	}
	if !schedule.Matches(req.Date, c.Rule) {
		return nil, ErrScheduleMismatch
	}

	now := s.now()
	amount, err := s.pricer.FinalAmount(ctx, patientID, c.Fee, now)
	if err != nil {
		return nil, fmt.Errorf("price booking: %w", err)
	}

	dayStart := schedule.StartOfDay(req.Date)
	dayEnd := dayStart.AddDate(0, 0, 1)

	appt := &Appointment{
		ID:            uuid.New(),
		PatientID:     patientID,
		DoctorID:      c.DoctorID,
		PharmacyID:    c.PharmacyID,
		ChamberID:     c.ID,
		VisitDate:     dayStart,
		SlotNo:        req.SlotNo,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		PaymentMethod: req.PaymentMethod,
		Amount:        amount,
		ReferralCode:  req.ReferralCode,
	}

	err = s.locker.WithBookingLock(ctx, c.ID, dayStart, func(lockCtx context.Context) error {
		booked, err := s.repo.CountBookedSlots(lockCtx, c.ID, dayStart, dayEnd)
		if err != nil {
			return fmt.Errorf("count booked slots: %w", err)
		}
		if booked >= c.MaxSlots {
			return ErrSlotUnavailable
		}
		return s.repo.InsertAppointment(lockCtx, appt)
	})
	if err != nil {
		if errors.Is(err, redlock.ErrLockNotAcquired) {
			return nil, ErrBookingContended
		}
		return nil, err
	}

	s.logEvent(ctx, appt.ID, EventAppointmentBooked, map[string]any{
		"chamber_id": c.ID.String(),
		"visit_date": dayStart.Format("2006-01-02"),
		"slot_no":    req.SlotNo,
		"amount":     amount,
	})
	s.notifier.Dispatch(ctx, notify.Event{
		Type:   notify.EventAppointmentBooked,
		UserID: patientID,
		Data:   map[string]any{"appointment_id": appt.ID.String()},
	})

	return appt, nil
}

// Cancel moves a pending appointment to cancelled. Cancellation frees the
// slot; only the booking patient may cancel, and only while pending.
func (s *Service) Cancel(ctx context.Context, appointmentID, callerPatientID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.PatientID != callerPatientID {
		return nil, ErrNotOwner
	}
	if appt.Status != StatusPending {
		return nil, ErrInvalidStateTransition
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appointmentID, StatusPending, StatusCancelled)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a race with a concurrent transition.
			return nil, ErrInvalidStateTransition
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentCancelled, map[string]any{})
	s.notifier.Dispatch(ctx, notify.Event{
		Type:   notify.EventAppointmentCancelled,
		UserID: updated.PatientID,
		Data:   map[string]any{"appointment_id": updated.ID.String()},
	})

	return updated, nil
}

type MedicalRecordInput struct {
	Diagnosis    string
	Prescription string
	Notes        string
}

// Complete attaches the doctor's medical record and closes the appointment.
// Completion is authoritative proof of service, so payment flips to paid
// whatever the method was. Referral settlement runs afterwards best-effort:
// its errors are logged, never surfaced, and never roll the completion back.
func (s *Service) Complete(ctx context.Context, appointmentID, callerDoctorID uuid.UUID, in MedicalRecordInput) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != callerDoctorID {
		return nil, ErrNotOwner
	}
	if appt.Status != StatusPending {
		return nil, ErrInvalidStateTransition
	}

	rec := &MedicalRecord{
		ID:            uuid.New(),
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
		Diagnosis:     in.Diagnosis,
		Prescription:  in.Prescription,
		Notes:         in.Notes,
	}

	updated, err := s.repo.CompleteWithRecord(ctx, appt.ID, rec)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidStateTransition
		}
		return nil, fmt.Errorf("complete appointment: %w", err)
	}

	if updated.ReferralCode != "" {
		if err := s.settler.Settle(ctx, updated.ID); err != nil {
			log.Printf("referral settlement failed appointment=%s err=%v", updated.ID, err)
		}
	}

	s.logEvent(ctx, updated.ID, EventAppointmentCompleted, map[string]any{
		"medical_record_id": rec.ID.String(),
	})
	s.notifier.Dispatch(ctx, notify.Event{
		Type:   notify.EventAppointmentCompleted,
		UserID: updated.PatientID,
		Data:   map[string]any{"appointment_id": updated.ID.String()},
	})

	return updated, nil
}

// GetAppointment returns the appointment projected for the caller's role.
// Each role only sees its own appointments.
func (s *Service) GetAppointment(ctx context.Context, id, callerID uuid.UUID, role Role) (*View, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch role {
	case RolePatient:
		if appt.PatientID != callerID {
			return nil, ErrNotOwner
		}
	case RoleDoctor:
		if appt.DoctorID != callerID {
			return nil, ErrNotOwner
		}
	case RolePharmacy:
		if appt.PharmacyID != callerID {
			return nil, ErrNotOwner
		}
	default:
		return nil, fmt.Errorf("invalid role %q", role)
	}

	v := ViewFor(role, appt)
	return &v, nil
}

func (s *Service) ListForCaller(ctx context.Context, callerID uuid.UUID, role Role, limit, offset int) ([]View, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var (
		appts []Appointment
		err   error
	)
	switch role {
	case RolePatient:
		appts, err = s.repo.ListAppointmentsByPatient(ctx, callerID, limit, offset)
	case RoleDoctor:
		appts, err = s.repo.ListAppointmentsByDoctor(ctx, callerID, limit, offset)
	case RolePharmacy:
		appts, err = s.repo.ListAppointmentsByPharmacy(ctx, callerID, limit, offset)
	default:
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	views := make([]View, 0, len(appts))
	for i := range appts {
		views = append(views, ViewFor(role, &appts[i]))
	}
	return views, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for appointment %s: %v", eventType, appointmentID, err)
	}
}
