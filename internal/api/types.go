package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/careport/chamber-booking/internal/booking"
	"github.com/careport/chamber-booking/internal/membership"
	"github.com/careport/chamber-booking/internal/referral"
)

const dateLayout = "2006-01-02"

type CreateChamberRequest struct {
	DoctorID    string `json:"doctor_id"`
	WeekOfMonth string `json:"week_of_month"` // first..fourth, last
	Weekday     int    `json:"weekday"`       // 0=Sunday .. 6=Saturday
	StartTime   string `json:"start_time"`    // "18:00"
	EndTime     string `json:"end_time"`      // "21:00"
	Fee         int64  `json:"fee"`
	SlotMinutes int    `json:"slot_minutes"`
	MaxSlots    int    `json:"max_slots"`
}

type ChamberResponse struct {
	ID          uuid.UUID `json:"id"`
	PharmacyID  uuid.UUID `json:"pharmacy_id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	WeekOfMonth string    `json:"week_of_month"`
	Weekday     int       `json:"weekday"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
	Fee         int64     `json:"fee"`
	SlotMinutes int       `json:"slot_minutes"`
	MaxSlots    int       `json:"max_slots"`
	Active      bool      `json:"active"`
	Verified    bool      `json:"verified"`
}

func toChamberResponse(c *booking.Chamber) ChamberResponse {
	return ChamberResponse{
		ID:          c.ID,
		PharmacyID:  c.PharmacyID,
		DoctorID:    c.DoctorID,
		WeekOfMonth: string(c.Rule.Week),
		Weekday:     int(c.Rule.Weekday),
		StartTime:   c.StartClock.String(),
		EndTime:     c.EndClock.String(),
		Fee:         c.Fee,
		SlotMinutes: c.SlotMinutes,
		MaxSlots:    c.MaxSlots,
		Active:      c.Active,
		Verified:    c.Verified,
	}
}

type AvailabilityResponse struct {
	ChamberID  uuid.UUID `json:"chamber_id"`
	Date       string    `json:"date"`
	MaxSlots   int       `json:"max_slots"`
	Booked     int       `json:"booked"`
	Remaining  int       `json:"remaining"`
	TakenSlots []int     `json:"taken_slots"`
}

type BookAppointmentRequest struct {
	ChamberID     string `json:"chamber_id"`
	Date          string `json:"date"` // "2006-01-02"
	SlotNo        int    `json:"slot_no"`
	PaymentMethod string `json:"payment_method"` // online, cash
	ReferralCode  string `json:"referral_code,omitempty"`
}

type AppointmentResponse struct {
	ID            uuid.UUID `json:"id"`
	ChamberID     uuid.UUID `json:"chamber_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	PharmacyID    uuid.UUID `json:"pharmacy_id"`
	VisitDate     string    `json:"visit_date"`
	SlotNo        int       `json:"slot_no"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	PaymentMethod string    `json:"payment_method"`
	Amount        int64     `json:"amount"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:            a.ID,
		ChamberID:     a.ChamberID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		PharmacyID:    a.PharmacyID,
		VisitDate:     a.VisitDate.Format(dateLayout),
		SlotNo:        a.SlotNo,
		Status:        string(a.Status),
		PaymentStatus: string(a.PaymentStatus),
		PaymentMethod: string(a.PaymentMethod),
		Amount:        a.Amount,
	}
}

type PatientViewResponse struct {
	Role          string    `json:"role"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	PharmacyID    uuid.UUID `json:"pharmacy_id"`
	ChamberID     uuid.UUID `json:"chamber_id"`
	VisitDate     string    `json:"visit_date"`
	SlotNo        int       `json:"slot_no"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	PaymentMethod string    `json:"payment_method"`
	Amount        int64     `json:"amount"`
}

type DoctorViewResponse struct {
	Role          string    `json:"role"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	ChamberID     uuid.UUID `json:"chamber_id"`
	VisitDate     string    `json:"visit_date"`
	SlotNo        int       `json:"slot_no"`
	Status        string    `json:"status"`
}

type PharmacyViewResponse struct {
	Role          string    `json:"role"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	ChamberID     uuid.UUID `json:"chamber_id"`
	VisitDate     string    `json:"visit_date"`
	SlotNo        int       `json:"slot_no"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	Amount        int64     `json:"amount"`
}

// toViewResponse flattens the role-scoped view union into the DTO for
// whichever branch is set.
func toViewResponse(v booking.View) any {
	switch {
	case v.Doctor != nil:
		d := v.Doctor
		return DoctorViewResponse{
			Role:          string(v.Role),
			AppointmentID: d.AppointmentID,
			PatientID:     d.PatientID,
			ChamberID:     d.ChamberID,
			VisitDate:     d.VisitDate.Format(dateLayout),
			SlotNo:        d.SlotNo,
			Status:        string(d.Status),
		}
	case v.Pharmacy != nil:
		p := v.Pharmacy
		return PharmacyViewResponse{
			Role:          string(v.Role),
			AppointmentID: p.AppointmentID,
			DoctorID:      p.DoctorID,
			ChamberID:     p.ChamberID,
			VisitDate:     p.VisitDate.Format(dateLayout),
			SlotNo:        p.SlotNo,
			Status:        string(p.Status),
			PaymentStatus: string(p.PaymentStatus),
			Amount:        p.Amount,
		}
	default:
		p := v.Patient
		return PatientViewResponse{
			Role:          string(v.Role),
			AppointmentID: p.AppointmentID,
			DoctorID:      p.DoctorID,
			PharmacyID:    p.PharmacyID,
			ChamberID:     p.ChamberID,
			VisitDate:     p.VisitDate.Format(dateLayout),
			SlotNo:        p.SlotNo,
			Status:        string(p.Status),
			PaymentStatus: string(p.PaymentStatus),
			PaymentMethod: string(p.PaymentMethod),
			Amount:        p.Amount,
		}
	}
}

type CompleteAppointmentRequest struct {
	Diagnosis    string `json:"diagnosis"`
	Prescription string `json:"prescription"`
	Notes        string `json:"notes,omitempty"`
}

type PurchaseMembershipRequest struct {
	Plan          string `json:"plan"`           // monthly, quarterly, yearly, lifetime
	PaymentMethod string `json:"payment_method"` // online, cash
}

type CancelMembershipRequest struct {
	Reason string `json:"reason,omitempty"`
}

type MembershipResponse struct {
	Plan      string     `json:"plan"`
	Status    string     `json:"status"`
	StartDate time.Time  `json:"start_date"`
	EndDate   time.Time  `json:"end_date"`
	AutoRenew bool       `json:"auto_renew"`
	IsPremium bool       `json:"is_premium"`
	Cancelled *time.Time `json:"cancelled_at,omitempty"`
}

func toMembershipResponse(m *membership.Membership, now time.Time) MembershipResponse {
	return MembershipResponse{
		Plan:      string(m.Plan),
		Status:    string(m.Status),
		StartDate: m.StartDate,
		EndDate:   m.EndDate,
		AutoRenew: m.AutoRenew,
		IsPremium: m.IsPremiumAt(now),
		Cancelled: m.CancelledAt,
	}
}

type ApplyReferralRequest struct {
	Code string `json:"code"`
}

type ReferralCodeResponse struct {
	Code          string `json:"code"`
	Active        bool   `json:"active"`
	UsedCount     int    `json:"used_count"`
	TotalEarnings int64  `json:"total_earnings"`
}

type ReferralStatsResponse struct {
	Code          string `json:"code"`
	Active        bool   `json:"active"`
	UsedCount     int    `json:"used_count"`
	TotalEarnings int64  `json:"total_earnings"`
	Pending       int    `json:"pending_rewards"`
	Approved      int    `json:"approved_rewards"`
	Paid          int    `json:"paid_rewards"`
}

func toStatsResponse(s *referral.Stats) ReferralStatsResponse {
	return ReferralStatsResponse{
		Code:          s.Code,
		Active:        s.Active,
		UsedCount:     s.UsedCount,
		TotalEarnings: s.TotalEarnings,
		Pending:       s.Pending,
		Approved:      s.Approved,
		Paid:          s.Paid,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
