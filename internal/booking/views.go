package booking

import (
	"time"

	"github.com/google/uuid"
)

// Role-scoped read projections over one Appointment. Each caller role gets
// an explicit shape instead of a single record whose fields vary at runtime:
// patients see what they pay, doctors see who they treat, pharmacies see
// slot occupancy without payment or clinical detail.

type PatientView struct {
	AppointmentID uuid.UUID
	DoctorID      uuid.UUID
	PharmacyID    uuid.UUID
	ChamberID     uuid.UUID
	VisitDate     time.Time
	SlotNo        int
	Status        AppointmentStatus
	PaymentStatus PaymentStatus
	PaymentMethod PaymentMethod
	Amount        int64
}

type DoctorView struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	ChamberID     uuid.UUID
	VisitDate     time.Time
	SlotNo        int
	Status        AppointmentStatus
}

type PharmacyView struct {
	AppointmentID uuid.UUID
	DoctorID      uuid.UUID
	ChamberID     uuid.UUID
	VisitDate     time.Time
	SlotNo        int
	Status        AppointmentStatus
	PaymentStatus PaymentStatus
	Amount        int64
}

// View is the tagged union; exactly one branch is set, selected by Role.
type View struct {
	Role     Role
	Patient  *PatientView
	Doctor   *DoctorView
	Pharmacy *PharmacyView
}

func ViewFor(role Role, a *Appointment) View {
	switch role {
	case RoleDoctor:
		return View{Role: role, Doctor: &DoctorView{
			AppointmentID: a.ID,
			PatientID:     a.PatientID,
			ChamberID:     a.ChamberID,
			VisitDate:     a.VisitDate,
			SlotNo:        a.SlotNo,
			Status:        a.Status,
		}}
	case RolePharmacy:
		return View{Role: role, Pharmacy: &PharmacyView{
			AppointmentID: a.ID,
			DoctorID:      a.DoctorID,
			ChamberID:     a.ChamberID,
			VisitDate:     a.VisitDate,
			SlotNo:        a.SlotNo,
			Status:        a.Status,
			PaymentStatus: a.PaymentStatus,
			Amount:        a.Amount,
		}}
	default:
		return View{Role: RolePatient, Patient: &PatientView{
			AppointmentID: a.ID,
			DoctorID:      a.DoctorID,
			PharmacyID:    a.PharmacyID,
			ChamberID:     a.ChamberID,
			VisitDate:     a.VisitDate,
			SlotNo:        a.SlotNo,
			Status:        a.Status,
			PaymentStatus: a.PaymentStatus,
			PaymentMethod: a.PaymentMethod,
			Amount:        a.Amount,
		}}
	}
}
