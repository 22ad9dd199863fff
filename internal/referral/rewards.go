package referral

import "github.com/careport/chamber-booking/internal/booking"

// RewardTable is the immutable rate card injected into the engine.
type RewardTable struct {
	PatientToPatient int64
	DoctorToPatient  int64
	PharmacyToDoctor int64
	// BonusMultiplier applies while the referrer has fewer than BonusBelow
	// settled (approved or paid) rewards.
	BonusMultiplier int64
	BonusBelow      int
}

func DefaultRewardTable() RewardTable {
	return RewardTable{
		PatientToPatient: 50,
		DoctorToPatient:  25,
		PharmacyToDoctor: 100,
		BonusMultiplier:  2,
		BonusBelow:       3,
	}
}

// Amount returns the reward for one settlement given how many rewards the
// referrer has already had settled.
func (t RewardTable) Amount(typ RewardType, settledCount int) int64 {
	var base int64
	switch typ {
	case RewardPatientToPatient:
		base = t.PatientToPatient
	case RewardDoctorToPatient:
		base = t.DoctorToPatient
	case RewardPharmacyToDoctor:
		base = t.PharmacyToDoctor
	}
	if settledCount < t.BonusBelow {
		return base * t.BonusMultiplier
	}
	return base
}

// pairingFor maps the sanctioned referrer-to-referred role pairs to their
// reward type. Every other combination is rejected.
func pairingFor(referrer, referred booking.Role) (RewardType, bool) {
	switch {
	case referrer == booking.RolePatient && referred == booking.RolePatient:
		return RewardPatientToPatient, true
	case referrer == booking.RoleDoctor && referred == booking.RolePatient:
		return RewardDoctorToPatient, true
	case referrer == booking.RolePharmacy && referred == booking.RoleDoctor:
		return RewardPharmacyToDoctor, true
	}
	return "", false
}
