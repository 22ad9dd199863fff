package membership

import (
	"time"

	"github.com/google/uuid"
)

type Plan string

const (
	PlanMonthly   Plan = "monthly"
	PlanQuarterly Plan = "quarterly"
	PlanYearly    Plan = "yearly"
	PlanLifetime  Plan = "lifetime"
)

func (p Plan) Valid() bool {
	switch p {
	case PlanMonthly, PlanQuarterly, PlanYearly, PlanLifetime:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Membership is a patient's premium subscription. At most one exists per
// patient; purchases upsert it.
type Membership struct {
	ID           uuid.UUID
	PatientID    uuid.UUID
	Plan         Plan
	Status       Status
	StartDate    time.Time
	EndDate      time.Time
	AutoRenew    bool
	CancelReason string
	CancelledAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsPremiumAt derives the premium flag; it is never stored, so a membership
// that quietly expired can never keep discounting.
func (m *Membership) IsPremiumAt(at time.Time) bool {
	return m.Status == StatusActive && m.EndDate.After(at)
}

// PlanTerms are the injected plan durations and prices. Lifetime's duration
// stands in for "effectively forever" rather than a true unbounded value.
type PlanTerms struct {
	MonthlyDays   int
	QuarterlyDays int
	YearlyDays    int
	LifetimeYears int

	MonthlyPrice   int64
	QuarterlyPrice int64
	YearlyPrice    int64
	LifetimePrice  int64
}

func DefaultPlanTerms() PlanTerms {
	return PlanTerms{
		MonthlyDays:   30,
		QuarterlyDays: 90,
		YearlyDays:    365,
		LifetimeYears: 100,

		MonthlyPrice:   199,
		QuarterlyPrice: 499,
		YearlyPrice:    1499,
		LifetimePrice:  9999,
	}
}

func (t PlanTerms) Price(p Plan) int64 {
	switch p {
	case PlanMonthly:
		return t.MonthlyPrice
	case PlanQuarterly:
		return t.QuarterlyPrice
	case PlanYearly:
		return t.YearlyPrice
	case PlanLifetime:
		return t.LifetimePrice
	}
	return 0
}

// Extend pushes from forward by one plan period.
func (t PlanTerms) Extend(p Plan, from time.Time) time.Time {
	switch p {
	case PlanMonthly:
		return from.AddDate(0, 0, t.MonthlyDays)
	case PlanQuarterly:
		return from.AddDate(0, 0, t.QuarterlyDays)
	case PlanYearly:
		return from.AddDate(0, 0, t.YearlyDays)
	case PlanLifetime:
		return from.AddDate(t.LifetimeYears, 0, 0)
	}
	return from
}
