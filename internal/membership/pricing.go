package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FinalAmount applies the premium discount to a chamber's base fee.
// Integer rupees; the division rounds the discount down.
func FinalAmount(baseFee int64, isPremium bool, discountPercent int64) int64 {
	if !isPremium {
		return baseFee
	}
	return baseFee - baseFee*discountPercent/100
}

// Pricing computes booking charges. It re-derives the premium flag at the
// moment of charge, so a membership that expired an hour ago prices like no
// membership at all.
type Pricing struct {
	svc             *Service
	discountPercent int64
}

func NewPricing(svc *Service, discountPercent int64) *Pricing {
	return &Pricing{svc: svc, discountPercent: discountPercent}
}

func (p *Pricing) FinalAmount(ctx context.Context, patientID uuid.UUID, baseFee int64, at time.Time) (int64, error) {
	premium, err := p.svc.IsPremium(ctx, patientID, at)
	if err != nil {
		return 0, fmt.Errorf("premium lookup: %w", err)
	}
	return FinalAmount(baseFee, premium, p.discountPercent), nil
}
