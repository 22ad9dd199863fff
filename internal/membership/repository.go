package membership

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNoMembership = errors.New("patient has no membership")

// Repository contains all DB interactions needed by the membership service.
type Repository interface {
	GetByPatient(ctx context.Context, patientID uuid.UUID) (*Membership, error)

	// Upsert inserts the membership or, when the patient already has one,
	// replaces its plan, dates and status wholesale (a re-purchase).
	Upsert(ctx context.Context, m *Membership) error

	// SetRenewal moves the end date forward and reactivates the membership.
	SetRenewal(ctx context.Context, id uuid.UUID, newEnd time.Time) (*Membership, error)

	// MarkCancelled flips status to cancelled and clears auto-renew without
	// touching the end date; benefits run until natural expiry.
	MarkCancelled(ctx context.Context, id uuid.UUID, reason string, at time.Time) (*Membership, error)

	// ExpireDue marks active memberships whose end date has passed as
	// expired and returns how many rows changed. Purely cosmetic for
	// correctness: premium checks derive expiry from time either way.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}
