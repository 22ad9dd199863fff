package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const membershipColumns = `id, patient_id, plan, status, start_date, end_date, auto_renew,
	cancel_reason, cancelled_at, created_at, updated_at`

func scanMembership(row pgx.Row) (*Membership, error) {
	var (
		m           Membership
		reason      *string
		cancelledAt *time.Time
	)

	err := row.Scan(
		&m.ID,
		&m.PatientID,
		&m.Plan,
		&m.Status,
		&m.StartDate,
		&m.EndDate,
		&m.AutoRenew,
		&reason,
		&cancelledAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoMembership
		}
		return nil, err
	}

	if reason != nil {
		m.CancelReason = *reason
	}
	m.CancelledAt = cancelledAt
	return &m, nil
}

func (r *PgRepository) GetByPatient(ctx context.Context, patientID uuid.UUID) (*Membership, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+membershipColumns+`
		FROM premium_memberships
		WHERE patient_id = $1
	`, patientID)
	return scanMembership(row)
}

func (r *PgRepository) Upsert(ctx context.Context, m *Membership) error {
	// uq_premium_memberships_patient keeps it to one row per patient; a
	// re-purchase rewrites that row.
	_, err := r.pool.Exec(ctx, `
		INSERT INTO premium_memberships (id, patient_id, plan, status, start_date, end_date, auto_renew,
			cancel_reason, cancelled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, NULL, now(), now())
		ON CONFLICT (patient_id) DO UPDATE
		SET plan = EXCLUDED.plan,
		    status = EXCLUDED.status,
		    start_date = EXCLUDED.start_date,
		    end_date = EXCLUDED.end_date,
		    auto_renew = EXCLUDED.auto_renew,
		    cancel_reason = NULL,
		    cancelled_at = NULL,
		    updated_at = now()
	`, m.ID, m.PatientID, string(m.Plan), string(m.Status), m.StartDate, m.EndDate, m.AutoRenew)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

func (r *PgRepository) SetRenewal(ctx context.Context, id uuid.UUID, newEnd time.Time) (*Membership, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE premium_memberships
		SET end_date = $2,
		    status = 'active',
		    updated_at = now()
		WHERE id = $1
		RETURNING `+membershipColumns+`
	`, id, newEnd)
	return scanMembership(row)
}

func (r *PgRepository) MarkCancelled(ctx context.Context, id uuid.UUID, reason string, at time.Time) (*Membership, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE premium_memberships
		SET status = 'cancelled',
		    auto_renew = false,
		    cancel_reason = $2,
		    cancelled_at = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+membershipColumns+`
	`, id, reason, at)
	return scanMembership(row)
}

func (r *PgRepository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE premium_memberships
		SET status = 'expired',
		    updated_at = now()
		WHERE status = 'active'
		  AND end_date <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire memberships: %w", err)
	}
	return tag.RowsAffected(), nil
}
