package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careport/chamber-booking/internal/booking"
)

const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanCode(row pgx.Row) (*ReferralCode, error) {
	var c ReferralCode

	err := row.Scan(
		&c.ID,
		&c.Code,
		&c.OwnerID,
		&c.OwnerRole,
		&c.Active,
		&c.UsedCount,
		&c.TotalEarnings,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}

	return &c, nil
}

// Interface methods

func (r *PgRepository) CreateCode(ctx context.Context, c *ReferralCode) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO referral_codes (id, code, owner_id, owner_role, active, used_count, total_earnings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, now(), now())
	`, c.ID, c.Code, c.OwnerID, string(c.OwnerRole), c.Active)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == "uq_referral_codes_owner" {
				return ErrOwnerHasCode
			}
			return ErrCodeTaken
		}
		return fmt.Errorf("insert referral code: %w", err)
	}
	return nil
}

func (r *PgRepository) GetCodeByOwner(ctx context.Context, ownerID uuid.UUID) (*ReferralCode, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, code, owner_id, owner_role, active, used_count, total_earnings, created_at, updated_at
		FROM referral_codes
		WHERE owner_id = $1
	`, ownerID)
	return scanCode(row)
}

func (r *PgRepository) GetCodeByValue(ctx context.Context, code string) (*ReferralCode, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, code, owner_id, owner_role, active, used_count, total_earnings, created_at, updated_at
		FROM referral_codes
		WHERE code = $1
	`, code)
	return scanCode(row)
}

func (r *PgRepository) GetAppointmentForSettlement(ctx context.Context, appointmentID uuid.UUID) (*SettlementSource, error) {
	var src SettlementSource

	err := r.pool.QueryRow(ctx, `
		SELECT id, patient_id, doctor_id, status, payment_status, referral_code
		FROM appointments
		WHERE id = $1
	`, appointmentID).Scan(
		&src.AppointmentID,
		&src.PatientID,
		&src.DoctorID,
		&src.Status,
		&src.PaymentStatus,
		&src.ReferralCode,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, booking.ErrAppointmentNotFound
		}
		return nil, err
	}

	return &src, nil
}

// CreateSettlement runs the reward insert, the counter bump and the ledger
// insert in one transaction, so a crash mid-settlement leaves nothing behind
// and the unique reward key stays an honest "fully settled" marker.
func (r *PgRepository) CreateSettlement(ctx context.Context, rw *Reward, entry *LedgerEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin settlement tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO referral_rewards (id, referrer_id, referrer_role, referred_id, referred_role,
			reward_type, side, amount, status, appointment_id, referral_code_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`, rw.ID, rw.ReferrerID, string(rw.ReferrerRole), rw.ReferredID, string(rw.ReferredRole),
		string(rw.Type), string(rw.Side), rw.Amount, string(rw.Status), rw.AppointmentID, rw.ReferralCodeID, rw.CreatedAt)
	if err != nil {
		// uq_referral_rewards_settlement: (appointment_id, referral_code_id, side).
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrRewardExists
		}
		return fmt.Errorf("insert reward: %w", err)
	}

	if rw.Side == SideReferrer {
		tag, err := tx.Exec(ctx, `
			UPDATE referral_codes
			SET used_count = used_count + 1,
			    total_earnings = total_earnings + $2,
			    updated_at = now()
			WHERE id = $1
		`, rw.ReferralCodeID, rw.Amount)
		if err != nil {
			return fmt.Errorf("increment code usage: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrCodeNotFound
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_transactions (id, user_id, amount, kind, reward_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.UserID, entry.Amount, entry.Kind, entry.RewardID, entry.Note, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ledger transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit settlement tx: %w", err)
	}
	return nil
}

func (r *PgRepository) GetRewardByKey(ctx context.Context, appointmentID, codeID uuid.UUID, side RewardSide) (*Reward, error) {
	var rw Reward
	err := r.pool.QueryRow(ctx, `
		SELECT id, referrer_id, referrer_role, referred_id, referred_role,
			reward_type, side, amount, status, appointment_id, referral_code_id, created_at, updated_at
		FROM referral_rewards
		WHERE appointment_id = $1
		  AND referral_code_id = $2
		  AND side = $3
	`, appointmentID, codeID, string(side)).Scan(
		&rw.ID,
		&rw.ReferrerID,
		&rw.ReferrerRole,
		&rw.ReferredID,
		&rw.ReferredRole,
		&rw.Type,
		&rw.Side,
		&rw.Amount,
		&rw.Status,
		&rw.AppointmentID,
		&rw.ReferralCodeID,
		&rw.CreatedAt,
		&rw.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRewardNotFound
		}
		return nil, err
	}
	return &rw, nil
}

func (r *PgRepository) CountSettledRewards(ctx context.Context, referrerID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM referral_rewards
		WHERE referrer_id = $1
		  AND side = 'referrer'
		  AND status IN ('approved', 'paid')
	`, referrerID).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PgRepository) CountRewardsByStatus(ctx context.Context, userID uuid.UUID) (pending, approved, paid int, err error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, count(*)
		FROM referral_rewards
		WHERE referrer_id = $1 AND side = 'referrer'
		GROUP BY status
	`, userID)
	if err != nil {
		return 0, 0, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, 0, err
		}
		switch RewardStatus(status) {
		case RewardPending:
			pending = n
		case RewardApproved:
			approved = n
		case RewardPaid:
			paid = n
		}
	}
	return pending, approved, paid, rows.Err()
}
