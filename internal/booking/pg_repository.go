package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careport/chamber-booking/internal/schedule"
)

const uniqueViolation = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanChamber(row pgx.Row) (*Chamber, error) {
	var (
		c           Chamber
		week        string
		weekday     int
		startMinute int
		endMinute   int
	)

	err := row.Scan(
		&c.ID,
		&c.PharmacyID,
		&c.DoctorID,
		&week,
		&weekday,
		&startMinute,
		&endMinute,
		&c.Fee,
		&c.SlotMinutes,
		&c.MaxSlots,
		&c.Active,
		&c.Verified,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChamberNotFound
		}
		return nil, err
	}

	c.Rule = schedule.Rule{Week: schedule.WeekOfMonth(week), Weekday: time.Weekday(weekday)}
	c.StartClock = schedule.ClockTime(startMinute)
	c.EndClock = schedule.ClockTime(endMinute)
	return &c, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.PharmacyID,
		&a.ChamberID,
		&a.VisitDate,
		&a.SlotNo,
		&a.Status,
		&a.PaymentStatus,
		&a.PaymentMethod,
		&a.Amount,
		&a.ReferralCode,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

const appointmentColumns = `id, patient_id, doctor_id, pharmacy_id, chamber_id, visit_date, slot_no,
	status, payment_status, payment_method, amount, referral_code, created_at, updated_at`

// Interface methods

func (r *PgRepository) CreateChamber(ctx context.Context, c *Chamber) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chambers (id, pharmacy_id, doctor_id, week_of_month, weekday, start_minute, end_minute,
			fee, slot_minutes, max_slots, active, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
	`, c.ID, c.PharmacyID, c.DoctorID, string(c.Rule.Week), int(c.Rule.Weekday),
		int(c.StartClock), int(c.EndClock), c.Fee, c.SlotMinutes, c.MaxSlots, c.Active, c.Verified)
	if err != nil {
		return fmt.Errorf("insert chamber: %w", err)
	}
	return nil
}

func (r *PgRepository) GetChamberByID(ctx context.Context, id uuid.UUID) (*Chamber, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, pharmacy_id, doctor_id, week_of_month, weekday, start_minute, end_minute,
			fee, slot_minutes, max_slots, active, verified, created_at, updated_at
		FROM chambers
		WHERE id = $1
	`, id)
	return scanChamber(row)
}

func (r *PgRepository) DeactivateChamber(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE chambers
		SET active = false,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("deactivate chamber: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChamberNotFound
	}
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) CountBookedSlots(ctx context.Context, chamberID uuid.UUID, dayStart, dayEnd time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE chamber_id = $1
		  AND visit_date >= $2
		  AND visit_date < $3
		  AND status <> 'cancelled'
	`, chamberID, dayStart, dayEnd).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PgRepository) ListTakenSlotNumbers(ctx context.Context, chamberID uuid.UUID, dayStart, dayEnd time.Time) ([]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT slot_no
		FROM appointments
		WHERE chamber_id = $1
		  AND visit_date >= $2
		  AND visit_date < $3
		  AND status <> 'cancelled'
		ORDER BY slot_no
	`, chamberID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var taken []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		taken = append(taken, n)
	}
	return taken, rows.Err()
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, pharmacy_id, chamber_id, visit_date, slot_no,
			status, payment_status, payment_method, amount, referral_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
	`, a.ID, a.PatientID, a.DoctorID, a.PharmacyID, a.ChamberID, a.VisitDate, a.SlotNo,
		a.Status, a.PaymentStatus, a.PaymentMethod, a.Amount, a.ReferralCode)
	if err != nil {
		// uq_appointments_slot: (chamber_id, visit_date, slot_no) where
		// status <> 'cancelled'. The losing concurrent writer lands here.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrSlotUnavailable
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)
	return scanAppointment(row)
}

func (r *PgRepository) CompleteWithRecord(ctx context.Context, appointmentID uuid.UUID, rec *MedicalRecord) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin complete tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'completed',
		    payment_status = 'paid',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		RETURNING `+appointmentColumns+`
	`, appointmentID)

	appt, err := scanAppointment(row)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO medical_records (id, appointment_id, patient_id, doctor_id, diagnosis, prescription, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, rec.ID, rec.AppointmentID, rec.PatientID, rec.DoctorID, rec.Diagnosis, rec.Prescription, rec.Notes)
	if err != nil {
		return nil, fmt.Errorf("insert medical record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit complete tx: %w", err)
	}
	return appt, nil
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.listAppointments(ctx, "patient_id", patientID, limit, offset)
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.listAppointments(ctx, "doctor_id", doctorID, limit, offset)
}

func (r *PgRepository) ListAppointmentsByPharmacy(ctx context.Context, pharmacyID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.listAppointments(ctx, "pharmacy_id", pharmacyID, limit, offset)
}

func (r *PgRepository) listAppointments(ctx context.Context, column string, id uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+column+` = $1
		ORDER BY visit_date DESC, slot_no
		LIMIT $2 OFFSET $3
	`, id, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	var appID *uuid.UUID
	if ev.AppointmentID != nil {
		appID = ev.AppointmentID
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, appID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
