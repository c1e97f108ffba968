package appointments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository owns appointments persistence.
type Repository struct {
	db rowQuerier
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &Repository{db: pool}
}

func newRepositoryWithExec(db rowQuerier) *Repository {
	if db == nil {
		panic("appointments: exec required")
	}
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, a *Appointment) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, slot_id, status, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.PatientID, a.DoctorID, a.SlotID, a.Status, a.Reason)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSlotAlreadyScheduled
		}
		return fmt.Errorf("appointments: create: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, patient_id, doctor_id, slot_id, status, reason, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *Repository) GetBySlotID(ctx context.Context, slotID uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, patient_id, doctor_id, slot_id, status, reason, created_at, updated_at
		FROM appointments
		WHERE slot_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, slotID)
	return scanAppointment(row)
}

// Transition moves the appointment to the given status only if its current
// status is one of the listed from states. Returns whether the update was
// applied, which is what keeps replayed webhook events from re-running side
// effects.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, to Status, from ...Status) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("appointments: transition requires at least one from status")
	}
	ct, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
	`, id, to, statusStrings(from))
	if err != nil {
		return false, fmt.Errorf("appointments: transition to %s: %w", to, err)
	}
	return ct.RowsAffected() == 1, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.SlotID,
		&a.Status,
		&a.Reason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("appointments: scan: %w", err)
	}
	return &a, nil
}
