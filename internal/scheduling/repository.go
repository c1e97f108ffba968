package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

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

// Repository owns time_slots persistence. Booked/available transitions go
// through single conditional updates keyed on the current is_booked value,
// which is what makes concurrent reservations yield exactly one winner.
type Repository struct {
	db rowQuerier
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("scheduling: pgx pool required")
	}
	return &Repository{db: pool}
}

func newRepositoryWithExec(db rowQuerier) *Repository {
	if db == nil {
		panic("scheduling: exec required")
	}
	return &Repository{db: db}
}

// Reserve transitions a slot available -> booked. Of N concurrent calls on
// one slot exactly one succeeds; the rest observe ErrSlotAlreadyBooked.
func (r *Repository) Reserve(ctx context.Context, id uuid.UUID) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE time_slots
		SET is_booked = true,
		    updated_at = now()
		WHERE id = $1
		  AND is_booked = false
	`, id)
	if err != nil {
		return fmt.Errorf("scheduling: reserve slot: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var booked bool
	if err := r.db.QueryRow(ctx, `SELECT is_booked FROM time_slots WHERE id = $1`, id).Scan(&booked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSlotNotFound
		}
		return fmt.Errorf("scheduling: reserve lookup: %w", err)
	}
	return ErrSlotAlreadyBooked
}

// Release returns a slot to the available pool.
func (r *Repository) Release(ctx context.Context, id uuid.UUID) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE time_slots
		SET is_booked = false,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("scheduling: release slot: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

// GetByID loads a single slot.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, doctor_id, start_time, end_time, is_booked, created_at, updated_at
		FROM time_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

// BulkInsert persists a generated batch and returns the created count.
func (r *Repository) BulkInsert(ctx context.Context, slots []TimeSlot) (int, error) {
	created := 0
	for _, s := range slots {
		ct, err := r.db.Exec(ctx, `
			INSERT INTO time_slots (id, doctor_id, start_time, end_time, is_booked)
			VALUES ($1, $2, $3, $4, false)
			ON CONFLICT (doctor_id, start_time) DO NOTHING
		`, s.ID, s.DoctorID, s.StartTime, s.EndTime)
		if err != nil {
			return created, fmt.Errorf("scheduling: insert slot: %w", err)
		}
		created += int(ct.RowsAffected())
	}
	return created, nil
}

// HasOverlap reports whether the doctor already has any slot intersecting
// [from, to). Callers run this before a bulk generation; Generate itself
// stays free of existing-row scans.
func (r *Repository) HasOverlap(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM time_slots
			WHERE doctor_id = $1
			  AND start_time < $3
			  AND $2 < end_time
		)
	`, doctorID, from, to).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("scheduling: overlap check: %w", err)
	}
	return exists, nil
}

// Delete removes an available slot. Booked slots are refused with
// ErrSlotBooked rather than silently skipped.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	ct, err := r.db.Exec(ctx, `
		DELETE FROM time_slots
		WHERE id = $1
		  AND is_booked = false
	`, id)
	if err != nil {
		return fmt.Errorf("scheduling: delete slot: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var booked bool
	if err := r.db.QueryRow(ctx, `SELECT is_booked FROM time_slots WHERE id = $1`, id).Scan(&booked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSlotNotFound
		}
		return fmt.Errorf("scheduling: delete lookup: %w", err)
	}
	return ErrSlotBooked
}

// ListAvailable returns the doctor's future unbooked slots.
func (r *Repository) ListAvailable(ctx context.Context, doctorID uuid.UUID) ([]TimeSlot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, doctor_id, start_time, end_time, is_booked, created_at, updated_at
		FROM time_slots
		WHERE doctor_id = $1
		  AND is_booked = false
		  AND start_time > now()
		ORDER BY start_time
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list available: %w", err)
	}
	defer rows.Close()

	var slots []TimeSlot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, *s)
	}
	return slots, rows.Err()
}

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot
	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.IsBooked,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("scheduling: scan slot: %w", err)
	}
	return &s, nil
}
