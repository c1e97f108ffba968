package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrPatientNotFound = errors.New("patient not found")

// PGDirectory resolves patient contact details from the patients table.
type PGDirectory struct {
	pool *pgxpool.Pool
}

func NewPGDirectory(pool *pgxpool.Pool) *PGDirectory {
	if pool == nil {
		panic("notify: pgx pool required")
	}
	return &PGDirectory{pool: pool}
}

func (d *PGDirectory) GetContact(ctx context.Context, patientID uuid.UUID) (*PatientContact, error) {
	var c PatientContact
	err := d.pool.QueryRow(ctx, `
		SELECT email, full_name
		FROM patients
		WHERE id = $1
	`, patientID).Scan(&c.Email, &c.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("notify: patient lookup: %w", err)
	}
	return &c, nil
}
