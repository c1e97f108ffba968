package payments

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

// Repository owns payments, refunds, and refund_policies persistence.
type Repository struct {
	db rowQuerier
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("payments: pgx pool required")
	}
	return &Repository{db: pool}
}

func newRepositoryWithExec(db rowQuerier) *Repository {
	if db == nil {
		panic("payments: exec required")
	}
	return &Repository{db: db}
}

// InsertPending creates a payment for a slot only when no other payment in a
// non-terminal status exists for it. A partial unique index on slot_id
// backstops races between two concurrent inserts; either path surfaces as
// ErrDuplicatePendingPayment.
func (r *Repository) InsertPending(ctx context.Context, p *Payment) error {
	ct, err := r.db.Exec(ctx, `
		INSERT INTO payments (id, appointment_id, slot_id, patient_id, amount_cents, currency, status)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM payments
			WHERE slot_id = $3
			  AND status NOT IN ('canceled', 'failed', 'refunded')
		)
	`, p.ID, p.AppointmentID, p.SlotID, p.PatientID, p.AmountCents, p.Currency, p.Status)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicatePendingPayment
		}
		return fmt.Errorf("payments: insert pending: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrDuplicatePendingPayment
	}
	return nil
}

// SetIntentRef records the processor's intent id and client secret after the
// intent has been created remotely.
func (r *Repository) SetIntentRef(ctx context.Context, id uuid.UUID, intentID, clientSecret string) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE payments
		SET intent_id = $2,
		    client_secret = $3,
		    updated_at = now()
		WHERE id = $1
	`, id, intentID, clientSecret)
	if err != nil {
		return fmt.Errorf("payments: set intent ref: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *Repository) SetPaymentMethod(ctx context.Context, id uuid.UUID, method string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE payments
		SET payment_method = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, method)
	if err != nil {
		return fmt.Errorf("payments: set payment method: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return scanPayment(r.db.QueryRow(ctx, paymentSelect+` WHERE id = $1`, id))
}

func (r *Repository) GetByIntentID(ctx context.Context, intentID string) (*Payment, error) {
	return scanPayment(r.db.QueryRow(ctx, paymentSelect+` WHERE intent_id = $1`, intentID))
}

// LatestForAppointment returns the most recent payment for an appointment.
func (r *Repository) LatestForAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error) {
	return scanPayment(r.db.QueryRow(ctx, paymentSelect+`
		WHERE appointment_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, appointmentID))
}

// Transition moves the payment to the given status only if its current
// status is one of the listed from states. Returns whether the update was
// applied; replayed processor events observe false and skip side effects.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, to Status, from ...Status) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("payments: transition requires at least one from status")
	}
	ct, err := r.db.Exec(ctx, `
		UPDATE payments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
	`, id, to, statusStrings(from))
	if err != nil {
		return false, fmt.Errorf("payments: transition to %s: %w", to, err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repository) CreateRefund(ctx context.Context, ref *Refund) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO refunds (id, payment_id, amount_cents, currency, status, reason, policy_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ref.ID, ref.PaymentID, ref.AmountCents, ref.Currency, ref.Status, ref.Reason, ref.PolicyID)
	if err != nil {
		return fmt.Errorf("payments: create refund: %w", err)
	}
	return nil
}

func (r *Repository) SetRefundProviderID(ctx context.Context, id uuid.UUID, providerRefundID string) error {
	ct, err := r.db.Exec(ctx, `
		UPDATE refunds
		SET provider_refund_id = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, providerRefundID)
	if err != nil {
		return fmt.Errorf("payments: set refund provider id: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrRefundNotFound
	}
	return nil
}

func (r *Repository) GetRefundByProviderID(ctx context.Context, providerRefundID string) (*Refund, error) {
	return scanRefund(r.db.QueryRow(ctx, refundSelect+` WHERE provider_refund_id = $1`, providerRefundID))
}

// LatestRefundForPayment returns the newest refund row for a payment, which
// is the one processor refund events resolve against when they carry no
// refund id of their own.
func (r *Repository) LatestRefundForPayment(ctx context.Context, paymentID uuid.UUID) (*Refund, error) {
	return scanRefund(r.db.QueryRow(ctx, refundSelect+`
		WHERE payment_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, paymentID))
}

func (r *Repository) TransitionRefund(ctx context.Context, id uuid.UUID, to RefundStatus, from ...RefundStatus) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("payments: refund transition requires at least one from status")
	}
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}
	ct, err := r.db.Exec(ctx, `
		UPDATE refunds
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
	`, id, to, fromStrs)
	if err != nil {
		return false, fmt.Errorf("payments: refund transition to %s: %w", to, err)
	}
	return ct.RowsAffected() == 1, nil
}

// ActivePolicies loads the full cancellation schedule.
func (r *Repository) ActivePolicies(ctx context.Context) ([]RefundPolicy, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, hours_before_min, hours_before_max, percent, created_at
		FROM refund_policies
		ORDER BY hours_before_min
	`)
	if err != nil {
		return nil, fmt.Errorf("payments: load policies: %w", err)
	}
	defer rows.Close()

	var policies []RefundPolicy
	for rows.Next() {
		var p RefundPolicy
		if err := rows.Scan(&p.ID, &p.HoursBeforeMin, &p.HoursBeforeMax, &p.Percent, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("payments: scan policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// InsertPolicy adds one tier, skipping duplicates on the minimum bound.
func (r *Repository) InsertPolicy(ctx context.Context, p RefundPolicy) (bool, error) {
	ct, err := r.db.Exec(ctx, `
		INSERT INTO refund_policies (id, hours_before_min, hours_before_max, percent)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (hours_before_min) DO NOTHING
	`, p.ID, p.HoursBeforeMin, p.HoursBeforeMax, p.Percent)
	if err != nil {
		return false, fmt.Errorf("payments: insert policy: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// DeletePolicies clears the schedule, used by seeding with --force.
func (r *Repository) DeletePolicies(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM refund_policies`); err != nil {
		return fmt.Errorf("payments: delete policies: %w", err)
	}
	return nil
}

const paymentSelect = `
	SELECT id, appointment_id, slot_id, patient_id, amount_cents, currency,
	       status, intent_id, client_secret, payment_method, created_at, updated_at
	FROM payments`

const refundSelect = `
	SELECT id, payment_id, amount_cents, currency, status, reason,
	       provider_refund_id, policy_id, created_at, updated_at
	FROM refunds`

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID,
		&p.AppointmentID,
		&p.SlotID,
		&p.PatientID,
		&p.AmountCents,
		&p.Currency,
		&p.Status,
		&p.IntentID,
		&p.ClientSecret,
		&p.PaymentMethod,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payments: scan payment: %w", err)
	}
	return &p, nil
}

func scanRefund(row pgx.Row) (*Refund, error) {
	var ref Refund
	err := row.Scan(
		&ref.ID,
		&ref.PaymentID,
		&ref.AmountCents,
		&ref.Currency,
		&ref.Status,
		&ref.Reason,
		&ref.ProviderRefundID,
		&ref.PolicyID,
		&ref.CreatedAt,
		&ref.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRefundNotFound
		}
		return nil, fmt.Errorf("payments: scan refund: %w", err)
	}
	return &ref, nil
}
