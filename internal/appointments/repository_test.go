package appointments

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *Repository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock, newRepositoryWithExec(mock)
}

func TestTransitionApplied(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE appointments").
		WithArgs(id, StatusConfirmed, []string{"pending"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	applied, err := repo.Transition(context.Background(), id, StatusConfirmed, StatusPending)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !applied {
		t.Fatal("expected transition to be applied")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransitionNotAppliedWhenAlreadyMoved(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE appointments").
		WithArgs(id, StatusConfirmed, []string{"pending"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	applied, err := repo.Transition(context.Background(), id, StatusConfirmed, StatusPending)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if applied {
		t.Fatal("expected transition to be a no-op")
	}
}

func TestTransitionRequiresFromStatus(t *testing.T) {
	_, repo := newMockRepo(t)

	if _, err := repo.Transition(context.Background(), uuid.New(), StatusConfirmed); err == nil {
		t.Fatal("expected error when no from status given")
	}
}

func TestGetByIDNotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT id, patient_id").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), id)
	if !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func TestCreate(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := &Appointment{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		DoctorID:  uuid.New(),
		SlotID:    uuid.New(),
		Status:    StatusPending,
		Reason:    "annual checkup",
	}

	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(a.ID, a.PatientID, a.DoctorID, a.SlotID, a.Status, a.Reason).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.Create(context.Background(), a); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateSlotTakenMapsUniqueViolation(t *testing.T) {
	mock, repo := newMockRepo(t)
	a := &Appointment{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		DoctorID:  uuid.New(),
		SlotID:    uuid.New(),
		Status:    StatusPending,
	}

	mock.ExpectExec("INSERT INTO appointments").
		WithArgs(a.ID, a.PatientID, a.DoctorID, a.SlotID, a.Status, a.Reason).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	if err := repo.Create(context.Background(), a); !errors.Is(err, ErrSlotAlreadyScheduled) {
		t.Fatalf("expected ErrSlotAlreadyScheduled, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
