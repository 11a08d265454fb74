package patients

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func patientRows(mock pgxmock.PgxPoolIface, p Patient) *pgxmock.Rows {
	return mock.NewRows([]string{
		"id", "phone", "display_name", "status", "bot_status", "handoff_at",
		"last_human_response_at", "follow_up_count", "follow_up_status",
		"last_interaction_at", "created_at", "updated_at",
	}).AddRow(
		p.ID, p.Phone, p.DisplayName, p.Status, p.BotStatus, p.HandoffAt,
		p.LastHumanResponseAt, p.FollowUpCount, p.FollowUpStatus,
		p.LastInteractionAt, p.CreatedAt, p.UpdatedAt,
	)
}

func testPatient() Patient {
	now := time.Now().UTC()
	return Patient{
		ID:                uuid.New(),
		Phone:             "18095551234",
		DisplayName:       "María",
		Status:            StatusLead,
		BotStatus:         BotActive,
		FollowUpStatus:    FollowUpPending,
		LastInteractionAt: now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestStoreResolveUpserts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	p := testPatient()
	mock.ExpectQuery("INSERT INTO patients").
		WithArgs("18095551234", "María").
		WillReturnRows(patientRows(mock, p))

	store := NewStore(mock)
	got, err := store.Resolve(context.Background(), "18095551234", "María")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Phone != p.Phone || got.DisplayName != "María" {
		t.Fatalf("unexpected patient %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreGetByIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM patients WHERE id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	store := NewStore(mock)
	_, err = store.GetByID(context.Background(), id)
	if !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestStorePauseBot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	at := time.Now().UTC()
	mock.ExpectExec("UPDATE patients").
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	store := NewStore(mock)
	if err := store.PauseBot(context.Background(), id, at); err != nil {
		t.Fatalf("pause bot: %v", err)
	}
}

func TestStoreAdvanceFollowUpStopsAtMax(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	at := time.Now().UTC()
	mock.ExpectQuery("UPDATE patients").
		WithArgs(id, 2, at).
		WillReturnRows(mock.NewRows([]string{"follow_up_count", "follow_up_status"}).
			AddRow(2, FollowUpStopped))

	store := NewStore(mock)
	count, status, err := store.AdvanceFollowUp(context.Background(), id, 2, at)
	if err != nil {
		t.Fatalf("advance follow-up: %v", err)
	}
	if count != 2 || status != FollowUpStopped {
		t.Fatalf("expected terminal state, got count=%d status=%s", count, status)
	}
}

func TestStoreListReactivationCandidates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	p := testPatient()
	mock.ExpectQuery("SELECT (.+) FROM patients p").
		WithArgs(0, cutoff, 5).
		WillReturnRows(patientRows(mock, p))

	store := NewStore(mock)
	got, err := store.ListReactivationCandidates(context.Background(), 0, cutoff, 5)
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	if len(got) != 1 || got[0].ID != p.ID {
		t.Fatalf("unexpected candidates %+v", got)
	}
}

func TestStoreHasAppointments(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT 1 FROM appointments").
		WithArgs(id).
		WillReturnRows(mock.NewRows([]string{"exists"}))

	store := NewStore(mock)
	ok, err := store.HasAppointments(context.Background(), id)
	if err != nil {
		t.Fatalf("has appointments: %v", err)
	}
	if ok {
		t.Fatal("expected no appointments")
	}
}
