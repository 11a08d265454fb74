package patients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides persistence for patients.
type Store struct {
	db DB
}

// NewStore creates a patient store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const patientColumns = `id, phone, display_name, status, bot_status, handoff_at,
	last_human_response_at, follow_up_count, follow_up_status,
	last_interaction_at, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.Phone, &p.DisplayName, &p.Status, &p.BotStatus,
		&p.HandoffAt, &p.LastHumanResponseAt, &p.FollowUpCount,
		&p.FollowUpStatus, &p.LastInteractionAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Resolve finds the patient for a phone, creating one on first contact.
// The upsert is the concurrency guard: two simultaneous first messages from
// the same phone race into one row, and the loser of the insert picks up the
// winner's row. The display name is refreshed only when the sender reports a
// new non-empty one.
func (s *Store) Resolve(ctx context.Context, phone, displayName string) (*Patient, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO patients (phone, display_name)
		VALUES ($1, $2)
		ON CONFLICT (phone) DO UPDATE
		SET display_name = CASE
				WHEN EXCLUDED.display_name <> '' AND EXCLUDED.display_name <> patients.display_name
					THEN EXCLUDED.display_name
				ELSE patients.display_name
			END,
			updated_at = now()
		RETURNING `+patientColumns,
		phone, displayName)
	p, err := scanPatient(row)
	if err != nil {
		return nil, fmt.Errorf("patients: resolve %s: %w", phone, err)
	}
	return p, nil
}

// GetByID loads a patient by primary key.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := s.db.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	p, err := scanPatient(row)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("patients: get by id: %w", err)
	}
	return p, nil
}

// GetByPhone loads a patient by normalized phone.
func (s *Store) GetByPhone(ctx context.Context, phone string) (*Patient, error) {
	row := s.db.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE phone = $1`, phone)
	p, err := scanPatient(row)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("patients: get by phone: %w", err)
	}
	return p, nil
}

// PauseBot marks the patient as handed off to a human operator.
func (s *Store) PauseBot(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE patients
		SET bot_status = 'paused',
			handoff_at = $2,
			last_human_response_at = $2,
			updated_at = now()
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("patients: pause bot: %w", err)
	}
	return nil
}

// TouchHumanActivity re-arms the handoff timeout without changing state.
func (s *Store) TouchHumanActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE patients
		SET last_human_response_at = $2, updated_at = now()
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("patients: touch human activity: %w", err)
	}
	return nil
}

// ResumeBot puts the automated agent back in charge.
func (s *Store) ResumeBot(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE patients
		SET bot_status = 'active', updated_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("patients: resume bot: %w", err)
	}
	return nil
}

// ResumeExpiredHandoffs reactivates every paused patient whose last human
// activity predates the cutoff. Returns how many rows flipped.
func (s *Store) ResumeExpiredHandoffs(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE patients
		SET bot_status = 'active', updated_at = now()
		WHERE bot_status = 'paused' AND last_human_response_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("patients: resume expired handoffs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// TouchInteraction refreshes last_interaction_at.
func (s *Store) TouchInteraction(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE patients
		SET last_interaction_at = $2, updated_at = now()
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("patients: touch interaction: %w", err)
	}
	return nil
}

// AdvanceFollowUp increments the follow-up counter after a successful
// outreach, stopping the campaign once maxCount is reached. The refreshed
// last_interaction_at keeps the lead out of the same sweep's selection.
func (s *Store) AdvanceFollowUp(ctx context.Context, id uuid.UUID, maxCount int, at time.Time) (int, FollowUpStatus, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE patients
		SET follow_up_count = follow_up_count + 1,
			follow_up_status = CASE
				WHEN follow_up_count + 1 >= $2 THEN 'stopped'
				ELSE follow_up_status
			END,
			last_interaction_at = $3,
			updated_at = now()
		WHERE id = $1
		RETURNING follow_up_count, follow_up_status`, id, maxCount, at)

	var count int
	var status FollowUpStatus
	if err := row.Scan(&count, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, "", ErrPatientNotFound
		}
		return 0, "", fmt.Errorf("patients: advance follow-up: %w", err)
	}
	return count, status, nil
}

// ListReactivationCandidates selects leads for one follow-up tier: pending
// campaign state, exactly attempt prior contacts, quiet since the cutoff,
// and no appointments on file.
func (s *Store) ListReactivationCandidates(ctx context.Context, attempt int, cutoff time.Time, limit int) ([]Patient, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+patientColumns+`
		FROM patients p
		WHERE status = 'lead'
			AND follow_up_status = 'pending'
			AND follow_up_count = $1
			AND last_interaction_at < $2
			AND NOT EXISTS (
				SELECT 1 FROM appointments a WHERE a.patient_id = p.id
			)
		ORDER BY last_interaction_at ASC
		LIMIT $3`, attempt, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("patients: list reactivation candidates: %w", err)
	}
	defer rows.Close()

	var out []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("patients: scan candidate: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// HasAppointments reports whether the patient has any appointment on file.
func (s *Store) HasAppointments(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists int
	err := s.db.QueryRow(ctx, `
		SELECT 1 FROM appointments WHERE patient_id = $1 LIMIT 1`, id).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("patients: check appointments: %w", err)
	}
	return true, nil
}
