package interactions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Role identifies who authored a conversational turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MediaType distinguishes plain text turns from transcribed audio.
type MediaType string

const (
	MediaText  MediaType = "text"
	MediaAudio MediaType = "audio"
)

// Interaction is one append-only entry in a patient's conversation timeline.
type Interaction struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	MediaType MediaType `json:"media_type"`
	CreatedAt time.Time `json:"created_at"`
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger is the append-only interaction log. It is the only conversational
// context the system keeps between turns.
type Ledger struct {
	db DB
}

// NewLedger creates a ledger backed by Postgres.
func NewLedger(db DB) *Ledger {
	return &Ledger{db: db}
}

// Append records one turn. Callers treat failures as non-fatal: losing a log
// line must never break the reply pipeline.
func (l *Ledger) Append(ctx context.Context, patientID uuid.UUID, role Role, content string, media MediaType) error {
	if media == "" {
		media = MediaText
	}
	_, err := l.db.Exec(ctx, `
		INSERT INTO interactions (patient_id, role, content, media_type)
		VALUES ($1, $2, $3, $4)`,
		patientID, string(role), content, string(media))
	if err != nil {
		return fmt.Errorf("interactions: append: %w", err)
	}
	return nil
}

// RecentContext returns the most recent limit turns in chronological order,
// ready to replay to the completion provider.
func (l *Ledger) RecentContext(ctx context.Context, patientID uuid.UUID, limit int) ([]Interaction, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.db.Query(ctx, `
		SELECT id, patient_id, role, content, media_type, created_at
		FROM interactions
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("interactions: recent context: %w", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var it Interaction
		if err := rows.Scan(&it.ID, &it.PatientID, &it.Role, &it.Content, &it.MediaType, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("interactions: scan: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returns newest-first; the provider wants oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
