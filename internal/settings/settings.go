package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/abraan16/dr-sonrisa-backend/pkg/logging"
)

// Key enumerates the knowledge snippets the agent prompt is assembled from.
// Reads of any other key fail instead of silently returning an empty string.
type Key string

const (
	KeyPrices   Key = "prices"
	KeyHours    Key = "hours"
	KeyLocation Key = "location"
)

// ErrUnknownKey is returned for keys outside the enumerated set.
var ErrUnknownKey = errors.New("settings: unknown key")

var defaults = map[Key]string{
	KeyPrices: `PRECIOS OFICIALES (Pesos Dominicanos - RD$)
- Consulta/Valoración: RD$500 (¡Incluye Rx y Diagnóstico!)
- Limpieza dental: RD$1,000 (Gratis con tratamiento)
- Blanqueamiento: RD$2,500
- Endodoncia: RD$3,500
- Ortodoncia (Brackets): Inicial desde RD$15,000
- Implantes: Desde RD$18,000`,

	KeyHours: `HORARIOS
- Lunes a Viernes: 9:00 AM - 6:00 PM
- Domingos: CERRADO`,

	KeyLocation: `UBICACIÓN
Residencial Castillo, Av Olímpica esq. Rafael Tavares No. 1, Santiago.`,
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads and writes clinic knowledge settings.
type Store struct {
	db     DB
	logger *logging.Logger
}

// NewStore creates a settings store.
func NewStore(db DB, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{db: db, logger: logger}
}

// Get returns the stored value for key, falling back to the compiled-in
// default when the row is missing or the read fails. Read failures are
// logged, not propagated: a stale snippet beats a dead agent.
func (s *Store) Get(ctx context.Context, key Key) (string, error) {
	def, ok := defaults[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	var value string
	err := s.db.QueryRow(ctx, `
		SELECT value FROM system_settings WHERE key = $1`, string(key)).Scan(&value)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			s.logger.Error("settings: read failed, using default", "key", key, "error", err)
		}
		return def, nil
	}
	if strings.TrimSpace(value) == "" {
		return def, nil
	}
	return value, nil
}

// Set upserts a setting. Unknown keys are rejected so typos cannot create
// orphan rows the prompt assembly will never read.
func (s *Store) Set(ctx context.Context, key Key, value, description string) error {
	if _, ok := defaults[key]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO system_settings (key, value, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
			description = EXCLUDED.description,
			updated_at = now()`,
		string(key), value, description)
	if err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	return nil
}

// PromptSnippet assembles the knowledge block injected into the agent's
// system prompt.
func (s *Store) PromptSnippet(ctx context.Context) string {
	var parts []string
	for _, key := range []Key{KeyPrices, KeyHours, KeyLocation} {
		value, err := s.Get(ctx, key)
		if err != nil {
			continue
		}
		parts = append(parts, value)
	}
	return strings.Join(parts, "\n\n")
}
