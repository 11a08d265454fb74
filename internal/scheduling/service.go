package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/abraan16/dr-sonrisa-backend/internal/config"
	"github.com/abraan16/dr-sonrisa-backend/internal/patients"
	"github.com/abraan16/dr-sonrisa-backend/pkg/logging"
)

var schedulingTracer = otel.Tracer("sonrisa.internal.scheduling")

const uniqueViolation = "23505"

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Service answers availability questions and books appointments against the
// single shared clinic calendar.
type Service struct {
	db        DB
	startHour int
	endHour   int
	slotLen   time.Duration
	blackouts []config.BlackoutWindow
	logger    *logging.Logger
}

// NewService builds the scheduling service. Hours are the clinic's business
// window [startHour, endHour) in the clinic's local time.
func NewService(db DB, startHour, endHour int, slotLen time.Duration, blackouts []config.BlackoutWindow, logger *logging.Logger) *Service {
	if slotLen <= 0 {
		slotLen = time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		db:        db,
		startHour: startHour,
		endHour:   endHour,
		slotLen:   slotLen,
		blackouts: blackouts,
		logger:    logger,
	}
}

// CheckAvailability returns the free slot start times for a calendar date,
// ascending. A date inside a blackout window has no slots at all.
//
// A slot is taken iff a non-cancelled appointment starts exactly on its
// boundary. With one shared resource and a fixed slot length this equality
// check is equivalent to interval overlap; it stops being so the moment
// variable durations appear.
func (s *Service) CheckAvailability(ctx context.Context, date time.Time) ([]time.Time, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.check_availability")
	defer span.End()
	span.SetAttributes(attribute.String("sonrisa.date", date.Format(time.DateOnly)))

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	if s.inBlackout(dayStart) {
		s.logger.Info("scheduling: date inside blackout window, no slots",
			"date", date.Format(time.DateOnly))
		return []time.Time{}, nil
	}

	windowStart := dayStart.Add(time.Duration(s.startHour) * time.Hour)
	windowEnd := dayStart.Add(time.Duration(s.endHour) * time.Hour)

	booked, err := s.bookedStartTimes(ctx, windowStart, windowEnd)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var free []time.Time
	for slot := windowStart; slot.Before(windowEnd); slot = slot.Add(s.slotLen) {
		if _, taken := booked[slot.Unix()]; !taken {
			free = append(free, slot)
		}
	}
	return free, nil
}

func (s *Service) bookedStartTimes(ctx context.Context, from, to time.Time) (map[int64]struct{}, error) {
	rows, err := s.db.Query(ctx, `
		SELECT start_time
		FROM appointments
		WHERE start_time >= $1 AND start_time < $2 AND status <> 'cancelled'`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("scheduling: load booked slots: %w", err)
	}
	defer rows.Close()

	booked := make(map[int64]struct{})
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scheduling: scan booked slot: %w", err)
		}
		booked[t.Unix()] = struct{}{}
	}
	return booked, rows.Err()
}

// CreateAppointment books the slot starting at startTime for the patient.
// The insert races through the partial unique index on non-cancelled start
// times, so at most one concurrent caller wins; losers get ErrSlotTaken.
// Blackout windows are enforced here too, not only in CheckAvailability, so
// a caller cannot book straight into a closure.
func (s *Service) CreateAppointment(ctx context.Context, patientID uuid.UUID, startTime time.Time) (*Appointment, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.create_appointment")
	defer span.End()
	span.SetAttributes(
		attribute.String("sonrisa.patient_id", patientID.String()),
		attribute.String("sonrisa.start_time", startTime.Format(time.RFC3339)),
	)

	if s.inBlackout(startTime) {
		return nil, ErrClinicClosed
	}
	if h := startTime.Hour(); h < s.startHour || h >= s.endHour {
		return nil, ErrOutsideBusinessHours
	}

	var exists int
	if err := s.db.QueryRow(ctx, `
		SELECT 1 FROM patients WHERE id = $1`, patientID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, patients.ErrPatientNotFound
		}
		return nil, fmt.Errorf("scheduling: verify patient: %w", err)
	}

	// Friendly pre-check; the unique index is the real guard.
	taken, err := s.slotTaken(ctx, startTime)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if taken {
		return nil, ErrSlotTaken
	}

	endTime := startTime.Add(s.slotLen)
	row := s.db.QueryRow(ctx, `
		INSERT INTO appointments (patient_id, start_time, end_time, status)
		VALUES ($1, $2, $3, 'scheduled')
		RETURNING id, patient_id, start_time, end_time, status, created_at, updated_at`,
		patientID, startTime, endTime)

	var appt Appointment
	if err := row.Scan(&appt.ID, &appt.PatientID, &appt.StartTime, &appt.EndTime, &appt.Status, &appt.CreatedAt, &appt.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrSlotTaken
		}
		span.RecordError(err)
		return nil, fmt.Errorf("scheduling: insert appointment: %w", err)
	}

	s.logger.Info("scheduling: appointment booked",
		"appointment_id", appt.ID,
		"patient_id", patientID,
		"start_time", startTime.Format(time.RFC3339),
	)
	return &appt, nil
}

func (s *Service) slotTaken(ctx context.Context, startTime time.Time) (bool, error) {
	var exists int
	err := s.db.QueryRow(ctx, `
		SELECT 1 FROM appointments
		WHERE start_time = $1 AND status <> 'cancelled'
		LIMIT 1`, startTime).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("scheduling: check slot: %w", err)
	}
	return true, nil
}

func (s *Service) inBlackout(t time.Time) bool {
	for _, w := range s.blackouts {
		if w.Contains(t) {
			return true
		}
	}
	return false
}
