package analytics

import (
	"context"
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

// PeriodCounts pairs appointment and lead counts for one window.
type PeriodCounts struct {
	Appointments int `json:"appointments"`
	Leads        int `json:"leads"`
}

// Metrics compares today/yesterday and this month/last month.
type Metrics struct {
	Today     PeriodCounts `json:"today"`
	Yesterday PeriodCounts `json:"yesterday"`
	ThisMonth PeriodCounts `json:"this_month"`
	LastMonth PeriodCounts `json:"last_month"`
}

// PatientHit is one CRM search result.
type PatientHit struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Phone           string     `json:"phone"`
	Status          string     `json:"status"`
	FollowUpCount   int        `json:"follow_up_count"`
	LastInteraction time.Time  `json:"last_interaction"`
	NextAppointment *time.Time `json:"next_appointment,omitempty"`
}

// UpcomingAppointment is one agenda entry with patient contact info.
type UpcomingAppointment struct {
	StartTime    time.Time `json:"start_time"`
	PatientName  string    `json:"patient_name"`
	PatientPhone string    `json:"patient_phone"`
}

// ActivityEntry is one recent inbound patient message.
type ActivityEntry struct {
	PatientName   string    `json:"patient_name"`
	PatientStatus string    `json:"patient_status"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"created_at"`
}

// Service answers the management agent's reporting queries.
type Service struct {
	db  DB
	now func() time.Time
}

// NewService creates the analytics service.
func NewService(db DB) *Service {
	return &Service{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GetMetrics returns booking and lead counts for today, yesterday, this
// month and last month.
func (s *Service) GetMetrics(ctx context.Context) (*Metrics, error) {
	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	yesterday := today.AddDate(0, 0, -1)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	lastMonthStart := monthStart.AddDate(0, -1, 0)

	var m Metrics
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM appointments WHERE start_time >= $1 AND status <> 'cancelled'),
			(SELECT count(*) FROM patients WHERE created_at >= $1),
			(SELECT count(*) FROM appointments WHERE start_time >= $2 AND start_time < $1 AND status <> 'cancelled'),
			(SELECT count(*) FROM patients WHERE created_at >= $2 AND created_at < $1),
			(SELECT count(*) FROM appointments WHERE start_time >= $3 AND status <> 'cancelled'),
			(SELECT count(*) FROM patients WHERE created_at >= $3),
			(SELECT count(*) FROM appointments WHERE start_time >= $4 AND start_time < $3 AND status <> 'cancelled'),
			(SELECT count(*) FROM patients WHERE created_at >= $4 AND created_at < $3)`,
		today, yesterday, monthStart, lastMonthStart).Scan(
		&m.Today.Appointments, &m.Today.Leads,
		&m.Yesterday.Appointments, &m.Yesterday.Leads,
		&m.ThisMonth.Appointments, &m.ThisMonth.Leads,
		&m.LastMonth.Appointments, &m.LastMonth.Leads,
	)
	if err != nil {
		return nil, fmt.Errorf("analytics: get metrics: %w", err)
	}
	return &m, nil
}

// SearchPatients finds up to five patients by name fragment or phone
// fragment, with their next non-cancelled appointment if any.
func (s *Service) SearchPatients(ctx context.Context, query string) ([]PatientHit, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.id, p.display_name, p.phone, p.status, p.follow_up_count,
			p.last_interaction_at,
			(SELECT min(a.start_time) FROM appointments a
				WHERE a.patient_id = p.id AND a.start_time >= $2 AND a.status <> 'cancelled')
		FROM patients p
		WHERE p.phone LIKE '%' || $1 || '%'
			OR p.display_name ILIKE '%' || $1 || '%'
		ORDER BY p.last_interaction_at DESC
		LIMIT 5`, query, s.now())
	if err != nil {
		return nil, fmt.Errorf("analytics: search patients: %w", err)
	}
	defer rows.Close()

	var out []PatientHit
	for rows.Next() {
		var hit PatientHit
		if err := rows.Scan(&hit.ID, &hit.Name, &hit.Phone, &hit.Status,
			&hit.FollowUpCount, &hit.LastInteraction, &hit.NextAppointment); err != nil {
			return nil, fmt.Errorf("analytics: scan patient hit: %w", err)
		}
		if hit.Name == "" {
			hit.Name = "Sin nombre"
		}
		out = append(out, hit)
	}
	return out, rows.Err()
}

// UpcomingAppointments lists scheduled appointments for the next days.
func (s *Service) UpcomingAppointments(ctx context.Context, days int) ([]UpcomingAppointment, error) {
	if days <= 0 {
		days = 7
	}
	now := s.now()
	rows, err := s.db.Query(ctx, `
		SELECT a.start_time, p.display_name, p.phone
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		WHERE a.start_time >= $1 AND a.start_time < $2 AND a.status <> 'cancelled'
		ORDER BY a.start_time ASC`, now, now.AddDate(0, 0, days))
	if err != nil {
		return nil, fmt.Errorf("analytics: upcoming appointments: %w", err)
	}
	defer rows.Close()

	var out []UpcomingAppointment
	for rows.Next() {
		var a UpcomingAppointment
		if err := rows.Scan(&a.StartTime, &a.PatientName, &a.PatientPhone); err != nil {
			return nil, fmt.Errorf("analytics: scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecentActivity lists the latest inbound patient messages.
func (s *Service) RecentActivity(ctx context.Context, limit int) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx, `
		SELECT p.display_name, p.status, left(i.content, 50), i.created_at
		FROM interactions i
		JOIN patients p ON p.id = i.patient_id
		WHERE i.role = 'user'
		ORDER BY i.created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("analytics: recent activity: %w", err)
	}
	defer rows.Close()

	var out []ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		if err := rows.Scan(&e.PatientName, &e.PatientStatus, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("analytics: scan activity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
