package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockService(t *testing.T) (*Service, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	svc := NewService(mock).WithClock(func() time.Time {
		return time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)
	})
	return svc, mock
}

func TestGetMetrics(t *testing.T) {
	svc, mock := newMockService(t)

	today := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	yesterday := today.AddDate(0, 0, -1)
	monthStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	lastMonthStart := monthStart.AddDate(0, -1, 0)

	mock.ExpectQuery("SELECT").
		WithArgs(today, yesterday, monthStart, lastMonthStart).
		WillReturnRows(pgxmock.NewRows([]string{
			"c1", "c2", "c3", "c4", "c5", "c6", "c7", "c8",
		}).AddRow(3, 5, 2, 4, 20, 40, 15, 30))

	m, err := svc.GetMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PeriodCounts{Appointments: 3, Leads: 5}, m.Today)
	assert.Equal(t, PeriodCounts{Appointments: 2, Leads: 4}, m.Yesterday)
	assert.Equal(t, PeriodCounts{Appointments: 20, Leads: 40}, m.ThisMonth)
	assert.Equal(t, PeriodCounts{Appointments: 15, Leads: 30}, m.LastMonth)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchPatients(t *testing.T) {
	svc, mock := newMockService(t)

	id := uuid.New()
	next := time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC)
	last := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT p.id, p.display_name").
		WithArgs("maria", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "display_name", "phone", "status", "follow_up_count",
			"last_interaction_at", "next",
		}).
			AddRow(id, "Maria Perez", "18095551234", "patient", 0, last, &next).
			AddRow(uuid.New(), "", "18095559999", "lead", 1, last, (*time.Time)(nil)))

	hits, err := svc.SearchPatients(context.Background(), "maria")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "Maria Perez", hits[0].Name)
	require.NotNil(t, hits[0].NextAppointment)
	assert.Equal(t, next, *hits[0].NextAppointment)
	assert.Equal(t, "Sin nombre", hits[1].Name)
	assert.Nil(t, hits[1].NextAppointment)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpcomingAppointmentsDefaultWindow(t *testing.T) {
	svc, mock := newMockService(t)

	now := time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT a.start_time").
		WithArgs(now, now.AddDate(0, 0, 7)).
		WillReturnRows(pgxmock.NewRows([]string{"start_time", "display_name", "phone"}).
			AddRow(now.Add(20*time.Hour), "Juan", "18095550001"))

	appts, err := svc.UpcomingAppointments(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, "Juan", appts[0].PatientName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentActivity(t *testing.T) {
	svc, mock := newMockService(t)

	mock.ExpectQuery("SELECT p.display_name, p.status").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"display_name", "status", "content", "created_at"}).
			AddRow("Ana", "lead", "hola, quiero info de limpieza", time.Now()))

	entries, err := svc.RecentActivity(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Ana", entries[0].PatientName)
	assert.NoError(t, mock.ExpectationsWereMet())
}
