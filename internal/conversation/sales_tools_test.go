package conversation

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abraan16/dr-sonrisa-backend/internal/observability/metrics"
	"github.com/abraan16/dr-sonrisa-backend/internal/scheduling"
)

type fakeScheduler struct {
	slots     []time.Time
	slotsErr  error
	created   []time.Time
	createErr error
}

func (f *fakeScheduler) CheckAvailability(_ context.Context, _ time.Time) ([]time.Time, error) {
	return f.slots, f.slotsErr
}

func (f *fakeScheduler) CreateAppointment(_ context.Context, patientID uuid.UUID, startTime time.Time) (*scheduling.Appointment, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, startTime)
	return &scheduling.Appointment{
		ID:        uuid.New(),
		PatientID: patientID,
		StartTime: startTime,
		Status:    scheduling.StatusScheduled,
	}, nil
}

type recordingAlerter struct {
	messages []string
}

func (r *recordingAlerter) Notify(_ context.Context, text string) error {
	r.messages = append(r.messages, text)
	return nil
}

func TestCheckAvailabilityToolFormatsSlots(t *testing.T) {
	sched := &fakeScheduler{slots: []time.Time{
		time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC),
	}}
	tool := NewCheckAvailabilityTool(sched, time.UTC)

	out, err := tool.Execute(context.Background(), testPatient(), json.RawMessage(`{"date":"2026-03-20"}`))
	require.NoError(t, err)

	var parsed struct {
		AvailableSlots []string `json:"available_slots"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, []string{"2026-03-20T09:00", "2026-03-20T10:00"}, parsed.AvailableSlots)
}

func TestCheckAvailabilityToolEmptyDay(t *testing.T) {
	tool := NewCheckAvailabilityTool(&fakeScheduler{}, time.UTC)

	out, err := tool.Execute(context.Background(), testPatient(), json.RawMessage(`{"date":"2026-03-20"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"No slots available for this date."}`, out)
}

func TestCheckAvailabilityToolBadDate(t *testing.T) {
	tool := NewCheckAvailabilityTool(&fakeScheduler{}, time.UTC)

	_, err := tool.Execute(context.Background(), testPatient(), json.RawMessage(`{"date":"el viernes"}`))
	assert.Error(t, err)
}

func TestBookAppointmentToolConfirmsAndAlerts(t *testing.T) {
	sched := &fakeScheduler{}
	alerter := &recordingAlerter{}
	tool := NewBookAppointmentTool(sched, alerter, time.UTC, nil)

	out, err := tool.Execute(context.Background(), testPatient(), json.RawMessage(`{"startTime":"2026-03-20T10:00:00"}`))
	require.NoError(t, err)

	var parsed map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	assert.Equal(t, "confirmed", parsed["status"])

	require.Len(t, sched.created, 1)
	assert.Equal(t, time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC), sched.created[0])

	require.Len(t, alerter.messages, 1)
	assert.Contains(t, alerter.messages[0], "Maria")
}

func TestBookAppointmentToolSchedulerError(t *testing.T) {
	sched := &fakeScheduler{createErr: scheduling.ErrSlotTaken}
	tool := NewBookAppointmentTool(sched, nil, time.UTC, nil)

	_, err := tool.Execute(context.Background(), testPatient(), json.RawMessage(`{"startTime":"2026-03-20T10:00:00"}`))
	assert.ErrorIs(t, err, scheduling.ErrSlotTaken)
}

func TestBookAppointmentToolCountsBookings(t *testing.T) {
	promReg := prometheus.NewRegistry()
	m := metrics.NewPipelineMetrics(promReg)

	tool := NewBookAppointmentTool(&fakeScheduler{}, nil, time.UTC, nil).WithMetrics(m)
	_, err := tool.Execute(context.Background(), testPatient(), json.RawMessage(`{"startTime":"2026-03-20T10:00:00"}`))
	require.NoError(t, err)

	failing := NewBookAppointmentTool(&fakeScheduler{createErr: scheduling.ErrSlotTaken}, nil, time.UTC, nil).WithMetrics(m)
	_, err = failing.Execute(context.Background(), testPatient(), json.RawMessage(`{"startTime":"2026-03-20T11:00:00"}`))
	require.Error(t, err)

	expected := `
# HELP sonrisa_scheduling_bookings_total Total booking attempts
# TYPE sonrisa_scheduling_bookings_total counter
sonrisa_scheduling_bookings_total{status="confirmed"} 1
sonrisa_scheduling_bookings_total{status="failed"} 1
`
	require.NoError(t, testutil.GatherAndCompare(promReg, strings.NewReader(expected),
		"sonrisa_scheduling_bookings_total"))
}
