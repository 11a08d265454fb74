package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/abraan16/dr-sonrisa-backend/internal/notify"
	"github.com/abraan16/dr-sonrisa-backend/internal/observability/metrics"
	"github.com/abraan16/dr-sonrisa-backend/internal/patients"
	"github.com/abraan16/dr-sonrisa-backend/internal/scheduling"
	"github.com/abraan16/dr-sonrisa-backend/pkg/logging"
)

// Scheduler is the slice of the booking engine the sales tools need.
type Scheduler interface {
	CheckAvailability(ctx context.Context, date time.Time) ([]time.Time, error)
	CreateAppointment(ctx context.Context, patientID uuid.UUID, startTime time.Time) (*scheduling.Appointment, error)
}

// CheckAvailabilityTool lists the free slots for a requested date.
type CheckAvailabilityTool struct {
	scheduler Scheduler
	loc       *time.Location
}

func NewCheckAvailabilityTool(scheduler Scheduler, loc *time.Location) *CheckAvailabilityTool {
	if loc == nil {
		loc = time.UTC
	}
	return &CheckAvailabilityTool{scheduler: scheduler, loc: loc}
}

func (t *CheckAvailabilityTool) Name() string { return "check_availability" }

func (t *CheckAvailabilityTool) Description() string {
	return "Check available appointment slots for a given date"
}

func (t *CheckAvailabilityTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"date": map[string]any{
				"type":        "string",
				"description": "Date in YYYY-MM-DD format (e.g. 2026-03-20)",
			},
		},
		"required": []string{"date"},
	}
}

func (t *CheckAvailabilityTool) Execute(ctx context.Context, _ *patients.Patient, args json.RawMessage) (string, error) {
	var in struct {
		Date string `json:"date"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	date, err := time.ParseInLocation("2006-01-02", in.Date, t.loc)
	if err != nil {
		return "", fmt.Errorf("invalid date %q, expected YYYY-MM-DD", in.Date)
	}

	slots, err := t.scheduler.CheckAvailability(ctx, date)
	if err != nil {
		return "", err
	}
	if len(slots) == 0 {
		b, _ := json.Marshal(map[string]string{"message": "No slots available for this date."})
		return string(b), nil
	}

	formatted := make([]string, 0, len(slots))
	for _, s := range slots {
		formatted = append(formatted, s.In(t.loc).Format("2006-01-02T15:04"))
	}
	b, _ := json.Marshal(map[string]any{"available_slots": formatted})
	return string(b), nil
}

// BookAppointmentTool books a confirmed slot and alerts the operators.
type BookAppointmentTool struct {
	scheduler Scheduler
	alerter   notify.Alerter
	metrics   *metrics.PipelineMetrics
	loc       *time.Location
	logger    *logging.Logger
}

func NewBookAppointmentTool(scheduler Scheduler, alerter notify.Alerter, loc *time.Location, logger *logging.Logger) *BookAppointmentTool {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &BookAppointmentTool{scheduler: scheduler, alerter: alerter, loc: loc, logger: logger}
}

// WithMetrics attaches booking instrumentation.
func (t *BookAppointmentTool) WithMetrics(m *metrics.PipelineMetrics) *BookAppointmentTool {
	t.metrics = m
	return t
}

func (t *BookAppointmentTool) Name() string { return "book_appointment" }

func (t *BookAppointmentTool) Description() string {
	return "Book an appointment for the patient at a confirmed time"
}

func (t *BookAppointmentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"startTime": map[string]any{
				"type":        "string",
				"description": "ISO 8601 start time (e.g. 2026-03-20T10:00:00)",
			},
		},
		"required": []string{"startTime"},
	}
}

func (t *BookAppointmentTool) Execute(ctx context.Context, patient *patients.Patient, args json.RawMessage) (string, error) {
	var in struct {
		StartTime string `json:"startTime"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	start, err := parseStartTime(in.StartTime, t.loc)
	if err != nil {
		return "", err
	}

	appt, err := t.scheduler.CreateAppointment(ctx, patient.ID, start)
	if err != nil {
		t.metrics.ObserveBooking("failed")
		return "", err
	}
	t.metrics.ObserveBooking("confirmed")

	if t.alerter != nil {
		if err := t.alerter.Notify(ctx, notify.BookingAlert(patient.DisplayName, patient.Phone, appt.StartTime.In(t.loc))); err != nil {
			t.logger.Warn("booking alert failed", "error", err, "patient_id", patient.ID)
		}
	}

	b, _ := json.Marshal(map[string]string{
		"status": "confirmed",
		"time":   appt.StartTime.In(t.loc).Format(time.RFC3339),
	})
	return string(b), nil
}

func parseStartTime(value string, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if ts, err := time.ParseInLocation(layout, value, loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid startTime %q, expected ISO 8601", value)
}
