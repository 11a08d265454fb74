package reactivation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/abraan16/dr-sonrisa-backend/internal/interactions"
	"github.com/abraan16/dr-sonrisa-backend/internal/messaging"
	"github.com/abraan16/dr-sonrisa-backend/internal/notify"
	"github.com/abraan16/dr-sonrisa-backend/internal/observability/metrics"
	"github.com/abraan16/dr-sonrisa-backend/internal/patients"
	"github.com/abraan16/dr-sonrisa-backend/pkg/logging"
)

var sweepTracer = otel.Tracer("sonrisa.internal.reactivation")

// ErrSweepHeld reports that another instance is already running today's sweep.
var ErrSweepHeld = errors.New("reactivation: sweep lease held")

const leaseKeyFormat = "reactivation:sweep:%s"

// PatientStore is the slice of the patient store the sweep needs.
type PatientStore interface {
	ListReactivationCandidates(ctx context.Context, attempt int, cutoff time.Time, limit int) ([]patients.Patient, error)
	HasAppointments(ctx context.Context, id uuid.UUID) (bool, error)
	AdvanceFollowUp(ctx context.Context, id uuid.UUID, maxCount int, at time.Time) (int, patients.FollowUpStatus, error)
}

// Composer writes the follow-up message for one lead.
type Composer interface {
	ComposeReactivation(ctx context.Context, patient *patients.Patient, attempt int) (string, error)
}

// TurnRecorder appends outbound turns to the conversation ledger.
type TurnRecorder interface {
	Append(ctx context.Context, patientID uuid.UUID, role interactions.Role, content string, media interactions.MediaType) error
}

// Config holds the sweep's tuning knobs.
type Config struct {
	Hour        int           // Local hour the daily sweep fires at.
	BatchSize   int           // Max messages per tier per day.
	FollowUpMax int           // Attempts before a lead is marked stopped.
	FirstAfter  time.Duration // Silence before the first follow-up.
	FinalAfter  time.Duration // Silence before the final follow-up.
	Location    *time.Location
}

func (c *Config) applyDefaults() {
	if c.Hour <= 0 {
		c.Hour = 10
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.FollowUpMax <= 0 {
		c.FollowUpMax = 2
	}
	if c.FirstAfter <= 0 {
		c.FirstAfter = 24 * time.Hour
	}
	if c.FinalAfter <= 0 {
		c.FinalAfter = 48 * time.Hour
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
}

// Scheduler runs the daily lead-reactivation sweep. A Redis lease keyed
// by date keeps concurrent instances from double-messaging leads.
type Scheduler struct {
	store    PatientStore
	composer Composer
	gateway  messaging.Gateway
	ledger   TurnRecorder
	redis    *redis.Client
	alerter  notify.Alerter
	metrics  *metrics.PipelineMetrics
	cfg      Config
	now      func() time.Time
	logger   *logging.Logger
}

// NewScheduler builds the sweep.
func NewScheduler(store PatientStore, composer Composer, gateway messaging.Gateway, ledger TurnRecorder, redisClient *redis.Client, alerter notify.Alerter, cfg Config, logger *logging.Logger) *Scheduler {
	cfg.applyDefaults()
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		store:    store,
		composer: composer,
		gateway:  gateway,
		ledger:   ledger,
		redis:    redisClient,
		alerter:  alerter,
		cfg:      cfg,
		now:      func() time.Time { return time.Now() },
		logger:   logger,
	}
}

// WithClock overrides the time source. Test hook.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// WithMetrics attaches sweep instrumentation.
func (s *Scheduler) WithMetrics(m *metrics.PipelineMetrics) *Scheduler {
	s.metrics = m
	return s
}

// TickHourly fires from the cron loop. It runs the sweep only in the
// configured local hour; the date lease makes extra ticks in that hour
// no-ops.
func (s *Scheduler) TickHourly(ctx context.Context) {
	if s.now().In(s.cfg.Location).Hour() != s.cfg.Hour {
		return
	}
	if err := s.RunSweep(ctx); err != nil && !errors.Is(err, ErrSweepHeld) {
		s.logger.Error("reactivation sweep failed", "error", err)
	}
}

// RunSweep acquires today's lease and messages both follow-up tiers.
func (s *Scheduler) RunSweep(ctx context.Context) error {
	ctx, span := sweepTracer.Start(ctx, "reactivation.sweep")
	defer span.End()

	now := s.now()
	if s.redis != nil {
		key := fmt.Sprintf(leaseKeyFormat, now.In(s.cfg.Location).Format("2006-01-02"))
		ok, err := s.redis.SetNX(ctx, key, "1", 23*time.Hour).Result()
		if err != nil {
			return fmt.Errorf("reactivation: acquire sweep lease: %w", err)
		}
		if !ok {
			return ErrSweepHeld
		}
	}

	tiers := []struct {
		attempt int
		silence time.Duration
	}{
		{0, s.cfg.FirstAfter},
		{1, s.cfg.FinalAfter},
	}

	var sent, skipped, failed int
	sentPerTier := make([]int, len(tiers))
	for ti, tier := range tiers {
		attempt := tier.attempt
		candidates, err := s.store.ListReactivationCandidates(ctx, attempt, now.Add(-tier.silence), s.cfg.BatchSize)
		if err != nil {
			span.RecordError(err)
			s.logger.Error("listing reactivation candidates failed", "error", err, "attempt", attempt)
			continue
		}
		for i := range candidates {
			delivered, err := s.reactivate(ctx, &candidates[i], attempt)
			switch {
			case err != nil:
				failed++
				s.metrics.ObserveReactivation("failed")
				s.logger.Error("reactivation failed", "error", err, "patient_id", candidates[i].ID)
			case !delivered:
				skipped++
				s.metrics.ObserveReactivation("skipped")
			default:
				sent++
				sentPerTier[ti]++
				s.metrics.ObserveReactivation("sent")
			}
		}
	}

	span.SetAttributes(attribute.Int("sonrisa.reactivation.sent", sent))
	s.logger.Info("reactivation sweep finished", "sent", sent, "skipped", skipped, "failed", failed)

	if s.alerter != nil {
		summary := fmt.Sprintf(
			"🔄 Reactivación diaria\nMensajes enviados: %d (1er intento: %d, último aviso: %d)\nOmitidos: %d\nFallidos: %d",
			sent, sentPerTier[0], sentPerTier[1], skipped, failed)
		if err := s.alerter.Notify(ctx, summary); err != nil {
			s.logger.Warn("reactivation summary alert failed", "error", err)
		}
	}
	return nil
}

// reactivate handles one lead, reporting whether a message went out. The
// candidate row may be stale by the time we get here, so booking status
// and campaign state are re-checked before sending.
func (s *Scheduler) reactivate(ctx context.Context, patient *patients.Patient, attempt int) (bool, error) {
	if err := patients.ValidatePhone(patient.Phone); err != nil {
		return false, err
	}
	if patient.FollowUpStatus == patients.FollowUpStopped {
		s.logger.Info("lead campaign already stopped, skipping", "patient_id", patient.ID)
		return false, nil
	}
	booked, err := s.store.HasAppointments(ctx, patient.ID)
	if err != nil {
		return false, err
	}
	if booked {
		s.logger.Info("lead already booked, skipping", "patient_id", patient.ID)
		return false, nil
	}

	text, err := s.composer.ComposeReactivation(ctx, patient, attempt)
	if err != nil {
		return false, fmt.Errorf("compose: %w", err)
	}
	if text == "" {
		return false, errors.New("composer returned empty message")
	}

	if _, err := s.gateway.Send(ctx, patient.Phone, text); err != nil {
		return false, fmt.Errorf("send: %w", err)
	}

	// The message went out; bookkeeping failures are logged, not fatal.
	if s.ledger != nil {
		if err := s.ledger.Append(ctx, patient.ID, interactions.RoleAssistant, text, interactions.MediaText); err != nil {
			s.logger.Warn("recording reactivation message failed", "error", err, "patient_id", patient.ID)
		}
	}
	count, status, err := s.store.AdvanceFollowUp(ctx, patient.ID, s.cfg.FollowUpMax, s.now())
	if err != nil {
		s.logger.Warn("advancing follow-up failed", "error", err, "patient_id", patient.ID)
		return true, nil
	}
	s.logger.Info("lead reactivated", "patient_id", patient.ID, "follow_up_count", count, "follow_up_status", status)
	return true, nil
}
