package handoff

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/abraan16/dr-sonrisa-backend/internal/patients"
	"github.com/abraan16/dr-sonrisa-backend/pkg/logging"
)

// DefaultTimeout is how long the bot stays paused after the last human reply.
const DefaultTimeout = 2 * time.Hour

// PatientStore is the slice of the patient store the state machine needs.
type PatientStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*patients.Patient, error)
	PauseBot(ctx context.Context, id uuid.UUID, at time.Time) error
	TouchHumanActivity(ctx context.Context, id uuid.UUID, at time.Time) error
	ResumeBot(ctx context.Context, id uuid.UUID) error
	ResumeExpiredHandoffs(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service is the per-patient bot/human handoff state machine. A human reply
// pauses the automated agent; silence for the timeout hands control back.
type Service struct {
	store   PatientStore
	timeout time.Duration
	now     func() time.Time
	logger  *logging.Logger
}

// NewService creates the handoff state machine.
func NewService(store PatientStore, timeout time.Duration, logger *logging.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:   store,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// WithClock overrides the time source. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RecordHumanReply reacts to a message sent from the clinic's own operator
// device. An active bot pauses; an already-paused one just re-arms the
// timeout. Write failures are logged and swallowed: the message pipeline
// must not abort because a handoff write failed, and on failure we continue
// in the current state.
func (s *Service) RecordHumanReply(ctx context.Context, p *patients.Patient) {
	now := s.now()
	if p.BotStatus == patients.BotActive {
		if err := s.store.PauseBot(ctx, p.ID, now); err != nil {
			s.logger.Error("handoff: failed to pause bot", "patient_id", p.ID, "error", err)
			return
		}
		p.BotStatus = patients.BotPaused
		p.HandoffAt = &now
		p.LastHumanResponseAt = &now
		s.logger.Info("handoff: bot paused, human intervention detected", "patient_id", p.ID)
		return
	}

	if err := s.store.TouchHumanActivity(ctx, p.ID, now); err != nil {
		s.logger.Error("handoff: failed to refresh human activity", "patient_id", p.ID, "error", err)
		return
	}
	p.LastHumanResponseAt = &now
}

// ShouldRemainPaused is the lazy gate evaluated before dispatching a patient
// message to the agent. It resumes the bot when the timeout has elapsed.
// Errors fail open to the current in-memory state.
func (s *Service) ShouldRemainPaused(ctx context.Context, p *patients.Patient) bool {
	if p.BotStatus == patients.BotActive {
		return false
	}

	if p.LastHumanResponseAt != nil {
		elapsed := s.now().Sub(*p.LastHumanResponseAt)
		if elapsed > s.timeout {
			if err := s.store.ResumeBot(ctx, p.ID); err != nil {
				s.logger.Error("handoff: failed to auto-resume bot", "patient_id", p.ID, "error", err)
				return true
			}
			p.BotStatus = patients.BotActive
			s.logger.Info("handoff: bot auto-resumed after timeout",
				"patient_id", p.ID, "idle", elapsed.Round(time.Second))
			return false
		}
	}

	return true
}

// SweepTimeouts resumes every paused conversation whose operator went quiet.
// Runs periodically so patients are not stuck waiting for their next message
// to trigger the lazy check.
func (s *Service) SweepTimeouts(ctx context.Context) {
	cutoff := s.now().Add(-s.timeout)
	n, err := s.store.ResumeExpiredHandoffs(ctx, cutoff)
	if err != nil {
		s.logger.Error("handoff: timeout sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("handoff: auto-resumed conversations", "count", n)
	}
}
