package inbound

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/abraan16/dr-sonrisa-backend/internal/interactions"
	"github.com/abraan16/dr-sonrisa-backend/internal/messaging"
	"github.com/abraan16/dr-sonrisa-backend/internal/notify"
	"github.com/abraan16/dr-sonrisa-backend/internal/observability/metrics"
	"github.com/abraan16/dr-sonrisa-backend/internal/patients"
	"github.com/abraan16/dr-sonrisa-backend/pkg/logging"
)

var pipelineTracer = otel.Tracer("sonrisa.internal.inbound")

// transcriptionFailed goes into the ledger when a voice note cannot be
// converted, so the agent can apologize instead of the patient being
// ignored.
const transcriptionFailed = "[No se pudo transcribir el audio]"

// Resolver is the slice of the patient store the pipeline needs.
type Resolver interface {
	Resolve(ctx context.Context, phone, displayName string) (*patients.Patient, error)
	TouchInteraction(ctx context.Context, id uuid.UUID, at time.Time) error
}

// TurnRecorder appends turns to the conversation ledger.
type TurnRecorder interface {
	Append(ctx context.Context, patientID uuid.UUID, role interactions.Role, content string, media interactions.MediaType) error
}

// HandoffGate decides whether the bot answers a chat.
type HandoffGate interface {
	RecordHumanReply(ctx context.Context, p *patients.Patient)
	ShouldRemainPaused(ctx context.Context, p *patients.Patient) bool
}

// Responder generates the sales persona reply.
type Responder interface {
	Respond(ctx context.Context, patient *patients.Patient, userMessage string) string
}

// AdminResponder answers queries from the clinic operator's own phone.
type AdminResponder interface {
	Answer(ctx context.Context, query string) string
}

// Pipeline routes one normalized inbound message through identity
// resolution, the handoff gate and the right agent persona.
type Pipeline struct {
	resolver    Resolver
	ledger      TurnRecorder
	handoff     HandoffGate
	agent       Responder
	manager     AdminResponder
	transcriber messaging.Transcriber
	gateway     messaging.Gateway
	alerter     notify.Alerter
	metrics     *metrics.PipelineMetrics
	adminPhones map[string]bool
	now         func() time.Time
	logger      *logging.Logger
}

// PipelineConfig wires a Pipeline's collaborators.
type PipelineConfig struct {
	Resolver    Resolver
	Ledger      TurnRecorder
	Handoff     HandoffGate
	Agent       Responder
	Manager     AdminResponder
	Transcriber messaging.Transcriber
	Gateway     messaging.Gateway
	Alerter     notify.Alerter
	Metrics     *metrics.PipelineMetrics
	AdminPhones []string
	Logger      *logging.Logger
}

// NewPipeline builds the inbound pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	admins := make(map[string]bool, len(cfg.AdminPhones))
	for _, phone := range cfg.AdminPhones {
		admins[phone] = true
	}
	return &Pipeline{
		resolver:    cfg.Resolver,
		ledger:      cfg.Ledger,
		handoff:     cfg.Handoff,
		agent:       cfg.Agent,
		manager:     cfg.Manager,
		transcriber: cfg.Transcriber,
		gateway:     cfg.Gateway,
		alerter:     cfg.Alerter,
		metrics:     cfg.Metrics,
		adminPhones: admins,
		now:         func() time.Time { return time.Now() },
		logger:      cfg.Logger,
	}
}

// WithClock overrides the time source. Test hook.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Process handles one inbound message end to end.
func (p *Pipeline) Process(ctx context.Context, msg *messaging.InboundMessage) error {
	ctx, span := pipelineTracer.Start(ctx, "inbound.process")
	defer span.End()
	span.SetAttributes(attribute.Bool("sonrisa.from_me", msg.FromMe))

	started := p.now()
	media := "text"
	if msg.IsAudio {
		media = "audio"
	}

	patient, err := p.resolver.Resolve(ctx, msg.Phone, msg.PushName)
	if err != nil {
		span.RecordError(err)
		p.metrics.ObserveInbound(media, "resolve_error")
		return err
	}

	// A message sent from the clinic's own number inside a patient chat
	// means a human took over: pause the bot, record nothing else.
	if msg.FromMe {
		wasActive := patient.BotStatus == patients.BotActive
		p.handoff.RecordHumanReply(ctx, patient)
		if wasActive && patient.BotStatus == patients.BotPaused && p.alerter != nil {
			if err := p.alerter.Notify(ctx, notify.HandoffAlert(patient.DisplayName, patient.Phone)); err != nil {
				p.logger.Warn("handoff alert failed", "error", err)
			}
		}
		p.metrics.ObserveInbound(media, "human_reply")
		return nil
	}

	text := msg.Text
	if msg.IsAudio {
		text = p.transcribe(ctx, msg.AudioURL)
	}
	if text == "" {
		p.metrics.ObserveInbound(media, "empty")
		return nil
	}

	if err := p.ledger.Append(ctx, patient.ID, interactions.RoleUser, text, interactions.MediaType(media)); err != nil {
		p.logger.Warn("recording user turn failed", "error", err, "patient_id", patient.ID)
	}
	if err := p.resolver.TouchInteraction(ctx, patient.ID, p.now()); err != nil {
		p.logger.Warn("touching interaction failed", "error", err, "patient_id", patient.ID)
	}

	// Operator phones get the management persona instead of Diana.
	if p.adminPhones[patient.Phone] && p.manager != nil {
		reply := p.manager.Answer(ctx, text)
		p.send(ctx, patient, reply)
		p.metrics.ObserveInbound(media, "admin")
		return nil
	}

	if p.handoff.ShouldRemainPaused(ctx, patient) {
		p.logger.Info("bot paused, message recorded only", "patient_id", patient.ID)
		p.metrics.ObserveInbound(media, "paused")
		return nil
	}

	reply := p.agent.Respond(ctx, patient, text)
	if reply == "" {
		p.metrics.ObserveInbound(media, "no_reply")
		return nil
	}

	// The assistant turn is in the ledger before the wire send, so the
	// next turn's context includes this reply even if delivery fails.
	if err := p.ledger.Append(ctx, patient.ID, interactions.RoleAssistant, reply, interactions.MediaText); err != nil {
		p.logger.Warn("recording assistant turn failed", "error", err, "patient_id", patient.ID)
	}
	p.send(ctx, patient, reply)

	p.metrics.ObserveInbound(media, "replied")
	p.metrics.ObserveWebhookLatency(media, p.now().Sub(started).Seconds())
	return nil
}

func (p *Pipeline) transcribe(ctx context.Context, audioURL string) string {
	if p.transcriber == nil || audioURL == "" {
		return transcriptionFailed
	}
	text, err := p.transcriber.Transcribe(ctx, audioURL)
	if err != nil {
		p.logger.Error("transcription failed", "error", err)
		return transcriptionFailed
	}
	return text
}

func (p *Pipeline) send(ctx context.Context, patient *patients.Patient, text string) {
	if _, err := p.gateway.Send(ctx, patient.Phone, text); err != nil {
		p.logger.Error("sending reply failed", "error", err, "patient_id", patient.ID)
		if p.alerter != nil {
			if alertErr := p.alerter.Notify(ctx, notify.ErrorAlert("envío de mensajes", err)); alertErr != nil {
				p.logger.Warn("error alert failed", "error", alertErr)
			}
		}
	}
}
