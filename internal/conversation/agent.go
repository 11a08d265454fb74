package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/abraan16/dr-sonrisa-backend/internal/interactions"
	"github.com/abraan16/dr-sonrisa-backend/internal/patients"
	"github.com/abraan16/dr-sonrisa-backend/pkg/logging"
)

var agentTracer = otel.Tracer("sonrisa.internal.conversation")

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ContextProvider supplies a patient's recent conversation turns.
type ContextProvider interface {
	RecentContext(ctx context.Context, patientID uuid.UUID, limit int) ([]interactions.Interaction, error)
}

// KnowledgeProvider renders the operator-editable knowledge base that is
// injected into the persona prompt.
type KnowledgeProvider interface {
	PromptSnippet(ctx context.Context) string
}

// AgentConfig wires an Agent's collaborators.
type AgentConfig struct {
	Client       chatClient
	Registry     *Registry
	Memory       ContextProvider
	Knowledge    KnowledgeProvider
	Model        string
	ClinicName   string
	Location     *time.Location
	HistoryLimit int
	Logger       *logging.Logger
}

// Agent runs the sales persona: one completion call that may request
// tools, at most one pass of tool execution, then one synthesis call to
// phrase the results.
type Agent struct {
	client       chatClient
	registry     *Registry
	memory       ContextProvider
	knowledge    KnowledgeProvider
	model        string
	clinicName   string
	loc          *time.Location
	historyLimit int
	now          func() time.Time
	logger       *logging.Logger
}

// NewAgent builds the sales agent.
func NewAgent(cfg AgentConfig) *Agent {
	if cfg.Client == nil {
		panic("conversation: chat client cannot be nil")
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry(cfg.Logger)
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Agent{
		client:       cfg.Client,
		registry:     cfg.Registry,
		memory:       cfg.Memory,
		knowledge:    cfg.Knowledge,
		model:        cfg.Model,
		clinicName:   cfg.ClinicName,
		loc:          cfg.Location,
		historyLimit: cfg.HistoryLimit,
		now:          func() time.Time { return time.Now() },
		logger:       cfg.Logger,
	}
}

// WithClock overrides the time source. Test hook.
func (a *Agent) WithClock(now func() time.Time) *Agent {
	a.now = now
	return a
}

// Respond generates the assistant reply for one inbound patient message.
// Provider failures degrade to a fixed apology so the patient never gets
// silence.
func (a *Agent) Respond(ctx context.Context, patient *patients.Patient, userMessage string) string {
	ctx, span := agentTracer.Start(ctx, "conversation.respond")
	defer span.End()
	span.SetAttributes(attribute.String("sonrisa.patient_id", patient.ID.String()))

	history := a.buildHistory(ctx, patient, userMessage)

	first, err := a.complete(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Messages:    history,
		Temperature: 0.7,
		Tools:       a.registry.Definitions(),
	})
	if err != nil {
		span.RecordError(err)
		a.logger.Error("completion failed", "error", err, "patient_id", patient.ID)
		return fallbackReply
	}

	if len(first.ToolCalls) == 0 {
		reply := strings.TrimSpace(first.Content)
		if reply == "" {
			reply = "Entendido."
		}
		return reply
	}

	// One resolution pass: execute every requested tool, then a single
	// synthesis call with the results. The synthesis call carries no
	// tool definitions so the model cannot chain further calls.
	history = append(history, *first)
	for _, call := range first.ToolCalls {
		a.logger.Info("dispatching tool", "tool", call.Function.Name, "patient_id", patient.ID)
		result := a.registry.Dispatch(ctx, patient, call.Function.Name, json.RawMessage(call.Function.Arguments))
		history = append(history, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			ToolCallID: call.ID,
			Name:       call.Function.Name,
			Content:    result,
		})
	}

	second, err := a.complete(ctx, openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: history,
	})
	if err != nil {
		span.RecordError(err)
		a.logger.Error("synthesis completion failed", "error", err, "patient_id", patient.ID)
		return fallbackReply
	}
	reply := strings.TrimSpace(second.Content)
	if reply == "" {
		reply = "Entendido."
	}
	return reply
}

func (a *Agent) buildHistory(ctx context.Context, patient *patients.Patient, userMessage string) []openai.ChatCompletionMessage {
	knowledge := ""
	if a.knowledge != nil {
		knowledge = a.knowledge.PromptSnippet(ctx)
	}
	history := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: salesPrompt(a.clinicName, knowledge, patient, a.now().In(a.loc)),
	}}

	if a.memory != nil {
		recent, err := a.memory.RecentContext(ctx, patient.ID, a.historyLimit)
		if err != nil {
			a.logger.Warn("loading conversation context failed", "error", err, "patient_id", patient.ID)
		}
		for _, turn := range recent {
			history = append(history, openai.ChatCompletionMessage{
				Role:    string(turn.Role),
				Content: turn.Content,
			})
		}
	}

	return append(history, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userMessage,
	})
}

// ComposeReactivation writes one follow-up message for a silent lead.
func (a *Agent) ComposeReactivation(ctx context.Context, patient *patients.Patient, attempt int) (string, error) {
	msg, err := a.complete(ctx, openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: 0.8,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: reactivationPrompt(a.clinicName, attempt)},
			{Role: openai.ChatMessageRoleUser, Content: reactivationRequest(patient)},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(msg.Content), nil
}

func reactivationRequest(patient *patients.Patient) string {
	name := patient.DisplayName
	if name == "" {
		name = "el paciente"
	}
	return "Escribe el mensaje de seguimiento para " + name + "."
}

func (a *Agent) complete(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(callCtx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("conversation: completion returned no choices")
	}
	return &resp.Choices[0].Message, nil
}
