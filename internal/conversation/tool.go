package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/abraan16/dr-sonrisa-backend/internal/observability/metrics"
	"github.com/abraan16/dr-sonrisa-backend/internal/patients"
	"github.com/abraan16/dr-sonrisa-backend/pkg/logging"
)

// Tool is one action the agent can take on behalf of a patient. Execute
// returns a JSON payload that is fed back to the model as the tool result.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, patient *patients.Patient, args json.RawMessage) (string, error)
}

// Registry holds the tools exposed to one agent persona.
type Registry struct {
	tools   []Tool
	byName  map[string]Tool
	metrics *metrics.PipelineMetrics
	logger  *logging.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{
		byName: make(map[string]Tool),
		logger: logger,
	}
}

// WithMetrics attaches dispatch instrumentation.
func (r *Registry) WithMetrics(m *metrics.PipelineMetrics) *Registry {
	r.metrics = m
	return r
}

// Register adds a tool. Duplicate names panic since that is a wiring bug.
func (r *Registry) Register(t Tool) {
	if _, dup := r.byName[t.Name()]; dup {
		panic(fmt.Sprintf("conversation: duplicate tool %q", t.Name()))
	}
	r.tools = append(r.tools, t)
	r.byName[t.Name()] = t
}

// Definitions renders the registry in the chat completion tool format,
// in registration order.
func (r *Registry) Definitions() []openai.Tool {
	defs := make([]openai.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Dispatch runs the named tool and always returns a JSON payload: tool
// failures become {"error": ...} so the model can phrase the problem to
// the patient instead of the turn aborting.
func (r *Registry) Dispatch(ctx context.Context, patient *patients.Patient, name string, args json.RawMessage) string {
	t, ok := r.byName[name]
	if !ok {
		r.logger.Warn("unknown tool requested", "tool", name)
		r.metrics.ObserveTool(name, "unknown")
		return errPayload(fmt.Sprintf("unknown tool %q", name))
	}

	out, err := t.Execute(ctx, patient, args)
	if err != nil {
		r.logger.Warn("tool execution failed", "tool", name, "error", err)
		r.metrics.ObserveTool(name, "error")
		return errPayload(err.Error())
	}
	r.metrics.ObserveTool(name, "ok")
	return out
}

func errPayload(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}
