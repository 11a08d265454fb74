package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/abraan16/dr-sonrisa-backend/internal/analytics"
	"github.com/abraan16/dr-sonrisa-backend/internal/settings"
	"github.com/abraan16/dr-sonrisa-backend/pkg/logging"
)

const managerPrompt = `Eres el Asistente Gerencial de la clínica.

PERSONALIDAD:
- Ejecutivo, conciso, directo
- PROHIBIDO: saludos, preguntas de cortesía
- OBLIGATORIO: datos duros, formato limpio

HERRAMIENTAS DISPONIBLES:
- get_metrics: métricas del día/mes
- search_patient: buscar paciente por nombre o teléfono
- get_appointments: agenda próxima
- get_recent_activity: actividad reciente
- update_setting: actualizar precios, horarios o ubicación

Analiza la pregunta del admin y usa la herramienta apropiada.`

// Reporter is the slice of the analytics service the manager needs.
type Reporter interface {
	GetMetrics(ctx context.Context) (*analytics.Metrics, error)
	SearchPatients(ctx context.Context, query string) ([]analytics.PatientHit, error)
	UpcomingAppointments(ctx context.Context, days int) ([]analytics.UpcomingAppointment, error)
	RecentActivity(ctx context.Context, limit int) ([]analytics.ActivityEntry, error)
}

// SettingsWriter updates the operator-editable knowledge base.
type SettingsWriter interface {
	Set(ctx context.Context, key settings.Key, value, description string) error
}

// Manager answers admin queries from the clinic operator's own phone.
// One completion call selects a tool, the result is formatted in code
// rather than by a second model call.
type Manager struct {
	client    chatClient
	reporter  Reporter
	settings  SettingsWriter
	model     string
	loc       *time.Location
	followMax int
	now       func() time.Time
	logger    *logging.Logger
}

// ManagerConfig wires a Manager's collaborators.
type ManagerConfig struct {
	Client      chatClient
	Reporter    Reporter
	Settings    SettingsWriter
	Model       string
	Location    *time.Location
	FollowUpMax int
	Logger      *logging.Logger
}

// NewManager builds the admin persona.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Client == nil {
		panic("conversation: chat client cannot be nil")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.FollowUpMax <= 0 {
		cfg.FollowUpMax = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Manager{
		client:    cfg.Client,
		reporter:  cfg.Reporter,
		settings:  cfg.Settings,
		model:     cfg.Model,
		loc:       cfg.Location,
		followMax: cfg.FollowUpMax,
		now:       func() time.Time { return time.Now() },
		logger:    cfg.Logger,
	}
}

// WithClock overrides the time source. Test hook.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Answer handles one admin query and returns the formatted report.
func (m *Manager) Answer(ctx context.Context, query string) string {
	ctx, span := agentTracer.Start(ctx, "conversation.manager")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := m.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: m.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: managerPrompt},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
		Tools: m.toolDefinitions(),
	})
	if err != nil {
		span.RecordError(err)
		m.logger.Error("manager completion failed", "error", err)
		return "❌ Error procesando consulta."
	}
	if len(resp.Choices) == 0 {
		return "❌ Error procesando consulta."
	}

	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) == 0 {
		if content := strings.TrimSpace(msg.Content); content != "" {
			return content
		}
		return "Sin respuesta."
	}

	call := msg.ToolCalls[0]
	m.logger.Info("manager tool", "tool", call.Function.Name)
	out, err := m.runTool(ctx, call.Function.Name, json.RawMessage(call.Function.Arguments))
	if err != nil {
		span.RecordError(err)
		m.logger.Error("manager tool failed", "tool", call.Function.Name, "error", err)
		return "❌ Error procesando consulta."
	}
	return out
}

func (m *Manager) toolDefinitions() []openai.Tool {
	fn := func(name, desc string, params map[string]any) openai.Tool {
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		return openai.Tool{
			Type:     openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{Name: name, Description: desc, Parameters: params},
		}
	}
	return []openai.Tool{
		fn("get_metrics", "Get business metrics (appointments, leads) with comparisons to yesterday and last month", nil),
		fn("search_patient", "Search for a patient by name or phone number", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "Name or phone to search"},
			},
			"required": []string{"query"},
		}),
		fn("get_appointments", "Get upcoming appointments for the next N days", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"days": map[string]any{"type": "number", "description": "Number of days to look ahead (default: 7)"},
			},
		}),
		fn("get_recent_activity", "Get recent patient interactions/messages", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"limit": map[string]any{"type": "number", "description": "Number of interactions to retrieve (default: 10)"},
			},
		}),
		fn("update_setting", "Update the bot's knowledge base (prices, hours or location)", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"key":   map[string]any{"type": "string", "enum": []string{"prices", "hours", "location"}},
				"value": map[string]any{"type": "string", "description": "The new full text for this section"},
			},
			"required": []string{"key", "value"},
		}),
	}
}

func (m *Manager) runTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	switch name {
	case "get_metrics":
		metrics, err := m.reporter.GetMetrics(ctx)
		if err != nil {
			return "", err
		}
		return m.formatMetrics(metrics), nil

	case "search_patient":
		var in struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return "", err
		}
		hits, err := m.reporter.SearchPatients(ctx, in.Query)
		if err != nil {
			return "", err
		}
		return m.formatPatientSearch(hits, in.Query), nil

	case "get_appointments":
		var in struct {
			Days int `json:"days"`
		}
		_ = json.Unmarshal(args, &in)
		appts, err := m.reporter.UpcomingAppointments(ctx, in.Days)
		if err != nil {
			return "", err
		}
		return m.formatAppointments(appts), nil

	case "get_recent_activity":
		var in struct {
			Limit int `json:"limit"`
		}
		_ = json.Unmarshal(args, &in)
		entries, err := m.reporter.RecentActivity(ctx, in.Limit)
		if err != nil {
			return "", err
		}
		return m.formatRecentActivity(entries), nil

	case "update_setting":
		var in struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return "", err
		}
		if m.settings == nil {
			return "", fmt.Errorf("settings store not configured")
		}
		if err := m.settings.Set(ctx, settings.Key(in.Key), in.Value, "updated via manager chat"); err != nil {
			return "", err
		}
		return fmt.Sprintf("✅ Configuración %q actualizada.", in.Key), nil

	default:
		return "Herramienta no reconocida.", nil
	}
}

func (m *Manager) formatMetrics(data *analytics.Metrics) string {
	delta := func(n int) string {
		return fmt.Sprintf("%+d", n)
	}
	var b strings.Builder
	b.WriteString("📊 *Métricas del Día*\n\n")
	fmt.Fprintf(&b, "✅ Citas: %d (ayer: %d, %s)\n",
		data.Today.Appointments, data.Yesterday.Appointments,
		delta(data.Today.Appointments-data.Yesterday.Appointments))
	fmt.Fprintf(&b, "📞 Leads: %d (ayer: %d, %s)\n\n",
		data.Today.Leads, data.Yesterday.Leads,
		delta(data.Today.Leads-data.Yesterday.Leads))
	b.WriteString("📈 *Este Mes*\n")
	fmt.Fprintf(&b, "Citas: %d (mes pasado: %d, %s)\n",
		data.ThisMonth.Appointments, data.LastMonth.Appointments,
		delta(data.ThisMonth.Appointments-data.LastMonth.Appointments))
	fmt.Fprintf(&b, "Leads: %d (mes pasado: %d, %s)",
		data.ThisMonth.Leads, data.LastMonth.Leads,
		delta(data.ThisMonth.Leads-data.LastMonth.Leads))
	return b.String()
}

func (m *Manager) formatPatientSearch(hits []analytics.PatientHit, query string) string {
	if len(hits) == 0 {
		return fmt.Sprintf("🔍 No se encontraron resultados para %q", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🔍 *Resultados para %q*\n\n", query)
	for i, p := range hits {
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, p.Name, p.Phone)
		fmt.Fprintf(&b, "   Status: %s | Seguimiento: %d/%d\n", p.Status, p.FollowUpCount, m.followMax)
		fmt.Fprintf(&b, "   Última interacción: %s\n", timeAgo(p.LastInteraction, m.now()))
		if p.NextAppointment != nil {
			fmt.Fprintf(&b, "   📅 Próxima cita: %s\n", p.NextAppointment.In(m.loc).Format("02/01/2006 3:04 PM"))
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func (m *Manager) formatAppointments(appts []analytics.UpcomingAppointment) string {
	if len(appts) == 0 {
		return "📅 No hay citas programadas próximamente."
	}
	var b strings.Builder
	b.WriteString("📅 *Próximas Citas*\n\n")
	for i, a := range appts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, a.StartTime.In(m.loc).Format("Mon 2 Jan 15:04"))
		fmt.Fprintf(&b, "   %s - %s\n\n", a.PatientName, a.PatientPhone)
	}
	return strings.TrimSpace(b.String())
}

func (m *Manager) formatRecentActivity(entries []analytics.ActivityEntry) string {
	if len(entries) == 0 {
		return "🎯 No hay actividad reciente."
	}
	var b strings.Builder
	b.WriteString("🎯 *Actividad Reciente*\n\n")
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, e.PatientName, e.PatientStatus)
		fmt.Fprintf(&b, "   %q\n", e.Message)
		fmt.Fprintf(&b, "   %s\n\n", timeAgo(e.CreatedAt, m.now()))
	}
	return strings.TrimSpace(b.String())
}

// timeAgo renders a rough Spanish "hace X" distance.
func timeAgo(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "hace un momento"
	case d < time.Hour:
		return fmt.Sprintf("hace %d min", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("hace %d h", int(d.Hours()))
	default:
		return fmt.Sprintf("hace %d días", int(d.Hours()/24))
	}
}
