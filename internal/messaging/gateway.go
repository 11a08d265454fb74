package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/abraan16/dr-sonrisa-backend/pkg/logging"
)

var gatewayTracer = otel.Tracer("sonrisa.internal.messaging.gateway")

// Receipt carries the provider's identifier for a delivered message.
type Receipt struct {
	MessageID string
}

// Gateway defines the outbound WhatsApp interface. Implementations can
// be swapped (Evolution API, stub) without changing callers.
type Gateway interface {
	Send(ctx context.Context, to, text string) (*Receipt, error)
}

// EvolutionSender posts WhatsApp messages through an Evolution API instance.
type EvolutionSender struct {
	baseURL      string
	apiKey       string
	instanceName string
	httpClient   *http.Client
	logger       *logging.Logger
}

// NewEvolutionSender builds a sender for the Evolution API.
func NewEvolutionSender(baseURL, apiKey, instanceName string, logger *logging.Logger) *EvolutionSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &EvolutionSender{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		instanceName: instanceName,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

var _ Gateway = (*EvolutionSender)(nil)

// Send dispatches a single WhatsApp text, retrying transient failures.
func (s *EvolutionSender) Send(ctx context.Context, to, text string) (*Receipt, error) {
	if s.apiKey == "" {
		return nil, errors.New("messaging: evolution api key missing")
	}
	if to == "" {
		return nil, errors.New("messaging: to required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("messaging: text required")
	}

	ctx, span := gatewayTracer.Start(ctx, "messaging.evolution.send")
	defer span.End()
	span.SetAttributes(attribute.String("sonrisa.to", to))

	payload := map[string]interface{}{
		"number":      to,
		"text":        text,
		"delay":       1200,
		"linkPreview": false,
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to marshal evolution payload: %w", err)
	}

	url := fmt.Sprintf("%s/message/sendText/%s", s.baseURL, s.instanceName)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
		if err != nil {
			lastErr = err
			break
		}
		req.Header.Set("apikey", s.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				var parsed struct {
					Key struct {
						ID string `json:"id"`
					} `json:"key"`
				}
				_ = json.Unmarshal(body, &parsed)
				s.logger.Info("evolution message sent", "to", to, "message_id", parsed.Key.ID)
				return &Receipt{MessageID: parsed.Key.ID}, nil
			}
			lastErr = fmt.Errorf("evolution send failed: status %d", resp.StatusCode)
		}

		if attempt < 3 {
			sleep := time.Duration(200+rand.Intn(300)) * time.Millisecond
			time.Sleep(sleep)
		}
	}

	span.RecordError(lastErr)
	s.logger.Error("failed to send evolution message", "error", lastErr, "to", to)
	return nil, fmt.Errorf("messaging: %w", lastErr)
}

// StubGateway records sends without calling any provider.
type StubGateway struct {
	logger *logging.Logger
}

// NewStubGateway creates a gateway that logs but doesn't send.
func NewStubGateway(logger *logging.Logger) *StubGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubGateway{logger: logger}
}

func (s *StubGateway) Send(ctx context.Context, to, text string) (*Receipt, error) {
	s.logger.Info("stub gateway: would send message", "to", to)
	return &Receipt{}, nil
}
