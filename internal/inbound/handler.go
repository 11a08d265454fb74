package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/abraan16/dr-sonrisa-backend/internal/messaging"
	"github.com/abraan16/dr-sonrisa-backend/pkg/logging"
)

// Processor handles one parsed inbound message.
type Processor interface {
	Process(ctx context.Context, msg *messaging.InboundMessage) error
}

// Handler receives Evolution API webhooks. Processing runs detached
// from the request so the gateway gets its ack immediately and never
// retries a slow LLM turn.
type Handler struct {
	pipeline Processor
	timeout  time.Duration
	async    bool
	logger   *logging.Logger
}

func NewHandler(pipeline Processor, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		pipeline: pipeline,
		timeout:  90 * time.Second,
		async:    true,
		logger:   logger,
	}
}

// POST /webhook
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), 400)
		return
	}

	msg, err := messaging.ParseWebhook(body)
	if err != nil {
		if errors.Is(err, messaging.ErrSkipMessage) {
			writeAck(w, "skipped")
			return
		}
		http.Error(w, "invalid payload: "+err.Error(), 400)
		return
	}

	if h.async {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
		go func() {
			defer cancel()
			if err := h.pipeline.Process(ctx, msg); err != nil {
				h.logger.Error("processing inbound message failed", "error", err, "phone", msg.Phone)
			}
		}()
	} else {
		if err := h.pipeline.Process(r.Context(), msg); err != nil {
			h.logger.Error("processing inbound message failed", "error", err, "phone", msg.Phone)
		}
	}

	writeAck(w, "received")
}

func writeAck(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}
