package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/abraan16/dr-sonrisa-backend/pkg/logging"
)

// Transcriber turns a voice-note URL into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
}

// WhisperTranscriber downloads the audio file and transcribes it with
// the OpenAI Whisper API.
type WhisperTranscriber struct {
	client     *openai.Client
	model      string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewWhisperTranscriber builds a transcriber backed by Whisper.
func NewWhisperTranscriber(client *openai.Client, model string, logger *logging.Logger) *WhisperTranscriber {
	if logger == nil {
		logger = logging.Default()
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperTranscriber{
		client: client,
		model:  model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Transcribe downloads the voice note and returns the Whisper transcript.
func (t *WhisperTranscriber) Transcribe(ctx context.Context, audioURL string) (string, error) {
	if audioURL == "" {
		return "", errors.New("messaging: audio url required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return "", fmt.Errorf("messaging: build audio request: %w", err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("messaging: download audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("messaging: download audio: status %d", resp.StatusCode)
	}

	// The API needs a file name for format detection; voice notes from
	// WhatsApp are ogg/opus.
	out, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		Reader:   io.LimitReader(resp.Body, 25<<20),
		FilePath: "voice_note.ogg",
	})
	if err != nil {
		t.logger.Error("whisper transcription failed", "error", err)
		return "", fmt.Errorf("messaging: transcribe: %w", err)
	}
	t.logger.Info("voice note transcribed", "chars", len(out.Text))
	return out.Text, nil
}
