package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrSkipMessage marks webhook payloads the pipeline does not process
// (unsupported media, group chats, missing sender).
var ErrSkipMessage = errors.New("messaging: message skipped")

// Evolution API message types the pipeline understands.
const (
	typeConversation = "conversation"
	typeExtendedText = "extendedTextMessage"
	typeAudioMessage = "audioMessage"
)

// InboundMessage is one normalized WhatsApp event from the gateway.
type InboundMessage struct {
	Phone    string // Digits only, extracted from the JID.
	PushName string
	FromMe   bool   // True when sent from the clinic's own number.
	Text     string // Message body, empty for audio until transcribed.
	AudioURL string // Set only for audio messages.
	IsAudio  bool
}

type webhookEnvelope struct {
	Data *struct {
		Key struct {
			RemoteJid string `json:"remoteJid"`
			FromMe    bool   `json:"fromMe"`
		} `json:"key"`
		PushName    string `json:"pushName"`
		MessageType string `json:"messageType"`
		Message     struct {
			Conversation        string `json:"conversation"`
			ExtendedTextMessage struct {
				Text string `json:"text"`
			} `json:"extendedTextMessage"`
			AudioMessage struct {
				URL string `json:"url"`
			} `json:"audioMessage"`
		} `json:"message"`
	} `json:"data"`
}

// ParseWebhook decodes an Evolution API webhook payload into an
// InboundMessage. Payloads without a sender or with unsupported message
// types return ErrSkipMessage so the handler can ack without processing.
func ParseWebhook(body []byte) (*InboundMessage, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("messaging: decode webhook: %w", err)
	}
	if env.Data == nil || env.Data.Key.RemoteJid == "" {
		return nil, ErrSkipMessage
	}

	msg := &InboundMessage{
		Phone:    PhoneFromJID(env.Data.Key.RemoteJid),
		PushName: env.Data.PushName,
		FromMe:   env.Data.Key.FromMe,
	}
	if msg.Phone == "" {
		return nil, ErrSkipMessage
	}

	switch env.Data.MessageType {
	case typeConversation:
		msg.Text = env.Data.Message.Conversation
	case typeExtendedText:
		msg.Text = env.Data.Message.ExtendedTextMessage.Text
	case typeAudioMessage:
		msg.IsAudio = true
		msg.AudioURL = env.Data.Message.AudioMessage.URL
	default:
		return nil, ErrSkipMessage
	}
	return msg, nil
}

// PhoneFromJID extracts the bare phone number from a WhatsApp JID such
// as "18095551234@s.whatsapp.net".
func PhoneFromJID(jid string) string {
	phone, _, _ := strings.Cut(jid, "@")
	return strings.TrimSpace(phone)
}
