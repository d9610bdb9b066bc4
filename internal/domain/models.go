package domain

import "time"

// Status tracks optimistic-UI delivery state of a locally sent message.
// It is derived, never persisted by the backend.
type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusError   Status = "error"
)

// MessageTypeFile marks an attachment message; Text then carries the file URL.
const MessageTypeFile = "file"

// Message is the canonical unit of conversation. Inbound records of any shape
// pass through wire.Normalize before they become one of these; internal code
// only ever sees the canonical form.
type Message struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	SenderID       string    `json:"senderId"`
	RecipientID    string    `json:"recipientId"`
	ConversationID string    `json:"conversationId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Type           string    `json:"type,omitempty"`
	FileName       string    `json:"fileName,omitempty"`
	Status         Status    `json:"status,omitempty"`
}

// IsAttachment reports whether the message carries a file instead of plain text.
func (m *Message) IsAttachment() bool {
	return m.Type == MessageTypeFile
}

// Conversation is the descriptor of a two-party thread as served by the
// backend: the initiating client and the provider, already normalized to
// string identities.
type Conversation struct {
	ID           string `json:"id"`
	ClientID     string `json:"clientId"`
	ClientName   string `json:"clientName,omitempty"`
	ProviderID   string `json:"providerId"`
	ProviderName string `json:"providerName,omitempty"`
}
