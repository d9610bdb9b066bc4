// Package wire is the ingestion boundary between the socket/REST transports
// and the rest of the module. Raw records with alias field names are resolved
// to the canonical domain.Message exactly once here; everything downstream
// only sees the canonical shape.
package wire

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/domain"
	"chatsync/internal/identity"
)

// Alias field names seen across delivery paths, probed in order. The canonical
// name comes first so normalizing an already-canonical record is a no-op.
var (
	textFields      = []string{"text", "message", "content", "body"}
	senderFields    = []string{"senderId", "sender_id", "sender", "from", "fromId"}
	recipientFields = []string{"recipientId", "recipient_id", "recipient", "to", "toId"}
	convFields      = []string{"conversationId", "conversation_id", "requestId", "request_id", "chatRoomId", "chat_room_id"}
	idFields        = []string{"id", "_id", "messageId", "message_id"}
	timeFields      = []string{"timestamp", "createdAt", "created_at", "time"}
	fileNameFields  = []string{"fileName", "file_name", "filename"}
)

// TempID synthesizes a client-side temporary message id, later reconciled
// against the server-assigned one.
func TempID() string {
	return fmt.Sprintf("msg_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// IsTempID reports whether an id was synthesized client-side.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, "temp-") || strings.HasPrefix(id, "msg_")
}

// Normalize converts a raw message record of unknown shape into the canonical
// Message. Returns nil when required fields cannot be resolved: sender,
// recipient, and at least one of text/attachment. Never panics.
func Normalize(raw map[string]any) *domain.Message {
	if raw == nil {
		return nil
	}

	m := &domain.Message{
		Text:           firstString(raw, textFields),
		SenderID:       firstIdentity(raw, senderFields),
		RecipientID:    firstIdentity(raw, recipientFields),
		ConversationID: firstIdentity(raw, convFields),
	}
	if m.SenderID == "" || m.RecipientID == "" {
		return nil
	}

	if t, _ := raw["type"].(string); t == domain.MessageTypeFile {
		m.Type = domain.MessageTypeFile
		m.FileName = firstString(raw, fileNameFields)
	}
	if m.Text == "" && !m.IsAttachment() {
		return nil
	}

	m.ID = firstIdentity(raw, idFields)
	if m.ID == "" {
		m.ID = TempID()
	}

	m.Timestamp = parseTimestamp(raw)
	if s, _ := raw["status"].(string); s != "" {
		m.Status = domain.Status(s)
	}
	return m
}

// AsRaw renders a canonical message back into record form, e.g. for the REST
// fallback send. Normalize(AsRaw(m)) preserves m's canonical fields.
func AsRaw(m *domain.Message) map[string]any {
	raw := map[string]any{
		"id":          m.ID,
		"text":        m.Text,
		"senderId":    m.SenderID,
		"recipientId": m.RecipientID,
		"timestamp":   m.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if m.ConversationID != "" {
		raw["conversationId"] = m.ConversationID
	}
	if m.IsAttachment() {
		raw["type"] = m.Type
		raw["fileName"] = m.FileName
	}
	if m.Status != "" {
		raw["status"] = string(m.Status)
	}
	return raw
}

func firstString(raw map[string]any, fields []string) string {
	for _, f := range fields {
		if s, ok := raw[f].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstIdentity(raw map[string]any, fields []string) string {
	for _, f := range fields {
		if v, ok := raw[f]; ok {
			if s := identity.Normalize(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func parseTimestamp(raw map[string]any) time.Time {
	for _, f := range timeFields {
		switch v := raw[f].(type) {
		case string:
			for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
				if t, err := time.Parse(layout, v); err == nil {
					return t
				}
			}
		case float64:
			// epoch milliseconds, as emitted by browser clients
			if v > 0 {
				return time.UnixMilli(int64(v)).UTC()
			}
		case time.Time:
			return v
		}
	}
	return time.Now().UTC()
}
