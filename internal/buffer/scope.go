package buffer

import "chatsync/internal/domain"

// Scope identifies the active conversation for ownership filtering.
type Scope struct {
	ConversationID string
	CurrentUserID  string
	CounterpartyID string
}

// Owns reports whether a canonical message belongs to this conversation.
// The conversation id is the authoritative key; the sender/recipient pair is
// the fallback for delivery paths that omit it (e.g. a direct peer echo
// before the conversation id is attached). First match wins.
func (s Scope) Owns(m *domain.Message) bool {
	if m == nil {
		return false
	}
	if m.ConversationID != "" && s.ConversationID != "" {
		if m.ConversationID == s.ConversationID {
			return true
		}
	}
	if m.SenderID == s.CurrentUserID && m.RecipientID == s.CounterpartyID {
		return true
	}
	if m.SenderID == s.CounterpartyID && m.RecipientID == s.CurrentUserID {
		return true
	}
	return false
}
