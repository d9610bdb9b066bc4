package domain

import "context"

// HistoryLoader fetches the raw message history of a conversation. Records come
// back in whatever shape the backend serves them; callers normalize.
type HistoryLoader interface {
	History(ctx context.Context, conversationID string, limit int) ([]map[string]any, error)
}

// ConversationLoader fetches the descriptor of a conversation.
type ConversationLoader interface {
	Conversation(ctx context.Context, conversationID string) (*Conversation, error)
}

// FallbackSender delivers a message over the request/response API. Used only
// when the live channel is unavailable at send time. Returns the
// server-assigned message id on success.
type FallbackSender interface {
	SendMessage(ctx context.Context, m *Message) (string, error)
}
