package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chatsync/internal/domain"
	"chatsync/internal/wire"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Save inserts a message, assigning a server id when the incoming id is a
// client-side temporary one. The temp id is kept as a unique dedupe key, so
// at-least-once clients can resend safely; on a resend the previously
// assigned id is restored on m. m.ID holds the stored id after return.
func (r *MessageRepo) Save(ctx context.Context, m *domain.Message) error {
	var clientID *string
	if wire.IsTempID(m.ID) {
		tempID := m.ID
		clientID = &tempID
		m.ID = uuid.NewString()
	}

	query := `
		INSERT OR IGNORE INTO messages (id, client_id, conversation_id, sender_id, recipient_id, text, type, file_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, query,
		m.ID,
		clientID,
		m.ConversationID,
		m.SenderID,
		m.RecipientID,
		m.Text,
		m.Type,
		m.FileName,
		m.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 && clientID != nil {
		// Re-delivery: reuse the id assigned on first delivery.
		var storedID string
		err := r.db.QueryRowContext(ctx, `SELECT id FROM messages WHERE client_id = ?`, *clientID).Scan(&storedID)
		if err == nil {
			m.ID = storedID
		}
	}
	return nil
}

// ListForConversation returns up to limit messages, oldest first.
func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID string, limit int) ([]*domain.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, recipient_id, text, type, file_name, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m := &domain.Message{Status: domain.StatusSent}
		var createdAt string
		if err := rows.Scan(
			&m.ID,
			&m.ConversationID,
			&m.SenderID,
			&m.RecipientID,
			&m.Text,
			&m.Type,
			&m.FileName,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			m.Timestamp = t
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

func (r *ConversationRepo) Save(ctx context.Context, c *domain.Conversation) error {
	query := `
		INSERT INTO conversations (id, client_id, client_name, provider_id, provider_name)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id = excluded.client_id,
			client_name = excluded.client_name,
			provider_id = excluded.provider_id,
			provider_name = excluded.provider_name
	`
	_, err := r.db.ExecContext(ctx, query, c.ID, c.ClientID, c.ClientName, c.ProviderID, c.ProviderName)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `
		SELECT id, client_id, client_name, provider_id, provider_name
		FROM conversations
		WHERE id = ?
	`
	c := &domain.Conversation{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.ClientID,
		&c.ClientName,
		&c.ProviderID,
		&c.ProviderName,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}
