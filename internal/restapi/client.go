// Package restapi is the request/response side of the backend: cold-start
// history, conversation descriptors, and the fallback send path.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"chatsync/internal/domain"
	"chatsync/internal/identity"
	"chatsync/internal/wire"
)

// Client talks to the backend REST API with bearer auth.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a client for the given API base URL, e.g. "http://localhost:8000".
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

var _ domain.HistoryLoader = (*Client)(nil)
var _ domain.ConversationLoader = (*Client)(nil)
var _ domain.FallbackSender = (*Client)(nil)

// History fetches the raw message history of a conversation. A failure here is
// recoverable for the caller: the conversation stays usable for sending.
func (c *Client) History(ctx context.Context, conversationID string, limit int) ([]map[string]any, error) {
	url := fmt.Sprintf("%s/api/conversations/%s/messages?limit=%d", c.baseURL, conversationID, limit)
	body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", conversationID, err)
	}

	var records []map[string]any
	if err := json.Unmarshal(body, &records); err != nil {
		// Some backends wrap the list in an object.
		var wrapped struct {
			Messages []map[string]any `json:"messages"`
		}
		if err2 := json.Unmarshal(body, &wrapped); err2 != nil {
			return nil, fmt.Errorf("decode history for %s: %w", conversationID, err)
		}
		records = wrapped.Messages
	}
	return records, nil
}

// Conversation fetches and normalizes the conversation descriptor. The role
// fields may be bare ids or embedded objects; both resolve to identities here.
func (c *Client) Conversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	url := fmt.Sprintf("%s/api/conversations/%s", c.baseURL, conversationID)
	body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", conversationID, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", conversationID, err)
	}
	return DecodeConversation(raw), nil
}

// DecodeConversation normalizes a raw descriptor record: role fields under
// their alias names, display names read from nested objects when present.
func DecodeConversation(raw map[string]any) *domain.Conversation {
	conv := &domain.Conversation{
		ID: firstIdentity(raw, "id", "_id", "requestId", "request_id"),
	}
	conv.ClientID = firstIdentity(raw, "clientId", "client_id", "client", "userId", "user_id", "user")
	conv.ProviderID = firstIdentity(raw, "providerId", "provider_id", "provider")
	conv.ClientName = nestedName(raw, "clientName", "client", "user")
	conv.ProviderName = nestedName(raw, "providerName", "provider")
	return conv
}

// SendMessage delivers a message over REST. Returns the server-assigned id.
func (c *Client) SendMessage(ctx context.Context, m *domain.Message) (string, error) {
	if m.ConversationID == "" {
		return "", fmt.Errorf("fallback send: %w", domain.ErrInvalidInput)
	}
	payload, err := json.Marshal(wire.AsRaw(m))
	if err != nil {
		return "", fmt.Errorf("fallback send: %w", err)
	}
	url := fmt.Sprintf("%s/api/conversations/%s/messages", c.baseURL, m.ConversationID)
	body, err := c.do(ctx, http.MethodPost, url, payload)
	if err != nil {
		return "", fmt.Errorf("fallback send: %w", err)
	}

	var saved map[string]any
	if err := json.Unmarshal(body, &saved); err != nil {
		return "", nil
	}
	return firstIdentity(saved, "id", "_id", "messageId", "message_id"), nil
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, domain.ErrUnauthorized
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	return body, nil
}

func firstIdentity(raw map[string]any, fields ...string) string {
	for _, f := range fields {
		if v, ok := raw[f]; ok {
			if s := identity.Normalize(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// nestedName reads a display name: a flat field first, then the "name" (or
// "username") field of a nested role object.
func nestedName(raw map[string]any, flat string, nested ...string) string {
	if s, ok := raw[flat].(string); ok && s != "" {
		return s
	}
	for _, f := range nested {
		if obj, ok := raw[f].(map[string]any); ok {
			if s, ok := obj["name"].(string); ok && s != "" {
				return s
			}
			if s, ok := obj["username"].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
