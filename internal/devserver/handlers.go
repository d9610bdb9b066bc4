package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"chatsync/internal/devserver/store"
	"chatsync/internal/domain"
	"chatsync/internal/identity"
	"chatsync/internal/security"
	"chatsync/internal/wire"
)

type contextKey string

const userContextKey contextKey = "currentUser"

// currentUserID extracts the authenticated identity from the request context.
func currentUserID(r *http.Request) string {
	if v := r.Context().Value(userContextKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// authMiddleware validates the Bearer token and attaches the identity to the
// context.
func authMiddleware(tokens *security.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			tokenStr := strings.TrimSpace(authHeader[len("Bearer "):])

			claims, err := tokens.Parse(tokenStr)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			sub, _ := claims["sub"].(string)
			if sub == "" {
				http.Error(w, "invalid token subject", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
}

func handleLogin(creds *security.Credentials, tokens *security.TokenService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		if err := creds.Check(req.Username, req.Password); err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
			return
		}
		token, err := tokens.Create(req.Username, req.Username)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken: token,
			TokenType:   "bearer",
			UserID:      req.Username,
		})
	}
}

func handleCreateConversation(convs *store.ConversationRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var conv domain.Conversation
		if err := json.NewDecoder(r.Body).Decode(&conv); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		if conv.ID == "" || conv.ClientID == "" || conv.ProviderID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id, clientId and providerId are required"})
			return
		}
		if err := convs.Save(r.Context(), &conv); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, conv)
	}
}

func handleGetConversation(convs *store.ConversationRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "conversationID")
		conv, err := convs.GetByID(r.Context(), id)
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

func handleListMessages(msgs *store.MessageRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "conversationID")
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		list, err := msgs.ListForConversation(r.Context(), id, limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if list == nil {
			list = []*domain.Message{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// handleCreateMessage is the REST fallback send path. The stored message is
// also broadcast to the live room, so a connected counterparty still sees it.
func handleCreateMessage(msgs *store.MessageRepo, hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		if _, ok := raw["conversationId"]; !ok {
			raw["conversationId"] = chi.URLParam(r, "conversationID")
		}
		msg := wire.Normalize(raw)
		if msg == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sender, recipient and content are required"})
			return
		}
		msg.Status = ""
		if err := msgs.Save(r.Context(), msg); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		hub.Broadcast(identity.RoomKey(msg.SenderID, msg.RecipientID), map[string]any{
			"type":    wire.EventMessageReceived,
			"message": wire.AsRaw(msg),
		}, nil)
		writeJSON(w, http.StatusCreated, msg)
	}
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
