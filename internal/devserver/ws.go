package devserver

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"chatsync/internal/devserver/store"
	"chatsync/internal/security"
	"chatsync/internal/wire"
)

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin allows native clients (no Origin header) and browsers from
// the configured origins.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// MakeWSHandler returns the HTTP handler for the /ws endpoint. Authenticates
// via Bearer token (Authorization header or Sec-WebSocket-Protocol), then
// dispatches events:
//   - join_room      -> add connection to the room
//   - leave_room     -> remove connection from the room
//   - send_message   -> persist & broadcast message_received to the room
//   - typing_notify  -> forward typing to the other room members
func MakeWSHandler(
	hub *Hub,
	tokens *security.TokenService,
	msgs *store.MessageRepo,
	allowedOrigins []string,
) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			if authErr, ok := err.(wsAuthError); ok {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := tokens.Parse(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		userID, _ := claims["sub"].(string)
		if userID == "" {
			http.Error(w, "invalid token subject", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		defer hub.LeaveAll(conn)

		ctx := r.Context()
		for {
			var payload map[string]any
			if err := conn.ReadJSON(&payload); err != nil {
				break
			}
			msgType, _ := payload["type"].(string)
			switch msgType {

			case wire.EventJoinRoom:
				roomKey, _ := payload["roomKey"].(string)
				if roomKey == "" {
					sendError(conn, "join_room requires roomKey")
					continue
				}
				hub.Join(roomKey, conn)

			case wire.EventLeaveRoom:
				roomKey, _ := payload["roomKey"].(string)
				if roomKey == "" {
					continue
				}
				hub.Leave(roomKey, conn)

			case wire.EventSendMessage:
				roomKey, _ := payload["roomKey"].(string)
				msg := wire.Normalize(payload)
				if roomKey == "" || msg == nil {
					sendError(conn, "send_message requires roomKey, sender, recipient and content")
					continue
				}
				msg.Status = ""
				if err := msgs.Save(ctx, msg); err != nil {
					log.Printf("ws: save message: %v", err)
					sendError(conn, "failed to store message")
					continue
				}
				hub.Broadcast(roomKey, map[string]any{
					"type":    wire.EventMessageReceived,
					"message": wire.AsRaw(msg),
				}, nil)

			case wire.EventTypingNotify:
				roomKey, _ := payload["roomKey"].(string)
				if roomKey == "" {
					continue
				}
				hub.Broadcast(roomKey, map[string]any{
					"type":           wire.EventTyping,
					"userId":         userID,
					"conversationId": payload["conversationId"],
				}, conn)

			default:
				log.Printf("ws: unknown event type %q from user %s", msgType, userID)
			}
		}
	}
}

func sendError(conn *websocket.Conn, msg string) {
	_ = conn.WriteJSON(map[string]any{
		"type":    wire.EventError,
		"message": msg,
	})
}
