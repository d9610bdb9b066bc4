// Package devserver is a loopback chat server for developing and testing the
// client against: REST descriptor/history/fallback-send endpoints plus a
// room-keyed websocket fan-out. It mirrors the production backend's surface,
// not its scale.
package devserver

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"chatsync/internal/config"
	"chatsync/internal/devserver/store"
	"chatsync/internal/security"
)

// NewRouter constructs the devserver router and wires routes, repositories,
// and middleware.
func NewRouter(cfg *config.ServerConfig, db *sql.DB, hub *Hub, tokens *security.TokenService, creds *security.Credentials) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	msgRepo := store.NewMessageRepo(db)
	convRepo := store.NewConversationRepo(db)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", handleLogin(creds, tokens))

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(tokens))

			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", handleCreateConversation(convRepo))
				r.Get("/{conversationID}", handleGetConversation(convRepo))
				r.Get("/{conversationID}/messages", handleListMessages(msgRepo))
				r.Post("/{conversationID}/messages", handleCreateMessage(msgRepo, hub))
			})
		})
	})

	r.Get("/ws", MakeWSHandler(hub, tokens, msgRepo, cfg.CORSOrigins))

	return r
}
