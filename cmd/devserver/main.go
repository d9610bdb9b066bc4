package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"chatsync/internal/config"
	"chatsync/internal/devserver"
	"chatsync/internal/devserver/store"
	"chatsync/internal/security"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := store.Migrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	tokens := security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.TokenMinutes)*time.Minute)
	creds, err := security.ParseCredentials(cfg.DevUsers, 0)
	if err != nil {
		log.Fatalf("failed to parse dev users: %v", err)
	}

	hub := devserver.NewHub()
	router := devserver.NewRouter(cfg, db, hub, tokens, creds)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting chatsync devserver on %s\n", cfg.HTTPAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down devserver...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
