package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"chatsync/internal/channel"
	"chatsync/internal/client"
	"chatsync/internal/config"
	"chatsync/internal/domain"
	"chatsync/internal/identity"
	"chatsync/internal/restapi"
)

func main() {
	_ = godotenv.Load()

	conversationID := flag.String("conversation", "", "conversation id to open")
	flag.Parse()
	if *conversationID == "" {
		fmt.Fprintln(os.Stderr, "usage: chatsync -conversation <id>")
		os.Exit(2)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	currentUserID, err := identity.SubjectFromToken(cfg.Token)
	if err != nil {
		log.Fatalf("failed to read identity from token: %v", err)
	}

	api := restapi.New(cfg.APIBaseURL, cfg.Token)
	dialer := &channel.WebsocketDialer{URL: cfg.WSURL, Token: cfg.Token}

	var (
		mu      sync.Mutex
		printed int
		syncer  *client.Synchronizer
	)

	printNew := func() {
		mu.Lock()
		defer mu.Unlock()
		msgs := syncer.Messages()
		if len(msgs) < printed {
			printed = 0
		}
		for _, m := range msgs[printed:] {
			printMessage(m, currentUserID)
		}
		printed = len(msgs)
	}

	session := channel.NewSession(dialer, channel.Events{
		OnMessage: func(raw map[string]any) { syncer.HandleInbound(raw) },
		OnTyping:  func(userID string) { syncer.HandleTyping(userID) },
		OnState: func(st channel.State) {
			if st == channel.StateConnecting {
				fmt.Println("-- reconnecting --")
			}
		},
		OnError: func(err error) { log.Printf("channel: %v", err) },
	}, cfg.ReconnectDelay)
	defer session.Close()

	syncer = client.New(client.Config{
		CurrentUserID:   currentUserID,
		CurrentUserName: identity.NameFromToken(cfg.Token),
		TypingTTL:       cfg.TypingTTL,
		TypingSuppress:  cfg.TypingSuppress,
		SeenCap:         cfg.SeenCap,
		HistoryLimit:    cfg.HistoryLimit,
	}, session, api, api, api, client.Callbacks{
		OnUpdate: func() { printNew() },
		OnTyping: func(active bool) {
			if active {
				fmt.Println("-- typing --")
			}
		},
		OnError: func(err error) { log.Printf("sync: %v", err) },
	})
	defer syncer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := syncer.Activate(ctx, *conversationID, nil); err != nil {
		log.Fatalf("failed to open conversation: %v", err)
	}
	fmt.Printf("conversation %s with %s (type to send, /quit to exit)\n",
		*conversationID, syncer.Counterparty().CounterpartyName)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-stop:
			return
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			syncer.NotifyTyping()
			if _, err := syncer.Send(ctx, text); err != nil {
				log.Printf("send: %v", err)
			}
		}
	}
}

func printMessage(m *domain.Message, currentUserID string) {
	who := m.SenderID
	if m.SenderID == currentUserID {
		who = "me"
	}
	suffix := ""
	switch m.Status {
	case domain.StatusSending:
		suffix = " (sending)"
	case domain.StatusError:
		suffix = " (failed)"
	}
	fmt.Printf("[%s] %s: %s%s\n", m.Timestamp.Local().Format("15:04:05"), who, m.Text, suffix)
}
