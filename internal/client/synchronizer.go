// Package client assembles the pieces into the chat-client synchronizer: a
// consistent, de-duplicated, ordered view of one two-party conversation on
// top of an at-least-once event channel, with a REST cold-start fallback.
package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"chatsync/internal/buffer"
	"chatsync/internal/channel"
	"chatsync/internal/domain"
	"chatsync/internal/identity"
	"chatsync/internal/member"
	"chatsync/internal/wire"
)

// RoomChannel is the live-channel surface the synchronizer drives.
// *channel.Session satisfies it.
type RoomChannel interface {
	Join(ctx context.Context, conversationID, roomKey string) error
	Leave()
	Send(env wire.SendMessage) error
	NotifyTyping(recipientID string)
	State() channel.State
}

// Callbacks notify the UI layer. All are optional and may be invoked from
// internal goroutines.
type Callbacks struct {
	OnUpdate func()                  // the message sequence changed
	OnTyping func(active bool)       // counterparty typing flag
	OnState  func(st channel.State)  // channel lifecycle, for a reconnecting indicator
	OnError  func(err error)         // recoverable errors worth showing inline
}

// Config carries the current user's identity and the tunables.
type Config struct {
	CurrentUserID   string
	CurrentUserName string

	TypingTTL      time.Duration // inbound typing flag self-clear window
	TypingSuppress time.Duration // outbound typing notify debounce window
	SeenCap        int
	HistoryLimit   int
}

const (
	defaultTypingTTL      = 3 * time.Second
	defaultTypingSuppress = 2 * time.Second
	defaultHistoryLimit   = 50
)

func (c *Config) applyDefaults() {
	if c.TypingTTL <= 0 {
		c.TypingTTL = defaultTypingTTL
	}
	if c.TypingSuppress <= 0 {
		c.TypingSuppress = defaultTypingSuppress
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
}

// Synchronizer maintains the live view of the active conversation. One
// synchronizer serves one UI surface; activations for different conversations
// go through Activate, which tears the previous one down first.
type Synchronizer struct {
	cfg      Config
	ch       RoomChannel
	history  domain.HistoryLoader
	convs    domain.ConversationLoader
	fallback domain.FallbackSender
	cb       Callbacks

	mu             sync.Mutex
	buf            *buffer.Buffer
	active         bool
	conversationID string
	counterparty   member.Resolution
	generation     int
	typing         bool
	typingTimer    *time.Timer
	lastTypingSent time.Time
}

// New wires a synchronizer. history and convs are required; fallback may be
// nil, in which case sends fail hard when the channel is down.
func New(cfg Config, ch RoomChannel, history domain.HistoryLoader, convs domain.ConversationLoader, fallback domain.FallbackSender, cb Callbacks) *Synchronizer {
	cfg.applyDefaults()
	return &Synchronizer{
		cfg:      cfg,
		ch:       ch,
		history:  history,
		convs:    convs,
		fallback: fallback,
		cb:       cb,
		buf:      buffer.New(buffer.Scope{}, cfg.SeenCap),
	}
}

// ChannelEvents returns the event bindings for the underlying session.
func (s *Synchronizer) ChannelEvents() channel.Events {
	return channel.Events{
		OnMessage: s.HandleInbound,
		OnTyping:  s.HandleTyping,
		OnState: func(st channel.State) {
			if s.cb.OnState != nil {
				s.cb.OnState(st)
			}
		},
		OnError: func(err error) {
			if s.cb.OnError != nil {
				s.cb.OnError(err)
			}
		},
	}
}

// Activate opens a conversation: resolves the counterparty, atomically clears
// the previous conversation's state, joins the new room, and seeds history in
// the background. A configuration error (missing ids, unresolvable
// counterparty) blocks activation; a channel join failure does not. It is
// reported through OnError and the conversation stays usable via the REST
// fallback.
func (s *Synchronizer) Activate(ctx context.Context, conversationID string, hints *member.Hints) error {
	if conversationID == "" {
		return fmt.Errorf("activate: conversation id: %w", domain.ErrInvalidInput)
	}
	if s.cfg.CurrentUserID == "" {
		return fmt.Errorf("activate: current user: %w", domain.ErrInvalidInput)
	}

	conv, convErr := s.convs.Conversation(ctx, conversationID)
	if convErr != nil && hints == nil {
		return fmt.Errorf("activate %s: %w", conversationID, convErr)
	}

	res, err := member.Resolve(conv, s.cfg.CurrentUserID, hints)
	if err != nil {
		return fmt.Errorf("activate %s: %w", conversationID, err)
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.active = true
	s.conversationID = conversationID
	s.counterparty = res
	s.clearTypingLocked()
	s.buf.Reset(buffer.Scope{
		ConversationID: conversationID,
		CurrentUserID:  s.cfg.CurrentUserID,
		CounterpartyID: res.CounterpartyID,
	})
	s.mu.Unlock()

	// Teardown before setup: the old room is left before the new join.
	s.ch.Leave()
	roomKey := identity.RoomKey(s.cfg.CurrentUserID, res.CounterpartyID)
	if err := s.ch.Join(ctx, conversationID, roomKey); err != nil {
		s.report(fmt.Errorf("join room: %w", err))
	}

	go s.loadHistory(ctx, gen, conversationID)

	s.notifyUpdate()
	return nil
}

// loadHistory seeds the buffer once per activation. Stale responses (the
// conversation changed while the fetch was in flight) are discarded by the
// generation check. Failures are recoverable: the conversation stays open
// with empty history.
func (s *Synchronizer) loadHistory(ctx context.Context, gen int, conversationID string) {
	records, err := s.history.History(ctx, conversationID, s.cfg.HistoryLimit)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.report(fmt.Errorf("history: %w", err))
		return
	}

	msgs := make([]*domain.Message, 0, len(records))
	for _, raw := range records {
		if m := wire.Normalize(raw); m != nil {
			msgs = append(msgs, m)
		} else {
			log.Printf("sync: dropping malformed history record in %s", conversationID)
		}
	}
	s.buf.Seed(msgs)
	s.mu.Unlock()

	s.notifyUpdate()
}

// HandleInbound processes one raw message event from the channel: normalize,
// filter by ownership, reconcile self echoes, append. Malformed input is
// dropped, never fatal.
func (s *Synchronizer) HandleInbound(raw map[string]any) {
	msg := wire.Normalize(raw)
	if msg == nil {
		log.Printf("sync: dropping malformed inbound message")
		return
	}

	s.mu.Lock()
	if !s.active || !s.buf.Scope().Owns(msg) {
		s.mu.Unlock()
		return
	}

	changed := false
	if msg.SenderID == s.cfg.CurrentUserID && s.buf.ReconcileEcho(msg) {
		changed = true
	} else {
		if msg.Status == "" {
			msg.Status = domain.StatusSent
		}
		changed = s.buf.Append(msg)
	}
	s.mu.Unlock()

	if changed {
		s.notifyUpdate()
	}
}

// HandleTyping raises the counterparty-typing flag, self-clearing after the
// configured window.
func (s *Synchronizer) HandleTyping(userID string) {
	s.mu.Lock()
	if !s.active || userID != s.counterparty.CounterpartyID {
		s.mu.Unlock()
		return
	}
	wasTyping := s.typing
	s.typing = true
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(s.cfg.TypingTTL, s.clearTyping)
	s.mu.Unlock()

	if !wasTyping && s.cb.OnTyping != nil {
		s.cb.OnTyping(true)
	}
}

func (s *Synchronizer) clearTyping() {
	s.mu.Lock()
	wasTyping := s.typing
	s.typing = false
	s.mu.Unlock()

	if wasTyping && s.cb.OnTyping != nil {
		s.cb.OnTyping(false)
	}
}

func (s *Synchronizer) clearTypingLocked() {
	s.typing = false
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
}

// Send delivers text optimistically: the message is inserted with
// status=sending immediately, then fired over the channel. When the channel
// is down the REST fallback is tried; if that fails too the entry is marked
// error and stays visible for a manual retry. No automatic retry.
func (s *Synchronizer) Send(ctx context.Context, text string) (*domain.Message, error) {
	if text == "" {
		return nil, fmt.Errorf("send: empty text: %w", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil, fmt.Errorf("send: no active conversation: %w", domain.ErrInvalidInput)
	}
	msg := &domain.Message{
		ID:             wire.TempID(),
		Text:           text,
		SenderID:       s.cfg.CurrentUserID,
		RecipientID:    s.counterparty.CounterpartyID,
		ConversationID: s.conversationID,
		Timestamp:      time.Now().UTC(),
		Status:         domain.StatusSending,
	}
	s.buf.Append(msg)
	env := wire.SendMessage{
		ID:             msg.ID,
		Text:           msg.Text,
		SenderID:       msg.SenderID,
		RecipientID:    msg.RecipientID,
		ConversationID: msg.ConversationID,
		Timestamp:      msg.Timestamp.Format(time.RFC3339Nano),
		SenderInfo:     wire.SenderInfo{ID: s.cfg.CurrentUserID, Name: s.cfg.CurrentUserName},
	}
	s.mu.Unlock()

	s.notifyUpdate()

	err := s.ch.Send(env)
	switch {
	case err == nil:
		// Confirmed asynchronously by the server echo.
	case errors.Is(err, domain.ErrNotConnected) && s.fallback != nil:
		confirmedID, ferr := s.fallback.SendMessage(ctx, msg)
		if ferr != nil {
			s.buf.MarkError(msg.ID)
			s.report(fmt.Errorf("send %s: %w", msg.ID, ferr))
		} else {
			s.buf.MarkSent(msg.ID, confirmedID)
		}
		s.notifyUpdate()
	default:
		s.buf.MarkError(msg.ID)
		s.report(fmt.Errorf("send %s: %w", msg.ID, err))
		s.notifyUpdate()
	}
	return msg, nil
}

// NotifyTyping fires a typing indicator, suppressed within the debounce
// window so the channel is not flooded.
func (s *Synchronizer) NotifyTyping() {
	s.mu.Lock()
	if !s.active || time.Since(s.lastTypingSent) < s.cfg.TypingSuppress {
		s.mu.Unlock()
		return
	}
	s.lastTypingSent = time.Now()
	recipient := s.counterparty.CounterpartyID
	s.mu.Unlock()

	s.ch.NotifyTyping(recipient)
}

// Messages returns the current ordered view of the conversation.
func (s *Synchronizer) Messages() []*domain.Message {
	return s.buf.Messages()
}

// Typing reports whether the counterparty is currently typing.
func (s *Synchronizer) Typing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

// Counterparty returns the resolved counterparty of the active conversation.
func (s *Synchronizer) Counterparty() member.Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counterparty
}

// Close tears the active conversation down: leaves the room, clears buffers
// and timers, and invalidates in-flight history loads. The shared channel
// session itself stays open; closing it is its owner's call.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	s.active = false
	s.generation++
	s.conversationID = ""
	s.counterparty = member.Resolution{}
	s.clearTypingLocked()
	s.buf.Reset(buffer.Scope{})
	s.mu.Unlock()

	s.ch.Leave()
}

func (s *Synchronizer) notifyUpdate() {
	if s.cb.OnUpdate != nil {
		s.cb.OnUpdate()
	}
}

func (s *Synchronizer) report(err error) {
	log.Printf("sync: %v", err)
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}
