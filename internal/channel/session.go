// Package channel owns the lifecycle of the live socket session: connecting,
// joining and leaving logical rooms, and the outbound fire-and-forget
// operations. The socket handle is a singleton per user session and is shared
// across conversation activations; each activation manages only its own room.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"chatsync/internal/domain"
	"chatsync/internal/identity"
	"chatsync/internal/wire"
)

// State is the session's room-membership state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

// DefaultReconnectDelay is the fixed delay before the single reconnect
// attempt after a channel error.
const DefaultReconnectDelay = 5 * time.Second

// Events are the session's inbound callbacks. All are optional and are
// invoked from the session's read goroutine.
type Events struct {
	OnMessage func(raw map[string]any)
	OnTyping  func(userID string)
	OnState   func(State)
	OnError   func(err error)
}

// Session manages one shared socket connection and the currently joined room.
//
// Join is optimistic: the room counts as joined as soon as the join event is
// written, without waiting for a server acknowledgement. The server does not
// emit one; an acknowledged handshake would need a protocol change.
//
// On a read error while a room is joined, exactly one reconnect attempt is
// scheduled after a fixed delay. The attempt is abandoned if the room key
// changed in the meantime, so a stale room is never rejoined.
type Session struct {
	dialer         Dialer
	events         Events
	reconnectDelay time.Duration

	mu             sync.Mutex
	conn           Conn
	state          State
	conversationID string
	roomKey        string
	retryTimer     *time.Timer
	closed         bool
	gen            int
}

// NewSession returns a disconnected session. reconnectDelay <= 0 selects
// DefaultReconnectDelay.
func NewSession(dialer Dialer, events Events, reconnectDelay time.Duration) *Session {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	return &Session{
		dialer:         dialer,
		events:         events,
		reconnectDelay: reconnectDelay,
		state:          StateDisconnected,
	}
}

// State returns the current room-membership state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Join connects if necessary, leaves any previously joined room, and joins the
// room identified by roomKey. Idempotent: joining the current room again is a
// no-op.
func (s *Session) Join(ctx context.Context, conversationID, roomKey string) error {
	if conversationID == "" || roomKey == "" {
		return fmt.Errorf("join: %w", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("join: session closed: %w", domain.ErrNotConnected)
	}
	if s.state == StateJoined && s.roomKey == roomKey {
		return nil
	}

	if s.conn == nil {
		s.setStateLocked(StateConnecting)
		conn, err := s.dialer.Dial(ctx)
		if err != nil {
			s.setStateLocked(StateDisconnected)
			return fmt.Errorf("join: %w", err)
		}
		s.conn = conn
		s.gen++
		go s.readLoop(conn, s.gen)
	}

	if s.roomKey != "" && s.roomKey != roomKey {
		if err := s.conn.WriteJSON(wire.LeaveRoom{Type: wire.EventLeaveRoom, RoomKey: s.roomKey}); err != nil {
			log.Printf("channel: leave %s before join: %v", s.roomKey, err)
		}
	}

	if err := s.conn.WriteJSON(wire.JoinRoom{
		Type:           wire.EventJoinRoom,
		ConversationID: conversationID,
		RoomKey:        roomKey,
	}); err != nil {
		s.setStateLocked(StateDisconnected)
		return fmt.Errorf("join %s: %w", roomKey, err)
	}

	s.cancelRetryLocked()
	s.conversationID = conversationID
	s.roomKey = roomKey
	s.setStateLocked(StateJoined)
	return nil
}

func (s *Session) cancelRetryLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

// Leave emits a leave for the current room and drops room membership. The
// shared socket stays open for the next activation. Must be called on
// conversation teardown so server-side room membership is not leaked.
func (s *Session) Leave() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelRetryLocked()
	if s.roomKey != "" && s.conn != nil {
		if err := s.conn.WriteJSON(wire.LeaveRoom{Type: wire.EventLeaveRoom, RoomKey: s.roomKey}); err != nil {
			log.Printf("channel: leave %s: %v", s.roomKey, err)
		}
	}
	s.conversationID = ""
	s.roomKey = ""
	s.setStateLocked(StateDisconnected)
}

// Send fires a message over the channel. Rejects with ErrNotConnected when no
// room is joined; delivery confirmation, if any, arrives asynchronously as a
// normal inbound message event.
func (s *Session) Send(env wire.SendMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateJoined || s.conn == nil {
		return domain.ErrNotConnected
	}
	env.Type = wire.EventSendMessage
	env.RoomKey = s.roomKey
	if env.ConversationID == "" {
		env.ConversationID = s.conversationID
	}
	if err := s.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// NotifyTyping fires a typing indicator to the counterparty. Best-effort;
// debouncing is the caller's concern.
func (s *Session) NotifyTyping(recipientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateJoined || s.conn == nil {
		return
	}
	err := s.conn.WriteJSON(wire.TypingNotify{
		Type:           wire.EventTypingNotify,
		RecipientID:    recipientID,
		ConversationID: s.conversationID,
		RoomKey:        s.roomKey,
	})
	if err != nil {
		log.Printf("channel: typing notify: %v", err)
	}
}

// Close ends the whole session: cancels any pending reconnect and closes the
// shared socket. The session cannot be reused afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.cancelRetryLocked()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.conversationID = ""
	s.roomKey = ""
	s.setStateLocked(StateDisconnected)
}

func (s *Session) readLoop(conn Conn, gen int) {
	for {
		var payload map[string]any
		if err := conn.ReadJSON(&payload); err != nil {
			s.handleReadError(gen, err)
			return
		}
		msgType, _ := payload["type"].(string)
		switch msgType {
		case wire.EventMessageReceived:
			if s.events.OnMessage != nil {
				// Tolerate both nested and flat envelopes.
				raw := payload
				if inner, ok := payload["message"].(map[string]any); ok {
					raw = inner
				}
				s.events.OnMessage(raw)
			}
		case wire.EventTyping:
			if s.events.OnTyping != nil {
				s.events.OnTyping(identity.Normalize(payload["userId"]))
			}
		case wire.EventError:
			msg, _ := payload["message"].(string)
			if s.events.OnError != nil {
				s.events.OnError(errors.New(msg))
			}
		default:
			log.Printf("channel: unknown event type %q", msgType)
		}
	}
}

func (s *Session) handleReadError(gen int, err error) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	room := s.roomKey
	conv := s.conversationID
	var onError func(error)
	if room == "" {
		s.setStateLocked(StateDisconnected)
	} else {
		s.setStateLocked(StateConnecting)
		onError = s.events.OnError
		s.scheduleReconnectLocked(conv, room)
	}
	s.mu.Unlock()

	if onError != nil {
		onError(fmt.Errorf("channel read: %w", err))
	}
}

// scheduleReconnectLocked arms the single fixed-delay retry for the room that
// was joined when the error happened.
func (s *Session) scheduleReconnectLocked(conversationID, roomKey string) {
	s.cancelRetryLocked()
	s.retryTimer = time.AfterFunc(s.reconnectDelay, func() {
		s.reconnect(conversationID, roomKey)
	})
}

func (s *Session) reconnect(conversationID, roomKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The room changed or the session ended while the retry was pending.
	if s.closed || s.roomKey != roomKey {
		return
	}
	// Already rejoined by an explicit Join in the meantime.
	if s.state == StateJoined && s.conn != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		s.setStateLocked(StateDisconnected)
		if s.events.OnError != nil {
			go s.events.OnError(fmt.Errorf("reconnect: %w", err))
		}
		return
	}
	s.conn = conn
	s.gen++
	go s.readLoop(conn, s.gen)

	if err := s.conn.WriteJSON(wire.JoinRoom{
		Type:           wire.EventJoinRoom,
		ConversationID: conversationID,
		RoomKey:        roomKey,
	}); err != nil {
		log.Printf("channel: rejoin %s: %v", roomKey, err)
		s.setStateLocked(StateDisconnected)
		return
	}
	s.setStateLocked(StateJoined)
}

func (s *Session) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.state = state
	if s.events.OnState != nil {
		go s.events.OnState(state)
	}
}
