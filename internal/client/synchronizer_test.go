package client_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatsync/internal/channel"
	"chatsync/internal/client"
	"chatsync/internal/domain"
	"chatsync/internal/member"
	"chatsync/internal/wire"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) History(ctx context.Context, conversationID string, limit int) ([]map[string]any, error) {
	args := m.Called(ctx, conversationID, limit)
	var records []map[string]any
	if v := args.Get(0); v != nil {
		records = v.([]map[string]any)
	}
	return records, args.Error(1)
}

func (m *mockBackend) Conversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv *domain.Conversation
	if v := args.Get(0); v != nil {
		conv = v.(*domain.Conversation)
	}
	return conv, args.Error(1)
}

func (m *mockBackend) SendMessage(ctx context.Context, msg *domain.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

type fakeChannel struct {
	mu      sync.Mutex
	joinErr error
	sendErr error
	joins   []string
	leaves  int
	sent    []wire.SendMessage
	typed   []string
}

func (c *fakeChannel) Join(ctx context.Context, conversationID, roomKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joinErr != nil {
		return c.joinErr
	}
	c.joins = append(c.joins, roomKey)
	return nil
}

func (c *fakeChannel) Leave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaves++
}

func (c *fakeChannel) Send(env wire.SendMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeChannel) NotifyTyping(recipientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typed = append(c.typed, recipientID)
}

func (c *fakeChannel) State() channel.State {
	return channel.StateJoined
}

func (c *fakeChannel) Joins() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.joins...)
}

func (c *fakeChannel) Sent() []wire.SendMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wire.SendMessage(nil), c.sent...)
}

func (c *fakeChannel) Typed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.typed...)
}

func descriptor() *domain.Conversation {
	return &domain.Conversation{
		ID:           "req42",
		ClientID:     "u1",
		ClientName:   "Alice",
		ProviderID:   "u2",
		ProviderName: "Bob",
	}
}

func newSyncer(cfg client.Config, ch *fakeChannel, backend *mockBackend, cb client.Callbacks) *client.Synchronizer {
	if cfg.CurrentUserID == "" {
		cfg.CurrentUserID = "u1"
		cfg.CurrentUserName = "Alice"
	}
	return client.New(cfg, ch, backend, backend, backend, cb)
}

func waitForMessages(t *testing.T, s *client.Synchronizer, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.Messages()) == n
	}, time.Second, 5*time.Millisecond)
}

func TestActivate(t *testing.T) {
	ctx := context.Background()

	t.Run("ResolvesJoinsAndSeeds", func(t *testing.T) {
		ch := &fakeChannel{}
		backend := new(mockBackend)
		backend.On("Conversation", mock.Anything, "req42").Return(descriptor(), nil)
		backend.On("History", mock.Anything, "req42", 50).Return([]map[string]any{
			{"id": "m1", "text": "hello", "senderId": "u2", "recipientId": "u1", "conversationId": "req42"},
			{"id": "m2", "text": "hi there", "senderId": "u1", "recipientId": "u2", "conversationId": "req42"},
		}, nil)

		s := newSyncer(client.Config{}, ch, backend, client.Callbacks{})
		require.NoError(t, s.Activate(ctx, "req42", nil))

		assert.Equal(t, member.Resolution{CounterpartyID: "u2", CounterpartyName: "Bob"}, s.Counterparty())
		require.Equal(t, []string{"u1_u2"}, ch.Joins())

		waitForMessages(t, s, 2)
		msgs := s.Messages()
		assert.Equal(t, "m1", msgs[0].ID)
		assert.Equal(t, "m2", msgs[1].ID)
		backend.AssertExpectations(t)
	})

	t.Run("MissingConversationID", func(t *testing.T) {
		ch := &fakeChannel{}
		s := newSyncer(client.Config{}, ch, new(mockBackend), client.Callbacks{})

		assert.ErrorIs(t, s.Activate(ctx, "", nil), domain.ErrInvalidInput)
		assert.Empty(t, ch.Joins())
	})

	t.Run("MissingCurrentUser", func(t *testing.T) {
		ch := &fakeChannel{}
		s := client.New(client.Config{}, ch, new(mockBackend), new(mockBackend), nil, client.Callbacks{})

		assert.ErrorIs(t, s.Activate(ctx, "req42", nil), domain.ErrInvalidInput)
		assert.Empty(t, ch.Joins())
	})

	t.Run("DescriptorErrorWithoutHints", func(t *testing.T) {
		ch := &fakeChannel{}
		backend := new(mockBackend)
		backend.On("Conversation", mock.Anything, "req42").Return(nil, domain.ErrNotFound)

		s := newSyncer(client.Config{}, ch, backend, client.Callbacks{})
		assert.ErrorIs(t, s.Activate(ctx, "req42", nil), domain.ErrNotFound)
		assert.Empty(t, ch.Joins())
	})

	t.Run("HintsCoverDescriptorError", func(t *testing.T) {
		ch := &fakeChannel{}
		backend := new(mockBackend)
		backend.On("Conversation", mock.Anything, "req42").Return(nil, domain.ErrNotFound)
		backend.On("History", mock.Anything, "req42", 50).Return(nil, nil)

		s := newSyncer(client.Config{}, ch, backend, client.Callbacks{})
		hints := &member.Hints{
			ParticipantIDs: []string{"u1", "u2"},
			Names:          map[string]string{"u2": "Bob"},
		}
		require.NoError(t, s.Activate(ctx, "req42", hints))
		assert.Equal(t, "u2", s.Counterparty().CounterpartyID)
		assert.Equal(t, []string{"u1_u2"}, ch.Joins())
	})

	t.Run("UnresolvableCounterpartyBlocks", func(t *testing.T) {
		ch := &fakeChannel{}
		backend := new(mockBackend)
		backend.On("Conversation", mock.Anything, "req42").Return(descriptor(), nil)

		s := newSyncer(client.Config{CurrentUserID: "u9"}, ch, backend, client.Callbacks{})
		assert.ErrorIs(t, s.Activate(ctx, "req42", nil), domain.ErrUnresolvable)
		assert.Empty(t, ch.Joins())
	})

	t.Run("JoinFailureIsNotFatal", func(t *testing.T) {
		ch := &fakeChannel{joinErr: errors.New("socket down")}
		backend := new(mockBackend)
		backend.On("Conversation", mock.Anything, "req42").Return(descriptor(), nil)
		backend.On("History", mock.Anything, "req42", 50).Return(nil, nil)

		var reported []error
		var mu sync.Mutex
		s := newSyncer(client.Config{}, ch, backend, client.Callbacks{
			OnError: func(err error) {
				mu.Lock()
				reported = append(reported, err)
				mu.Unlock()
			},
		})

		require.NoError(t, s.Activate(ctx, "req42", nil))
		mu.Lock()
		assert.NotEmpty(t, reported)
		mu.Unlock()
	})
}

func TestSwitchDiscardsStaleHistory(t *testing.T) {
	ctx := context.Background()
	ch := &fakeChannel{}
	backend := new(mockBackend)
	backend.On("Conversation", mock.Anything, mock.Anything).Return(descriptor(), nil)

	releaseA := make(chan time.Time)
	backend.On("History", mock.Anything, "reqA", 50).WaitUntil(releaseA).Return([]map[string]any{
		{"id": "stale1", "text": "old stuff", "senderId": "u2", "recipientId": "u1", "conversationId": "reqA"},
	}, nil)
	backend.On("History", mock.Anything, "reqB", 50).Return([]map[string]any{
		{"id": "fresh1", "text": "new stuff", "senderId": "u2", "recipientId": "u1", "conversationId": "reqB"},
	}, nil)

	s := newSyncer(client.Config{}, ch, backend, client.Callbacks{})
	require.NoError(t, s.Activate(ctx, "reqA", nil))
	require.NoError(t, s.Activate(ctx, "reqB", nil))

	// Let the stale fetch complete after the switch.
	close(releaseA)

	waitForMessages(t, s, 1)
	time.Sleep(50 * time.Millisecond)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "fresh1", msgs[0].ID)
}

// activated returns a synchronizer with req42 open and the empty history seed
// already applied, so appends in the test body cannot race the seeding
// goroutine. Both the activation and the history load fire OnUpdate, hence
// the wait for two updates.
func activated(t *testing.T, ch *fakeChannel, backend *mockBackend, cb client.Callbacks) *client.Synchronizer {
	t.Helper()
	backend.On("Conversation", mock.Anything, "req42").Return(descriptor(), nil)
	backend.On("History", mock.Anything, "req42", 50).Return(nil, nil)

	var mu sync.Mutex
	updates := 0
	inner := cb.OnUpdate
	cb.OnUpdate = func() {
		mu.Lock()
		updates++
		mu.Unlock()
		if inner != nil {
			inner()
		}
	}

	s := newSyncer(client.Config{}, ch, backend, cb)
	require.NoError(t, s.Activate(context.Background(), "req42", nil))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return updates >= 2
	}, time.Second, 5*time.Millisecond)
	return s
}

func TestHandleInbound(t *testing.T) {
	t.Run("CounterpartyMessageAppended", func(t *testing.T) {
		updates := 0
		var mu sync.Mutex
		ch := &fakeChannel{}
		s := activated(t, ch, new(mockBackend), client.Callbacks{
			OnUpdate: func() {
				mu.Lock()
				updates++
				mu.Unlock()
			},
		})

		s.HandleInbound(map[string]any{
			"id": "m1", "text": "hello", "senderId": "u2", "recipientId": "u1", "conversationId": "req42",
		})

		msgs := s.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, domain.StatusSent, msgs[0].Status)
		mu.Lock()
		assert.GreaterOrEqual(t, updates, 2)
		mu.Unlock()
	})

	t.Run("MalformedDropped", func(t *testing.T) {
		s := activated(t, &fakeChannel{}, new(mockBackend), client.Callbacks{})

		s.HandleInbound(map[string]any{"text": "no participants"})
		s.HandleInbound(map[string]any{})

		assert.Empty(t, s.Messages())
	})

	t.Run("ForeignConversationDropped", func(t *testing.T) {
		s := activated(t, &fakeChannel{}, new(mockBackend), client.Callbacks{})

		s.HandleInbound(map[string]any{
			"id": "m1", "text": "wrong room", "senderId": "u3", "recipientId": "u1", "conversationId": "req99",
		})

		assert.Empty(t, s.Messages())
	})

	t.Run("DuplicateDelivered", func(t *testing.T) {
		s := activated(t, &fakeChannel{}, new(mockBackend), client.Callbacks{})

		raw := map[string]any{
			"id": "m1", "text": "hello", "senderId": "u2", "recipientId": "u1", "conversationId": "req42",
		}
		s.HandleInbound(raw)
		s.HandleInbound(raw)

		assert.Len(t, s.Messages(), 1)
	})

	t.Run("SelfEchoReconciled", func(t *testing.T) {
		ch := &fakeChannel{}
		s := activated(t, ch, new(mockBackend), client.Callbacks{})

		sent, err := s.Send(context.Background(), "ping")
		require.NoError(t, err)
		require.True(t, wire.IsTempID(sent.ID))

		// Server echo of the same message, now carrying the server id.
		s.HandleInbound(map[string]any{
			"id": "srv-1", "text": "ping", "senderId": "u1", "recipientId": "u2", "conversationId": "req42",
		})

		msgs := s.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "srv-1", msgs[0].ID)
		assert.Equal(t, domain.StatusSent, msgs[0].Status)
	})
}

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("OptimisticInsert", func(t *testing.T) {
		ch := &fakeChannel{}
		s := activated(t, ch, new(mockBackend), client.Callbacks{})

		msg, err := s.Send(ctx, "hello")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusSending, msg.Status)
		assert.Equal(t, "u2", msg.RecipientID)

		msgs := s.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, msg.ID, msgs[0].ID)

		envs := ch.Sent()
		require.Len(t, envs, 1)
		assert.Equal(t, "hello", envs[0].Text)
		assert.Equal(t, wire.SenderInfo{ID: "u1", Name: "Alice"}, envs[0].SenderInfo)
	})

	t.Run("FallbackWhenChannelDown", func(t *testing.T) {
		ch := &fakeChannel{sendErr: domain.ErrNotConnected}
		backend := new(mockBackend)
		backend.On("SendMessage", mock.Anything, mock.Anything).Return("srv-9", nil)
		s := activated(t, ch, backend, client.Callbacks{})

		_, err := s.Send(ctx, "offline message")
		require.NoError(t, err)

		msgs := s.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "srv-9", msgs[0].ID)
		assert.Equal(t, domain.StatusSent, msgs[0].Status)
		backend.AssertExpectations(t)
	})

	t.Run("FallbackFailureMarksError", func(t *testing.T) {
		ch := &fakeChannel{sendErr: domain.ErrNotConnected}
		backend := new(mockBackend)
		backend.On("SendMessage", mock.Anything, mock.Anything).Return("", errors.New("backend down"))

		var reported []error
		var mu sync.Mutex
		s := activated(t, ch, backend, client.Callbacks{
			OnError: func(err error) {
				mu.Lock()
				reported = append(reported, err)
				mu.Unlock()
			},
		})

		_, err := s.Send(ctx, "doomed")
		require.NoError(t, err)

		msgs := s.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, domain.StatusError, msgs[0].Status)
		mu.Lock()
		assert.NotEmpty(t, reported)
		mu.Unlock()
	})

	t.Run("ChannelErrorSkipsFallback", func(t *testing.T) {
		ch := &fakeChannel{sendErr: errors.New("write failed")}
		backend := new(mockBackend)
		s := activated(t, ch, backend, client.Callbacks{})

		_, err := s.Send(ctx, "unlucky")
		require.NoError(t, err)

		msgs := s.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, domain.StatusError, msgs[0].Status)
		backend.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
	})

	t.Run("EmptyText", func(t *testing.T) {
		s := activated(t, &fakeChannel{}, new(mockBackend), client.Callbacks{})
		_, err := s.Send(ctx, "")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("NoActiveConversation", func(t *testing.T) {
		s := newSyncer(client.Config{}, &fakeChannel{}, new(mockBackend), client.Callbacks{})
		_, err := s.Send(ctx, "hello")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestTyping(t *testing.T) {
	t.Run("CounterpartyRaisesFlag", func(t *testing.T) {
		var flags []bool
		var mu sync.Mutex
		s := activated(t, &fakeChannel{}, new(mockBackend), client.Callbacks{
			OnTyping: func(active bool) {
				mu.Lock()
				flags = append(flags, active)
				mu.Unlock()
			},
		})

		s.HandleTyping("u2")
		assert.True(t, s.Typing())
		mu.Lock()
		assert.Equal(t, []bool{true}, flags)
		mu.Unlock()
	})

	t.Run("FlagExpires", func(t *testing.T) {
		ch := &fakeChannel{}
		backend := new(mockBackend)
		backend.On("Conversation", mock.Anything, "req42").Return(descriptor(), nil)
		backend.On("History", mock.Anything, "req42", 50).Return(nil, nil)
		s := newSyncer(client.Config{TypingTTL: 30 * time.Millisecond}, ch, backend, client.Callbacks{})
		require.NoError(t, s.Activate(context.Background(), "req42", nil))

		s.HandleTyping("u2")
		require.True(t, s.Typing())
		require.Eventually(t, func() bool {
			return !s.Typing()
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("StrangerIgnored", func(t *testing.T) {
		s := activated(t, &fakeChannel{}, new(mockBackend), client.Callbacks{})
		s.HandleTyping("u9")
		assert.False(t, s.Typing())
	})

	t.Run("OutboundDebounced", func(t *testing.T) {
		ch := &fakeChannel{}
		backend := new(mockBackend)
		backend.On("Conversation", mock.Anything, "req42").Return(descriptor(), nil)
		backend.On("History", mock.Anything, "req42", 50).Return(nil, nil)
		s := newSyncer(client.Config{TypingSuppress: time.Hour}, ch, backend, client.Callbacks{})
		require.NoError(t, s.Activate(context.Background(), "req42", nil))

		s.NotifyTyping()
		s.NotifyTyping()
		s.NotifyTyping()

		assert.Equal(t, []string{"u2"}, ch.Typed())
	})
}

func TestClose(t *testing.T) {
	ch := &fakeChannel{}
	s := activated(t, ch, new(mockBackend), client.Callbacks{})

	s.HandleInbound(map[string]any{
		"id": "m1", "text": "hello", "senderId": "u2", "recipientId": "u1", "conversationId": "req42",
	})
	require.Len(t, s.Messages(), 1)

	s.Close()

	assert.Empty(t, s.Messages())
	_, err := s.Send(context.Background(), "after close")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
