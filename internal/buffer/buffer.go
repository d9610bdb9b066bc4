// Package buffer keeps the ordered, de-duplicated message log of the active
// conversation. The underlying channel is at-least-once and possibly
// out-of-order, and locally sent messages may come back as server echoes with
// different ids, so every insert path is idempotent.
package buffer

import (
	"sync"

	"chatsync/internal/domain"
)

// DefaultSeenCap bounds the seen-id set during long sessions. When exceeded
// the set is trimmed to its most recent half (approximate LRU, not exact).
const DefaultSeenCap = 100

// Buffer is the in-memory ordered log of the active conversation. Safe for
// concurrent use.
type Buffer struct {
	mu      sync.Mutex
	scope   Scope
	seenCap int

	entries []*domain.Message
	byID    map[string]int

	seen      map[string]struct{}
	seenOrder []string
}

// New returns an empty buffer scoped to one conversation. seenCap <= 0 selects
// DefaultSeenCap.
func New(scope Scope, seenCap int) *Buffer {
	if seenCap <= 0 {
		seenCap = DefaultSeenCap
	}
	b := &Buffer{scope: scope, seenCap: seenCap}
	b.reset(scope)
	return b
}

func (b *Buffer) reset(scope Scope) {
	b.scope = scope
	b.entries = nil
	b.byID = make(map[string]int)
	b.seen = make(map[string]struct{})
	b.seenOrder = nil
}

// Reset clears all entries and the seen set and rescopes the buffer. Called on
// conversation switch; nothing from the previous conversation survives.
func (b *Buffer) Reset(scope Scope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset(scope)
}

// Scope returns the buffer's current conversation scope.
func (b *Buffer) Scope() Scope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scope
}

// Seed replaces the buffer contents wholesale with the cold-start history.
// Input is filtered through the ownership scope and de-duplicated.
func (b *Buffer) Seed(messages []*domain.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	scope := b.scope
	b.reset(scope)
	for _, m := range messages {
		if !scope.Owns(m) {
			continue
		}
		b.append(m)
	}
}

// Append inserts a message at the tail unless its id is already present or an
// existing entry matches on (timestamp, text, sender), which catches the same
// message arriving via two channels with different ids. Duplicates are
// silently ignored. Reports whether the message was inserted.
func (b *Buffer) Append(m *domain.Message) bool {
	if m == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.append(m)
}

func (b *Buffer) append(m *domain.Message) bool {
	if _, ok := b.byID[m.ID]; ok {
		return false
	}
	if _, ok := b.seen[m.ID]; ok {
		return false
	}
	for _, e := range b.entries {
		if e.SenderID == m.SenderID && e.Text == m.Text && e.Timestamp.Equal(m.Timestamp) {
			return false
		}
	}

	cp := *m
	b.entries = append(b.entries, &cp)
	b.byID[cp.ID] = len(b.entries) - 1
	b.markSeen(cp.ID)
	return true
}

func (b *Buffer) markSeen(id string) {
	if _, ok := b.seen[id]; ok {
		return
	}
	b.seen[id] = struct{}{}
	b.seenOrder = append(b.seenOrder, id)
	if len(b.seenOrder) > b.seenCap {
		keep := b.seenOrder[len(b.seenOrder)-b.seenCap/2:]
		for _, old := range b.seenOrder[:len(b.seenOrder)-len(keep)] {
			delete(b.seen, old)
		}
		b.seenOrder = append([]string(nil), keep...)
	}
}

// MarkSent reconciles a locally-optimistic entry with its server-confirmed
// counterpart: the entry is updated in place, never duplicated, and keeps its
// position. Reports whether the temp id was found.
func (b *Buffer) MarkSent(tempID, confirmedID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx, ok := b.byID[tempID]
	if !ok {
		return false
	}
	if confirmedID != "" && confirmedID != tempID {
		if _, taken := b.byID[confirmedID]; !taken {
			delete(b.byID, tempID)
			b.entries[idx].ID = confirmedID
			b.byID[confirmedID] = idx
			b.markSeen(confirmedID)
		}
	}
	b.entries[idx].Status = domain.StatusSent
	return true
}

// MarkError flags a locally-optimistic entry as failed. The entry stays in the
// sequence so the user can see the failure and retry.
func (b *Buffer) MarkError(tempID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx, ok := b.byID[tempID]
	if !ok {
		return false
	}
	b.entries[idx].Status = domain.StatusError
	return true
}

// ReconcileEcho matches an inbound server echo against a pending optimistic
// entry by content (sender + text). On a match the pending entry adopts the
// confirmed id and flips to sent; the echo must not be appended. Reports
// whether a reconciliation happened.
func (b *Buffer) ReconcileEcho(m *domain.Message) bool {
	if m == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, e := range b.entries {
		if e.Status == domain.StatusSending && e.SenderID == m.SenderID && e.Text == m.Text {
			if m.ID != "" && m.ID != e.ID {
				if _, taken := b.byID[m.ID]; !taken {
					delete(b.byID, e.ID)
					e.ID = m.ID
					b.byID[m.ID] = i
					b.markSeen(m.ID)
				}
			}
			e.Status = domain.StatusSent
			return true
		}
	}
	return false
}

// Messages returns a snapshot of the buffer in insertion order.
func (b *Buffer) Messages() []*domain.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*domain.Message, len(b.entries))
	for i, e := range b.entries {
		cp := *e
		out[i] = &cp
	}
	return out
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
