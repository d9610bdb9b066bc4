// Package member resolves who the counterparty of a conversation is, given
// the descriptor's role fields and the current user's identity.
package member

import (
	"fmt"

	"chatsync/internal/domain"
)

// Generic labels used when the descriptor carries no display name for a role.
const (
	LabelClient   = "Client"
	LabelProvider = "Provider"
)

// Resolution names the counterparty of the active conversation.
type Resolution struct {
	CounterpartyID   string
	CounterpartyName string
}

// Hints are pre-known participant identities, e.g. when the chat UI is opened
// directly from an offer card that already knows both parties.
type Hints struct {
	ParticipantIDs []string
	Names          map[string]string // id -> display name
}

// Resolve determines the counterparty for currentUserID. Explicit hints win;
// otherwise the descriptor's client/provider roles are inspected. A resolution
// that yields an empty or self counterparty fails with ErrUnresolvable: the
// caller must surface the error, not open a broken conversation.
func Resolve(conv *domain.Conversation, currentUserID string, hints *Hints) (Resolution, error) {
	if currentUserID == "" {
		return Resolution{}, fmt.Errorf("current user: %w", domain.ErrInvalidInput)
	}

	if hints != nil {
		for _, pid := range hints.ParticipantIDs {
			if pid != "" && pid != currentUserID {
				return Resolution{
					CounterpartyID:   pid,
					CounterpartyName: hints.Names[pid],
				}, nil
			}
		}
	}

	if conv == nil {
		return Resolution{}, domain.ErrUnresolvable
	}

	var res Resolution
	switch currentUserID {
	case conv.ClientID:
		res = Resolution{CounterpartyID: conv.ProviderID, CounterpartyName: conv.ProviderName}
		if res.CounterpartyName == "" {
			res.CounterpartyName = LabelProvider
		}
	case conv.ProviderID:
		res = Resolution{CounterpartyID: conv.ClientID, CounterpartyName: conv.ClientName}
		if res.CounterpartyName == "" {
			res.CounterpartyName = LabelClient
		}
	default:
		return Resolution{}, fmt.Errorf("user %s is not a participant of conversation %s: %w",
			currentUserID, conv.ID, domain.ErrUnresolvable)
	}

	if res.CounterpartyID == "" || res.CounterpartyID == currentUserID {
		return Resolution{}, fmt.Errorf("conversation %s is mis-configured: %w", conv.ID, domain.ErrUnresolvable)
	}
	return res, nil
}
