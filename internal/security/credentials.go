package security

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"chatsync/internal/domain"
)

// Credentials holds the devserver's configured user set, passwords hashed at
// startup. Real authentication lives in the production backend; this only
// exists so the loopback server can mint tokens.
type Credentials struct {
	hashes map[string]string
}

// ParseCredentials builds the user set from "user:password" pairs.
func ParseCredentials(pairs []string, cost int) (*Credentials, error) {
	if cost == 0 {
		cost = bcrypt.MinCost // dev users only, speed over strength
	}
	c := &Credentials{hashes: make(map[string]string, len(pairs))}
	for _, pair := range pairs {
		user, pass, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || user == "" || pass == "" {
			return nil, fmt.Errorf("credential %q: want user:password: %w", pair, domain.ErrInvalidInput)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(pass), cost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", user, err)
		}
		c.hashes[user] = string(hash)
	}
	return c, nil
}

// Check verifies a user's password.
func (c *Credentials) Check(user, pass string) error {
	hash, ok := c.hashes[user]
	if !ok {
		return domain.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)); err != nil {
		return domain.ErrUnauthorized
	}
	return nil
}
