package security_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/domain"
	"chatsync/internal/security"
)

func TestTokenService(t *testing.T) {
	svc := security.NewTokenService("test-secret", time.Hour)

	t.Run("RoundTrip", func(t *testing.T) {
		token, err := svc.Create("u1", "Alice")
		require.NoError(t, err)

		claims, err := svc.Parse(token)
		require.NoError(t, err)
		assert.Equal(t, "u1", claims["sub"])
		assert.Equal(t, "Alice", claims["name"])
	})

	t.Run("WrongSecret", func(t *testing.T) {
		token, err := svc.Create("u1", "Alice")
		require.NoError(t, err)

		other := security.NewTokenService("different-secret", time.Hour)
		_, err = other.Parse(token)
		assert.Error(t, err)
	})

	t.Run("Expired", func(t *testing.T) {
		expired := security.NewTokenService("test-secret", -time.Minute)
		token, err := expired.Create("u1", "Alice")
		require.NoError(t, err)

		_, err = svc.Parse(token)
		assert.Error(t, err)
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := svc.Parse("not.a.token")
		assert.Error(t, err)
	})
}

func TestCredentials(t *testing.T) {
	t.Run("CheckKnownUser", func(t *testing.T) {
		creds, err := security.ParseCredentials([]string{"alice:secret", "bob:hunter2"}, 0)
		require.NoError(t, err)

		assert.NoError(t, creds.Check("alice", "secret"))
		assert.NoError(t, creds.Check("bob", "hunter2"))
		assert.ErrorIs(t, creds.Check("alice", "wrong"), domain.ErrUnauthorized)
		assert.ErrorIs(t, creds.Check("mallory", "secret"), domain.ErrUnauthorized)
	})

	t.Run("MalformedPair", func(t *testing.T) {
		_, err := security.ParseCredentials([]string{"no-colon-here"}, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		_, err = security.ParseCredentials([]string{"alice:"}, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}
