package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/paybot/assistant/session"
)

type recordingDeauth struct {
	users []string
}

func (r *recordingDeauth) UnsubscribeAllForUser(userID string) {
	r.users = append(r.users, userID)
}

func newTestManager(t *testing.T) (*Manager, session.Store) {
	t.Helper()
	store := session.NewMemoryStore(time.Hour)
	return NewManager(store, NewCipher("manager-secret")), store
}

func TestManagerRoundTrip(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	err := m.UpdateSessionAuth(ctx, 100, BackendAuth{
		AccessToken:    "bearer-abc",
		ExpiresIn:      3600,
		UserID:         "user-1",
		OrganizationID: "org-1",
		Email:          "u@example.com",
	})
	require.NoError(t, err)

	s, err := store.Get(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, s.Auth)
	assert.NotEqual(t, "bearer-abc", s.Auth.AccessToken, "token must not be stored in plaintext")
	assert.True(t, m.IsAuthenticated(s))

	token, err := m.Credential(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "bearer-abc", token)
}

func TestManagerExpiredCredential(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.UpdateSessionAuth(ctx, 101, BackendAuth{
		AccessToken: "bearer-abc",
		ExpiresIn:   3600,
		UserID:      "user-1",
	}))

	// Jump past the expiry.
	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	s, err := store.Get(ctx, 101)
	require.NoError(t, err)
	assert.False(t, m.IsAuthenticated(s))

	token, err := m.Token(ctx, s)
	require.NoError(t, err)
	assert.Empty(t, token)

	_, err = m.Credential(ctx, s)
	assert.ErrorIs(t, err, ErrAuthExpired)
}

func TestManagerDecryptFailureForcesLogout(t *testing.T) {
	m, store := newTestManager(t)
	deauth := &recordingDeauth{}
	m.SetDeauthorizer(deauth)
	ctx := context.Background()

	// A blob sealed under a different key is indistinguishable from a
	// tampered one.
	blob, err := NewCipher("other-secret").Encrypt("bearer-abc")
	require.NoError(t, err)
	require.NoError(t, store.PutAuth(ctx, 102, &session.AuthState{
		AccessToken: blob,
		ExpiresAt:   time.Now().Add(time.Hour).UnixMilli(),
		UserID:      "user-9",
	}))

	s, err := store.Get(ctx, 102)
	require.NoError(t, err)

	_, err = m.Token(ctx, s)
	assert.ErrorIs(t, err, ErrDecryption)
	assert.Nil(t, s.Auth, "in-memory view must drop auth state")
	assert.Equal(t, []string{"user-9"}, deauth.users)

	// The stored state is gone too.
	reloaded, err := store.Get(ctx, 102)
	require.NoError(t, err)
	assert.Nil(t, reloaded.Auth)
}

func TestManagerLogout(t *testing.T) {
	m, store := newTestManager(t)
	deauth := &recordingDeauth{}
	m.SetDeauthorizer(deauth)
	ctx := context.Background()

	require.NoError(t, m.UpdateSessionAuth(ctx, 103, BackendAuth{
		AccessToken: "bearer-abc",
		ExpiresIn:   3600,
		UserID:      "user-3",
	}))

	s, err := store.Get(ctx, 103)
	require.NoError(t, err)
	require.NoError(t, m.Logout(ctx, s))

	assert.Nil(t, s.Auth)
	assert.Equal(t, []string{"user-3"}, deauth.users)

	// Logging out an unauthenticated session is a no-op.
	require.NoError(t, m.Logout(ctx, s))
	assert.Len(t, deauth.users, 1)
}
