package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCreatesOnFirstGet(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	s, err := store.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), s.ChatID)
	assert.Nil(t, s.Auth)
	assert.Nil(t, s.Scene)
	assert.Nil(t, s.Prefs)
}

func TestMemoryStoreFieldMergesAreIndependent(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	require.NoError(t, store.PutAuth(ctx, 1, &AuthState{AccessToken: "blob", UserID: "u1"}))
	require.NoError(t, store.PutScene(ctx, 1, &SceneState{SceneID: "login", Cursor: 1}))
	require.NoError(t, store.PutRateWindow(ctx, 1, "otp", RateWindow{Attempts: 2, ResetAt: 99}))
	require.NoError(t, store.PutPrefs(ctx, 1, &Preferences{Currency: "EUR"}))

	// Clearing one sub-state leaves the others intact.
	require.NoError(t, store.ClearScene(ctx, 1))

	s, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, s.Scene)
	require.NotNil(t, s.Auth)
	assert.Equal(t, "u1", s.Auth.UserID)
	assert.Equal(t, 2, s.RateLimits["otp"].Attempts)
	require.NotNil(t, s.Prefs)
	assert.Equal(t, "EUR", s.Prefs.Currency)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	scene := &SceneState{SceneID: "send", Data: map[string]interface{}{"k": "v"}}
	require.NoError(t, store.PutScene(ctx, 2, scene))

	// Mutating the caller's value after Put must not leak into the store.
	scene.Data["k"] = "mutated"

	s, err := store.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "v", s.Scene.Data["k"])

	// Mutating a Get result must not leak either.
	s.Scene.Data["k"] = "other"
	again, err := store.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "v", again.Scene.Data["k"])
}

func TestMemoryStoreRateWindowLifecycle(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	require.NoError(t, store.PutRateWindow(ctx, 3, "a", RateWindow{Attempts: 1}))
	require.NoError(t, store.PutRateWindow(ctx, 3, "b", RateWindow{Attempts: 2}))

	require.NoError(t, store.DeleteRateWindow(ctx, 3, "a"))
	s, err := store.Get(ctx, 3)
	require.NoError(t, err)
	assert.NotContains(t, s.RateLimits, "a")
	assert.Contains(t, s.RateLimits, "b")

	require.NoError(t, store.ClearRateWindows(ctx, 3))
	s, err = store.Get(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, s.RateLimits)

	// Deleting a missing key is not an error.
	require.NoError(t, store.DeleteRateWindow(ctx, 3, "absent"))
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	require.NoError(t, store.PutAuth(ctx, 4, &AuthState{AccessToken: "blob"}))
	require.NoError(t, store.Delete(ctx, 4))

	s, err := store.Get(ctx, 4)
	require.NoError(t, err)
	assert.Nil(t, s.Auth, "deleted session comes back empty")
}

func TestMemoryStoreTTLEviction(t *testing.T) {
	store := NewMemoryStore(50 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, store.PutAuth(ctx, 5, &AuthState{AccessToken: "blob"}))
	time.Sleep(80 * time.Millisecond)

	// The entry is recreated empty once its TTL lapses.
	s, err := store.Get(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, s.Auth)
}

func TestMemoryStoreAuthenticated(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	alive := time.Now().Add(time.Hour).UnixMilli()
	require.NoError(t, store.PutAuth(ctx, 1, &AuthState{AccessToken: "blob", UserID: "u1", OrganizationID: "org-1", ExpiresAt: alive}))
	require.NoError(t, store.PutAuth(ctx, 2, &AuthState{AccessToken: "blob", UserID: "u2", OrganizationID: "org-2", ExpiresAt: alive}))
	_, err := store.Get(ctx, 3) // anonymous session
	require.NoError(t, err)
	// Expired token, must be excluded.
	stale := time.Now().Add(-time.Minute).UnixMilli()
	require.NoError(t, store.PutAuth(ctx, 4, &AuthState{AccessToken: "blob", UserID: "u4", OrganizationID: "org-4", ExpiresAt: stale}))

	sessions, err := store.Authenticated(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	users := map[string]int64{}
	for _, s := range sessions {
		users[s.Auth.UserID] = s.ChatID
	}
	assert.Equal(t, map[string]int64{"u1": 1, "u2": 2}, users)

	require.NoError(t, store.ClearAuth(ctx, 1))
	sessions, err = store.Authenticated(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "u2", sessions[0].Auth.UserID)
}

func TestSessionClone(t *testing.T) {
	orig := &Session{
		ChatID: 9,
		Auth:   &AuthState{UserID: "u"},
		Scene:  &SceneState{SceneID: "s", Data: map[string]interface{}{"k": "v"}},
		RateLimits: map[string]RateWindow{
			"otp": {Attempts: 1},
		},
		Prefs: &Preferences{Currency: "USD"},
	}
	clone := orig.Clone()

	clone.Auth.UserID = "changed"
	clone.Scene.Data["k"] = "changed"
	clone.RateLimits["otp"] = RateWindow{Attempts: 5}
	clone.Prefs.Currency = "EUR"

	assert.Equal(t, "u", orig.Auth.UserID)
	assert.Equal(t, "v", orig.Scene.Data["k"])
	assert.Equal(t, 1, orig.RateLimits["otp"].Attempts)
	assert.Equal(t, "USD", orig.Prefs.Currency)
}
