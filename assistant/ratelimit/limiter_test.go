package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/paybot/assistant/session"
)

var testCfg = Config{Key: "otp_verify", MaxAttempts: 3, DecaySeconds: 60}

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	return NewLimiter(session.NewMemoryStore(time.Hour))
}

func TestLimiterCountsUpToMax(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		info := l.Increment(ctx, 1, testCfg)
		assert.Equal(t, i, info.Attempts)
		assert.False(t, info.Exceeds)
		assert.Equal(t, testCfg.MaxAttempts-i, info.Remaining)
		assert.False(t, l.IsLimited(ctx, 1, testCfg))
	}

	info := l.Increment(ctx, 1, testCfg)
	assert.Equal(t, 3, info.Attempts)
	assert.True(t, info.Exceeds)
	assert.Zero(t, info.Remaining)
	assert.True(t, l.IsLimited(ctx, 1, testCfg))
}

func TestLimiterWindowReset(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	base := time.Now()
	l.now = func() time.Time { return base }
	for i := 0; i < testCfg.MaxAttempts; i++ {
		l.Increment(ctx, 2, testCfg)
	}
	require.True(t, l.IsLimited(ctx, 2, testCfg))

	// One second before reset the window still holds.
	l.now = func() time.Time { return base.Add(59 * time.Second) }
	assert.True(t, l.IsLimited(ctx, 2, testCfg))

	// At the boundary the window re-initializes with zero attempts.
	l.now = func() time.Time { return base.Add(60 * time.Second) }
	assert.False(t, l.IsLimited(ctx, 2, testCfg))
	info := l.Increment(ctx, 2, testCfg)
	assert.Equal(t, 1, info.Attempts)
}

func TestLimiterGetPersistsFreshWindow(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	first := l.Get(ctx, 3, testCfg)
	second := l.Get(ctx, 3, testCfg)
	assert.Equal(t, first.ResetAt, second.ResetAt, "Get must pin ResetAt on first read")
	assert.Zero(t, second.Attempts)
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	other := Config{Key: "transfer", MaxAttempts: 1, DecaySeconds: 60}

	for i := 0; i < testCfg.MaxAttempts; i++ {
		l.Increment(ctx, 4, testCfg)
	}
	require.True(t, l.IsLimited(ctx, 4, testCfg))
	assert.False(t, l.IsLimited(ctx, 4, other))

	l.Clear(ctx, 4, testCfg.Key)
	assert.False(t, l.IsLimited(ctx, 4, testCfg))
}

func TestLimiterAvailableInText(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	base := time.Now()
	l.now = func() time.Time { return base }

	set := func(resetInMS int64) {
		require.NoError(t, l.store.PutRateWindow(ctx, 5, "k", session.RateWindow{
			Attempts: 3,
			ResetAt:  base.UnixMilli() + resetInMS,
		}))
	}

	set(1000)
	assert.Equal(t, "1 second", l.AvailableInText(ctx, 5, "k"))

	set(59000)
	assert.Equal(t, "59 seconds", l.AvailableInText(ctx, 5, "k"))

	set(60000)
	assert.Equal(t, "1 minute", l.AvailableInText(ctx, 5, "k"))

	// 61s rounds up to the next whole minute.
	set(61000)
	assert.Equal(t, "2 minutes", l.AvailableInText(ctx, 5, "k"))

	set(-1000)
	assert.Equal(t, "", l.AvailableInText(ctx, 5, "k"))

	assert.Equal(t, "", l.AvailableInText(ctx, 5, "absent"))
}

// failingStore always errors; limiting must fail open.
type failingStore struct {
	session.Store
}

func (failingStore) Get(ctx context.Context, chatID int64) (*session.Session, error) {
	return nil, errors.New("store down")
}

func TestLimiterFailsOpen(t *testing.T) {
	l := NewLimiter(failingStore{})
	ctx := context.Background()

	assert.False(t, l.IsLimited(ctx, 6, testCfg))
	info := l.Increment(ctx, 6, testCfg)
	assert.False(t, info.Exceeds)
	assert.Equal(t, testCfg.MaxAttempts, info.Remaining)
	assert.Zero(t, l.AvailableIn(ctx, 6, testCfg.Key))
}

func TestLimiterOTPScenario(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	// Three rapid attempts are each admitted individually.
	for i := 0; i < 3; i++ {
		require.False(t, l.IsLimited(ctx, 7, testCfg))
		l.Increment(ctx, 7, testCfg)
	}

	// The fourth is rejected with a wait hint.
	require.True(t, l.IsLimited(ctx, 7, testCfg))
	assert.NotEmpty(t, l.AvailableInText(ctx, 7, testCfg.Key))
}
