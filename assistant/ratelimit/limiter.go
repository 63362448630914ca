// Package ratelimit implements fixed-window attempt counters scoped to a
// chat session. Windows are persisted in the session record; when the store
// is unavailable limiting fails open so an infrastructure outage never locks
// users out.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/m3rciful/paybot/assistant/session"
	"github.com/m3rciful/paybot/core/logger"
)

// Config describes one rate-limited action at its call site.
type Config struct {
	Key          string
	MaxAttempts  int
	DecaySeconds int
}

// Info is the state of a window at the time of the call.
type Info struct {
	Attempts  int
	ResetAt   int64 // epoch milliseconds
	Exceeds   bool
	Remaining int
}

// Limiter counts attempts per (session, key) pair.
type Limiter struct {
	store session.Store
	now   func() time.Time
}

// NewLimiter constructs a Limiter over the session store.
func NewLimiter(store session.Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

func (l *Limiter) failOpen(cfg Config, err error) Info {
	logger.SVCLimiter.Warn("rate limit degraded, failing open",
		slog.String("event", "limiter.degraded"),
		slog.String("key", cfg.Key),
		slog.String("err", err.Error()),
	)
	return Info{Attempts: 0, Exceeds: false, Remaining: cfg.MaxAttempts}
}

func (l *Limiter) info(w session.RateWindow, cfg Config) Info {
	remaining := cfg.MaxAttempts - w.Attempts
	if remaining < 0 {
		remaining = 0
	}
	return Info{
		Attempts:  w.Attempts,
		ResetAt:   w.ResetAt,
		Exceeds:   w.Attempts >= cfg.MaxAttempts,
		Remaining: remaining,
	}
}

// window returns the current window for the key, re-initializing it when the
// key is absent or its reset time has passed. fresh reports whether the
// returned window still needs to be persisted.
func (l *Limiter) window(s *session.Session, cfg Config) (w session.RateWindow, fresh bool) {
	nowMS := l.now().UnixMilli()
	w, ok := s.RateLimits[cfg.Key]
	if !ok || nowMS >= w.ResetAt {
		return session.RateWindow{
			Attempts: 0,
			ResetAt:  nowMS + int64(cfg.DecaySeconds)*1000,
		}, true
	}
	return w, false
}

// Get reads the window without counting an attempt. Initialization is
// persisted immediately, so a second Get without an Increment observes the
// same ResetAt.
func (l *Limiter) Get(ctx context.Context, chatID int64, cfg Config) Info {
	s, err := l.store.Get(ctx, chatID)
	if err != nil {
		return l.failOpen(cfg, err)
	}
	w, fresh := l.window(s, cfg)
	if fresh {
		if err := l.store.PutRateWindow(ctx, chatID, cfg.Key, w); err != nil {
			return l.failOpen(cfg, err)
		}
	}
	return l.info(w, cfg)
}

// Increment counts one attempt against the window and persists it. When the
// increment reaches MaxAttempts the returned Info already reports Exceeds.
func (l *Limiter) Increment(ctx context.Context, chatID int64, cfg Config) Info {
	s, err := l.store.Get(ctx, chatID)
	if err != nil {
		return l.failOpen(cfg, err)
	}
	w, _ := l.window(s, cfg)
	w.Attempts++
	if err := l.store.PutRateWindow(ctx, chatID, cfg.Key, w); err != nil {
		return l.failOpen(cfg, err)
	}
	return l.info(w, cfg)
}

// IsLimited reports whether the key has exhausted its window.
func (l *Limiter) IsLimited(ctx context.Context, chatID int64, cfg Config) bool {
	return l.Get(ctx, chatID, cfg).Exceeds
}

// Clear removes one window. Missing keys are not an error.
func (l *Limiter) Clear(ctx context.Context, chatID int64, key string) {
	if err := l.store.DeleteRateWindow(ctx, chatID, key); err != nil {
		logger.SVCLimiter.Warn("rate limit clear failed",
			slog.String("event", "limiter.clear"),
			slog.String("key", key),
			slog.String("err", err.Error()),
		)
	}
}

// ClearAll removes every window held by the session.
func (l *Limiter) ClearAll(ctx context.Context, chatID int64) {
	if err := l.store.ClearRateWindows(ctx, chatID); err != nil {
		logger.SVCLimiter.Warn("rate limit clear failed",
			slog.String("event", "limiter.clear_all"),
			slog.String("err", err.Error()),
		)
	}
}

// AvailableIn returns whole seconds until the window resets, rounded up and
// clamped to zero. Missing or already-expired keys yield 0.
func (l *Limiter) AvailableIn(ctx context.Context, chatID int64, key string) int {
	s, err := l.store.Get(ctx, chatID)
	if err != nil {
		logger.SVCLimiter.Warn("rate limit degraded, failing open",
			slog.String("event", "limiter.degraded"),
			slog.String("key", key),
			slog.String("err", err.Error()),
		)
		return 0
	}
	w, ok := s.RateLimits[key]
	if !ok {
		return 0
	}
	remainMS := w.ResetAt - l.now().UnixMilli()
	if remainMS <= 0 {
		return 0
	}
	return int((remainMS + 999) / 1000)
}

// AvailableInText renders the remaining wait as human-readable text:
// "N second(s)" under a minute, otherwise "M minute(s)" rounded up. The
// empty string means the key is absent or its window already expired.
func (l *Limiter) AvailableInText(ctx context.Context, chatID int64, key string) string {
	seconds := l.AvailableIn(ctx, chatID, key)
	if seconds <= 0 {
		return ""
	}
	if seconds < 60 {
		if seconds == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", seconds)
	}
	minutes := (seconds + 59) / 60
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
