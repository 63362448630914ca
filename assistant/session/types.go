// Package session defines the per-chat session record shared by the
// credential manager, the rate limiter, and the conversation scenes, plus
// pluggable stores that persist it. Stores mutate individual sub-states
// (auth, scene, rate windows, preferences) so concurrent subsystems never
// overwrite each other's fields.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable reports that the backing medium could not serve the session
// record. Callers decide whether that is fatal (auth) or fail-open (limiter).
var ErrUnavailable = errors.New("session: store unavailable")

// AuthState holds the credential bound to an authenticated session.
// AccessToken is always the encrypted blob, never plaintext.
type AuthState struct {
	AccessToken    string `json:"access_token"`
	ExpiresAt      int64  `json:"expires_at"`
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Email          string `json:"email"`
}

// SceneState tracks the active multi-step conversation flow, if any.
type SceneState struct {
	SceneID string                 `json:"scene_id"`
	Cursor  int                    `json:"cursor"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// RateWindow is a fixed-window attempt counter for one rate-limit key.
type RateWindow struct {
	Attempts int   `json:"attempts"`
	ResetAt  int64 `json:"reset_at"`
}

// Preferences stores user display settings.
type Preferences struct {
	Currency string `json:"currency,omitempty"`
	Locale   string `json:"locale,omitempty"`
}

// Session is the full per-chat record. Identity is the Telegram chat ID.
type Session struct {
	ChatID     int64                 `json:"chat_id"`
	Auth       *AuthState            `json:"auth,omitempty"`
	Scene      *SceneState           `json:"scene,omitempty"`
	RateLimits map[string]RateWindow `json:"rate_limits,omitempty"`
	Prefs      *Preferences          `json:"prefs,omitempty"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// Store persists session records keyed by chat ID. Get creates the record on
// first interaction. All other methods are field-level merges: they touch
// exactly one sub-state and must not clobber sibling fields written
// concurrently by another subsystem.
type Store interface {
	Get(ctx context.Context, chatID int64) (*Session, error)

	PutAuth(ctx context.Context, chatID int64, auth *AuthState) error
	ClearAuth(ctx context.Context, chatID int64) error

	PutScene(ctx context.Context, chatID int64, scene *SceneState) error
	ClearScene(ctx context.Context, chatID int64) error

	PutRateWindow(ctx context.Context, chatID int64, key string, w RateWindow) error
	DeleteRateWindow(ctx context.Context, chatID int64, key string) error
	ClearRateWindows(ctx context.Context, chatID int64) error

	PutPrefs(ctx context.Context, chatID int64, prefs *Preferences) error

	Delete(ctx context.Context, chatID int64) error

	// Authenticated lists live sessions holding an unexpired credential,
	// so realtime subscriptions can be restored after a restart.
	Authenticated(ctx context.Context) ([]*Session, error)
}

// Clone returns a deep copy so callers can read a session without racing
// against concurrent field merges.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := &Session{
		ChatID:    s.ChatID,
		UpdatedAt: s.UpdatedAt,
	}
	if s.Auth != nil {
		auth := *s.Auth
		out.Auth = &auth
	}
	if s.Scene != nil {
		scene := *s.Scene
		if s.Scene.Data != nil {
			scene.Data = make(map[string]interface{}, len(s.Scene.Data))
			for k, v := range s.Scene.Data {
				scene.Data[k] = v
			}
		}
		out.Scene = &scene
	}
	if s.RateLimits != nil {
		out.RateLimits = make(map[string]RateWindow, len(s.RateLimits))
		for k, v := range s.RateLimits {
			out.RateLimits[k] = v
		}
	}
	if s.Prefs != nil {
		prefs := *s.Prefs
		out.Prefs = &prefs
	}
	return out
}
