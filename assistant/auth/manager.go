package auth

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/m3rciful/paybot/assistant/session"
	"github.com/m3rciful/paybot/core/logger"
)

// Deauthorizer removes realtime subscriptions tied to a user credential.
// The notification bridge implements it; the indirection avoids a package
// cycle because the bridge also needs session identities from this package.
type Deauthorizer interface {
	UnsubscribeAllForUser(userID string)
}

// BackendAuth is the authentication payload returned by the payments backend
// after a successful OTP verification.
type BackendAuth struct {
	AccessToken    string
	ExpiresIn      int // seconds
	UserID         string
	OrganizationID string
	Email          string
}

// Manager encrypts credentials into the session record and hands out live
// tokens for individual outbound calls.
type Manager struct {
	store  session.Store
	cipher *Cipher
	deauth Deauthorizer
	now    func() time.Time
}

// NewManager constructs a Manager on top of the session store and cipher.
func NewManager(store session.Store, cipher *Cipher) *Manager {
	return &Manager{
		store:  store,
		cipher: cipher,
		now:    time.Now,
	}
}

// SetDeauthorizer wires the notification bridge after both sides exist.
func (m *Manager) SetDeauthorizer(d Deauthorizer) {
	m.deauth = d
}

// IsAuthenticated reports whether the session holds a live credential.
// Pure predicate: no side effects, no decryption.
func (m *Manager) IsAuthenticated(s *session.Session) bool {
	if s == nil || s.Auth == nil || s.Auth.AccessToken == "" {
		return false
	}
	return m.now().UnixMilli() < s.Auth.ExpiresAt
}

// UpdateSessionAuth seals the backend token into the session record and
// stores identity plus expiry alongside it.
func (m *Manager) UpdateSessionAuth(ctx context.Context, chatID int64, res BackendAuth) error {
	blob, err := m.cipher.Encrypt(res.AccessToken)
	if err != nil {
		return err
	}
	state := &session.AuthState{
		AccessToken:    blob,
		ExpiresAt:      m.now().UnixMilli() + int64(res.ExpiresIn)*1000,
		UserID:         res.UserID,
		OrganizationID: res.OrganizationID,
		Email:          res.Email,
	}
	if err := m.store.PutAuth(ctx, chatID, state); err != nil {
		if errors.Is(err, session.ErrUnavailable) {
			return ErrSessionUnavailable
		}
		return err
	}
	logger.SVCAuth.Info("session authenticated",
		slog.String("event", "auth.update"),
		slog.Int64("chat_id", chatID),
		slog.String("user_id", res.UserID),
		slog.String("org_id", res.OrganizationID),
	)
	return nil
}

// Token returns the decrypted bearer token, or "" when the session is not
// authenticated. A decryption failure is fatal for the session: auth state is
// cleared and the user's realtime subscriptions are torn down so no channel
// stays bound to a dead credential.
func (m *Manager) Token(ctx context.Context, s *session.Session) (string, error) {
	if !m.IsAuthenticated(s) {
		return "", nil
	}
	token, err := m.cipher.Decrypt(s.Auth.AccessToken)
	if err != nil {
		logger.SVCAuth.Error("credential decryption failed",
			slog.String("event", "auth.decrypt"),
			slog.Int64("chat_id", s.ChatID),
			slog.String("user_id", s.Auth.UserID),
			slog.String("err", err.Error()),
		)
		userID := s.Auth.UserID
		if clearErr := m.store.ClearAuth(ctx, s.ChatID); clearErr != nil {
			logger.SVCAuth.Warn("auth clear failed",
				slog.String("event", "auth.clear"),
				slog.Int64("chat_id", s.ChatID),
				slog.String("err", clearErr.Error()),
			)
		}
		s.Auth = nil
		if m.deauth != nil && userID != "" {
			m.deauth.UnsubscribeAllForUser(userID)
		}
		return "", err
	}
	return token, nil
}

// Credential returns the live bearer token for exactly one outbound call.
// The plaintext must not be cached beyond the call it was requested for.
// ErrAuthExpired is returned when the session holds no usable credential.
func (m *Manager) Credential(ctx context.Context, s *session.Session) (string, error) {
	token, err := m.Token(ctx, s)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrAuthExpired
	}
	return token, nil
}

// Logout clears auth state and tears down the user's realtime subscriptions.
// Safe to call for an unauthenticated session.
func (m *Manager) Logout(ctx context.Context, s *session.Session) error {
	var userID string
	if s.Auth != nil {
		userID = s.Auth.UserID
	}
	if err := m.store.ClearAuth(ctx, s.ChatID); err != nil {
		if errors.Is(err, session.ErrUnavailable) {
			return ErrSessionUnavailable
		}
		return err
	}
	s.Auth = nil
	if m.deauth != nil && userID != "" {
		m.deauth.UnsubscribeAllForUser(userID)
	}
	logger.SVCAuth.Info("session logged out",
		slog.String("event", "auth.logout"),
		slog.Int64("chat_id", s.ChatID),
		slog.String("user_id", userID),
	)
	return nil
}
