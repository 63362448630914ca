package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"log/slog"

	"github.com/m3rciful/paybot/core/logger"
)

type postgresStore struct {
	db   *sqlx.DB
	ttl  time.Duration
	done chan struct{}
	once sync.Once
}

type sessionRow struct {
	ChatID     int64           `db:"chat_id"`
	Auth       sql.NullString  `db:"auth"`
	Scene      sql.NullString  `db:"scene"`
	RateLimits json.RawMessage `db:"rate_limits"`
	Prefs      sql.NullString  `db:"prefs"`
	UpdatedAt  time.Time       `db:"updated_at"`
}

// NewPostgresStore constructs a Store backed by the sessions table. Each
// sub-state lives in its own JSONB column so mutators are single-column
// updates. Expired rows are swept periodically.
func NewPostgresStore(db *sqlx.DB, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &postgresStore{
		db:   db,
		ttl:  ttl,
		done: make(chan struct{}),
	}
	go s.sweeper()
	return s
}

func (s *postgresStore) sweeper() {
	interval := s.ttl / 4
	if interval > 10*time.Minute {
		interval = 10 * time.Minute
	}
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			res, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at < now()`)
			if err != nil {
				logger.SVCSessions.Warn("session sweep failed",
					slog.String("event", "sessions.sweep"),
					slog.String("err", err.Error()),
				)
				continue
			}
			if n, _ := res.RowsAffected(); n > 0 {
				logger.SVCSessions.Debug("sessions swept",
					slog.String("event", "sessions.sweep"),
					slog.Int64("count", n),
				)
			}
		}
	}
}

// Close stops the expiry sweeper. The database handle is owned by the caller.
func (s *postgresStore) Close() {
	s.once.Do(func() { close(s.done) })
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// ensure creates the row on first interaction and slides the TTL.
func (s *postgresStore) ensure(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (chat_id, expires_at)
		VALUES ($1, now() + make_interval(secs => $2))
		ON CONFLICT (chat_id) DO UPDATE
		SET expires_at = now() + make_interval(secs => $2)`,
		chatID, s.ttl.Seconds(),
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *postgresStore) Get(ctx context.Context, chatID int64) (*Session, error) {
	if err := s.ensure(ctx, chatID); err != nil {
		return nil, err
	}
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT chat_id, auth, scene, rate_limits, prefs, updated_at
		FROM sessions WHERE chat_id = $1`, chatID)
	if err != nil {
		return nil, unavailable(err)
	}
	return row.toSession()
}

func (s *postgresStore) Authenticated(ctx context.Context) ([]*Session, error) {
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT chat_id, auth, scene, rate_limits, prefs, updated_at
		FROM sessions
		WHERE auth IS NOT NULL
		  AND expires_at >= now()
		  AND (auth->>'expires_at')::bigint > (extract(epoch from now()) * 1000)::bigint`)
	if err != nil {
		return nil, unavailable(err)
	}
	out := make([]*Session, 0, len(rows))
	for i := range rows {
		sess, err := rows[i].toSession()
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (r *sessionRow) toSession() (*Session, error) {
	out := &Session{ChatID: r.ChatID, UpdatedAt: r.UpdatedAt}
	if r.Auth.Valid && r.Auth.String != "" {
		out.Auth = &AuthState{}
		if err := json.Unmarshal([]byte(r.Auth.String), out.Auth); err != nil {
			return nil, fmt.Errorf("session: decode auth: %w", err)
		}
	}
	if r.Scene.Valid && r.Scene.String != "" {
		out.Scene = &SceneState{}
		if err := json.Unmarshal([]byte(r.Scene.String), out.Scene); err != nil {
			return nil, fmt.Errorf("session: decode scene: %w", err)
		}
	}
	if len(r.RateLimits) > 0 {
		if err := json.Unmarshal(r.RateLimits, &out.RateLimits); err != nil {
			return nil, fmt.Errorf("session: decode rate limits: %w", err)
		}
	}
	if r.Prefs.Valid && r.Prefs.String != "" {
		out.Prefs = &Preferences{}
		if err := json.Unmarshal([]byte(r.Prefs.String), out.Prefs); err != nil {
			return nil, fmt.Errorf("session: decode prefs: %w", err)
		}
	}
	return out, nil
}

// setColumn writes one JSONB sub-state column; value may be nil to clear it.
func (s *postgresStore) setColumn(ctx context.Context, chatID int64, column string, value interface{}) error {
	if err := s.ensure(ctx, chatID); err != nil {
		return err
	}
	var payload interface{}
	if value != nil {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("session: encode %s: %w", column, err)
		}
		payload = string(raw)
	}
	// column names come from a fixed internal set, never from user input
	query := fmt.Sprintf(`UPDATE sessions SET %s = $2, updated_at = now() WHERE chat_id = $1`, column)
	if _, err := s.db.ExecContext(ctx, query, chatID, payload); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *postgresStore) PutAuth(ctx context.Context, chatID int64, auth *AuthState) error {
	if auth == nil {
		return s.setColumn(ctx, chatID, "auth", nil)
	}
	return s.setColumn(ctx, chatID, "auth", auth)
}

func (s *postgresStore) ClearAuth(ctx context.Context, chatID int64) error {
	return s.setColumn(ctx, chatID, "auth", nil)
}

func (s *postgresStore) PutScene(ctx context.Context, chatID int64, scene *SceneState) error {
	if scene == nil {
		return s.setColumn(ctx, chatID, "scene", nil)
	}
	return s.setColumn(ctx, chatID, "scene", scene)
}

func (s *postgresStore) ClearScene(ctx context.Context, chatID int64) error {
	return s.setColumn(ctx, chatID, "scene", nil)
}

func (s *postgresStore) PutRateWindow(ctx context.Context, chatID int64, key string, w RateWindow) error {
	if err := s.ensure(ctx, chatID); err != nil {
		return err
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("session: encode rate window: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE sessions
		SET rate_limits = jsonb_set(coalesce(rate_limits, '{}'::jsonb), ARRAY[$2], $3::jsonb),
		    updated_at = now()
		WHERE chat_id = $1`,
		chatID, key, string(raw),
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *postgresStore) DeleteRateWindow(ctx context.Context, chatID int64, key string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET rate_limits = coalesce(rate_limits, '{}'::jsonb) - $2, updated_at = now()
		WHERE chat_id = $1`,
		chatID, key,
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *postgresStore) ClearRateWindows(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET rate_limits = '{}'::jsonb, updated_at = now() WHERE chat_id = $1`,
		chatID,
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *postgresStore) PutPrefs(ctx context.Context, chatID int64, prefs *Preferences) error {
	if prefs == nil {
		return s.setColumn(ctx, chatID, "prefs", nil)
	}
	return s.setColumn(ctx, chatID, "prefs", prefs)
}

func (s *postgresStore) Delete(ctx context.Context, chatID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE chat_id = $1`, chatID); err != nil {
		return unavailable(err)
	}
	return nil
}
