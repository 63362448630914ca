package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisKeyPrefix  = "paybot:session:"
	redisFieldAuth  = "auth"
	redisFieldScene = "scene"
	redisFieldPrefs = "prefs"
	redisRLPrefix   = "rl:"
)

type redisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore constructs a Store backed by one Redis hash per chat.
// Sub-states map to individual hash fields, so mutations are field-level by
// construction. TTL eviction is delegated to Redis key expiry.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisStore{rdb: rdb, ttl: ttl}
}

func redisKey(chatID int64) string {
	return fmt.Sprintf("%s%d", redisKeyPrefix, chatID)
}

func (s *redisStore) touch(ctx context.Context, key string) {
	s.rdb.Expire(ctx, key, s.ttl)
}

func (s *redisStore) Get(ctx context.Context, chatID int64) (*Session, error) {
	key := redisKey(chatID)
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	s.touch(ctx, key)

	out := &Session{ChatID: chatID, UpdatedAt: time.Now()}
	for field, raw := range fields {
		switch {
		case field == redisFieldAuth:
			out.Auth = &AuthState{}
			if err := json.Unmarshal([]byte(raw), out.Auth); err != nil {
				return nil, fmt.Errorf("session: decode auth: %w", err)
			}
		case field == redisFieldScene:
			out.Scene = &SceneState{}
			if err := json.Unmarshal([]byte(raw), out.Scene); err != nil {
				return nil, fmt.Errorf("session: decode scene: %w", err)
			}
		case field == redisFieldPrefs:
			out.Prefs = &Preferences{}
			if err := json.Unmarshal([]byte(raw), out.Prefs); err != nil {
				return nil, fmt.Errorf("session: decode prefs: %w", err)
			}
		case strings.HasPrefix(field, redisRLPrefix):
			var w RateWindow
			if err := json.Unmarshal([]byte(raw), &w); err != nil {
				return nil, fmt.Errorf("session: decode rate window: %w", err)
			}
			if out.RateLimits == nil {
				out.RateLimits = make(map[string]RateWindow)
			}
			out.RateLimits[strings.TrimPrefix(field, redisRLPrefix)] = w
		}
	}
	return out, nil
}

func (s *redisStore) setField(ctx context.Context, chatID int64, field string, value interface{}) error {
	key := redisKey(chatID)
	if value == nil {
		if err := s.rdb.HDel(ctx, key, field).Err(); err != nil {
			return unavailable(err)
		}
		s.touch(ctx, key)
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", field, err)
	}
	if err := s.rdb.HSet(ctx, key, field, string(raw)).Err(); err != nil {
		return unavailable(err)
	}
	s.touch(ctx, key)
	return nil
}

func (s *redisStore) PutAuth(ctx context.Context, chatID int64, auth *AuthState) error {
	if auth == nil {
		return s.setField(ctx, chatID, redisFieldAuth, nil)
	}
	return s.setField(ctx, chatID, redisFieldAuth, auth)
}

func (s *redisStore) ClearAuth(ctx context.Context, chatID int64) error {
	return s.setField(ctx, chatID, redisFieldAuth, nil)
}

func (s *redisStore) PutScene(ctx context.Context, chatID int64, scene *SceneState) error {
	if scene == nil {
		return s.setField(ctx, chatID, redisFieldScene, nil)
	}
	return s.setField(ctx, chatID, redisFieldScene, scene)
}

func (s *redisStore) ClearScene(ctx context.Context, chatID int64) error {
	return s.setField(ctx, chatID, redisFieldScene, nil)
}

func (s *redisStore) PutRateWindow(ctx context.Context, chatID int64, key string, w RateWindow) error {
	return s.setField(ctx, chatID, redisRLPrefix+key, w)
}

func (s *redisStore) DeleteRateWindow(ctx context.Context, chatID int64, key string) error {
	return s.setField(ctx, chatID, redisRLPrefix+key, nil)
}

func (s *redisStore) ClearRateWindows(ctx context.Context, chatID int64) error {
	key := redisKey(chatID)
	fields, err := s.rdb.HKeys(ctx, key).Result()
	if err != nil {
		return unavailable(err)
	}
	var rl []string
	for _, f := range fields {
		if strings.HasPrefix(f, redisRLPrefix) {
			rl = append(rl, f)
		}
	}
	if len(rl) == 0 {
		return nil
	}
	if err := s.rdb.HDel(ctx, key, rl...).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *redisStore) PutPrefs(ctx context.Context, chatID int64, prefs *Preferences) error {
	if prefs == nil {
		return s.setField(ctx, chatID, redisFieldPrefs, nil)
	}
	return s.setField(ctx, chatID, redisFieldPrefs, prefs)
}

func (s *redisStore) Authenticated(ctx context.Context) ([]*Session, error) {
	var out []*Session
	iter := s.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		chatID, err := strconv.ParseInt(strings.TrimPrefix(iter.Val(), redisKeyPrefix), 10, 64)
		if err != nil {
			continue
		}
		sess, err := s.Get(ctx, chatID)
		if err != nil {
			return nil, err
		}
		if sess.Auth != nil && sess.Auth.ExpiresAt > time.Now().UnixMilli() {
			out = append(out, sess)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *redisStore) Delete(ctx context.Context, chatID int64) error {
	if err := s.rdb.Del(ctx, redisKey(chatID)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
