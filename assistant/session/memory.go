package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	session   *Session
	expiresAt time.Time
}

type memoryStore struct {
	mu      sync.RWMutex
	entries map[int64]*memoryEntry
	ttl     time.Duration
	done    chan struct{}
	once    sync.Once
}

// NewMemoryStore constructs an in-memory Store with TTL-based eviction.
// A zero ttl disables eviction. Suitable for tests and single-instance bots.
func NewMemoryStore(ttl time.Duration) Store {
	m := &memoryStore{
		entries: make(map[int64]*memoryEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	if ttl > 0 {
		go m.janitor()
	}
	return m
}

func (m *memoryStore) janitor() {
	interval := m.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			for id, e := range m.entries {
				if now.After(e.expiresAt) {
					delete(m.entries, id)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Close stops the eviction janitor.
func (m *memoryStore) Close() {
	m.once.Do(func() { close(m.done) })
}

func (m *memoryStore) touch(e *memoryEntry) {
	e.session.UpdatedAt = time.Now()
	if m.ttl > 0 {
		e.expiresAt = time.Now().Add(m.ttl)
	}
}

// entry returns the live record, creating it when absent or expired.
// Callers must hold the write lock.
func (m *memoryStore) entry(chatID int64) *memoryEntry {
	e, ok := m.entries[chatID]
	if ok && m.ttl > 0 && time.Now().After(e.expiresAt) {
		delete(m.entries, chatID)
		ok = false
	}
	if !ok {
		e = &memoryEntry{session: &Session{ChatID: chatID}}
		m.entries[chatID] = e
	}
	m.touch(e)
	return e
}

func (m *memoryStore) Get(_ context.Context, chatID int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entry(chatID).session.Clone(), nil
}

func (m *memoryStore) Authenticated(_ context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	var out []*Session
	for _, e := range m.entries {
		if m.ttl > 0 && now.After(e.expiresAt) {
			continue
		}
		if e.session.Auth == nil || e.session.Auth.ExpiresAt <= now.UnixMilli() {
			continue
		}
		out = append(out, e.session.Clone())
	}
	return out, nil
}

func (m *memoryStore) PutAuth(_ context.Context, chatID int64, auth *AuthState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(chatID)
	if auth == nil {
		e.session.Auth = nil
		return nil
	}
	copied := *auth
	e.session.Auth = &copied
	return nil
}

func (m *memoryStore) ClearAuth(ctx context.Context, chatID int64) error {
	return m.PutAuth(ctx, chatID, nil)
}

func (m *memoryStore) PutScene(_ context.Context, chatID int64, scene *SceneState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(chatID)
	if scene == nil {
		e.session.Scene = nil
		return nil
	}
	copied := *scene
	if scene.Data != nil {
		copied.Data = make(map[string]interface{}, len(scene.Data))
		for k, v := range scene.Data {
			copied.Data[k] = v
		}
	}
	e.session.Scene = &copied
	return nil
}

func (m *memoryStore) ClearScene(ctx context.Context, chatID int64) error {
	return m.PutScene(ctx, chatID, nil)
}

func (m *memoryStore) PutRateWindow(_ context.Context, chatID int64, key string, w RateWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(chatID)
	if e.session.RateLimits == nil {
		e.session.RateLimits = make(map[string]RateWindow)
	}
	e.session.RateLimits[key] = w
	return nil
}

func (m *memoryStore) DeleteRateWindow(_ context.Context, chatID int64, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(chatID)
	delete(e.session.RateLimits, key)
	return nil
}

func (m *memoryStore) ClearRateWindows(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(chatID).session.RateLimits = nil
	return nil
}

func (m *memoryStore) PutPrefs(_ context.Context, chatID int64, prefs *Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(chatID)
	if prefs == nil {
		e.session.Prefs = nil
		return nil
	}
	copied := *prefs
	e.session.Prefs = &copied
	return nil
}

func (m *memoryStore) Delete(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, chatID)
	return nil
}
