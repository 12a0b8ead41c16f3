package scan

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrSessionNotFound is returned for an unknown or expired session id
var ErrSessionNotFound = errors.New("session not found")

// DefaultIdleTimeout cancels sessions nobody has touched for this long
const DefaultIdleTimeout = 15 * time.Minute

// Manager keeps the live sessions of a host serving many caregivers
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	idle     time.Duration
	now      func() time.Time
	logger   *zap.Logger

	// OnExpire is called for every session the sweep cancels
	OnExpire func(*Session)
}

// NewManager creates a session registry
func NewManager(idle time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &Manager{
		sessions: make(map[string]*Session),
		idle:     idle,
		now:      time.Now,
		logger:   logger,
	}
}

// Open registers a new session
func (m *Manager) Open(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = m.now
	}
	s := NewSession(cfg, m.logger)
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	m.logger.Debug("session opened", zap.String("session_id", s.ID()))
	return s
}

// OpenAs registers a session under a caller-chosen key, cancelling any
// session already held under it.
func (m *Manager) OpenAs(key string, cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = m.now
	}
	s := newSession(key, cfg, m.logger)

	m.mu.Lock()
	prev := m.sessions[key]
	m.sessions[key] = s
	m.mu.Unlock()

	if prev != nil {
		_ = prev.Cancel()
	}
	return s
}

// GetOrOpen returns the live session held under key, or registers a new one
// when there is none or the held one has finished. The lookup and the
// registration happen under one lock, so concurrent callers for the same key
// share a session. opened reports whether a new session was registered.
func (m *Manager) GetOrOpen(key string, cfg Config) (s *Session, opened bool) {
	if cfg.Clock == nil {
		cfg.Clock = m.now
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.sessions[key]; cur != nil && !cur.Mode().Terminal() {
		return cur, false
	}
	s = newSession(key, cfg, m.logger)
	m.sessions[key] = s
	return s, true
}

// Get returns a registered session
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove drops a session from the registry without changing it
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Len returns the number of registered sessions
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops every session idle past the timeout, cancelling the ones still
// in progress. It returns how many sessions were removed.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.idle)

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		if err := s.Cancel(); err == nil {
			m.logger.Info("idle session expired", zap.String("session_id", s.ID()))
			if m.OnExpire != nil {
				m.OnExpire(s)
			}
		}
	}
	return len(expired)
}

// Run sweeps on every interval until the context is cancelled
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("session sweep", zap.Int("removed", n))
			}
		}
	}
}
