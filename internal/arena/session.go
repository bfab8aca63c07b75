// Package arena runs debate sessions: it owns the session registry and
// the per-connection controller that pumps audio between the client
// and the live voice backend.
package arena

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/milleriumage/drarena/internal/persona"
)

type Status string

const (
	// StatusConnecting covers the window between the credit debit and
	// the client's websocket attach plus device announce.
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusEnded      Status = "ended"
	StatusError      Status = "error"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrAlreadyAttached = errors.New("session already attached")
)

type Session struct {
	ID               string          `json:"session_id"`
	UserID           string          `json:"user_id"`
	Persona          persona.Persona `json:"persona"`
	Status           Status          `json:"status"`
	RemainingSeconds int             `json:"remaining_seconds"`
	CreditsCost      int             `json:"credits_cost"`
	StartedAt        time.Time       `json:"started_at"`
	LastActivityAt   time.Time       `json:"last_activity_at"`
	attached         bool
}

type Manager struct {
	mu             sync.RWMutex
	sessions       map[string]*Session
	sessionByUser  map[string]string
	attachDeadline time.Duration
	onExpire       func(*Session)
}

// NewManager builds a registry. attachDeadline bounds how long a
// session may sit in connecting before the janitor reaps it.
func NewManager(attachDeadline time.Duration) *Manager {
	if attachDeadline <= 0 {
		attachDeadline = 2 * time.Minute
	}
	return &Manager{
		sessions:       make(map[string]*Session),
		sessionByUser:  make(map[string]string),
		attachDeadline: attachDeadline,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create registers a new session in connecting state. The caller has
// already debited the persona's cost.
func (m *Manager) Create(userID string, p persona.Persona) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:               uuid.NewString(),
		UserID:           userID,
		Persona:          p,
		Status:           StatusConnecting,
		RemainingSeconds: p.DurationSeconds,
		CreditsCost:      p.CreditsCost,
		StartedAt:        now,
		LastActivityAt:   now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	if userID != "" {
		m.sessionByUser[userID] = s.ID
	}
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Attach claims the session for a websocket connection. A session can
// be attached at most once; reconnects go through a fresh session.
func (m *Manager) Attach(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != StatusConnecting {
		return nil, ErrNotFound
	}
	if s.attached {
		return nil, ErrAlreadyAttached
	}
	s.attached = true
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

func (m *Manager) SetActive(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Status = StatusActive
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// SetRemaining records the countdown position so REST reads see it.
func (m *Manager) SetRemaining(sessionID string, seconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.RemainingSeconds = seconds
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// End moves the session to a terminal status. Ending an already ended
// session is a no-op returning the current snapshot.
func (m *Manager) End(sessionID string, status Status) (*Session, error) {
	if status != StatusEnded && status != StatusError {
		status = StatusEnded
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != StatusEnded && s.Status != StatusError {
		s.Status = status
		s.LastActivityAt = time.Now().UTC()
		if s.UserID != "" {
			delete(m.sessionByUser, s.UserID)
		}
	}
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireStale()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

// expireStale reaps sessions stuck in connecting past the attach
// deadline. Active sessions are owned by their controller, which ends
// them itself.
func (m *Manager) expireStale() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Status != StatusConnecting {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.attachDeadline {
			continue
		}
		s.Status = StatusError
		s.LastActivityAt = now
		expired = append(expired, clone(s))
		if s.UserID != "" {
			delete(m.sessionByUser, s.UserID)
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
