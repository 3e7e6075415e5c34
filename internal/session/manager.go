// Package session tracks chat backend sessions and expires idle ones.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("session not found")

type Session struct {
	ID             string    `json:"session_id"`
	Status         Status    `json:"status"`
	ActiveTurnID   string    `json:"active_turn_id"`
	TurnCount      int       `json:"turn_count"`
	History        []Message `json:"history"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Message is one exchange entry kept for the backend's conversational context.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.createLocked(uuid.NewString()))
}

// Resolve returns the active session for id. Unknown or ended ids get a fresh session under
// the same id; an empty id gets a new one. created reports whether a session was started.
func (m *Manager) Resolve(id string) (s *Session, created bool) {
	id = strings.TrimSpace(id)
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != "" {
		if cur, ok := m.sessions[id]; ok && cur.Status == StatusActive {
			return clone(cur), false
		}
	} else {
		id = uuid.NewString()
	}
	return clone(m.createLocked(id)), true
}

func (m *Manager) createLocked(id string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             id,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}
	m.sessions[id] = s
	return s
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

// StartTurn records the user's message and marks a reply in progress.
func (m *Manager) StartTurn(sessionID, turnID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.ActiveTurnID = turnID
	s.TurnCount++
	s.History = append(s.History, Message{Role: "user", Text: message})
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// EndTurn records the reply and clears the active turn.
func (m *Manager) EndTurn(sessionID, reply string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.ActiveTurnID = ""
	s.History = append(s.History, Message{Role: "assistant", Text: reply})
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.ActiveTurnID = ""
	s.LastActivityAt = time.Now().UTC()
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
				m.expireInactive()
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

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Status != StatusActive || s.ActiveTurnID != "" {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.LastActivityAt = now
		expired = append(expired, clone(s))
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
	c.History = append([]Message(nil), s.History...)
	return &c
}
