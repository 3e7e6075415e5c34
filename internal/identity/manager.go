package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/tars/internal/observability"
	"github.com/ent0n29/tars/internal/reliability"
)

// Bootstrapper obtains a fresh session id from the backend.
type Bootstrapper interface {
	NewSession(ctx context.Context) (string, error)
}

// Viewer shows the current session id.
type Viewer interface {
	SetSessionID(id string)
}

// Manager holds the current session id. It is safe for concurrent use.
type Manager struct {
	store   Store
	boot    Bootstrapper
	viewer  Viewer
	metrics *observability.Metrics
	log     zerolog.Logger

	attempts    int
	backoffBase time.Duration
	backoffCap  time.Duration

	ensureMu sync.Mutex
	mu       sync.RWMutex
	id       string
	loaded   bool
}

type Option func(*Manager)

func WithMetrics(m *observability.Metrics) Option {
	return func(mg *Manager) { mg.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(mg *Manager) { mg.log = l }
}

// WithRetry sets how often a failed bootstrap is retried.
func WithRetry(attempts int, base, cap time.Duration) Option {
	return func(mg *Manager) {
		mg.attempts = attempts
		mg.backoffBase = base
		mg.backoffCap = cap
	}
}

func NewManager(store Store, boot Bootstrapper, viewer Viewer, opts ...Option) *Manager {
	if store == nil {
		store = NewInMemoryStore()
	}
	m := &Manager{
		store:       store,
		boot:        boot,
		viewer:      viewer,
		log:         zerolog.Nop(),
		attempts:    3,
		backoffBase: 200 * time.Millisecond,
		backoffCap:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Current returns the session id without loading or bootstrapping.
func (m *Manager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.id
}

// Ensure returns the session id, loading it from the store or asking the backend for one
// when nothing is stored. When both fail the error wraps ErrNoSession and callers proceed
// without an id; the backend then assigns one on the next reply.
func (m *Manager) Ensure(ctx context.Context) (string, error) {
	m.ensureMu.Lock()
	defer m.ensureMu.Unlock()

	if id := m.Current(); id != "" {
		return id, nil
	}

	m.mu.Lock()
	loaded := m.loaded
	m.loaded = true
	m.mu.Unlock()

	if !loaded {
		id, err := m.store.Load(ctx)
		switch {
		case err == nil:
			m.set(id)
			m.log.Info().Str("sessionId", id).Msg("session id restored")
			return id, nil
		case !errors.Is(err, ErrNoSession):
			m.log.Warn().Err(err).Msg("session store unavailable")
		}
	}

	if m.boot == nil {
		return "", ErrNoSession
	}
	var id string
	err := reliability.Retry(ctx, m.attempts, m.backoffBase, m.backoffCap, func(ctx context.Context) error {
		var err error
		id, err = m.boot.NewSession(ctx)
		return err
	})
	if err != nil {
		m.log.Warn().Err(err).Msg("session bootstrap failed")
		return "", fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	m.Update(id)
	return id, nil
}

// Update adopts a server supplied id. It reports whether the id changed; repeating the
// current id is a no-op, so each new id is applied exactly once.
func (m *Manager) Update(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	m.mu.Lock()
	if id == m.id {
		m.mu.Unlock()
		return false
	}
	m.id = id
	m.loaded = true
	m.mu.Unlock()

	if m.viewer != nil {
		m.viewer.SetSessionID(id)
	}
	m.metrics.ObserveSessionIDUpdate()
	if err := m.store.Save(context.Background(), id); err != nil {
		m.log.Warn().Err(err).Msg("persist session id")
	}
	m.log.Info().Str("sessionId", id).Msg("session id updated")
	return true
}

func (m *Manager) set(id string) {
	m.mu.Lock()
	m.id = id
	m.loaded = true
	m.mu.Unlock()
	if m.viewer != nil {
		m.viewer.SetSessionID(id)
	}
}

func (m *Manager) Close() error { return m.store.Close() }
