package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"signal-insights/internal/data"
)

var ErrNotFound = errors.New("session not found")

// Runner is the refresh loop of one session.
type Runner interface {
	Run(ctx context.Context) error
}

// LoopFactory builds the refresh loop for a new session.
type LoopFactory func(s *Session) Runner

// Manager creates sessions, runs their loops and tears them down.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	defaults data.AcquisitionParameters
	newLoop  LoopFactory
	onClose  []func(id string)
	observe  func(active int)
	log      *slog.Logger
}

type Option func(*Manager)

// WithOnClose registers cleanup run after a session's loop has stopped.
func WithOnClose(fn func(id string)) Option {
	return func(m *Manager) { m.onClose = append(m.onClose, fn) }
}

// WithObserver is told the number of live sessions after every change.
func WithObserver(fn func(active int)) Option {
	return func(m *Manager) { m.observe = fn }
}

func NewManager(defaults data.AcquisitionParameters, newLoop LoopFactory, log *slog.Logger, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		defaults: defaults,
		newLoop:  newLoop,
		observe:  func(int) {},
		log:      log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a new session with the default parameters and its loop.
func (m *Manager) Create() *Session {
	s := newSession(uuid.NewString(), m.defaults, time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	m.mu.Lock()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()
	m.observe(n)

	loop := m.newLoop(s)
	go func() {
		defer close(s.done)
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Error("refresh loop stopped", "session", s.ID, "error", err)
		}
	}()
	m.log.Info("session created", "session", s.ID)
	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// List returns the live sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// Close stops the session's loop, waits for it, and forgets the session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	s.cancel()
	<-s.done
	for _, fn := range m.onClose {
		fn(id)
	}
	m.observe(n)
	m.log.Info("session closed", "session", id)
	return nil
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	for _, s := range m.List() {
		_ = m.Close(s.ID)
	}
}
