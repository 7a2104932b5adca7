// Package session keeps the live till sessions. Each session owns its own
// billing engine, so carts never leak between logins.
package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pos/internal/billing"
	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/obs"
)

// ErrNotFound is returned for unknown or expired sessions.
var ErrNotFound = errors.New("session not found")

// Session is one logged-in employee.
type Session struct {
	ID       string
	UserName string
	Role     string
	Engine   *billing.Engine
	Created  time.Time
	LastSeen time.Time
}

// Config configures a Manager.
type Config struct {
	// IdleTTL expires sessions not seen for this long. Zero disables expiry.
	IdleTTL time.Duration
	// NewEngine builds the engine for a new session.
	NewEngine func() *billing.Engine
	Now       func() time.Time
	Logger    zerolog.Logger
}

// Manager maps session IDs to sessions. It is safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	idleTTL   time.Duration
	newEngine func() *billing.Engine
	now       func() time.Time
	logger    zerolog.Logger
}

// NewManager constructs a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.NewEngine == nil {
		return nil, errors.New("session: engine factory is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		sessions:  make(map[string]*Session),
		idleTTL:   cfg.IdleTTL,
		newEngine: cfg.NewEngine,
		now:       now,
		logger:    cfg.Logger,
	}, nil
}

// Create starts a session with an empty cart.
func (m *Manager) Create(userName, role string) *Session {
	now := m.now()
	s := &Session{
		ID:       uuid.NewString(),
		UserName: userName,
		Role:     role,
		Engine:   m.newEngine(),
		Created:  now,
		LastSeen: now,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()
	obs.SetActiveSessions(n)
	return s
}

// Get returns the session and marks it as seen.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	now := m.now()
	if m.expired(s, now) {
		m.drop(id)
		m.mu.Unlock()
		s.Engine.Clear()
		return nil, ErrNotFound
	}
	s.LastSeen = now
	m.mu.Unlock()
	return s, nil
}

// Delete ends the session and clears its cart.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		m.drop(id)
	}
	m.mu.Unlock()
	if ok {
		s.Engine.Clear()
	}
	return ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep removes sessions idle at now and returns how many were removed.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if m.expired(s, now) {
			m.drop(id)
			idle = append(idle, s)
		}
	}
	m.mu.Unlock()
	for _, s := range idle {
		s.Engine.Clear()
	}
	return len(idle)
}

// Run sweeps every interval until ctx is done.
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
			if n := m.Sweep(m.now()); n > 0 {
				m.logger.Info().Int("expired", n).Msg("idle sessions removed")
			}
		}
	}
}

// EngineFor returns the engine of the session named by the request principal.
func (m *Manager) EngineFor(ctx context.Context) (*billing.Engine, error) {
	p, ok := common.PrincipalFrom(ctx)
	if !ok || p.SessionID == "" {
		return nil, common.NewAppError(common.CodeUnauthorized, "session required", http.StatusUnauthorized, nil)
	}
	s, err := m.Get(p.SessionID)
	if err != nil {
		return nil, common.NewAppError(common.CodeUnauthorized, "session expired", http.StatusUnauthorized, err)
	}
	return s.Engine, nil
}

func (m *Manager) expired(s *Session, now time.Time) bool {
	return m.idleTTL > 0 && now.Sub(s.LastSeen) > m.idleTTL
}

// drop requires m.mu. The caller clears the engine after unlocking, since a
// commit in flight holds the engine lock.
func (m *Manager) drop(id string) {
	delete(m.sessions, id)
	obs.SetActiveSessions(len(m.sessions))
}
