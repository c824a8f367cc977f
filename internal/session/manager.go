package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = time.Hour

var ErrSessionNotFound = errors.New("session not found")

// PredictorFactory builds the predictor for a new session. Each session gets
// its own so cached predictions never leak between users.
type PredictorFactory func() (Predictor, error)

// Options configures a Manager
type Options struct {
	Delay time.Duration
	TTL   time.Duration
}

// Manager tracks live sessions by ID
type Manager struct {
	newPredictor PredictorFactory
	opts         Options
	logger       zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty Manager
func NewManager(newPredictor PredictorFactory, opts Options, logger zerolog.Logger) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Manager{
		newPredictor: newPredictor,
		opts:         opts,
		logger:       logger.With().Str("component", "sessions").Logger(),
		sessions:     make(map[string]*Session),
	}
}

// Create starts a new session with a random ID
func (m *Manager) Create() (*Session, error) {
	return m.GetOrCreate(uuid.NewString())
}

// GetOrCreate returns the session for id, creating it if needed. Chat
// surfaces use it with their own stable IDs.
func (m *Manager) GetOrCreate(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s, nil
	}

	p, err := m.newPredictor()
	if err != nil {
		return nil, fmt.Errorf("creating session predictor: %w", err)
	}
	s := New(id, p, m.opts.Delay, m.logger)
	m.sessions[id] = s
	m.logger.Debug().Str("session_id", id).Int("active", len(m.sessions)).Msg("Session created")
	return s, nil
}

// Get looks up a session
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Delete closes and forgets a session
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.Close()
	return nil
}

// TTL is how long an idle session is kept
func (m *Manager) TTL() time.Duration {
	return m.opts.TTL
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep drops sessions idle since before now-TTL and returns how many were removed.
func (m *Manager) Sweep(now time.Time) int {
	cutoff := now.Add(-m.opts.TTL)

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.LastActive().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
	if len(expired) > 0 {
		m.logger.Info().Int("expired", len(expired)).Msg("Expired idle sessions")
	}
	return len(expired)
}

// Run sweeps expired sessions every interval until ctx is done, then closes
// every remaining session.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = m.opts.TTL / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return nil
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
