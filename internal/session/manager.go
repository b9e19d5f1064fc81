// Package session keeps one preview loader per open viewer.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/doc-organiser/preview-gateway/internal/logging"
	"github.com/doc-organiser/preview-gateway/internal/metrics"
	"github.com/doc-organiser/preview-gateway/internal/models"
	"github.com/doc-organiser/preview-gateway/internal/preview"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxSessions bounds the number of open viewers.
const DefaultMaxSessions = 200

// SessionKeepAliveWindow protects recently used sessions from cleanup.
const SessionKeepAliveWindow = 5 * time.Minute

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("preview session not found")

// Info is the externally visible part of a session.
type Info struct {
	ID           string        `json:"id" msgpack:"id"`
	State        preview.State `json:"state" msgpack:"state"`
	CreatedAt    time.Time     `json:"createdAt" msgpack:"createdAt"`
	LastAccessed time.Time     `json:"lastAccessed" msgpack:"lastAccessed"`
}

type sessionState struct {
	id           string
	loader       *preview.Loader
	cancel       context.CancelFunc
	createdAt    time.Time
	lastAccessed time.Time
}

func (s *sessionState) info() Info {
	return Info{
		ID:           s.id,
		State:        s.loader.State(),
		CreatedAt:    s.createdAt,
		LastAccessed: s.lastAccessed,
	}
}

// Manager owns the preview sessions.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*sessionState
	svc         *preview.Service
	maxSessions int
	logger      *zap.Logger
}

// NewManager creates a manager. maxSessions <= 0 uses DefaultMaxSessions.
func NewManager(svc *preview.Service, maxSessions int, logger *zap.Logger) *Manager {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Manager{
		sessions:    make(map[string]*sessionState),
		svc:         svc,
		maxSessions: maxSessions,
		logger:      logging.Component(logger, "session"),
	}
}

// Create opens a session and, if doc is given, starts loading it. When the
// manager is full the least recently used session is closed first.
func (m *Manager) Create(doc *models.Document) Info {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	s := &sessionState{
		id:           uuid.New().String(),
		loader:       m.svc.NewLoader(ctx),
		cancel:       cancel,
		createdAt:    now,
		lastAccessed: now,
	}
	if doc != nil {
		s.loader.Open(*doc)
	}

	m.mu.Lock()
	m.evictIfNeededLocked()
	m.sessions[s.id] = s
	metrics.PreviewSessionsActive.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	m.logger.Debug("preview session opened", zap.String("sessionId", logging.ShortID(s.id)))
	return s.info()
}

func (m *Manager) evictIfNeededLocked() {
	if len(m.sessions) < m.maxSessions {
		return
	}

	oldest := make([]*sessionState, 0, len(m.sessions))
	for _, s := range m.sessions {
		oldest = append(oldest, s)
	}
	sort.Slice(oldest, func(i, j int) bool {
		return oldest[i].lastAccessed.Before(oldest[j].lastAccessed)
	})

	toFree := len(m.sessions) - m.maxSessions + 1
	for _, s := range oldest[:toFree] {
		m.closeLocked(s)
		m.logger.Info("evicted preview session to stay under limit", zap.String("sessionId", logging.ShortID(s.id)))
	}
}

func (m *Manager) closeLocked(s *sessionState) {
	s.loader.Close()
	s.cancel()
	delete(m.sessions, s.id)
	metrics.PreviewSessionsActive.Set(float64(len(m.sessions)))
}

func (m *Manager) touch(id string) (*sessionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	s.lastAccessed = time.Now()
	return s, true
}

// Get returns the session's current state.
func (m *Manager) Get(id string) (Info, bool) {
	s, ok := m.touch(id)
	if !ok {
		return Info{}, false
	}
	return s.info(), true
}

// Open switches the session to doc. Whatever was loading is discarded.
func (m *Manager) Open(id string, doc models.Document) (Info, error) {
	s, ok := m.touch(id)
	if !ok {
		return Info{}, ErrSessionNotFound
	}
	s.loader.Open(doc)
	return s.info(), nil
}

// Retry starts a fresh load of the session's document.
func (m *Manager) Retry(id string) (Info, error) {
	s, ok := m.touch(id)
	if !ok {
		return Info{}, ErrSessionNotFound
	}
	if err := s.loader.Retry(); err != nil {
		return Info{}, err
	}
	return s.info(), nil
}

// Wait blocks until the session's current load settles or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (Info, error) {
	s, ok := m.touch(id)
	if !ok {
		return Info{}, ErrSessionNotFound
	}
	if _, err := s.loader.Wait(ctx); err != nil {
		return s.info(), err
	}
	return s.info(), nil
}

// Touch keeps a session alive.
func (m *Manager) Touch(id string) bool {
	_, ok := m.touch(id)
	return ok
}

// Close ends a session and discards any in-flight load.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	m.closeLocked(s)
	return true
}

// CloseAll ends every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		m.closeLocked(s)
	}
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupIdle closes sessions not used for maxIdle. Sessions touched within
// SessionKeepAliveWindow always survive.
func (m *Manager) CleanupIdle(maxIdle time.Duration) int {
	if maxIdle < SessionKeepAliveWindow {
		maxIdle = SessionKeepAliveWindow
	}
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, s := range m.sessions {
		if s.lastAccessed.Before(cutoff) {
			m.closeLocked(s)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("cleaned up idle preview sessions", zap.Int("removed", removed))
	}
	return removed
}

// StartCleanup runs CleanupIdle every interval until ctx is done.
func (m *Manager) StartCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CleanupIdle(maxIdle)
			case <-ctx.Done():
				return
			}
		}
	}()
}
