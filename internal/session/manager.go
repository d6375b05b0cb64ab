package session

import "sync"

// Manager is the concurrency-safe session table. One entry per open event
// stream; liveness is connection-driven, there is no idle reaper.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty session table.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Create registers a new session for the given ID. If the ID is already
// registered the old session is closed and replaced, matching reconnect
// behaviour where the client reuses its session ID.
func (m *Manager) Create(id string, sink EventSink) *Session {
	s := newSession(id, sink)

	m.mu.Lock()
	old := m.sessions[id]
	m.sessions[id] = s
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return s
}

// Get returns the session for the given ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove closes the session and drops it from the table. Removing an
// unknown ID is a no-op. When the table already holds a replacement
// session under the same ID, only the given session is closed.
func (m *Manager) Remove(s *Session) {
	if s == nil {
		return
	}
	m.mu.Lock()
	if m.sessions[s.ID] == s {
		delete(m.sessions, s.ID)
	}
	m.mu.Unlock()
	s.Close()
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
