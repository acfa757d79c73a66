package session

import (
	"sync"
	"time"

	"github.com/DefikitTeam/claude-code-container/errors"
	"github.com/google/uuid"
)

// Manager owns the in-memory session cache and coordinates with the Store
// for persistence. All cache mutation happens under a single mutex so reads
// and writes on the same key never interleave.
type Manager struct {
	mu    sync.Mutex
	cache map[string]*Session
	store *Store
	now   func() time.Time
}

func NewManager(store *Store) *Manager {
	return &Manager{
		cache: make(map[string]*Session),
		store: store,
		now:   time.Now,
	}
}

// Create builds a fresh active session with a unique ID. When the session
// opts into history persistence it is durably saved before Create returns.
func (m *Manager) Create(workspaceURI string, mode Mode, opts Options) (*Session, error) {
	if mode == "" {
		mode = ModeDevelopment
	}
	now := m.now()
	s := &Session{
		ID:           uuid.NewString(),
		WorkspaceURI: workspaceURI,
		Mode:         mode,
		State:        StateActive,
		CreatedAt:    now,
		LastActiveAt: now,
		History:      []PromptRecord{},
		Options:      opts,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[s.ID] = s
	if s.Options.PersistHistory {
		if err := m.store.Save(s); err != nil {
			delete(m.cache, s.ID)
			return nil, err
		}
	}
	return s, nil
}

// Get returns the cached session, falling back to a store load on a cache
// miss. A store hit re-populates the cache; this is the only path that
// rehydrates sessions after a process restart. A missing session is a
// SessionNotFound error, never a silently created one.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(id)
}

func (m *Manager) getLocked(id string) (*Session, error) {
	if s, ok := m.cache[id]; ok {
		return s, nil
	}
	s, err := m.store.Load(id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.NewCoded(errors.CodeSessionNotFound, "session %s not found", id)
	}
	m.cache[id] = s
	return s, nil
}

// Snapshot returns a deep copy of the session for readers outside the
// manager lock. Get hands out the live pointer, which is safe only for the
// immutable fields (ID, WorkspaceURI, Mode, Options); anything iterating
// History or reading State must take a snapshot, since a concurrent prompt
// mutates those through Append and SetState.
func (m *Manager) Snapshot(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.getLocked(id)
	if err != nil {
		return nil, err
	}
	return s.clone(), nil
}

// Touch bumps the session's LastActiveAt timestamp.
func (m *Manager) Touch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.getLocked(id)
	if err != nil {
		return err
	}
	s.Touch(m.now())
	return m.persistLocked(s)
}

// SetState transitions the session lifecycle state.
func (m *Manager) SetState(id string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.getLocked(id)
	if err != nil {
		return err
	}
	s.State = state
	s.Touch(m.now())
	return m.persistLocked(s)
}

// Append records a submitted content-block batch on the session history,
// ordered strictly by arrival.
func (m *Manager) Append(id string, blocks []ContentBlock) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.getLocked(id)
	if err != nil {
		return nil, err
	}
	s.Append(blocks, m.now())
	if err := m.persistLocked(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) persistLocked(s *Session) error {
	if !s.Options.PersistHistory {
		return nil
	}
	return m.store.Save(s)
}
