package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/DefikitTeam/claude-code-container/errors"
)

// Store persists sessions as one JSON file per session, keyed by ID. It is
// independent of the in-memory cache; the Manager decides when to read and
// write through it.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "could not create session directory %s", dir)
	}
	return &Store{dir: dir}, nil
}

func (st *Store) path(id string) string {
	return filepath.Join(st.dir, id+".json")
}

// Load reads a session by ID. An absent session returns (nil, nil); only
// read or parse failures return an error.
func (st *Store) Load(id string) (*Session, error) {
	data, err := os.ReadFile(st.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "could not read session file for %s", id)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "could not parse session file for %s", id)
	}
	return &s, nil
}

// Save writes the session to disk.
func (st *Store) Save(s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to serialize session %s", s.ID)
	}
	if err := os.WriteFile(st.path(s.ID), data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write session %s", s.ID)
	}
	return nil
}

// Delete removes a persisted session. Deleting an absent session is a no-op.
func (st *Store) Delete(id string) error {
	err := os.Remove(st.path(id))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete session %s", id)
	}
	return nil
}

// Exists reports whether a session file is present on disk.
func (st *Store) Exists(id string) bool {
	_, err := os.Stat(st.path(id))
	return err == nil
}

// List returns the IDs of all persisted sessions.
func (st *Store) List() ([]string, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list session directory")
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}
