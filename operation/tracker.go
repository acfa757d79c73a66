// Package operation tracks in-flight cancellable units of work, one per
// submitted prompt, scoped to a session.
package operation

import (
	"sync"
	"sync/atomic"
)

// Token is a cooperative cancellation flag. Cancelling only flips the flag;
// the owner of the operation must check it at its suspension points and
// unwind on its own.
type Token struct {
	cancelled atomic.Bool
}

// Cancel flips the cancelled flag. Idempotent.
func (t *Token) Cancel() { t.cancelled.Store(true) }

// Cancelled reports whether cancellation was requested.
func (t *Token) Cancelled() bool { return t.cancelled.Load() }

// Tracker is the per-session registry of live operations, keyed by
// (sessionID, operationID). At most one live entry exists per key, and an
// entry is removed exactly once: on explicit cancellation or on completion.
type Tracker struct {
	mu  sync.Mutex
	ops map[string]map[string]*Token
}

func NewTracker() *Tracker {
	return &Tracker{ops: make(map[string]map[string]*Token)}
}

// Start registers an operation and returns its cancellation token.
func (tr *Tracker) Start(sessionID, operationID string) *Token {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	byOp, ok := tr.ops[sessionID]
	if !ok {
		byOp = make(map[string]*Token)
		tr.ops[sessionID] = byOp
	}
	token := &Token{}
	byOp[operationID] = token
	return token
}

// Cancel cancels one operation, or every live operation for the session when
// operationID is empty. Returns true iff at least one operation was
// cancelled; cancelling an absent key is a no-op, never an error.
func (tr *Tracker) Cancel(sessionID, operationID string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	byOp, ok := tr.ops[sessionID]
	if !ok {
		return false
	}
	if operationID != "" {
		token, ok := byOp[operationID]
		if !ok {
			return false
		}
		token.Cancel()
		delete(byOp, operationID)
		if len(byOp) == 0 {
			delete(tr.ops, sessionID)
		}
		return true
	}
	cancelled := false
	for id, token := range byOp {
		token.Cancel()
		delete(byOp, id)
		cancelled = true
	}
	delete(tr.ops, sessionID)
	return cancelled
}

// Complete removes the tracking entry for a finished operation. Safe to call
// after the entry was already removed by Cancel.
func (tr *Tracker) Complete(sessionID, operationID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	byOp, ok := tr.ops[sessionID]
	if !ok {
		return
	}
	delete(byOp, operationID)
	if len(byOp) == 0 {
		delete(tr.ops, sessionID)
	}
}

// HasActive reports whether the session has any live operations.
func (tr *Tracker) HasActive(sessionID string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.ops[sessionID]) > 0
}
