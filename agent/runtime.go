// Package agent wires the session, operation, workspace and engine layers
// together and drives one prompt from submission to a terminal state.
package agent

import (
	"go.uber.org/zap"

	"github.com/DefikitTeam/claude-code-container/config"
	"github.com/DefikitTeam/claude-code-container/engine"
	"github.com/DefikitTeam/claude-code-container/errors"
	"github.com/DefikitTeam/claude-code-container/operation"
	"github.com/DefikitTeam/claude-code-container/session"
	"github.com/DefikitTeam/claude-code-container/workspace"
)

// Runtime is the explicitly constructed object holding the process-wide
// session and operation maps. There are no ambient globals: tests construct
// as many independent runtimes as they need.
type Runtime struct {
	Sessions   *session.Manager
	Ops        *operation.Tracker
	Workspaces *workspace.Reconciler
	Gateway    engine.Gateway
	Config     *config.Config
	Logger     *zap.Logger
}

func NewRuntime(cfg *config.Config, store *session.Store, gw engine.Gateway, logger *zap.Logger) *Runtime {
	return &Runtime{
		Sessions:   session.NewManager(store),
		Ops:        operation.NewTracker(),
		Workspaces: workspace.NewReconciler(cfg, logger),
		Gateway:    gw,
		Config:     cfg,
		Logger:     logger,
	}
}

// Cancel cancels one operation, or all of the session's operations when
// operationID is empty, and pauses the session when anything was actually
// cancelled. Cancelling a session with nothing in flight reports false,
// never an error.
func (r *Runtime) Cancel(sessionID, operationID string) (bool, error) {
	if _, err := r.Sessions.Get(sessionID); err != nil {
		return false, err
	}
	cancelled := r.Ops.Cancel(sessionID, operationID)
	if cancelled {
		if err := r.Sessions.SetState(sessionID, session.StatePaused); err != nil {
			return true, err
		}
	}
	return cancelled, nil
}

// CleanupSession removes the session's in-flight operations and its
// ephemeral workspace, if any.
func (r *Runtime) CleanupSession(sessionID string) error {
	r.Ops.Cancel(sessionID, "")
	if err := r.Workspaces.Cleanup(sessionID); err != nil {
		return errors.Wrapf(err, "workspace cleanup for session %s", sessionID)
	}
	return nil
}
