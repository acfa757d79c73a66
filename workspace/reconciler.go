// Package workspace resolves and reconciles the filesystem working directory
// a session's prompts execute in.
package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/DefikitTeam/claude-code-container/config"
	"github.com/DefikitTeam/claude-code-container/errors"
)

// Descriptor describes one session's prepared working directory. Descriptors
// are owned exclusively by the Reconciler's session-keyed map.
type Descriptor struct {
	SessionID   string    `json:"sessionId"`
	Path        string    `json:"path"`
	IsEphemeral bool      `json:"isEphemeral"`
	CreatedAt   time.Time `json:"createdAt"`
	Git         *GitInfo  `json:"gitInfo,omitempty"`
}

// Reconciler prepares working directories for sessions: a user-supplied path
// when it is accessible, otherwise a deterministic ephemeral directory under
// the configured base path. Git mutation for one session is serialized by a
// per-session lock; the descriptor map itself is guarded separately.
type Reconciler struct {
	mu    sync.Mutex
	byID  map[string]*Descriptor
	locks map[string]*sync.Mutex

	baseDir string
	repo    RepoOptions
	hidden  []string
	git     *gitRunner
	logger  *zap.Logger
}

func NewReconciler(cfg *config.Config, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		byID:    make(map[string]*Descriptor),
		locks:   make(map[string]*sync.Mutex),
		baseDir: cfg.WorkspaceBaseDir,
		repo: RepoOptions{
			DefaultBranch: cfg.Git.DefaultBranch,
			CloneURL:      cfg.Git.CloneURL,
		},
		hidden: cfg.FilesystemAccess.Hidden,
		git:    &gitRunner{timeout: cfg.GitTimeout(), logger: logger},
		logger: logger,
	}
}

func (r *Reconciler) sessionLock(sessionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[sessionID] = lock
	}
	return lock
}

// Prepare resolves the working directory for a session. With reuse=true an
// already-prepared descriptor is returned unchanged. An inaccessible
// workspaceURI degrades to an ephemeral directory rather than failing. Git
// metadata is gathered in full detail only when gitOps is enabled.
func (r *Reconciler) Prepare(ctx context.Context, sessionID, workspaceURI string, reuse, gitOps bool) (*Descriptor, error) {
	lock := r.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if reuse {
		r.mu.Lock()
		existing, ok := r.byID[sessionID]
		r.mu.Unlock()
		if ok {
			return existing, nil
		}
	}

	path, ephemeral, err := r.resolvePath(sessionID, workspaceURI)
	if err != nil {
		return nil, err
	}

	if gitOps {
		if err := r.git.EnsureRepo(ctx, path, r.repo, !ephemeral); err != nil {
			return nil, err
		}
	}

	info, err := r.git.CollectInfo(ctx, path, gitOps)
	if err != nil {
		if gitOps {
			return nil, err
		}
		// Without git ops the metadata is advisory; a missing git binary
		// degrades to no info.
		r.logger.Warn("skipping git metadata", zap.Error(err))
		info = nil
	}

	d := &Descriptor{
		SessionID:   sessionID,
		Path:        path,
		IsEphemeral: ephemeral,
		CreatedAt:   time.Now(),
		Git:         info,
	}

	r.mu.Lock()
	r.byID[sessionID] = d
	r.mu.Unlock()
	return d, nil
}

// resolvePath picks the working directory: the user-supplied path when it is
// read/write accessible, else a fresh ephemeral directory named
// deterministically from the session ID.
func (r *Reconciler) resolvePath(sessionID, workspaceURI string) (string, bool, error) {
	if workspaceURI != "" {
		path := strings.TrimPrefix(workspaceURI, "file://")
		if isReadWriteDir(path) {
			return path, false, nil
		}
		r.logger.Warn("workspace inaccessible, degrading to ephemeral directory",
			zap.String("sessionId", sessionID),
			zap.String("workspaceUri", workspaceURI))
	}

	path := filepath.Join(r.baseDir, "ws-"+sessionID)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", false, errors.Wrapf(err, "could not create ephemeral workspace for %s", sessionID)
	}
	return path, true, nil
}

// CheckoutBranch switches the session's repository to branch via the
// remote/local/create fallback chain.
func (r *Reconciler) CheckoutBranch(ctx context.Context, sessionID, branch string) error {
	lock := r.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	d, ok := r.byID[sessionID]
	r.mu.Unlock()
	if !ok {
		return errors.New("no prepared workspace for session %s", sessionID)
	}
	return r.git.ResolveBranch(ctx, d.Path, branch, r.repo.DefaultBranch)
}

// Descriptor returns the prepared descriptor for a session, if any.
func (r *Reconciler) Descriptor(sessionID string) (*Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[sessionID]
	return d, ok
}

// Cleanup forgets the session's descriptor. Ephemeral directories are
// removed recursively; user-supplied workspaces are never deleted.
func (r *Reconciler) Cleanup(sessionID string) error {
	lock := r.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	d, ok := r.byID[sessionID]
	delete(r.byID, sessionID)
	r.mu.Unlock()

	if !ok || !d.IsEphemeral {
		return nil
	}
	if err := os.RemoveAll(d.Path); err != nil {
		return errors.Wrapf(err, "failed to remove ephemeral workspace %s", d.Path)
	}
	return nil
}

// FilterContextFiles drops paths matching a configured hidden pattern, so
// internal state never leaks into a composed prompt.
func (r *Reconciler) FilterContextFiles(paths []string) []string {
	var out []string
	for _, p := range paths {
		if r.isHidden(p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (r *Reconciler) isHidden(path string) bool {
	for _, pattern := range r.hidden {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			r.logger.Warn("invalid hidden pattern", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		if match {
			return true
		}
	}
	return false
}

// isReadWriteDir probes that path is a directory we can both read and write.
func isReadWriteDir(path string) bool {
	st, err := os.Stat(path)
	if err != nil || !st.IsDir() {
		return false
	}
	probe, err := os.CreateTemp(path, ".ccc-probe-*")
	if err != nil {
		return false
	}
	name := probe.Name()
	probe.Close()
	os.Remove(name)
	return true
}
