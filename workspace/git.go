package workspace

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DefikitTeam/claude-code-container/errors"
)

// GitResult is the outcome of one git subprocess invocation. Git failures
// are data, not exceptions: callers branch on the exit code. Only a missing
// git executable escalates to an error.
type GitResult struct {
	Code   int
	Stdout string
	Stderr string
}

// OK reports a zero exit code.
func (r GitResult) OK() bool { return r.Code == 0 }

// GitInfo is the repository metadata attached to a workspace descriptor.
type GitInfo struct {
	CurrentBranch         string `json:"currentBranch"`
	HasUncommittedChanges bool   `json:"hasUncommittedChanges"`
	RemoteURL             string `json:"remoteUrl,omitempty"`
	LastCommit            string `json:"lastCommit,omitempty"`
}

// RepoOptions configures repository reconciliation.
type RepoOptions struct {
	DefaultBranch string
	CloneURL      string
}

// gitRunner wraps git subprocess invocations with a bounded wall-clock
// timeout per command.
type gitRunner struct {
	timeout time.Duration
	logger  *zap.Logger
}

// run executes git with the given arguments in dir. The returned error is
// non-nil only for an ENOENT-class failure (git executable missing), which
// is fatal for the calling operation. Every other failure, including a
// timeout, is reported through the GitResult.
func (g *gitRunner) run(ctx context.Context, dir string, args ...string) (GitResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := GitResult{
		Stdout: stdout.String(),
		Stderr: strings.TrimSpace(stderr.String()),
	}

	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, exec.ErrNotFound):
		return res, errors.NewCoded(errors.CodeGitUnavailable, "git executable not found")
	case runCtx.Err() == context.DeadlineExceeded:
		// Distinct from process-not-found: the command existed but overran
		// its budget and was force-terminated.
		res.Code = -1
		res.Stderr = "git " + strings.Join(args, " ") + " timed out after " + g.timeout.String()
		g.logger.Warn("git command timed out", zap.Strings("args", args), zap.String("dir", dir))
		return res, nil
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.Code = exitErr.ExitCode()
			return res, nil
		}
		res.Code = -1
		if res.Stderr == "" {
			res.Stderr = err.Error()
		}
		return res, nil
	}
}

// EnsureRepo reconciles the git state of path. Clone and pull are mutually
// exclusive per invocation: pull runs only when .git already exists (and the
// workspace is persistent), clone only when it does not. A failed pull is
// logged, never fatal; a failed clone falls through to init.
func (g *gitRunner) EnsureRepo(ctx context.Context, path string, opts RepoOptions, persistent bool) error {
	hasGit := dirExists(filepath.Join(path, ".git"))

	if hasGit {
		if persistent && opts.DefaultBranch != "" {
			res, err := g.run(ctx, path, "pull", "--ff-only", "origin", opts.DefaultBranch)
			if err != nil {
				return err
			}
			if !res.OK() {
				g.logger.Warn("fast-forward pull failed",
					zap.String("path", path),
					zap.String("stderr", res.Stderr))
			}
		}
		return nil
	}

	if opts.CloneURL != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return errors.Wrapf(err, "could not create workspace parent directory")
		}
		res, err := g.run(ctx, filepath.Dir(path), "clone", "--depth", "1", opts.CloneURL, path)
		if err != nil {
			return err
		}
		if res.OK() {
			return nil
		}
		g.logger.Warn("shallow clone failed, falling back to init",
			zap.String("cloneUrl", opts.CloneURL),
			zap.String("stderr", res.Stderr))
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return errors.Wrapf(err, "could not create workspace directory %s", path)
	}
	res, err := g.run(ctx, path, "init")
	if err != nil {
		return err
	}
	if !res.OK() {
		return errors.New("git init failed in %s: %s", path, res.Stderr)
	}
	if opts.DefaultBranch != "" {
		res, err := g.run(ctx, path, "checkout", "-b", opts.DefaultBranch)
		if err != nil {
			return err
		}
		if !res.OK() {
			g.logger.Warn("default branch checkout failed",
				zap.String("branch", opts.DefaultBranch),
				zap.String("stderr", res.Stderr))
		}
	}
	return nil
}

// ResolveBranch checks out branch in the repository at path, falling back
// through: baseline checkout of the default branch, tracking the remote
// branch, checking out a pre-existing local branch, and finally creating the
// branch fresh.
func (g *gitRunner) ResolveBranch(ctx context.Context, path, branch, defaultBranch string) error {
	if branch == "" || branch == defaultBranch {
		return nil
	}

	if res, err := g.run(ctx, path, "checkout", defaultBranch); err != nil {
		return err
	} else if !res.OK() {
		g.logger.Debug("baseline default branch checkout failed",
			zap.String("branch", defaultBranch),
			zap.String("stderr", res.Stderr))
	}

	if res, err := g.run(ctx, path, "fetch", "origin"); err != nil {
		return err
	} else if res.OK() {
		res, err := g.run(ctx, path, "checkout", "-b", branch, "--track", "origin/"+branch)
		if err != nil {
			return err
		}
		if res.OK() {
			return nil
		}
	}

	res, err := g.run(ctx, path, "checkout", branch)
	if err != nil {
		return err
	}
	if res.OK() {
		return nil
	}

	res, err = g.run(ctx, path, "checkout", "-b", branch)
	if err != nil {
		return err
	}
	if !res.OK() {
		return errors.New("could not resolve branch %s: %s", branch, res.Stderr)
	}
	return nil
}

// CollectInfo gathers repository metadata for path. A path without a .git
// directory yields (nil, nil), never an error. With full=false only the
// branch and dirty flag are gathered.
func (g *gitRunner) CollectInfo(ctx context.Context, path string, full bool) (*GitInfo, error) {
	if !dirExists(filepath.Join(path, ".git")) {
		return nil, nil
	}

	info := &GitInfo{}

	res, err := g.run(ctx, path, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, err
	}
	if res.OK() {
		info.CurrentBranch = strings.TrimSpace(res.Stdout)
	}

	res, err = g.run(ctx, path, "status", "--porcelain=v1")
	if err != nil {
		return nil, err
	}
	if res.OK() {
		info.HasUncommittedChanges = strings.TrimSpace(res.Stdout) != ""
	}

	if full {
		res, err = g.run(ctx, path, "remote", "get-url", "origin")
		if err != nil {
			return nil, err
		}
		if res.OK() {
			info.RemoteURL = strings.TrimSpace(res.Stdout)
		}

		res, err = g.run(ctx, path, "log", "-1", "--pretty=%s")
		if err != nil {
			return nil, err
		}
		if res.OK() {
			info.LastCommit = strings.TrimSpace(res.Stdout)
		}
	}

	return info, nil
}

func dirExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}
