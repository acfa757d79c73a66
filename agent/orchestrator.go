package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/DefikitTeam/claude-code-container/engine"
	"github.com/DefikitTeam/claude-code-container/errors"
	"github.com/DefikitTeam/claude-code-container/prompt"
	"github.com/DefikitTeam/claude-code-container/session"
)

// Progress statuses carried on session/update notifications.
const (
	StatusPreparing = "preparing"
	StatusExecuting = "executing"
	StatusChunk     = "chunk"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusError     = "error"
)

// Stop reasons for a finished prompt.
const (
	StopCompleted = "completed"
	StopCancelled = "cancelled"
	StopError     = "error"
)

// summaryBudget bounds the outcome summary attached to a completed prompt.
const summaryBudget = 64

// Update is one progress notification for an in-flight prompt.
type Update struct {
	Status   string
	Message  string
	Progress float64
}

// NotifyFunc receives progress updates. Delivery is fire-and-forget.
type NotifyFunc func(Update)

// PromptRequest is one submitted prompt for a session.
type PromptRequest struct {
	OperationID  string
	Blocks       []session.ContentBlock
	ContextFiles []string
	Agent        *prompt.AgentContext
	Branch       string
	Model        string
}

// Outcome is the terminal state of a prompt. Cancellation is a normal
// outcome, never an error.
type Outcome struct {
	StopReason   string
	ErrorCode    errors.Code
	ErrorMessage string
	Summary      string
	InputTokens  int
	OutputTokens int
}

// RunPrompt drives one prompt through preparing -> executing -> terminal.
// The operation's cancellation token is checked at three suspension points:
// before invoking the engine and after each streamed chunk; in between,
// cancellation cannot interrupt the engine mid-flight. The tracker entry is
// removed on every exit path.
func (r *Runtime) RunPrompt(ctx context.Context, sess *session.Session, req PromptRequest, notify NotifyFunc) Outcome {
	token := r.Ops.Start(sess.ID, req.OperationID)
	defer r.Ops.Complete(sess.ID, req.OperationID)

	// History records the submission, not the outcome: it is appended in
	// arrival order before anything can fail.
	if _, err := r.Sessions.Append(sess.ID, req.Blocks); err != nil {
		return r.fail(notify, err, errors.CodeUnknown)
	}

	notify(Update{Status: StatusPreparing})

	desc, err := r.Workspaces.Prepare(ctx, sess.ID, sess.WorkspaceURI, true, sess.Options.EnableGitOps)
	if err != nil {
		return r.fail(notify, err, errors.CodeOf(err))
	}

	if req.Branch != "" && sess.Options.EnableGitOps {
		if err := r.Workspaces.CheckoutBranch(ctx, sess.ID, req.Branch); err != nil {
			return r.fail(notify, err, errors.CodeOf(err))
		}
	}

	asm := prompt.BuildCompositePromptWithRatio(prompt.ContentSegments(prompt.ContentRequest{
		Blocks:        req.Blocks,
		ContextFiles:  r.Workspaces.FilterContextFiles(req.ContextFiles),
		Agent:         req.Agent,
		Session:       sess,
		WorkspacePath: desc.Path,
	}), r.Config.Prompt.MaxTokens, r.Config.Prompt.OverheadRatio)
	if asm.TruncatedSegments > 0 {
		r.Logger.Debug("prompt truncated to budget",
			zap.String("sessionId", sess.ID),
			zap.Int("estimatedTokens", asm.TotalEstimatedTokens),
			zap.Int("truncatedSegments", asm.TruncatedSegments))
	}

	if token.Cancelled() {
		return r.cancelled(notify)
	}

	notify(Update{Status: StatusExecuting})

	var lastChunk string
	result, err := r.Gateway.Execute(ctx, engine.Request{
		Prompt:     asm.Prompt,
		Model:      req.Model,
		WorkingDir: desc.Path,
	}, func(chunk engine.Chunk) error {
		if token.Cancelled() {
			return engine.ErrHalted
		}
		lastChunk = chunk.Text
		notify(Update{Status: StatusChunk, Message: chunk.Text})
		return nil
	})
	if errors.Is(err, engine.ErrHalted) {
		return r.cancelled(notify)
	}
	if err != nil {
		return r.fail(notify, err, engine.Classify(err))
	}

	if token.Cancelled() {
		return r.cancelled(notify)
	}

	notify(Update{Status: StatusCompleted, Progress: 1})
	return Outcome{
		StopReason:   StopCompleted,
		Summary:      prompt.SummarizeToBudget(lastChunk, summaryBudget).Summary,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
	}
}

func (r *Runtime) cancelled(notify NotifyFunc) Outcome {
	notify(Update{Status: StatusCancelled})
	return Outcome{StopReason: StopCancelled}
}

func (r *Runtime) fail(notify NotifyFunc, err error, code errors.Code) Outcome {
	if code == "" {
		code = errors.CodeUnknown
	}
	r.Logger.Warn("prompt failed", zap.String("errorCode", string(code)), zap.Error(err))
	notify(Update{Status: StatusError, Message: err.Error()})
	return Outcome{
		StopReason:   StopError,
		ErrorCode:    code,
		ErrorMessage: err.Error(),
	}
}
