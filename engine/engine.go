// Package engine abstracts the external code-generation engine behind a
// narrow contract: execute one prompt, stream message chunks back, return a
// final result. Nothing else about the engine leaks into the core.
package engine

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/DefikitTeam/claude-code-container/errors"
)

// ErrHalted is returned by Execute when the chunk consumer stopped the
// stream early. It is a normal control-flow signal, not a failure.
var ErrHalted = stderrors.New("engine: stream consumption halted")

// Request is one prompt execution.
type Request struct {
	Prompt     string
	Model      string
	WorkingDir string
}

// Chunk is one streamed piece of the engine's response.
type Chunk struct {
	Text string
}

// Result is the terminal outcome of a successful execution.
type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// StreamFunc consumes streamed chunks. Returning a non-nil error stops
// consumption; implementations must not invoke it again afterwards.
type StreamFunc func(Chunk) error

// Gateway executes prompts against an engine. Implementations must respect
// context cancellation and early termination via the StreamFunc.
type Gateway interface {
	Execute(ctx context.Context, req Request, emit StreamFunc) (*Result, error)
}

// Classify maps an engine failure to its stable error code. Auth failures
// and a missing engine are distinguished from genuine internal errors so the
// orchestrator can surface an actionable stopReason.
func Classify(err error) errors.Code {
	if err == nil {
		return ""
	}
	if code := errors.CodeOf(err); code != errors.CodeUnknown && code != "" {
		return code
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid x-api-key"),
		strings.Contains(msg, "api key"),
		strings.Contains(msg, "permission denied"):
		return errors.CodeEngineAuthError
	case strings.Contains(msg, "not set"),
		strings.Contains(msg, "executable file not found"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "connection refused"):
		return errors.CodeEngineUnavailable
	default:
		return errors.CodeEngineInternalFailure
	}
}
