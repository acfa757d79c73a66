package session

import (
	"time"
)

type Mode string

const (
	ModeDevelopment  Mode = "development"
	ModeConversation Mode = "conversation"
)

type State string

const (
	StateActive State = "active"
	StatePaused State = "paused"
)

// Content block kinds. Anything else is rendered through the catch-all path.
const (
	BlockText    = "text"
	BlockFile    = "file"
	BlockDiff    = "diff"
	BlockImage   = "image"
	BlockThought = "thought"
	BlockError   = "error"
)

// ContentBlock is one element of a prompt submission, discriminated by Type.
// Unknown types are preserved as-is; the renderer falls back to the raw
// Content field for them.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Path     string `json:"path,omitempty"`
	Diff     string `json:"diff,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Content  string `json:"content,omitempty"`
}

// PromptRecord is one submitted content-block batch. History is append-only;
// nothing in this system reorders or truncates it.
type PromptRecord struct {
	Blocks      []ContentBlock `json:"blocks"`
	SubmittedAt time.Time      `json:"submittedAt"`
}

type Options struct {
	EnableGitOps   bool `json:"enableGitOps"`
	PersistHistory bool `json:"persistHistory"`
}

// Session is a logical conversation/work context. The ID is immutable after
// creation and globally unique within a process.
type Session struct {
	ID           string         `json:"sessionId"`
	WorkspaceURI string         `json:"workspaceUri,omitempty"`
	Mode         Mode           `json:"mode"`
	State        State          `json:"state"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastActiveAt time.Time      `json:"lastActiveAt"`
	History      []PromptRecord `json:"messageHistory"`
	Options      Options        `json:"sessionOptions"`
}

// Append records a submitted content-block batch and bumps LastActiveAt.
func (s *Session) Append(blocks []ContentBlock, now time.Time) {
	s.History = append(s.History, PromptRecord{Blocks: blocks, SubmittedAt: now})
	s.Touch(now)
}

// Touch bumps LastActiveAt. The timestamp is monotonically non-decreasing:
// a stale clock reading never moves it backwards.
func (s *Session) Touch(now time.Time) {
	if now.After(s.LastActiveAt) {
		s.LastActiveAt = now
	}
}

// clone deep-copies the session, including the history records, so the copy
// can be read without holding the manager lock.
func (s *Session) clone() *Session {
	out := *s
	out.History = make([]PromptRecord, len(s.History))
	for i, rec := range s.History {
		blocks := make([]ContentBlock, len(rec.Blocks))
		copy(blocks, rec.Blocks)
		out.History[i] = PromptRecord{Blocks: blocks, SubmittedAt: rec.SubmittedAt}
	}
	return &out
}
