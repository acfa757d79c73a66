// Package prompt assembles bounded-size prompts from labeled segments and
// from structured content blocks.
package prompt

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/DefikitTeam/claude-code-container/session"
)

// DefaultOverheadRatio is the multiplier applied on top of the chars/4
// estimate when no explicit ratio is supplied.
const DefaultOverheadRatio = 1.0

const truncationMarker = "…"

// EstimateTokens estimates the token count of text as ceil(len/4). This is a
// deliberately rough heuristic, not a model-accurate tokenizer: callers may
// rely only on monotonic ordering and on staying within budget, never on
// exact values.
func EstimateTokens(text string) int {
	return EstimateTokensWithRatio(text, DefaultOverheadRatio)
}

// EstimateTokensWithRatio is EstimateTokens with an explicit overhead
// multiplier.
func EstimateTokensWithRatio(text string, overheadRatio float64) int {
	if len(text) == 0 {
		return 0
	}
	if overheadRatio <= 0 {
		overheadRatio = DefaultOverheadRatio
	}
	base := math.Ceil(float64(len(text)) / 4)
	return int(math.Ceil(base * overheadRatio))
}

// Summary is the result of fitting a text into a token budget.
type Summary struct {
	Summary        string
	OriginalTokens int
	Truncated      bool
}

// SummarizeToBudget returns text unchanged when it already fits maxTokens.
// Otherwise it truncates proportionally by character ratio, trims trailing
// whitespace, and appends an ellipsis marker. Truncation is
// character-proportional, not content-aware: no sentence or word boundary is
// preserved. That is a documented limitation of the heuristic.
func SummarizeToBudget(text string, maxTokens int) Summary {
	return SummarizeToBudgetWithRatio(text, maxTokens, DefaultOverheadRatio)
}

// SummarizeToBudgetWithRatio is SummarizeToBudget with an explicit overhead
// multiplier applied to the token estimates.
func SummarizeToBudgetWithRatio(text string, maxTokens int, overheadRatio float64) Summary {
	original := EstimateTokensWithRatio(text, overheadRatio)
	if original <= maxTokens {
		return Summary{Summary: text, OriginalTokens: original}
	}
	if maxTokens < 0 {
		maxTokens = 0
	}
	keep := int(float64(len(text)) * float64(maxTokens) / float64(original))
	if keep > len(text) {
		keep = len(text)
	}
	// The byte cut may land mid-rune; back up to the start of a rune so the
	// summary stays valid UTF-8.
	for keep > 0 && keep < len(text) && !utf8.RuneStart(text[keep]) {
		keep--
	}
	truncated := strings.TrimRight(text[:keep], " \t\n\r")
	return Summary{
		Summary:        truncated + truncationMarker,
		OriginalTokens: original,
		Truncated:      true,
	}
}

// Segment is one labeled piece of a composite prompt. Earlier segments are
// assumed higher priority than later ones.
type Segment struct {
	Label string
	Text  string
}

// AssemblyResult is the outcome of composing a bounded prompt. Derived, not
// persisted.
type AssemblyResult struct {
	Prompt               string
	TotalEstimatedTokens int
	TruncatedSegments    int
}

// BuildCompositePrompt joins segments in order while the accumulated token
// estimate stays within maxTotalTokens. The first segment that would exceed
// the budget is summarized to the remaining budget, appended, and assembly
// stops there: every later segment is dropped. Stopping (rather than skipping
// and continuing) is an ordering contract, since earlier segments carry the
// higher-priority content. A maxTotalTokens of zero or less means unbounded.
func BuildCompositePrompt(segments []Segment, maxTotalTokens int) AssemblyResult {
	return BuildCompositePromptWithRatio(segments, maxTotalTokens, DefaultOverheadRatio)
}

// BuildCompositePromptWithRatio is BuildCompositePrompt with an explicit
// overhead multiplier applied to every token estimate.
func BuildCompositePromptWithRatio(segments []Segment, maxTotalTokens int, overheadRatio float64) AssemblyResult {
	var parts []string
	total := 0
	truncated := 0

	for _, seg := range segments {
		text := seg.Text
		cost := EstimateTokensWithRatio(text, overheadRatio)
		if maxTotalTokens > 0 && total+cost > maxTotalTokens {
			remaining := maxTotalTokens - total
			sum := SummarizeToBudgetWithRatio(text, remaining, overheadRatio)
			parts = append(parts, renderSegment(seg.Label, sum.Summary))
			total += EstimateTokensWithRatio(sum.Summary, overheadRatio)
			truncated++
			break
		}
		parts = append(parts, renderSegment(seg.Label, text))
		total += cost
	}

	return AssemblyResult{
		Prompt:               strings.Join(parts, "\n\n"),
		TotalEstimatedTokens: total,
		TruncatedSegments:    truncated,
	}
}

func renderSegment(label, text string) string {
	if label == "" {
		return text
	}
	return "## " + label + "\n" + text
}

// AgentContext marks a prompt as coming from a specialized sub-agent and
// carries the delegation metadata lines rendered into the preamble.
type AgentContext struct {
	AgentRole       string
	RequestingAgent string
	SubTask         string
}

// ContentRequest carries everything that goes into a rendered prompt.
type ContentRequest struct {
	Blocks        []session.ContentBlock
	ContextFiles  []string
	Agent         *AgentContext
	Session       *session.Session
	WorkspacePath string
}

// ContentSegments renders a content request into ordered labeled segments:
// optional sub-agent preamble, session/workspace metadata, context file list,
// then the content blocks. Block order is preserved; nothing is deduplicated.
func ContentSegments(req ContentRequest) []Segment {
	var segments []Segment

	if req.Agent != nil && req.Agent.AgentRole != "" {
		var b strings.Builder
		fmt.Fprintf(&b, "You are operating as the %q sub-agent.", req.Agent.AgentRole)
		if req.Agent.RequestingAgent != "" {
			fmt.Fprintf(&b, "\nRequesting agent: %s", req.Agent.RequestingAgent)
		}
		if req.Agent.SubTask != "" {
			fmt.Fprintf(&b, "\nSub-task: %s", req.Agent.SubTask)
		}
		segments = append(segments, Segment{Label: "Role", Text: b.String()})
	}

	var meta []string
	if req.WorkspacePath != "" {
		meta = append(meta, "Workspace: "+req.WorkspacePath)
	}
	if req.Session != nil {
		meta = append(meta, "Session mode: "+string(req.Session.Mode))
	}
	if len(meta) > 0 {
		segments = append(segments, Segment{Label: "Environment", Text: strings.Join(meta, "\n")})
	}

	if len(req.ContextFiles) > 0 {
		segments = append(segments, Segment{
			Label: "Context files",
			Text:  strings.Join(req.ContextFiles, "\n"),
		})
	}

	for _, block := range req.Blocks {
		segments = append(segments, Segment{Text: RenderBlock(block)})
	}

	return segments
}

// BuildFromContent renders a content request into a single prompt string
// with no budget applied.
func BuildFromContent(req ContentRequest) string {
	return BuildCompositePrompt(ContentSegments(req), 0).Prompt
}

// RenderBlock renders one content block by its discriminated type. Every
// known kind is handled explicitly; an unrecognized type falls back to the
// raw content field.
func RenderBlock(block session.ContentBlock) string {
	switch block.Type {
	case session.BlockText:
		return block.Text
	case session.BlockFile:
		if block.Content != "" {
			return fmt.Sprintf("File %s:\n%s", block.Path, block.Content)
		}
		return "File: " + block.Path
	case session.BlockDiff:
		if block.Path != "" {
			return fmt.Sprintf("Diff for %s:\n%s", block.Path, block.Diff)
		}
		return "Diff:\n" + block.Diff
	case session.BlockImage:
		return fmt.Sprintf("[image %s, %d bytes base64]", block.MimeType, len(block.Data))
	case session.BlockThought:
		return "Thought: " + block.Text
	case session.BlockError:
		return "Error: " + block.Text
	default:
		return block.Content
	}
}
