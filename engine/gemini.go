package engine

import (
	"context"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/DefikitTeam/claude-code-container/errors"
)

// GeminiGateway executes prompts against the Google Gemini API.
type GeminiGateway struct {
	model *genai.GenerativeModel
}

// NewGeminiGateway creates a new GeminiGateway.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiGateway(ctx context.Context, modelName string) (*GeminiGateway, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.NewCoded(errors.CodeEngineUnavailable, "GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &GeminiGateway{
		model: client.GenerativeModel(modelName),
	}, nil
}

// Execute streams one prompt through GenerateContentStream, emitting each
// text part as a chunk.
func (g *GeminiGateway) Execute(ctx context.Context, req Request, emit StreamFunc) (*Result, error) {
	iter := g.model.GenerateContentStream(ctx, genai.Text(req.Prompt))

	var text strings.Builder
	result := &Result{}

	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "gemini stream failed")
		}
		if resp.UsageMetadata != nil {
			result.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
			result.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
				if err := emit(Chunk{Text: string(t)}); err != nil {
					return nil, err
				}
			}
		}
	}

	result.Text = text.String()
	return result, nil
}
