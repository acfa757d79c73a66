package engine

import (
	"context"
	"os"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/DefikitTeam/claude-code-container/errors"
)

// OpenAIGateway executes prompts against the OpenAI Chat Completion API.
type OpenAIGateway struct {
	client *openai.Client
	model  string
}

// NewOpenAIGateway creates a new OpenAIGateway. It requires the
// OPENAI_API_KEY environment variable to be set, and honors OPENAI_BASE_URL
// for custom API endpoints.
func NewOpenAIGateway(ctx context.Context, modelName string) (*OpenAIGateway, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.NewCoded(errors.CodeEngineUnavailable, "OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	// The v2 SDK uses functional options for configuration.
	c := openai.NewClient(options...)
	return &OpenAIGateway{client: &c, model: modelName}, nil
}

// Execute streams one prompt through the chat completions API, emitting each
// content delta as a chunk.
func (o *OpenAIGateway) Execute(ctx context.Context, req Request, emit StreamFunc) (*Result, error) {
	model := o.model
	if req.Model != "" {
		model = req.Model
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var acc openai.ChatCompletionAccumulator
	var text strings.Builder

	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		text.WriteString(delta)
		if err := emit(Chunk{Text: delta}); err != nil {
			return nil, err
		}
	}
	if err := stream.Err(); err != nil {
		return nil, errors.Wrapf(err, "openai stream failed")
	}

	return &Result{
		Text:         text.String(),
		InputTokens:  int(acc.Usage.PromptTokens),
		OutputTokens: int(acc.Usage.CompletionTokens),
	}, nil
}
