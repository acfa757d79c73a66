package engine

import (
	"context"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/DefikitTeam/claude-code-container/errors"
)

// AnthropicGateway executes prompts against the Anthropic Messages API.
type AnthropicGateway struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicGateway creates a new AnthropicGateway.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropicGateway(ctx context.Context, modelName string) (*AnthropicGateway, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.NewCoded(errors.CodeEngineUnavailable, "ANTHROPIC_API_KEY environment variable not set")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &AnthropicGateway{
		client: &client,
		model:  modelName,
	}, nil
}

// Execute streams one prompt through the Messages API, emitting each text
// delta as a chunk.
func (a *AnthropicGateway) Execute(ctx context.Context, req Request, emit StreamFunc) (*Result, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	stream := a.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var acc anthropic.Message
	var text strings.Builder

	for stream.Next() {
		event := stream.Current()
		_ = acc.Accumulate(event)

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				text.WriteString(delta.Text)
				if err := emit(Chunk{Text: delta.Text}); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, errors.Wrapf(err, "anthropic stream failed")
	}

	return &Result{
		Text:         text.String(),
		InputTokens:  int(acc.Usage.InputTokens),
		OutputTokens: int(acc.Usage.OutputTokens),
	}, nil
}
