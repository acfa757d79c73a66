package engine

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/DefikitTeam/claude-code-container/errors"
)

// BedrockGateway executes prompts against Anthropic models on AWS Bedrock.
// Bedrock's InvokeModel is not incremental, so the full response is emitted
// as a single chunk.
type BedrockGateway struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockGateway creates a new BedrockGateway.
// It requires AWS credentials to be configured in the environment.
func NewBedrockGateway(ctx context.Context, modelID string) (*BedrockGateway, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}

	return &BedrockGateway{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

// Execute sends one prompt through InvokeModel using the Anthropic-on-Bedrock
// request shape.
func (b *BedrockGateway) Execute(ctx context.Context, req Request, emit StreamFunc) (*Result, error) {
	modelID := b.modelID
	if req.Model != "" {
		modelID = req.Model
	}

	body, err := json.Marshal(map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        4096,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": []map[string]interface{}{
					{"type": "text", "text": req.Prompt},
				},
			},
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Bedrock request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}

	return parseBedrockResponse(resp.Body, emit)
}

func parseBedrockResponse(body []byte, emit StreamFunc) (*Result, error) {
	var response struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
		Error interface{} `json:"error"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}
	if response.Error != nil {
		return nil, errors.New("Bedrock API error: %v", response.Error)
	}

	var text string
	for _, item := range response.Content {
		if item.Type == "text" {
			text += item.Text
		}
	}
	if text != "" {
		if err := emit(Chunk{Text: text}); err != nil {
			return nil, err
		}
	}

	return &Result{
		Text:         text,
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
	}, nil
}
