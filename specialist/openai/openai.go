// Package openai adapts OpenAI's chat completion API to the
// specialist.Analyzer interface.
package openai

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/caseflow-go/specialist"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o"

// completionClient is the slice of the chat completion API the analyzer
// uses. It exists so tests can stub the wire call.
type completionClient interface {
	complete(ctx context.Context, model, prompt string) (text string, tokens int, err error)
}

// Analyzer consults a GPT model for case analysis.
//
// Safe for concurrent use; the underlying SDK client handles concurrent
// requests.
type Analyzer struct {
	client completionClient
	name   string
	model  string
}

// New builds a GPT-backed analyzer. name is the specialist identifier used in
// routing and results; model defaults to DefaultModel when empty.
func New(name, apiKey, model string) (*Analyzer, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key cannot be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &Analyzer{
		client: &sdkClient{client: &client},
		name:   name,
		model:  model,
	}, nil
}

// Name implements specialist.Analyzer.
func (a *Analyzer) Name() string {
	return a.name
}

// Analyze implements specialist.Analyzer. JSON mode is requested so the reply
// parses without fence stripping.
func (a *Analyzer) Analyze(ctx context.Context, req specialist.Request) (specialist.Finding, error) {
	if err := ctx.Err(); err != nil {
		return specialist.Finding{}, err
	}

	text, tokens, err := a.client.complete(ctx, a.model, specialist.Prompt(req))
	if err != nil {
		return specialist.Finding{}, specialist.MapAPIError("openai", err)
	}
	if text == "" {
		return specialist.Finding{}, &specialist.Error{
			Code:    "empty_response",
			Message: "openai: empty completion",
		}
	}

	finding, err := specialist.ParseFinding(text)
	if err != nil {
		return specialist.Finding{}, &specialist.Error{
			Code:    "parse_error",
			Message: fmt.Sprintf("openai: %v", err),
		}
	}
	finding.TokensUsed = tokens
	return finding, nil
}

// sdkClient sends completions through the official SDK.
type sdkClient struct {
	client *sdk.Client
}

func (c *sdkClient) complete(ctx context.Context, model, prompt string) (string, int, error) {
	completion, err := c.client.Chat.Completions.New(ctx, sdk.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			{
				OfUser: &sdk.ChatCompletionUserMessageParam{
					Content: sdk.ChatCompletionUserMessageParamContentUnion{
						OfString: sdk.String(prompt),
					},
				},
			},
		},
		ResponseFormat: sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: sdk.Ptr(shared.NewResponseFormatJSONObjectParam()),
		},
		Temperature: sdk.Float(1.0),
	})
	if err != nil {
		return "", 0, err
	}
	if len(completion.Choices) == 0 {
		return "", int(completion.Usage.TotalTokens), nil
	}
	return completion.Choices[0].Message.Content, int(completion.Usage.TotalTokens), nil
}
