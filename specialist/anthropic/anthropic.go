// Package anthropic adapts Anthropic's Claude API to the specialist.Analyzer
// interface.
package anthropic

import (
	"context"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/caseflow-go/specialist"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-3-5-sonnet-20241022"

// consultClient is the slice of the Claude API the analyzer uses. It exists
// so tests can stub the wire call.
type consultClient interface {
	consult(ctx context.Context, model, prompt string) (text string, tokens int, err error)
}

// Analyzer consults a Claude model for case analysis.
//
// Safe for concurrent use; the underlying SDK client handles concurrent
// requests.
type Analyzer struct {
	client consultClient
	name   string
	model  string
}

// New builds a Claude-backed analyzer. name is the specialist identifier used
// in routing and results (for example "criminal_law"); model defaults to
// DefaultModel when empty.
func New(name, apiKey, model string) *Analyzer {
	if model == "" {
		model = DefaultModel
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &Analyzer{
		client: &sdkClient{client: &client},
		name:   name,
		model:  model,
	}
}

// Name implements specialist.Analyzer.
func (a *Analyzer) Name() string {
	return a.name
}

// Analyze implements specialist.Analyzer by sending the consult prompt to the
// configured Claude model and parsing its JSON reply.
func (a *Analyzer) Analyze(ctx context.Context, req specialist.Request) (specialist.Finding, error) {
	if err := ctx.Err(); err != nil {
		return specialist.Finding{}, err
	}

	text, tokens, err := a.client.consult(ctx, a.model, specialist.Prompt(req))
	if err != nil {
		return specialist.Finding{}, specialist.MapAPIError("anthropic", err)
	}

	finding, err := specialist.ParseFinding(text)
	if err != nil {
		return specialist.Finding{}, &specialist.Error{
			Code:    "parse_error",
			Message: fmt.Sprintf("anthropic: %v", err),
		}
	}
	finding.TokensUsed = tokens
	return finding, nil
}

// sdkClient sends consults through the official SDK.
type sdkClient struct {
	client *sdk.Client
}

func (c *sdkClient) consult(ctx context.Context, model, prompt string) (string, int, error) {
	message, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: 2048,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", 0, err
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, int(message.Usage.InputTokens + message.Usage.OutputTokens), nil
}
