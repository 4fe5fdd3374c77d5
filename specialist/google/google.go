// Package google adapts Google's Gemini API to the specialist.Analyzer
// interface.
package google

import (
	"context"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/caseflow-go/specialist"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-1.5-flash"

// generateClient is the slice of the Gemini API the analyzer uses. It
// exists so tests can stub the wire call.
type generateClient interface {
	generate(ctx context.Context, model, prompt string) (text string, tokens int, err error)
}

// Analyzer consults a Gemini model for case analysis.
type Analyzer struct {
	client generateClient
	name   string
	model  string
}

// New builds a Gemini-backed analyzer. If apiKey is empty it falls back to
// the GOOGLE_API_KEY environment variable; model defaults to DefaultModel
// when empty. Call Close when done with the analyzer.
func New(ctx context.Context, name, apiKey, model string) (*Analyzer, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
		if apiKey == "" {
			return nil, &specialist.Error{
				Code:    "missing_api_key",
				Message: "google: API key not provided and GOOGLE_API_KEY not set",
			}
		}
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create google client: %w", err)
	}
	return &Analyzer{
		client: &sdkClient{client: client},
		name:   name,
		model:  model,
	}, nil
}

// Close releases the underlying client.
func (a *Analyzer) Close() error {
	if c, ok := a.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Name implements specialist.Analyzer.
func (a *Analyzer) Name() string {
	return a.name
}

// Analyze implements specialist.Analyzer. A response schema constrains Gemini
// to the finding JSON shape.
func (a *Analyzer) Analyze(ctx context.Context, req specialist.Request) (specialist.Finding, error) {
	if err := ctx.Err(); err != nil {
		return specialist.Finding{}, err
	}

	text, tokens, err := a.client.generate(ctx, a.model, specialist.Prompt(req))
	if err != nil {
		return specialist.Finding{}, specialist.MapAPIError("google", err)
	}

	finding, err := specialist.ParseFinding(text)
	if err != nil {
		return specialist.Finding{}, &specialist.Error{
			Code:    "parse_error",
			Message: fmt.Sprintf("google: %v", err),
		}
	}
	finding.TokensUsed = tokens
	return finding, nil
}

// sdkClient sends generations through the official SDK.
type sdkClient struct {
	client *genai.Client
}

func (c *sdkClient) generate(ctx context.Context, model, prompt string) (string, int, error) {
	gm := c.client.GenerativeModel(model)
	gm.ResponseMIMEType = "application/json"
	gm.ResponseSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"analysis":   {Type: genai.TypeString},
			"confidence": {Type: genai.TypeNumber},
			"recommendations": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
		},
		Required: []string{"analysis", "confidence"},
	}

	resp, err := gm.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", 0, err
	}
	text, tokens := extractText(resp)
	return text, tokens, nil
}

func (c *sdkClient) Close() error {
	return c.client.Close()
}

func extractText(resp *genai.GenerateContentResponse) (string, int) {
	if resp == nil {
		return "", 0
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	if len(resp.Candidates) == 0 {
		return "", tokens
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return "", tokens
	}
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			return string(text), tokens
		}
	}
	return "", tokens
}
