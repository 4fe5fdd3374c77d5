package specialist

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestFindingValidate(t *testing.T) {
	tests := []struct {
		name    string
		finding Finding
		wantErr error
	}{
		{"valid", Finding{Content: "analysis", Confidence: 0.7}, nil},
		{"zero confidence is valid", Finding{Content: "analysis"}, nil},
		{"full confidence is valid", Finding{Content: "analysis", Confidence: 1.0}, nil},
		{"empty content", Finding{Confidence: 0.7}, ErrEmptyContent},
		{"whitespace content", Finding{Content: " \n\t", Confidence: 0.7}, ErrEmptyContent},
		{"negative confidence", Finding{Content: "analysis", Confidence: -0.1}, ErrInvalidConfidence},
		{"confidence above one", Finding{Content: "analysis", Confidence: 1.1}, ErrInvalidConfidence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.finding.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPrompt(t *testing.T) {
	req := Request{
		Category: "housing",
		CaseText: "Landlord shut off the heat in January.",
		Context: map[string]string{
			"jurisdiction": "King County",
			"deadline":     "2026-02-01",
		},
	}

	prompt := Prompt(req)

	if !strings.Contains(prompt, `classified as category "housing"`) {
		t.Errorf("expected the category in the prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, "Landlord shut off the heat in January.") {
		t.Errorf("expected the case text in the prompt, got %q", prompt)
	}
	// Context keys render in sorted order so the prompt is reproducible.
	deadline := strings.Index(prompt, "- deadline: 2026-02-01")
	jurisdiction := strings.Index(prompt, "- jurisdiction: King County")
	if deadline == -1 || jurisdiction == -1 {
		t.Fatalf("expected both context entries in the prompt, got %q", prompt)
	}
	if deadline > jurisdiction {
		t.Error("expected context keys in sorted order")
	}
	if !strings.Contains(prompt, "Return ONLY the JSON object") {
		t.Error("expected the JSON output contract in the prompt")
	}
}

func TestPromptWithoutContext(t *testing.T) {
	prompt := Prompt(Request{Category: "criminal", CaseText: "arrested"})
	if strings.Contains(prompt, "Additional context:") {
		t.Errorf("expected no context section, got %q", prompt)
	}
}

func TestParseFinding(t *testing.T) {
	t.Run("bare JSON", func(t *testing.T) {
		finding, err := ParseFinding(`{"analysis": "eviction defense applies", "confidence": 0.8, "recommendations": ["file an answer"]}`)
		if err != nil {
			t.Fatalf("ParseFinding: %v", err)
		}
		if finding.Content != "eviction defense applies" {
			t.Errorf("expected the analysis text, got %q", finding.Content)
		}
		if finding.Confidence != 0.8 {
			t.Errorf("expected confidence 0.8, got %v", finding.Confidence)
		}
		if len(finding.Recommendations) != 1 || finding.Recommendations[0] != "file an answer" {
			t.Errorf("expected one recommendation, got %v", finding.Recommendations)
		}
	})

	t.Run("markdown fenced JSON", func(t *testing.T) {
		raw := "```json\n{\"analysis\": \"ok\", \"confidence\": 0.6}\n```"
		finding, err := ParseFinding(raw)
		if err != nil {
			t.Fatalf("ParseFinding: %v", err)
		}
		if finding.Content != "ok" {
			t.Errorf("expected the fenced JSON parsed, got %q", finding.Content)
		}
	})

	t.Run("JSON inside surrounding prose", func(t *testing.T) {
		raw := `Here is my assessment: {"analysis": "ok", "confidence": 0.6} Hope that helps!`
		finding, err := ParseFinding(raw)
		if err != nil {
			t.Fatalf("ParseFinding: %v", err)
		}
		if finding.Content != "ok" {
			t.Errorf("expected the embedded JSON parsed, got %q", finding.Content)
		}
	})

	t.Run("missing confidence reads as uncertain", func(t *testing.T) {
		finding, err := ParseFinding(`{"analysis": "ok"}`)
		if err != nil {
			t.Fatalf("ParseFinding: %v", err)
		}
		if finding.Confidence != 0.5 {
			t.Errorf("expected confidence 0.5, got %v", finding.Confidence)
		}
	})

	t.Run("overconfidence is clamped", func(t *testing.T) {
		finding, err := ParseFinding(`{"analysis": "ok", "confidence": 1.8}`)
		if err != nil {
			t.Fatalf("ParseFinding: %v", err)
		}
		if finding.Confidence != 1.0 {
			t.Errorf("expected confidence clamped to 1.0, got %v", finding.Confidence)
		}
	})

	t.Run("no JSON at all", func(t *testing.T) {
		if _, err := ParseFinding("I cannot analyze this case."); err == nil {
			t.Fatal("expected an error for a response without JSON")
		}
	})

	t.Run("JSON without analysis", func(t *testing.T) {
		if _, err := ParseFinding(`{"confidence": 0.9}`); err == nil {
			t.Fatal("expected an error for a response without analysis")
		}
	})
}

func TestMapAPIError(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		if got := MapAPIError("anthropic", nil); got != nil {
			t.Fatalf("expected nil, got %v", got)
		}
	})

	t.Run("cancellation passes through unwrapped", func(t *testing.T) {
		got := MapAPIError("anthropic", context.Canceled)
		if !errors.Is(got, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", got)
		}
	})

	t.Run("deadline becomes a retryable timeout", func(t *testing.T) {
		got := MapAPIError("openai", context.DeadlineExceeded)
		var apiErr *Error
		if !errors.As(got, &apiErr) {
			t.Fatalf("expected a typed error, got %v", got)
		}
		if apiErr.Code != "timeout" || !apiErr.IsRetryable() {
			t.Errorf("expected a retryable timeout, got %+v", apiErr)
		}
	})

	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{"rate limit", errors.New("429 Too Many Requests"), "rate_limited", true},
		{"invalid key", errors.New("401 Unauthorized: invalid api key"), "invalid_api_key", false},
		{"quota", errors.New("monthly quota exceeded"), "quota_exceeded", false},
		{"server error", errors.New("503 Service Unavailable"), "server_error", true},
		{"network", errors.New("connection reset by peer"), "network_error", true},
		{"unknown", errors.New("model deprecated"), "api_error", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapAPIError("google", tt.err)
			var apiErr *Error
			if !errors.As(got, &apiErr) {
				t.Fatalf("expected a typed error, got %v", got)
			}
			if apiErr.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, apiErr.Code)
			}
			if apiErr.IsRetryable() != tt.retryable {
				t.Errorf("expected retryable=%v, got %v", tt.retryable, apiErr.IsRetryable())
			}
			if !strings.Contains(apiErr.Message, "google") {
				t.Errorf("expected the provider named, got %q", apiErr.Message)
			}
		})
	}
}
