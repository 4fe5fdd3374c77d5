// Package specialist defines the analysis capability consumed by the triage
// workflow: an Analyzer examines a case from one field of law and returns a
// Finding.
//
// The workflow only depends on the Analyzer interface. The Static analyzer in
// this package runs entirely locally from playbooks; the anthropic, openai,
// and google subpackages adapt hosted language models to the same interface.
package specialist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Request is the input to a single specialist consult.
type Request struct {
	// Category is the classified case category that routed the case here.
	Category string

	// CaseText is the normalized intake narrative.
	CaseText string

	// Context carries optional intake metadata such as jurisdiction or
	// deadlines. Analyzers may ignore it.
	Context map[string]string
}

// Finding is the outcome of a specialist consult.
type Finding struct {
	// Content is the specialist's assessment of the case.
	Content string

	// Confidence is the specialist's confidence in the assessment,
	// between 0.0 and 1.0.
	Confidence float64

	// Recommendations are concrete next actions for the caseworker.
	Recommendations []string

	// TokensUsed is the API token count for hosted analyzers, 0 for
	// local ones.
	TokensUsed int
}

// Validate reports whether the finding is well-formed. The analyze step
// treats an invalid finding as a specialist failure rather than folding bad
// data into the synthesis.
func (f Finding) Validate() error {
	if strings.TrimSpace(f.Content) == "" {
		return ErrEmptyContent
	}
	if f.Confidence < 0.0 || f.Confidence > 1.0 {
		return ErrInvalidConfidence
	}
	return nil
}

// Analyzer is the capability every specialist implements.
//
// Implementations must be safe for concurrent use and must respect context
// cancellation: the workflow runs one consult per assigned specialist in
// parallel, each under its own deadline.
type Analyzer interface {
	// Analyze examines the case and returns a Finding. Errors should be
	// distinguishable as retryable (rate limit, timeout) or permanent
	// (invalid credentials) via IsRetryable on *Error.
	Analyze(ctx context.Context, req Request) (Finding, error)

	// Name returns the specialist identifier used in routing tables,
	// results, and logs (for example "housing_law").
	Name() string
}

// Common error sentinels for specialist consults.
var (
	// ErrEmptyContent indicates the finding carries no analysis text.
	ErrEmptyContent = &Error{Code: "empty_content", Message: "finding content cannot be empty"}

	// ErrInvalidConfidence indicates the confidence score is out of range.
	ErrInvalidConfidence = &Error{Code: "invalid_confidence", Message: "confidence must be between 0.0 and 1.0"}
)

// Error is a consult failure that distinguishes retryable transient failures
// from permanent ones.
type Error struct {
	// Code is the machine-readable error code.
	Code string

	// Message is the human-readable error message.
	Message string

	// Retryable is true for transient failures such as rate limits and
	// timeouts, false for permanent ones such as invalid credentials.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// IsRetryable reports whether the consult may be retried with backoff.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// Prompt builds the canonical consult prompt shared by the hosted-model
// analyzers, so every provider receives identical instructions and the same
// JSON output contract.
func Prompt(req Request) string {
	var sb strings.Builder

	sb.WriteString("You are a legal aid specialist. Analyze the following case, ")
	sb.WriteString("classified as category \"")
	sb.WriteString(req.Category)
	sb.WriteString("\", from your field's perspective.\n\nCase:\n")
	sb.WriteString(req.CaseText)
	sb.WriteString("\n\n")

	if len(req.Context) > 0 {
		sb.WriteString("Additional context:\n")
		for _, key := range sortedKeys(req.Context) {
			sb.WriteString("- ")
			sb.WriteString(key)
			sb.WriteString(": ")
			sb.WriteString(req.Context[key])
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Respond with a JSON object with these fields:\n")
	sb.WriteString("- analysis: your assessment of the case (string)\n")
	sb.WriteString("- confidence: how confident you are, 0.0 to 1.0 (number)\n")
	sb.WriteString("- recommendations: concrete next actions for the caseworker (array of strings)\n\n")
	sb.WriteString("Return ONLY the JSON object, with no additional text.")

	return sb.String()
}

// ParseFinding extracts a Finding from a hosted model's response text. It
// tolerates markdown code fences and surrounding prose around the JSON
// object.
func ParseFinding(raw string) (Finding, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var out struct {
		Analysis        string   `json:"analysis"`
		Confidence      float64  `json:"confidence"`
		Recommendations []string `json:"recommendations"`
	}

	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start == -1 || end == -1 || start >= end {
			return Finding{}, fmt.Errorf("no JSON object in response")
		}
		if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
			return Finding{}, fmt.Errorf("parse response: %w", err)
		}
	}

	if strings.TrimSpace(out.Analysis) == "" {
		return Finding{}, fmt.Errorf("response has no analysis")
	}

	finding := Finding{
		Content:         out.Analysis,
		Confidence:      out.Confidence,
		Recommendations: out.Recommendations,
	}
	// A missing confidence reads as uncertain, not as zero.
	if finding.Confidence <= 0 {
		finding.Confidence = 0.5
	}
	if finding.Confidence > 1 {
		finding.Confidence = 1
	}
	return finding, nil
}

// MapAPIError converts a hosted-model SDK error into a typed *Error with the
// appropriate code and retryability. Context cancellation passes through
// unwrapped so callers can distinguish their own shutdown from API failure.
func MapAPIError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Code:      "timeout",
			Message:   fmt.Sprintf("%s request timed out", provider),
			Retryable: true,
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "resource_exhausted"):
		return &Error{
			Code:      "rate_limited",
			Message:   fmt.Sprintf("%s rate limit exceeded", provider),
			Retryable: true,
		}

	case strings.Contains(msg, "api key") ||
		strings.Contains(msg, "api_key") ||
		strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "authentication"):
		return &Error{
			Code:      "invalid_api_key",
			Message:   fmt.Sprintf("%s API key is invalid or expired", provider),
			Retryable: false,
		}

	case strings.Contains(msg, "quota") ||
		strings.Contains(msg, "billing"):
		return &Error{
			Code:      "quota_exceeded",
			Message:   fmt.Sprintf("%s quota exceeded", provider),
			Retryable: false,
		}

	case strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") ||
		strings.Contains(msg, "internal server error") ||
		strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "service unavailable"):
		return &Error{
			Code:      "server_error",
			Message:   fmt.Sprintf("%s server error: %v", provider, err),
			Retryable: true,
		}

	case strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "network"):
		return &Error{
			Code:      "network_error",
			Message:   fmt.Sprintf("%s network error: %v", provider, err),
			Retryable: true,
		}

	default:
		return &Error{
			Code:      "api_error",
			Message:   fmt.Sprintf("%s API error: %v", provider, err),
			Retryable: false,
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
