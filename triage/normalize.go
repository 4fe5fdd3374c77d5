package triage

import (
	"context"
	"strings"

	"github.com/dshills/caseflow-go/flow"
)

// normalizeNode canonicalizes the raw intake text. It is the first node of
// every run; text that normalizes to nothing fails the run here instead of
// wasting specialist calls downstream.
func (w *Workflow) normalizeNode(ctx context.Context, s CaseState) flow.Result[CaseState] {
	cleaned := NormalizeText(s.CaseText)
	if cleaned == "" {
		return flow.Result[CaseState]{Err: &flow.NodeError{
			NodeID:  nodeNormalize,
			Code:    "EMPTY_CASE",
			Message: "case text is empty after normalization",
		}}
	}

	s.CaseText = cleaned
	s.Status = StatusStarted
	return flow.Result[CaseState]{Delta: s, Route: flow.Goto(nodeClassify)}
}

// NormalizeText canonicalizes raw intake text: CR/LF line endings become
// \n, intra-line whitespace runs collapse to single spaces, runs of blank
// lines collapse to one, and the result is trimmed. The cleaned text is
// what the classifier and every specialist see, so two submissions that
// differ only in whitespace take the same path.
func NormalizeText(raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")

	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	pendingBlank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			pendingBlank = true
			continue
		}
		if pendingBlank && len(out) > 0 {
			out = append(out, "")
		}
		pendingBlank = false
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
