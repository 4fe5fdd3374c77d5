package triage

import (
	"context"
	"errors"
	"strings"

	"github.com/dshills/caseflow-go/flow"
	"github.com/dshills/caseflow-go/specialist"
)

// analyzeNode consults every assigned specialist concurrently, each under
// its own timeout. One specialist's timeout or failure never cancels its
// siblings; the failed consult is recorded with its error and the run
// proceeds on whatever succeeded. Only all specialists failing fails the
// step.
func (w *Workflow) analyzeNode(ctx context.Context, s CaseState) flow.Result[CaseState] {
	req := specialist.Request{
		Category: string(s.Category),
		CaseText: s.CaseText,
		Context:  s.Metadata,
	}

	tasks := make([]flow.Task[specialist.Finding], 0, len(s.AssignedSpecialists))
	for _, id := range s.AssignedSpecialists {
		analyzer, ok := w.analyzers[id]
		if !ok {
			return flow.Result[CaseState]{Err: &flow.NodeError{
				NodeID:  nodeAnalyze,
				Code:    "UNKNOWN_SPECIALIST",
				Message: "no analyzer registered for: " + id,
			}}
		}
		tasks = append(tasks, flow.Task[specialist.Finding]{
			ID:      id,
			Timeout: w.specialistTimeout,
			Run: func(taskCtx context.Context) (specialist.Finding, error) {
				finding, err := analyzer.Analyze(taskCtx, req)
				if err != nil {
					return specialist.Finding{}, err
				}
				if err := finding.Validate(); err != nil {
					return specialist.Finding{}, err
				}
				return finding, nil
			},
		})
	}

	results := flow.FanOut(ctx, tasks)

	s.SpecialistResults = make(map[string]SpecialistResult, len(results))
	var failed []string
	for _, res := range results {
		sr := SpecialistResult{
			SpecialistID: res.ID,
			StartedAt:    res.StartedAt.UTC(),
			CompletedAt:  res.CompletedAt.UTC(),
		}
		switch {
		case errors.Is(res.Err, context.DeadlineExceeded):
			sr.Error = "timeout: " + res.Err.Error()
			w.metrics.SpecialistTimeout(res.ID)
			failed = append(failed, res.ID+": "+sr.Error)
		case res.Err != nil:
			sr.Error = res.Err.Error()
			failed = append(failed, res.ID+": "+sr.Error)
		default:
			sr.Content = res.Out.Content
			sr.Confidence = res.Out.Confidence
			sr.Recommendations = res.Out.Recommendations
			sr.TokensUsed = res.Out.TokensUsed
		}
		s.SpecialistResults[res.ID] = sr
	}

	s.Status = StatusAnalyzing

	if len(failed) == len(results) {
		// The delta is still returned: the failure checkpoint keeps every
		// per-specialist error for the retry to see.
		return flow.Result[CaseState]{
			Delta: s,
			Err: &flow.NodeError{
				NodeID:  nodeAnalyze,
				Code:    "ALL_SPECIALISTS_FAILED",
				Message: "all specialists failed: " + strings.Join(failed, "; "),
			},
		}
	}

	return flow.Result[CaseState]{Delta: s, Route: flow.Goto(nodeSynthesize)}
}
