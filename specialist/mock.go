package specialist

import (
	"context"
	"sync"
	"time"
)

// Mock is a test implementation of Analyzer.
//
// It provides configurable findings, error injection, call history, and an
// optional artificial delay for exercising per-specialist timeouts.
//
// Example:
//
//	mock := &Mock{
//	    AnalyzerName: "housing_law",
//	    Findings: []Finding{
//	        {Content: "first consult", Confidence: 0.8},
//	        {Content: "second consult", Confidence: 0.9},
//	    },
//	}
//	finding, err := mock.Analyze(ctx, req)
//	// Returns "first consult", then "second consult" on later calls.
type Mock struct {
	// AnalyzerName is returned by Name. Defaults to "mock".
	AnalyzerName string

	// Findings is the sequence of findings to return. Each call returns
	// the next one; when all are consumed, the last repeats.
	Findings []Finding

	// Err, if set, is returned by Analyze instead of a finding.
	Err error

	// Delay, if positive, is waited before answering. The wait respects
	// context cancellation, so a Mock with a long Delay simulates a
	// specialist that exceeds its timeout.
	Delay time.Duration

	// Calls records every Analyze invocation.
	Calls []Request

	mu        sync.Mutex
	callIndex int
}

// Analyze implements Analyzer. The call is recorded regardless of outcome,
// including consults cut short by the context during the Delay.
func (m *Mock) Analyze(ctx context.Context, req Request) (Finding, error) {
	if err := ctx.Err(); err != nil {
		return Finding{}, err
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	m.mu.Unlock()

	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Finding{}, ctx.Err()
		case <-timer.C:
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return Finding{}, m.Err
	}
	if len(m.Findings) == 0 {
		return Finding{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Findings) {
		idx = len(m.Findings) - 1
	} else {
		m.callIndex++
	}
	return m.Findings[idx], nil
}

// Name implements Analyzer.
func (m *Mock) Name() string {
	if m.AnalyzerName == "" {
		return "mock"
	}
	return m.AnalyzerName
}

// Reset clears the call history and restarts the findings sequence.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns how many times Analyze has been called.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
