// Package model defines the judge-facing execution types shared by the client and the runner.
package model

// Verdict is the outcome of a single test case.
type Verdict string

const (
	VerdictPass         Verdict = "pass"
	VerdictFail         Verdict = "fail"
	VerdictTimeLimit    Verdict = "time-limit"
	VerdictRuntimeError Verdict = "runtime-error"
	VerdictJudgeError   Verdict = "judge-error"
)

// Passed reports whether v counts as a passing case.
func (v Verdict) Passed() bool {
	return v == VerdictPass
}

// ResourceLimit carries optional per-problem limits. Zero means judge default.
type ResourceLimit struct {
	CPUTimeMs int64 `json:"cpu_time_ms,omitempty"`
	MemoryKB  int64 `json:"memory_kb,omitempty"`
}

// ExecRequest is one program execution against one input.
type ExecRequest struct {
	Source         string
	LanguageID     int
	Stdin          string
	ExpectedOutput string
	Limits         ResourceLimit
}

// ExecResult is what the judge reported for one execution.
type ExecResult struct {
	Verdict  Verdict
	Stdout   string
	Stderr   string
	TimeMs   int64
	MemoryKB int64
	// StatusID is the raw judge status code, kept for diagnostics.
	StatusID int
}

// TestCase is one (input, expected output) pair of a problem.
type TestCase struct {
	Ordinal        int
	Input          string
	ExpectedOutput string
	Sample         bool
}

// CaseOutcome is the graded result of a test case, in test-case order.
type CaseOutcome struct {
	Index    int     `json:"index"`
	Sample   bool    `json:"sample"`
	Verdict  Verdict `json:"verdict"`
	Stdout   string  `json:"stdout,omitempty"`
	Stderr   string  `json:"stderr,omitempty"`
	TimeMs   int64   `json:"time_ms"`
	MemoryKB int64   `json:"memory_kb"`
}
