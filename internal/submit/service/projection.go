package service

import (
	"time"

	"codearena/internal/judge/model"
	"codearena/internal/submit/repository"
)

// SubmitResult is returned to the submitter right after grading.
type SubmitResult struct {
	SubmissionID string         `json:"submission_id"`
	Status       model.Status   `json:"status"`
	Message      string         `json:"message"`
	TimeMs       int64          `json:"time_ms"`
	MemoryKB     int64          `json:"memory_kb"`
	Cases        []CaseView     `json:"cases"`
	Contest      *ContestResult `json:"contest,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// CaseView is one graded case. Input, expected output and stdout are only set for sample cases.
type CaseView struct {
	Index          int           `json:"index"`
	Sample         bool          `json:"sample"`
	Verdict        model.Verdict `json:"verdict"`
	Passed         bool          `json:"passed"`
	Input          string        `json:"input,omitempty"`
	ExpectedOutput string        `json:"expected_output,omitempty"`
	Stdout         string        `json:"stdout,omitempty"`
	Stderr         string        `json:"stderr,omitempty"`
	TimeMs         int64         `json:"time_ms"`
	MemoryKB       int64         `json:"memory_kb"`
}

// ContestResult is the submitter's leaderboard standing after the update.
// Updated is false when the leaderboard could not be written.
type ContestResult struct {
	ContestID int64 `json:"contest_id"`
	Score     int64 `json:"score"`
	Penalty   int64 `json:"penalty"`
	Attempts  int64 `json:"attempts"`
	Gained    int64 `json:"gained"`
	Updated   bool  `json:"updated"`
}

// SubmissionView is a stored submission as seen by a reader.
type SubmissionView struct {
	SubmissionID string       `json:"submission_id"`
	ProblemID    int64        `json:"problem_id"`
	UserID       int64        `json:"user_id"`
	ContestID    int64        `json:"contest_id,omitempty"`
	Language     string       `json:"language"`
	SourceCode   string       `json:"source_code,omitempty"`
	Status       model.Status `json:"status"`
	Message      string       `json:"message"`
	TimeMs       int64        `json:"time_ms"`
	MemoryKB     int64        `json:"memory_kb"`
	Cases        []CaseView   `json:"cases"`
	CreatedAt    time.Time    `json:"created_at"`
}

// SubmissionSummary is a list row.
type SubmissionSummary struct {
	SubmissionID string       `json:"submission_id"`
	ProblemID    int64        `json:"problem_id"`
	ContestID    int64        `json:"contest_id,omitempty"`
	Language     string       `json:"language"`
	Status       model.Status `json:"status"`
	Message      string       `json:"message"`
	TimeMs       int64        `json:"time_ms"`
	MemoryKB     int64        `json:"memory_kb"`
	CreatedAt    time.Time    `json:"created_at"`
}

func newSubmitResult(submission *repository.Submission, cases []model.TestCase) *SubmitResult {
	views := make([]CaseView, len(submission.Results))
	for i, o := range submission.Results {
		v := caseView(o, false)
		if o.Sample && o.Index >= 0 && o.Index < len(cases) {
			v.Input = cases[o.Index].Input
			v.ExpectedOutput = cases[o.Index].ExpectedOutput
		}
		views[i] = v
	}
	return &SubmitResult{
		SubmissionID: submission.SubmissionID,
		Status:       submission.Status,
		Message:      submission.Status.Message(),
		TimeMs:       submission.TimeMs,
		MemoryKB:     submission.MemoryKB,
		Cases:        views,
		CreatedAt:    submission.CreatedAt,
	}
}

// resultFromRecord rebuilds a submit response for a replayed idempotency key.
func resultFromRecord(submission *repository.Submission) *SubmitResult {
	res := newSubmitResult(submission, nil)
	if submission.ContestID > 0 {
		res.Contest = &ContestResult{ContestID: submission.ContestID}
	}
	return res
}

// OwnerView shows the source and stderr of every case. Hidden stdout stays hidden.
func OwnerView(submission *repository.Submission) *SubmissionView {
	view := baseView(submission, true)
	view.SourceCode = submission.SourceCode
	return view
}

// PublicView hides the source and reduces hidden cases to their verdict and usage.
func PublicView(submission *repository.Submission) *SubmissionView {
	return baseView(submission, false)
}

func baseView(submission *repository.Submission, owner bool) *SubmissionView {
	cases := make([]CaseView, len(submission.Results))
	for i, o := range submission.Results {
		cases[i] = caseView(o, owner)
	}
	return &SubmissionView{
		SubmissionID: submission.SubmissionID,
		ProblemID:    submission.ProblemID,
		UserID:       submission.UserID,
		ContestID:    submission.ContestID,
		Language:     submission.Language,
		Status:       submission.Status,
		Message:      submission.Status.Message(),
		TimeMs:       submission.TimeMs,
		MemoryKB:     submission.MemoryKB,
		Cases:        cases,
		CreatedAt:    submission.CreatedAt,
	}
}

// caseView copies the verdict fields. Sample cases keep their output; hidden cases
// keep stderr only when showHiddenStderr is set.
func caseView(o model.CaseOutcome, showHiddenStderr bool) CaseView {
	v := CaseView{
		Index:    o.Index,
		Sample:   o.Sample,
		Verdict:  o.Verdict,
		Passed:   o.Verdict.Passed(),
		TimeMs:   o.TimeMs,
		MemoryKB: o.MemoryKB,
	}
	switch {
	case o.Sample:
		v.Stdout = o.Stdout
		v.Stderr = o.Stderr
	case !o.Sample && showHiddenStderr:
		v.Stderr = o.Stderr
	}
	return v
}

func summaryOf(submission *repository.Submission) SubmissionSummary {
	return SubmissionSummary{
		SubmissionID: submission.SubmissionID,
		ProblemID:    submission.ProblemID,
		ContestID:    submission.ContestID,
		Language:     submission.Language,
		Status:       submission.Status,
		Message:      submission.Status.Message(),
		TimeMs:       submission.TimeMs,
		MemoryKB:     submission.MemoryKB,
		CreatedAt:    submission.CreatedAt,
	}
}
