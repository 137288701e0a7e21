package service

import (
	"context"
	"errors"
	"fmt"

	"codearena/internal/problem/repository"
	pkgerrors "codearena/pkg/errors"
)

// ProblemService serves problem reads for grading and display.
type ProblemService struct {
	repo repository.ProblemRepository
}

// NewProblemService creates a new ProblemService.
func NewProblemService(repo repository.ProblemRepository) *ProblemService {
	return &ProblemService{repo: repo}
}

// ProblemView is the public projection of a problem. Hidden cases expose nothing but their count.
type ProblemView struct {
	ID            int64            `json:"id"`
	Title         string           `json:"title"`
	TimeLimitMs   int64            `json:"time_limit_ms,omitempty"`
	MemoryLimitKB int64            `json:"memory_limit_kb,omitempty"`
	Samples       []SampleCaseView `json:"samples"`
	HiddenCases   int              `json:"hidden_cases"`
}

// SampleCaseView is a visible test case.
type SampleCaseView struct {
	Ordinal        int    `json:"ordinal"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

// LoadForGrading returns the problem with every test case.
func (s *ProblemService) LoadForGrading(ctx context.Context, problemID int64) (repository.Problem, error) {
	if problemID <= 0 {
		return repository.Problem{}, pkgerrors.New(pkgerrors.InvalidParams)
	}
	problem, err := s.repo.GetWithTestCases(ctx, problemID)
	if err != nil {
		if errors.Is(err, repository.ErrProblemNotFound) {
			return repository.Problem{}, pkgerrors.New(pkgerrors.ProblemNotFound)
		}
		return repository.Problem{}, pkgerrors.Wrap(fmt.Errorf("load problem failed: %w", err), pkgerrors.DatabaseError)
	}
	return problem, nil
}

// GetProblem returns the public view of a problem.
func (s *ProblemService) GetProblem(ctx context.Context, problemID int64) (ProblemView, error) {
	problem, err := s.LoadForGrading(ctx, problemID)
	if err != nil {
		return ProblemView{}, err
	}
	view := ProblemView{
		ID:            problem.ID,
		Title:         problem.Title,
		TimeLimitMs:   problem.TimeLimitMs,
		MemoryLimitKB: problem.MemoryLimitKB,
		Samples:       make([]SampleCaseView, 0),
	}
	for _, tc := range problem.TestCases {
		if !tc.IsSample {
			view.HiddenCases++
			continue
		}
		view.Samples = append(view.Samples, SampleCaseView{
			Ordinal:        tc.Ordinal,
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
		})
	}
	return view, nil
}
