// Package runner grades a submission by fanning test cases out to a judge.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codearena/internal/judge/model"
	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultMaxConcurrency = 4

// ErrNoTestCases means the problem has nothing to grade against.
var ErrNoTestCases = errors.New("problem has no test cases")

// GradingError reports a case that could not be graded.
type GradingError struct {
	CaseIndex int
	Err       error
}

func (e *GradingError) Error() string {
	return fmt.Sprintf("grade case %d: %v", e.CaseIndex, e.Err)
}

func (e *GradingError) Unwrap() error {
	return e.Err
}

// Config holds runner settings.
type Config struct {
	MaxConcurrency int         `yaml:"maxConcurrency"`
	Retry          RetryPolicy `yaml:"retry"`
}

// Submission is the program under test.
type Submission struct {
	Source     string
	LanguageID int
	Limits     model.ResourceLimit
}

// Runner executes every test case of a submission.
type Runner struct {
	judge          model.Judge
	maxConcurrency int
	retry          RetryPolicy
}

// New creates a Runner.
func New(judge model.Judge, cfg Config) *Runner {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	return &Runner{
		judge:          judge,
		maxConcurrency: cfg.MaxConcurrency,
		retry:          cfg.Retry.normalize(),
	}
}

// Run grades sub against cases and returns one outcome per case in case order.
// A failing verdict does not stop the remaining cases. A case that cannot be
// graded cancels the rest and yields a *GradingError.
func (r *Runner) Run(ctx context.Context, sub Submission, cases []model.TestCase) ([]model.CaseOutcome, error) {
	if len(cases) == 0 {
		return nil, ErrNoTestCases
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	outcomes := make([]model.CaseOutcome, len(cases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrency)
	for i := range cases {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcome, err := r.runCase(gctx, sub, i, cases[i])
			if err != nil {
				return err
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Warn(ctx, "grading aborted", zap.Error(err), zap.Int("cases", len(cases)))
		return nil, err
	}
	logger.Debug(ctx, "grading finished",
		zap.Int("cases", len(cases)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return outcomes, nil
}

func (r *Runner) runCase(ctx context.Context, sub Submission, index int, tc model.TestCase) (model.CaseOutcome, error) {
	req := model.ExecRequest{
		Source:         sub.Source,
		LanguageID:     sub.LanguageID,
		Stdin:          tc.Input,
		ExpectedOutput: tc.ExpectedOutput,
		Limits:         sub.Limits,
	}
	res, err := r.executeWithRetry(ctx, index, req)
	if err != nil {
		if ctx.Err() != nil {
			return model.CaseOutcome{}, ctx.Err()
		}
		if !errors.Is(err, model.ErrJudgeUnavailable) && !errors.Is(err, model.ErrJudgeRejected) {
			err = fmt.Errorf("%w: %v", model.ErrJudgeUnavailable, err)
		}
		return model.CaseOutcome{}, &GradingError{CaseIndex: index, Err: err}
	}
	if res.Verdict == model.VerdictJudgeError {
		return model.CaseOutcome{}, &GradingError{
			CaseIndex: index,
			Err:       fmt.Errorf("%w: judge internal error (status %d)", model.ErrJudgeUnavailable, res.StatusID),
		}
	}
	return model.CaseOutcome{
		Index:    index,
		Sample:   tc.Sample,
		Verdict:  res.Verdict,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		TimeMs:   res.TimeMs,
		MemoryKB: res.MemoryKB,
	}, nil
}

func (r *Runner) executeWithRetry(ctx context.Context, index int, req model.ExecRequest) (model.ExecResult, error) {
	var lastErr error
	for attempt := 0; attempt < r.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := ComputeBackoff(attempt-1, r.retry.BaseDelay, r.retry.MaxDelay)
			logger.Info(ctx, "retrying judge call",
				zap.Int("case", index),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := sleepCtx(ctx, delay); err != nil {
				return model.ExecResult{}, err
			}
		}
		res, err := r.judge.Execute(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil || !errors.Is(err, model.ErrJudgeUnavailable) {
			break
		}
	}
	return model.ExecResult{}, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
