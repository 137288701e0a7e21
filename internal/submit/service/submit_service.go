package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	"codearena/internal/common/metrics"
	"codearena/internal/common/mq"
	"codearena/internal/common/storage"
	"codearena/internal/contest/leaderboard"
	contestService "codearena/internal/contest/service"
	"codearena/internal/judge/model"
	"codearena/internal/judge/runner"
	problemRepo "codearena/internal/problem/repository"
	"codearena/internal/submit/repository"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/contextkey"
	"codearena/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	idempotencyKeyPrefix = "submit:idempotency:"
	rateUserKeyPrefix    = "submit:rate:user:"
	rateIPKeyPrefix      = "submit:rate:ip:"
	processingMarker     = "processing"

	defaultIdempotencyTTL = 10 * time.Minute
	defaultMaxCodeBytes   = 64 * 1024
)

// ProblemLoader returns a problem with all of its test cases.
type ProblemLoader interface {
	LoadForGrading(ctx context.Context, problemID int64) (problemRepo.Problem, error)
}

// Grader runs a program against test cases.
type Grader interface {
	Run(ctx context.Context, sub runner.Submission, cases []model.TestCase) ([]model.CaseOutcome, error)
}

// ContestGate admits contest submissions and applies them to the leaderboard.
type ContestGate interface {
	Now() time.Time
	CheckSubmission(ctx context.Context, contestID, userID, problemID int64, now time.Time) (*contestService.Admission, error)
	ApplySubmission(ctx context.Context, adm *contestService.Admission, submissionID string, userID, problemID int64, accepted bool) (leaderboard.ApplyResult, error)
}

// RateLimitConfig holds throttling configuration.
type RateLimitConfig struct {
	UserMax int           `yaml:"userMax"`
	IPMax   int           `yaml:"ipMax"`
	Window  time.Duration `yaml:"window"`
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB          time.Duration `yaml:"db"`
	Cache       time.Duration `yaml:"cache"`
	MQ          time.Duration `yaml:"mq"`
	Storage     time.Duration `yaml:"storage"`
	Leaderboard time.Duration `yaml:"leaderboard"`
}

// Config holds submit service dependencies and settings.
type Config struct {
	Problems       ProblemLoader
	Grader         Grader
	SubmissionRepo repository.SubmissionRepository
	ProgressRepo   repository.ProgressRepository
	Cache          cache.Cache
	Languages      *model.LanguageTable

	// Optional collaborators.
	Contests ContestGate
	DB       db.Provider
	Storage  storage.ObjectStorage
	MQ       mq.Producer
	Metrics  *metrics.Metrics

	Policy           runner.AggregationPolicy
	SourceBucket     string
	SourceKeyPrefix  string
	EventTopic       string
	MaxCodeBytes     int
	IdempotencyTTL   time.Duration
	RateLimit        RateLimitConfig
	Timeouts         TimeoutConfig
	LeaderboardRetry runner.RetryPolicy
}

// SubmitService runs the evaluation pipeline for one submission at a time.
type SubmitService struct {
	problems       ProblemLoader
	grader         Grader
	submissionRepo repository.SubmissionRepository
	progressRepo   repository.ProgressRepository
	cache          cache.Cache
	languages      *model.LanguageTable
	contests       ContestGate
	db             db.Provider
	archiver       *sourceArchiver
	events         *eventPublisher
	metrics        *metrics.Metrics

	policy           runner.AggregationPolicy
	maxCodeBytes     int
	idempotencyTTL   time.Duration
	rateLimit        RateLimitConfig
	timeouts         TimeoutConfig
	leaderboardRetry runner.RetryPolicy
}

// SubmitInput describes a submission request.
type SubmitInput struct {
	ProblemID      int64
	UserID         int64
	ContestID      int64
	Language       string
	SourceCode     string
	IdempotencyKey string
	ClientIP       string
}

// NewSubmitService creates a new submit service.
func NewSubmitService(cfg Config) (*SubmitService, error) {
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem loader is required")
	}
	if cfg.Grader == nil {
		return nil, fmt.Errorf("grader is required")
	}
	if cfg.SubmissionRepo == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.ProgressRepo == nil {
		return nil, fmt.Errorf("progress repository is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.Languages == nil {
		cfg.Languages = model.NewLanguageTable(nil)
	}
	if cfg.Policy == "" {
		cfg.Policy = runner.PolicyCoarse
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = defaultIdempotencyTTL
	}
	if cfg.LeaderboardRetry.MaxAttempts <= 0 {
		cfg.LeaderboardRetry = runner.RetryPolicy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
	}
	archiver, err := newSourceArchiver(cfg.Storage, cfg.SourceBucket, cfg.SourceKeyPrefix)
	if err != nil {
		return nil, err
	}
	return &SubmitService{
		problems:         cfg.Problems,
		grader:           cfg.Grader,
		submissionRepo:   cfg.SubmissionRepo,
		progressRepo:     cfg.ProgressRepo,
		cache:            cfg.Cache,
		languages:        cfg.Languages,
		contests:         cfg.Contests,
		db:               cfg.DB,
		archiver:         archiver,
		events:           newEventPublisher(cfg.MQ, cfg.EventTopic),
		metrics:          cfg.Metrics,
		policy:           cfg.Policy,
		maxCodeBytes:     cfg.MaxCodeBytes,
		idempotencyTTL:   cfg.IdempotencyTTL,
		rateLimit:        cfg.RateLimit,
		timeouts:         cfg.Timeouts,
		leaderboardRetry: cfg.LeaderboardRetry,
	}, nil
}

// Submit grades a submission and records the outcome.
// Nothing is recorded when the submission is rejected before grading or when grading fails.
func (s *SubmitService) Submit(ctx context.Context, input SubmitInput) (*SubmitResult, error) {
	langKey, langID, err := s.validateInput(input)
	if err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, input.UserID, input.ClientIP); err != nil {
		return nil, err
	}
	// Contest gating runs before any replay so a reused key never skips it.
	admission, err := s.admit(ctx, input)
	if err != nil {
		return nil, err
	}
	if admission != nil {
		ctx = context.WithValue(ctx, contextkey.ContestID, input.ContestID)
	}

	claim := newIdempotencyClaim(input, langKey)
	acquired, existingID, err := s.acquireIdempotency(ctx, claim)
	if err != nil {
		return nil, err
	}
	if !acquired && existingID != "" {
		existing, err := s.getSubmission(ctx, existingID)
		if err != nil {
			return nil, err
		}
		if existing.UserID != input.UserID {
			return nil, appErr.New(appErr.IdempotencyConflict)
		}
		return resultFromRecord(existing), nil
	}

	result, err := s.evaluate(ctx, input, admission, langKey, langID)
	if err != nil {
		s.releaseIdempotency(ctx, claim, acquired)
		return nil, err
	}
	s.finalizeIdempotency(ctx, claim, result.SubmissionID, acquired)
	return result, nil
}

func (s *SubmitService) admit(ctx context.Context, input SubmitInput) (*contestService.Admission, error) {
	if input.ContestID == 0 {
		return nil, nil
	}
	if s.contests == nil {
		return nil, appErr.New(appErr.ContestNotFound).WithMessage("contests are not enabled")
	}
	return s.contests.CheckSubmission(ctx, input.ContestID, input.UserID, input.ProblemID, s.contests.Now())
}

func (s *SubmitService) evaluate(ctx context.Context, input SubmitInput, admission *contestService.Admission, langKey string, langID int) (*SubmitResult, error) {
	problem, err := s.problems.LoadForGrading(ctx, input.ProblemID)
	if err != nil {
		return nil, err
	}

	cases := make([]model.TestCase, len(problem.TestCases))
	for i, tc := range problem.TestCases {
		cases[i] = model.TestCase{
			Ordinal:        tc.Ordinal,
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			Sample:         tc.IsSample,
		}
	}

	// Judge, archive and leaderboard logs all carry the id from here on.
	submissionID := uuid.NewString()
	ctx = context.WithValue(ctx, contextkey.SubmissionID, submissionID)

	start := time.Now()
	outcomes, err := s.grader.Run(ctx, runner.Submission{
		Source:     input.SourceCode,
		LanguageID: langID,
		Limits: model.ResourceLimit{
			CPUTimeMs: problem.TimeLimitMs,
			MemoryKB:  problem.MemoryLimitKB,
		},
	}, cases)
	if err != nil {
		s.metrics.ObserveGrading("failed", time.Since(start))
		return nil, s.gradingError(ctx, input, err)
	}
	summary := runner.Aggregate(outcomes, s.policy)
	s.metrics.ObserveGrading("graded", time.Since(start))

	// Grading is done; a late disconnect must not leave a half-written attempt.
	persistCtx := context.WithoutCancel(ctx)
	submission := &repository.Submission{
		SubmissionID: submissionID,
		ProblemID:    input.ProblemID,
		UserID:       input.UserID,
		ContestID:    input.ContestID,
		Language:     langKey,
		SourceCode:   input.SourceCode,
		SourceHash:   hashSource(input.SourceCode),
		Status:       summary.Status,
		TimeMs:       summary.TimeMs,
		MemoryKB:     summary.MemoryKB,
		Results:      outcomes,
		CreatedAt:    time.Now().UTC(),
	}
	submission.SourceKey = s.archiveSource(persistCtx, submission)

	if err := s.record(persistCtx, submission, summary.AllPassed); err != nil {
		return nil, err
	}
	s.metrics.ObserveSubmission(string(submission.Status), admission != nil)

	result := newSubmitResult(submission, cases)
	if admission != nil {
		result.Contest = s.applyLeaderboard(persistCtx, admission, submission, summary.AllPassed)
	}
	s.publishJudged(persistCtx, submission)

	logger.Info(ctx, "submission graded",
		zap.Int64("problem_id", submission.ProblemID),
		zap.String("status", string(submission.Status)),
		zap.Int("cases", len(outcomes)),
	)
	return result, nil
}

// gradingError maps runner failures to API errors. Grading failures are never reported as a wrong answer.
func (s *SubmitService) gradingError(ctx context.Context, input SubmitInput, err error) error {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		s.metrics.GradingFailed("canceled")
		return appErr.Wrapf(err, appErr.Timeout, "grading interrupted")
	case errors.Is(err, runner.ErrNoTestCases):
		s.metrics.GradingFailed("no_test_cases")
		logger.Error(ctx, "problem has no test cases", zap.Int64("problem_id", input.ProblemID))
		return appErr.Wrapf(err, appErr.ProblemDataInvalid, "problem %d has no test cases", input.ProblemID)
	case errors.Is(err, model.ErrJudgeRejected):
		s.metrics.GradingFailed("judge_rejected")
		return appErr.Wrapf(err, appErr.JudgeRejected, "judge rejected the submission")
	default:
		s.metrics.GradingFailed("judge_unavailable")
		return appErr.Wrapf(err, appErr.JudgeUnavailable, "grading failed")
	}
}

// record writes the submission row and, on acceptance, the solved entry in one transaction when a database is available.
func (s *SubmitService) record(ctx context.Context, submission *repository.Submission, accepted bool) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	write := func(tx db.Transaction) error {
		if err := s.submissionRepo.Create(ctxDB.ctx, tx, submission); err != nil {
			return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "create submission failed")
		}
		if !accepted {
			return nil
		}
		added, err := s.progressRepo.MarkSolved(ctxDB.ctx, tx, submission.UserID, submission.ProblemID)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "mark solved failed")
		}
		if added {
			logger.Info(ctx, "problem solved",
				zap.Int64("user_id", submission.UserID),
				zap.Int64("problem_id", submission.ProblemID),
			)
		}
		return nil
	}

	if err := db.InTx(ctxDB.ctx, s.db, write); err != nil {
		if appErr.GetCode(err) != appErr.InternalServerError {
			return err
		}
		return appErr.Wrapf(err, appErr.TransactionFailed, "record submission failed")
	}
	return nil
}

// applyLeaderboard retries a bounded number of times. A final failure is logged and
// counted but does not fail the submission, which is already recorded.
func (s *SubmitService) applyLeaderboard(ctx context.Context, adm *contestService.Admission, submission *repository.Submission, accepted bool) *ContestResult {
	policy := s.leaderboardRetry
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(runner.ComputeBackoff(attempt-1, policy.BaseDelay, policy.MaxDelay))
		}
		ctxLB := withTimeout(ctx, s.timeouts.Leaderboard)
		res, err := s.contests.ApplySubmission(ctxLB.ctx, adm, submission.SubmissionID, submission.UserID, submission.ProblemID, accepted)
		ctxLB.cancel()
		if err == nil {
			s.metrics.LeaderboardUpdate("applied")
			return &ContestResult{
				ContestID: adm.Contest.ID,
				Score:     res.Score,
				Penalty:   res.Penalty,
				Attempts:  res.Attempts,
				Gained:    res.Gained,
				Updated:   true,
			}
		}
		lastErr = err
		logger.Warn(ctx, "leaderboard update attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	s.metrics.LeaderboardUpdate("failed")
	logger.Error(ctx, "leaderboard update failed",
		zap.Int64("user_id", submission.UserID),
		zap.Int64("problem_id", submission.ProblemID),
		zap.Bool("accepted", accepted),
		zap.Error(lastErr),
	)
	return &ContestResult{ContestID: adm.Contest.ID, Updated: false}
}

// GetSubmission returns the owner view to the submitter and the public view to everyone else.
func (s *SubmitService) GetSubmission(ctx context.Context, submissionID string, viewerID int64) (*SubmissionView, error) {
	submission, err := s.getSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if viewerID > 0 && viewerID == submission.UserID {
		s.restoreSource(ctx, submission)
		return OwnerView(submission), nil
	}
	return PublicView(submission), nil
}

// ListMine returns the caller's submissions for a problem, newest first.
func (s *SubmitService) ListMine(ctx context.Context, userID, problemID int64, limit int) ([]SubmissionSummary, error) {
	if userID <= 0 {
		return nil, appErr.New(appErr.Unauthorized)
	}
	if problemID <= 0 {
		return nil, appErr.ValidationError("problem_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	rows, err := s.submissionRepo.ListByUserProblem(ctxDB.ctx, userID, problemID, limit)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list submissions failed")
	}
	out := make([]SubmissionSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, summaryOf(row))
	}
	return out, nil
}

// ListSolved returns the caller's solved set.
func (s *SubmitService) ListSolved(ctx context.Context, userID int64) ([]repository.SolvedProblem, error) {
	if userID <= 0 {
		return nil, appErr.New(appErr.Unauthorized)
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	solved, err := s.progressRepo.ListSolved(ctxDB.ctx, userID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list solved problems failed")
	}
	if solved == nil {
		solved = []repository.SolvedProblem{}
	}
	return solved, nil
}

func (s *SubmitService) getSubmission(ctx context.Context, submissionID string) (*repository.Submission, error) {
	if strings.TrimSpace(submissionID) == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	submission, err := s.submissionRepo.GetByID(ctxDB.ctx, nil, submissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, appErr.New(appErr.SubmissionNotFound).WithMessage("submission not found")
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	return submission, nil
}

func (s *SubmitService) validateInput(input SubmitInput) (string, int, error) {
	if input.ProblemID <= 0 {
		return "", 0, appErr.ValidationError("problem_id", "required")
	}
	if input.UserID <= 0 {
		return "", 0, appErr.ValidationError("user_id", "required")
	}
	if input.ContestID < 0 {
		return "", 0, appErr.ValidationError("contest_id", "invalid")
	}
	if strings.TrimSpace(input.Language) == "" {
		return "", 0, appErr.ValidationError("language", "required")
	}
	if strings.TrimSpace(input.SourceCode) == "" {
		return "", 0, appErr.ValidationError("code", "required")
	}
	if len(input.SourceCode) > s.maxCodeBytes {
		return "", 0, appErr.New(appErr.CodeTooLarge).WithMessage("source code too large")
	}
	key, id, ok := s.languages.Resolve(input.Language)
	if !ok {
		return "", 0, appErr.New(appErr.LanguageNotSupported).
			WithDetail("language", input.Language).
			WithDetail("supported", s.languages.Keys())
	}
	return key, id, nil
}

// idempotencyClaim scopes a client key to its user. The stored value carries a
// fingerprint of the request so a key reused for different content is refused.
type idempotencyClaim struct {
	cacheKey    string
	fingerprint string
}

func newIdempotencyClaim(input SubmitInput, langKey string) idempotencyClaim {
	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		return idempotencyClaim{}
	}
	request := fmt.Sprintf("%d|%d|%s|%s", input.ProblemID, input.ContestID, langKey, hashSource(input.SourceCode))
	return idempotencyClaim{
		cacheKey:    idempotencyCacheKey(input.UserID, key),
		fingerprint: hashSource(request),
	}
}

func idempotencyCacheKey(userID int64, key string) string {
	return idempotencyKeyPrefix + strconv.FormatInt(userID, 10) + ":" + key
}

func (c idempotencyClaim) value(state string) string {
	return state + "|" + c.fingerprint
}

// match splits a stored value into its state. A value written for another
// request is a conflict.
func (c idempotencyClaim) match(raw string) (string, error) {
	idx := strings.LastIndexByte(raw, '|')
	if idx < 0 || raw[idx+1:] != c.fingerprint {
		return "", appErr.New(appErr.IdempotencyConflict)
	}
	return raw[:idx], nil
}

func (s *SubmitService) acquireIdempotency(ctx context.Context, claim idempotencyClaim) (bool, string, error) {
	if claim.cacheKey == "" {
		return true, "", nil
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	ok, err := s.cache.SetNX(ctxCache.ctx, claim.cacheKey, claim.value(processingMarker), s.idempotencyTTL)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "reserve idempotency key failed")
	}
	if ok {
		return true, "", nil
	}
	raw, err := s.cache.Get(ctxCache.ctx, claim.cacheKey)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if raw == "" {
		// Released between the two calls; the caller may retry.
		return false, "", appErr.New(appErr.TooManyRequests).WithMessage("request is processing")
	}
	state, err := claim.match(raw)
	if err != nil {
		return false, "", err
	}
	if state == processingMarker {
		return false, "", appErr.New(appErr.TooManyRequests).WithMessage("request is processing")
	}
	return false, state, nil
}

func (s *SubmitService) finalizeIdempotency(ctx context.Context, claim idempotencyClaim, submissionID string, acquired bool) {
	if !acquired || claim.cacheKey == "" {
		return
	}
	ctxCache := withTimeout(context.WithoutCancel(ctx), s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Set(ctxCache.ctx, claim.cacheKey, claim.value(submissionID), s.idempotencyTTL); err != nil {
		logger.Warn(ctx, "update idempotency key failed", zap.Error(err))
	}
}

func (s *SubmitService) releaseIdempotency(ctx context.Context, claim idempotencyClaim, acquired bool) {
	if !acquired || claim.cacheKey == "" {
		return
	}
	ctxCache := withTimeout(context.WithoutCancel(ctx), s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.Del(ctxCache.ctx, claim.cacheKey); err != nil {
		logger.Warn(ctx, "release idempotency key failed", zap.Error(err))
	}
}

func (s *SubmitService) checkRateLimit(ctx context.Context, userID int64, clientIP string) error {
	if s.rateLimit.Window <= 0 || (s.rateLimit.UserMax <= 0 && s.rateLimit.IPMax <= 0) {
		return nil
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()

	if s.rateLimit.UserMax > 0 && userID > 0 {
		if err := s.checkRateCounter(ctxCache.ctx, rateUserKeyPrefix+strconv.FormatInt(userID, 10), s.rateLimit.UserMax); err != nil {
			return err
		}
	}
	if s.rateLimit.IPMax > 0 && clientIP != "" {
		if err := s.checkRateCounter(ctxCache.ctx, rateIPKeyPrefix+clientIP, s.rateLimit.IPMax); err != nil {
			return err
		}
	}
	return nil
}

func (s *SubmitService) checkRateCounter(ctx context.Context, key string, max int) error {
	count, err := s.cache.Incr(ctx, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if count == 1 {
		_ = s.cache.Expire(ctx, key, s.rateLimit.Window)
	}
	if int(count) > max {
		return appErr.New(appErr.SubmitTooFrequently).WithMessage("submit too frequently")
	}
	return nil
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
