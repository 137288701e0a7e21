package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"codearena/internal/common/db"
	"codearena/internal/common/db/dbtest"
	"codearena/internal/common/metrics"
	"codearena/internal/contest/leaderboard"
	contestRepo "codearena/internal/contest/repository"
	contestService "codearena/internal/contest/service"
	"codearena/internal/judge/model"
	"codearena/internal/judge/runner"
	problemRepo "codearena/internal/problem/repository"
	"codearena/internal/submit/repository"
	appErr "codearena/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type deps struct {
	problems    *fakeProblems
	grader      *fakeGrader
	submissions *fakeSubmissions
	progress    *fakeProgress
	gate        *fakeGate
	storage     *fakeStorage
	producer    *fakeProducer
	metrics     *metrics.Metrics
	redis       *miniredis.Miniredis
}

func newTestService(t *testing.T, mutate func(*Config, *deps)) (*SubmitService, *deps) {
	t.Helper()
	c, mr := newTestCache(t)
	d := &deps{
		problems: &fakeProblems{problems: map[int64]problemRepo.Problem{
			1: {ID: 1, Title: "A+B", TimeLimitMs: 1000, MemoryLimitKB: 65536, TestCases: []problemRepo.TestCase{
				{Ordinal: 1, Input: "1 2", ExpectedOutput: "3", IsSample: true},
				{Ordinal: 2, Input: "5 5", ExpectedOutput: "10"},
				{Ordinal: 3, Input: "7 8", ExpectedOutput: "15"},
			}},
			2: {ID: 2, Title: "Broken"},
		}},
		grader:      &fakeGrader{},
		submissions: newFakeSubmissions(),
		progress:    newFakeProgress(),
		gate:        &fakeGate{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
		storage:     newFakeStorage(),
		producer:    &fakeProducer{},
		metrics:     metrics.New(),
		redis:       mr,
	}
	cfg := Config{
		Problems:         d.problems,
		Grader:           d.grader,
		SubmissionRepo:   d.submissions,
		ProgressRepo:     d.progress,
		Cache:            c,
		Contests:         d.gate,
		Storage:          d.storage,
		MQ:               d.producer,
		Metrics:          d.metrics,
		SourceBucket:     "sources",
		LeaderboardRetry: runner.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}
	if mutate != nil {
		mutate(&cfg, d)
	}
	svc, err := NewSubmitService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, d
}

func input() SubmitInput {
	return SubmitInput{ProblemID: 1, UserID: 7, Language: "cpp", SourceCode: "int main(){}"}
}

func TestSubmitAccepted(t *testing.T) {
	svc, d := newTestService(t, nil)

	res, err := svc.Submit(context.Background(), input())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != model.StatusAccepted || res.Message != "Accepted" {
		t.Fatalf("unexpected status %s %q", res.Status, res.Message)
	}
	if res.TimeMs != 30 || res.MemoryKB != 300 || len(res.Cases) != 3 {
		t.Fatalf("unexpected totals %+v", res)
	}
	sample, hidden := res.Cases[0], res.Cases[1]
	if sample.Input != "1 2" || sample.ExpectedOutput != "3" || sample.Stdout != "out-1 2" || !sample.Passed {
		t.Fatalf("sample case must carry its data: %+v", sample)
	}
	if hidden.Input != "" || hidden.ExpectedOutput != "" || hidden.Stdout != "" || hidden.Stderr != "" {
		t.Fatalf("hidden case leaked data: %+v", hidden)
	}
	if d.grader.last.LanguageID != 54 || d.grader.last.Limits.CPUTimeMs != 1000 || d.grader.last.Limits.MemoryKB != 65536 {
		t.Fatalf("unexpected grader input %+v", d.grader.last)
	}

	row := d.submissions.only(t)
	if row.SubmissionID != res.SubmissionID || row.Status != model.StatusAccepted || row.Language != "cpp" || row.ContestID != 0 {
		t.Fatalf("unexpected row %+v", row)
	}
	if len(row.Results) != 3 || row.Results[1].Stdout != "out-5 5" {
		t.Fatalf("per-case outcomes must be persisted in full: %+v", row.Results)
	}
	if _, ok := d.progress.solved[[2]int64{7, 1}]; !ok {
		t.Fatalf("accepted submission must mark the problem solved")
	}
	if d.gate.applyCalls != 0 {
		t.Fatalf("practice submission must not touch the leaderboard")
	}

	// Archive and event are side effects of a recorded submission.
	if row.SourceKey == "" {
		t.Fatalf("expected archived source key")
	}
	if d.storage.opts["sources/"+row.SourceKey].ContentEncoding != "zstd" {
		t.Fatalf("expected zstd encoded archive")
	}
	restored, err := svc.archiver.get(context.Background(), row.SourceKey)
	if err != nil || restored != "int main(){}" {
		t.Fatalf("archive round trip = %q, %v", restored, err)
	}
	msgs := d.producer.messages[defaultJudgedTopic]
	if len(msgs) != 1 || msgs[0].ID != res.SubmissionID {
		t.Fatalf("expected one judged event, got %d", len(msgs))
	}
	var event JudgedEvent
	if err := json.Unmarshal(msgs[0].Body, &event); err != nil || event.Status != "Accepted" || event.Cases != 3 {
		t.Fatalf("unexpected event %+v, %v", event, err)
	}
	if n, err := testutil.GatherAndCount(d.metrics.Registry(), "codearena_submissions_total"); err != nil || n != 1 {
		t.Fatalf("expected one submissions series, got %d (%v)", n, err)
	}
}

func TestSubmitWrongAnswerDoesNotMarkSolved(t *testing.T) {
	svc, d := newTestService(t, nil)
	d.grader.verdicts = map[int]model.Verdict{2: model.VerdictTimeLimit}

	res, err := svc.Submit(context.Background(), input())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != model.StatusWrongAnswer || res.Message != "Wrong Answer" {
		t.Fatalf("coarse policy must report wrong answer, got %s", res.Status)
	}
	if res.Cases[1].Verdict != model.VerdictTimeLimit || res.Cases[1].Passed {
		t.Fatalf("fine verdict must be kept per case: %+v", res.Cases[1])
	}
	if d.progress.calls != 0 {
		t.Fatalf("wrong answer must not mark solved")
	}
	if d.submissions.count() != 1 {
		t.Fatalf("every attempt is recorded")
	}
}

func TestSubmitStrictPolicy(t *testing.T) {
	svc, d := newTestService(t, func(cfg *Config, _ *deps) { cfg.Policy = runner.PolicyStrict })
	d.grader.verdicts = map[int]model.Verdict{2: model.VerdictRuntimeError, 3: model.VerdictTimeLimit}

	res, err := svc.Submit(context.Background(), input())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != model.StatusRuntimeError || res.Message != "Runtime Error" {
		t.Fatalf("strict policy must report the first failure, got %s", res.Status)
	}
}

func TestSubmitRejectsBeforeGrading(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SubmitInput)
		want   appErr.ErrorCode
	}{
		{name: "unknown language", mutate: func(in *SubmitInput) { in.Language = "cobol" }, want: appErr.LanguageNotSupported},
		{name: "empty code", mutate: func(in *SubmitInput) { in.SourceCode = "  " }, want: appErr.ValidationFailed},
		{name: "missing problem", mutate: func(in *SubmitInput) { in.ProblemID = 0 }, want: appErr.ValidationFailed},
		{name: "code too large", mutate: func(in *SubmitInput) { in.SourceCode = strings.Repeat("x", 70*1024) }, want: appErr.CodeTooLarge},
		{name: "unknown problem", mutate: func(in *SubmitInput) { in.ProblemID = 99 }, want: appErr.ProblemNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, d := newTestService(t, nil)
			in := input()
			tt.mutate(&in)
			_, err := svc.Submit(context.Background(), in)
			if got := appErr.GetCode(err); got != tt.want {
				t.Fatalf("code = %v, want %v (%v)", got, tt.want, err)
			}
			if d.grader.Calls() != 0 || d.submissions.count() != 0 {
				t.Fatalf("rejected submission must not be graded or recorded")
			}
		})
	}
}

func TestSubmitLanguageByNumericID(t *testing.T) {
	svc, d := newTestService(t, nil)
	in := input()
	in.Language = "71"
	if _, err := svc.Submit(context.Background(), in); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if row := d.submissions.only(t); row.Language != "python" {
		t.Fatalf("expected canonical language key, got %q", row.Language)
	}
}

func TestSubmitGradingFailures(t *testing.T) {
	tests := []struct {
		name      string
		problemID int64
		err       error
		want      appErr.ErrorCode
		retryable bool
	}{
		{
			name:      "judge unavailable",
			problemID: 1,
			err:       &runner.GradingError{CaseIndex: 1, Err: fmt.Errorf("%w: timeout", model.ErrJudgeUnavailable)},
			want:      appErr.JudgeUnavailable,
			retryable: true,
		},
		{
			name:      "judge rejected",
			problemID: 1,
			err:       &runner.GradingError{CaseIndex: 0, Err: model.ErrJudgeRejected},
			want:      appErr.JudgeRejected,
		},
		{name: "no test cases", problemID: 2, want: appErr.ProblemDataInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, d := newTestService(t, nil)
			d.grader.err = tt.err
			in := input()
			in.ProblemID = tt.problemID
			res, err := svc.Submit(context.Background(), in)
			if res != nil {
				t.Fatalf("grading failure must not produce a result")
			}
			if got := appErr.GetCode(err); got != tt.want {
				t.Fatalf("code = %v, want %v (%v)", got, tt.want, err)
			}
			if appErr.IsRetryable(err) != tt.retryable {
				t.Fatalf("retryable = %v, want %v", appErr.IsRetryable(err), tt.retryable)
			}
			if d.submissions.count() != 0 || d.progress.calls != 0 || len(d.producer.messages) != 0 {
				t.Fatalf("grading failure must not record anything")
			}
		})
	}
}

func TestSubmitCallerCancelDuringGrading(t *testing.T) {
	svc, d := newTestService(t, nil)
	d.grader.err = context.Canceled
	_, err := svc.Submit(context.Background(), input())
	if err == nil || appErr.GetCode(err) == appErr.Success {
		t.Fatalf("expected error")
	}
	if d.submissions.count() != 0 {
		t.Fatalf("cancelled grading must record nothing")
	}
}

func TestSubmitPersistsAfterLateDisconnect(t *testing.T) {
	svc, d := newTestService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	d.grader.after = cancel

	if _, err := svc.Submit(ctx, input()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.submissions.count() != 1 {
		t.Fatalf("graded submission must be recorded after disconnect")
	}
	for _, e := range d.submissions.ctxErrs {
		if e != nil {
			t.Fatalf("persistence ran under a cancelled context: %v", e)
		}
	}
}

func TestSubmitContestRejectedBeforeGrading(t *testing.T) {
	svc, d := newTestService(t, nil)
	d.gate.checkErr = appErr.New(appErr.NotRegistered)
	in := input()
	in.ContestID = 3

	_, err := svc.Submit(context.Background(), in)
	if !appErr.Is(err, appErr.NotRegistered) {
		t.Fatalf("expected not registered, got %v", err)
	}
	if d.grader.Calls() != 0 || d.submissions.count() != 0 || d.gate.applyCalls != 0 {
		t.Fatalf("rejected contest submission must not be graded, recorded or ranked")
	}
}

func TestSubmitContestUpdatesLeaderboard(t *testing.T) {
	svc, d := newTestService(t, nil)
	in := input()
	in.ContestID = 3

	res, err := svc.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Contest == nil || !res.Contest.Updated || res.Contest.Score != 100 {
		t.Fatalf("unexpected contest result %+v", res.Contest)
	}
	if row := d.submissions.only(t); row.ContestID != 3 {
		t.Fatalf("contest id must be recorded, got %d", row.ContestID)
	}
	if len(d.gate.applied) != 1 || !d.gate.applied[0] {
		t.Fatalf("expected one accepted leaderboard update, got %v", d.gate.applied)
	}
}

func TestSubmitContestWrongAnswerStillCountsAttempt(t *testing.T) {
	svc, d := newTestService(t, nil)
	d.grader.verdicts = map[int]model.Verdict{3: model.VerdictFail}
	in := input()
	in.ContestID = 3

	res, err := svc.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(d.gate.applied) != 1 || d.gate.applied[0] || res.Contest.Attempts != 1 {
		t.Fatalf("wrong answer must be applied as an attempt: %v %+v", d.gate.applied, res.Contest)
	}
}

func TestSubmitLeaderboardFailureIsReported(t *testing.T) {
	svc, d := newTestService(t, nil)
	d.gate.applyErr = errors.New("redis down")
	in := input()
	in.ContestID = 3

	res, err := svc.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("recorded submission must still be returned: %v", err)
	}
	if res.Contest == nil || res.Contest.Updated {
		t.Fatalf("expected a not-updated contest result, got %+v", res.Contest)
	}
	if d.gate.applyCalls != 3 {
		t.Fatalf("expected 3 bounded attempts, got %d", d.gate.applyCalls)
	}
	if d.submissions.count() != 1 {
		t.Fatalf("submission must stay recorded")
	}
	if n, err := testutil.GatherAndCount(d.metrics.Registry(), "codearena_leaderboard_updates_total"); err != nil || n != 1 {
		t.Fatalf("expected the failed leaderboard series, got %d (%v)", n, err)
	}
}

func TestSubmitBestEffortSideEffects(t *testing.T) {
	svc, d := newTestService(t, nil)
	d.storage.putErr = errors.New("bucket gone")
	d.producer.err = errors.New("broker down")

	res, err := svc.Submit(context.Background(), input())
	if err != nil {
		t.Fatalf("side effect failures must not fail the submission: %v", err)
	}
	row := d.submissions.only(t)
	if row.SourceKey != "" || row.SubmissionID != res.SubmissionID {
		t.Fatalf("unexpected row %+v", row)
	}
}

func TestSubmitIdempotentReplay(t *testing.T) {
	svc, d := newTestService(t, nil)
	in := input()
	in.IdempotencyKey = "retry-1"

	first, err := svc.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := svc.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if second.SubmissionID != first.SubmissionID || second.Status != first.Status {
		t.Fatalf("replay must return the first submission")
	}
	if d.grader.Calls() != 1 || d.submissions.count() != 1 {
		t.Fatalf("replay must not grade again")
	}
}

func TestSubmitIdempotencyKeyIsScopedToRequest(t *testing.T) {
	svc, d := newTestService(t, nil)
	in := input()
	in.IdempotencyKey = "shared"
	first, err := svc.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	t.Run("other user gets their own submission", func(t *testing.T) {
		other := in
		other.UserID = 8
		res, err := svc.Submit(context.Background(), other)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if res.SubmissionID == first.SubmissionID {
			t.Fatalf("user 8 was handed user 7's submission")
		}
	})

	t.Run("unregistered user is rejected before any replay", func(t *testing.T) {
		d.gate.checkErr = appErr.New(appErr.NotRegistered)
		defer func() { d.gate.checkErr = nil }()
		contest := in
		contest.ContestID = 5
		if _, err := svc.Submit(context.Background(), contest); !appErr.Is(err, appErr.NotRegistered) {
			t.Fatalf("expected not registered, got %v", err)
		}
	})

	for name, mutate := range map[string]func(*SubmitInput){
		"different problem": func(in *SubmitInput) { in.ProblemID = 2 },
		"different contest": func(in *SubmitInput) { in.ContestID = 5 },
		"different source":  func(in *SubmitInput) { in.SourceCode = "int main(){return 0;}" },
	} {
		t.Run(name, func(t *testing.T) {
			reused := in
			mutate(&reused)
			if _, err := svc.Submit(context.Background(), reused); !appErr.Is(err, appErr.IdempotencyConflict) {
				t.Fatalf("expected idempotency conflict, got %v", err)
			}
		})
	}

	if d.grader.Calls() != 2 {
		t.Fatalf("only the first submission and user 8's should be graded, got %d", d.grader.Calls())
	}
}

func TestSubmitLeaderboardRetryAfterLostReplyCountsOnce(t *testing.T) {
	opened := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	var board *leaderboard.Store
	svc, _ := newTestService(t, func(cfg *Config, _ *deps) {
		board = leaderboard.NewStore(&lostReplyCache{Cache: cfg.Cache}, nil)
		repo := &oneContestRepo{contest: contestRepo.Contest{ID: 5, StartTime: opened, DurationMinutes: 120}}
		cfg.Contests = contestService.NewContestService(repo, board, func() time.Time { return opened.Add(10 * time.Minute) })
	})
	in := input()
	in.ContestID = 5

	res, err := svc.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Contest == nil || !res.Contest.Updated || res.Contest.Score != 100 || res.Contest.Gained != 100 {
		t.Fatalf("retry should report the first application, got %+v", res.Contest)
	}

	entries, err := board.Entries(context.Background(), 5)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Score != 100 || entries[0].Problems[1].Attempts != 1 {
		t.Fatalf("one accepted submission must count once, got %+v", entries)
	}
}

func TestSubmitIdempotencyReleasedOnFailure(t *testing.T) {
	svc, d := newTestService(t, nil)
	d.grader.err = &runner.GradingError{Err: model.ErrJudgeUnavailable}
	in := input()
	in.IdempotencyKey = "retry-2"

	if _, err := svc.Submit(context.Background(), in); !appErr.Is(err, appErr.JudgeUnavailable) {
		t.Fatalf("expected judge unavailable, got %v", err)
	}
	if d.redis.Exists(idempotencyCacheKey(7, "retry-2")) {
		t.Fatalf("failed submission must release its idempotency key")
	}

	d.grader.err = nil
	if _, err := svc.Submit(context.Background(), in); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestSubmitRateLimit(t *testing.T) {
	svc, _ := newTestService(t, func(cfg *Config, _ *deps) {
		cfg.RateLimit = RateLimitConfig{UserMax: 1, Window: time.Minute}
	})
	if _, err := svc.Submit(context.Background(), input()); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := svc.Submit(context.Background(), input())
	if !appErr.Is(err, appErr.SubmitTooFrequently) {
		t.Fatalf("expected rate limit, got %v", err)
	}
}

func TestRecordInTransaction(t *testing.T) {
	c, _ := newTestCache(t)
	fake := dbtest.New(nil, func(query string, args []interface{}) (db.Result, error) {
		return dbtest.Result{Affected: 1}, nil
	})
	svc, _ := newTestService(t, func(cfg *Config, _ *deps) {
		cfg.DB = db.NewStaticProvider(fake)
		cfg.SubmissionRepo = repository.NewSubmissionRepository(fake, c)
		cfg.ProgressRepo = repository.NewProgressRepository(fake)
	})

	if _, err := svc.Submit(context.Background(), input()); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if fake.Commits() != 1 {
		t.Fatalf("expected one commit, got %d", fake.Commits())
	}
	for _, substr := range []string{"INSERT INTO submissions", "INSERT IGNORE INTO user_solved_problems"} {
		calls := fake.CallsMatching(substr)
		if len(calls) != 1 || !calls[0].InTx {
			t.Fatalf("%s must run once inside the transaction: %+v", substr, calls)
		}
	}
}

func TestRecordRollsBackWhenProgressFails(t *testing.T) {
	c, _ := newTestCache(t)
	fake := dbtest.New(nil, func(query string, args []interface{}) (db.Result, error) {
		if strings.Contains(query, "user_solved_problems") {
			return nil, errors.New("deadlock")
		}
		return dbtest.Result{Affected: 1}, nil
	})
	svc, _ := newTestService(t, func(cfg *Config, _ *deps) {
		cfg.DB = db.NewStaticProvider(fake)
		cfg.SubmissionRepo = repository.NewSubmissionRepository(fake, c)
		cfg.ProgressRepo = repository.NewProgressRepository(fake)
	})

	_, err := svc.Submit(context.Background(), input())
	if !appErr.Is(err, appErr.DatabaseError) {
		t.Fatalf("expected database error, got %v", err)
	}
	if fake.Rollbacks() != 1 || fake.Commits() != 0 {
		t.Fatalf("expected rollback, commits=%d rollbacks=%d", fake.Commits(), fake.Rollbacks())
	}
}
