package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	"codearena/internal/common/mq"
	"codearena/internal/common/storage"
	"codearena/internal/contest/leaderboard"
	contestRepo "codearena/internal/contest/repository"
	contestService "codearena/internal/contest/service"
	"codearena/internal/judge/model"
	"codearena/internal/judge/runner"
	problemRepo "codearena/internal/problem/repository"
	"codearena/internal/submit/repository"
	appErr "codearena/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeProblems struct {
	problems map[int64]problemRepo.Problem
}

func (f *fakeProblems) LoadForGrading(ctx context.Context, problemID int64) (problemRepo.Problem, error) {
	p, ok := f.problems[problemID]
	if !ok {
		return problemRepo.Problem{}, appErr.New(appErr.ProblemNotFound)
	}
	return p, nil
}

// fakeGrader answers every case with the verdict configured for its ordinal.
type fakeGrader struct {
	mu       sync.Mutex
	calls    int
	verdicts map[int]model.Verdict
	err      error
	// after runs once grading is done, before returning.
	after func()
	last  runner.Submission
}

func (g *fakeGrader) Run(ctx context.Context, sub runner.Submission, cases []model.TestCase) ([]model.CaseOutcome, error) {
	g.mu.Lock()
	g.calls++
	g.last = sub
	g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	if len(cases) == 0 {
		return nil, runner.ErrNoTestCases
	}
	out := make([]model.CaseOutcome, len(cases))
	for i, tc := range cases {
		v, ok := g.verdicts[tc.Ordinal]
		if !ok {
			v = model.VerdictPass
		}
		out[i] = model.CaseOutcome{
			Index:    i,
			Sample:   tc.Sample,
			Verdict:  v,
			Stdout:   "out-" + tc.Input,
			Stderr:   "err-" + tc.Input,
			TimeMs:   10,
			MemoryKB: 100,
		}
	}
	if g.after != nil {
		g.after()
	}
	return out, nil
}

func (g *fakeGrader) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeSubmissions struct {
	mu        sync.Mutex
	rows      map[string]*repository.Submission
	order     []string
	createErr error
	ctxErrs   []error
}

func newFakeSubmissions() *fakeSubmissions {
	return &fakeSubmissions{rows: map[string]*repository.Submission{}}
}

func (f *fakeSubmissions) Create(ctx context.Context, tx db.Transaction, submission *repository.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.createErr != nil {
		return f.createErr
	}
	if !submission.Status.Terminal() {
		return repository.ErrNotTerminal
	}
	cp := *submission
	f.rows[submission.SubmissionID] = &cp
	f.order = append(f.order, submission.SubmissionID)
	return nil
}

func (f *fakeSubmissions) GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*repository.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[submissionID]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	cp := *row
	return &cp, nil
}

func (f *fakeSubmissions) ListByUserProblem(ctx context.Context, userID, problemID int64, limit int) ([]*repository.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Submission
	for i := len(f.order) - 1; i >= 0; i-- {
		row := f.rows[f.order[i]]
		if row.UserID == userID && row.ProblemID == problemID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSubmissions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeSubmissions) only(t *testing.T) *repository.Submission {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.order) != 1 {
		t.Fatalf("expected exactly one recorded submission, got %d", len(f.order))
	}
	return f.rows[f.order[0]]
}

type fakeProgress struct {
	mu     sync.Mutex
	solved map[[2]int64]time.Time
	err    error
	calls  int
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{solved: map[[2]int64]time.Time{}}
}

func (f *fakeProgress) MarkSolved(ctx context.Context, tx db.Transaction, userID, problemID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	key := [2]int64{userID, problemID}
	if _, ok := f.solved[key]; ok {
		return false, nil
	}
	f.solved[key] = time.Now()
	return true, nil
}

func (f *fakeProgress) ListSolved(ctx context.Context, userID int64) ([]repository.SolvedProblem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.SolvedProblem
	for k, at := range f.solved {
		if k[0] == userID {
			out = append(out, repository.SolvedProblem{ProblemID: k[1], SolvedAt: at})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProblemID < out[j].ProblemID })
	return out, nil
}

type fakeGate struct {
	now        time.Time
	checkErr   error
	applyErr   error
	applyCalls int
	applied    []bool
}

func (g *fakeGate) Now() time.Time { return g.now }

func (g *fakeGate) CheckSubmission(ctx context.Context, contestID, userID, problemID int64, now time.Time) (*contestService.Admission, error) {
	if g.checkErr != nil {
		return nil, g.checkErr
	}
	return &contestService.Admission{At: now, Elapsed: 5 * time.Minute}, nil
}

func (g *fakeGate) ApplySubmission(ctx context.Context, adm *contestService.Admission, submissionID string, userID, problemID int64, accepted bool) (leaderboard.ApplyResult, error) {
	g.applyCalls++
	if err := ctx.Err(); err != nil {
		return leaderboard.ApplyResult{}, err
	}
	if g.applyErr != nil {
		return leaderboard.ApplyResult{}, g.applyErr
	}
	g.applied = append(g.applied, accepted)
	res := leaderboard.ApplyResult{Attempts: int64(len(g.applied))}
	if accepted {
		res.Score, res.Gained = 100, 100
	}
	return res, nil
}

// oneContestRepo serves a single running contest that holds problem 1 and admits everyone.
type oneContestRepo struct {
	contest contestRepo.Contest
}

func (r *oneContestRepo) GetByID(ctx context.Context, contestID int64) (contestRepo.Contest, error) {
	if contestID != r.contest.ID {
		return contestRepo.Contest{}, contestRepo.ErrContestNotFound
	}
	return r.contest, nil
}

func (r *oneContestRepo) List(ctx context.Context) ([]contestRepo.Contest, error) {
	return []contestRepo.Contest{r.contest}, nil
}

func (r *oneContestRepo) ListProblemIDs(ctx context.Context, contestID int64) ([]int64, error) {
	return []int64{1}, nil
}

func (r *oneContestRepo) HasProblem(ctx context.Context, contestID, problemID int64) (bool, error) {
	return problemID == 1, nil
}

func (r *oneContestRepo) IsRegistered(ctx context.Context, contestID, userID int64) (bool, error) {
	return true, nil
}

func (r *oneContestRepo) Register(ctx context.Context, contestID, userID int64, now time.Time) error {
	return nil
}

// lostReplyCache runs the first script for real and then reports a timeout,
// as when Redis answers after the client gave up.
type lostReplyCache struct {
	cache.Cache
	mu      sync.Mutex
	dropped bool
}

func (c *lostReplyCache) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	res, err := c.Cache.Eval(ctx, script, keys, args...)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil && !c.dropped {
		c.dropped = true
		return nil, context.DeadlineExceeded
	}
	return res, err
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	opts    map[string]storage.PutOptions
	putErr  error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}, opts: map[string]storage.PutOptions{}}
}

func (f *fakeStorage) PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, opts storage.PutOptions) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if int64(len(data)) != sizeBytes {
		return errors.New("size mismatch")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+objectKey] = data
	f.opts[bucket+"/"+objectKey] = opts
	return nil
}

func (f *fakeStorage) GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[bucket+"/"+objectKey]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type fakeProducer struct {
	mu       sync.Mutex
	messages map[string][]*mq.Message
	err      error
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messages == nil {
		f.messages = map[string][]*mq.Message{}
	}
	f.messages[topic] = append(f.messages[topic], message)
	return nil
}

func (f *fakeProducer) Ping(ctx context.Context) error { return nil }

func (f *fakeProducer) Close() error { return nil }

func newTestCache(t *testing.T) (cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return c, mr
}
