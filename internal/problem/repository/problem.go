package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
)

const (
	defaultProblemTTL      = 30 * time.Minute
	defaultProblemEmptyTTL = 5 * time.Minute
	problemKeyPrefix       = "problem:full:"
)

var (
	ErrProblemNotFound = errors.New("problem not found")
)

// ProblemRepository reads problems together with their ordered test cases.
type ProblemRepository interface {
	GetWithTestCases(ctx context.Context, problemID int64) (Problem, error)
}

type MySQLProblemRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewProblemRepository(database db.Database, cacheClient cache.Cache) ProblemRepository {
	return NewProblemRepositoryWithTTL(database, cacheClient, defaultProblemTTL, defaultProblemEmptyTTL)
}

func NewProblemRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) ProblemRepository {
	if ttl <= 0 {
		ttl = defaultProblemTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultProblemEmptyTTL
	}
	return &MySQLProblemRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

// GetWithTestCases returns the problem and its test cases ordered by ordinal.
// A problem without test cases is returned as is; grading decides what that means.
func (r *MySQLProblemRepository) GetWithTestCases(ctx context.Context, problemID int64) (Problem, error) {
	if r.cache == nil {
		return r.getFromDB(ctx, problemID)
	}
	problem, err := cache.GetWithCached[Problem](
		ctx,
		r.cache,
		problemKey(problemID),
		cache.JitterTTL(r.ttl),
		cache.JitterTTL(r.emptyTTL),
		func(p Problem) bool { return p.ID == 0 },
		marshalProblem,
		unmarshalProblem,
		func(ctx context.Context) (Problem, error) {
			p, err := r.getFromDB(ctx, problemID)
			if errors.Is(err, ErrProblemNotFound) {
				return Problem{}, nil
			}
			return p, err
		},
	)
	if err != nil {
		return Problem{}, err
	}
	if problem.ID == 0 {
		return Problem{}, ErrProblemNotFound
	}
	return problem, nil
}

func (r *MySQLProblemRepository) getFromDB(ctx context.Context, problemID int64) (Problem, error) {
	query := `
		SELECT id, title, time_limit_ms, memory_limit_kb, created_at
		FROM problems
		WHERE id = ?`
	var p Problem
	err := r.db.QueryRow(ctx, query, problemID).Scan(&p.ID, &p.Title, &p.TimeLimitMs, &p.MemoryLimitKB, &p.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return Problem{}, ErrProblemNotFound
		}
		return Problem{}, err
	}

	cases, err := r.listTestCases(ctx, problemID)
	if err != nil {
		return Problem{}, err
	}
	p.TestCases = cases
	return p, nil
}

func (r *MySQLProblemRepository) listTestCases(ctx context.Context, problemID int64) ([]TestCase, error) {
	query := `
		SELECT ordinal, input, expected_output, is_sample
		FROM problem_test_cases
		WHERE problem_id = ?
		ORDER BY ordinal ASC`
	rows, err := r.db.Query(ctx, query, problemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []TestCase
	for rows.Next() {
		var tc TestCase
		if err := rows.Scan(&tc.Ordinal, &tc.Input, &tc.ExpectedOutput, &tc.IsSample); err != nil {
			return nil, err
		}
		cases = append(cases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cases, nil
}

func problemKey(problemID int64) string {
	return problemKeyPrefix + strconv.FormatInt(problemID, 10)
}

func marshalProblem(p Problem) string {
	payload, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(payload)
}

func unmarshalProblem(data string) (Problem, error) {
	if data == "" {
		return Problem{}, nil
	}
	var p Problem
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Problem{}, err
	}
	return p, nil
}
