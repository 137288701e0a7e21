package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	"codearena/internal/judge/model"
)

const (
	defaultSubmissionCacheTTL      = 30 * time.Minute
	defaultSubmissionCacheEmptyTTL = 5 * time.Minute
	submissionCacheKeyPrefix       = "submission:"
	defaultListLimit               = 50
	maxListLimit                   = 200
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrNotTerminal        = errors.New("submission status is not terminal")
)

// Submission is one graded attempt. Rows are written once, already terminal, and never updated.
type Submission struct {
	SubmissionID string              `json:"submission_id"`
	ProblemID    int64               `json:"problem_id"`
	UserID       int64               `json:"user_id"`
	ContestID    int64               `json:"contest_id,omitempty"`
	Language     string              `json:"language"`
	SourceCode   string              `json:"source_code,omitempty"`
	SourceKey    string              `json:"source_key,omitempty"`
	SourceHash   string              `json:"source_hash"`
	Status       model.Status        `json:"status"`
	TimeMs       int64               `json:"time_ms"`
	MemoryKB     int64               `json:"memory_kb"`
	Results      []model.CaseOutcome `json:"results,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

// SubmissionRepository defines submission persistence interfaces.
type SubmissionRepository interface {
	Create(ctx context.Context, tx db.Transaction, submission *Submission) error
	GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*Submission, error)
	ListByUserProblem(ctx context.Context, userID, problemID int64, limit int) ([]*Submission, error)
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewSubmissionRepository creates a submission repository with defaults.
func NewSubmissionRepository(database db.Database, cacheClient cache.Cache) SubmissionRepository {
	return NewSubmissionRepositoryWithTTL(database, cacheClient, defaultSubmissionCacheTTL, defaultSubmissionCacheEmptyTTL)
}

// NewSubmissionRepositoryWithTTL creates a submission repository with custom TTL.
func NewSubmissionRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) SubmissionRepository {
	if ttl <= 0 {
		ttl = defaultSubmissionCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultSubmissionCacheEmptyTTL
	}
	return &MySQLSubmissionRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

const (
	submissionColumns = "submission_id, problem_id, user_id, contest_id, language, source_code, source_key, source_hash, status, time_ms, memory_kb, results, created_at"
	listColumns       = "submission_id, problem_id, user_id, contest_id, language, status, time_ms, memory_kb, created_at"
)

// Create inserts a new submission row. Every attempt gets its own row.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, tx db.Transaction, submission *Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.SubmissionID == "" {
		return errors.New("submissionID is required")
	}
	if submission.ProblemID <= 0 {
		return errors.New("problemID is required")
	}
	if submission.UserID <= 0 {
		return errors.New("userID is required")
	}
	if submission.Language == "" {
		return errors.New("language is required")
	}
	if !submission.Status.Terminal() {
		return fmt.Errorf("%w: %q", ErrNotTerminal, submission.Status)
	}
	results, err := json.Marshal(submission.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO submissions
		(submission_id, problem_id, user_id, contest_id, language, source_code, source_key, source_hash, status, time_ms, memory_kb, results, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		submission.SubmissionID,
		submission.ProblemID,
		submission.UserID,
		nullableID(submission.ContestID),
		submission.Language,
		submission.SourceCode,
		submission.SourceKey,
		submission.SourceHash,
		string(submission.Status),
		submission.TimeMs,
		submission.MemoryKB,
		results,
		submission.CreatedAt,
	)
	if err != nil {
		return err
	}
	if r.cache != nil && tx == nil {
		r.setCache(ctx, submission)
	}
	return nil
}

// GetByID retrieves a submission by id.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, tx db.Transaction, submissionID string) (*Submission, error) {
	if submissionID == "" {
		return nil, errors.New("submissionID is required")
	}
	if r.cache != nil && tx == nil {
		submission, err := cache.GetWithCached[*Submission](
			ctx,
			r.cache,
			submissionCacheKey(submissionID),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(submission *Submission) bool { return submission == nil },
			marshalSubmission,
			unmarshalSubmission,
			func(ctx context.Context) (*Submission, error) {
				submission, err := r.getByIDFromDB(ctx, nil, submissionID)
				if err != nil {
					if errors.Is(err, ErrSubmissionNotFound) {
						return nil, nil
					}
					return nil, err
				}
				return submission, nil
			},
		)
		if err != nil {
			return nil, err
		}
		if submission == nil {
			return nil, ErrSubmissionNotFound
		}
		return submission, nil
	}
	return r.getByIDFromDB(ctx, tx, submissionID)
}

// ListByUserProblem returns the user's attempts on a problem, newest first.
// Source code and per-case results are not loaded.
func (r *MySQLSubmissionRepository) ListByUserProblem(ctx context.Context, userID, problemID int64, limit int) ([]*Submission, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query := "SELECT " + listColumns + " FROM submissions WHERE user_id = ? AND problem_id = ? ORDER BY id DESC LIMIT ?"
	rows, err := r.db.Query(ctx, query, userID, problemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*Submission, 0)
	for rows.Next() {
		submission := &Submission{}
		var contestID sql.NullInt64
		var status string
		if err := rows.Scan(
			&submission.SubmissionID,
			&submission.ProblemID,
			&submission.UserID,
			&contestID,
			&submission.Language,
			&status,
			&submission.TimeMs,
			&submission.MemoryKB,
			&submission.CreatedAt,
		); err != nil {
			return nil, err
		}
		submission.ContestID = contestID.Int64
		if submission.Status, err = parseStatus(status); err != nil {
			return nil, err
		}
		out = append(out, submission)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MySQLSubmissionRepository) getByIDFromDB(ctx context.Context, tx db.Transaction, submissionID string) (*Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE submission_id = ? LIMIT 1"
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, submissionID)
	submission := &Submission{}
	var (
		contestID sql.NullInt64
		status    string
		results   []byte
	)
	if err := row.Scan(
		&submission.SubmissionID,
		&submission.ProblemID,
		&submission.UserID,
		&contestID,
		&submission.Language,
		&submission.SourceCode,
		&submission.SourceKey,
		&submission.SourceHash,
		&status,
		&submission.TimeMs,
		&submission.MemoryKB,
		&results,
		&submission.CreatedAt,
	); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	submission.ContestID = contestID.Int64
	var err error
	if submission.Status, err = parseStatus(status); err != nil {
		return nil, err
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &submission.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
	}
	return submission, nil
}

func (r *MySQLSubmissionRepository) setCache(ctx context.Context, submission *Submission) {
	if submission == nil || r.cache == nil {
		return
	}
	payload := marshalSubmission(submission)
	if payload == "" {
		return
	}
	_ = r.cache.Set(ctx, submissionCacheKey(submission.SubmissionID), payload, cache.JitterTTL(r.ttl))
}

func nullableID(id int64) interface{} {
	if id <= 0 {
		return nil
	}
	return id
}

func submissionCacheKey(submissionID string) string {
	return submissionCacheKeyPrefix + submissionID
}

func marshalSubmission(submission *Submission) string {
	if submission == nil {
		return ""
	}
	data, err := json.Marshal(submission)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalSubmission(data string) (*Submission, error) {
	if data == "" || data == cache.NullCacheValue {
		return nil, nil
	}
	var submission Submission
	if err := json.Unmarshal([]byte(data), &submission); err != nil {
		return nil, err
	}
	return &submission, nil
}

func parseStatus(raw string) (model.Status, error) {
	status, ok := model.ParseStatus(raw)
	if !ok {
		return "", fmt.Errorf("unknown stored status %q", raw)
	}
	return status, nil
}
