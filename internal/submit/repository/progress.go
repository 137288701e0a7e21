package repository

import (
	"context"
	"errors"
	"time"

	"codearena/internal/common/db"
)

// SolvedProblem is one entry of a user's solved set.
type SolvedProblem struct {
	ProblemID int64     `json:"problem_id"`
	SolvedAt  time.Time `json:"solved_at"`
}

// ProgressRepository maintains the per-user solved-problem set.
type ProgressRepository interface {
	// MarkSolved adds the problem to the set. Re-adding is a no-op and reports added=false.
	MarkSolved(ctx context.Context, tx db.Transaction, userID, problemID int64) (bool, error)
	ListSolved(ctx context.Context, userID int64) ([]SolvedProblem, error)
}

// MySQLProgressRepository stores the set in user_solved_problems keyed by (user_id, problem_id).
type MySQLProgressRepository struct {
	db db.Database
}

// NewProgressRepository creates a progress repository.
func NewProgressRepository(database db.Database) ProgressRepository {
	return &MySQLProgressRepository{db: database}
}

func (r *MySQLProgressRepository) MarkSolved(ctx context.Context, tx db.Transaction, userID, problemID int64) (bool, error) {
	if userID <= 0 || problemID <= 0 {
		return false, errors.New("userID and problemID are required")
	}
	query := "INSERT IGNORE INTO user_solved_problems (user_id, problem_id, solved_at) VALUES (?, ?, ?)"
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query, userID, problemID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *MySQLProgressRepository) ListSolved(ctx context.Context, userID int64) ([]SolvedProblem, error) {
	query := "SELECT problem_id, solved_at FROM user_solved_problems WHERE user_id = ? ORDER BY solved_at ASC, problem_id ASC"
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]SolvedProblem, 0)
	for rows.Next() {
		var sp SolvedProblem
		if err := rows.Scan(&sp.ProblemID, &sp.SolvedAt); err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
