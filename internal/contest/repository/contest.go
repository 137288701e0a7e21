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
	defaultContestTTL      = 10 * time.Minute
	defaultContestEmptyTTL = time.Minute
	contestKeyPrefix       = "contest:meta:"
)

var (
	ErrContestNotFound    = errors.New("contest not found")
	ErrAlreadyRegistered  = errors.New("already registered")
	ErrRegistrationClosed = errors.New("registration closed")
)

// ContestRepository reads contests and manages registrants.
type ContestRepository interface {
	GetByID(ctx context.Context, contestID int64) (Contest, error)
	List(ctx context.Context) ([]Contest, error)
	ListProblemIDs(ctx context.Context, contestID int64) ([]int64, error)
	HasProblem(ctx context.Context, contestID, problemID int64) (bool, error)
	IsRegistered(ctx context.Context, contestID, userID int64) (bool, error)
	// Register adds userID as a registrant if the contest has not started at now.
	Register(ctx context.Context, contestID, userID int64, now time.Time) error
}

type MySQLContestRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewContestRepository(database db.Database, cacheClient cache.Cache) ContestRepository {
	return NewContestRepositoryWithTTL(database, cacheClient, defaultContestTTL, defaultContestEmptyTTL)
}

func NewContestRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) ContestRepository {
	if ttl <= 0 {
		ttl = defaultContestTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultContestEmptyTTL
	}
	return &MySQLContestRepository{db: database, cache: cacheClient, ttl: ttl, emptyTTL: emptyTTL}
}

const contestColumns = "id, title, description, start_time, duration_minutes, created_at"

func (r *MySQLContestRepository) GetByID(ctx context.Context, contestID int64) (Contest, error) {
	if r.cache == nil {
		return r.getFromDB(ctx, contestID)
	}
	contest, err := cache.GetWithCached[Contest](
		ctx,
		r.cache,
		contestKeyPrefix+strconv.FormatInt(contestID, 10),
		cache.JitterTTL(r.ttl),
		cache.JitterTTL(r.emptyTTL),
		func(c Contest) bool { return c.ID == 0 },
		marshalContest,
		unmarshalContest,
		func(ctx context.Context) (Contest, error) {
			c, err := r.getFromDB(ctx, contestID)
			if errors.Is(err, ErrContestNotFound) {
				return Contest{}, nil
			}
			return c, err
		},
	)
	if err != nil {
		return Contest{}, err
	}
	if contest.ID == 0 {
		return Contest{}, ErrContestNotFound
	}
	return contest, nil
}

func (r *MySQLContestRepository) getFromDB(ctx context.Context, contestID int64) (Contest, error) {
	query := "SELECT " + contestColumns + " FROM contests WHERE id = ?"
	c, err := scanContest(r.db.QueryRow(ctx, query, contestID))
	if err != nil {
		if db.IsNoRows(err) {
			return Contest{}, ErrContestNotFound
		}
		return Contest{}, err
	}
	return c, nil
}

func (r *MySQLContestRepository) List(ctx context.Context) ([]Contest, error) {
	query := "SELECT " + contestColumns + " FROM contests ORDER BY start_time DESC, id DESC"
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Contest, 0)
	for rows.Next() {
		c, err := scanContest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MySQLContestRepository) ListProblemIDs(ctx context.Context, contestID int64) ([]int64, error) {
	query := "SELECT problem_id FROM contest_problems WHERE contest_id = ? ORDER BY position ASC, problem_id ASC"
	rows, err := r.db.Query(ctx, query, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *MySQLContestRepository) HasProblem(ctx context.Context, contestID, problemID int64) (bool, error) {
	query := "SELECT 1 FROM contest_problems WHERE contest_id = ? AND problem_id = ? LIMIT 1"
	return r.exists(ctx, query, contestID, problemID)
}

func (r *MySQLContestRepository) IsRegistered(ctx context.Context, contestID, userID int64) (bool, error) {
	query := "SELECT 1 FROM contest_registrants WHERE contest_id = ? AND user_id = ? LIMIT 1"
	return r.exists(ctx, query, contestID, userID)
}

// Register inserts the registrant only while the contest start time is still ahead,
// so the time check and the insert are one statement.
func (r *MySQLContestRepository) Register(ctx context.Context, contestID, userID int64, now time.Time) error {
	query := `
		INSERT INTO contest_registrants (contest_id, user_id, registered_at)
		SELECT id, ?, ? FROM contests WHERE id = ? AND start_time > ?`
	result, err := r.db.Exec(ctx, query, userID, now, contestID, now)
	if err != nil {
		// (contest_id, user_id) is the only unique key on the table.
		if db.IsDuplicateKey(err) {
			return ErrAlreadyRegistered
		}
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRegistrationClosed
	}
	return nil
}

func (r *MySQLContestRepository) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var one int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&one); err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func scanContest(scanner db.Scanner) (Contest, error) {
	var c Contest
	if err := scanner.Scan(&c.ID, &c.Title, &c.Description, &c.StartTime, &c.DurationMinutes, &c.CreatedAt); err != nil {
		return Contest{}, err
	}
	return c, nil
}

func marshalContest(c Contest) string {
	payload, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(payload)
}

func unmarshalContest(data string) (Contest, error) {
	if data == "" {
		return Contest{}, nil
	}
	var c Contest
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return Contest{}, err
	}
	return c, nil
}
