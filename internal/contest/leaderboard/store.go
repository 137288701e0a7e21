// Package leaderboard keeps contest standings in Redis and ranks them.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"codearena/internal/common/cache"
)

// applyScript upserts one (contest, user) entry atomically.
// KEYS: score zset, penalty hash, user stats hash, version counter, applied submissions hash.
// ARGV: user, problem, accepted, reward, penalty, wrong attempt penalty, first accept only, unix ms, submission id.
// Returns {total score, total penalty, attempts on problem, gained}. A submission id
// seen before leaves the entry untouched and reports the gain of its first application.
const applyScript = `
local user = ARGV[1]
local problem = ARGV[2]
local accepted = ARGV[3] == '1'
local reward = tonumber(ARGV[4])
local penalty = tonumber(ARGV[5])
local wrongPenalty = tonumber(ARGV[6])
local firstOnly = ARGV[7] == '1'
local ts = ARGV[8]
local sid = ARGV[9]

if sid ~= '' then
  local prev = redis.call('HGET', KEYS[5], sid)
  if prev then
    local total = redis.call('ZSCORE', KEYS[1], user) or '0'
    local totalPenalty = tonumber(redis.call('HGET', KEYS[2], user) or '0')
    local attempts = tonumber(redis.call('HGET', KEYS[3], problem .. ':attempts') or '0')
    return {tostring(total), totalPenalty, attempts, tonumber(prev)}
  end
end

local solved = redis.call('HGET', KEYS[3], problem .. ':solved') == '1'
local attempts = redis.call('HINCRBY', KEYS[3], problem .. ':attempts', 1)
local gained = 0
local added = 0
if accepted and not (solved and firstOnly) then
  gained = reward
  if not solved then
    local wrong = tonumber(redis.call('HGET', KEYS[3], problem .. ':wrong') or '0')
    added = penalty + wrongPenalty * wrong
    redis.call('HSET', KEYS[3], problem .. ':solved', '1')
  end
elseif not accepted and not solved then
  redis.call('HINCRBY', KEYS[3], problem .. ':wrong', 1)
end
redis.call('HINCRBY', KEYS[3], problem .. ':score', gained)
redis.call('HSET', KEYS[3], problem .. ':time', ts)
local total = redis.call('ZINCRBY', KEYS[1], gained, user)
local totalPenalty = redis.call('HINCRBY', KEYS[2], user, added)
redis.call('INCR', KEYS[4])
if sid ~= '' then
  redis.call('HSET', KEYS[5], sid, gained)
end
return {tostring(total), totalPenalty, attempts, gained}
`

// snapshotScript reads a whole board at once.
// KEYS: score zset, penalty hash. ARGV: user stats key prefix.
// Returns {score pairs, penalty pairs, stats pairs per member in score order}.
const snapshotScript = `
local members = redis.call('ZREVRANGE', KEYS[1], 0, -1, 'WITHSCORES')
local out = {members, redis.call('HGETALL', KEYS[2])}
for i = 1, #members, 2 do
  out[#out + 1] = redis.call('HGETALL', ARGV[1] .. members[i])
end
return out
`

// Update is one graded contest submission.
type Update struct {
	ContestID   int64
	UserID      int64
	ProblemID   int64
	Accepted    bool
	SubmittedAt time.Time
	// Elapsed is the time since the contest started.
	Elapsed time.Duration
	// SubmissionID makes Apply idempotent: a retried update with the same id is not counted twice.
	SubmissionID string
}

// ApplyResult is the entry state right after an update.
type ApplyResult struct {
	Score    int64
	Penalty  int64
	Attempts int64
	Gained   int64
}

// Store maintains leaderboards in Redis. It never rewrites a whole board.
type Store struct {
	rdb    cache.Cache
	policy ScoringPolicy
}

// NewStore creates a Store. A nil policy means FixedReward{Reward: 100}.
func NewStore(rdb cache.Cache, policy ScoringPolicy) *Store {
	if policy == nil {
		policy = FixedReward{Reward: 100}
	}
	return &Store{rdb: rdb, policy: policy}
}

// Policy returns the scoring policy in use.
func (s *Store) Policy() ScoringPolicy {
	return s.policy
}

// Apply records the submission on the user's entry, creating it on first touch.
func (s *Store) Apply(ctx context.Context, u Update) (ApplyResult, error) {
	if u.ContestID <= 0 || u.UserID <= 0 || u.ProblemID <= 0 {
		return ApplyResult{}, errors.New("contest, user and problem ids are required")
	}
	if u.SubmittedAt.IsZero() {
		u.SubmittedAt = time.Now()
	}
	params := s.policy.Params(u.Elapsed)
	keys := []string{
		scoreKey(u.ContestID),
		penaltyKey(u.ContestID),
		statsKey(u.ContestID, u.UserID),
		versionKey(u.ContestID),
		appliedKey(u.ContestID),
	}
	raw, err := s.rdb.Eval(ctx, applyScript, keys,
		u.UserID,
		u.ProblemID,
		boolArg(u.Accepted),
		params.Reward,
		params.Penalty,
		params.WrongAttemptPenalty,
		boolArg(params.FirstAcceptOnly),
		u.SubmittedAt.UnixMilli(),
		u.SubmissionID,
	)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("apply leaderboard update: %w", err)
	}
	return parseApplyResult(raw)
}

// Entries returns every entry of the contest in no particular order. The board
// is read in one script so scores, penalties and stats come from the same instant.
func (s *Store) Entries(ctx context.Context, contestID int64) ([]Entry, error) {
	raw, err := s.rdb.Eval(ctx, snapshotScript,
		[]string{scoreKey(contestID), penaltyKey(contestID)},
		statsKeyPrefix(contestID),
	)
	if err != nil {
		return nil, fmt.Errorf("read leaderboard: %w", err)
	}
	parts, ok := raw.([]interface{})
	if !ok || len(parts) < 2 {
		return nil, fmt.Errorf("unexpected snapshot reply %#v", raw)
	}
	members := stringPairs(parts[0])
	penalties := pairsToMap(stringPairs(parts[1]))
	if len(members) != len(parts)-2 {
		return nil, fmt.Errorf("snapshot has %d members but %d stats", len(members), len(parts)-2)
	}

	entries := make([]Entry, 0, len(members))
	for i, m := range members {
		userID, err := strconv.ParseInt(m[0], 10, 64)
		if err != nil {
			continue
		}
		score, _ := strconv.ParseFloat(m[1], 64)
		penalty, _ := strconv.ParseInt(penalties[m[0]], 10, 64)
		entries = append(entries, Entry{
			UserID:   userID,
			Score:    int64(score),
			Penalty:  penalty,
			Problems: parseStats(pairsToMap(stringPairs(parts[i+2]))),
		})
	}
	return entries, nil
}

// Version changes every time the contest's board changes.
func (s *Store) Version(ctx context.Context, contestID int64) (int64, error) {
	raw, err := s.rdb.Get(ctx, versionKey(contestID))
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func parseApplyResult(raw interface{}) (ApplyResult, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) != 4 {
		return ApplyResult{}, fmt.Errorf("unexpected script reply %#v", raw)
	}
	score, err := toInt64(values[0])
	if err != nil {
		return ApplyResult{}, err
	}
	out := ApplyResult{Score: score}
	for i, dst := range []*int64{&out.Penalty, &out.Attempts, &out.Gained} {
		if *dst, err = toInt64(values[i+1]); err != nil {
			return ApplyResult{}, err
		}
	}
	return out, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("parse script value %q: %w", n, err)
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("unexpected script value %#v", v)
	}
}

// stringPairs folds a flat [k1 v1 k2 v2 ...] reply into pairs.
func stringPairs(raw interface{}) [][2]string {
	flat, _ := raw.([]interface{})
	out := make([][2]string, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		out = append(out, [2]string{k, v})
	}
	return out
}

func pairsToMap(pairs [][2]string) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		out[p[0]] = p[1]
	}
	return out
}

func parseStats(fields map[string]string) map[int64]ProblemStat {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[int64]ProblemStat)
	for field, value := range fields {
		idx := strings.LastIndexByte(field, ':')
		if idx <= 0 {
			continue
		}
		problemID, err := strconv.ParseInt(field[:idx], 10, 64)
		if err != nil {
			continue
		}
		stat := out[problemID]
		n, _ := strconv.ParseInt(value, 10, 64)
		switch field[idx+1:] {
		case "score":
			stat.Score = n
		case "attempts":
			stat.Attempts = n
		case "wrong":
			stat.Wrong = n
		case "solved":
			stat.Solved = value == "1"
		case "time":
			stat.LastSubmit = time.UnixMilli(n).UTC()
		}
		out[problemID] = stat
	}
	return out
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
