package leaderboard

import (
	"sort"
	"time"
)

// ProblemStat is the per-problem part of an entry.
type ProblemStat struct {
	Score      int64     `json:"score"`
	Attempts   int64     `json:"attempts"`
	Wrong      int64     `json:"wrong"`
	Solved     bool      `json:"solved"`
	LastSubmit time.Time `json:"last_submit"`
}

// Entry is one user's standing in a contest.
type Entry struct {
	UserID   int64                 `json:"user_id"`
	Score    int64                 `json:"score"`
	Penalty  int64                 `json:"penalty"`
	Problems map[int64]ProblemStat `json:"problems,omitempty"`
}

// RankedEntry is an entry with its 1-based position.
type RankedEntry struct {
	Rank int `json:"rank"`
	Entry
}

// Rank orders entries by score desc, penalty asc, then user id asc.
// The input is not modified and no entry is dropped.
func Rank(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Penalty != b.Penalty {
			return a.Penalty < b.Penalty
		}
		return a.UserID < b.UserID
	})
	return out
}

// WithRanks numbers an already ranked slice from 1.
func WithRanks(ranked []Entry) []RankedEntry {
	out := make([]RankedEntry, len(ranked))
	for i, e := range ranked {
		out[i] = RankedEntry{Rank: i + 1, Entry: e}
	}
	return out
}
