package leaderboard

import (
	"fmt"
	"strings"
	"time"
)

// ScoreParams are the per-submission inputs to the leaderboard update.
type ScoreParams struct {
	// Reward is added to the score on a counted accept.
	Reward int64
	// Penalty is added once, when the problem is first solved.
	Penalty int64
	// WrongAttemptPenalty is charged per wrong attempt made before the first solve.
	WrongAttemptPenalty int64
	// FirstAcceptOnly stops repeated accepts on a solved problem from scoring again.
	FirstAcceptOnly bool
}

// ScoringPolicy decides how a graded contest submission moves the leaderboard.
type ScoringPolicy interface {
	Name() string
	Params(elapsed time.Duration) ScoreParams
}

// FixedReward awards the same points for every accepted submission and never adds penalty.
type FixedReward struct {
	Reward int64
}

func (p FixedReward) Name() string { return "fixed" }

func (p FixedReward) Params(time.Duration) ScoreParams {
	return ScoreParams{Reward: p.Reward}
}

// ICPC scores a problem once. Penalty is the minutes elapsed since the contest
// started plus WrongAttemptPenalty for every rejected attempt before the solve.
type ICPC struct {
	Reward              int64
	WrongAttemptPenalty int64
}

func (p ICPC) Name() string { return "icpc" }

func (p ICPC) Params(elapsed time.Duration) ScoreParams {
	minutes := int64(elapsed / time.Minute)
	if minutes < 0 {
		minutes = 0
	}
	return ScoreParams{
		Reward:              p.Reward,
		Penalty:             minutes,
		WrongAttemptPenalty: p.WrongAttemptPenalty,
		FirstAcceptOnly:     true,
	}
}

// ScoringConfig selects a policy from configuration.
type ScoringConfig struct {
	Policy              string `yaml:"policy"`
	Reward              int64  `yaml:"reward"`
	WrongAttemptPenalty int64  `yaml:"wrongAttemptPenalty"`
}

// NewScoringPolicy builds the configured policy. Empty means fixed reward of 100.
func NewScoringPolicy(cfg ScoringConfig) (ScoringPolicy, error) {
	reward := cfg.Reward
	if reward <= 0 {
		reward = 100
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Policy)) {
	case "", "fixed":
		return FixedReward{Reward: reward}, nil
	case "icpc":
		penalty := cfg.WrongAttemptPenalty
		if penalty < 0 {
			penalty = 0
		}
		return ICPC{Reward: reward, WrongAttemptPenalty: penalty}, nil
	default:
		return nil, fmt.Errorf("unknown scoring policy %q", cfg.Policy)
	}
}
