package runner

import (
	"fmt"
	"strings"

	"codearena/internal/judge/model"
)

// AggregationPolicy selects how per-case verdicts collapse into a status.
type AggregationPolicy string

const (
	// PolicyCoarse yields Accepted or WrongAnswer only.
	PolicyCoarse AggregationPolicy = "coarse"
	// PolicyStrict reports the first failing case's kind.
	PolicyStrict AggregationPolicy = "strict"
)

// ParsePolicy reads a configured policy name. Empty means coarse.
func ParsePolicy(raw string) (AggregationPolicy, error) {
	switch AggregationPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyCoarse:
		return PolicyCoarse, nil
	case PolicyStrict:
		return PolicyStrict, nil
	default:
		return "", fmt.Errorf("unknown aggregation policy %q", raw)
	}
}

// Summary is the aggregated result of a graded submission.
type Summary struct {
	AllPassed bool
	Status    model.Status
	TimeMs    int64
	MemoryKB  int64
}

// Aggregate folds outcomes into a Summary. Time and memory are summed.
// An empty outcome list is never accepted.
func Aggregate(outcomes []model.CaseOutcome, policy AggregationPolicy) Summary {
	if len(outcomes) == 0 {
		return Summary{Status: model.StatusWrongAnswer}
	}
	sum := Summary{AllPassed: true}
	var firstFailure *model.CaseOutcome
	for i := range outcomes {
		o := &outcomes[i]
		sum.TimeMs += o.TimeMs
		sum.MemoryKB += o.MemoryKB
		if !o.Verdict.Passed() {
			sum.AllPassed = false
			if firstFailure == nil {
				firstFailure = o
			}
		}
	}

	switch {
	case sum.AllPassed:
		sum.Status = model.StatusAccepted
	case policy == PolicyStrict:
		sum.Status = strictStatus(firstFailure.Verdict)
	default:
		sum.Status = model.StatusWrongAnswer
	}
	return sum
}

func strictStatus(v model.Verdict) model.Status {
	switch v {
	case model.VerdictTimeLimit:
		return model.StatusTimeLimitExceeded
	case model.VerdictRuntimeError:
		return model.StatusRuntimeError
	default:
		return model.StatusWrongAnswer
	}
}
