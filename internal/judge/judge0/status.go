package judge0

import "codearena/internal/judge/model"

// Judge0 status ids.
const (
	statusInQueue           = 1
	statusProcessing        = 2
	statusAccepted          = 3
	statusWrongAnswer       = 4
	statusTimeLimitExceeded = 5
	statusCompilationError  = 6
	statusRuntimeFirst      = 7 // SIGSEGV
	statusRuntimeLast       = 12 // other runtime error
	statusInternalError     = 13
	statusExecFormatError   = 14
)

// MapStatus converts a Judge0 status id to a verdict.
// A compilation error is a learner failure and maps to fail.
func MapStatus(id int) model.Verdict {
	switch {
	case id == statusAccepted:
		return model.VerdictPass
	case id == statusWrongAnswer, id == statusCompilationError:
		return model.VerdictFail
	case id == statusTimeLimitExceeded:
		return model.VerdictTimeLimit
	case id >= statusRuntimeFirst && id <= statusRuntimeLast:
		return model.VerdictRuntimeError
	default:
		// in-queue, processing, internal error, exec format error and unknown ids
		return model.VerdictJudgeError
	}
}
