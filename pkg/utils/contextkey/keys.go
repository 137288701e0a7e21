// Package contextkey holds the context keys shared by the HTTP middleware,
// the submission pipeline and the logger.
package contextkey

type key string

const (
	TraceID   key = "trace_id"
	RequestID key = "request_id"
	UserID    key = "user_id"

	// SubmissionID is set once grading starts so judge, archive and
	// leaderboard logs can be correlated per submission.
	SubmissionID key = "submission_id"
	ContestID    key = "contest_id"
)
