package model

// Status is the recorded status of a submission.
type Status string

const (
	StatusPending           Status = "Pending"
	StatusAccepted          Status = "Accepted"
	StatusWrongAnswer       Status = "WrongAnswer"
	StatusTimeLimitExceeded Status = "TimeLimitExceeded"
	StatusRuntimeError      Status = "RuntimeError"
)

var statusMessages = map[Status]string{
	StatusPending:           "Pending",
	StatusAccepted:          "Accepted",
	StatusWrongAnswer:       "Wrong Answer",
	StatusTimeLimitExceeded: "Time Limit Exceeded",
	StatusRuntimeError:      "Runtime Error",
}

// Message is the human readable form shown to the submitter.
func (s Status) Message() string {
	if msg, ok := statusMessages[s]; ok {
		return msg
	}
	return string(s)
}

// Terminal reports whether s is a final grading status.
func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusWrongAnswer, StatusTimeLimitExceeded, StatusRuntimeError:
		return true
	default:
		return false
	}
}

// ParseStatus validates a stored status value.
func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	_, ok := statusMessages[s]
	return s, ok
}
