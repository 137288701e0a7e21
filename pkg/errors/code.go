package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Auth errors
// 12000-12999: Problem module errors
// 13000-13999: Submission & Judge module errors
// 14000-14999: Contest module errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202
	LockFailed     ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Auth Errors (11000-11999) ==========

	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004

	// ========== Problem Module Errors (12000-12999) ==========

	// Problem basic (12000-12099)
	ProblemNotFound     ErrorCode = 12000
	ProblemAccessDenied ErrorCode = 12001

	// Test cases (12100-12199)
	TestCaseNotFound   ErrorCode = 12100
	TestCaseInvalid    ErrorCode = 12102
	ProblemDataInvalid ErrorCode = 12104

	// ========== Submission & Judge Module Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	CodeTooLarge           ErrorCode = 13002
	LanguageNotSupported   ErrorCode = 13003
	SubmitTooFrequently    ErrorCode = 13004
	IdempotencyConflict    ErrorCode = 13005

	// Judge (13100-13199)
	JudgeQueueFull   ErrorCode = 13100
	JudgeSystemError ErrorCode = 13101
	JudgeUnavailable ErrorCode = 13107
	JudgeRejected    ErrorCode = 13108

	// ========== Contest Module Errors (14000-14999) ==========

	// Contest basic (14000-14099)
	ContestNotFound     ErrorCode = 14000
	ContestNotStarted   ErrorCode = 14001
	ContestEnded        ErrorCode = 14002
	ContestAccessDenied ErrorCode = 14003
	ProblemNotInContest ErrorCode = 14006

	// Registration (14100-14199)
	RegistrationClosed ErrorCode = 14100
	AlreadyRegistered  ErrorCode = 14101
	RegistrationFailed ErrorCode = 14102
	NotRegistered      ErrorCode = 14103

	// Ranking (14200-14299)
	RankingNotAvailable ErrorCode = 14200
	LeaderboardUpdate   ErrorCode = 14202
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Cache
	CacheError:     "Cache operation failed",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",
	LockFailed:     "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Auth
	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	// Problem
	ProblemNotFound:     "Problem not found",
	ProblemAccessDenied: "Access to this problem is denied",

	// Test cases
	TestCaseNotFound:   "Test case not found",
	TestCaseInvalid:    "Invalid test case format",
	ProblemDataInvalid: "Problem test data is invalid",

	// Submission
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	CodeTooLarge:           "Code is too large",
	LanguageNotSupported:   "Programming language not supported",
	SubmitTooFrequently:    "Submitting too frequently, please wait",
	IdempotencyConflict:    "Idempotency key was already used for a different submission",

	// Judge
	JudgeQueueFull:   "Judge queue is full, please try again later",
	JudgeSystemError: "Judge system error",
	JudgeUnavailable: "Grading failed, the judge is unavailable, please retry",
	JudgeRejected:    "Judge rejected the execution request",

	// Contest
	ContestNotFound:     "Contest not found",
	ContestNotStarted:   "Contest has not started yet",
	ContestEnded:        "Contest has ended",
	ContestAccessDenied: "Access to this contest is denied",
	ProblemNotInContest: "Problem does not belong to this contest",

	// Contest Registration
	RegistrationClosed: "Registration is closed",
	AlreadyRegistered:  "Already registered for this contest",
	RegistrationFailed: "Registration failed",
	NotRegistered:      "Not registered for this contest",

	// Ranking
	RankingNotAvailable: "Ranking is not available",
	LeaderboardUpdate:   "Failed to update leaderboard",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden, c == ProblemAccessDenied:
		return 403
	case c >= 14001 && c < 14100, c == RegistrationClosed, c == NotRegistered: // Contest gating
		return 403
	case c == AlreadyRegistered, c == RecordAlreadyExists, c == IdempotencyConflict:
		return 409
	case c == NotFound, c == ProblemNotFound, c == ContestNotFound, c == SubmissionNotFound:
		return 404
	case c == TooManyRequests, c == SubmitTooFrequently:
		return 429
	case c == JudgeRejected:
		return 502
	case c == ServiceUnavailable, c == JudgeUnavailable, c == JudgeQueueFull:
		return 503
	case c == Timeout:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == CodeTooLarge, c == LanguageNotSupported:
		return 400
	default:
		return 500
	}
}

// Retryable reports whether a caller may resubmit the same request unchanged.
func (c ErrorCode) Retryable() bool {
	switch c {
	case JudgeUnavailable, JudgeQueueFull, ServiceUnavailable, Timeout, TooManyRequests, SubmitTooFrequently:
		return true
	default:
		return false
	}
}
