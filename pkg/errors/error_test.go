package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "codearena/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{ProblemNotFound, "Problem not found"},
		{InvalidParams, "Invalid parameters"},
		{RegistrationClosed, "Registration is closed"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{ValidationFailed, 400},
		{LanguageNotSupported, 400},
		{TokenInvalid, 401},
		{NotRegistered, 403},
		{ProblemNotInContest, 403},
		{RegistrationClosed, 403},
		{ContestEnded, 403},
		{ContestNotFound, 404},
		{SubmissionNotFound, 404},
		{AlreadyRegistered, 409},
		{IdempotencyConflict, 409},
		{SubmitTooFrequently, 429},
		{ProblemDataInvalid, 500},
		{JudgeRejected, 502},
		{JudgeUnavailable, 503},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestNew(t *testing.T) {
	err := New(ContestNotFound)

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Code != ContestNotFound {
		t.Errorf("Code = %v, want %v", err.Code, ContestNotFound)
	}
	if err.Error() != ContestNotFound.Message() {
		t.Errorf("Error() = %v, want %v", err.Error(), ContestNotFound.Message())
	}
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("connection refused")
	wrappedErr := Wrap(originalErr, DatabaseError)

	if wrappedErr.Code != DatabaseError {
		t.Errorf("Code = %v, want %v", wrappedErr.Code, DatabaseError)
	}
	if wrappedErr.Unwrap() != originalErr {
		t.Error("Unwrap() should return original error")
	}
	if Wrap(nil, DatabaseError) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "nil error", err: nil, want: Success},
		{name: "custom error", err: New(NotRegistered), want: NotRegistered},
		{name: "fmt wrapped custom error", err: fmt.Errorf("submit: %w", New(JudgeUnavailable)), want: JudgeUnavailable},
		{name: "standard error", err: errors.New("standard error"), want: InternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := New(AlreadyRegistered)

	if !Is(err, AlreadyRegistered) {
		t.Error("Is() should return true for matching code")
	}
	if Is(err, RegistrationClosed) {
		t.Error("Is() should return false for non-matching code")
	}
	if Is(nil, AlreadyRegistered) {
		t.Error("Is() should return false for nil error")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(JudgeUnavailable)) {
		t.Error("judge unavailable should be retryable")
	}
	if IsRetryable(New(ProblemDataInvalid)) {
		t.Error("data integrity failures are not retryable")
	}
	if IsRetryable(New(NotRegistered)) {
		t.Error("authorization rejections are not retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError("code", "required")
	if err.Code != ValidationFailed {
		t.Error("ValidationError should use ValidationFailed code")
	}
	if err.Details["field"] != "code" {
		t.Error("Field detail not set")
	}
	if err.Details["reason"] != "required" {
		t.Error("Reason detail not set")
	}
}
