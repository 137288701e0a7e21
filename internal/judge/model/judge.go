package model

import (
	"context"
	"errors"
)

var (
	// ErrJudgeUnavailable means the judge could not be reached or did not answer in time.
	// Callers may retry the whole submission.
	ErrJudgeUnavailable = errors.New("judge unavailable")
	// ErrJudgeRejected means the judge refused the request itself, e.g. an unknown language id.
	ErrJudgeRejected = errors.New("judge rejected request")
)

// Judge executes a program against one input.
type Judge interface {
	Execute(ctx context.Context, req ExecRequest) (ExecResult, error)
}
