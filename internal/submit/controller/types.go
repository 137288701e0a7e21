package controller

import (
	"codearena/internal/submit/repository"
	"codearena/internal/submit/service"
)

// SubmitRequest defines submission payload.
type SubmitRequest struct {
	Code     string `json:"code" binding:"required"`
	Language string `json:"language" binding:"required"`
}

// ListResponse defines submission list payload.
type ListResponse struct {
	Items []service.SubmissionSummary `json:"items"`
}

// SolvedResponse defines solved set payload.
type SolvedResponse struct {
	Items []repository.SolvedProblem `json:"items"`
}
