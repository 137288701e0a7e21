package controller

import (
	"strconv"
	"strings"

	"codearena/internal/common/http/middleware"
	"codearena/internal/submit/service"
	"codearena/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const defaultListLimit = 20

// SubmitController handles submission HTTP endpoints.
type SubmitController struct {
	submitService *service.SubmitService
}

// NewSubmitController creates a new SubmitController.
func NewSubmitController(submitService *service.SubmitService) *SubmitController {
	return &SubmitController{submitService: submitService}
}

// Submit grades a practice submission.
func (h *SubmitController) Submit(c *gin.Context) {
	h.submit(c, 0)
}

// SubmitContest grades a contest submission.
func (h *SubmitController) SubmitContest(c *gin.Context) {
	contestID, ok := idParam(c, "contestId", "Invalid contest id")
	if !ok {
		return
	}
	h.submit(c, contestID)
}

func (h *SubmitController) submit(c *gin.Context, contestID int64) {
	problemID, ok := idParam(c, "problemId", "Invalid problem id")
	if !ok {
		return
	}
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Login required")
		return
	}
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	result, err := h.submitService.Submit(c.Request.Context(), service.SubmitInput{
		ProblemID:      problemID,
		UserID:         userID,
		ContestID:      contestID,
		Language:       req.Language,
		SourceCode:     req.Code,
		IdempotencyKey: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, result.Message, result)
}

// ListMine returns the caller's submissions for a problem, newest first.
func (h *SubmitController) ListMine(c *gin.Context) {
	problemID, ok := idParam(c, "problemId", "Invalid problem id")
	if !ok {
		return
	}
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Login required")
		return
	}
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.BadRequest(c, "Invalid limit")
			return
		}
		limit = n
	}
	items, err := h.submitService.ListMine(c.Request.Context(), userID, problemID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, ListResponse{Items: items})
}

// Get returns one submission. Owners see their source; others get the public view.
func (h *SubmitController) Get(c *gin.Context) {
	submissionID := strings.TrimSpace(c.Param("submissionId"))
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	viewerID, _ := middleware.UserID(c)
	view, err := h.submitService.GetSubmission(c.Request.Context(), submissionID, viewerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// Solved returns the caller's solved problems.
func (h *SubmitController) Solved(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Login required")
		return
	}
	solved, err := h.submitService.ListSolved(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, SolvedResponse{Items: solved})
}

func idParam(c *gin.Context, name, message string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, message)
		return 0, false
	}
	return id, true
}
