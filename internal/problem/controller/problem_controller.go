package controller

import (
	"strconv"

	"codearena/internal/problem/service"
	"codearena/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ProblemController handles problem HTTP endpoints.
type ProblemController struct {
	problemService *service.ProblemService
}

// NewProblemController creates a new ProblemController.
func NewProblemController(problemService *service.ProblemService) *ProblemController {
	return &ProblemController{problemService: problemService}
}

// Get returns a problem with its sample cases.
func (h *ProblemController) Get(c *gin.Context) {
	problemID, err := strconv.ParseInt(c.Param("problemId"), 10, 64)
	if err != nil || problemID <= 0 {
		response.BadRequest(c, "Invalid problem id")
		return
	}

	view, err := h.problemService.GetProblem(c.Request.Context(), problemID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}
