package controller

import (
	"strconv"

	"codearena/internal/common/http/middleware"
	"codearena/internal/contest/service"
	"codearena/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ContestController handles contest HTTP endpoints.
type ContestController struct {
	contestService *service.ContestService
	stream         StreamConfig
}

// NewContestController creates a new ContestController.
func NewContestController(contestService *service.ContestService, stream StreamConfig) *ContestController {
	return &ContestController{contestService: contestService, stream: stream.normalize()}
}

// List returns contests grouped into upcoming, ongoing and past.
func (h *ContestController) List(c *gin.Context) {
	list, err := h.contestService.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, list)
}

// Get returns one contest.
func (h *ContestController) Get(c *gin.Context) {
	contestID, ok := contestIDParam(c)
	if !ok {
		return
	}
	detail, err := h.contestService.Get(c.Request.Context(), contestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, detail)
}

// Register adds the caller to the contest registrants.
func (h *ContestController) Register(c *gin.Context) {
	contestID, ok := contestIDParam(c)
	if !ok {
		return
	}
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "Login required")
		return
	}
	if err := h.contestService.Register(c.Request.Context(), contestID, userID); err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "Registered", RegisterResponse{ContestID: contestID, UserID: userID})
}

// Leaderboard returns the ranked board.
func (h *ContestController) Leaderboard(c *gin.Context) {
	contestID, ok := contestIDParam(c)
	if !ok {
		return
	}
	board, err := h.contestService.Leaderboard(c.Request.Context(), contestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, board)
}

// RegisterResponse defines registration response payload.
type RegisterResponse struct {
	ContestID int64 `json:"contest_id"`
	UserID    int64 `json:"user_id"`
}

func contestIDParam(c *gin.Context) (int64, bool) {
	contestID, err := strconv.ParseInt(c.Param("contestId"), 10, 64)
	if err != nil || contestID <= 0 {
		response.BadRequest(c, "Invalid contest id")
		return 0, false
	}
	return contestID, true
}
