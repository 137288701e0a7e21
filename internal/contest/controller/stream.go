package controller

import (
	"context"
	"net/http"
	"time"

	"codearena/pkg/utils/logger"
	"codearena/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second

	defaultPollInterval = time.Second
)

// StreamConfig controls the leaderboard websocket.
type StreamConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	// AllowedOrigins empty means any origin.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

func (c StreamConfig) normalize() StreamConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	return c
}

func (c StreamConfig) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if len(c.AllowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range c.AllowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
}

// StreamLeaderboard pushes the ranked board on connect and again whenever it changes.
func (h *ContestController) StreamLeaderboard(c *gin.Context) {
	contestID, ok := contestIDParam(c)
	if !ok {
		return
	}
	// Fail before the upgrade so unknown contests get a normal error envelope.
	board, err := h.contestService.Leaderboard(c.Request.Context(), contestID)
	if err != nil {
		response.Error(c, err)
		return
	}

	upgrader := h.stream.upgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "leaderboard stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	// Reader: only pongs and close frames matter.
	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := writeJSON(conn, board); err != nil {
		return
	}
	lastVersion := board.Version

	poll := time.NewTicker(h.stream.PollInterval)
	defer poll.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-poll.C:
			version, err := h.contestService.LeaderboardVersion(ctx, contestID)
			if err != nil {
				logger.Warn(ctx, "leaderboard version read failed", zap.Int64("contest_id", contestID), zap.Error(err))
				continue
			}
			if version == lastVersion {
				continue
			}
			board, err := h.contestService.Leaderboard(ctx, contestID)
			if err != nil {
				logger.Warn(ctx, "leaderboard read failed", zap.Int64("contest_id", contestID), zap.Error(err))
				continue
			}
			if err := writeJSON(conn, board); err != nil {
				return
			}
			lastVersion = board.Version
		}
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
