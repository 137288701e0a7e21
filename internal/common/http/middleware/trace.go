package middleware

import (
	"context"
	"strings"

	"codearena/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"

	traceIDContextKey = "trace_id"
	userIDContextKey  = "user_id"

	maxForwardedIDLen = 128
)

// TraceContextMiddleware propagates X-Trace-Id and X-Request-Id, minting
// fresh ids when the caller sent none or sent something unusable. Both ids
// land in the request context for the logger and are echoed on the response.
// Caller identity never comes from headers; AuthMiddleware derives it from the token.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := ensureID(c.GetHeader(traceIDHeader))
		requestID := ensureID(c.GetHeader(requestIDHeader))

		ctx := context.WithValue(c.Request.Context(), contextkey.TraceID, traceID)
		ctx = context.WithValue(ctx, contextkey.RequestID, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(traceIDContextKey, traceID)

		header := c.Writer.Header()
		header.Set(traceIDHeader, traceID)
		header.Set(requestIDHeader, requestID)
		c.Next()
	}
}

func ensureID(raw string) string {
	if id := sanitizeID(raw); id != "" {
		return id
	}
	return uuid.NewString()
}

// sanitizeID keeps forwarded ids out of log lines when they are oversized or
// carry anything beyond printable ASCII.
func sanitizeID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > maxForwardedIDLen {
		return ""
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return ""
		}
	}
	return id
}
