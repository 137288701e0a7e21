package middleware_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/common/http/middleware"
	pkgerrors "codearena/pkg/errors"
	"codearena/pkg/utils/contextkey"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

const (
	testSecret = "test-secret"
	testIssuer = "codearena"
)

type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newToken(t *testing.T, secret, issuer string, userID int64, typ string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"role": "user",
		"typ":  typ,
		"sub":  fmt.Sprintf("%d", userID),
		"iss":  issuer,
		"iat":  time.Now().Unix(),
		"exp":  exp.Unix(),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token failed: %v", err)
	}
	return raw
}

func perform(router *gin.Engine, path, authHeader string) (*httptest.ResponseRecorder, envelope) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	router.ServeHTTP(rec, req)
	var resp envelope
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	return rec, resp
}

func newRouter(auth *middleware.Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	echo := func(c *gin.Context) {
		if userID, ok := middleware.UserID(c); ok {
			c.Header("X-User-Id", fmt.Sprint(userID))
			if ctxID, _ := c.Request.Context().Value(contextkey.UserID).(int64); ctxID != userID {
				c.Status(http.StatusInternalServerError)
				return
			}
		}
		c.Status(http.StatusOK)
	}
	router.GET("/protected", middleware.AuthMiddleware(auth, middleware.AuthPolicy{Mode: middleware.AuthModeProtected}), echo)
	router.GET("/optional", middleware.AuthMiddleware(auth, middleware.AuthPolicy{Mode: middleware.AuthModeOptional}), echo)
	router.GET("/public", middleware.AuthMiddleware(auth, middleware.AuthPolicy{Mode: middleware.AuthModePublic}), echo)
	return router
}

func TestAuthMiddleware(t *testing.T) {
	auth := middleware.NewAuthenticator(testSecret, testIssuer, nil, 0)
	router := newRouter(auth)

	valid := newToken(t, testSecret, testIssuer, 42, "access", time.Now().Add(5*time.Minute))
	expired := newToken(t, testSecret, testIssuer, 42, "access", time.Now().Add(-time.Minute))
	refresh := newToken(t, testSecret, testIssuer, 42, "refresh", time.Now().Add(5*time.Minute))
	foreign := newToken(t, "other-secret", testIssuer, 42, "access", time.Now().Add(5*time.Minute))
	wrongIssuer := newToken(t, testSecret, "someone-else", 42, "access", time.Now().Add(5*time.Minute))

	cases := []struct {
		name       string
		path       string
		authHeader string
		wantStatus int
		wantCode   int
		wantUserID string
	}{
		{name: "public without token", path: "/public", wantStatus: http.StatusOK},
		{name: "protected missing token", path: "/protected", wantStatus: http.StatusUnauthorized, wantCode: int(pkgerrors.TokenInvalid)},
		{name: "protected valid token", path: "/protected", authHeader: "Bearer " + valid, wantStatus: http.StatusOK, wantUserID: "42"},
		{name: "protected expired token", path: "/protected", authHeader: "Bearer " + expired, wantStatus: http.StatusUnauthorized, wantCode: int(pkgerrors.TokenExpired)},
		{name: "protected refresh token", path: "/protected", authHeader: "Bearer " + refresh, wantStatus: http.StatusUnauthorized, wantCode: int(pkgerrors.TokenInvalid)},
		{name: "protected foreign signature", path: "/protected", authHeader: "Bearer " + foreign, wantStatus: http.StatusUnauthorized, wantCode: int(pkgerrors.TokenInvalid)},
		{name: "protected wrong issuer", path: "/protected", authHeader: "Bearer " + wrongIssuer, wantStatus: http.StatusUnauthorized, wantCode: int(pkgerrors.TokenInvalid)},
		{name: "protected malformed header", path: "/protected", authHeader: "Token " + valid, wantStatus: http.StatusUnauthorized, wantCode: int(pkgerrors.TokenInvalid)},
		{name: "optional anonymous", path: "/optional", wantStatus: http.StatusOK},
		{name: "optional invalid token falls back to anonymous", path: "/optional", authHeader: "Bearer " + expired, wantStatus: http.StatusOK},
		{name: "optional valid token", path: "/optional", authHeader: "Bearer " + valid, wantStatus: http.StatusOK, wantUserID: "42"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, resp := perform(router, tc.path, tc.authHeader)
			if rec.Code != tc.wantStatus {
				t.Fatalf("unexpected status: %d", rec.Code)
			}
			if tc.wantCode != 0 && resp.Code != tc.wantCode {
				t.Fatalf("unexpected error code: %d", resp.Code)
			}
			if got := rec.Header().Get("X-User-Id"); got != tc.wantUserID {
				t.Fatalf("unexpected user id header: %q", got)
			}
		})
	}
}

func TestAuthMiddlewareNilAuthenticator(t *testing.T) {
	router := newRouter(nil)
	rec, resp := perform(router, "/protected", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if resp.Code != int(pkgerrors.ServiceUnavailable) {
		t.Fatalf("unexpected error code: %d", resp.Code)
	}
}

func TestAuthenticatorBlacklist(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	redisCache, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	auth := middleware.NewAuthenticator(testSecret, testIssuer, redisCache, time.Second)
	token := newToken(t, testSecret, testIssuer, 7, "access", time.Now().Add(time.Minute))

	info, err := auth.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if info.ID != 7 {
		t.Fatalf("unexpected user id %d", info.ID)
	}

	if err := redisCache.Set(context.Background(), "auth:token:blacklist:"+sha(token), "1", time.Minute); err != nil {
		t.Fatalf("seed blacklist: %v", err)
	}
	if _, err := auth.Authenticate(context.Background(), token); !pkgerrors.Is(err, pkgerrors.TokenInvalid) {
		t.Fatalf("expected revoked token to be rejected, got %v", err)
	}
}

func TestTraceContextMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.TraceContextMiddleware())
	router.GET("/trace", func(c *gin.Context) {
		ctx := c.Request.Context()
		traceID, _ := ctx.Value(contextkey.TraceID).(string)
		requestID, _ := ctx.Value(contextkey.RequestID).(string)
		c.JSON(http.StatusOK, gin.H{
			"trace_id":   traceID,
			"request_id": requestID,
			"user_id":    ctx.Value(contextkey.UserID),
		})
	})

	t.Run("generate ids", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/trace", nil))
		if rec.Header().Get("X-Trace-Id") == "" || rec.Header().Get("X-Request-Id") == "" {
			t.Fatalf("expected generated trace and request id headers")
		}
	})

	t.Run("preserve ids and ignore user header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/trace", nil)
		req.Header.Set("X-Trace-Id", "trace-123")
		req.Header.Set("X-Request-Id", "req-123")
		req.Header.Set("X-User-Id", "42")
		router.ServeHTTP(rec, req)

		var body map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode response failed: %v", err)
		}
		if body["trace_id"] != "trace-123" || body["request_id"] != "req-123" {
			t.Fatalf("ids not preserved: %v", body)
		}
		if body["user_id"] != nil {
			t.Fatalf("user id header must not be trusted: %v", body["user_id"])
		}
	})

	t.Run("replace unusable ids", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/trace", nil)
		req.Header.Set("X-Trace-Id", strings.Repeat("a", 200))
		req.Header.Set("X-Request-Id", "bad id\twith spaces")
		router.ServeHTTP(rec, req)

		traceID := rec.Header().Get("X-Trace-Id")
		requestID := rec.Header().Get("X-Request-Id")
		if traceID == "" || len(traceID) > 128 {
			t.Fatalf("oversized trace id kept: %q", traceID)
		}
		if requestID == "" || strings.ContainsAny(requestID, " \t") {
			t.Fatalf("request id not sanitized: %q", requestID)
		}
	})
}
