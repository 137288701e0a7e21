package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"codearena/internal/common/cache"
	pkgerrors "codearena/pkg/errors"
	"codearena/pkg/utils/contextkey"
	"codearena/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	AuthModePublic    = "public"
	AuthModeOptional  = "optional"
	AuthModeProtected = "protected"

	tokenBlacklistKeyPrefix = "auth:token:blacklist:"
)

// AuthPolicy selects how a route treats missing or invalid tokens.
type AuthPolicy struct {
	Mode string
}

// UserInfo is the authenticated caller.
type UserInfo struct {
	ID   int64
	Role string
}

// Authenticator verifies HS256 access tokens issued by the user service.
type Authenticator struct {
	jwtSecret []byte
	jwtIssuer string
	blacklist cache.BasicOps
	timeout   time.Duration
}

// NewAuthenticator creates an Authenticator. blacklist may be nil.
func NewAuthenticator(jwtSecret, jwtIssuer string, blacklist cache.BasicOps, timeout time.Duration) *Authenticator {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &Authenticator{
		jwtSecret: []byte(jwtSecret),
		jwtIssuer: jwtIssuer,
		blacklist: blacklist,
		timeout:   timeout,
	}
}

type tokenClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Authenticate parses raw and returns the caller identity.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (UserInfo, error) {
	if raw == "" {
		return UserInfo{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, err := a.parseToken(raw)
	if err != nil {
		return UserInfo{}, err
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return UserInfo{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if a.blacklist != nil {
		ctxCache, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		n, err := a.blacklist.Exists(ctxCache, tokenBlacklistKeyPrefix+hashToken(raw))
		if err != nil {
			return UserInfo{}, pkgerrors.Wrap(err, pkgerrors.ServiceUnavailable)
		}
		if n > 0 {
			return UserInfo{}, pkgerrors.New(pkgerrors.TokenInvalid)
		}
	}
	return UserInfo{ID: userID, Role: claims.Role}, nil
}

func (a *Authenticator) parseToken(raw string) (*tokenClaims, error) {
	if len(a.jwtSecret) == 0 {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if a.jwtIssuer != "" && claims.Issuer != a.jwtIssuer {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.TokenType != "access" || claims.Subject == "" {
		return nil, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return claims, nil
}

// AuthMiddleware enforces JWT validation on protected routes and attaches the
// caller to optional ones when a valid token is present.
func AuthMiddleware(auth *Authenticator, policy AuthPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		mode := strings.ToLower(policy.Mode)
		if mode == AuthModePublic {
			c.Next()
			return
		}
		if auth == nil {
			response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "auth service unavailable")
			return
		}

		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" && mode == AuthModeOptional {
			c.Next()
			return
		}
		info, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			if mode == AuthModeOptional && !pkgerrors.Is(err, pkgerrors.ServiceUnavailable) {
				c.Next()
				return
			}
			response.AbortWithError(c, err)
			return
		}

		c.Set(userIDContextKey, info.ID)
		c.Set("user_role", info.Role)
		ctx := context.WithValue(c.Request.Context(), contextkey.UserID, info.ID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// UserID returns the authenticated caller id set by AuthMiddleware.
func UserID(c *gin.Context) (int64, bool) {
	value, ok := c.Get(userIDContextKey)
	if !ok {
		return 0, false
	}
	id, ok := value.(int64)
	return id, ok && id > 0
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
