package auth

import (
	"errors"
	"net/http"
	"strings"

	"siniopay/internal/api"

	"github.com/gin-gonic/gin"
)

// Gin context keys set by Authenticate.
const (
	CtxUserID = "user_id"
	CtxEmail  = "user_email"
	CtxRole   = "user_role"
)

// Authenticate requires a valid bearer access token and stores the caller in the context.
func Authenticate(issuer *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			unauthorized(c, "bearer token required")
			return
		}

		claims, err := issuer.Parse(raw, KindAccess)
		switch {
		case errors.Is(err, ErrTokenExpired):
			unauthorized(c, "token expired")
			return
		case errors.Is(err, ErrWrongTokenKind):
			unauthorized(c, "access token required")
			return
		case err != nil:
			unauthorized(c, "invalid token")
			return
		}

		p := claims.Principal()
		c.Set(CtxUserID, p.UserID)
		c.Set(CtxEmail, p.Email)
		c.Set(CtxRole, p.Role)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, api.ErrorResponse{Error: msg})
}

// RequireRole lets the request through only when the caller holds one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(CtxRole)
		if role == "" {
			unauthorized(c, "not authenticated")
			return
		}
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, api.ErrorResponse{Error: "insufficient permissions"})
	}
}

func GetUserID(c *gin.Context) (string, bool) {
	id := c.GetString(CtxUserID)
	return id, id != ""
}

func IsAdmin(c *gin.Context) bool {
	return c.GetString(CtxRole) == RoleAdmin
}
