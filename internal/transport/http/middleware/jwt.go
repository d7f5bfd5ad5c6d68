package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"coroner-assist/internal/pkg/jwtutil"
	"coroner-assist/internal/transport/http/response"
)

const ContextUserIDKey = "auth_user_id"

func AuthJWT(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "missing authorization header")
			c.Abort()
			return
		}

		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid authorization scheme")
			c.Abort()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		claims, err := jwtutil.ParseToken(secret, token)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextUserIDKey, claims.UserID)
		c.Next()
	}
}

// AuthUserID returns the authenticated owner, if the request went through
// AuthJWT.
func AuthUserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextUserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// AuthorizeOwner writes 403 and returns false when an authenticated caller
// acts on someone else's threads. Without authentication every owner is
// allowed.
func AuthorizeOwner(c *gin.Context, owner string) bool {
	caller, ok := AuthUserID(c)
	if !ok || caller == owner {
		return true
	}
	response.Error(c, http.StatusForbidden, response.CodeForbidden, "token does not belong to this user")
	return false
}
