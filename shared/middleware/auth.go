package middleware

import (
	"net/http"
	"strings"

	"github.com/eaglebank/core-banking/internal/session"
	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// SessionResolver turns a bearer token into the caller it belongs to.
type SessionResolver interface {
	Resolve(token string) (*session.Principal, error)
}

// AuthMiddleware requires a live session token of the given role.
func AuthMiddleware(sessions SessionResolver, role session.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"message": "Authorization header required",
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"message": "Invalid authorization header format",
			})
			c.Abort()
			return
		}

		principal, err := sessions.Resolve(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"message": "Invalid or expired session",
			})
			c.Abort()
			return
		}
		if principal.Role != role {
			c.JSON(http.StatusForbidden, gin.H{
				"message": "Insufficient privileges",
			})
			c.Abort()
			return
		}

		SetPrincipal(c, principal)
		c.Next()
	}
}

func SetPrincipal(c *gin.Context, p *session.Principal) {
	c.Set(principalKey, p)
}

func GetPrincipal(c *gin.Context) (*session.Principal, bool) {
	v, exists := c.Get(principalKey)
	if !exists {
		return nil, false
	}
	p, ok := v.(*session.Principal)
	return p, ok
}
