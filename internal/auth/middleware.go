package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const userIDContextKey = "auth_user_id"

// Middleware authenticates the request and stores the caller's user id in the context.
func (v *Validator) Middleware() gin.HandlerFunc {
	if !v.cfg.Enabled {
		return func(c *gin.Context) {
			userID := strings.TrimSpace(c.GetHeader(v.cfg.DevUserHeader))
			if userID == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMissingToken.Error()})
				return
			}
			SetUserID(c, userID)
			c.Next()
		}
	}

	return func(c *gin.Context) {
		userID, err := v.Validate(v.extractToken(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		SetUserID(c, userID)
		c.Next()
	}
}

// SetUserID records the authenticated user on the request context.
func SetUserID(c *gin.Context, userID string) {
	c.Set(userIDContextKey, userID)
}

// UserIDFromContext retrieves the authenticated user id from the gin context.
func UserIDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(userIDContextKey)
	if !ok {
		return "", false
	}
	userID, ok := val.(string)
	return userID, ok && userID != ""
}

func (v *Validator) extractToken(c *gin.Context) string {
	if token := bearerToken(c.GetHeader(v.headerName)); token != "" {
		return token
	}
	if token, err := c.Cookie(v.cfg.CookieName); err == nil && token != "" {
		return token
	}
	return ""
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
