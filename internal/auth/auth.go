// Package auth guards the operator API.
//
// Authentication model:
//   - Order intake and status endpoints are public and rate limited.
//   - Everything under /admin requires the shared operator secret, sent as
//     X-Admin-Secret or as a bearer token.
//   - An empty secret disables the operator API entirely.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderAdminSecret carries the operator secret.
const HeaderAdminSecret = "X-Admin-Secret"

// ContextKeyAdmin marks a request that passed RequireAdmin.
const ContextKeyAdmin = "authAdmin"

// RequireAdmin rejects requests that do not present secret.
func RequireAdmin(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		if len(want) == 0 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "admin_disabled",
				"message": "Operator API is disabled. Set ADMIN_SECRET to enable it.",
			})
			return
		}

		got := presented(c)
		if got == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Admin secret required. Include the 'X-Admin-Secret' header.",
			})
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin secret.",
			})
			return
		}

		c.Set(ContextKeyAdmin, true)
		c.Next()
	}
}

// IsAdmin reports whether the request passed RequireAdmin.
func IsAdmin(c *gin.Context) bool {
	v, ok := c.Get(ContextKeyAdmin)
	return ok && v == true
}

func presented(c *gin.Context) string {
	if s := c.GetHeader(HeaderAdminSecret); s != "" {
		return s
	}
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}
