package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"github.com/groupcare/backend/pkg/response"
)

// SweepSecretHeader carries the shared secret of the periodic trigger.
const SweepSecretHeader = "X-Sweep-Secret"

// SharedSecret admits only callers presenting secret in SweepSecretHeader.
// An empty secret rejects every request.
func SharedSecret(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(SweepSecretHeader))
		if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			response.Unauthorized(c, "invalid trigger secret")
			c.Abort()
			return
		}
		c.Next()
	}
}
