package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/animation-platform/internal/auth"
	"github.com/suPer8Hu/animation-platform/internal/common"
)

const SubjectKey = "auth_subject"

// AuthRequired checks an HS256 bearer token. An empty secret disables the check.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		h := c.GetHeader("Authorization")
		if len(h) <= 7 || !strings.EqualFold(h[:7], "Bearer ") {
			c.Abort()
			common.Fail(c, http.StatusUnauthorized, 40101, "missing bearer token")
			return
		}
		sub, err := auth.ParseJWT(strings.TrimSpace(h[7:]), secret)
		if err != nil {
			c.Abort()
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			return
		}
		c.Set(SubjectKey, sub)
		c.Next()
	}
}
