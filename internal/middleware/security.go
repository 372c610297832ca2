package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// apiContentSecurityPolicy fits a server that renders nothing: JSON, PNG join codes and the
// websocket relay.
const apiContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeaders sets response hardening headers. HSTS is only sent when the server is
// published over https. Responses are never cached since they carry join tokens.
func SecurityHeaders(publicURL string) gin.HandlerFunc {
	hsts := strings.HasPrefix(strings.ToLower(strings.TrimSpace(publicURL)), "https://")
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Security-Policy", apiContentSecurityPolicy)
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		if hsts {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
