package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	allowedMethods = "GET, POST, OPTIONS"
	allowedHeaders = "Content-Type, Authorization, X-Request-ID"
	exposeHeaders  = "Location, X-Request-ID"
)

// CORS answers cross-origin requests. A "*" entry allows every origin.
// Preflight requests are answered with 200 and an empty body.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	policy := newCORSPolicy(allowedOrigins)

	return func(c *gin.Context) {
		if policy.applyOrigin(c, normalizeOrigin(c.GetHeader("Origin"))) {
			c.Header("Access-Control-Allow-Methods", allowedMethods)
			c.Header("Access-Control-Allow-Headers", allowedHeaders)
			c.Header("Access-Control-Expose-Headers", exposeHeaders)
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

type corsPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

func newCORSPolicy(allowedOrigins []string) corsPolicy {
	policy := corsPolicy{allowed: make(map[string]struct{})}

	for _, origin := range allowedOrigins {
		origin = normalizeOrigin(origin)
		switch origin {
		case "":
			continue
		case "*":
			return corsPolicy{allowAll: true}
		}
		policy.allowed[origin] = struct{}{}
	}

	return policy
}

func (p corsPolicy) applyOrigin(c *gin.Context, origin string) bool {
	if p.allowAll {
		c.Header("Access-Control-Allow-Origin", "*")
		return true
	}
	if origin == "" {
		return false
	}
	if _, ok := p.allowed[origin]; !ok {
		return false
	}

	c.Header("Access-Control-Allow-Origin", origin)
	c.Header("Vary", "Origin")
	return true
}

func normalizeOrigin(origin string) string {
	return strings.TrimRight(strings.TrimSpace(origin), "/")
}
