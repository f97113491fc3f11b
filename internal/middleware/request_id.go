package middleware

import (
	"strings"

	"github.com/Monthlyaway/qr-link/internal/observe"
	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request identifier in both directions
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

// RequestID reuses the caller's X-Request-ID or generates one, echoes it in
// the response and stores it on the request context for logging and reports.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}

		c.Header(RequestIDHeader, id)
		c.Set("request_id", id)
		c.Request = c.Request.WithContext(observe.WithRequestID(c.Request.Context(), id))

		if hub := sentry.GetHubFromContext(c.Request.Context()); hub != nil {
			hub.Scope().SetTag("request_id", id)
		}

		c.Next()
	}
}
