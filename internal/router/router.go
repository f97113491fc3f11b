// Package router assembles the HTTP surface.
package router

import (
	"log/slog"
	"net/http"

	"github.com/Monthlyaway/qr-link/internal/handler"
	"github.com/Monthlyaway/qr-link/internal/middleware"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the handlers and options the router is built from.
// Limiter is nil when rate limiting is disabled.
type Deps struct {
	Redirects      *handler.RedirectHandler
	QRCodes        *handler.QRHandler
	Health         *handler.HealthHandler
	Limiter        *middleware.RateLimiter
	AllowedOrigins []string
	SentryEnabled  bool
	Logger         *slog.Logger
}

// New returns the gin engine serving every route
func New(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}

	r := gin.New()
	if gin.Mode() == gin.DebugMode {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	if d.SentryEnabled {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	r.Use(middleware.RequestID(), middleware.AccessLog(d.Logger), middleware.CORS(d.AllowedOrigins))

	r.GET("/health", d.Health.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.OPTIONS("/*path", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.GET("/redirect", limited(d.Limiter, d.Redirects.RedirectByQuery)...)
	r.GET("/:qr_id", limited(d.Limiter, d.Redirects.Redirect)...)

	api := r.Group("/api/v1")
	{
		api.POST("/scans", d.Redirects.TrackScan)
		api.POST("/qr-codes", d.QRCodes.CreateQRCode)
		api.GET("/qr-codes/:qr_id", d.QRCodes.GetQRCode)
		api.GET("/qr-codes/:qr_id/stats", d.QRCodes.GetStats)
	}

	return r
}

func limited(l *middleware.RateLimiter, h gin.HandlerFunc) []gin.HandlerFunc {
	if l == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{l.Middleware(), h}
}
