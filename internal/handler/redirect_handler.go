package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Monthlyaway/qr-link/internal/fingerprint"
	"github.com/Monthlyaway/qr-link/internal/metrics"
	"github.com/Monthlyaway/qr-link/internal/model"
	"github.com/Monthlyaway/qr-link/internal/service"
	"github.com/gin-gonic/gin"
)

// Redirector is the part of the redirect service the handlers use
type Redirector interface {
	Redirect(ctx context.Context, req service.ScanRequest) (string, error)
	TrackScan(ctx context.Context, req service.ScanRequest) (*model.ScanEvent, error)
}

// RedirectHandler serves QR scans
type RedirectHandler struct {
	service Redirector
}

// NewRedirectHandler creates a new redirect handler instance
func NewRedirectHandler(svc Redirector) *RedirectHandler {
	return &RedirectHandler{service: svc}
}

// Redirect handles GET /{qr_id}
func (h *RedirectHandler) Redirect(c *gin.Context) {
	h.redirect(c, c.Param("qr_id"))
}

// RedirectByQuery handles GET /redirect?id={qr_id}
func (h *RedirectHandler) RedirectByQuery(c *gin.Context) {
	h.redirect(c, c.Query("id"))
}

func (h *RedirectHandler) redirect(c *gin.Context, qrID string) {
	qrID = strings.TrimSpace(qrID)
	if qrID == "" {
		metrics.Redirects.WithLabelValues("bad_request").Inc()
		abortWithError(c, http.StatusBadRequest, msgQRIDRequired)
		return
	}

	dest, err := h.service.Redirect(c.Request.Context(), scanRequest(c, qrID))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			abortWithError(c, http.StatusNotFound, msgQRNotFound)
			return
		}
		abortWithError(c, http.StatusInternalServerError, msgInternalServer)
		return
	}

	c.Header("Location", dest)
	c.Status(http.StatusFound)
}

// scanRequest derives scan metadata from the incoming request
func scanRequest(c *gin.Context, qrID string) service.ScanRequest {
	return service.ScanRequest{
		QRID:      qrID,
		IP:        fingerprint.ClientIP(c.Request.Header),
		UserAgent: c.Request.UserAgent(),
		Referrer:  c.Request.Referer(),
	}
}

// TrackScanRequest is the body of POST /api/v1/scans
type TrackScanRequest struct {
	QRID      string `json:"qrId" binding:"required"`
	IPAddress string `json:"ipAddress"`
	UserAgent string `json:"userAgent"`
	Referrer  string `json:"referrer"`
}

// TrackScanResponse is returned when a scan has been recorded
type TrackScanResponse struct {
	Success bool             `json:"success"`
	Scan    *model.ScanEvent `json:"scan"`
}

// TrackScan handles POST /api/v1/scans for clients that redirect on their own
func (h *RedirectHandler) TrackScan(c *gin.Context) {
	var req TrackScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, msgQRIDRequired)
		return
	}

	ua := req.UserAgent
	if ua == "" {
		ua = c.Request.UserAgent()
	}
	ip := fingerprint.NormalizeIP(req.IPAddress)
	if ip == "" {
		ip = fingerprint.ClientIP(c.Request.Header)
	}

	scan, err := h.service.TrackScan(c.Request.Context(), service.ScanRequest{
		QRID:      strings.TrimSpace(req.QRID),
		IP:        ip,
		UserAgent: ua,
		Referrer:  req.Referrer,
	})
	switch {
	case errors.Is(err, service.ErrNotFound):
		abortWithError(c, http.StatusNotFound, msgQRNotFound)
		return
	case err != nil:
		abortWithError(c, http.StatusInternalServerError, msgScanFailed)
		return
	}

	c.JSON(http.StatusOK, TrackScanResponse{Success: true, Scan: scan})
}
