package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Monthlyaway/qr-link/internal/model"
	"github.com/Monthlyaway/qr-link/internal/service"
	"github.com/gin-gonic/gin"
)

// QRManager is the part of the QR service the handlers use
type QRManager interface {
	CreateQRCode(ctx context.Context, in service.CreateQRCodeInput) (*model.QRCode, error)
	GetQRCode(ctx context.Context, id string) (*model.QRCode, error)
	GetStats(ctx context.Context, id string) (*model.ScanStats, error)
}

// QRHandler handles HTTP requests for QR code management
type QRHandler struct {
	service QRManager
	baseURL string
}

// NewQRHandler creates a new QR handler instance
func NewQRHandler(svc QRManager, baseURL string) *QRHandler {
	return &QRHandler{
		service: svc,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// CreateQRCodeRequest represents the request body for creating a QR code
type CreateQRCodeRequest struct {
	Name           string  `json:"name" binding:"required"`
	DestinationURL string  `json:"destination_url" binding:"required"`
	UserID         string  `json:"user_id"`
	FolderID       *string `json:"folder_id,omitempty"`
}

// QRCodeResponse represents a QR code with its public scan URL
type QRCodeResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	DestinationURL string    `json:"destination_url"`
	ScanURL        string    `json:"scan_url"`
	UserID         string    `json:"user_id,omitempty"`
	FolderID       *string   `json:"folder_id,omitempty"`
	UsageCount     uint64    `json:"usage_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateQRCode handles POST /api/v1/qr-codes
func (h *QRHandler) CreateQRCode(c *gin.Context) {
	var req CreateQRCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	qr, err := h.service.CreateQRCode(c.Request.Context(), service.CreateQRCodeInput{
		UserID:         req.UserID,
		Name:           req.Name,
		DestinationURL: req.DestinationURL,
		FolderID:       req.FolderID,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			abortWithResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		abortWithResponse(c, http.StatusInternalServerError, "Failed to create QR code")
		return
	}

	c.JSON(http.StatusCreated, Response{
		Code: http.StatusCreated,
		Data: h.toResponse(qr),
	})
}

// GetQRCode handles GET /api/v1/qr-codes/{qr_id}
func (h *QRHandler) GetQRCode(c *gin.Context) {
	qr, err := h.service.GetQRCode(c.Request.Context(), c.Param("qr_id"))
	if err != nil {
		h.abortLookup(c, err)
		return
	}
	ok(c, h.toResponse(qr))
}

// GetStats handles GET /api/v1/qr-codes/{qr_id}/stats
func (h *QRHandler) GetStats(c *gin.Context) {
	stats, err := h.service.GetStats(c.Request.Context(), c.Param("qr_id"))
	if err != nil {
		h.abortLookup(c, err)
		return
	}
	ok(c, stats)
}

func (h *QRHandler) abortLookup(c *gin.Context, err error) {
	if errors.Is(err, service.ErrNotFound) {
		abortWithResponse(c, http.StatusNotFound, msgQRNotFound)
		return
	}
	abortWithResponse(c, http.StatusInternalServerError, msgInternalServer)
}

func (h *QRHandler) toResponse(qr *model.QRCode) QRCodeResponse {
	return QRCodeResponse{
		ID:             qr.ID,
		Name:           qr.Name,
		DestinationURL: qr.DestinationURL,
		ScanURL:        fmt.Sprintf("%s/%s", h.baseURL, qr.ID),
		UserID:         qr.UserID,
		FolderID:       qr.FolderID,
		UsageCount:     qr.UsageCount,
		CreatedAt:      qr.CreatedAt,
	}
}
