package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the envelope of the QR management API
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse is the body of failed redirect and scan requests
type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	msgQRIDRequired   = "QR ID is required"
	msgQRNotFound     = "QR code not found"
	msgInternalServer = "Internal server error"
	msgScanFailed     = "Failed to record scan"
)

func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg})
}

func abortWithResponse(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, Response{Code: status, Message: msg})
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: http.StatusOK, Data: data})
}
