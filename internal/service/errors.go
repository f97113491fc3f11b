package service

import "errors"

var (
	// ErrNotFound means no QR code matches the identifier
	ErrNotFound = errors.New("qr code not found")
	// ErrStoreUnavailable means the store could not answer a resolution
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidInput wraps validation failures on the QR API
	ErrInvalidInput = errors.New("invalid input")
)
