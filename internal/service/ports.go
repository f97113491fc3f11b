package service

import (
	"context"

	"github.com/Monthlyaway/qr-link/internal/geo"
	"github.com/Monthlyaway/qr-link/internal/model"
)

// ScanStore is everything the redirect pipeline needs from persistence.
// GetQRCode returns (nil, nil) when no row matches.
type ScanStore interface {
	GetQRCode(ctx context.Context, id string) (*model.QRCode, error)
	CreateScanEvent(ctx context.Context, scan *model.ScanEvent) error
	IncrementUsageCount(ctx context.Context, id string) error
}

// QRStore backs the QR management API
type QRStore interface {
	GetQRCode(ctx context.Context, id string) (*model.QRCode, error)
	CreateQRCode(ctx context.Context, qr *model.QRCode) error
	ScanStats(ctx context.Context, id string) (*model.ScanStats, error)
	ListQRCodeIDs(ctx context.Context) ([]string, error)
}

// DestinationCache caches resolved destinations. GetDestination returns "" on a miss.
type DestinationCache interface {
	GetDestination(ctx context.Context, qrID string) (string, error)
	SetDestination(ctx context.Context, qrID, destination string) error
}

// Filter is a probabilistic set of known identifiers. It only hints at
// membership: a negative Test is never trusted on its own.
// Rebuild replaces the contents with the ids from load, keeping ids added meanwhile.
type Filter interface {
	Test(id string) bool
	Add(id string)
	Rebuild(load func() ([]string, error)) error
}

// Locator resolves an IP to a location and never fails
type Locator interface {
	Locate(ctx context.Context, ip string) geo.Location
}

// Reporter receives failures that were recovered without affecting the caller
type Reporter interface {
	Report(ctx context.Context, op string, err error)
}

// IDSource generates new QR identifiers
type IDSource interface {
	NewQRID() string
}
