package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Monthlyaway/qr-link/internal/model"
	"github.com/Monthlyaway/qr-link/internal/utils"
)

const maxIDAttempts = 3

// CreateQRCodeInput is the user-supplied part of a new QR code
type CreateQRCodeInput struct {
	UserID         string
	Name           string
	DestinationURL string
	FolderID       *string
}

// QRService handles QR code management
type QRService struct {
	store  QRStore
	ids    IDSource
	cache  DestinationCache
	filter Filter
	logger *slog.Logger
}

// NewQRService creates a QR service. cache and filter may be nil.
func NewQRService(store QRStore, ids IDSource, cache DestinationCache, filter Filter, logger *slog.Logger) *QRService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &QRService{
		store:  store,
		ids:    ids,
		cache:  cache,
		filter: filter,
		logger: logger,
	}
}

// CreateQRCode validates input and stores a new QR code under a fresh identifier
func (s *QRService) CreateQRCode(ctx context.Context, in CreateQRCodeInput) (*model.QRCode, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	dest, err := utils.NormalizeURL(in.DestinationURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	id, err := s.freeID(ctx)
	if err != nil {
		return nil, err
	}

	qr := &model.QRCode{
		ID:             id,
		UserID:         in.UserID,
		Name:           name,
		DestinationURL: dest,
		FolderID:       in.FolderID,
	}
	if err := s.store.CreateQRCode(ctx, qr); err != nil {
		return nil, err
	}

	// Update bloom filter and cache
	if s.filter != nil {
		s.filter.Add(id)
	}
	if s.cache != nil {
		if err := s.cache.SetDestination(ctx, id, dest); err != nil {
			s.logger.WarnContext(ctx, "destination cache write failed", "qr_id", id, "error", err)
		}
	}

	return qr, nil
}

// freeID generates identifiers until one is unused
func (s *QRService) freeID(ctx context.Context) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := s.ids.NewQRID()
		existing, err := s.store.GetQRCode(ctx, id)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return id, nil
		}
	}
	return "", fmt.Errorf("no free qr id after %d attempts", maxIDAttempts)
}

// GetQRCode returns the QR code with the given identifier
func (s *QRService) GetQRCode(ctx context.Context, id string) (*model.QRCode, error) {
	if !utils.ValidQRID(id) {
		return nil, ErrNotFound
	}
	qr, err := s.store.GetQRCode(ctx, id)
	if err != nil {
		return nil, err
	}
	if qr == nil {
		return nil, ErrNotFound
	}
	return qr, nil
}

// GetStats aggregates the recorded scans of a QR code
func (s *QRService) GetStats(ctx context.Context, id string) (*model.ScanStats, error) {
	qr, err := s.GetQRCode(ctx, id)
	if err != nil {
		return nil, err
	}

	stats, err := s.store.ScanStats(ctx, id)
	if err != nil {
		return nil, err
	}
	stats.UsageCount = qr.UsageCount
	return stats, nil
}

// InitBloomFilter loads every existing identifier into the filter
func (s *QRService) InitBloomFilter(ctx context.Context) error {
	if s.filter == nil {
		return nil
	}

	var count int
	err := s.filter.Rebuild(func() ([]string, error) {
		ids, err := s.store.ListQRCodeIDs(ctx)
		count = len(ids)
		return ids, err
	})
	if err != nil {
		return fmt.Errorf("failed to load qr ids: %w", err)
	}

	s.logger.InfoContext(ctx, "bloom filter loaded", "count", count)
	return nil
}

// RefreshBloomFilter rebuilds the filter every interval until ctx is done,
// so codes created by other instances become resolvable here.
func (s *QRService) RefreshBloomFilter(ctx context.Context, interval time.Duration) {
	if s.filter == nil || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.InitBloomFilter(ctx); err != nil {
				s.logger.WarnContext(ctx, "bloom filter refresh failed", "error", err)
			}
		}
	}
}
