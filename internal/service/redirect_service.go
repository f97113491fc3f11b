package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Monthlyaway/qr-link/internal/fingerprint"
	"github.com/Monthlyaway/qr-link/internal/geo"
	"github.com/Monthlyaway/qr-link/internal/metrics"
	"github.com/Monthlyaway/qr-link/internal/model"
	"github.com/Monthlyaway/qr-link/internal/utils"
)

const (
	DefaultResolveTimeout = 3 * time.Second
	DefaultScanTimeout    = 5 * time.Second
)

// ScanRequest carries the request metadata a scan is derived from.
// IP is empty when the client address is unknown.
type ScanRequest struct {
	QRID      string
	IP        string
	UserAgent string
	Referrer  string
}

// RedirectOptions configures a RedirectService. Cache and Filter are optional.
type RedirectOptions struct {
	Cache          DestinationCache
	Filter         Filter
	Logger         *slog.Logger
	ResolveTimeout time.Duration
	ScanTimeout    time.Duration
	// AsyncScans records scans in the background after the redirect is answered
	AsyncScans bool
}

// RedirectService resolves QR identifiers and records one scan per successful resolution
type RedirectService struct {
	store    ScanStore
	geo      Locator
	reporter Reporter
	cache    DestinationCache
	filter   Filter
	logger   *slog.Logger

	resolveTimeout time.Duration
	scanTimeout    time.Duration
	async          bool

	pending sync.WaitGroup
}

// NewRedirectService creates a redirect service
func NewRedirectService(store ScanStore, locator Locator, reporter Reporter, opts RedirectOptions) *RedirectService {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = DefaultResolveTimeout
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = DefaultScanTimeout
	}

	return &RedirectService{
		store:          store,
		geo:            locator,
		reporter:       reporter,
		cache:          opts.Cache,
		filter:         opts.Filter,
		logger:         opts.Logger,
		resolveTimeout: opts.ResolveTimeout,
		scanTimeout:    opts.ScanTimeout,
		async:          opts.AsyncScans,
	}
}

// Resolve returns the destination URL of qrID.
// Uses cascade: Bloom filter -> Redis -> store. The store stays authoritative;
// a filter negative only skips the cache.
func (s *RedirectService) Resolve(ctx context.Context, qrID string) (string, error) {
	if !utils.ValidQRID(qrID) {
		return "", ErrNotFound
	}

	known := s.filter == nil || s.filter.Test(qrID)
	if s.filter != nil && known {
		metrics.FilterChecks.WithLabelValues("maybe").Inc()
	}

	if s.cache != nil && known {
		dest, err := s.cache.GetDestination(ctx, qrID)
		if err != nil {
			s.logger.WarnContext(ctx, "destination cache read failed", "qr_id", qrID, "error", err)
		}
		if dest != "" {
			return dest, nil
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, s.resolveTimeout)
	defer cancel()

	qr, err := s.store.GetQRCode(lookupCtx, qrID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if qr == nil {
		if !known {
			metrics.FilterChecks.WithLabelValues("absent").Inc()
		}
		return "", ErrNotFound
	}

	if !known {
		metrics.FilterChecks.WithLabelValues("missed").Inc()
		s.filter.Add(qrID)
	}

	if s.cache != nil {
		if err := s.cache.SetDestination(ctx, qrID, qr.DestinationURL); err != nil {
			s.logger.WarnContext(ctx, "destination cache write failed", "qr_id", qrID, "error", err)
		}
	}

	return qr.DestinationURL, nil
}

// Redirect resolves req.QRID and schedules exactly one scan record for it.
// A scan is never recorded for a failed resolution, and a failure while
// recording never changes the returned destination.
func (s *RedirectService) Redirect(ctx context.Context, req ScanRequest) (string, error) {
	dest, err := s.Resolve(ctx, req.QRID)
	switch {
	case errors.Is(err, ErrNotFound):
		metrics.Redirects.WithLabelValues("not_found").Inc()
		return "", err
	case err != nil:
		metrics.Redirects.WithLabelValues("error").Inc()
		s.logger.ErrorContext(ctx, "resolve failed", "qr_id", req.QRID, "error", err)
		return "", err
	}

	metrics.Redirects.WithLabelValues("found").Inc()
	s.logScan(ctx, req)
	return dest, nil
}

// TrackScan verifies that req.QRID exists and records a scan synchronously.
// The returned error covers the write steps; the event is returned even
// when one of them failed.
func (s *RedirectService) TrackScan(ctx context.Context, req ScanRequest) (*model.ScanEvent, error) {
	if _, err := s.Resolve(ctx, req.QRID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.scanTimeout)
	defer cancel()

	return s.RecordScan(ctx, req)
}

// logScan records the scan either inline or on a tracked goroutine.
// The scan context is detached from the request so a client disconnect
// does not abort the writes.
func (s *RedirectService) logScan(ctx context.Context, req ScanRequest) {
	ctx = context.WithoutCancel(ctx)

	if !s.async {
		ctx, cancel := context.WithTimeout(ctx, s.scanTimeout)
		defer cancel()
		_, _ = s.RecordScan(ctx, req)
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(ctx, s.scanTimeout)
		defer cancel()

		_ = Isolate(ctx, s.reporter, OpScanRecord, func(ctx context.Context) error {
			_, _ = s.RecordScan(ctx, req)
			return nil
		})
	}()
}

// RecordScan enriches req into a scan event, inserts it and increments the
// usage counter. The insert and the increment are isolated from each other:
// either may fail without preventing the other. Failures are reported and
// joined into the returned error, which callers on the redirect path ignore.
func (s *RedirectService) RecordScan(ctx context.Context, req ScanRequest) (*model.ScanEvent, error) {
	var scan *model.ScanEvent
	if err := Isolate(ctx, s.reporter, OpScanEnrich, func(ctx context.Context) error {
		scan = s.buildScan(ctx, req)
		return nil
	}); err != nil {
		scan = newScanEvent(req, fingerprint.Unknown(), geo.UnknownLocation)
	}

	insertErr := Isolate(ctx, s.reporter, OpScanInsert, func(ctx context.Context) error {
		return s.store.CreateScanEvent(ctx, scan)
	})
	countWrite(OpScanInsert, insertErr)

	incrementErr := Isolate(ctx, s.reporter, OpUsageIncrement, func(ctx context.Context) error {
		return s.store.IncrementUsageCount(ctx, req.QRID)
	})
	countWrite(OpUsageIncrement, incrementErr)

	return scan, errors.Join(insertErr, incrementErr)
}

// Wait blocks until every background scan has finished or ctx is done
func (s *RedirectService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *RedirectService) buildScan(ctx context.Context, req ScanRequest) *model.ScanEvent {
	fp := fingerprint.Parse(req.UserAgent)

	loc := geo.UnknownLocation
	if req.IP != "" && s.geo != nil {
		loc = s.geo.Locate(ctx, req.IP)
	}

	return newScanEvent(req, fp, loc)
}

func newScanEvent(req ScanRequest, fp fingerprint.Fingerprint, loc geo.Location) *model.ScanEvent {
	scan := &model.ScanEvent{
		QRID:       req.QRID,
		UserAgent:  req.UserAgent,
		Browser:    fp.Browser,
		OS:         fp.OS,
		DeviceType: fp.DeviceType,
		Country:    loc.Country,
		City:       loc.City,
	}
	if req.IP != "" {
		ip := req.IP
		scan.IP = &ip
	}
	if req.Referrer != "" {
		ref := req.Referrer
		scan.Referrer = &ref
	}
	return scan
}

func countWrite(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ScanWrites.WithLabelValues(op, result).Inc()
}
