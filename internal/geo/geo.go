// Package geo resolves client IP addresses to a country and city through
// an ipapi.co compatible HTTP endpoint. Every failure degrades to
// Unknown/Unknown; Locate never returns an error.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Monthlyaway/qr-link/internal/metrics"
	"github.com/Monthlyaway/qr-link/internal/model"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultEndpoint = "https://ipapi.co"
	DefaultTimeout  = 2 * time.Second

	maxBodyBytes = 64 << 10
)

// Location is the best-effort position of a client
type Location struct {
	Country string `json:"country"`
	City    string `json:"city"`
}

// UnknownLocation is returned whenever a lookup cannot produce a result
var UnknownLocation = Location{Country: model.Unknown, City: model.Unknown}

// Cache stores successful lookups keyed by IP
type Cache interface {
	GetLocation(ctx context.Context, ip string) (country, city string, found bool, err error)
	SetLocation(ctx context.Context, ip, country, city string, ttl time.Duration) error
}

// Options configures a Client
type Options struct {
	Endpoint   string
	Timeout    time.Duration
	CacheTTL   time.Duration
	Cache      Cache
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client looks up IP geolocation over HTTP
type Client struct {
	endpoint string
	timeout  time.Duration
	cacheTTL time.Duration
	cache    Cache
	http     *http.Client
	logger   *slog.Logger
	group    singleflight.Group
}

// NewClient creates a geolocation client
func NewClient(opts Options) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		timeout:  opts.Timeout,
		cacheTTL: opts.CacheTTL,
		cache:    opts.Cache,
		http:     opts.HTTPClient,
		logger:   opts.Logger,
	}
}

type ipapiResponse struct {
	CountryName string `json:"country_name"`
	City        string `json:"city"`
	Error       bool   `json:"error"`
	Reason      string `json:"reason"`
}

// Locate returns the location of ip, or UnknownLocation on any failure.
// Addresses that cannot be public (empty, private, loopback) are not looked up.
func (c *Client) Locate(ctx context.Context, ip string) Location {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil || parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsUnspecified() || parsed.IsLinkLocalUnicast() {
		return UnknownLocation
	}
	key := parsed.String()

	if loc, ok := c.cached(ctx, key); ok {
		return loc
	}

	ch := c.group.DoChan(key, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			c.logger.Warn("geolocation lookup failed", "ip", key, "error", res.Err)
			metrics.GeoLookups.WithLabelValues("error").Inc()
			return UnknownLocation
		}
		loc := res.Val.(Location)
		metrics.GeoLookups.WithLabelValues("ok").Inc()
		c.store(ctx, key, loc)
		return loc
	case <-ctx.Done():
		c.logger.Warn("geolocation lookup abandoned", "ip", key, "error", ctx.Err())
		metrics.GeoLookups.WithLabelValues("abandoned").Inc()
		return UnknownLocation
	}
}

func (c *Client) fetch(ctx context.Context, ip string) (Location, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.GeoLookupDuration.Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/json/", c.endpoint, ip), nil)
	if err != nil {
		return Location{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Location{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body ipapiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("decode response: %w", err)
	}
	if body.Error {
		return Location{}, errors.New("lookup rejected: " + body.Reason)
	}

	loc := Location{Country: body.CountryName, City: body.City}
	if loc.Country == "" {
		loc.Country = model.Unknown
	}
	if loc.City == "" {
		loc.City = model.Unknown
	}
	return loc, nil
}

func (c *Client) cached(ctx context.Context, ip string) (Location, bool) {
	if c.cache == nil {
		return Location{}, false
	}
	country, city, found, err := c.cache.GetLocation(ctx, ip)
	if err != nil {
		c.logger.Debug("geolocation cache read failed", "ip", ip, "error", err)
		return Location{}, false
	}
	if !found {
		return Location{}, false
	}
	return Location{Country: country, City: city}, true
}

func (c *Client) store(ctx context.Context, ip string, loc Location) {
	if c.cache == nil || c.cacheTTL <= 0 || loc == UnknownLocation {
		return
	}
	if err := c.cache.SetLocation(ctx, ip, loc.Country, loc.City, c.cacheTTL); err != nil {
		c.logger.Debug("geolocation cache write failed", "ip", ip, "error", err)
	}
}
