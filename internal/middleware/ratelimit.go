package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Monthlyaway/qr-link/internal/fingerprint"
	"github.com/Monthlyaway/qr-link/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimitStrategy selects the limiting algorithm
type RateLimitStrategy string

const (
	// FixedWindow counts requests per aligned window. Allows up to 2x bursts at window edges.
	FixedWindow RateLimitStrategy = "fixed_window"
	// SlidingWindow keeps one sorted-set entry per accepted request
	SlidingWindow RateLimitStrategy = "sliding_window"
	// TokenBucket refills Limit tokens per Window and allows bursts up to Limit
	TokenBucket RateLimitStrategy = "token_bucket"
)

// KeyPrefix namespaces limiter keys in Redis
const KeyPrefix = "qr:ratelimit:"

// RateLimitConfig holds configuration for the rate limiter
type RateLimitConfig struct {
	Strategy RateLimitStrategy
	Limit    int
	Window   time.Duration

	// KeyFunc identifies the client; defaults to ClientKey
	KeyFunc func(*gin.Context) string
	// ErrorHandler writes the 429 response
	ErrorHandler func(*gin.Context)
	// SkipFunc exempts a request from limiting
	SkipFunc func(*gin.Context) bool

	Logger *slog.Logger
}

// RateLimiter limits requests per client using Redis
type RateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
}

// NewRateLimiter creates a new rate limiter instance
func NewRateLimiter(redisClient *redis.Client, config *RateLimitConfig) *RateLimiter {
	if config.KeyFunc == nil {
		config.KeyFunc = ClientKey
	}
	if config.ErrorHandler == nil {
		config.ErrorHandler = defaultErrorHandler
	}
	if config.SkipFunc == nil {
		config.SkipFunc = func(*gin.Context) bool { return false }
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}

	return &RateLimiter{
		redis:  redisClient,
		config: config,
	}
}

// Middleware returns the gin handler. Redis failures fail open.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.config.SkipFunc(c) {
			c.Next()
			return
		}

		key := rl.config.KeyFunc(c)
		allowed, remaining, resetTime, err := rl.checkRateLimit(c.Request.Context(), key)
		if err != nil {
			rl.config.Logger.WarnContext(c.Request.Context(), "rate limiter unavailable, failing open", "key", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.config.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))

		if !allowed {
			retryAfter := max(resetTime-time.Now().Unix(), 0)
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			metrics.RateLimited.WithLabelValues(string(rl.config.Strategy)).Inc()

			rl.config.ErrorHandler(c)
			c.Abort()
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) checkRateLimit(ctx context.Context, key string) (bool, int, int64, error) {
	switch rl.config.Strategy {
	case SlidingWindow:
		return rl.slidingWindowCheck(ctx, key)
	case TokenBucket:
		return rl.tokenBucketCheck(ctx, key)
	default:
		return rl.fixedWindowCheck(ctx, key)
	}
}

func (rl *RateLimiter) fixedWindowCheck(ctx context.Context, key string) (bool, int, int64, error) {
	windowStart := time.Now().Truncate(rl.config.Window).Unix()
	windowKey := fmt.Sprintf("%s:%d", key, windowStart)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, rl.config.Window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, 0, err
	}

	count := int(incr.Val())
	resetTime := windowStart + int64(rl.config.Window.Seconds())
	return count <= rl.config.Limit, max(rl.config.Limit-count, 0), resetTime, nil
}

// slidingWindowScript trims expired entries and admits the request only
// when the window has room, so rejected requests do not extend the penalty.
// Scores are unix milliseconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
  redis.call('ZADD', key, now, ARGV[4])
  count = count + 1
  redis.call('PEXPIRE', key, window * 2)
  return {1, limit - count}
end
return {0, 0}
`)

func (rl *RateLimiter) slidingWindowCheck(ctx context.Context, key string) (bool, int, int64, error) {
	now := time.Now()

	res, err := slidingWindowScript.Run(ctx, rl.redis, []string{key},
		now.UnixMilli(), rl.config.Window.Milliseconds(), rl.config.Limit, uuid.NewString()).Int64Slice()
	if err != nil {
		return false, 0, 0, err
	}

	return res[0] == 1, int(res[1]), now.Add(rl.config.Window).Unix(), nil
}

// tokenBucketScript refills and consumes in one round trip. Tokens are
// stored scaled by 1000 to stay in integer arithmetic.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2]) * 1000
local window = tonumber(ARGV[3])
local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now
tokens = math.min(capacity, tokens + math.floor((now - ts) * capacity / window))
local allowed = 0
if tokens >= 1000 then
  tokens = tokens - 1000
  allowed = 1
end
redis.call('HSET', key, 'tokens', tokens, 'ts', now)
redis.call('PEXPIRE', key, window * 2)
return {allowed, tokens}
`)

func (rl *RateLimiter) tokenBucketCheck(ctx context.Context, key string) (bool, int, int64, error) {
	now := time.Now()
	windowMs := rl.config.Window.Milliseconds()

	res, err := tokenBucketScript.Run(ctx, rl.redis, []string{key + ":bucket"},
		now.UnixMilli(), rl.config.Limit, windowMs).Int64Slice()
	if err != nil {
		return false, 0, 0, err
	}

	tokens := res[1]
	resetTime := now.Unix()
	if tokens < 1000 {
		// milliseconds until one whole token has been refilled
		wait := (1000 - tokens) * windowMs / (int64(rl.config.Limit) * 1000)
		resetTime = now.Add(time.Duration(wait) * time.Millisecond).Unix()
	}

	return res[0] == 1, int(tokens / 1000), resetTime, nil
}

func defaultErrorHandler(c *gin.Context) {
	c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
}

// ClientKey limits per client address, preferring the proxy-supplied address
func ClientKey(c *gin.Context) string {
	ip := fingerprint.ClientIP(c.Request.Header)
	if ip == "" {
		ip = c.ClientIP()
	}
	return KeyPrefix + "ip:" + ip
}

// SkipHealthCheck exempts the health and metrics endpoints
func SkipHealthCheck(c *gin.Context) bool {
	return c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics"
}
