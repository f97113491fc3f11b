package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DestinationPrefix is the prefix for QR destination keys in Redis
	DestinationPrefix = "qr:dest:"
	// LocationPrefix is the prefix for cached geolocation results keyed by IP
	LocationPrefix = "qr:geo:"
	// DefaultTTL bounds how long a destination changed or deleted in the
	// database keeps being served from cache
	DefaultTTL = 30 * time.Second
)

// RedisCache wraps the Redis client
type RedisCache struct {
	client  *redis.Client
	destTTL time.Duration
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(addr, password string, db, poolSize int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client, destTTL: DefaultTTL}, nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, destTTL: DefaultTTL}
}

// WithDestinationTTL sets the expiry of cached destinations; non-positive values keep the current one
func (r *RedisCache) WithDestinationTTL(ttl time.Duration) *RedisCache {
	if ttl > 0 {
		r.destTTL = ttl
	}
	return r
}

// GetDestination returns the cached destination URL for a QR identifier, "" on a miss
func (r *RedisCache) GetDestination(ctx context.Context, qrID string) (string, error) {
	val, err := r.client.Get(ctx, DestinationPrefix+qrID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get destination from Redis: %w", err)
	}
	return val, nil
}

// SetDestination caches the destination URL for a QR identifier
func (r *RedisCache) SetDestination(ctx context.Context, qrID, destination string) error {
	if err := r.client.Set(ctx, DestinationPrefix+qrID, destination, r.destTTL).Err(); err != nil {
		return fmt.Errorf("failed to set destination in Redis: %w", err)
	}
	return nil
}

// GetLocation returns a cached geolocation result for an IP
func (r *RedisCache) GetLocation(ctx context.Context, ip string) (country, city string, found bool, err error) {
	vals, err := r.client.HGetAll(ctx, LocationPrefix+ip).Result()
	if err != nil {
		return "", "", false, fmt.Errorf("failed to get location from Redis: %w", err)
	}
	country, ok := vals["country"]
	if !ok {
		return "", "", false, nil
	}
	return country, vals["city"], true, nil
}

// SetLocation caches a geolocation result for an IP
func (r *RedisCache) SetLocation(ctx context.Context, ip, country, city string, ttl time.Duration) error {
	key := LocationPrefix + ip

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, "country", country, "city", city)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set location in Redis: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// GetClient returns the underlying Redis client
func (r *RedisCache) GetClient() *redis.Client {
	return r.client
}
