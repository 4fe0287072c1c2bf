/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based cache for solve results, keyed by
// instance fingerprint. Identical instances solved with identical options
// produce identical rosters, so a fingerprint hit skips the fill entirely.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/vakt/internal/telemetry"
)

// DefaultResultTTL bounds how long a cached roster stays valid.
const DefaultResultTTL = 1 * time.Hour

// Key prefixes for Redis cache
const (
	KeyResult = "vakt:cache:result:" // + fingerprint + ":" + options tag
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ResultTTL time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		ResultTTL:      DefaultResultTTL,
		DisableOnError: true,
	}
}

// CachedAssignment mirrors one committed roster entry.
type CachedAssignment struct {
	StaffID string `json:"staff_id"`
	Day     int    `json:"day"`
	ShiftID string `json:"shift_id"`
}

// CachedShortfall mirrors one unmet coverage requirement.
type CachedShortfall struct {
	Day     int    `json:"day"`
	ShiftID string `json:"shift_id"`
	Missing int    `json:"missing"`
}

// CachedResult is the stored outcome of one fill over a fingerprinted
// instance.
type CachedResult struct {
	Complete     bool               `json:"complete"`
	Assignments  []CachedAssignment `json:"assignments"`
	Shortfalls   []CachedShortfall  `json:"shortfalls,omitempty"`
	PerStaff     map[string]int     `json:"per_staff"`
	Requirements int                `json:"requirements"`
	Checks       int                `json:"checks"`
	DurationMS   int64              `json:"duration_ms"`
	ComputedAt   time.Time          `json:"computed_at"`
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance. An unreachable Redis is not fatal; the
// cache starts disabled and every lookup misses.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	telemetry.CacheErrorsTotal.WithLabelValues(operation).Inc()
	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// resultKey builds the cache key for one (fingerprint, options) pair. The
// fill's only knob that changes output is the stop-early policy, so it is
// part of the key.
func resultKey(fingerprint string, stopEarly bool) string {
	tag := "full"
	if stopEarly {
		tag = "stop"
	}
	return KeyResult + fingerprint + ":" + tag
}

// GetResult retrieves the cached solve result for a fingerprint.
func (c *Cache) GetResult(ctx context.Context, fingerprint string, stopEarly bool) (*CachedResult, bool) {
	var result CachedResult
	found, err := c.get(ctx, resultKey(fingerprint, stopEarly), &result)
	if err != nil || !found {
		telemetry.CacheMissesTotal.WithLabelValues("result").Inc()
		return nil, false
	}

	telemetry.CacheHitsTotal.WithLabelValues("result").Inc()
	c.logger.Debug().Str("fingerprint", fingerprint).Msg("solve result cache hit")
	return &result, true
}

// SetResult stores a solve result under the instance fingerprint.
func (c *Cache) SetResult(ctx context.Context, fingerprint string, stopEarly bool, result *CachedResult) {
	if err := c.set(ctx, resultKey(fingerprint, stopEarly), result, c.config.ResultTTL); err != nil {
		return
	}
	c.logger.Debug().Str("fingerprint", fingerprint).Msg("solve result cached")
}

// InvalidateResult drops both cached variants for a fingerprint. Called when
// the owning instance is deleted.
func (c *Cache) InvalidateResult(ctx context.Context, fingerprint string) {
	_ = c.delete(ctx, resultKey(fingerprint, false))
	_ = c.delete(ctx, resultKey(fingerprint, true))
}
