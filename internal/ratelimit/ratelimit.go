package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/settlement/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultKeyPrefix   = "settlement:ratelimit"
	errorCodeRateLimit = "rate_limited"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter decides whether a caller may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RedisLimiter is a fixed-window counter shared by every process using the same Redis.
type RedisLimiter struct {
	client    redis.UniversalClient
	limit     int64
	window    time.Duration
	keyPrefix string
	now       func() time.Time
}

// NewRedisLimiter allows limit requests per window for each key.
func NewRedisLimiter(client redis.UniversalClient, limit int64, window time.Duration) (*RedisLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if limit <= 0 || window <= 0 {
		return nil, fmt.Errorf("rate limit must be positive: %d per %s", limit, window)
	}
	return &RedisLimiter{client: client, limit: limit, window: window, keyPrefix: defaultKeyPrefix, now: time.Now}, nil
}

// NewRedisClient parses redisURL and pings the server.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	options.DialTimeout = 5 * time.Second
	options.ReadTimeout = 3 * time.Second
	options.WriteTimeout = 3 * time.Second
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (limiter *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := limiter.now()
	windowSeconds := int64(limiter.window / time.Second)
	if windowSeconds < 1 {
		windowSeconds = 1
	}
	windowIndex := now.Unix() / windowSeconds
	redisKey := limiter.keyPrefix + ":" + key + ":" + strconv.FormatInt(windowIndex, 10)

	var counter *redis.IntCmd
	_, err := limiter.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		counter = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, limiter.window)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit counter: %w", err)
	}
	count := counter.Val()
	windowEnd := time.Unix((windowIndex+1)*windowSeconds, 0)
	if count > limiter.limit {
		return Decision{Allowed: false, RetryAfter: windowEnd.Sub(now)}, nil
	}
	return Decision{Allowed: true, Remaining: limiter.limit - count}, nil
}

// Middleware limits requests per authenticated caller, falling back to the client address.
// A limiter failure is logged and the request is let through.
func Middleware(limiter Limiter, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if party, ok := auth.Principal(c); ok {
			key = "user:" + party.ID.String()
		}
		decision, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}
		if !decision.Allowed {
			seconds := int64(decision.RetryAfter.Round(time.Second) / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.FormatInt(seconds, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": gin.H{"code": errorCodeRateLimit, "message": "too many requests"}})
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		c.Next()
	}
}
