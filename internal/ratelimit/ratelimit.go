// Package ratelimit caps how many jobs one user may start per minute. Counts
// live in Redis when it is configured, otherwise in process memory.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	redisTimeout = 200 * time.Millisecond
	keyPrefix    = "relaybot:ratelimit:"
	windowTTL    = 65 * time.Second

	// An idle bucket is full again after one minute, so forgetting it after
	// localIdleTTL changes no decision.
	maxLocalUsers = 10000
	localIdleTTL  = 2 * time.Minute
)

// Limiter is safe for concurrent use. A zero perMinute disables limiting.
type Limiter struct {
	perMinute int
	redis     *redis.Client
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	local *expirable.LRU[int64, *rate.Limiter]
}

func New(perMinute int, client *redis.Client, logger *slog.Logger) *Limiter {
	return &Limiter{
		perMinute: perMinute,
		redis:     client,
		logger:    logger.With("component", "ratelimit"),
		now:       time.Now,
		local:     expirable.NewLRU[int64, *rate.Limiter](maxLocalUsers, nil, localIdleTTL),
	}
}

// NewRedisClient connects to addr and pings it.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", addr, err)
	}
	return client, nil
}

// Allow records one job start for userID and reports whether it is within
// the limit.
func (l *Limiter) Allow(ctx context.Context, userID int64) bool {
	if l.perMinute <= 0 {
		return true
	}
	if l.redis != nil {
		ok, err := l.allowRedis(ctx, userID)
		if err == nil {
			return ok
		}
		l.logger.Warn("redis_ratelimit_failed", "user_id", userID, "error", err)
	}
	return l.allowLocal(userID)
}

// allowRedis is a fixed one-minute window counter.
func (l *Limiter) allowRedis(ctx context.Context, userID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	key := keyPrefix + strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(l.now().Unix()/60, 10)
	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, windowTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(l.perMinute), nil
}

func (l *Limiter) allowLocal(userID int64) bool {
	l.mu.Lock()
	lim, ok := l.local.Get(userID)
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMinute)), l.perMinute)
	}
	// Re-adding pushes the expiry out while the user stays active.
	l.local.Add(userID, lim)
	l.mu.Unlock()
	return lim.AllowN(l.now(), 1)
}
