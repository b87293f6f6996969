// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/cjg3605-hash/tripradio-sub007/shared/logger"
)

// DefaultWindow is the sliding window length
const DefaultWindow = time.Minute

// Connect parses a redis:// URL and pings the server
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed bool
	// Count is the number of admitted calls in the window, this one included
	// when allowed
	Count int64
	// RetryAfter is how long until the oldest admitted call leaves the
	// window; zero when allowed
	RetryAfter time.Duration
}

// Limiter is a sliding-window call quota shared through Redis, so several
// placefusion instances draw from the same per-source budget.
type Limiter struct {
	client *redis.Client
	window time.Duration
	prefix string
	clock  clock.PassiveClock
	log    *logger.Logger
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock sets the clock used to score window entries
func WithClock(c clock.PassiveClock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithLogger sets the logger
func WithLogger(log *logger.Logger) Option {
	return func(l *Limiter) { l.log = log }
}

// WithPrefix sets the key prefix, "placefusion:quota:" by default
func WithPrefix(p string) Option {
	return func(l *Limiter) { l.prefix = p }
}

// NewLimiter creates a limiter over client. window <= 0 uses DefaultWindow.
func NewLimiter(client *redis.Client, window time.Duration, opts ...Option) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		client: client,
		window: window,
		prefix: "placefusion:quota:",
		clock:  clock.RealClock{},
		log:    logger.Discard("ratelimit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Window returns the sliding window length
func (l *Limiter) Window() time.Duration { return l.window }

func (l *Limiter) key(name string) string { return l.prefix + name }

// Allow records a call against name if fewer than limit calls were admitted
// in the current window. Redis failures fail open: the call is allowed and
// the error is returned for logging.
func (l *Limiter) Allow(ctx context.Context, name string, limit int) (Decision, error) {
	now := l.clock.Now()
	key := l.key(name)
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.New().String()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Add(-l.window).UnixMilli(), 10))
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixMilli()), Member: member})
	card := pipe.ZCard(ctx, key)
	pipe.PExpire(ctx, key, 2*l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Warn("", "quota check failed, failing open", map[string]interface{}{
			"source": name,
			"error":  err.Error(),
		})
		return Decision{Allowed: true}, err
	}

	count := card.Val()
	if count <= int64(limit) {
		return Decision{Allowed: true, Count: count}, nil
	}

	// over quota: the rejected call does not consume budget
	if err := l.client.ZRem(ctx, key, member).Err(); err != nil {
		l.log.Warn("", "failed to release rejected quota slot", map[string]interface{}{
			"source": name,
			"error":  err.Error(),
		})
	}
	d := Decision{Count: count - 1, RetryAfter: l.window}
	oldest, err := l.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err == nil && len(oldest) == 1 {
		expires := time.UnixMilli(int64(oldest[0].Score)).Add(l.window)
		if wait := expires.Sub(now); wait > 0 {
			d.RetryAfter = wait
		}
	}
	return d, nil
}

// Count returns the number of calls admitted for name in the current window
func (l *Limiter) Count(ctx context.Context, name string) (int64, error) {
	floor := strconv.FormatInt(l.clock.Now().Add(-l.window).UnixMilli(), 10)
	n, err := l.client.ZCount(ctx, l.key(name), "("+floor, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read quota for %s: %w", name, err)
	}
	return n, nil
}

// Reset drops the window of name
func (l *Limiter) Reset(ctx context.Context, name string) error {
	if err := l.client.Del(ctx, l.key(name)).Err(); err != nil {
		return fmt.Errorf("failed to reset quota for %s: %w", name, err)
	}
	return nil
}
