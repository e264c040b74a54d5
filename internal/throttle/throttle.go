// Package throttle limits repeated attempts per key, such as logins per
// (role, email).
package throttle

import (
	"context"
	_ "embed"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"logbook.org/internal/ids"
)

// Limiter reports whether one more attempt for key is allowed. Reset clears
// the attempts recorded for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context, key string) error
}

// Local is an in-process token bucket per key. Buckets are dropped once they
// have refilled so the map does not grow without bound.
type Local struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	window  time.Duration
	now     func() time.Time
	buckets map[string]*localBucket
	sweeps  int
}

type localBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewLocal allows max attempts per window for each key.
func NewLocal(max int, window time.Duration) *Local {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Local{
		limit:   rate.Every(window / time.Duration(max)),
		burst:   max,
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*localBucket),
	}
}

// Allow never returns an error.
func (l *Local) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &localBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	allowed := b.lim.AllowN(now, 1)

	l.sweeps++
	if l.sweeps >= 1024 {
		l.sweeps = 0
		for k, v := range l.buckets {
			if now.Sub(v.seen) > l.window {
				delete(l.buckets, k)
			}
		}
	}
	return allowed, nil
}

// Reset drops the bucket for key.
func (l *Local) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
	return nil
}

//go:embed sliding_window.lua
var slidingWindowScript string

// Scripter is the subset of redis.Cmdable the sliding window needs.
type Scripter interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Redis is a sliding-window limiter shared by every API replica.
type Redis struct {
	cmd    Scripter
	prefix string
	window time.Duration
	max    int
	now    func() time.Time
	nonce  func() string
}

// NewRedis allows max attempts per window for each key, counted in Redis.
func NewRedis(cmd Scripter, prefix string, max int, window time.Duration) *Redis {
	if prefix == "" {
		prefix = "logbook:throttle:"
	}
	return &Redis{cmd: cmd, prefix: prefix, window: window, max: max, now: time.Now, nonce: ids.New}
}

// Allow records the attempt under a fresh member so concurrent attempts in
// the same millisecond are all counted. The script only touches KEYS[1].
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	return r.cmd.Eval(ctx, slidingWindowScript, []string{r.prefix + key},
		r.window.Milliseconds(), r.max, r.now().UnixMilli(), r.nonce()).Bool()
}

func (r *Redis) Reset(ctx context.Context, key string) error {
	return r.cmd.Del(ctx, r.prefix+key).Err()
}

var (
	_ Limiter = (*Local)(nil)
	_ Limiter = (*Redis)(nil)
)
