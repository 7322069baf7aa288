// Package ratelimit implements a fixed-window request gate backed by an
// external atomic counter store.
//
// For every guarded call the gate derives a key, buckets the current time as
// floor(now / window), and increments a counter scoped to key+bucket. The
// first increment in a bucket sets the counter to expire after one window.
// A post-increment count above the limit rejects the call.
//
// Fixed windows allow a burst of up to 2x limit across a window boundary; in
// exchange each check is O(1) and counters clean themselves up.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrLimited is matched (errors.Is) by every *LimitError.
var ErrLimited = errors.New("rate limit exceeded")

// LimitError carries the allowance that was exceeded.
type LimitError struct {
	Limit  int
	Window time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("Rate limit exceeded. Allowance is %d per %d seconds.", e.Limit, windowSeconds(e.Window))
}

// Is makes errors.Is(err, ErrLimited) hold.
func (e *LimitError) Is(target error) bool { return target == ErrLimited }

// Store is the atomic counter collaborator. Incr must be atomic across
// processes sharing the store.
type Store interface {
	// Incr increments key by one and returns the new value. Missing keys start at 0.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets key to disappear after ttl.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// KeyFunc derives the counter key for a request of type R.
type KeyFunc[R any] func(R) (string, error)

// Config parameterizes one gate.
type Config[R any] struct {
	// Limit is the number of calls allowed per window (>= 1).
	Limit int
	// Window is the bucket length; it is rounded down to whole seconds (min 1s).
	Window time.Duration
	// Key derives the per-caller key.
	Key KeyFunc[R]
}

// Option customizes a factory.
type Option func(*settings)

type settings struct {
	now    func() time.Time
	prefix string
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPrefix changes the counter key namespace (default "ratelimit").
func WithPrefix(p string) Option {
	return func(s *settings) {
		if p != "" {
			s.prefix = p
		}
	}
}

// Guard is a configured gate. It is safe for concurrent use as long as the
// Store is.
type Guard[R any] struct {
	store  Store
	cfg    Config[R]
	now    func() time.Time
	prefix string
}

// New binds a Store and returns a factory that builds gates from Config.
//
//	posts := ratelimit.New[*gin.Context](store)(ratelimit.Config[*gin.Context]{
//	    Limit: 5, Window: time.Minute, Key: byToken,
//	})
func New[R any](store Store, opts ...Option) func(Config[R]) *Guard[R] {
	s := settings{now: time.Now, prefix: "ratelimit"}
	for _, o := range opts {
		o(&s)
	}
	return func(cfg Config[R]) *Guard[R] {
		if cfg.Limit < 1 {
			cfg.Limit = 1
		}
		if cfg.Window < time.Second {
			cfg.Window = time.Second
		}
		return &Guard[R]{store: store, cfg: cfg, now: s.now, prefix: s.prefix}
	}
}

// Limit returns the configured allowance.
func (g *Guard[R]) Limit() int { return g.cfg.Limit }

// Window returns the configured window.
func (g *Guard[R]) Window() time.Duration { return g.cfg.Window }

// Check counts one call for req. It returns a *LimitError when the call
// exceeds the allowance, or the Key/Store error unchanged.
func (g *Guard[R]) Check(ctx context.Context, req R) error {
	key, err := g.cfg.Key(req)
	if err != nil {
		return err
	}
	return g.CheckKey(ctx, key)
}

// CheckKey is Check with an already derived key.
func (g *Guard[R]) CheckKey(ctx context.Context, key string) error {
	win := windowSeconds(g.cfg.Window)
	bucket := g.now().Unix() / win
	counter := g.prefix + ":" + key + ":" + strconv.FormatInt(bucket, 10)

	n, err := g.store.Incr(ctx, counter)
	if err != nil {
		return err
	}
	if n == 1 {
		if err := g.store.Expire(ctx, counter, time.Duration(win)*time.Second); err != nil {
			return err
		}
	}
	if n > int64(g.cfg.Limit) {
		return &LimitError{Limit: g.cfg.Limit, Window: g.cfg.Window}
	}
	return nil
}

func windowSeconds(d time.Duration) int64 {
	s := int64(d / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
