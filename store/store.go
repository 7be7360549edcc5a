// Package store provides fixed-window request counters.
//
// The Redis counter is shared by any number of stateless processes: every call is a
// single atomic HINCRBY against a per-day hash, and the hash expiry is extended by an
// atomic server-side script only when the process-local ExpiryCache says it may be
// too short. The Memory counter keeps counts in process memory and is only suitable
// for single-instance deployments and development.
//
// Both implement Counter:
//
//	counter, err := store.NewRedis(store.RedisConfig{Addr: "localhost:6379"})
//	if err != nil {
//		return err
//	}
//	defer counter.Close()
//
//	n, err := counter.Increase(ctx, "user:42", time.Minute, 1)
//
// The count is the cumulative total for the key in the current window. Comparing it to
// a threshold is left to the caller.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhalm/canonlog"
	"github.com/redis/go-redis/v9"

	"github.com/nhalm/ratecount/window"
)

// Counter counts events per logical key in fixed windows.
// Implementations must be safe for concurrent use.
type Counter interface {
	// Increase adds step to the counter of key in the current window of length ttl and
	// returns the total after the increase. ttl is truncated to whole seconds and
	// clamped to a minimum of one second. step must be at least 1.
	Increase(ctx context.Context, key string, ttl time.Duration, step int64) (int64, error)
}

// WindowCounter is a Counter that also reports the window an increase was counted in.
// Redis and Memory implement it.
type WindowCounter interface {
	Counter
	IncreaseWindow(ctx context.Context, key string, ttl time.Duration, step int64) (int64, window.Window, error)
}

// IncreaseWindow increases key through c and returns the window the count belongs to.
// For a counter that is not a WindowCounter the window is derived from clock, read
// right before the increase, and may name the previous window when the call straddles
// a boundary.
func IncreaseWindow(ctx context.Context, c Counter, clock Clock, key string, ttl time.Duration, step int64) (int64, window.Window, error) {
	if wc, ok := c.(WindowCounter); ok {
		return wc.IncreaseWindow(ctx, key, ttl, step)
	}
	if clock == nil {
		clock = SystemClock
	}
	w := window.New(clock.Now(), ttl)
	count, err := c.Increase(ctx, key, ttl, step)
	return count, w, err
}

var (
	// ErrStoreUnavailable reports a connection or network failure talking to the store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrStoreProtocol reports an error reply or an unexpected response from the store.
	ErrStoreProtocol = errors.New("unexpected store response")

	// ErrConfiguration reports an invalid argument or setting.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrInvalidStep is returned by Increase when step is less than 1.
	ErrInvalidStep = fmt.Errorf("%w: step must be at least 1", ErrConfiguration)
)

// FailurePolicy decides what Increase does when the store fails.
type FailurePolicy int

const (
	// FailClosed returns the store error to the caller (default).
	FailClosed FailurePolicy = iota

	// FailOpen hides store failures. A failed increment reports a count of 0, which is
	// below any threshold. A failed expiry extension still reports the count that was
	// already obtained. Context cancellation is always returned as an error.
	FailOpen
)

func (p FailurePolicy) String() string {
	switch p {
	case FailClosed:
		return "fail_closed"
	case FailOpen:
		return "fail_open"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// Clock supplies the wall-clock time windows are derived from.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now returns f().
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads time.Now.
var SystemClock Clock = ClockFunc(time.Now)

// DefaultSweepInterval is how often stale ExpiryCache entries and expired Memory
// counters are removed.
const DefaultSweepInterval = time.Minute

type options struct {
	clock         Clock
	loc           *time.Location
	cache         *ExpiryCache
	policy        FailurePolicy
	prefix        string
	sweepInterval time.Duration
}

// Option configures a Redis or Memory counter.
type Option func(*options)

// WithClock sets the clock used to derive windows. The default is SystemClock.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLocation sets the time zone bucket days are computed in. The default is time.Local.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithExpiryCache sets the process-local expiry cache used by the Redis counter.
// Sharing one cache between counters that talk to the same store is allowed.
func WithExpiryCache(c *ExpiryCache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithFailurePolicy sets the store failure policy. The default is FailClosed.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithPrefix sets the prefix of Redis bucket keys (default: "ratecount:").
func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithSweepInterval sets how often stale local state is removed (default: DefaultSweepInterval).
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.sweepInterval = d
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		clock:         SystemClock,
		loc:           time.Local,
		policy:        FailClosed,
		prefix:        "ratecount:",
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cache == nil {
		o.cache = NewExpiryCache(o.clock, o.sweepInterval)
	}
	return o
}

// classify wraps a store error with the kind it belongs to.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var rerr redis.Error
	if errors.As(err, &rerr) {
		return fmt.Errorf("%w: %s: %w", ErrStoreProtocol, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// logInfo adds a field to the canonical log line when a canonlog logger is present.
func logInfo(ctx context.Context, key string, value any) {
	if _, ok := canonlog.TryGetLogger(ctx); ok {
		canonlog.InfoAdd(ctx, key, value)
	}
}

func logError(ctx context.Context, err error) {
	if _, ok := canonlog.TryGetLogger(ctx); ok {
		canonlog.ErrorAdd(ctx, err)
	}
}
