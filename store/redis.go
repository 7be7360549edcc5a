package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nhalm/ratecount/window"
)

// extendScript moves a bucket's expiry later, never earlier.
//
// KEYS[1] = bucket hash
// ARGV[1] = required expiry, Unix seconds
//
// The current expiry is derived from the server clock (TIME) and PTTL so callers with
// skewed clocks agree. Returns 1 when the expiry was set, 0 when it already reached the
// target and -1 when the bucket does not exist.
var extendScript = redis.NewScript(`
local target = tonumber(ARGV[1])
local pttl = redis.call('PTTL', KEYS[1])
if pttl == -2 then
    return -1
end
if pttl == -1 then
    redis.call('EXPIREAT', KEYS[1], target)
    return 1
end
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
if target * 1000 > now + pttl then
    redis.call('EXPIREAT', KEYS[1], target)
    return 1
end
return 0
`)

// ExtendResult is the outcome of one run of the expiry extension script.
type ExtendResult int

const (
	// ExpiryUnchanged means the bucket already expired at or after the target.
	ExpiryUnchanged ExtendResult = 0
	// ExpiryExtended means the bucket expiry was set to the target.
	ExpiryExtended ExtendResult = 1
	// BucketMissing means the bucket did not exist, so no expiry was set.
	BucketMissing ExtendResult = -1
)

func (r ExtendResult) String() string {
	switch r {
	case ExpiryUnchanged:
		return "unchanged"
	case ExpiryExtended:
		return "extended"
	case BucketMissing:
		return "missing"
	default:
		return fmt.Sprintf("ExtendResult(%d)", int(r))
	}
}

// Redis is a Counter shared by every process connected to the same Redis.
//
// All windows whose start falls on the same local day are fields of one hash, so the
// number of top-level keys is one per day regardless of how many keys and ttls are
// counted. The hash expiry is only ever moved later, by an atomic script that runs
// when the local ExpiryCache cannot prove the expiry is already long enough.
type Redis struct {
	client redis.UniversalClient
	owned  bool
	prefix string
	loc    *time.Location
	clock  Clock
	cache  *ExpiryCache
	policy FailurePolicy

	// extend runs the expiry script. Tests replace it to count round trips.
	extend func(ctx context.Context, bucket string, expireAt int64) (ExtendResult, error)
}

// RedisConfig holds configuration for the Redis connection.
// All fields should be populated explicitly by your application code from environment
// variables, config files, or other sources. Never reads environment variables directly.
type RedisConfig struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string `mapstructure:"addr" yaml:"addr" validate:"required,hostname_port"`

	// Password for Redis authentication (optional, leave empty if not needed)
	Password string `mapstructure:"password" yaml:"password,omitempty"`

	// DB is the Redis database number (default: 0)
	DB int `mapstructure:"db" yaml:"db" validate:"gte=0"`

	// Prefix is prepended to bucket keys (default: "ratecount:")
	Prefix string `mapstructure:"prefix" yaml:"prefix,omitempty"`

	// PoolSize is the maximum number of connections (default: 10 * runtime.GOMAXPROCS)
	PoolSize int `mapstructure:"pool_size" yaml:"pool_size,omitempty" validate:"gte=0"`

	// MinIdleConns is the minimum number of idle connections (default: 0)
	MinIdleConns int `mapstructure:"min_idle_conns" yaml:"min_idle_conns,omitempty" validate:"gte=0"`

	// DialTimeout is the timeout for establishing new connections (default: 5s)
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout,omitempty" validate:"gte=0"`

	// ReadTimeout is the timeout for socket reads (default: 3s)
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout,omitempty" validate:"gte=0"`

	// WriteTimeout is the timeout for socket writes (default: ReadTimeout)
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout,omitempty" validate:"gte=0"`
}

// NewRedis connects to Redis and returns a counter that owns the connection pool.
// Validates the connection with a ping before returning. Returns an error wrapping
// ErrStoreUnavailable if the connection cannot be established within 5 seconds.
//
// Example:
//
//	counter, err := store.NewRedis(store.RedisConfig{
//		Addr:   "localhost:6379",
//		DB:     0,
//		Prefix: "ratecount:",
//	}, store.WithLocation(time.UTC))
func NewRedis(config RedisConfig, opts ...Option) (*Redis, error) {
	redisOpts := &redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	}

	if config.PoolSize > 0 {
		redisOpts.PoolSize = config.PoolSize
	}
	if config.MinIdleConns > 0 {
		redisOpts.MinIdleConns = config.MinIdleConns
	}
	if config.DialTimeout > 0 {
		redisOpts.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		redisOpts.ReadTimeout = config.ReadTimeout
	}
	if config.WriteTimeout > 0 {
		redisOpts.WriteTimeout = config.WriteTimeout
	}

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: failed to connect to redis: %w", ErrStoreUnavailable, err)
	}

	if config.Prefix != "" {
		opts = append([]Option{WithPrefix(config.Prefix)}, opts...)
	}
	r := NewRedisFromClient(client, opts...)
	r.owned = true
	return r, nil
}

// NewRedisFromClient returns a counter using an existing client or cluster client.
// The caller keeps ownership of the client; Close does not close it.
func NewRedisFromClient(client redis.UniversalClient, opts ...Option) *Redis {
	o := newOptions(opts)
	r := &Redis{
		client: client,
		prefix: o.prefix,
		loc:    o.loc,
		clock:  o.clock,
		cache:  o.cache,
		policy: o.policy,
	}
	r.extend = r.ExtendExpiry
	return r
}

// Increase adds step to the counter of key in the current window and returns the new
// total. The common path is a single HINCRBY. The bucket expiry script runs only when
// the local ExpiryCache does not already cover the expiry this window requires.
func (r *Redis) Increase(ctx context.Context, key string, ttl time.Duration, step int64) (int64, error) {
	count, _, err := r.IncreaseWindow(ctx, key, ttl, step)
	return count, err
}

// IncreaseWindow is Increase, also returning the window the count belongs to.
func (r *Redis) IncreaseWindow(ctx context.Context, key string, ttl time.Duration, step int64) (int64, window.Window, error) {
	w := window.New(r.clock.Now(), ttl)
	if step < 1 {
		return 0, w, ErrInvalidStep
	}

	bucket := r.BucketKey(w.Day(r.loc))

	count, err := r.client.HIncrBy(ctx, bucket, w.Field(key), step).Result()
	if err != nil {
		count, err = r.fail(ctx, 0, classify("hincrby", err))
		return count, w, err
	}

	required := w.RequiredExpiry(r.loc)
	if r.cache.NeedsExtend(bucket, required) {
		res, err := r.extend(ctx, bucket, required)
		if err != nil {
			count, err = r.fail(ctx, count, err)
			return count, w, err
		}
		// Both outcomes leave the bucket expiring no earlier than required.
		if res != BucketMissing {
			r.cache.Remember(bucket, required)
		}
		logInfo(ctx, "ratecount_bucket", bucket)
		logInfo(ctx, "ratecount_expiry", res.String())
	}

	r.cache.Sweep()
	return count, w, nil
}

// ExtendExpiry atomically sets the expiry of bucket to expireAt (Unix seconds) unless
// the bucket already expires at or after it. It never shortens an existing expiry.
func (r *Redis) ExtendExpiry(ctx context.Context, bucket string, expireAt int64) (ExtendResult, error) {
	val, err := extendScript.Run(ctx, r.client, []string{bucket}, expireAt).Result()
	if err != nil {
		return 0, classify("extend expiry", err)
	}

	n, ok := val.(int64)
	if !ok {
		return 0, fmt.Errorf("%w: extend expiry returned %T", ErrStoreProtocol, val)
	}

	switch res := ExtendResult(n); res {
	case ExpiryUnchanged, ExpiryExtended, BucketMissing:
		return res, nil
	default:
		return 0, fmt.Errorf("%w: extend expiry returned %d", ErrStoreProtocol, n)
	}
}

// BucketKey returns the Redis key of the bucket for a day identifier.
func (r *Redis) BucketKey(day string) string {
	return r.prefix + day
}

// Entry is one window counter stored in a bucket.
type Entry struct {
	Key    string
	Window window.Window
	Count  int64
}

// Bucket is a snapshot of one day's bucket.
type Bucket struct {
	Key string
	Day string

	// ExpiresIn is the remaining time to live. It is negative when the bucket has no
	// expiry or does not exist.
	ExpiresIn time.Duration
	Entries   []Entry
}

// Bucket reads every counter of one day's bucket with its remaining time to live.
// Entries are sorted by key, then window end, then ttl.
func (r *Redis) Bucket(ctx context.Context, day string) (Bucket, error) {
	if _, err := window.ParseDay(day, r.loc); err != nil {
		return Bucket{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	key := r.BucketKey(day)

	pipe := r.client.Pipeline()
	all := pipe.HGetAll(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return Bucket{}, classify("read bucket", err)
	}

	b := Bucket{
		Key:       key,
		Day:       day,
		ExpiresIn: ttl.Val(),
		Entries:   make([]Entry, 0, len(all.Val())),
	}

	for field, raw := range all.Val() {
		k, w, err := window.ParseField(field)
		if err != nil {
			return Bucket{}, fmt.Errorf("%w: bucket %s: %w", ErrStoreProtocol, key, err)
		}
		count, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Bucket{}, fmt.Errorf("%w: bucket %s field %s: %w", ErrStoreProtocol, key, field, err)
		}
		b.Entries = append(b.Entries, Entry{Key: k, Window: w, Count: count})
	}

	sort.Slice(b.Entries, func(i, j int) bool {
		a, c := b.Entries[i], b.Entries[j]
		if a.Key != c.Key {
			return a.Key < c.Key
		}
		if a.Window.End != c.Window.End {
			return a.Window.End < c.Window.End
		}
		return a.Window.TTL < c.Window.TTL
	})

	return b, nil
}

// Location returns the time zone bucket days are computed in.
func (r *Redis) Location() *time.Location {
	return r.loc
}

// Ping checks that Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close releases the Redis client if the counter created it.
func (r *Redis) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}

func (r *Redis) fail(ctx context.Context, count int64, err error) (int64, error) {
	logError(ctx, err)
	if r.policy == FailOpen && !isContextError(err) {
		logInfo(ctx, "ratecount_fail_open", true)
		return count, nil
	}
	return 0, err
}
