// Package ratecount counts requests per key in fixed time windows.
//
// Counts live in a store shared by every process of a service (Redis), or in process
// memory for single-instance deployments. The package itself never decides whether a
// request is allowed: it reports the cumulative count of the current window and leaves
// thresholds to the caller.
//
// Building a counter from configuration:
//
//	counter, err := ratecount.New(ratecount.Config{
//		Driver: ratecount.DriverRedis,
//		Redis:  store.RedisConfig{Addr: "localhost:6379"},
//	})
//	if err != nil {
//		return err
//	}
//	defer counter.Close()
//
//	n, err := counter.Increase(ctx, "user:42", time.Minute, 1)
//
// Counting HTTP requests with Chi:
//
//	r.Use(ratecount.Handler(ratecount.WithCanonlog()))
//	r.Use(ratecount.NewRequestCounter(counter, time.Minute, ratecount.CountWithIP()).Handler)
package ratecount

import (
	"fmt"
	"time"

	"github.com/nhalm/ratecount/store"
)

// Driver names accepted by Config.Driver.
const (
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Counter is a store.Counter that holds resources released by Close.
type Counter interface {
	store.Counter
	Close() error
}

// Config selects and configures a counter driver.
// Fields carry mapstructure and yaml tags so applications can load it from files or
// the environment with their own config layer.
type Config struct {
	// Driver is "redis" (shared across processes) or "memory" (this process only).
	Driver string `mapstructure:"driver" yaml:"driver" validate:"required,oneof=redis memory"`

	// Redis configures the connection when Driver is "redis".
	Redis store.RedisConfig `mapstructure:"redis" yaml:"redis" validate:"-"`

	// Timezone is the IANA zone bucket days are computed in (default: the process zone).
	// Every process sharing a store must use the same zone.
	Timezone string `mapstructure:"timezone" yaml:"timezone,omitempty" validate:"omitempty,timezone"`

	// SweepInterval is how often stale local state is dropped (default: 1m).
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval,omitempty" validate:"gte=0"`

	// FailOpen reports a count instead of an error when the store fails.
	FailOpen bool `mapstructure:"fail_open" yaml:"fail_open"`
}

// DefaultConfig returns a Redis configuration for a local server.
func DefaultConfig() Config {
	return Config{
		Driver: DriverRedis,
		Redis: store.RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "ratecount:",
		},
		SweepInterval: store.DefaultSweepInterval,
	}
}

// Validate checks the configuration. Errors wrap store.ErrConfiguration.
func (c Config) Validate() error {
	if err := validateStruct(c); err != nil {
		return fmt.Errorf("%w: %w", store.ErrConfiguration, err)
	}
	if c.Driver == DriverRedis {
		if err := validateStruct(c.Redis); err != nil {
			return fmt.Errorf("%w: redis: %w", store.ErrConfiguration, err)
		}
	}
	return nil
}

// Location resolves Timezone. An empty Timezone is time.Local.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %w", store.ErrConfiguration, c.Timezone, err)
	}
	return loc, nil
}

// Options converts the configuration into store options.
func (c Config) Options() ([]store.Option, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	policy := store.FailClosed
	if c.FailOpen {
		policy = store.FailOpen
	}
	return []store.Option{
		store.WithLocation(loc),
		store.WithSweepInterval(c.SweepInterval),
		store.WithFailurePolicy(policy),
	}, nil
}

// New validates cfg and builds the configured driver. Extra options are applied after
// the ones derived from cfg, so they take precedence.
func New(cfg Config, opts ...store.Option) (Counter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	opts = append(base, opts...)

	switch cfg.Driver {
	case DriverMemory:
		return store.NewMemory(opts...), nil
	default:
		r, err := store.NewRedis(cfg.Redis, opts...)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}
