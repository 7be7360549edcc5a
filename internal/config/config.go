// Package config loads the configuration of the ratecount binary.
//
// Values are layered: built-in defaults, then an optional YAML file, then RATECOUNT_*
// environment variables (nested keys joined by "_", e.g. RATECOUNT_COUNTER_REDIS_ADDR).
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/nhalm/ratecount"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "RATECOUNT"

// Config is the full configuration of the binary.
type Config struct {
	Counter ratecount.Config `mapstructure:"counter" yaml:"counter"`
	Server  ServerConfig     `mapstructure:"server" yaml:"server"`
	Logging LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig configures the HTTP server started by "ratecount serve".
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig configures the server logger.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Counter: ratecount.DefaultConfig(),
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the configuration. An empty path skips the file layer. The counter
// section is validated before returning.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Counter.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Dump writes cfg as YAML. The Redis password is masked.
func Dump(w io.Writer, cfg *Config) error {
	out := *cfg
	if out.Counter.Redis.Password != "" {
		out.Counter.Redis.Password = "********"
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

// setDefaults registers every key so AutomaticEnv can override keys no file sets.
func setDefaults(v *viper.Viper, cfg Config) {
	c := cfg.Counter
	v.SetDefault("counter.driver", c.Driver)
	v.SetDefault("counter.redis.addr", c.Redis.Addr)
	v.SetDefault("counter.redis.password", c.Redis.Password)
	v.SetDefault("counter.redis.db", c.Redis.DB)
	v.SetDefault("counter.redis.prefix", c.Redis.Prefix)
	v.SetDefault("counter.redis.pool_size", c.Redis.PoolSize)
	v.SetDefault("counter.redis.min_idle_conns", c.Redis.MinIdleConns)
	v.SetDefault("counter.redis.dial_timeout", c.Redis.DialTimeout)
	v.SetDefault("counter.redis.read_timeout", c.Redis.ReadTimeout)
	v.SetDefault("counter.redis.write_timeout", c.Redis.WriteTimeout)
	v.SetDefault("counter.timezone", c.Timezone)
	v.SetDefault("counter.sweep_interval", c.SweepInterval)
	v.SetDefault("counter.fail_open", c.FailOpen)

	s := cfg.Server
	v.SetDefault("server.addr", s.Addr)
	v.SetDefault("server.read_timeout", s.ReadTimeout)
	v.SetDefault("server.write_timeout", s.WriteTimeout)
	v.SetDefault("server.idle_timeout", s.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", s.ShutdownTimeout)

	v.SetDefault("logging.level", cfg.Logging.Level)
}
