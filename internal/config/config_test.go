package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/nhalm/ratecount"
	"github.com/nhalm/ratecount/store"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ratecount.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, ratecount.DriverRedis, cfg.Counter.Driver)
		assert.Equal(t, "localhost:6379", cfg.Counter.Redis.Addr)
		assert.Equal(t, "ratecount:", cfg.Counter.Redis.Prefix)
		assert.Equal(t, store.DefaultSweepInterval, cfg.Counter.SweepInterval)
		assert.False(t, cfg.Counter.FailOpen)

		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, "info", cfg.Logging.Level)
	})

	t.Run("File", func(t *testing.T) {
		path := writeConfig(t, `
counter:
  driver: redis
  redis:
    addr: redis.internal:6380
    db: 3
    prefix: "rc:"
    dial_timeout: 250ms
  timezone: UTC
  sweep_interval: 30s
  fail_open: true
server:
  addr: 127.0.0.1:9000
  shutdown_timeout: 5s
logging:
  level: debug
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "redis.internal:6380", cfg.Counter.Redis.Addr)
		assert.Equal(t, 3, cfg.Counter.Redis.DB)
		assert.Equal(t, "rc:", cfg.Counter.Redis.Prefix)
		assert.Equal(t, 250*time.Millisecond, cfg.Counter.Redis.DialTimeout)
		assert.Equal(t, "UTC", cfg.Counter.Timezone)
		assert.Equal(t, 30*time.Second, cfg.Counter.SweepInterval)
		assert.True(t, cfg.Counter.FailOpen)
		assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
		assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout, "unset keys keep defaults")
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("Environment", func(t *testing.T) {
		t.Setenv("RATECOUNT_COUNTER_DRIVER", "memory")
		t.Setenv("RATECOUNT_COUNTER_SWEEP_INTERVAL", "2m")
		t.Setenv("RATECOUNT_COUNTER_FAIL_OPEN", "true")
		t.Setenv("RATECOUNT_SERVER_ADDR", ":9999")

		path := writeConfig(t, "server:\n  addr: \":7000\"\n")
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, ratecount.DriverMemory, cfg.Counter.Driver)
		assert.Equal(t, 2*time.Minute, cfg.Counter.SweepInterval)
		assert.True(t, cfg.Counter.FailOpen)
		assert.Equal(t, ":9999", cfg.Server.Addr, "environment wins over the file")
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("Invalid", func(t *testing.T) {
		path := writeConfig(t, "counter:\n  driver: apcu\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.ErrorIs(t, err, store.ErrConfiguration)
	})
}

func TestDump(t *testing.T) {
	cfg := Default()
	cfg.Counter.Redis.Password = "hunter2"

	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, &cfg))

	assert.NotContains(t, buf.String(), "hunter2")
	assert.Equal(t, "hunter2", cfg.Counter.Redis.Password, "Dump must not modify its argument")

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	counter, ok := decoded["counter"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "redis", counter["driver"])
	redis, ok := counter["redis"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "localhost:6379", redis["addr"])
	assert.Equal(t, "********", redis["password"])
}
