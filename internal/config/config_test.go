package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Default().Validate())
}

func TestLoad(t *testing.T) {
	t.Run("MissingFileUsesDefaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("FileOverridesDefaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		writeFile(t, path, `
storage:
  backend: memory
log:
  level: debug
  format: json
metrics:
  enabled: true
  addr: "0.0.0.0:9100"
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "memory", cfg.Storage.Backend)
		assert.Equal(t, ".timegraph/badger", cfg.Storage.Path)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "json", cfg.Log.Format)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, "0.0.0.0:9100", cfg.Metrics.Addr)
		assert.Equal(t, "timegraph", cfg.Metrics.Namespace)
	})

	t.Run("EnvironmentWins", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		writeFile(t, path, "log:\n  level: debug\n")
		t.Setenv("TIMEGRAPH_LOG_LEVEL", "warn")
		t.Setenv("TIMEGRAPH_DATA", "/var/lib/timegraph")
		t.Setenv("TIMEGRAPH_READ_ONLY", "true")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "warn", cfg.Log.Level)
		assert.Equal(t, "/var/lib/timegraph", cfg.Storage.Path)
		assert.True(t, cfg.Storage.ReadOnly)
	})

	t.Run("BadBool", func(t *testing.T) {
		t.Setenv("TIMEGRAPH_METRICS_ENABLED", "maybe")
		_, err := Load("")
		assert.ErrorContains(t, err, "TIMEGRAPH_METRICS_ENABLED")
	})

	t.Run("MalformedYAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		writeFile(t, path, "storage: [")
		_, err := Load(path)
		assert.ErrorContains(t, err, "parsing config")
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"UnknownBackend", func(c *Config) { c.Storage.Backend = "sqlite" }, "storage.backend must be one of: memory badger"},
		{"BadgerNeedsPath", func(c *Config) { c.Storage.Path = "" }, "storage.path is required"},
		{"MirrorDiffers", func(c *Config) { c.Storage.Mirror = c.Storage.Path }, "storage.mirror must differ from path"},
		{"UnknownLevel", func(c *Config) { c.Log.Level = "loud" }, "log.level must be one of"},
		{"UnknownFormat", func(c *Config) { c.Log.Format = "xml" }, "log.format must be one of"},
		{"BadAddr", func(c *Config) { c.Metrics.Addr = "nope" }, "metrics.addr must be host:port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	t.Run("MemoryNeedsNoPath", func(t *testing.T) {
		t.Parallel()
		cfg := Default()
		cfg.Storage.Backend = "memory"
		cfg.Storage.Path = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "log:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, zap.NewNop(), func(c *Config) { changes <- c })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "log:\n  level: [\n")
	time.Sleep(2 * reloadDelay)
	writeFile(t, path, "log:\n  level: debug\n")

	select {
	case cfg := <-changes:
		assert.Equal(t, "debug", cfg.Log.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after config change")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
