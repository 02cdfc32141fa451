package ecsdb

import (
	"bytes"
	"testing"

	ecsassert "github.com/argus-labs/ecsdb/assert"
	"github.com/argus-labs/ecsdb/pkg/ecsdb/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests set environment variables and so cannot run in parallel.

func TestLoadWorldConfig_Defaults(t *testing.T) {
	cfg, err := loadWorldConfig()
	require.NoError(t, err)

	assert.Equal(t, 16384, cfg.ChunkBytes)
	assert.Equal(t, 256, cfg.PoolBlockSize)
	assert.Equal(t, uint(6), cfg.MaxBackoffShift)
	assert.Equal(t, uint64(0), cfg.MemoryLimit)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.StatsdAddress)
}

func TestLoadWorldConfig_FromEnv(t *testing.T) {
	t.Setenv("ECSDB_CHUNK_BYTES", "4096")
	t.Setenv("ECSDB_POOL_BLOCK_SIZE", "64")
	t.Setenv("ECSDB_MAX_BACKOFF_SHIFT", "3")
	t.Setenv("ECSDB_MEMORY_LIMIT", "1048576")
	t.Setenv("ECSDB_LOG_LEVEL", "DEBUG")

	cfg, err := loadWorldConfig()
	require.NoError(t, err)
	assert.Equal(t, 4096, cfg.ChunkBytes)
	assert.Equal(t, 64, cfg.PoolBlockSize)
	assert.Equal(t, uint(3), cfg.MaxBackoffShift)
	assert.Equal(t, uint64(1<<20), cfg.MemoryLimit)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestLoadWorldConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "zero chunk bytes", key: "ECSDB_CHUNK_BYTES", value: "0"},
		{name: "negative pool block", key: "ECSDB_POOL_BLOCK_SIZE", value: "-1"},
		{name: "backoff too large", key: "ECSDB_MAX_BACKOFF_SHIFT", value: "17"},
		{name: "unknown log level", key: "ECSDB_LOG_LEVEL", value: "loud"},
		{name: "not a number", key: "ECSDB_CHUNK_BYTES", value: "lots"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := loadWorldConfig()
			require.Error(t, err)

			_, err = NewWorld(WorldOptions{})
			require.Error(t, err)
		})
	}
}

func TestNewWorld_OptionsOverrideEnv(t *testing.T) {
	t.Setenv("ECSDB_CHUNK_BYTES", "4096")
	t.Setenv("ECSDB_LOG_LEVEL", "warn")

	logger := zerolog.Nop()
	w, err := NewWorld(WorldOptions{ChunkBytes: 2048, Logger: &logger})
	require.NoError(t, err)
	assert.Equal(t, 2048, w.opts.ChunkBytes)
	assert.Equal(t, "warn", w.opts.LogLevel)
	assert.Equal(t, zerolog.WarnLevel, w.logger.GetLevel())
	assert.Equal(t, memory.Heap{}, w.opts.Allocator)
}

func TestNewWorld_MemoryLimit(t *testing.T) {
	logger := zerolog.Nop()
	w, err := NewWorld(WorldOptions{MemoryLimit: 1, Logger: &logger})
	require.NoError(t, err)

	ecsassert.PanicsWithPrefix(t, "ecsdb: allocator exhausted", func() {
		w.Spawn(Of1(uint64(1)))
	})
}

func TestNewWorld_NamedLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	w, err := NewWorld(WorldOptions{Name: "alpha", LogLevel: "debug", Logger: &logger})
	require.NoError(t, err)

	w.Spawn(Of1(int32(1)))
	assert.Contains(t, buf.String(), `"world":"alpha"`)
	assert.Contains(t, buf.String(), `"message":"archetype created"`)
}

func TestNewWorld_ZeroBackoffShiftFromEnv(t *testing.T) {
	t.Setenv("ECSDB_MAX_BACKOFF_SHIFT", "0")

	logger := zerolog.Nop()
	w, err := NewWorld(WorldOptions{Logger: &logger})
	require.NoError(t, err)
	assert.Equal(t, uint(0), w.opts.MaxBackoffShift)

	// A zero option is "unset" and leaves the env value alone.
	t.Setenv("ECSDB_MAX_BACKOFF_SHIFT", "4")
	w, err = NewWorld(WorldOptions{MaxBackoffShift: 0, Logger: &logger})
	require.NoError(t, err)
	assert.Equal(t, uint(4), w.opts.MaxBackoffShift)
}
