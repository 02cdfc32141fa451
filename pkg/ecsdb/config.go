package ecsdb

import (
	"strings"

	"github.com/argus-labs/ecsdb/pkg/ecsdb/memory"
	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// worldConfig holds the configuration for a World that can be set with environment variables.
type worldConfig struct {
	// Target size in bytes of one archetype chunk.
	ChunkBytes int `env:"ECSDB_CHUNK_BYTES" envDefault:"16384"`

	// Number of records per block in the entity location and archetype pools.
	PoolBlockSize int `env:"ECSDB_POOL_BLOCK_SIZE" envDefault:"256"`

	// Cap on the exponential backoff between optimistic retries, as a power of two of yields.
	MaxBackoffShift uint `env:"ECSDB_MAX_BACKOFF_SHIFT" envDefault:"6"`

	// Upper bound on bytes of component storage. Zero means unlimited.
	MemoryLimit uint64 `env:"ECSDB_MEMORY_LIMIT" envDefault:"0"`

	// Log level ("trace", "debug", "info", "warn", "error", "disabled").
	LogLevel string `env:"ECSDB_LOG_LEVEL" envDefault:"info"`

	// Address of a statsd agent. Metrics are discarded when empty.
	StatsdAddress string `env:"ECSDB_STATSD_ADDRESS"`
}

// loadWorldConfig loads the world configuration from environment variables.
func loadWorldConfig() (worldConfig, error) {
	cfg := worldConfig{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse world config")
	}

	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate config")
	}

	return cfg, nil
}

// validate performs validation on the loaded configuration.
func (cfg *worldConfig) validate() error {
	if cfg.ChunkBytes <= 0 {
		return eris.New("chunk bytes must be positive")
	}
	if cfg.PoolBlockSize <= 0 {
		return eris.New("pool block size must be positive")
	}
	if cfg.MaxBackoffShift > maxBackoffShift {
		return eris.Errorf("max backoff shift must be at most %d", maxBackoffShift)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		return eris.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	return nil
}

// applyToOptions applies the configuration values to the given WorldOptions.
func (cfg *worldConfig) applyToOptions(opt *WorldOptions) {
	opt.ChunkBytes = cfg.ChunkBytes
	opt.PoolBlockSize = cfg.PoolBlockSize
	opt.MaxBackoffShift = cfg.MaxBackoffShift
	opt.MemoryLimit = cfg.MemoryLimit
	opt.LogLevel = cfg.LogLevel
	opt.StatsdAddress = cfg.StatsdAddress
}

const maxBackoffShift = 16

// WorldOptions configures a World. Zero fields keep the value loaded from the environment, so
// settings whose zero value is meaningful, such as MaxBackoffShift 0 for a single yield between
// retries, can only be chosen through the environment.
type WorldOptions struct {
	Name            string           // Attached to every log line as "world" when set
	ChunkBytes      int              // Target size in bytes of one archetype chunk
	PoolBlockSize   int              // Records per pool block
	MaxBackoffShift uint             // Cap on retry backoff, as a power of two of yields; zero keeps the env value
	MemoryLimit     uint64           // Upper bound on bytes of component storage, zero is unlimited
	LogLevel        string           // zerolog level name
	StatsdAddress   string           // statsd agent address, empty disables metrics
	StatsdTags      []string         // Tags attached to every metric
	Logger          *zerolog.Logger  // Base logger, zerolog's global logger when nil
	Allocator       memory.Allocator // Backing memory, the Go heap when nil
	Yield           func()           // Cooperative yield used while spinning, runtime.Gosched when nil
}

// newDefaultWorldOptions creates WorldOptions with default values.
func newDefaultWorldOptions() WorldOptions {
	return WorldOptions{
		ChunkBytes:      16 << 10,
		PoolBlockSize:   256,
		MaxBackoffShift: 6,
		LogLevel:        "info",
		Allocator:       memory.Heap{},
	}
}

// apply merges the given options into the current options, overriding non-zero values.
func (opt *WorldOptions) apply(newOpt WorldOptions) {
	if newOpt.Name != "" {
		opt.Name = newOpt.Name
	}
	if newOpt.ChunkBytes != 0 {
		opt.ChunkBytes = newOpt.ChunkBytes
	}
	if newOpt.PoolBlockSize != 0 {
		opt.PoolBlockSize = newOpt.PoolBlockSize
	}
	if newOpt.MaxBackoffShift != 0 {
		opt.MaxBackoffShift = newOpt.MaxBackoffShift
	}
	if newOpt.MemoryLimit != 0 {
		opt.MemoryLimit = newOpt.MemoryLimit
	}
	if newOpt.LogLevel != "" {
		opt.LogLevel = newOpt.LogLevel
	}
	if newOpt.StatsdAddress != "" {
		opt.StatsdAddress = newOpt.StatsdAddress
	}
	if newOpt.StatsdTags != nil {
		opt.StatsdTags = newOpt.StatsdTags
	}
	if newOpt.Logger != nil {
		opt.Logger = newOpt.Logger
	}
	if newOpt.Allocator != nil {
		opt.Allocator = newOpt.Allocator
	}
	if newOpt.Yield != nil {
		opt.Yield = newOpt.Yield
	}
}

// validate checks that all required options are set and valid.
func (opt *WorldOptions) validate() error {
	if opt.ChunkBytes <= 0 {
		return eris.New("chunk bytes must be positive")
	}
	if opt.PoolBlockSize <= 0 {
		return eris.New("pool block size must be positive")
	}
	if opt.MaxBackoffShift > maxBackoffShift {
		return eris.Errorf("max backoff shift must be at most %d", maxBackoffShift)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(opt.LogLevel)); err != nil {
		return eris.Errorf("invalid log level: %s", opt.LogLevel)
	}
	if opt.Allocator == nil {
		return eris.New("allocator cannot be nil")
	}
	return nil
}
