package telemetry

import (
	"io"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// config holds the telemetry settings that can be set with environment variables.
type config struct {
	// Enabled turns on trace export. Spans are discarded otherwise.
	Enabled bool `env:"ECSDB_OTEL_ENABLED" envDefault:"false"`

	// OTLP gRPC collector endpoint.
	Endpoint string `env:"ECSDB_OTEL_ENDPOINT" envDefault:"localhost:4317"`

	// Fraction of traces that are sampled, 0.0 to 1.0.
	TraceSampleRate float64 `env:"ECSDB_OTEL_TRACE_SAMPLE_RATE" envDefault:"1.0"`

	// Log level ("debug", "info", "warn", "error").
	LogLevel string `env:"ECSDB_OTEL_LOG_LEVEL" envDefault:"info"`

	// Log format ("json", "pretty").
	LogFormat string `env:"ECSDB_OTEL_LOG_FORMAT" envDefault:"pretty"`
}

func loadConfig() (config, error) {
	cfg := config{}

	if err := env.Parse(&cfg); err != nil {
		return cfg, eris.Wrap(err, "failed to parse telemetry config")
	}

	if err := cfg.validate(); err != nil {
		return cfg, eris.Wrap(err, "failed to validate telemetry config")
	}

	return cfg, nil
}

func (cfg *config) validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		return eris.Errorf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", cfg.LogLevel)
	}
	if ParseLogFormat(cfg.LogFormat) == LogFormatUndefined {
		return eris.Errorf("invalid log format: %s (must be 'json' or 'pretty')", cfg.LogFormat)
	}
	if cfg.Enabled && cfg.Endpoint == "" {
		return eris.New("OTLP endpoint cannot be empty when telemetry is enabled")
	}
	if cfg.TraceSampleRate < 0.0 || cfg.TraceSampleRate > 1.0 {
		return eris.New("trace sample rate must be between 0.0 and 1.0")
	}
	return nil
}

func (cfg *config) applyToOptions(opt *Options) {
	opt.Enabled = cfg.Enabled
	opt.Endpoint = cfg.Endpoint
	opt.LogLevel = cfg.LogLevel
	opt.LogFormat = ParseLogFormat(cfg.LogFormat)
	opt.TraceSampleRate = cfg.TraceSampleRate
}

// Options configures telemetry. Zero fields keep the value loaded from the environment.
type Options struct {
	ServiceName     string
	Enabled         bool
	Endpoint        string
	LogLevel        string
	LogFormat       LogFormat
	TraceSampleRate float64
	Output          io.Writer // Log destination, stderr when nil
}

func newDefaultOptions() Options {
	return Options{
		LogLevel:        "info",
		LogFormat:       LogFormatPretty,
		TraceSampleRate: 1.0,
	}
}

// apply merges the given options into the current options, overriding non-zero values.
func (opt *Options) apply(newOpt Options) {
	if newOpt.ServiceName != "" {
		opt.ServiceName = newOpt.ServiceName
	}
	if newOpt.Enabled {
		opt.Enabled = true
	}
	if newOpt.Endpoint != "" {
		opt.Endpoint = newOpt.Endpoint
	}
	if newOpt.LogLevel != "" {
		opt.LogLevel = newOpt.LogLevel
	}
	if newOpt.LogFormat != LogFormatUndefined {
		opt.LogFormat = newOpt.LogFormat
	}
	if newOpt.TraceSampleRate != 0.0 {
		opt.TraceSampleRate = newOpt.TraceSampleRate
	}
	if newOpt.Output != nil {
		opt.Output = newOpt.Output
	}
}

func (opt *Options) validate() error {
	if opt.ServiceName == "" {
		return eris.New("service name cannot be empty")
	}
	if opt.Enabled && opt.Endpoint == "" {
		return eris.New("endpoint cannot be empty")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(opt.LogLevel)); err != nil {
		return eris.Errorf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", opt.LogLevel)
	}
	if opt.LogFormat == LogFormatUndefined {
		return eris.New("log format must be specified")
	}
	if opt.TraceSampleRate < 0.0 || opt.TraceSampleRate > 1.0 {
		return eris.New("trace sample rate must be between 0.0 and 1.0")
	}
	return nil
}

// LogFormat represents the log output format.
type LogFormat uint8

const (
	LogFormatUndefined LogFormat = iota // Used as the zero value
	LogFormatJSON                       // Structured JSON logs
	LogFormatPretty                     // Human-readable console logs
)

func (f LogFormat) String() string {
	switch f {
	case LogFormatJSON:
		return "json"
	case LogFormatPretty:
		return "pretty"
	case LogFormatUndefined:
		return "undefined"
	default:
		return "undefined"
	}
}

// ParseLogFormat converts a string to a LogFormat.
func ParseLogFormat(s string) LogFormat {
	switch strings.ToLower(s) {
	case "json":
		return LogFormatJSON
	case "pretty":
		return LogFormatPretty
	default:
		return LogFormatUndefined
	}
}
