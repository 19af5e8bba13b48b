// Package config loads the typed configuration a pmemstream deployment
// needs: where the backing mapping file lives, its on-media geometry,
// and how much of the ambient stack (logging, telemetry) to turn on.
// A typed struct with mapstructure/yaml tags, defaults applied before
// validation, and viper doing the source-precedence merge (env > file >
// defaults).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/marmos91/pmemstream-go/internal/bytesize"
	"github.com/marmos91/pmemstream-go/pkg/pmemstream"
)

// Config is the full static configuration for one pmemstream deployment.
type Config struct {
	Stream    StreamConfig    `mapstructure:"stream" yaml:"stream"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// StreamConfig carries the stream's configuration constants: the backing
// file path and the on-media geometry Open needs to format or validate.
type StreamConfig struct {
	Path              string            `mapstructure:"path" yaml:"path"`
	StreamSize        bytesize.ByteSize `mapstructure:"stream_size" yaml:"stream_size"`
	BlockSize         bytesize.ByteSize `mapstructure:"block_size" yaml:"block_size"`
	RegionPayloadSize bytesize.ByteSize `mapstructure:"region_payload_size" yaml:"region_payload_size"`
	MaxConcurrency    uint64            `mapstructure:"max_concurrency" yaml:"max_concurrency"`
}

// LoggingConfig mirrors internal/logger.Config's fields one-to-one so a
// loaded Config can be handed straight to logger.Init.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// TelemetryConfig controls the optional Prometheus/OTLP exporters in
// pkg/telemetry. Both are off by default; a deployment opts in.
type TelemetryConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	TracingOTLP string `mapstructure:"tracing_otlp_endpoint" yaml:"tracing_otlp_endpoint"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// Default returns a Config with every field set to a sensible starting
// value for local development.
func Default() Config {
	return Config{
		Stream: StreamConfig{
			Path:              "stream.pmem",
			StreamSize:        bytesize.ByteSize(64 * 1024 * 1024),
			BlockSize:         bytesize.ByteSize(4096),
			RegionPayloadSize: bytesize.ByteSize(1024 * 1024),
			MaxConcurrency:    pmemstream.DefaultMaxConcurrency,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "pmemstream",
		},
	}
}

// Load merges, in ascending precedence, defaults, an optional YAML file
// at path (ignored if empty or missing), and environment variables
// prefixed PMEMSTREAM_ (e.g. PMEMSTREAM_STREAM_BLOCK_SIZE).
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("PMEMSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("config: reading %q: %w", path, err)
			}
		}
	}

	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return Config{}, fmt.Errorf("config: decoding: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the subset of invariants config.Load cannot defer to
// pmemstream.Open (which re-validates block_size/stream_size itself):
// this catches an obviously broken config before a mapping file is ever
// created.
func (c Config) Validate() error {
	if c.Stream.Path == "" {
		return fmt.Errorf("config: stream.path must not be empty")
	}
	if c.Stream.MaxConcurrency == 0 {
		return fmt.Errorf("config: stream.max_concurrency must be > 0")
	}
	return nil
}

// StreamOptions converts the loaded config into pmemstream.Options.
func (c Config) StreamOptions() pmemstream.Options {
	return pmemstream.Options{
		StreamSize:        uint64(c.Stream.StreamSize),
		BlockSize:         uint64(c.Stream.BlockSize),
		RegionPayloadSize: uint64(c.Stream.RegionPayloadSize),
		MaxConcurrency:    c.Stream.MaxConcurrency,
	}
}
