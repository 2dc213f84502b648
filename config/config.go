package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"

	"github.com/oxplot/isowriter/disk"
)

var (
	ErrInvalidChunkSize    = errors.New("chunk size must be a positive multiple of 512 bytes")
	ErrInvalidMinSize      = errors.New("minimum drive size must not be negative")
	ErrInvalidPollInterval = errors.New("poll interval must be greater than 0")
)

// Config holds all application configuration.
type Config struct {
	// ChunkSize is the copy step in bytes.
	ChunkSize int64
	// MinSize hides drives known to be smaller than this many bytes.
	MinSize int64
	// Kind selects raw devices, mounted volumes or both.
	Kind disk.Kind
	// Sync flushes the drive before a transfer is reported as completed.
	Sync bool
	// PollInterval is how often front-ends redraw progress.
	PollInterval time.Duration
	Verbose      bool
}

// Keys under which viper stores the settings. They double as config file
// keys and, upper-cased with the ISOWRITER_ prefix, environment variables.
const (
	KeyChunkSize    = "chunk_size"
	KeyMinSize      = "min_size"
	KeyKind         = "kind"
	KeySync         = "sync"
	KeyPollInterval = "poll_interval"
	KeyVerbose      = "verbose"
)

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyChunkSize, "4MiB")
	v.SetDefault(KeyMinSize, "0")
	v.SetDefault(KeyKind, "raw")
	v.SetDefault(KeySync, true)
	v.SetDefault(KeyPollInterval, 100*time.Millisecond)
	v.SetDefault(KeyVerbose, false)
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	c, err := Load(v)
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads the configuration out of v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	chunk, err := units.RAMInBytes(v.GetString(KeyChunkSize))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyChunkSize, err)
	}
	minSize, err := units.RAMInBytes(v.GetString(KeyMinSize))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyMinSize, err)
	}
	kind, err := disk.ParseKind(v.GetString(KeyKind))
	if err != nil {
		return nil, err
	}

	c := &Config{
		ChunkSize:    chunk,
		MinSize:      minSize,
		Kind:         kind,
		Sync:         v.GetBool(KeySync),
		PollInterval: v.GetDuration(KeyPollInterval),
		Verbose:      v.GetBool(KeyVerbose),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 || c.ChunkSize%512 != 0 || c.ChunkSize > 1<<30 {
		return ErrInvalidChunkSize
	}
	if c.MinSize < 0 {
		return ErrInvalidMinSize
	}
	if c.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}
	return nil
}

// EnumeratorOptions turns the drive filters into disk options.
func (c *Config) EnumeratorOptions() []disk.Option {
	return []disk.Option{
		disk.WithKinds(c.Kind),
		disk.WithMinSize(uint64(c.MinSize)),
	}
}
