package syncer

import (
	"fmt"
	"time"
)

// Config defines configuration for the syncer's state store write buffering
type Config struct {
	// Channel buffer size
	ChannelSize int `toml:"channel_size"`

	// Flushing - dual mechanism (size OR time triggers flush)
	FlushThreshold int           `toml:"flush_threshold"`
	FlushInterval  time.Duration `toml:"flush_interval"`

	// Upper bound on a single batch write
	WriteTimeout time.Duration `toml:"write_timeout"`
}

// DefaultConfig returns defaults sized for a fleet of a few hundred tables
func DefaultConfig() Config {
	return Config{
		ChannelSize:    200,
		FlushThreshold: 50,
		FlushInterval:  1 * time.Second,
		WriteTimeout:   30 * time.Second,
	}
}

// Validate returns an error if the configuration is unusable
func (c Config) Validate() error {
	if c.ChannelSize <= 0 {
		return fmt.Errorf("ChannelSize must be positive, got %d", c.ChannelSize)
	}

	if c.FlushThreshold <= 0 {
		return fmt.Errorf("FlushThreshold must be positive, got %d", c.FlushThreshold)
	}

	if c.FlushInterval <= 0 {
		return fmt.Errorf("FlushInterval must be positive, got %v", c.FlushInterval)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("WriteTimeout must be positive, got %v", c.WriteTimeout)
	}

	return nil
}
