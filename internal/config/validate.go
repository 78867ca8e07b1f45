package config

import (
	"errors"
	"fmt"
)

// MaxAssets bounds the subscription list; it matches the wire format's
// asset limit.
const MaxAssets = 10

// Validate checks that all required fields are set and values are valid.
func (c *ForwarderConfig) Validate() error {
	if len(c.Assets) == 0 {
		return errors.New("assets is required")
	}
	if len(c.Assets) > MaxAssets {
		return fmt.Errorf("assets lists %d symbols, max %d", len(c.Assets), MaxAssets)
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for _, sym := range c.Assets {
		if sym == "" {
			return errors.New("assets must not contain empty symbols")
		}
		if len(sym) > 255 {
			return fmt.Errorf("asset %q exceeds 255 bytes", sym)
		}
		if _, dup := seen[sym]; dup {
			return fmt.Errorf("duplicate asset %q", sym)
		}
		seen[sym] = struct{}{}
	}

	if c.Exchange.RestURL == "" {
		return errors.New("exchange.rest_url is required")
	}
	if c.Exchange.StreamURL == "" {
		return errors.New("exchange.stream_url is required")
	}

	if c.Pipeline.ChannelSize < 1 {
		return errors.New("pipeline.channel_size must be >= 1")
	}

	if c.TCP.Port < 1 || c.TCP.Port > 65535 {
		return fmt.Errorf("tcp.port must be between 1 and 65535, got %d", c.TCP.Port)
	}
	if c.TCP.BufferSize < 1 {
		return errors.New("tcp.buffer_size must be >= 1")
	}

	if c.SHM.Capacity < 1 {
		return errors.New("shm.capacity must be >= 1")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}
