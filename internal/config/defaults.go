package config

import (
	"time"

	"github.com/google/uuid"
)

// Default values for optional configuration fields.
const (
	DefaultRestURL            = "https://fapi.binance.com"
	DefaultStreamURL          = "wss://fstream.binance.com/stream"
	DefaultAPITimeout         = 30 * time.Second
	DefaultPingInterval       = 30 * time.Second
	DefaultPongTimeout        = 30 * time.Second
	DefaultIdleTimeout        = 60 * time.Second
	DefaultReconnectBaseDelay = 500 * time.Millisecond
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultChannelSize        = 4096
	DefaultTCPPort            = 9000
	DefaultBroadcastBuffer    = 1024
	DefaultWriteTimeout       = 5 * time.Second
	DefaultSHMCapacity        = 1 << 20
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
)

// ApplyDefaults fills every zero-valued optional field.
func (c *ForwarderConfig) ApplyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = "forwarder-" + uuid.NewString()[:8]
	}

	// Exchange defaults
	if c.Exchange.RestURL == "" {
		c.Exchange.RestURL = DefaultRestURL
	}
	if c.Exchange.StreamURL == "" {
		c.Exchange.StreamURL = DefaultStreamURL
	}
	if c.Exchange.Timeout == 0 {
		c.Exchange.Timeout = DefaultAPITimeout
	}
	if c.Exchange.PingInterval == 0 {
		c.Exchange.PingInterval = DefaultPingInterval
	}
	if c.Exchange.PongTimeout == 0 {
		c.Exchange.PongTimeout = DefaultPongTimeout
	}
	if c.Exchange.IdleTimeout == 0 {
		c.Exchange.IdleTimeout = DefaultIdleTimeout
	}
	if c.Exchange.ReconnectBaseDelay == 0 {
		c.Exchange.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Exchange.ReconnectMaxDelay == 0 {
		c.Exchange.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}

	// Pipeline defaults
	if c.Pipeline.ChannelSize == 0 {
		c.Pipeline.ChannelSize = DefaultChannelSize
	}

	// TCP defaults
	if c.TCP.Port == 0 {
		c.TCP.Port = DefaultTCPPort
	}
	if c.TCP.BufferSize == 0 {
		c.TCP.BufferSize = DefaultBroadcastBuffer
	}
	if c.TCP.WriteTimeout == 0 {
		c.TCP.WriteTimeout = DefaultWriteTimeout
	}

	// SHM defaults
	if c.SHM.Capacity == 0 {
		c.SHM.Capacity = DefaultSHMCapacity
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
