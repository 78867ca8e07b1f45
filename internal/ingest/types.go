package ingest

import (
	"errors"
	"time"

	"github.com/ryanzhou/perp-forwarder/internal/backoff"
)

// ErrStaleConnection reports a server that has gone silent. Like every
// other session error it is transient: the consumer responds by
// reconnecting.
var ErrStaleConnection = errors.New("connection stale (no ping or pong)")

// Config configures the Consumer.
type Config struct {
	URL    string   // combined-stream base URL
	Assets []string // symbols to subscribe, 1..=10

	PingInterval time.Duration // client keepalive ping cadence
	PongTimeout  time.Duration // max silence before the connection is stale
	IdleTimeout  time.Duration // read deadline per message
	WriteTimeout time.Duration // deadline on control frames
	Backoff      backoff.Policy
}

// DefaultStreamURL is the production combined-stream endpoint.
const DefaultStreamURL = "wss://fstream.binance.com/stream"

// DefaultConfig returns sensible defaults for the given asset list.
func DefaultConfig(assets []string) Config {
	return Config{
		URL:          DefaultStreamURL,
		Assets:       assets,
		PingInterval: 30 * time.Second,
		PongTimeout:  30 * time.Second,
		IdleTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		Backoff:      backoff.Default(),
	}
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = DefaultStreamURL
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Backoff == (backoff.Policy{}) {
		c.Backoff = backoff.Default()
	}
}
