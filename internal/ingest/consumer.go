package ingest

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"

	"github.com/ryanzhou/perp-forwarder/internal/binance"
	"github.com/ryanzhou/perp-forwarder/internal/metrics"
	"github.com/ryanzhou/perp-forwarder/internal/wire"
)

// Consumer owns the exchange websocket and feeds decoded trades into the
// pipeline channel.
type Consumer struct {
	cfg     Config
	out     chan<- wire.Trade
	metrics *metrics.Metrics
	logger  *slog.Logger

	dropped atomic.Uint64
}

// NewConsumer creates a Consumer writing into out.
func NewConsumer(cfg Config, out chan<- wire.Trade, m *metrics.Metrics, logger *slog.Logger) *Consumer {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		cfg:     cfg,
		out:     out,
		metrics: m,
		logger:  logger,
	}
}

// Dropped returns the number of trades discarded because the pipeline
// channel was full.
func (c *Consumer) Dropped() uint64 {
	return c.dropped.Load()
}

// streamURL builds the combined-stream URL from the stored asset list.
func (c *Consumer) streamURL() string {
	streams := make([]string, len(c.cfg.Assets))
	for i, sym := range c.cfg.Assets {
		streams[i] = strings.ToLower(sym) + "@aggTrade"
	}
	return c.cfg.URL + "?streams=" + strings.Join(streams, "/")
}

// Run connects, consumes, and reconnects until ctx is cancelled. The only
// return value is ctx.Err(); every session error is transient.
func (c *Consumer) Run(ctx context.Context) error {
	attempt := 0
	for {
		connected, err := c.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if connected {
			attempt = 0
		}
		c.logger.Warn("websocket session ended",
			"error", err,
			"reconnect_attempt", attempt,
		)
		c.metrics.WSReconnects.Inc()

		if err := c.cfg.Backoff.Sleep(ctx, attempt); err != nil {
			return err
		}
		attempt++
	}
}

// runSession dials and reads one websocket session to completion.
// The bool reports whether the dial succeeded.
func (c *Consumer) runSession(ctx context.Context) (bool, error) {
	url := c.streamURL()
	c.logger.Debug("dialing websocket", "url", url)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	c.logger.Info("websocket connected", "assets", c.cfg.Assets)

	// lastSeen is bumped on any sign of life from the server: pings,
	// pongs, and data frames.
	var lastSeen atomic.Int64
	lastSeen.Store(time.Now().UnixNano())

	conn.SetPingHandler(func(data string) error {
		lastSeen.Store(time.Now().UnixNano())
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(c.cfg.WriteTimeout),
		)
	})
	conn.SetPongHandler(func(string) error {
		lastSeen.Store(time.Now().UnixNano())
		return nil
	})

	// Close the connection when ctx is cancelled or the heartbeat dies so
	// the blocked ReadMessage below returns.
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	heartbeatErr := make(chan error, 1)
	go c.heartbeat(ctx, conn, &lastSeen, sessionDone, heartbeatErr)

	for {
		conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case herr := <-heartbeatErr:
				return true, herr
			default:
			}
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			return true, err
		}
		lastSeen.Store(time.Now().UnixNano())
		c.handleMessage(data)
	}
}

// heartbeat sends client pings and tears the connection down when the
// server has gone silent.
func (c *Consumer) heartbeat(ctx context.Context, conn *websocket.Conn, lastSeen *atomic.Int64, done <-chan struct{}, errCh chan<- error) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			silence := time.Since(time.Unix(0, lastSeen.Load()))
			if silence > c.cfg.PongTimeout {
				c.logger.Warn("connection stale", "silence", silence)
				errCh <- ErrStaleConnection
				conn.Close()
				return
			}
		}
	}
}

// handleMessage decodes one stream message and offers the trade to the
// pipeline. Control messages and non-trade events are dropped silently.
func (c *Consumer) handleMessage(data []byte) {
	var ev binance.StreamEvent
	if err := sonnet.Unmarshal(data, &ev); err != nil {
		c.logger.Debug("unparseable stream message", "error", err)
		return
	}
	if ev.Data.EventType != "aggTrade" || ev.Data.Symbol == "" {
		return
	}

	trade := wire.Trade{
		Timestamp:    ev.Data.TradeTime,
		Symbol:       ev.Data.Symbol,
		Price:        float64(ev.Data.Price),
		Quantity:     float64(ev.Data.Quantity),
		IsBuyerMaker: ev.Data.IsBuyerMaker,
	}

	select {
	case c.out <- trade:
		c.metrics.TradesIngested.Inc()
	default:
		// Market data is perishable: drop the newest rather than block
		// the read loop.
		c.dropped.Add(1)
		c.metrics.TradesDropped.Inc()
	}
}
