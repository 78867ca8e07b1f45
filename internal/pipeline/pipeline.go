package pipeline

import (
	"context"
	"log/slog"

	"github.com/ryanzhou/perp-forwarder/internal/metrics"
	"github.com/ryanzhou/perp-forwarder/internal/wire"
)

// DefaultChannelSize is the default depth of the ingest→sink channel.
const DefaultChannelSize = 4096

// Pipeline drains the trade channel, encodes each trade against the
// session header, and forwards the frames to the sink.
type Pipeline struct {
	header  *wire.Header
	in      <-chan wire.Trade
	sink    Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Pipeline.
func New(header *wire.Header, in <-chan wire.Trade, sink Sink, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		header:  header,
		in:      in,
		sink:    sink,
		metrics: m,
		logger:  logger,
	}
}

// Run starts the sink and forwards trades until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.sink.Start(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case trade := <-p.in:
			payload, err := wire.EncodeTrade(p.header, trade)
			if err != nil {
				// Fatal to this frame only.
				p.logger.Warn("encode failed", "symbol", trade.Symbol, "error", err)
				continue
			}
			if err := p.sink.Forward(payload); err != nil {
				p.logger.Warn("forward failed", "error", err)
				continue
			}
			p.metrics.FramesForwarded.Inc()
		}
	}
}
