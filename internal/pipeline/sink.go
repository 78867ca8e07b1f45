package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ryanzhou/perp-forwarder/internal/fanout"
	"github.com/ryanzhou/perp-forwarder/internal/metrics"
	"github.com/ryanzhou/perp-forwarder/internal/shm"
)

// Sink is a transport for encoded trade payloads. Start is called once
// with the session established; Forward is called for every encoded
// trade, in order.
type Sink interface {
	Start(ctx context.Context) error
	Forward(payload []byte) error
}

// ShmSink writes length-prefixed frames into a shared-memory ring.
type ShmSink struct {
	ring    *shm.Ring
	header  []byte
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewShmSink creates a sink over an already-created ring.
func NewShmSink(ring *shm.Ring, header []byte, m *metrics.Metrics, logger *slog.Logger) *ShmSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShmSink{ring: ring, header: header, metrics: m, logger: logger}
}

// Start writes the header as the ring's first record.
func (s *ShmSink) Start(ctx context.Context) error {
	if err := s.ring.Push(s.header); err != nil {
		return fmt.Errorf("write header to ring: %w", err)
	}
	s.logger.Info("shm sink started",
		"path", s.ring.Path(),
		"capacity", s.ring.Capacity(),
	)
	return nil
}

// Forward pushes one trade frame. A full ring drops the frame and counts
// it; an oversized frame is surfaced to the caller.
func (s *ShmSink) Forward(payload []byte) error {
	err := s.ring.Push(payload)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, shm.ErrWouldBlock):
		s.metrics.ShmWouldBlock.Inc()
		return nil
	default:
		return err
	}
}

// TCPSink broadcasts frames to every connected subscriber.
type TCPSink struct {
	server *fanout.Server
}

// NewTCPSink creates a sink over a fanout server.
func NewTCPSink(server *fanout.Server) *TCPSink {
	return &TCPSink{server: server}
}

// Start brings up the listener.
func (s *TCPSink) Start(ctx context.Context) error {
	return s.server.Start(ctx)
}

// Forward broadcasts one trade frame. Slow subscribers are the server's
// problem; Forward never blocks and never fails.
func (s *TCPSink) Forward(payload []byte) error {
	s.server.Broadcast(payload)
	return nil
}
