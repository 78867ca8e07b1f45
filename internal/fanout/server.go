package fanout

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ryanzhou/perp-forwarder/internal/metrics"
	"github.com/ryanzhou/perp-forwarder/internal/wire"
)

// Handshake is written to every subscriber before the header.
const Handshake = "START"

// ErrSlowConsumer ends the session of a subscriber that lags behind the
// broadcast buffer.
var ErrSlowConsumer = errors.New("slow consumer")

// Config configures the Server.
type Config struct {
	Addr         string        // listen address, e.g. ":9000"
	BufferSize   int           // per-subscriber frame queue depth
	WriteTimeout time.Duration // per-frame write deadline
}

// DefaultConfig returns the production defaults.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:         addr,
		BufferSize:   1024,
		WriteTimeout: 5 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	if c.BufferSize == 0 {
		c.BufferSize = 1024
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

// subscriber is one accepted connection and its writer-side state.
type subscriber struct {
	id     uuid.UUID
	conn   net.Conn
	frames chan []byte
	gone   bool // set under Server.mu once unregistered
}

// Server accepts subscribers and broadcasts frames to all of them.
type Server struct {
	cfg     Config
	header  []byte
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	subs   map[uuid.UUID]*subscriber
	ln     net.Listener
	closed bool

	wg sync.WaitGroup
}

// NewServer creates a Server that will send header to every subscriber.
func NewServer(cfg Config, header []byte, m *metrics.Metrics, logger *slog.Logger) *Server {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		cfg:     cfg,
		header:  header,
		metrics: m,
		logger:  logger,
		subs:    make(map[uuid.UUID]*subscriber),
	}
}

// Start binds the listener and runs the accept loop until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("tcp fanout listening", "addr", ln.Addr())

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		s.shutdown()
	}()
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln)
	}()
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// SubscriberCount returns the number of connected subscribers.
func (s *Server) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Wait blocks until the accept loop and every subscriber writer have
// exited.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.logger.Warn("accept failed", "error", err)
			}
			return
		}
		s.handle(conn)
	}
}

// handle registers a connection and starts its writer.
func (s *Server) handle(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	sub := &subscriber{
		id:     uuid.New(),
		conn:   conn,
		frames: make(chan []byte, s.cfg.BufferSize),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.subs[sub.id] = sub
	s.mu.Unlock()

	s.metrics.Subscribers.Inc()
	s.logger.Info("subscriber connected",
		"id", sub.id,
		"remote", conn.RemoteAddr(),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.writeLoop(sub)
	}()
}

// writeLoop sends the handshake, the header, and then every queued frame
// until the queue closes or a write fails.
func (s *Server) writeLoop(sub *subscriber) {
	err := s.writeAll(sub, []byte(Handshake))
	if err == nil {
		err = s.writeAll(sub, s.header)
	}

	if err == nil {
		for frame := range sub.frames {
			if err = s.writeAll(sub, frame); err != nil {
				break
			}
		}
	}

	s.unregister(sub, err)
	sub.conn.Close()

	// Drain whatever Broadcast enqueued before unregister won the lock.
	for range sub.frames {
	}
}

func (s *Server) writeAll(sub *subscriber, b []byte) error {
	sub.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	_, err := sub.conn.Write(b)
	return err
}

// Broadcast frames payload once and offers it to every subscriber's
// queue. A subscriber whose queue is full is disconnected with
// ErrSlowConsumer; the producer and the other subscribers never wait.
func (s *Server) Broadcast(payload []byte) {
	frame := wire.Frame(payload)

	s.mu.Lock()
	var slow []*subscriber
	for _, sub := range s.subs {
		select {
		case sub.frames <- frame:
		default:
			slow = append(slow, sub)
		}
	}
	for _, sub := range slow {
		s.dropLocked(sub)
	}
	s.mu.Unlock()

	for _, sub := range slow {
		s.metrics.SlowConsumers.Inc()
		s.logger.Warn("disconnecting slow subscriber",
			"id", sub.id,
			"error", ErrSlowConsumer,
			"lag_frames", s.cfg.BufferSize,
		)
	}
}

// dropLocked removes a subscriber and closes its queue. Caller holds mu.
func (s *Server) dropLocked(sub *subscriber) {
	if sub.gone {
		return
	}
	sub.gone = true
	delete(s.subs, sub.id)
	close(sub.frames)
	// Unblocks a writer stuck mid-write on this subscriber.
	sub.conn.Close()
	s.metrics.Subscribers.Dec()
}

// unregister removes a subscriber after its writer exits.
func (s *Server) unregister(sub *subscriber, err error) {
	s.mu.Lock()
	wasRegistered := !sub.gone
	if wasRegistered {
		sub.gone = true
		delete(s.subs, sub.id)
		close(sub.frames)
		s.metrics.Subscribers.Dec()
	}
	s.mu.Unlock()

	switch {
	case !wasRegistered:
		// Dropped by Broadcast; already logged.
	case err != nil:
		s.logger.Warn("subscriber io failed", "id", sub.id, "error", err)
	default:
		s.logger.Info("subscriber disconnected", "id", sub.id)
	}
}

// shutdown closes the listener and every subscriber.
func (s *Server) shutdown() {
	s.mu.Lock()
	s.closed = true
	if s.ln != nil {
		s.ln.Close()
	}
	subs := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	for _, sub := range subs {
		s.dropLocked(sub)
	}
	s.mu.Unlock()

	s.logger.Info("tcp fanout stopped")
}
