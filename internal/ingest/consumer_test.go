package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ryanzhou/perp-forwarder/internal/backoff"
	"github.com/ryanzhou/perp-forwarder/internal/metrics"
	"github.com/ryanzhou/perp-forwarder/internal/wire"
)

var upgrader = websocket.Upgrader{}

func testConfig(url string) Config {
	return Config{
		URL:          url,
		Assets:       []string{"BTCUSDT", "ETHUSDT"},
		PingInterval: 50 * time.Millisecond,
		PongTimeout:  time.Second,
		IdleTimeout:  time.Second,
		WriteTimeout: time.Second,
		Backoff:      backoff.Policy{Base: 5 * time.Millisecond, Cap: 10 * time.Millisecond, Factor: 2},
	}
}

// wsTestServer runs handler for every websocket connection it accepts.
func wsTestServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
}

const aggTradeMsg = `{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","s":"BTCUSDT","p":"45000.5","q":"1.25","T":1700000000100,"m":true}}`

func TestConsumerDecodesTrades(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(aggTradeMsg))
		// Keep the session open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	out := make(chan wire.Trade, 16)
	c := NewConsumer(testConfig(wsURL(srv)), out, metrics.New(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case trade := <-out:
		if trade.Symbol != "BTCUSDT" {
			t.Errorf("Symbol = %q, want BTCUSDT", trade.Symbol)
		}
		if trade.Price != 45000.5 {
			t.Errorf("Price = %v, want 45000.5", trade.Price)
		}
		if trade.Quantity != 1.25 {
			t.Errorf("Quantity = %v, want 1.25", trade.Quantity)
		}
		if trade.Timestamp != 1700000000100 {
			t.Errorf("Timestamp = %d, want 1700000000100", trade.Timestamp)
		}
		if !trade.IsBuyerMaker {
			t.Error("IsBuyerMaker = false, want true")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no trade received")
	}
}

func TestConsumerStreamURL(t *testing.T) {
	c := NewConsumer(testConfig("wss://example.com/stream"), nil, metrics.New(), nil)

	want := "wss://example.com/stream?streams=btcusdt@aggTrade/ethusdt@aggTrade"
	if got := c.streamURL(); got != want {
		t.Errorf("streamURL() = %q, want %q", got, want)
	}
}

func TestConsumerDropsControlMessages(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"result":null,"id":1}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"stream":"btcusdt@markPrice","data":{"e":"markPriceUpdate","s":"BTCUSDT"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`not json at all`))
		conn.WriteMessage(websocket.TextMessage, []byte(aggTradeMsg))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	out := make(chan wire.Trade, 16)
	c := NewConsumer(testConfig(wsURL(srv)), out, metrics.New(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case trade := <-out:
		if trade.Symbol != "BTCUSDT" {
			t.Errorf("Symbol = %q, want BTCUSDT", trade.Symbol)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("trade event never arrived")
	}

	select {
	case trade := <-out:
		t.Errorf("unexpected second trade: %+v", trade)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConsumerDropsOnFullChannel(t *testing.T) {
	const sent = 20
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		for i := 0; i < sent; i++ {
			conn.WriteMessage(websocket.TextMessage, []byte(aggTradeMsg))
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	out := make(chan wire.Trade, 1) // nobody drains it
	c := NewConsumer(testConfig(wsURL(srv)), out, metrics.New(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for c.Dropped() < sent-1 {
		if time.Now().After(deadline) {
			t.Fatalf("Dropped() = %d, want %d", c.Dropped(), sent-1)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConsumerReconnects(t *testing.T) {
	var dials atomic.Int64
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		dials.Add(1)
		conn.WriteMessage(websocket.TextMessage, []byte(aggTradeMsg))
		// Drop the connection; the consumer must come back.
	})

	out := make(chan wire.Trade, 64)
	c := NewConsumer(testConfig(wsURL(srv)), out, metrics.New(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for dials.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("dials = %d, want >= 3", dials.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConsumerStopsOnCancel(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c := NewConsumer(testConfig(wsURL(srv)), make(chan wire.Trade, 1), metrics.New(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
