// Command tcpreader subscribes to a forwarder's TCP stream and prints
// every decoded trade with its delivery latency.
package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/ryanzhou/perp-forwarder/internal/fanout"
	"github.com/ryanzhou/perp-forwarder/internal/wire"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9000", "forwarder TCP address")
	flag.Parse()

	if err := run(*addr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(addr string) error {
	var conn net.Conn
	var err error
	for {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	defer conn.Close()
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	fmt.Println("connected to", addr)

	r := bufio.NewReader(conn)

	start := make([]byte, len(fanout.Handshake))
	if _, err := io.ReadFull(r, start); err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	if string(start) != fanout.Handshake {
		return fmt.Errorf("bad handshake %q", start)
	}

	header, err := wire.ReadHeader(r)
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	fmt.Printf("header: %d assets %v\n", len(header.Assets), header.Assets)

	for {
		size, err := binary.ReadUvarint(r)
		if err != nil {
			return fmt.Errorf("read frame length: %w", err)
		}
		frame := make([]byte, size)
		if _, err := io.ReadFull(r, frame); err != nil {
			return fmt.Errorf("read frame: %w", err)
		}

		trade, _, err := wire.DecodeTrade(header, frame)
		if err != nil {
			return fmt.Errorf("decode trade: %w", err)
		}

		latency := time.Now().UnixMilli() - trade.Timestamp
		fmt.Printf("%s price=%.8f qty=%.8f maker=%v latency=%dms\n",
			trade.Symbol, trade.Price, trade.Quantity, trade.IsBuyerMaker, latency)
	}
}
