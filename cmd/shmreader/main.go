// Command shmreader attaches to a forwarder's shared-memory ring and
// prints every decoded trade. The first record in the ring is the stream
// header.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ryanzhou/perp-forwarder/internal/shm"
	"github.com/ryanzhou/perp-forwarder/internal/wire"
)

func main() {
	name := flag.String("name", "", "name of the shared memory queue (file in /dev/shm)")
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "usage: shmreader --name <queue>")
		os.Exit(2)
	}

	if err := run(*name); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(name string) error {
	ring, err := shm.Attach(name)
	if err != nil {
		return err
	}
	defer ring.Close()
	fmt.Printf("attached to %s (capacity %d)\n", ring.Path(), ring.Capacity())

	header, err := wire.ParseHeader(pop(ring))
	if err != nil {
		return fmt.Errorf("parse header: %w", err)
	}
	fmt.Printf("header: %d assets %v\n", len(header.Assets), header.Assets)

	for {
		trade, _, err := wire.DecodeTrade(header, pop(ring))
		if err != nil {
			return fmt.Errorf("decode trade: %w", err)
		}

		latency := time.Now().UnixMilli() - trade.Timestamp
		fmt.Printf("%s price=%.8f qty=%.8f maker=%v latency=%dms\n",
			trade.Symbol, trade.Price, trade.Quantity, trade.IsBuyerMaker, latency)
	}
}

// pop busy-waits for the next frame with a short sleep between polls.
func pop(ring *shm.Ring) []byte {
	for {
		if payload, ok := ring.Pop(); ok {
			return payload
		}
		time.Sleep(50 * time.Microsecond)
	}
}
