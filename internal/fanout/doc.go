// Package fanout implements the TCP broadcast server.
//
// Every accepted subscriber gets the 5-byte "START" handshake, the raw
// header bytes, and then the stream of length-prefixed trade frames.
// Each subscriber owns a bounded frame queue drained by its own writer
// goroutine; a subscriber that falls more than the queue depth behind is
// disconnected rather than ever back-pressuring the producer or its
// peers. Frame order is preserved per subscriber.
package fanout
