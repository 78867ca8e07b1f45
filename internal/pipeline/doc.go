// Package pipeline glues the websocket ingest to a transport sink.
//
// Trades arrive on a bounded channel fed by the ingest consumer, get
// encoded once against the session header, and are handed to the sink.
// The channel's producer side never blocks: on overflow the newest trade
// is dropped and counted. Per-frame codec and transport errors are
// logged and the pipeline keeps running; only startup errors are fatal.
package pipeline
