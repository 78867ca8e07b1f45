// Package ingest implements the websocket consumer.
//
// The consumer holds one combined-stream connection to the exchange,
// subscribing to <symbol>@aggTrade for every configured asset. Inbound
// events are decoded into normalized trades and offered to the pipeline
// channel without blocking: when the channel is full the newest trade is
// dropped and counted. Connection failures, read errors, idle timeouts
// and stale heartbeats all tear the session down and trigger a
// reconnect with jittered exponential backoff; subscriptions are carried
// in the stream URL, so they are re-issued from the stored asset list on
// every connect.
package ingest
