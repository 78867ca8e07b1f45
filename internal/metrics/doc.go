// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Trade ingest and drop rates
//   - Websocket reconnect counts
//   - TCP subscriber counts and slow-consumer disconnects
//   - Shared-memory ring overflow counts
//
// The dropped-trade counter is the primary health signal: the pipeline
// prefers dropping the newest trade over blocking ingest, so a rising
// drop rate means the sink cannot keep up.
package metrics
