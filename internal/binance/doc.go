// Package binance provides the exchange-facing types and REST client for
// Binance USDT-margined perpetual futures.
//
// REST endpoint:
//   - Production: https://fapi.binance.com
//
// Websocket endpoint (consumed by the ingest package):
//   - wss://fstream.binance.com/stream?streams=<symbol>@aggTrade/...
//
// The REST side is only used at startup to bootstrap the per-asset
// reference prices and quantities carried in the stream header.
package binance
