// Package wire implements the compact binary trade format.
//
// A stream starts with a header carrying the asset list and per-asset
// reference values. Every trade after it is delta-encoded against those
// references: a packed symbol/side byte, a zig-zag varint timestamp delta,
// a zig-zag varint fixed-point price delta, and an unsigned varint
// fixed-point quantity. Prices and quantities are scaled by Scale before
// rounding; the scale is part of the version-1 contract.
package wire
