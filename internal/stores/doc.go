// Package stores provides Redis-backed, short-lived one-time code records.
//
// # Design
//
// A record is a Redis hash (code, expiry, attempt count) keyed by purpose,
// channel and identifier. Saving overwrites any previous record for the key
// inside a MULTI block. Consume runs as a single Lua script so that two
// concurrent verifications of the same code cannot both succeed. The Redis
// TTL outlives the logical expiry by a grace period so that a late
// verification is reported as expired rather than as missing.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for OTP records. It
// does NOT generate codes, deliver them, or decide what a successful
// verification grants.
//
// # What this package must NOT do
//
//   - Import acctguard or any sibling internal package.
//   - Log or expose plaintext codes.
package stores
