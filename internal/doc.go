// Package internal contains helpers that are private to acctguard, currently
// secure one-time code generation.
//
// # Sub-packages
//
//   - limiters: Redis fixed-window throttles (OTP sends per identifier)
//   - logger: slog construction and request-scoped logging context
//   - stores: Redis-backed OTP records with atomic single-use consume
//   - tracing: OpenTelemetry tracer provider setup
//
// # What this package must NOT do
//
//   - Export types that appear in the public acctguard API.
//   - Be imported by any package outside the acctguard module.
package internal
