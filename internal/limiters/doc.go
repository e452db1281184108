// Package limiters provides Redis-backed fixed-window throttles.
//
// # Limiters
//
//   - [OTPSendLimiter]: per-identifier and per-IP throttle for code delivery.
//
// All limiters are nil-safe: calling any method on a nil receiver returns nil.
//
// # What this package must NOT do
//
//   - Import acctguard or any sibling internal package.
//   - Make policy decisions beyond counting; the engine decides consequences.
package limiters
