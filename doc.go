// Package acctguard authenticates accounts by password or one-time code,
// issues signed access/refresh token pairs, locks accounts after repeated
// password failures and gates operations by role.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// acctguard is the public surface. It exposes [Engine], [Builder], [Config],
// the store and notifier contracts ([CredentialStore], [OTPStore],
// [Notifier]) and value types. Token signing lives in jwt, password hashing
// in password and the lockout state machine in lockout. Redis record layout
// and send throttling live under internal/ and are never exported.
//
// # State
//
// Token verification is pure. Lockout counters and OTP records are mutated
// only through store primitives that are atomic per key: a SQL row update for
// lockout, Lua scripts and MULTI for OTP records. The engine holds no
// per-account state of its own.
//
// # Errors
//
// Every operation returns one of the sentinels in errors.go, possibly wrapped.
// Use errors.Is to classify; httpapi maps them to status codes.
package acctguard
