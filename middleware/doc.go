// Package middleware exposes net/http adapters over acctguard.Engine.
//
//   - [Protect] requires a valid bearer token and attaches the account.
//   - [OptionalAuth] attaches the account when a valid token is present.
//   - [RequireRoles] gates on the attached account's role.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does not parse
// tokens or touch stores; every decision is delegated to the Engine.
package middleware
