// Package jwt issues and verifies the two bearer token kinds used by acctguard:
// short-lived access tokens and long-lived refresh tokens.
//
// Each kind is signed with its own key material and tagged with a "typ" claim,
// so a refresh token never verifies as an access token and vice versa.
// Verification is pure: it depends only on configuration and the injected clock.
package jwt
