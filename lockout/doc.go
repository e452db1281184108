// Package lockout implements the brute-force lockout policy as a pure state
// transition. Persisting the transition atomically is the credential store's job.
package lockout
