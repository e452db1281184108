package lockout

import (
	"errors"
	"time"
)

const (
	// DefaultThreshold is the number of consecutive failures that locks an account.
	DefaultThreshold = 5
	// DefaultDuration is how long a tripped lock lasts.
	DefaultDuration = 2 * time.Hour
)

// Outcome is the result of one credential check.
type Outcome int

const (
	Failure Outcome = iota
	Success
)

func (o Outcome) String() string {
	if o == Success {
		return "success"
	}
	return "failure"
}

// State is the persisted lockout state of one account.
type State struct {
	FailedCount int
	LockedUntil *time.Time
}

// Policy computes lockout transitions.
type Policy struct {
	Threshold int
	Duration  time.Duration
}

// Default returns the 5 failures / 2 hours policy.
func Default() Policy {
	return Policy{Threshold: DefaultThreshold, Duration: DefaultDuration}
}

// Validate rejects non-positive thresholds and durations.
func (p Policy) Validate() error {
	if p.Threshold <= 0 {
		return errors.New("lockout threshold must be > 0")
	}
	if p.Duration <= 0 {
		return errors.New("lockout duration must be > 0")
	}
	return nil
}

// IsLocked reports whether s is locked at now. A lock whose deadline has
// passed is not locked, even though it has not been cleared yet.
func IsLocked(s State, now time.Time) bool {
	return s.LockedUntil != nil && s.LockedUntil.After(now)
}

// Next returns the state after outcome at now.
//
// A failure after an expired lock starts a fresh cycle at count 1. Any other
// failure increments the count and, when the account is not already locked
// and the count reaches the threshold, locks it for Duration. A success
// clears everything.
func (p Policy) Next(s State, outcome Outcome, now time.Time) State {
	if outcome == Success {
		return State{}
	}

	next := State{FailedCount: s.FailedCount + 1, LockedUntil: s.LockedUntil}
	if s.LockedUntil != nil && !s.LockedUntil.After(now) {
		next = State{FailedCount: 1}
	}

	if !IsLocked(next, now) && next.FailedCount >= p.Threshold {
		until := now.Add(p.Duration)
		next.LockedUntil = &until
	}
	return next
}

// JustLocked reports whether next is the state produced by the failure that
// engaged the lock. Under an atomic store exactly one concurrent failure
// observes this.
func (p Policy) JustLocked(next State) bool {
	return next.LockedUntil != nil && next.FailedCount == p.Threshold
}
