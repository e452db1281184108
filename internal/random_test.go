package internal

import "testing"

func TestNewOTPShape(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		code, err := NewOTP(6)
		if err != nil {
			t.Fatalf("NewOTP error: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("length = %d", len(code))
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Fatalf("non-digit %q in %q", c, code)
			}
		}
		seen[code] = struct{}{}
	}
	if len(seen) < 150 {
		t.Fatalf("only %d distinct codes out of 200", len(seen))
	}
}

func TestNewOTPRejectsBadLength(t *testing.T) {
	for _, n := range []int{0, 3, 11} {
		if _, err := NewOTP(n); err == nil {
			t.Fatalf("digits=%d: expected error", n)
		}
	}
}
