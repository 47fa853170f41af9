package store

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"verify", "pending", true},
		{"verify", "confirmed", false},
		{"verify", "completed", false},
		{"verify", "cancelled", false},
		{"complete", "confirmed", true},
		{"complete", "pending", false},
		{"complete", "completed", false},
		{"cancel", "pending", true},
		{"cancel", "confirmed", true},
		{"cancel", "completed", false},
		{"cancel", "cancelled", false},
		{"expire", "pending", true},
		{"expire", "confirmed", false},
		{"unknown", "pending", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}
