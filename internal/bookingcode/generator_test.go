package bookingcode

import "testing"

func TestDepartmentCode(t *testing.T) {
	g := New(Options{})
	cases := []struct {
		department string
		number     int
		want       string
	}{
		{"Poli Umum", 7, "POL-007"},
		{"Poli Umum", 7, "POL-007"},
		{"Gigi", 12, "GIG-012"},
		{"THT", 103, "THT-103"},
		{"IG", 1, "IGX-001"},
		{"X", 0, "XXX-000"},
		{"  2 Anak ", 5, "ANA-005"},
	}
	for _, tt := range cases {
		if got := g.DepartmentCode(tt.department, tt.number); got != tt.want {
			t.Fatalf("DepartmentCode(%q, %d) = %q, want %q", tt.department, tt.number, got, tt.want)
		}
	}
}

func TestRegistrationCodeWidth(t *testing.T) {
	g := New(Options{})
	for i := 0; i < 200; i++ {
		code := g.RegistrationCode()
		if len(code) != 4 {
			t.Fatalf("code %q has width %d, want 4", code, len(code))
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("code %q contains non-digit %q", code, r)
			}
		}
	}
}

func TestRegistrationCodeCustomWidth(t *testing.T) {
	g := New(Options{RegistrationWidth: 6})
	if got := g.CodeSpace(); got != 1000000 {
		t.Fatalf("CodeSpace = %d, want 1000000", got)
	}
	if code := g.RegistrationCode(); len(code) != 6 {
		t.Fatalf("code %q has width %d, want 6", code, len(code))
	}
}

func TestRegistrationCodeInjectedRand(t *testing.T) {
	g := New(Options{Rand: func(int) int { return 42 }})
	if code := g.RegistrationCode(); code != "0042" {
		t.Fatalf("code = %q, want 0042", code)
	}
}
