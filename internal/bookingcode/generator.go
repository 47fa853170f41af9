// Package bookingcode derives the two human-facing identifiers a reservation
// carries: the random registration code patients read out at the front desk,
// and the deterministic department code that doubles as a receipt of
// "department + position in line".
package bookingcode

import (
	"fmt"
	"math/rand/v2"
	"unicode"
)

const (
	defaultRegistrationWidth = 4
	departmentAbbrevLen      = 3
	departmentNumberPad      = 3
)

type Generator struct {
	width int
	space int
	intn  func(int) int
}

type Options struct {
	// RegistrationWidth is the digit count of registration codes. Zero means
	// the default of 4.
	RegistrationWidth int
	// Rand overrides the random source, for tests.
	Rand func(int) int
}

func New(options Options) *Generator {
	width := options.RegistrationWidth
	if width <= 0 {
		width = defaultRegistrationWidth
	}
	space := 1
	for i := 0; i < width; i++ {
		space *= 10
	}
	intn := options.Rand
	if intn == nil {
		intn = rand.IntN
	}
	return &Generator{width: width, space: space, intn: intn}
}

// RegistrationCode draws a fixed-width numeric token. It is a lookup
// convenience, not a credential; uniqueness among live reservations is
// enforced by the store, which redraws on collision.
func (g *Generator) RegistrationCode() string {
	return fmt.Sprintf("%0*d", g.width, g.intn(g.space))
}

// CodeSpace is the number of distinct registration codes the generator can
// produce.
func (g *Generator) CodeSpace() int {
	return g.space
}

// DepartmentCode builds the deterministic code for a department and queue
// number, e.g. ("Poli Umum", 7) -> "POL-007". Same inputs always yield the
// same code.
func (g *Generator) DepartmentCode(department string, number int) string {
	return fmt.Sprintf("%s-%0*d", abbreviate(department), departmentNumberPad, number)
}

func abbreviate(department string) string {
	letters := make([]rune, 0, departmentAbbrevLen)
	for _, r := range department {
		if !unicode.IsLetter(r) {
			continue
		}
		letters = append(letters, unicode.ToUpper(r))
		if len(letters) == departmentAbbrevLen {
			break
		}
	}
	for len(letters) < departmentAbbrevLen {
		letters = append(letters, 'X')
	}
	return string(letters)
}
