package composition

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// ErrUnknownElement is returned when a composition references an element
// that is missing from the mass table.
var ErrUnknownElement = errors.New("unknown element")

// Composition is an elemental formula mapping element symbols to counts.
//
// A Composition is treated as an immutable value. All operations return a
// new canonical Composition that never contains zero counts.
type Composition map[string]int

// New returns a canonical copy of the given element counts.
func New(counts map[string]int) Composition {
	out := make(Composition, len(counts))
	for k, v := range counts {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}

// Clone returns a canonical copy of the composition.
func (c Composition) Clone() Composition {
	return New(c)
}

// Add returns the sum of c and other.
func (c Composition) Add(other Composition) Composition {
	out := c.Clone()
	for k, v := range other {
		out[k] += v
		if out[k] == 0 {
			delete(out, k)
		}
	}
	return out
}

// Subtract returns the difference of c and other.
func (c Composition) Subtract(other Composition) Composition {
	return c.Add(other.Scale(-1))
}

// Scale returns c with every count multiplied by factor.
func (c Composition) Scale(factor int) Composition {
	out := make(Composition, len(c))
	if factor == 0 {
		return out
	}
	for k, v := range c {
		if v != 0 {
			out[k] = v * factor
		}
	}
	return out
}

// Equal returns true if both compositions have the same canonical form.
func (c Composition) Equal(other Composition) bool {
	return maps.Equal(c.Clone(), other.Clone())
}

// IsEmpty returns true if the composition has no non-zero counts.
func (c Composition) IsEmpty() bool {
	for _, v := range c {
		if v != 0 {
			return false
		}
	}
	return true
}

// Mass returns the monoisotopic mass of the composition.
func (c Composition) Mass() (float64, error) {
	return c.MassWith(MonoisotopicMasses)
}

// MassWith returns the mass of the composition using the given element table.
func (c Composition) MassWith(table map[string]float64) (float64, error) {
	var mass float64
	for _, symbol := range c.symbols() {
		m, ok := table[symbol]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownElement, symbol)
		}
		mass += float64(c[symbol]) * m
	}
	return mass, nil
}

// String returns the formula in Hill order: carbon, hydrogen, then the
// remaining elements alphabetically. Counts of one are written explicitly
// only when negative.
func (c Composition) String() string {
	var b strings.Builder
	for _, symbol := range c.symbols() {
		count := c[symbol]
		b.WriteString(symbol)
		if count != 1 {
			b.WriteString(strconv.Itoa(count))
		}
	}
	return b.String()
}

// symbols returns the non-zero element symbols in Hill order.
func (c Composition) symbols() []string {
	symbols := make([]string, 0, len(c))
	for k, v := range c {
		if v != 0 {
			symbols = append(symbols, k)
		}
	}
	slices.SortFunc(symbols, hillCompare)
	return symbols
}

func hillCompare(a, b string) int {
	rank := func(s string) int {
		switch s {
		case "C":
			return 0
		case "H":
			return 1
		default:
			return 2
		}
	}
	if ra, rb := rank(a), rank(b); ra != rb {
		return ra - rb
	}
	return strings.Compare(a, b)
}

// Parse reads a formula such as "C6H12O6" or "C2H3NO-1".
//
// Repeated symbols are summed, so "CH3CH2OH" is accepted.
func Parse(formula string) (Composition, error) {
	out := make(Composition)
	for i := 0; i < len(formula); {
		if formula[i] < 'A' || formula[i] > 'Z' {
			return nil, fmt.Errorf("invalid formula %q at offset %d", formula, i)
		}
		j := i + 1
		for j < len(formula) && formula[j] >= 'a' && formula[j] <= 'z' {
			j++
		}
		symbol := formula[i:j]
		k := j
		if k < len(formula) && formula[k] == '-' {
			k++
		}
		for k < len(formula) && formula[k] >= '0' && formula[k] <= '9' {
			k++
		}
		count := 1
		if k > j {
			n, err := strconv.Atoi(formula[j:k])
			if err != nil {
				return nil, fmt.Errorf("invalid count in formula %q: %w", formula, err)
			}
			count = n
		}
		out[symbol] += count
		i = k
	}
	return New(out), nil
}

// MustParse is like Parse but panics on error.
func MustParse(formula string) Composition {
	c, err := Parse(formula)
	if err != nil {
		panic(err)
	}
	return c
}
