package structure

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/nasdf/glyco/composition"
)

// Residue compositions as they appear inside a chain, with one water
// removed per glycosidic bond. The reducing end water is added back by
// Structure.TotalMass.
var residues = map[string]composition.Composition{
	"Hex": {"C": 6, "H": 10, "O": 5},
	"Glc": {"C": 6, "H": 10, "O": 5},
	"Gal": {"C": 6, "H": 10, "O": 5},
	"Man": {"C": 6, "H": 10, "O": 5},

	"dHex": {"C": 6, "H": 10, "O": 4},
	"Fuc":  {"C": 6, "H": 10, "O": 4},
	"Rha":  {"C": 6, "H": 10, "O": 4},

	"Pen": {"C": 5, "H": 8, "O": 4},
	"Xyl": {"C": 5, "H": 8, "O": 4},
	"Ara": {"C": 5, "H": 8, "O": 4},
	"Rib": {"C": 5, "H": 8, "O": 4},

	"HexA": {"C": 6, "H": 8, "O": 6},
	"GlcA": {"C": 6, "H": 8, "O": 6},
	"GalA": {"C": 6, "H": 8, "O": 6},
	"IdoA": {"C": 6, "H": 8, "O": 6},

	"Hep": {"C": 7, "H": 12, "O": 6},
	"Kdn": {"C": 9, "H": 14, "O": 8},
}

// Substituent compositions are deltas for replacing a hydroxyl group at the
// attachment position.
var substituents = map[string]composition.Composition{
	"n_acetyl":   {"C": 2, "H": 3, "N": 1},
	"n_glycolyl": {"C": 2, "H": 3, "N": 1, "O": 1},
	"amino":      {"N": 1, "H": 1, "O": -1},
	"sulfate":    {"S": 1, "O": 3},
	"n_sulfate":  {"N": 1, "S": 1, "O": 2},
	"phosphate":  {"H": 1, "P": 1, "O": 3},
	"methyl":     {"C": 1, "H": 2},
	"acetyl":     {"C": 2, "H": 2, "O": 1},
}

// IsResidue returns true if the given base type has a known composition.
func IsResidue(base string) bool {
	_, ok := residues[base]
	return ok
}

// IsSubstituent returns true if the given substituent has a known composition.
func IsSubstituent(name string) bool {
	_, ok := substituents[name]
	return ok
}

// Substituent is a non-saccharide group attached to a residue.
type Substituent struct {
	Position int
	Name     string
}

func (s Substituent) String() string {
	return strconv.Itoa(s.Position) + ":" + s.Name
}

func compareSubstituents(a, b Substituent) int {
	if a.Position != b.Position {
		return a.Position - b.Position
	}
	return strings.Compare(a.Name, b.Name)
}

// Node is a monosaccharide residue.
type Node struct {
	// Base is the residue type, for example "Glc" or "Fuc".
	Base string
	// Substituents are the groups attached to the residue.
	Substituents []Substituent
	// Open is true when the ring is open, as in a reduced reducing end.
	Open bool
}

// NewNode returns a node with the given base type and substituents.
func NewNode(base string, subs ...Substituent) Node {
	return Node{Base: base, Substituents: subs}
}

// normalize returns a copy of n with sorted substituents.
func (n Node) normalize() Node {
	subs := slices.Clone(n.Substituents)
	slices.SortFunc(subs, compareSubstituents)
	return Node{Base: n.Base, Substituents: subs, Open: n.Open}
}

// Composition returns the local composition of the residue and its substituents.
func (n Node) Composition() (composition.Composition, error) {
	base, ok := residues[n.Base]
	if !ok {
		return nil, fmt.Errorf("%w: unknown residue %q", ErrMalformedStructure, n.Base)
	}
	out := base.Clone()
	for _, s := range n.Substituents {
		delta, ok := substituents[s.Name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown substituent %q", ErrMalformedStructure, s.Name)
		}
		out = out.Add(delta)
	}
	return out, nil
}

// Label returns the canonical label of the residue.
func (n Node) Label() string {
	n = n.normalize()
	var b strings.Builder
	b.WriteString(n.Base)
	if n.Open {
		b.WriteString("~o")
	}
	if len(n.Substituents) > 0 {
		b.WriteByte('[')
		for i, s := range n.Substituents {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(s.String())
		}
		b.WriteByte(']')
	}
	return b.String()
}

// HasSubstituents returns true if every substituent of sub is present on n,
// counting duplicates.
func (n Node) HasSubstituents(sub []Substituent) bool {
	taken := make([]bool, len(n.Substituents))
	for _, want := range sub {
		found := false
		for i, have := range n.Substituents {
			if !taken[i] && have == want {
				taken[i] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
