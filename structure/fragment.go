package structure

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/nasdf/glyco/composition"
)

// IonKind is the type of a glycosidic cleavage end.
type IonKind byte

const (
	IonB IonKind = 'B'
	IonC IonKind = 'C'
	IonY IonKind = 'Y'
	IonZ IonKind = 'Z'
)

func (k IonKind) String() string {
	return string(k)
}

// reducing returns true if the ion keeps the parent side of the cleaved bond.
func (k IonKind) reducing() bool {
	return k == IonY || k == IonZ
}

// ionShifts are subtracted from the fragment residues plus water.
var ionShifts = map[IonKind]composition.Composition{
	IonB: composition.Water,
	IonC: {},
	IonY: {},
	IonZ: composition.Water,
}

// ParseIonKinds parses a string of ion letters such as "BY".
func ParseIonKinds(s string) ([]IonKind, error) {
	var kinds []IonKind
	for _, r := range strings.ToUpper(s) {
		kind := IonKind(r)
		if _, ok := ionShifts[kind]; !ok {
			return nil, fmt.Errorf("invalid ion kind %q", r)
		}
		if !slices.Contains(kinds, kind) {
			kinds = append(kinds, kind)
		}
	}
	return kinds, nil
}

// FragmentOptions controls fragment generation.
type FragmentOptions struct {
	// Kinds are the ion types to generate. Empty means B, C, Y and Z.
	Kinds []IonKind
	// MaxCleavages is the largest number of bonds broken in one fragment.
	// Zero means one.
	MaxCleavages int
}

// Fragment is a theoretical glycosidic fragment.
type Fragment struct {
	// Name identifies the cleavages, for example "Y1" or "B2-Y4".
	Name string
	// Mass is the neutral monoisotopic mass.
	Mass        float64
	Composition composition.Composition
	// Residues are the indices of the residues kept in the fragment.
	Residues []int
	// Cleavages is the number of bonds broken.
	Cleavages int
}

// Fragments returns the glycosidic fragments of the structure ordered by name.
//
// Linkages are numbered from one in insertion order. A fragment is emitted for
// each connected piece bordered by every broken bond; pieces that a broken
// bond does not separate are skipped.
func (s *Structure) Fragments(opts FragmentOptions) ([]Fragment, error) {
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = []IonKind{IonB, IonC, IonY, IonZ}
	}
	for _, k := range kinds {
		if _, ok := ionShifts[k]; !ok {
			return nil, fmt.Errorf("invalid ion kind %q", byte(k))
		}
	}
	maxCuts := max(opts.MaxCleavages, 1)

	var out []Fragment
	for size := 1; size <= min(maxCuts, len(s.links)); size++ {
		for cuts := range combinations(len(s.links), size) {
			frags, err := s.cleave(cuts, kinds)
			if err != nil {
				return nil, err
			}
			out = append(out, frags...)
		}
	}
	slices.SortFunc(out, func(a, b Fragment) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (s *Structure) cleave(cuts []int, kinds []IonKind) ([]Fragment, error) {
	cut := make(map[int]bool, len(cuts))
	for _, li := range cuts {
		cut[li] = true
	}
	components := s.components(cut)

	var out []Fragment
	for _, members := range components {
		inside := make(map[int]bool, len(members))
		for _, i := range members {
			inside[i] = true
		}
		// every broken bond must have exactly one end in the piece
		reducing := make([]bool, len(cuts))
		bordered := true
		for j, li := range cuts {
			l := s.links[li]
			if inside[l.Parent] == inside[l.Child] {
				bordered = false
				break
			}
			reducing[j] = inside[l.Parent]
		}
		if !bordered {
			continue
		}
		residues := composition.Composition{}
		for _, i := range members {
			residues = residues.Add(s.locals[i])
		}
		residues = residues.Add(composition.Water)

		for ends := range ionEnds(reducing, kinds) {
			total := residues
			names := make([]string, len(cuts))
			for j, kind := range ends {
				total = total.Subtract(ionShifts[kind])
				names[j] = kind.String() + strconv.Itoa(cuts[j]+1)
			}
			mass, err := total.Mass()
			if err != nil {
				return nil, err
			}
			out = append(out, Fragment{
				Name:        strings.Join(names, "-"),
				Mass:        mass,
				Composition: total,
				Residues:    slices.Clone(members),
				Cleavages:   len(cuts),
			})
		}
	}
	return out, nil
}

// components returns the connected pieces left after removing the cut links.
func (s *Structure) components(cut map[int]bool) [][]int {
	parent := make([]int, len(s.nodes))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for li, l := range s.links {
		if cut[li] {
			continue
		}
		if a, b := find(l.Parent), find(l.Child); a != b {
			parent[a] = b
		}
	}
	groups := make(map[int][]int)
	var roots []int
	for _, i := range s.Order() {
		r := find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], i)
	}
	out := make([][]int, len(roots))
	for i, r := range roots {
		members := groups[r]
		slices.Sort(members)
		out[i] = members
	}
	return out
}

// ionEnds yields every assignment of ion kinds to the broken bonds.
func ionEnds(reducing []bool, kinds []IonKind) func(yield func([]IonKind) bool) {
	var reduce, keep []IonKind
	for _, k := range kinds {
		if k.reducing() {
			reduce = append(reduce, k)
		} else {
			keep = append(keep, k)
		}
	}
	return func(yield func([]IonKind) bool) {
		ends := make([]IonKind, len(reducing))
		var walk func(int) bool
		walk = func(j int) bool {
			if j == len(reducing) {
				return yield(slices.Clone(ends))
			}
			options := keep
			if reducing[j] {
				options = reduce
			}
			for _, k := range options {
				ends[j] = k
				if !walk(j + 1) {
					return false
				}
			}
			return true
		}
		walk(0)
	}
}

// combinations yields every ascending k-subset of [0, n).
func combinations(n, k int) func(yield func([]int) bool) {
	return func(yield func([]int) bool) {
		if k <= 0 || k > n {
			return
		}
		idx := make([]int, k)
		for i := range idx {
			idx[i] = i
		}
		for {
			if !yield(slices.Clone(idx)) {
				return
			}
			i := k - 1
			for i >= 0 && idx[i] == n-k+i {
				i--
			}
			if i < 0 {
				return
			}
			idx[i]++
			for j := i + 1; j < k; j++ {
				idx[j] = idx[j-1] + 1
			}
		}
	}
}
