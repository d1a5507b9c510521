// Package subtree decides whether one glycan structure occurs inside another.
//
// The search maps query residues to target residues one at a time in query
// walk order and backtracks on failure. Its worst case is exponential in the
// branching factor of the target. Glycans are shallow and narrow so this is
// acceptable in practice; callers that accept untrusted input should bound
// the search with Matcher.MaxSteps.
package subtree

import (
	"errors"
	"fmt"

	"github.com/nasdf/glyco/structure"
)

// ErrSearchLimit is returned when a search exceeds Matcher.MaxSteps.
var ErrSearchLimit = errors.New("subtree search step limit exceeded")

// Matcher runs subtree searches.
type Matcher struct {
	// MaxSteps is the maximum number of candidate assignments tried before
	// the search fails with ErrSearchLimit. Zero means unbounded.
	MaxSteps int
}

// SubtreeOf returns true if query occurs within target using an unbounded
// search.
func SubtreeOf(query, target *structure.Structure) (bool, error) {
	return Matcher{}.SubtreeOf(query, target)
}

// SubtreeOf returns true if there is an injective mapping from the residues
// of query to the residues of target that preserves every query linkage.
//
// The query root may map to any residue of target. Mapped residues must have
// the same base type and ring state, and the query substituents must be
// present on the target residue. Mapped linkages must have identical
// positions and anomers.
func (m Matcher) SubtreeOf(query, target *structure.Structure) (bool, error) {
	if query.Len() == 0 {
		return false, fmt.Errorf("%w: empty query", structure.ErrMalformedStructure)
	}
	if query.Len() > target.Len() {
		return false, nil
	}
	s := newSearch(query, target)
	return s.run(m.MaxSteps)
}

// frame is the search state for one query residue.
type frame struct {
	candidates []int
	next       int
}

type search struct {
	query  *structure.Structure
	target *structure.Structure

	// order is the query walk order and spans holds the linkage that leads
	// to each query residue from an earlier residue in order.
	order []int
	spans []structure.Linkage
	// qlinks are all query linkages touching a residue.
	qlinks [][]structure.Linkage
	// tchildren are the target linkages leaving a residue.
	tchildren [][]structure.Linkage

	mapping []int
	used    []bool
}

func newSearch(query, target *structure.Structure) *search {
	s := &search{
		query:     query,
		target:    target,
		order:     query.Order(),
		spans:     make([]structure.Linkage, query.Len()),
		qlinks:    make([][]structure.Linkage, query.Len()),
		tchildren: make([][]structure.Linkage, target.Len()),
		mapping:   make([]int, query.Len()),
		used:      make([]bool, target.Len()),
	}
	for i := range s.mapping {
		s.mapping[i] = -1
	}
	for i := 0; i < target.Len(); i++ {
		s.tchildren[i] = target.Children(i)
	}

	position := make([]int, query.Len())
	for p, qi := range s.order {
		position[qi] = p
	}
	for _, qi := range s.order {
		parents := query.Parents(qi)
		s.qlinks[qi] = append(parents, query.Children(qi)...)
		for _, l := range parents {
			if position[l.Parent] < position[qi] {
				s.spans[qi] = l
				break
			}
		}
	}
	return s
}

func (s *search) run(maxSteps int) (bool, error) {
	steps := 0
	stack := []frame{{candidates: s.target.Order()}}
	for len(stack) > 0 {
		depth := len(stack) - 1
		qi := s.order[depth]
		if prev := s.mapping[qi]; prev >= 0 {
			s.used[prev] = false
			s.mapping[qi] = -1
		}
		f := &stack[depth]
		if f.next >= len(f.candidates) {
			stack = stack[:depth]
			continue
		}
		ti := f.candidates[f.next]
		f.next++

		steps++
		if maxSteps > 0 && steps > maxSteps {
			return false, fmt.Errorf("%w: %d steps", ErrSearchLimit, maxSteps)
		}
		if s.used[ti] || !s.consistent(qi, ti) {
			continue
		}
		s.mapping[qi] = ti
		s.used[ti] = true
		if depth+1 == len(s.order) {
			return true, nil
		}
		stack = append(stack, frame{candidates: s.candidates(s.order[depth+1])})
	}
	return false, nil
}

// candidates returns the target residues reachable over a linkage matching
// the span of query residue qi.
func (s *search) candidates(qi int) []int {
	span := s.spans[qi]
	var out []int
	for _, l := range s.tchildren[s.mapping[span.Parent]] {
		if l.Bond == span.Bond {
			out = append(out, l.Child)
		}
	}
	return out
}

// consistent returns true if query residue qi can map to target residue ti
// given the residues mapped so far.
func (s *search) consistent(qi, ti int) bool {
	if !compatible(s.query.Node(qi), s.target.Node(ti)) {
		return false
	}
	for _, l := range s.qlinks[qi] {
		parent, child := s.mapping[l.Parent], s.mapping[l.Child]
		if l.Parent == qi {
			parent = ti
		} else {
			child = ti
		}
		if parent < 0 || child < 0 {
			continue
		}
		if !s.hasLinkage(parent, child, l.Bond) {
			return false
		}
	}
	return true
}

func (s *search) hasLinkage(parent, child int, bond structure.Bond) bool {
	for _, l := range s.tchildren[parent] {
		if l.Child == child && l.Bond == bond {
			return true
		}
	}
	return false
}

func compatible(q, t structure.Node) bool {
	return q.Base == t.Base && q.Open == t.Open && t.HasSubstituents(q.Substituents)
}
