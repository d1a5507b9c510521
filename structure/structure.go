// Package structure models glycans as rooted directed acyclic graphs of
// monosaccharide residues.
//
// A Structure exclusively owns its residues in an arena addressed by stable
// integer indices; linkages are index pairs. Read operations never mutate
// the structure, so a built structure can be shared between goroutines.
package structure

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/nasdf/glyco/composition"
)

var (
	// ErrMalformedStructure is returned when a structure violates a
	// structural precondition.
	ErrMalformedStructure = errors.New("malformed structure")
	// ErrCycle is returned when a linkage would close a cycle.
	ErrCycle = errors.New("linkage would create a cycle")
)

// Anomer is the anomeric configuration of a glycosidic bond.
type Anomer uint8

const (
	AnomerUnknown Anomer = iota
	AnomerAlpha
	AnomerBeta
)

func (a Anomer) String() string {
	switch a {
	case AnomerAlpha:
		return "a"
	case AnomerBeta:
		return "b"
	default:
		return "?"
	}
}

// ParseAnomer returns the anomer for the given short name.
func ParseAnomer(s string) (Anomer, error) {
	switch s {
	case "a":
		return AnomerAlpha, nil
	case "b":
		return AnomerBeta, nil
	case "?", "":
		return AnomerUnknown, nil
	default:
		return AnomerUnknown, fmt.Errorf("invalid anomer %q", s)
	}
}

// Bond describes the attachment of a glycosidic linkage.
type Bond struct {
	ParentPosition int
	ChildPosition  int
	Anomer         Anomer
}

func (b Bond) String() string {
	return fmt.Sprintf("%s%d-%d", b.Anomer, b.ChildPosition, b.ParentPosition)
}

// ParseBond reads a bond written as anomer, child position and parent
// position, for example "b1-4". The anomer may be omitted.
func ParseBond(s string) (Bond, error) {
	var b Bond
	rest := s
	if rest != "" && (rest[0] < '0' || rest[0] > '9') {
		anomer, err := ParseAnomer(rest[:1])
		if err != nil {
			return Bond{}, err
		}
		b.Anomer = anomer
		rest = rest[1:]
	}
	child, parent, ok := strings.Cut(rest, "-")
	if !ok {
		return Bond{}, fmt.Errorf("invalid bond %q", s)
	}
	var err error
	if b.ChildPosition, err = strconv.Atoi(child); err != nil {
		return Bond{}, fmt.Errorf("invalid bond %q: %w", s, err)
	}
	if b.ParentPosition, err = strconv.Atoi(parent); err != nil {
		return Bond{}, fmt.Errorf("invalid bond %q: %w", s, err)
	}
	return b, nil
}

// Linkage is a directed edge from a parent residue to a child residue.
type Linkage struct {
	Parent int
	Child  int
	Bond
}

// Structure is a rooted DAG of residues.
type Structure struct {
	nodes    []Node
	locals   []composition.Composition
	links    []Linkage
	children [][]int
	parents  [][]int
	root     int
	total    composition.Composition
}

// New returns a structure containing only the given root residue.
func New(root Node) (*Structure, error) {
	s := &Structure{}
	if _, err := s.addNode(root); err != nil {
		return nil, err
	}
	s.refresh()
	return s, nil
}

// FromParts builds a structure from an arena of nodes and linkages.
//
// Every node must be reachable from root and the linkages must not form a
// cycle.
func FromParts(nodes []Node, root int, links []Linkage) (*Structure, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: no residues", ErrMalformedStructure)
	}
	if root < 0 || root >= len(nodes) {
		return nil, fmt.Errorf("%w: root index %d out of range", ErrMalformedStructure, root)
	}
	s := &Structure{root: root}
	for _, n := range nodes {
		if _, err := s.addNode(n); err != nil {
			return nil, err
		}
	}
	for _, l := range links {
		if err := s.Connect(l.Parent, l.Child, l.Bond); err != nil {
			return nil, err
		}
	}
	if reached := len(s.reachable(s.root)); reached != len(nodes) {
		return nil, fmt.Errorf("%w: %d of %d residues reachable from root", ErrMalformedStructure, reached, len(nodes))
	}
	s.refresh()
	return s, nil
}

func (s *Structure) addNode(n Node) (int, error) {
	n = n.normalize()
	local, err := n.Composition()
	if err != nil {
		return 0, err
	}
	s.nodes = append(s.nodes, n)
	s.locals = append(s.locals, local)
	s.children = append(s.children, nil)
	s.parents = append(s.parents, nil)
	return len(s.nodes) - 1, nil
}

// Add attaches a new residue to parent and returns the index of the new residue.
func (s *Structure) Add(parent int, bond Bond, n Node) (int, error) {
	if !s.valid(parent) {
		return 0, fmt.Errorf("%w: parent index %d out of range", ErrMalformedStructure, parent)
	}
	if err := s.checkPosition(parent, bond.ParentPosition); err != nil {
		return 0, err
	}
	child, err := s.addNode(n)
	if err != nil {
		return 0, err
	}
	s.link(Linkage{Parent: parent, Child: child, Bond: bond})
	s.refresh()
	return child, nil
}

// Connect adds a linkage between two existing residues, giving child an
// additional parent.
func (s *Structure) Connect(parent, child int, bond Bond) error {
	if !s.valid(parent) || !s.valid(child) {
		return fmt.Errorf("%w: linkage %d->%d out of range", ErrMalformedStructure, parent, child)
	}
	if parent == child || s.reachable(child)[parent] {
		return fmt.Errorf("%w: %d->%d", ErrCycle, parent, child)
	}
	if err := s.checkPosition(parent, bond.ParentPosition); err != nil {
		return err
	}
	s.link(Linkage{Parent: parent, Child: child, Bond: bond})
	s.refresh()
	return nil
}

// checkPosition fails if a known attachment position on parent is taken.
func (s *Structure) checkPosition(parent, position int) error {
	if position <= 0 {
		return nil
	}
	for _, li := range s.children[parent] {
		if s.links[li].ParentPosition == position {
			return fmt.Errorf("%w: position %d of residue %d is occupied", ErrMalformedStructure, position, parent)
		}
	}
	for _, sub := range s.nodes[parent].Substituents {
		if sub.Position == position {
			return fmt.Errorf("%w: position %d of residue %d is occupied", ErrMalformedStructure, position, parent)
		}
	}
	return nil
}

func (s *Structure) link(l Linkage) {
	s.links = append(s.links, l)
	li := len(s.links) - 1
	s.children[l.Parent] = append(s.children[l.Parent], li)
	s.parents[l.Child] = append(s.parents[l.Child], li)
	slices.SortStableFunc(s.children[l.Parent], func(a, b int) int {
		return s.links[a].ParentPosition - s.links[b].ParentPosition
	})
}

// refresh recomputes the cached total composition.
func (s *Structure) refresh() {
	total := composition.Composition{}
	s.Walk(func(i int) bool {
		total = total.Add(s.locals[i])
		return true
	})
	s.total = total
}

func (s *Structure) valid(i int) bool {
	return s != nil && i >= 0 && i < len(s.nodes)
}

// reachable returns the set of residues reachable from start, including start.
func (s *Structure) reachable(start int) map[int]bool {
	seen := map[int]bool{start: true}
	stack := []int{start}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, li := range s.children[i] {
			c := s.links[li].Child
			if !seen[c] {
				seen[c] = true
				stack = append(stack, c)
			}
		}
	}
	return seen
}

// Len returns the number of residues in the structure.
func (s *Structure) Len() int {
	if s == nil {
		return 0
	}
	return len(s.nodes)
}

// Root returns the index of the root residue.
func (s *Structure) Root() int {
	return s.root
}

// Node returns the residue at index i.
func (s *Structure) Node(i int) Node {
	n := s.nodes[i]
	n.Substituents = slices.Clone(n.Substituents)
	return n
}

// Composition returns the local composition of the residue at index i.
func (s *Structure) Composition(i int) composition.Composition {
	return s.locals[i].Clone()
}

// Linkages returns all linkages in insertion order.
func (s *Structure) Linkages() []Linkage {
	return slices.Clone(s.links)
}

// Children returns the linkages leaving residue i ordered by parent position.
func (s *Structure) Children(i int) []Linkage {
	out := make([]Linkage, len(s.children[i]))
	for j, li := range s.children[i] {
		out[j] = s.links[li]
	}
	return out
}

// Parents returns the linkages entering residue i.
func (s *Structure) Parents(i int) []Linkage {
	out := make([]Linkage, len(s.parents[i]))
	for j, li := range s.parents[i] {
		out[j] = s.links[li]
	}
	return out
}

// Walk visits every residue reachable from the root exactly once in
// depth-first order, children in ascending parent position. Walk stops
// when fn returns false.
func (s *Structure) Walk(fn func(i int) bool) {
	if s.Len() == 0 {
		return
	}
	visited := make([]bool, len(s.nodes))
	stack := []int{s.root}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[i] {
			continue
		}
		visited[i] = true
		if !fn(i) {
			return
		}
		kids := s.children[i]
		for j := len(kids) - 1; j >= 0; j-- {
			if c := s.links[kids[j]].Child; !visited[c] {
				stack = append(stack, c)
			}
		}
	}
}

// Order returns the residue indices in Walk order.
func (s *Structure) Order() []int {
	order := make([]int, 0, s.Len())
	s.Walk(func(i int) bool {
		order = append(order, i)
		return true
	})
	return order
}

// TotalComposition returns the sum of all residue compositions.
func (s *Structure) TotalComposition() composition.Composition {
	return s.total.Clone()
}

// ReducingEnd is the composition added to the residue sum to get the mass of
// the free glycan.
var ReducingEnd = composition.Water

// TotalMass returns the mass of the free glycan.
func (s *Structure) TotalMass() (float64, error) {
	return s.MassWith(ReducingEnd)
}

// MassWith returns the residue mass plus the given reducing end adjustment.
func (s *Structure) MassWith(reducingEnd composition.Composition) (float64, error) {
	return s.total.Add(reducingEnd).Mass()
}

// CanonicalKey returns a string that is equal for two structures exactly
// when they have the same residues connected the same way, independent of
// the order in which siblings were added.
//
// Residues are numbered from zero in the order the key spells them out. A
// residue with several parents is spelled out at its first visit and
// written as @n, its number, at every later visit.
func (s *Structure) CanonicalKey() string {
	if s.Len() == 0 {
		return ""
	}
	k := newKeyer(s)
	if !k.reaches(s.root) {
		return k.tree(s.root)
	}
	results := k.encode(s.root, keyState{seen: map[int]int{}})
	best := results[0].key
	for _, r := range results[1:] {
		best = min(best, r.key)
	}
	return best
}

// keyer builds canonical keys. Siblings are visited in the order of their
// unfolded tree encodings; only ties between siblings that lead to a shared
// residue are enumerated, since those are the only ones that change the
// numbering.
type keyer struct {
	s       *Structure
	trees   map[int]string
	shared  map[int]bool
	reached map[int]bool
}

type keyState struct {
	next int
	seen map[int]int
}

func (st keyState) clone() keyState {
	return keyState{next: st.next, seen: maps.Clone(st.seen)}
}

func (st keyState) signature() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(st.next))
	for _, i := range slices.Sorted(maps.Keys(st.seen)) {
		fmt.Fprintf(&b, ",%d=%d", i, st.seen[i])
	}
	return b.String()
}

type keyResult struct {
	key string
	st  keyState
}

func newKeyer(s *Structure) *keyer {
	k := &keyer{
		s:       s,
		trees:   make(map[int]string, len(s.nodes)),
		shared:  make(map[int]bool),
		reached: make(map[int]bool, len(s.nodes)),
	}
	for i := range s.nodes {
		if len(s.parents[i]) > 1 {
			k.shared[i] = true
		}
	}
	return k
}

// tree returns the encoding of the subtree below i with shared residues
// unfolded under each parent.
func (k *keyer) tree(i int) string {
	if key, ok := k.trees[i]; ok {
		return key
	}
	kids := make([]string, 0, len(k.s.children[i]))
	for _, li := range k.s.children[i] {
		kids = append(kids, k.edge(li))
	}
	slices.Sort(kids)
	key := k.s.nodes[i].Label()
	if len(kids) > 0 {
		key += "{" + strings.Join(kids, ",") + "}"
	}
	k.trees[i] = key
	return key
}

func (k *keyer) edge(li int) string {
	l := k.s.links[li]
	return l.Bond.String() + ":" + k.tree(l.Child)
}

// reaches returns true if a shared residue is reachable from i, including i.
func (k *keyer) reaches(i int) bool {
	if v, ok := k.reached[i]; ok {
		return v
	}
	v := k.shared[i]
	for _, li := range k.s.children[i] {
		if k.reaches(k.s.links[li].Child) {
			v = true
		}
	}
	k.reached[i] = v
	return v
}

// orders returns the sibling visit orders of residue i.
func (k *keyer) orders(i int) [][]int {
	edges := slices.Clone(k.s.children[i])
	slices.SortStableFunc(edges, func(a, b int) int {
		return strings.Compare(k.edge(a), k.edge(b))
	})
	orders := [][]int{nil}
	for start := 0; start < len(edges); {
		end := start + 1
		for end < len(edges) && k.edge(edges[end]) == k.edge(edges[start]) {
			end++
		}
		group := edges[start:end]
		choices := [][]int{group}
		if len(group) > 1 && k.reaches(k.s.links[group[0]].Child) {
			choices = permutations(group)
		}
		var next [][]int
		for _, o := range orders {
			for _, c := range choices {
				next = append(next, append(slices.Clone(o), c...))
			}
		}
		orders = next
		start = end
	}
	return orders
}

// encode returns every distinct key of the subtree below i together with
// the numbering it leaves behind.
func (k *keyer) encode(i int, st keyState) []keyResult {
	if n, ok := st.seen[i]; ok {
		return []keyResult{{key: "@" + strconv.Itoa(n), st: st}}
	}
	st = st.clone()
	if k.shared[i] {
		st.seen[i] = st.next
	}
	st.next++
	label := k.s.nodes[i].Label()

	type partial struct {
		parts []string
		st    keyState
	}
	var out []keyResult
	dedup := make(map[string]bool)
	for _, order := range k.orders(i) {
		partials := []partial{{st: st}}
		for _, li := range order {
			l := k.s.links[li]
			var next []partial
			for _, p := range partials {
				for _, r := range k.encode(l.Child, p.st) {
					parts := append(slices.Clone(p.parts), l.Bond.String()+":"+r.key)
					next = append(next, partial{parts: parts, st: r.st})
				}
			}
			partials = next
		}
		for _, p := range partials {
			key := label
			if len(p.parts) > 0 {
				key += "{" + strings.Join(p.parts, ",") + "}"
			}
			id := key + "|" + p.st.signature()
			if dedup[id] {
				continue
			}
			dedup[id] = true
			out = append(out, keyResult{key: key, st: p.st})
		}
	}
	return out
}

func permutations(items []int) [][]int {
	if len(items) <= 1 {
		return [][]int{slices.Clone(items)}
	}
	var out [][]int
	for i := range items {
		rest := append(slices.Clone(items[:i]), items[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]int{items[i]}, p...))
		}
	}
	return out
}

// Clone returns a deep copy of the structure.
func (s *Structure) Clone() *Structure {
	out := &Structure{
		nodes:    make([]Node, len(s.nodes)),
		locals:   make([]composition.Composition, len(s.locals)),
		links:    slices.Clone(s.links),
		children: make([][]int, len(s.children)),
		parents:  make([][]int, len(s.parents)),
		root:     s.root,
		total:    s.total.Clone(),
	}
	for i := range s.nodes {
		out.nodes[i] = s.Node(i)
		out.locals[i] = s.locals[i].Clone()
		out.children[i] = slices.Clone(s.children[i])
		out.parents[i] = slices.Clone(s.parents[i])
	}
	return out
}

// String returns the canonical key.
func (s *Structure) String() string {
	return s.CanonicalKey()
}
