package structure

import (
	"errors"
	"testing"

	"github.com/nasdf/glyco/composition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	glcNAc = NewNode("Glc", Substituent{Position: 2, Name: "n_acetyl"})
	man    = NewNode("Man")
)

// nglycanCore builds Man3GlcNAc2 adding the antenna in the given order.
func nglycanCore(t *testing.T, sixFirst bool) *Structure {
	s, err := New(glcNAc)
	require.NoError(t, err)

	chito, err := s.Add(s.Root(), Bond{ParentPosition: 4, ChildPosition: 1, Anomer: AnomerBeta}, glcNAc)
	require.NoError(t, err)
	core, err := s.Add(chito, Bond{ParentPosition: 4, ChildPosition: 1, Anomer: AnomerBeta}, man)
	require.NoError(t, err)

	bonds := []Bond{
		{ParentPosition: 3, ChildPosition: 1, Anomer: AnomerAlpha},
		{ParentPosition: 6, ChildPosition: 1, Anomer: AnomerAlpha},
	}
	if sixFirst {
		bonds[0], bonds[1] = bonds[1], bonds[0]
	}
	for _, b := range bonds {
		_, err := s.Add(core, b, man)
		require.NoError(t, err)
	}
	return s
}

func TestTotalMass(t *testing.T) {
	s := nglycanCore(t, false)

	assert.Equal(t, "C34H56N2O25", s.TotalComposition().String())

	mass, err := s.TotalMass()
	require.NoError(t, err)
	assert.InDelta(t, 910.3278, mass, 1e-3)
}

func TestCanonicalKeyIgnoresSiblingOrder(t *testing.T) {
	a := nglycanCore(t, false)
	b := nglycanCore(t, true)
	assert.Equal(t, a.CanonicalKey(), b.CanonicalKey())

	c := nglycanCore(t, false)
	_, err := c.Add(c.Root(), Bond{ParentPosition: 6, ChildPosition: 1, Anomer: AnomerAlpha}, NewNode("Fuc"))
	require.NoError(t, err)
	assert.NotEqual(t, a.CanonicalKey(), c.CanonicalKey())
}

func TestCanonicalKeyDistinguishesBonds(t *testing.T) {
	a, err := New(man)
	require.NoError(t, err)
	_, err = a.Add(a.Root(), Bond{ParentPosition: 3, ChildPosition: 1, Anomer: AnomerAlpha}, man)
	require.NoError(t, err)

	b, err := New(man)
	require.NoError(t, err)
	_, err = b.Add(b.Root(), Bond{ParentPosition: 3, ChildPosition: 1, Anomer: AnomerBeta}, man)
	require.NoError(t, err)

	assert.Equal(t, "Man{a1-3:Man}", a.CanonicalKey())
	assert.NotEqual(t, a.CanonicalKey(), b.CanonicalKey())
}

func TestLabelSortsSubstituents(t *testing.T) {
	n := NewNode("Gal", Substituent{Position: 6, Name: "sulfate"}, Substituent{Position: 3, Name: "methyl"})
	assert.Equal(t, "Gal[3:methyl,6:sulfate]", n.Label())

	n.Open = true
	assert.Equal(t, "Gal~o[3:methyl,6:sulfate]", n.Label())
}

func TestWalkOrder(t *testing.T) {
	s := nglycanCore(t, true)

	var bases []string
	var positions []int
	s.Walk(func(i int) bool {
		bases = append(bases, s.Node(i).Base)
		if parents := s.Parents(i); len(parents) > 0 {
			positions = append(positions, parents[0].ParentPosition)
		}
		return true
	})
	assert.Equal(t, []string{"Glc", "Glc", "Man", "Man", "Man"}, bases)
	assert.Equal(t, []int{4, 4, 3, 6}, positions)
}

func TestSharedChildCountedOnce(t *testing.T) {
	s, err := New(man)
	require.NoError(t, err)
	left, err := s.Add(s.Root(), Bond{ParentPosition: 3, ChildPosition: 1}, man)
	require.NoError(t, err)
	right, err := s.Add(s.Root(), Bond{ParentPosition: 6, ChildPosition: 1}, man)
	require.NoError(t, err)
	shared, err := s.Add(left, Bond{ParentPosition: 2, ChildPosition: 1}, glcNAc)
	require.NoError(t, err)

	before := s.TotalComposition()
	require.NoError(t, s.Connect(right, shared, Bond{ParentPosition: 2, ChildPosition: 1}))
	assert.True(t, before.Equal(s.TotalComposition()))
	assert.Len(t, s.Parents(shared), 2)
	assert.Len(t, s.Order(), 4)
}

// branchedFucose builds Glc carrying Man a1-3 and Gal b1-4 that both hold
// one Fuc a1-2. When shared is false each branch gets its own Fuc.
func branchedFucose(t *testing.T, shared, galFirst bool) *Structure {
	s, err := New(NewNode("Glc"))
	require.NoError(t, err)
	manBond := Bond{ParentPosition: 3, ChildPosition: 1, Anomer: AnomerAlpha}
	galBond := Bond{ParentPosition: 4, ChildPosition: 1, Anomer: AnomerBeta}
	fucBond := Bond{ParentPosition: 2, ChildPosition: 1, Anomer: AnomerAlpha}

	var first, second int
	if galFirst {
		first, err = s.Add(s.Root(), galBond, NewNode("Gal"))
		require.NoError(t, err)
		second, err = s.Add(s.Root(), manBond, man)
		require.NoError(t, err)
	} else {
		first, err = s.Add(s.Root(), manBond, man)
		require.NoError(t, err)
		second, err = s.Add(s.Root(), galBond, NewNode("Gal"))
		require.NoError(t, err)
	}
	fuc, err := s.Add(first, fucBond, NewNode("Fuc"))
	require.NoError(t, err)
	if shared {
		require.NoError(t, s.Connect(second, fuc, fucBond))
	} else {
		_, err = s.Add(second, fucBond, NewNode("Fuc"))
		require.NoError(t, err)
	}
	return s
}

func TestCanonicalKeySharedResidue(t *testing.T) {
	dag := branchedFucose(t, true, false)
	tree := branchedFucose(t, false, false)

	assert.Equal(t, 4, dag.Len())
	assert.Equal(t, 5, tree.Len())
	assert.NotEqual(t, dag.CanonicalKey(), tree.CanonicalKey())
	assert.Equal(t, "Glc{a1-3:Man{a1-2:Fuc},b1-4:Gal{a1-2:@2}}", dag.CanonicalKey())
	assert.Equal(t, "Glc{a1-3:Man{a1-2:Fuc},b1-4:Gal{a1-2:Fuc}}", tree.CanonicalKey())

	assert.Equal(t, dag.CanonicalKey(), branchedFucose(t, true, true).CanonicalKey())
}

func TestCanonicalKeySharedResidueTiedSiblings(t *testing.T) {
	tied := Bond{ChildPosition: 1}
	fucBond := Bond{ParentPosition: 2, ChildPosition: 1, Anomer: AnomerAlpha}

	// both Man branches look alike until the root also holds one of the Fuc
	build := func(sharedFirst bool) *Structure {
		s, err := New(NewNode("Glc"))
		require.NoError(t, err)
		a, err := s.Add(s.Root(), tied, man)
		require.NoError(t, err)
		b, err := s.Add(s.Root(), tied, man)
		require.NoError(t, err)
		fa, err := s.Add(a, fucBond, NewNode("Fuc"))
		require.NoError(t, err)
		fb, err := s.Add(b, fucBond, NewNode("Fuc"))
		require.NoError(t, err)
		shared := fb
		if sharedFirst {
			shared = fa
		}
		require.NoError(t, s.Connect(s.Root(), shared, Bond{ParentPosition: 6, ChildPosition: 1, Anomer: AnomerAlpha}))
		return s
	}

	expect := "Glc{?1-0:Man{a1-2:Fuc},?1-0:Man{a1-2:Fuc},a1-6:@2}"
	assert.Equal(t, expect, build(true).CanonicalKey())
	assert.Equal(t, expect, build(false).CanonicalKey())
}

func TestConnectRejectsCycle(t *testing.T) {
	s, err := New(man)
	require.NoError(t, err)
	child, err := s.Add(s.Root(), Bond{ParentPosition: 3, ChildPosition: 1}, man)
	require.NoError(t, err)

	err = s.Connect(child, s.Root(), Bond{ParentPosition: 2, ChildPosition: 1})
	assert.True(t, errors.Is(err, ErrCycle))

	err = s.Connect(child, child, Bond{ParentPosition: 2, ChildPosition: 1})
	assert.True(t, errors.Is(err, ErrCycle))
}

func TestAddRejectsOccupiedPosition(t *testing.T) {
	s, err := New(glcNAc)
	require.NoError(t, err)

	_, err = s.Add(s.Root(), Bond{ParentPosition: 2, ChildPosition: 1}, man)
	assert.True(t, errors.Is(err, ErrMalformedStructure))

	_, err = s.Add(s.Root(), Bond{ParentPosition: 4, ChildPosition: 1}, man)
	require.NoError(t, err)
	_, err = s.Add(s.Root(), Bond{ParentPosition: 4, ChildPosition: 1}, man)
	assert.True(t, errors.Is(err, ErrMalformedStructure))
}

func TestUnknownResidue(t *testing.T) {
	_, err := New(NewNode("Unobtainium"))
	assert.True(t, errors.Is(err, ErrMalformedStructure))

	_, err = New(NewNode("Glc", Substituent{Position: 2, Name: "glitter"}))
	assert.True(t, errors.Is(err, ErrMalformedStructure))
}

func TestFromParts(t *testing.T) {
	orig := nglycanCore(t, false)

	nodes := make([]Node, orig.Len())
	for i := range nodes {
		nodes[i] = orig.Node(i)
	}
	rebuilt, err := FromParts(nodes, orig.Root(), orig.Linkages())
	require.NoError(t, err)
	assert.Equal(t, orig.CanonicalKey(), rebuilt.CanonicalKey())
	assert.True(t, orig.TotalComposition().Equal(rebuilt.TotalComposition()))

	_, err = FromParts(nodes, 0, orig.Linkages()[:2])
	assert.True(t, errors.Is(err, ErrMalformedStructure))

	_, err = FromParts(nil, 0, nil)
	assert.True(t, errors.Is(err, ErrMalformedStructure))

	_, err = FromParts(nodes, len(nodes), nil)
	assert.True(t, errors.Is(err, ErrMalformedStructure))
}

func TestCloneIsIndependent(t *testing.T) {
	s := nglycanCore(t, false)
	c := s.Clone()
	_, err := c.Add(c.Root(), Bond{ParentPosition: 6, ChildPosition: 1, Anomer: AnomerAlpha}, NewNode("Fuc"))
	require.NoError(t, err)

	assert.Equal(t, 5, s.Len())
	assert.Equal(t, 6, c.Len())
	assert.NotEqual(t, s.CanonicalKey(), c.CanonicalKey())
}

const hexResidue = 162.0528234185

func TestFragmentsSingleCleavage(t *testing.T) {
	s, err := New(NewNode("Hex"))
	require.NoError(t, err)
	_, err = s.Add(s.Root(), Bond{ParentPosition: 4, ChildPosition: 1, Anomer: AnomerBeta}, NewNode("Hex"))
	require.NoError(t, err)

	frags, err := s.Fragments(FragmentOptions{})
	require.NoError(t, err)

	water, err := composition.Water.Mass()
	require.NoError(t, err)

	expect := map[string]float64{
		"B1": hexResidue,
		"C1": hexResidue + water,
		"Y1": hexResidue + water,
		"Z1": hexResidue,
	}
	require.Len(t, frags, len(expect))
	for _, f := range frags {
		assert.InDelta(t, expect[f.Name], f.Mass, 1e-6, f.Name)
		assert.Equal(t, 1, f.Cleavages)
		assert.Len(t, f.Residues, 1)
	}
}

func TestFragmentsInternal(t *testing.T) {
	s, err := New(NewNode("Hex"))
	require.NoError(t, err)
	mid, err := s.Add(s.Root(), Bond{ParentPosition: 4, ChildPosition: 1}, NewNode("Hex"))
	require.NoError(t, err)
	_, err = s.Add(mid, Bond{ParentPosition: 4, ChildPosition: 1}, NewNode("Hex"))
	require.NoError(t, err)

	frags, err := s.Fragments(FragmentOptions{MaxCleavages: 2})
	require.NoError(t, err)
	assert.Len(t, frags, 12)

	var internal []string
	for _, f := range frags {
		if f.Cleavages == 2 {
			internal = append(internal, f.Name)
			assert.Equal(t, []int{mid}, f.Residues)
		}
	}
	assert.Equal(t, []string{"B1-Y2", "B1-Z2", "C1-Y2", "C1-Z2"}, internal)
}

func TestFragmentsKinds(t *testing.T) {
	s := nglycanCore(t, false)

	kinds, err := ParseIonKinds("by")
	require.NoError(t, err)
	frags, err := s.Fragments(FragmentOptions{Kinds: kinds})
	require.NoError(t, err)

	// two ions per linkage
	assert.Len(t, frags, 8)
	for _, f := range frags {
		assert.Contains(t, []byte{'B', 'Y'}, f.Name[0])
	}

	_, err = ParseIonKinds("BQ")
	assert.Error(t, err)
}

func TestParseBond(t *testing.T) {
	b, err := ParseBond("b1-4")
	require.NoError(t, err)
	assert.Equal(t, Bond{ParentPosition: 4, ChildPosition: 1, Anomer: AnomerBeta}, b)
	assert.Equal(t, "b1-4", b.String())

	b, err = ParseBond("2-6")
	require.NoError(t, err)
	assert.Equal(t, Bond{ParentPosition: 6, ChildPosition: 2}, b)

	for _, s := range []string{"", "b1", "x1-4", "a1-", "a-3"} {
		_, err := ParseBond(s)
		assert.Error(t, err, s)
	}
}
