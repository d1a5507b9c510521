package match

import (
	"errors"
	"math"
	"testing"

	"github.com/nasdf/glyco/structure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchSinglePeak(t *testing.T) {
	c := Candidate{
		Fragments: []Fragment{
			{Mass: 200.0, Keys: []string{"y3"}},
			{Mass: 100.0, Keys: []string{"b2"}},
		},
		PPMErrors: []float64{1.5, 3},
	}
	peaks := []Peak{{ScanID: 1, Mass: 100.0009, Intensity: 50, Charge: 1}}

	res, err := Match(c, peaks, Params{Tolerance: 10})
	require.NoError(t, err)

	require.Len(t, res.Groups, 1)
	g := res.Groups[0]
	assert.Equal(t, 100.0, g.Mass)
	assert.Equal(t, []string{"b2"}, g.Keys)
	require.Len(t, g.Scans, 1)
	assert.Equal(t, 1, g.Scans[0].ScanID)
	assert.Equal(t, peaks[0], g.Scans[0].Best.Peak)
	assert.InDelta(t, 9.0, g.Scans[0].Best.PPMError, 1e-6)

	assert.Equal(t, 1, res.Observed)
	assert.Equal(t, 2, res.Expected)
	assert.Equal(t, 0.5, res.Coverage)
	assert.Equal(t, 1, res.ObservedFragments)
	assert.Equal(t, 1.5, res.PrecursorPPMError)
}

func TestMatchOutsideTolerance(t *testing.T) {
	c := Candidate{Fragments: []Fragment{{Mass: 100.0, Keys: []string{"b2"}}}}

	res, err := Match(c, []Peak{{ScanID: 1, Mass: 100.0011}}, Params{Tolerance: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Groups)
	assert.Equal(t, 0.0, res.Coverage)

	// the window is relative to the peak mass on both sides
	res, err = Match(c, []Peak{{ScanID: 1, Mass: 99.9991}}, Params{Tolerance: 10})
	require.NoError(t, err)
	assert.Len(t, res.Groups, 1)
}

func TestMatchNoPeaks(t *testing.T) {
	c := Candidate{Fragments: []Fragment{{Mass: 100.0, Keys: []string{"b2"}}}}

	res, err := Match(c, nil, Params{Tolerance: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Groups)
	assert.Equal(t, 0, res.Observed)
	assert.Equal(t, 1, res.Expected)
	assert.Equal(t, 0.0, res.PrecursorPPMError)
}

func TestMatchInvalidCandidate(t *testing.T) {
	_, err := Match(Candidate{}, []Peak{{ScanID: 1, Mass: 100}}, Params{Tolerance: 10})
	assert.True(t, errors.Is(err, ErrInvalidCandidate))
}

func TestMatchRejectsNonPositiveFragmentMass(t *testing.T) {
	for _, mass := range []float64{0, -18.0106, math.NaN(), math.Inf(1)} {
		c := Candidate{Fragments: []Fragment{{Mass: mass, Keys: []string{"B1"}}, {Mass: 204.0867, Keys: []string{"Y1"}}}}
		_, err := Match(c, []Peak{{ScanID: 1, Mass: 204.0867}}, Params{Tolerance: 10})
		assert.True(t, errors.Is(err, ErrInvalidCandidate), "mass %v", mass)
	}
}

func TestCollectZeroMass(t *testing.T) {
	groups := Collect([]Fragment{
		{Mass: 0, Keys: []string{"a"}},
		{Mass: 0, Keys: []string{"b"}},
		{Mass: 1e-9, Keys: []string{"c"}},
	}, DefaultGroupTolerance)

	require.Len(t, groups, 2)
	assert.Equal(t, []string{"a", "b"}, groups[0].Keys)
	assert.Equal(t, 1e-9, groups[1].Mass)
}

func TestMatchInvalidParams(t *testing.T) {
	c := Candidate{Fragments: []Fragment{{Mass: 100.0}}}
	for _, p := range []Params{
		{},
		{Tolerance: -1},
		{Tolerance: 1e6},
		{Tolerance: 10, GroupTolerance: -1},
	} {
		_, err := Match(c, nil, p)
		assert.Error(t, err, "%+v", p)
	}
}

func TestMatchKeepsAllObservationsPerScan(t *testing.T) {
	c := Candidate{Fragments: []Fragment{
		{Mass: 300.0, Keys: []string{"y2"}},
		{Mass: 500.0, Keys: []string{"b3"}},
	}}
	peaks := []Peak{
		{ScanID: 7, Mass: 500.003, Intensity: 10, Charge: 2},
		{ScanID: 3, Mass: 499.999, Intensity: 20, Charge: 1},
		{ScanID: 7, Mass: 500.001, Intensity: 30, Charge: 1},
		{ScanID: 7, Mass: 300.0015, Intensity: 5, Charge: 1},
	}

	res, err := Match(c, peaks, Params{Tolerance: 10})
	require.NoError(t, err)
	require.Len(t, res.Groups, 2)

	assert.Equal(t, 300.0, res.Groups[0].Mass)
	assert.Equal(t, 500.0, res.Groups[1].Mass)

	scans := res.Groups[1].Scans
	require.Len(t, scans, 2)
	assert.Equal(t, 3, scans[0].ScanID)
	assert.Equal(t, 7, scans[1].ScanID)
	assert.Len(t, scans[1].Observations, 2)
	assert.Equal(t, 500.001, scans[1].Best.Mass)
	assert.Equal(t, 1.0, res.Coverage)
}

func TestCollectMergesSimilarFragments(t *testing.T) {
	groups := Collect([]Fragment{
		{Mass: 366.1400, Keys: []string{"Y2"}},
		{Mass: 204.0867, Keys: []string{"B1"}},
		{Mass: 366.1400000001, Keys: []string{"B2"}},
		{Mass: 204.0867, Keys: []string{"B1"}},
	}, DefaultGroupTolerance)

	require.Len(t, groups, 2)
	assert.Equal(t, []string{"B1"}, groups[0].Keys)
	assert.Equal(t, 2, groups[0].Fragments)
	assert.Equal(t, []string{"B2", "Y2"}, groups[1].Keys)
	assert.Equal(t, 366.14, groups[1].Mass)
}

func TestCoverageCountsMergedFragments(t *testing.T) {
	c := Candidate{Fragments: []Fragment{
		{Mass: 366.14, Keys: []string{"Y2"}},
		{Mass: 366.14, Keys: []string{"B2"}},
		{Mass: 528.19, Keys: []string{"Y3"}},
	}}

	res, err := Match(c, []Peak{{ScanID: 1, Mass: 366.1401}}, Params{Tolerance: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Observed)
	assert.Equal(t, 3, res.Expected)
	assert.Equal(t, 2, res.ObservedFragments)
	assert.InDelta(t, 1.0/3.0, res.Coverage, 1e-12)
}

func TestFromStructure(t *testing.T) {
	s, err := structure.New(structure.NewNode("Glc"))
	require.NoError(t, err)
	_, err = s.Add(s.Root(), structure.Bond{ParentPosition: 4, ChildPosition: 1, Anomer: structure.AnomerBeta}, structure.NewNode("Gal"))
	require.NoError(t, err)

	frags, err := FromStructure(s, structure.FragmentOptions{MaxCleavages: 1})
	require.NoError(t, err)
	require.NotEmpty(t, frags)

	peaks := make([]Peak, 0, len(frags))
	for i, f := range frags {
		peaks = append(peaks, Peak{ScanID: i + 1, Mass: f.Mass})
	}
	res, err := Match(Candidate{Fragments: frags}, peaks, Params{Tolerance: 10})
	require.NoError(t, err)
	assert.Equal(t, len(frags), res.ObservedFragments)
}

func TestMassConversions(t *testing.T) {
	mass := 1000.0
	for _, z := range []int{1, 2, 3, -2} {
		mz := MassChargeRatio(mass, z)
		assert.InDelta(t, mass, NeutralMass(mz, z), 1e-9)
	}
	assert.InDelta(t, 1001.00727646677, MassChargeRatio(mass, 0), 1e-9)
	assert.InDelta(t, 10.0, PPMError(100.001, 100), 1e-9)
}
