// Package match reconciles the theoretical fragment ions of a candidate
// structure with observed MS2 peaks.
package match

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/nasdf/glyco/composition"
	"github.com/nasdf/glyco/structure"
)

// ErrInvalidCandidate is returned when a candidate has no theoretical fragments.
var ErrInvalidCandidate = errors.New("invalid candidate")

// DefaultGroupTolerance is the relative mass difference under which
// theoretical fragments collapse into one group.
const DefaultGroupTolerance = 2e-8

var validate = validator.New()

// Fragment is a theoretical fragment mass and the keys of the cleavages
// that produce it.
type Fragment struct {
	Mass float64
	Keys []string
}

// Peak is an observed, deconvoluted MS2 peak.
type Peak struct {
	ScanID    int
	Mass      float64
	Intensity float64
	Charge    int
}

// Observation is a peak matched to a fragment group.
type Observation struct {
	Peak
	// PPMError is the deviation of the peak from the group mass in ppm.
	PPMError float64
}

// Candidate is the structure being scored.
type Candidate struct {
	Fragments []Fragment
	// PPMErrors holds the precursor comparisons of the candidate. The first
	// entry is reported as the precursor error.
	PPMErrors []float64
}

// Params controls matching.
type Params struct {
	// Tolerance is the peak matching window in ppm.
	Tolerance float64 `validate:"gt=0,lt=1000000"`
	// GroupTolerance is the relative fragment grouping grid. Zero uses
	// DefaultGroupTolerance.
	GroupTolerance float64 `validate:"gte=0,lt=1"`
}

// Scan holds the observations of one group within one scan.
type Scan struct {
	ScanID       int
	Observations []Observation
	// Best is the observation with the lowest absolute ppm error.
	Best Observation
}

// Group is a set of theoretical fragments sharing one mass.
type Group struct {
	Mass      float64
	Keys      []string
	Fragments int
	Scans     []Scan
}

// Result summarizes a matching run.
type Result struct {
	// Groups holds the fragment groups with at least one observation in
	// ascending mass order.
	Groups []Group
	// Observed is the number of matched groups.
	Observed int
	// Expected is the number of theoretical fragments.
	Expected int
	// Coverage is Observed divided by Expected.
	Coverage float64
	// ObservedFragments is the number of theoretical fragments in matched groups.
	ObservedFragments int
	// PrecursorPPMError is the first precursor error of the candidate.
	PrecursorPPMError float64
}

// Match matches the given peaks against the fragments of the candidate.
func Match(c Candidate, peaks []Peak, params Params) (*Result, error) {
	if err := validate.Struct(params); err != nil {
		return nil, fmt.Errorf("invalid match params: %w", err)
	}
	if len(c.Fragments) == 0 {
		return nil, fmt.Errorf("%w: no theoretical fragments", ErrInvalidCandidate)
	}
	for _, f := range c.Fragments {
		if !(f.Mass > 0) || math.IsInf(f.Mass, 0) {
			return nil, fmt.Errorf("%w: fragment %v has mass %v", ErrInvalidCandidate, f.Keys, f.Mass)
		}
	}
	groupTolerance := params.GroupTolerance
	if groupTolerance == 0 {
		groupTolerance = DefaultGroupTolerance
	}
	groups := Collect(c.Fragments, groupTolerance)
	tolerance := params.Tolerance * 1e-6

	scans := make([]map[int][]Observation, len(groups))
	for _, p := range peaks {
		lo, hi := p.Mass/(1+tolerance), p.Mass/(1-tolerance)
		i, _ := slices.BinarySearchFunc(groups, lo, func(g Group, m float64) int {
			return cmp.Compare(g.Mass, m)
		})
		for ; i < len(groups) && groups[i].Mass <= hi; i++ {
			if scans[i] == nil {
				scans[i] = make(map[int][]Observation)
			}
			obs := Observation{Peak: p, PPMError: PPMError(p.Mass, groups[i].Mass)}
			scans[i][p.ScanID] = append(scans[i][p.ScanID], obs)
		}
	}

	res := &Result{
		Expected: len(c.Fragments),
	}
	for i, g := range groups {
		if len(scans[i]) == 0 {
			continue
		}
		for _, id := range slices.Sorted(maps.Keys(scans[i])) {
			g.Scans = append(g.Scans, newScan(id, scans[i][id]))
		}
		res.Groups = append(res.Groups, g)
		res.ObservedFragments += g.Fragments
	}
	res.Observed = len(res.Groups)
	res.Coverage = float64(res.Observed) / float64(res.Expected)
	if len(c.PPMErrors) > 0 {
		res.PrecursorPPMError = c.PPMErrors[0]
	}
	return res, nil
}

func newScan(id int, obs []Observation) Scan {
	best := obs[0]
	for _, o := range obs[1:] {
		if abs(o.PPMError) < abs(best.PPMError) {
			best = o
		}
	}
	return Scan{ScanID: id, Observations: obs, Best: best}
}

// Collect sorts the given fragments by mass and merges neighbours whose
// relative difference from the first fragment of a group is within the
// given tolerance.
func Collect(fragments []Fragment, tolerance float64) []Group {
	sorted := slices.Clone(fragments)
	slices.SortStableFunc(sorted, func(a, b Fragment) int {
		return cmp.Compare(a.Mass, b.Mass)
	})

	var groups []Group
	for _, f := range sorted {
		if n := len(groups); n > 0 {
			last := &groups[n-1]
			if f.Mass-last.Mass <= tolerance*last.Mass {
				last.Keys = append(last.Keys, f.Keys...)
				last.Fragments++
				continue
			}
		}
		groups = append(groups, Group{
			Mass:      f.Mass,
			Keys:      slices.Clone(f.Keys),
			Fragments: 1,
		})
	}
	for i := range groups {
		slices.Sort(groups[i].Keys)
		groups[i].Keys = slices.Compact(groups[i].Keys)
	}
	return groups
}

// FromStructure returns the theoretical fragments of the given structure,
// keyed by fragment name.
func FromStructure(s *structure.Structure, opts structure.FragmentOptions) ([]Fragment, error) {
	frags, err := s.Fragments(opts)
	if err != nil {
		return nil, err
	}
	out := make([]Fragment, 0, len(frags))
	for _, f := range frags {
		out = append(out, Fragment{Mass: f.Mass, Keys: []string{f.Name}})
	}
	return out, nil
}

// PPMError returns the deviation of observed from theoretical in ppm.
func PPMError(observed, theoretical float64) float64 {
	return (observed - theoretical) / theoretical * 1e6
}

// NeutralMass returns the neutral mass of a protonated ion with the given
// m/z and charge. A zero charge is treated as one.
func NeutralMass(mz float64, charge int) float64 {
	z := chargeState(charge)
	return mz*z - z*composition.Proton
}

// MassChargeRatio returns the m/z of the given neutral mass at the given
// charge. A zero charge is treated as one.
func MassChargeRatio(mass float64, charge int) float64 {
	z := chargeState(charge)
	return (mass + z*composition.Proton) / z
}

func chargeState(charge int) float64 {
	if charge == 0 {
		return 1
	}
	return float64(abs(charge))
}

func abs[T int | float64](v T) T {
	if v < 0 {
		return -v
	}
	return v
}
