package glyco

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/nasdf/glyco/config"
	"github.com/nasdf/glyco/core"
	"github.com/nasdf/glyco/match"
	"github.com/nasdf/glyco/storage"
	"github.com/nasdf/glyco/structure"
	"github.com/nasdf/glyco/test"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlyco(t *testing.T) {
	paths, err := test.TestCasePaths()
	require.NoError(t, err, "failed to walk test cases dir")

	for _, path := range paths {
		testCase, err := test.LoadTestCase(path)
		require.NoError(t, err, "failed to load test case %s", path)

		t.Run(path, func(st *testing.T) {
			st.Parallel()

			ctx := context.Background()
			store, err := Open(ctx, storage.NewMemory(), core.Options{})
			require.NoError(st, err, "failed to open store")

			for i, r := range testCase.Records {
				s, err := r.Structure.Build()
				require.NoError(st, err, "record %d", i+1)

				rec, err := store.Create(ctx, s, r.Flags...)
				require.NoError(st, err, "record %d", i+1)
				require.Equal(st, int64(i+1), rec.ID)

				if r.Mass != nil {
					err = store.Update(ctx, rec, core.MassParams{Override: r.Mass})
					require.NoError(st, err, "record %d", i+1)
				}
			}

			for _, q := range testCase.Queries {
				it, err := store.Find(ctx, q.Filter)
				require.NoError(st, err, q.Filter)

				records, err := it.Collect(ctx)
				require.NoError(st, err, q.Filter)
				assert.Equal(st, q.IDs, recordIDs(records), q.Filter)
			}

			for i, q := range testCase.Subtrees {
				s, err := q.Query.Build()
				require.NoError(st, err, "subtree %d", i)

				ids, err := FindSubtrees(ctx, store, s, SubtreeParams{Filter: q.Filter, Workers: 4})
				require.NoError(st, err, "subtree %d", i)
				assert.Equal(st, q.IDs, nonNil(ids), "subtree %d", i)
			}

			for i, m := range testCase.Matches {
				res, err := match.Match(m.Candidate(), m.MatchPeaks(), match.Params{Tolerance: m.Tolerance})
				require.NoError(st, err, "match %d", i)

				groups := make([]float64, 0, len(res.Groups))
				for _, g := range res.Groups {
					groups = append(groups, g.Mass)
				}
				assert.Equal(st, m.Groups, nonNil(groups), "match %d", i)
				assert.Equal(st, m.Observed, res.Observed, "match %d", i)
				assert.Equal(st, m.Expected, res.Expected, "match %d", i)
				assert.InDelta(st, m.Coverage, res.Coverage, 1e-12, "match %d", i)
			}
		})
	}
}

func recordIDs(records []*core.Record) []int64 {
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}

// nonNil lets an empty expectation in yaml compare equal to no results.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

var beta14 = structure.Bond{ParentPosition: 4, ChildPosition: 1, Anomer: structure.AnomerBeta}

func disaccharide(t *testing.T, root, child string, bond structure.Bond) *structure.Structure {
	s, err := structure.New(structure.NewNode(root))
	require.NoError(t, err)
	_, err = s.Add(s.Root(), bond, structure.NewNode(child))
	require.NoError(t, err)
	return s
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, storage.NewMemory(), core.Options{})
	require.NoError(t, err)

	lactose, err := store.Create(ctx, disaccharide(t, "Glc", "Gal", beta14))
	require.NoError(t, err)
	_, err = store.Create(ctx, disaccharide(t, "Man", "Man", structure.Bond{ParentPosition: 3, ChildPosition: 1, Anomer: structure.AnomerAlpha}))
	require.NoError(t, err)
	_, err = store.Create(ctx, disaccharide(t, "Glc", "Fuc", beta14))
	require.NoError(t, err)

	// a single residue inside the window has nothing to cleave
	single, err := structure.New(structure.NewNode("Glc"))
	require.NoError(t, err)
	rec, err := store.Create(ctx, single)
	require.NoError(t, err)
	err = store.Update(ctx, rec, core.MassParams{Override: &lactose.Mass})
	require.NoError(t, err)

	frags, err := match.FromStructure(lactose.Structure, structure.FragmentOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, frags)

	p := Precursor{ScanID: 11, Mass: lactose.Mass}
	for i, f := range frags {
		p.Peaks = append(p.Peaks, match.Peak{ScanID: i + 1, Mass: f.Mass, Intensity: 100, Charge: 1})
	}

	hits, err := Search(ctx, store, p, SearchParams{MS1Tolerance: 10, MS2Tolerance: 10, Workers: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, int64(1), hits[0].Record.ID)
	assert.Equal(t, int64(2), hits[1].Record.ID)
	assert.Equal(t, len(frags), hits[0].Result.ObservedFragments)
	assert.Len(t, hits[0].Result.Groups, hits[0].Result.Observed)
	assert.Equal(t, 0.0, hits[0].Result.PrecursorPPMError)

	_, err = Search(ctx, store, p, SearchParams{MS2Tolerance: 10})
	assert.Error(t, err)
}

func TestFindSubtreesEmptyQuery(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, storage.NewMemory(), core.Options{})
	require.NoError(t, err)

	_, err = FindSubtrees(ctx, store, &structure.Structure{}, SubtreeParams{})
	assert.True(t, errors.Is(err, structure.ErrMalformedStructure))
}

func TestFindSubtreesInvalidFilter(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, storage.NewMemory(), core.Options{})
	require.NoError(t, err)

	q, err := structure.New(structure.NewNode("Man"))
	require.NoError(t, err)

	_, err = FindSubtrees(ctx, store, q, SubtreeParams{Filter: `{weight: {eq: 1}}`})
	assert.Error(t, err)
}

func TestOpenConfig(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	db, err := OpenConfig(ctx, cfg, core.Options{Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, cfg, db.Config())

	lactose, err := db.Create(ctx, disaccharide(t, "Glc", "Gal", beta14), "milk")
	require.NoError(t, err)

	q, err := structure.New(structure.NewNode("Gal"))
	require.NoError(t, err)
	ids, err := db.FindSubtrees(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []int64{lactose.ID}, ids)

	params, err := db.SearchParams()
	require.NoError(t, err)
	assert.Equal(t, cfg.Workers, params.Workers)
	assert.Len(t, params.Fragments.Kinds, 4)

	hits, err := db.Search(ctx, Precursor{ScanID: 1, Mass: lactose.Mass})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 0, hits[0].Result.Observed)
}

func TestOpenConfigInvalid(t *testing.T) {
	cfg := config.Default()
	cfg.Workers = 0

	_, err := OpenConfig(context.Background(), cfg, core.Options{})
	assert.Error(t, err)
}
