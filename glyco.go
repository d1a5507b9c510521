// Package glyco stores glycan structures and scores them against MS2 spectra.
package glyco

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/nasdf/glyco/config"
	"github.com/nasdf/glyco/core"
	"github.com/nasdf/glyco/match"
	"github.com/nasdf/glyco/query"
	"github.com/nasdf/glyco/storage"
	"github.com/nasdf/glyco/structure"
	"github.com/nasdf/glyco/subtree"
	"github.com/nasdf/glyco/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("glyco")

// Open opens a store over the given storage and applies the schema.
func Open(ctx context.Context, store storage.Storage, opts core.Options) (*core.Store, error) {
	s, err := core.Open(ctx, store, opts)
	if err != nil {
		return nil, err
	}
	if err := s.ApplySchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DB is a store backed by badger together with its configuration.
type DB struct {
	*core.Store

	config  config.Config
	logger  *slog.Logger
	storage *storage.Badger
}

// OpenConfig opens a badger backed store using the given configuration.
// When opts.Logger is nil a text logger at the configured level is used.
func OpenConfig(ctx context.Context, cfg config.Config, opts core.Options) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	}
	db, err := storage.NewBadger(cfg.BadgerConfig(opts.Logger))
	if err != nil {
		return nil, err
	}
	s, err := Open(ctx, db, opts)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return &DB{
		Store:   s,
		config:  cfg,
		logger:  opts.Logger,
		storage: db,
	}, nil
}

// Config returns the configuration the database was opened with.
func (db *DB) Config() config.Config {
	return db.config
}

// SearchParams returns the search parameters from the configuration.
func (db *DB) SearchParams() (SearchParams, error) {
	frags, err := db.config.FragmentOptions()
	if err != nil {
		return SearchParams{}, err
	}
	return SearchParams{
		MS1Tolerance:   db.config.Matching.MS1Tolerance,
		MS2Tolerance:   db.config.Matching.MS2Tolerance,
		GroupTolerance: db.config.Matching.GroupTolerance,
		Fragments:      frags,
		Workers:        db.config.Workers,
	}, nil
}

// Search scores the precursor against the database using the configured parameters.
func (db *DB) Search(ctx context.Context, p Precursor) ([]Hit, error) {
	params, err := db.SearchParams()
	if err != nil {
		return nil, err
	}
	hits, err := Search(ctx, db.Store, p, params)
	if err != nil {
		return nil, err
	}
	db.logger.DebugContext(ctx, "searched precursor", "scan", p.ScanID, "mass", p.Mass, "hits", len(hits))
	return hits, nil
}

// FindSubtrees returns the ids of the records containing the given query
// using the configured number of workers.
func (db *DB) FindSubtrees(ctx context.Context, q *structure.Structure) ([]int64, error) {
	return FindSubtrees(ctx, db.Store, q, SubtreeParams{Workers: db.config.Workers})
}

// Close closes the underlying storage.
func (db *DB) Close() error {
	return db.storage.Close()
}

// SubtreeParams controls FindSubtrees.
type SubtreeParams struct {
	// Filter is an optional record filter expression that narrows the
	// records searched.
	Filter string
	// Workers is the number of records matched in parallel. Zero means one.
	Workers int
	// MaxSteps bounds each structural search. Zero means unbounded.
	MaxSteps int
}

// FindSubtrees returns the ids, in ascending order, of the records whose
// structure contains the given query.
func FindSubtrees(ctx context.Context, store *core.Store, q *structure.Structure, params SubtreeParams) (ids []int64, err error) {
	ctx, span := tracer.Start(ctx, "FindSubtrees", trace.WithAttributes(
		attribute.String("query.key", q.CanonicalKey()),
		attribute.Int("workers", params.Workers),
	))
	defer func() { endSpan(span, err) }()

	if q.Len() == 0 {
		return nil, fmt.Errorf("%w: empty query", structure.ErrMalformedStructure)
	}
	filter, err := query.Parse(store.System(), params.Filter)
	if err != nil {
		return nil, err
	}
	it, err := store.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	matcher := subtree.Matcher{MaxSteps: params.MaxSteps}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(params.Workers, 1))
	for r, err := range it.All(ctx) {
		if err != nil {
			if werr := g.Wait(); werr != nil {
				return nil, werr
			}
			return nil, err
		}
		g.Go(func() error {
			ok, err := matcher.SubtreeOf(q, r.Structure)
			if err != nil {
				return fmt.Errorf("record %d: %w", r.ID, err)
			}
			if ok {
				mu.Lock()
				ids = append(ids, r.ID)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slices.Sort(ids)
	span.SetAttributes(attribute.Int("matches", len(ids)))
	return ids, nil
}

// Precursor is an MS1 observation with the MS2 peaks acquired from it.
type Precursor struct {
	ScanID int
	// Mass is the neutral precursor mass.
	Mass  float64
	Peaks []match.Peak
}

// SearchParams controls Search.
type SearchParams struct {
	// MS1Tolerance is the precursor window in ppm.
	MS1Tolerance float64
	// MS2Tolerance is the fragment window in ppm.
	MS2Tolerance float64
	// GroupTolerance is the relative fragment grouping grid.
	GroupTolerance float64
	// Fragments controls theoretical fragment generation.
	Fragments structure.FragmentOptions
	// Workers is the number of candidates scored in parallel. Zero means one.
	Workers int
}

// Hit is a candidate record scored against a precursor.
type Hit struct {
	Record *core.Record
	Result *match.Result
}

// Search scores every record whose mass lies within MS1Tolerance of the
// precursor against the precursor's peaks. Hits are ordered by record id.
func Search(ctx context.Context, store *core.Store, p Precursor, params SearchParams) (hits []Hit, err error) {
	ctx, span := tracer.Start(ctx, "Search", trace.WithAttributes(
		attribute.Int("precursor.scan", p.ScanID),
		attribute.Float64("precursor.mass", p.Mass),
		attribute.Int("peaks", len(p.Peaks)),
	))
	defer func() { endSpan(span, err) }()

	if params.MS1Tolerance <= 0 {
		return nil, fmt.Errorf("invalid ms1 tolerance %v", params.MS1Tolerance)
	}
	tolerance := params.MS1Tolerance * 1e-6
	filter := query.NewFilter(map[string]any{
		types.MassFieldName: map[string]any{
			"gte": p.Mass / (1 + tolerance),
			"lte": p.Mass / (1 - tolerance),
		},
	})
	it, err := store.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	matchParams := match.Params{Tolerance: params.MS2Tolerance, GroupTolerance: params.GroupTolerance}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(params.Workers, 1))
	for r, err := range it.All(ctx) {
		if err != nil {
			if werr := g.Wait(); werr != nil {
				return nil, werr
			}
			return nil, err
		}
		g.Go(func() error {
			frags, err := match.FromStructure(r.Structure, params.Fragments)
			if err != nil {
				return fmt.Errorf("record %d: %w", r.ID, err)
			}
			if len(frags) == 0 {
				// a single residue cannot be cleaved
				return nil
			}
			c := match.Candidate{
				Fragments: frags,
				PPMErrors: []float64{match.PPMError(p.Mass, r.Mass)},
			}
			res, err := match.Match(c, p.Peaks, matchParams)
			if err != nil {
				return fmt.Errorf("record %d: %w", r.ID, err)
			}
			mu.Lock()
			hits = append(hits, Hit{Record: r, Result: res})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slices.SortFunc(hits, func(a, b Hit) int {
		return cmp.Compare(a.Record.ID, b.Record.ID)
	})
	span.SetAttributes(attribute.Int("hits", len(hits)))
	return hits, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
