package core

import (
	"context"
	"iter"

	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/nasdf/glyco/query"
	"github.com/nasdf/glyco/types"
)

// RecordIterator iterates over the records of a snapshot that match a filter.
//
// The iterator reads the snapshot it was created from, so writes committed
// after it was created are not visible.
type RecordIterator struct {
	store  *Store
	snap   *snapshot
	filter *query.Filter
	ids    []int64
	next   []int64
	record *Record
	err    error
}

func (s *Store) newRecordIterator(ctx context.Context, snap *snapshot, filter *query.Filter) *RecordIterator {
	it := &RecordIterator{
		store:  s,
		snap:   snap,
		filter: filter,
		ids:    s.candidates(ctx, snap, filter),
	}
	it.Reset(ctx)
	return it
}

// candidates returns the ids that can match the given filter in ascending order.
func (s *Store) candidates(ctx context.Context, snap *snapshot, filter *query.Filter) []int64 {
	var ids []int64
	indexed := false
	restrict := func(found []int64) {
		if !indexed {
			ids, indexed = found, true
			return
		}
		ids = intersect(ids, found)
	}

	x := snap.indices
	if lo, hi, ok := filter.Range(types.MassFieldName); ok && x.fresh {
		restrict(x.massRange(lo, hi))
	}
	if values, ok := filter.Equal(types.KeyFieldName); ok && x.fresh {
		restrict(lookup(x.key, values))
	}
	if values, ok := filter.Equal(types.CompositionFieldName); ok && x.fresh {
		restrict(lookup(x.composition, values))
	}
	if values, ok := filter.Contains(types.FlagsFieldName); ok && x.fresh {
		restrict(lookup(x.flags, values))
	}
	if indexed {
		return ids
	}
	if filter != nil && !x.fresh {
		s.logger.WarnContext(ctx, "indices are stale, scanning all records", "records", len(snap.records))
	}
	return snap.ids()
}

// Done returns true if the iterator has no items left.
func (i *RecordIterator) Done() bool {
	return i.record == nil && i.err == nil
}

// Next returns the next matching record from the iterator.
func (i *RecordIterator) Next(ctx context.Context) (*Record, error) {
	r, err := i.record, i.err
	i.advance(ctx)
	return r, err
}

// Reset restarts the iterator from the first candidate.
func (i *RecordIterator) Reset(ctx context.Context) {
	i.next = i.ids
	i.advance(ctx)
}

// All returns a sequence over the remaining records. The sequence stops
// after the first error.
func (i *RecordIterator) All(ctx context.Context) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		for !i.Done() {
			r, err := i.Next(ctx)
			if !yield(r, err) || err != nil {
				return
			}
		}
	}
}

// Collect returns all remaining records.
func (i *RecordIterator) Collect(ctx context.Context) ([]*Record, error) {
	var out []*Record
	for r, err := range i.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// advance loads the next record that matches the filter. Only matching
// records have their structure decoded.
func (i *RecordIterator) advance(ctx context.Context) {
	i.record, i.err = nil, nil
	for len(i.next) > 0 {
		id := i.next[0]
		i.next = i.next[1:]

		if err := ctx.Err(); err != nil {
			i.err, i.next = err, nil
			return
		}
		n, err := i.store.links.Load(ctx, i.snap.records[id], basicnode.Prototype.Map)
		if err != nil {
			i.err, i.next = storageError(err), nil
			return
		}
		match, err := i.filter.Match(n)
		if err != nil {
			i.err, i.next = err, nil
			return
		}
		if !match {
			continue
		}
		i.record, i.err = loadRecord(ctx, i.store.links, n)
		if i.err != nil {
			i.next = nil
		}
		return
	}
}
