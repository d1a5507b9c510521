package core

import (
	"context"
	"fmt"
	"maps"

	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/nasdf/glyco/link"
	"github.com/nasdf/glyco/storage"
	"github.com/nasdf/glyco/structure"
)

// TransactionOptions configures a transaction.
type TransactionOptions struct {
	// DeferIndexing skips index maintenance and marks the indices stale.
	// Call ApplyIndices once the bulk load is done.
	DeferIndexing bool
}

// Transaction is used to create, read, update, and delete records.
//
// Blocks written by a transaction are staged in memory and reach the storage
// together with the new root when the transaction commits.
type Transaction struct {
	store   *Store
	base    *snapshot
	overlay *storage.Overlay
	links   *link.Store
	records map[int64]datamodel.Link
	indices *indexSet
	nextID  int64
	opts    TransactionOptions
	dirty   bool
	done    bool
}

// Transaction returns a new transaction based on the latest committed root.
func (s *Store) Transaction(ctx context.Context, opts TransactionOptions) (*Transaction, error) {
	snap, err := s.ready()
	if err != nil {
		return nil, err
	}
	return s.newTransaction(snap, opts), nil
}

func (s *Store) newTransaction(snap *snapshot, opts TransactionOptions) *Transaction {
	overlay := storage.NewOverlay(s.storage)
	return &Transaction{
		store:   s,
		base:    snap,
		overlay: overlay,
		links:   link.NewStore(overlay),
		records: maps.Clone(snap.records),
		indices: snap.indices.clone(),
		nextID:  snap.nextID,
		opts:    opts,
	}
}

// Get returns the record with the given id.
func (t *Transaction) Get(ctx context.Context, id int64) (*Record, error) {
	if t.done {
		return nil, ErrTxDone
	}
	n, err := t.recordNode(ctx, id)
	if err != nil {
		return nil, err
	}
	return loadRecord(ctx, t.links, n)
}

// Count returns the number of records visible to the transaction.
func (t *Transaction) Count() int {
	return len(t.records)
}

// Create stores a new record for the given structure and returns it with its
// assigned id.
func (t *Transaction) Create(ctx context.Context, s *structure.Structure, flags ...string) (*Record, error) {
	if t.done {
		return nil, ErrTxDone
	}
	r, err := NewRecord(s, flags...)
	if err != nil {
		return nil, err
	}
	r.ID = t.nextID
	lnk, err := storeRecord(ctx, t.links, t.store.system, r)
	if err != nil {
		return nil, err
	}
	t.nextID++
	t.records[r.ID] = lnk
	t.index(nil, r.summary())
	t.dirty = true

	t.store.logger.DebugContext(ctx, "created record", "id", r.ID, "mass", r.Mass, "key", r.Key)
	return r, nil
}

// Update recomputes the derived fields of the given record from its live
// structure and stores them under the same id.
func (t *Transaction) Update(ctx context.Context, r *Record, params MassParams) error {
	if t.done {
		return ErrTxDone
	}
	n, err := t.recordNode(ctx, r.ID)
	if err != nil {
		return err
	}
	old, err := decodeSummary(n)
	if err != nil {
		return err
	}
	next := *r
	if err := next.Recompute(params); err != nil {
		return err
	}
	lnk, err := storeRecord(ctx, t.links, t.store.system, &next)
	if err != nil {
		return err
	}
	*r = next
	t.records[r.ID] = lnk
	t.index(old, r.summary())
	t.dirty = true

	t.store.logger.DebugContext(ctx, "updated record", "id", r.ID, "mass", r.Mass)
	return nil
}

// Delete removes the record with the given id. Ids are never reused.
func (t *Transaction) Delete(ctx context.Context, id int64) error {
	if t.done {
		return ErrTxDone
	}
	n, err := t.recordNode(ctx, id)
	if err != nil {
		return err
	}
	old, err := decodeSummary(n)
	if err != nil {
		return err
	}
	delete(t.records, id)
	t.index(old, nil)
	t.dirty = true

	t.store.logger.DebugContext(ctx, "deleted record", "id", id)
	return nil
}

// ApplyIndices rebuilds all secondary indices from the denormalized record fields.
func (t *Transaction) ApplyIndices(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	x := newIndexSet()
	for id := range t.records {
		n, err := t.recordNode(ctx, id)
		if err != nil {
			return err
		}
		s, err := decodeSummary(n)
		if err != nil {
			return err
		}
		x.add(s)
	}
	t.indices = x
	t.opts.DeferIndexing = false
	t.dirty = true
	return nil
}

// Commit writes the staged blocks and the new root to the storage.
//
// Commit fails with ErrConflict if another transaction committed since this
// one started. The transaction cannot be used after Commit returns.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if !t.dirty {
		return nil
	}
	snap := &snapshot{
		version:    t.base.version,
		schema:     t.base.schema,
		schemaLink: t.base.schemaLink,
		id:         t.base.id,
		nextID:     t.nextID,
		records:    t.records,
		indices:    t.indices,
	}
	return t.store.publish(ctx, t.overlay, t.links, t.base, snap)
}

// Discard drops all staged changes.
func (t *Transaction) Discard() {
	if t.done {
		return
	}
	t.done = true
	t.overlay.Discard()
}

func (t *Transaction) recordNode(ctx context.Context, id int64) (datamodel.Node, error) {
	lnk, ok := t.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	n, err := t.links.Load(ctx, lnk, basicnode.Prototype.Map)
	if err != nil {
		return nil, storageError(err)
	}
	return n, nil
}

// index replaces the old index entries of a record with the new ones.
func (t *Transaction) index(old, next *recordSummary) {
	if t.opts.DeferIndexing {
		t.indices.fresh = false
	}
	if !t.indices.fresh {
		return
	}
	if old != nil {
		t.indices.remove(old)
	}
	if next != nil {
		t.indices.add(next)
	}
}
