// Package core implements the record store.
//
// Records live in content addressed blocks. A single root block points at
// the record map, the secondary indices, and the schema; the key RootLinkKey
// holds the link of the latest root. Writers stage blocks in an overlay and
// publish a new root in one storage batch, so readers holding an older root
// never observe a partial write.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/nasdf/glyco/link"
	"github.com/nasdf/glyco/query"
	"github.com/nasdf/glyco/storage"
	"github.com/nasdf/glyco/structure"
	"github.com/nasdf/glyco/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Options configures a store.
type Options struct {
	// Logger receives store logs. Nil discards them.
	Logger *slog.Logger
	// Registerer receives the store metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
	// System is the record schema. Nil uses the embedded schema.
	System *types.System
	// TracerProvider creates the store tracer. Nil uses the global provider.
	TracerProvider trace.TracerProvider
}

// Store is a durable, indexed collection of records.
type Store struct {
	storage storage.Storage
	links   *link.Store
	system  *types.System
	logger  *slog.Logger
	metrics *metrics
	tracer  trace.Tracer

	// writer serializes the convenience write methods.
	writer sync.Mutex

	rootLock sync.RWMutex
	snap     *snapshot
}

// Open returns a store over the given storage, loading the latest root if
// one exists. A new store must have its schema applied before use.
func Open(ctx context.Context, store storage.Storage, opts Options) (*Store, error) {
	sys := opts.System
	if sys == nil {
		var err error
		if sys, err = types.DefaultSystem(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSchema, err)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	s := &Store{
		storage: store,
		links:   link.NewStore(store),
		system:  sys,
		logger:  logger,
		metrics: newMetrics(opts.Registerer),
		tracer:  tp.Tracer(tracerName),
		snap:    &snapshot{},
	}
	data, err := store.Get(ctx, RootLinkKey)
	if errors.Is(err, storage.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, storageError(err)
	}
	rootLink, err := link.Decode(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid root link: %w", ErrStorageIO, err)
	}
	snap, err := loadSnapshot(ctx, s.links, rootLink)
	if err != nil {
		return nil, err
	}
	s.snap = snap
	s.metrics.records.Set(float64(len(snap.records)))
	return s, nil
}

// System returns the record schema of the store.
func (s *Store) System() *types.System {
	return s.system
}

// ID returns the identity stamped on the store when its schema was applied.
func (s *Store) ID() uuid.UUID {
	return s.current().id
}

// RootLink returns the link of the latest committed root.
func (s *Store) RootLink() datamodel.Link {
	return s.current().link
}

func (s *Store) current() *snapshot {
	s.rootLock.RLock()
	defer s.rootLock.RUnlock()

	return s.snap
}

// ready returns the latest snapshot or ErrSchema if the store cannot be used
// with the current schema.
func (s *Store) ready() (*snapshot, error) {
	snap := s.current()
	if snap.link == nil {
		return nil, fmt.Errorf("%w: schema has not been applied", ErrSchema)
	}
	if err := s.compatible(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Store) compatible(snap *snapshot) error {
	if snap.version != types.SchemaVersion {
		return fmt.Errorf("%w: store version %d does not match %d", ErrSchema, snap.version, types.SchemaVersion)
	}
	if snap.schema != s.system.Source() {
		return fmt.Errorf("%w: store schema does not match", ErrSchema)
	}
	return nil
}

// ApplySchema prepares the storage for use. It is a no-op for a store that
// already has a compatible schema and fails with ErrSchema otherwise.
func (s *Store) ApplySchema(ctx context.Context) (err error) {
	ctx, done := s.instrument(ctx, "apply_schema")
	defer func() { done(err) }()

	s.writer.Lock()
	defer s.writer.Unlock()

	base := s.current()
	if base.link != nil {
		return s.compatible(base)
	}
	overlay := storage.NewOverlay(s.storage)
	links := link.NewStore(overlay)

	schemaLink, err := links.Store(ctx, basicnode.NewString(s.system.Source()))
	if err != nil {
		return storageError(err)
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return err
	}
	snap := &snapshot{
		version:    types.SchemaVersion,
		schema:     s.system.Source(),
		schemaLink: schemaLink,
		id:         id,
		nextID:     1,
		records:    make(map[int64]datamodel.Link),
		indices:    newIndexSet(),
	}
	if err := s.publish(ctx, overlay, links, base, snap); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "applied schema", "version", snap.version, "id", snap.id.String())
	return nil
}

// publish writes the root of the given snapshot and makes it current.
func (s *Store) publish(ctx context.Context, overlay *storage.Overlay, links *link.Store, base, snap *snapshot) error {
	s.rootLock.Lock()
	defer s.rootLock.Unlock()

	if !linkEqual(s.snap.link, base.link) {
		overlay.Discard()
		return ErrConflict
	}
	var parents []datamodel.Link
	if base.link != nil {
		parents = append(parents, base.link)
	}
	rootNode, err := buildRootNode(ctx, links, snap, parents...)
	if err != nil {
		overlay.Discard()
		return err
	}
	rootLink, err := links.Store(ctx, rootNode)
	if err != nil {
		overlay.Discard()
		return storageError(err)
	}
	entry := storage.Entry{Key: RootLinkKey, Value: []byte(rootLink.String())}
	if err := overlay.Flush(ctx, entry); err != nil {
		overlay.Discard()
		return storageError(err)
	}
	snap.link = rootLink
	s.snap = snap
	s.metrics.records.Set(float64(len(snap.records)))
	return nil
}

// Write runs fn in a new transaction and commits it when fn returns nil.
// Calls to Write are serialized.
func (s *Store) Write(ctx context.Context, opts TransactionOptions, fn func(tx *Transaction) error) error {
	s.writer.Lock()
	defer s.writer.Unlock()

	tx, err := s.Transaction(ctx, opts)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Discard()
		return err
	}
	return tx.Commit(ctx)
}

// Create stores a new record for the given structure.
func (s *Store) Create(ctx context.Context, st *structure.Structure, flags ...string) (r *Record, err error) {
	ctx, done := s.instrument(ctx, "create")
	defer func() { done(err) }()

	err = s.Write(ctx, TransactionOptions{}, func(tx *Transaction) error {
		r, err = tx.Create(ctx, st, flags...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, id int64) (r *Record, err error) {
	ctx, done := s.instrument(ctx, "get", attribute.Int64("record.id", id))
	defer func() { done(err) }()

	snap, err := s.ready()
	if err != nil {
		return nil, err
	}
	lnk, ok := snap.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	n, err := s.links.Load(ctx, lnk, basicnode.Prototype.Map)
	if err != nil {
		return nil, storageError(err)
	}
	return loadRecord(ctx, s.links, n)
}

// Update recomputes the derived fields of the given record from its live
// structure and persists them. The record is modified in place only when
// the write succeeds.
func (s *Store) Update(ctx context.Context, r *Record, params MassParams) (err error) {
	ctx, done := s.instrument(ctx, "update", attribute.Int64("record.id", r.ID))
	defer func() { done(err) }()

	next := *r
	err = s.Write(ctx, TransactionOptions{}, func(tx *Transaction) error {
		return tx.Update(ctx, &next, params)
	})
	if err != nil {
		return err
	}
	*r = next
	return nil
}

// Delete removes the record with the given id.
func (s *Store) Delete(ctx context.Context, id int64) (err error) {
	ctx, done := s.instrument(ctx, "delete", attribute.Int64("record.id", id))
	defer func() { done(err) }()

	return s.Write(ctx, TransactionOptions{}, func(tx *Transaction) error {
		return tx.Delete(ctx, id)
	})
}

// ApplyIndices rebuilds the secondary indices from the stored records.
func (s *Store) ApplyIndices(ctx context.Context) (err error) {
	ctx, done := s.instrument(ctx, "apply_indices")
	defer func() { done(err) }()

	var count int
	err = s.Write(ctx, TransactionOptions{}, func(tx *Transaction) error {
		count = tx.Count()
		return tx.ApplyIndices(ctx)
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "applied indices", "records", count)
	return nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	snap, err := s.ready()
	if err != nil {
		return 0, err
	}
	return len(snap.records), nil
}

// Query returns an iterator over the records matching the given filter in
// ascending id order. A nil filter matches every record.
func (s *Store) Query(ctx context.Context, filter *query.Filter) (it *RecordIterator, err error) {
	ctx, done := s.instrument(ctx, "query")
	defer func() { done(err) }()

	snap, err := s.ready()
	if err != nil {
		return nil, err
	}
	return s.newRecordIterator(ctx, snap, filter), nil
}

// Find parses the given filter expression and queries the store with it.
func (s *Store) Find(ctx context.Context, expr string) (*RecordIterator, error) {
	filter, err := query.Parse(s.system, expr)
	if err != nil {
		return nil, err
	}
	return s.Query(ctx, filter)
}

// Records returns an iterator over all records in ascending id order.
func (s *Store) Records(ctx context.Context) (*RecordIterator, error) {
	return s.Query(ctx, nil)
}

// Export writes a CAR containing every block reachable from the latest root.
func (s *Store) Export(ctx context.Context, w io.Writer) (err error) {
	ctx, done := s.instrument(ctx, "export")
	defer func() { done(err) }()

	snap, err := s.ready()
	if err != nil {
		return err
	}
	return s.links.Export(ctx, snap.link, w)
}
