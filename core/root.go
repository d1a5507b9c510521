package core

import (
	"context"
	"maps"
	"slices"
	"strconv"

	"github.com/google/uuid"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/nasdf/glyco/link"
)

const (
	// RootLinkKey is the name of the key for the root link.
	RootLinkKey = "root"
	// RootVersionFieldName is the name of the schema version field on a root.
	RootVersionFieldName = "version"
	// RootSchemaFieldName is the name of the schema field on a root.
	RootSchemaFieldName = "schema"
	// RootIDFieldName is the name of the store identity field on a root.
	RootIDFieldName = "id"
	// RootNextIDFieldName is the name of the next record id field on a root.
	RootNextIDFieldName = "next"
	// RootRecordsFieldName is the name of the records field on a root.
	RootRecordsFieldName = "records"
	// RootIndicesFieldName is the name of the indices field on a root.
	RootIndicesFieldName = "indices"
	// RootParentsFieldName is the name of the parents field on a root.
	RootParentsFieldName = "parents"
)

// snapshot is an immutable view of a committed root.
type snapshot struct {
	link       datamodel.Link
	version    int64
	schema     string
	schemaLink datamodel.Link
	id         uuid.UUID
	nextID     int64
	records    map[int64]datamodel.Link
	indices    *indexSet
}

// ids returns all record ids in ascending order.
func (s *snapshot) ids() []int64 {
	return slices.Sorted(maps.Keys(s.records))
}

// buildRootNode stores the records and indices of the given snapshot and
// returns a new root node pointing at them.
func buildRootNode(ctx context.Context, links *link.Store, snap *snapshot, parents ...datamodel.Link) (datamodel.Node, error) {
	ids := snap.ids()
	recordsNode, err := qp.BuildMap(basicnode.Prototype.Map, int64(len(ids)), func(ma datamodel.MapAssembler) {
		for _, id := range ids {
			qp.MapEntry(ma, formatID(id), qp.Link(snap.records[id]))
		}
	})
	if err != nil {
		return nil, err
	}
	recordsLink, err := links.Store(ctx, recordsNode)
	if err != nil {
		return nil, storageError(err)
	}
	indicesNode, err := snap.indices.encode()
	if err != nil {
		return nil, err
	}
	indicesLink, err := links.Store(ctx, indicesNode)
	if err != nil {
		return nil, storageError(err)
	}
	return qp.BuildMap(basicnode.Prototype.Map, 7, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, RootVersionFieldName, qp.Int(snap.version))
		qp.MapEntry(ma, RootSchemaFieldName, qp.Link(snap.schemaLink))
		qp.MapEntry(ma, RootIDFieldName, qp.String(snap.id.String()))
		qp.MapEntry(ma, RootNextIDFieldName, qp.Int(snap.nextID))
		qp.MapEntry(ma, RootRecordsFieldName, qp.Link(recordsLink))
		qp.MapEntry(ma, RootIndicesFieldName, qp.Link(indicesLink))
		qp.MapEntry(ma, RootParentsFieldName, qp.List(int64(len(parents)), func(la datamodel.ListAssembler) {
			for _, p := range parents {
				qp.ListEntry(la, qp.Link(p))
			}
		}))
	})
}

// loadSnapshot reads the root at the given link.
func loadSnapshot(ctx context.Context, links *link.Store, rootLink datamodel.Link) (_ *snapshot, err error) {
	defer func() { err = corruptError("root", err) }()

	rootNode, err := links.Load(ctx, rootLink, basicnode.Prototype.Map)
	if err != nil {
		return nil, storageError(err)
	}
	snap := &snapshot{
		link:    rootLink,
		records: make(map[int64]datamodel.Link),
	}
	versionNode, err := rootNode.LookupByString(RootVersionFieldName)
	if err != nil {
		return nil, err
	}
	if snap.version, err = versionNode.AsInt(); err != nil {
		return nil, err
	}
	if snap.schemaLink, err = lookupLink(rootNode, RootSchemaFieldName); err != nil {
		return nil, err
	}
	schemaNode, err := links.Load(ctx, snap.schemaLink, basicnode.Prototype.String)
	if err != nil {
		return nil, storageError(err)
	}
	if snap.schema, err = schemaNode.AsString(); err != nil {
		return nil, err
	}
	id, err := lookupString(rootNode, RootIDFieldName)
	if err != nil {
		return nil, err
	}
	if snap.id, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if snap.nextID, err = lookupInt(rootNode, RootNextIDFieldName); err != nil {
		return nil, err
	}

	recordsLink, err := lookupLink(rootNode, RootRecordsFieldName)
	if err != nil {
		return nil, err
	}
	recordsNode, err := links.Load(ctx, recordsLink, basicnode.Prototype.Map)
	if err != nil {
		return nil, storageError(err)
	}
	iter := recordsNode.MapIterator()
	for !iter.Done() {
		k, v, err := iter.Next()
		if err != nil {
			return nil, err
		}
		key, err := k.AsString()
		if err != nil {
			return nil, err
		}
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, err
		}
		if snap.records[id], err = v.AsLink(); err != nil {
			return nil, err
		}
	}

	indicesLink, err := lookupLink(rootNode, RootIndicesFieldName)
	if err != nil {
		return nil, err
	}
	indicesNode, err := links.Load(ctx, indicesLink, basicnode.Prototype.Map)
	if err != nil {
		return nil, storageError(err)
	}
	if snap.indices, err = decodeIndexSet(indicesNode); err != nil {
		return nil, err
	}
	return snap, nil
}

func linkEqual(a, b datamodel.Link) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}
