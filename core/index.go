package core

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/nasdf/glyco/types"
)

// IndexFreshFieldName is the name of the field marking indices as usable.
const IndexFreshFieldName = "fresh"

type massEntry struct {
	mass float64
	id   int64
}

func compareMass(a, b massEntry) int {
	if c := cmp.Compare(a.mass, b.mass); c != 0 {
		return c
	}
	return cmp.Compare(a.id, b.id)
}

// indexSet holds the secondary indices over denormalized record fields.
//
// A stale index set is not maintained by writes and is ignored by queries
// until it is rebuilt.
type indexSet struct {
	fresh       bool
	mass        []massEntry
	composition map[string][]int64
	key         map[string][]int64
	flags       map[string][]int64
}

func newIndexSet() *indexSet {
	return &indexSet{
		fresh:       true,
		composition: make(map[string][]int64),
		key:         make(map[string][]int64),
		flags:       make(map[string][]int64),
	}
}

func (x *indexSet) clone() *indexSet {
	cloneMap := func(m map[string][]int64) map[string][]int64 {
		out := make(map[string][]int64, len(m))
		for k, v := range m {
			out[k] = slices.Clone(v)
		}
		return out
	}
	return &indexSet{
		fresh:       x.fresh,
		mass:        slices.Clone(x.mass),
		composition: cloneMap(x.composition),
		key:         cloneMap(x.key),
		flags:       cloneMap(x.flags),
	}
}

func (x *indexSet) add(s *recordSummary) {
	e := massEntry{mass: s.mass, id: s.id}
	i, found := slices.BinarySearchFunc(x.mass, e, compareMass)
	if !found {
		x.mass = slices.Insert(x.mass, i, e)
	}
	insertID(x.composition, s.composition, s.id)
	insertID(x.key, s.key, s.id)
	for _, f := range s.flags {
		insertID(x.flags, f, s.id)
	}
}

func (x *indexSet) remove(s *recordSummary) {
	e := massEntry{mass: s.mass, id: s.id}
	if i, found := slices.BinarySearchFunc(x.mass, e, compareMass); found {
		x.mass = slices.Delete(x.mass, i, i+1)
	}
	removeID(x.composition, s.composition, s.id)
	removeID(x.key, s.key, s.id)
	for _, f := range s.flags {
		removeID(x.flags, f, s.id)
	}
}

// massRange returns the ids of records with lo <= mass <= hi in ascending order.
func (x *indexSet) massRange(lo, hi float64) []int64 {
	start, _ := slices.BinarySearchFunc(x.mass, lo, func(e massEntry, m float64) int {
		return cmp.Compare(e.mass, m)
	})
	var ids []int64
	for _, e := range x.mass[start:] {
		if e.mass > hi {
			break
		}
		ids = append(ids, e.id)
	}
	slices.Sort(ids)
	return ids
}

// lookup returns the ids stored under any of the given values in ascending order.
func lookup(m map[string][]int64, values []string) []int64 {
	var ids []int64
	for _, v := range values {
		ids = append(ids, m[v]...)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func insertID(m map[string][]int64, value string, id int64) {
	ids := m[value]
	i, found := slices.BinarySearch(ids, id)
	if !found {
		m[value] = slices.Insert(ids, i, id)
	}
}

func removeID(m map[string][]int64, value string, id int64) {
	ids := m[value]
	i, found := slices.BinarySearch(ids, id)
	if !found {
		return
	}
	ids = slices.Delete(ids, i, i+1)
	if len(ids) == 0 {
		delete(m, value)
		return
	}
	m[value] = ids
}

// intersect returns the ids present in both ascending lists.
func intersect(a, b []int64) []int64 {
	var out []int64
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i] < b[j]:
			i++
		case a[i] > b[j]:
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

func (x *indexSet) encode() (datamodel.Node, error) {
	return qp.BuildMap(basicnode.Prototype.Map, 5, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, IndexFreshFieldName, qp.Bool(x.fresh))
		qp.MapEntry(ma, types.MassFieldName, qp.List(int64(len(x.mass)), func(la datamodel.ListAssembler) {
			for _, e := range x.mass {
				qp.ListEntry(la, qp.List(2, func(la datamodel.ListAssembler) {
					qp.ListEntry(la, qp.Float(e.mass))
					qp.ListEntry(la, qp.Int(e.id))
				}))
			}
		}))
		qp.MapEntry(ma, types.CompositionFieldName, encodeIDMap(x.composition))
		qp.MapEntry(ma, types.KeyFieldName, encodeIDMap(x.key))
		qp.MapEntry(ma, types.FlagsFieldName, encodeIDMap(x.flags))
	})
}

func encodeIDMap(m map[string][]int64) qp.Assemble {
	keys := slices.Sorted(maps.Keys(m))
	return qp.Map(int64(len(keys)), func(ma datamodel.MapAssembler) {
		for _, k := range keys {
			ids := m[k]
			qp.MapEntry(ma, k, qp.List(int64(len(ids)), func(la datamodel.ListAssembler) {
				for _, id := range ids {
					qp.ListEntry(la, qp.Int(id))
				}
			}))
		}
	})
}

func decodeIndexSet(n datamodel.Node) (*indexSet, error) {
	x := newIndexSet()

	freshNode, err := n.LookupByString(IndexFreshFieldName)
	if err != nil {
		return nil, err
	}
	if x.fresh, err = freshNode.AsBool(); err != nil {
		return nil, err
	}
	massNode, err := n.LookupByString(types.MassFieldName)
	if err != nil {
		return nil, err
	}
	iter := massNode.ListIterator()
	for iter != nil && !iter.Done() {
		_, v, err := iter.Next()
		if err != nil {
			return nil, err
		}
		e, err := decodeMassEntry(v)
		if err != nil {
			return nil, err
		}
		x.mass = append(x.mass, e)
	}
	slices.SortFunc(x.mass, compareMass)

	for field, m := range map[string]map[string][]int64{
		types.CompositionFieldName: x.composition,
		types.KeyFieldName:         x.key,
		types.FlagsFieldName:       x.flags,
	} {
		mapNode, err := n.LookupByString(field)
		if err != nil {
			return nil, err
		}
		if err := decodeIDMap(mapNode, m); err != nil {
			return nil, fmt.Errorf("invalid %s index: %w", field, err)
		}
	}
	return x, nil
}

func decodeMassEntry(n datamodel.Node) (massEntry, error) {
	massNode, err := n.LookupByIndex(0)
	if err != nil {
		return massEntry{}, err
	}
	mass, err := massNode.AsFloat()
	if err != nil {
		return massEntry{}, err
	}
	idNode, err := n.LookupByIndex(1)
	if err != nil {
		return massEntry{}, err
	}
	id, err := idNode.AsInt()
	if err != nil {
		return massEntry{}, err
	}
	return massEntry{mass: mass, id: id}, nil
}

func decodeIDMap(n datamodel.Node, m map[string][]int64) error {
	iter := n.MapIterator()
	for iter != nil && !iter.Done() {
		k, v, err := iter.Next()
		if err != nil {
			return err
		}
		key, err := k.AsString()
		if err != nil {
			return err
		}
		ids, err := decodeIDs(v)
		if err != nil {
			return err
		}
		slices.Sort(ids)
		m[key] = ids
	}
	return nil
}

func decodeIDs(n datamodel.Node) ([]int64, error) {
	var ids []int64
	iter := n.ListIterator()
	for iter != nil && !iter.Done() {
		_, v, err := iter.Next()
		if err != nil {
			return nil, err
		}
		id, err := v.AsInt()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
