package core

import (
	"context"
	"fmt"
	"slices"

	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/nasdf/glyco/codec"
	"github.com/nasdf/glyco/composition"
	"github.com/nasdf/glyco/link"
	"github.com/nasdf/glyco/structure"
	"github.com/nasdf/glyco/types"
)

// ReducedEnd is the reducing end adjustment of a reduced (alditol) glycan.
var ReducedEnd = composition.New(map[string]int{"H": 4, "O": 1})

// MassParams controls how the derived mass of a record is computed.
type MassParams struct {
	// ReducingEnd is added to the residue composition. Nil means water.
	ReducingEnd composition.Composition
	// AdductMass is the mass of a single adduct.
	AdductMass float64
	// AdductCount is the number of adducts added to the mass.
	AdductCount int
	// Override replaces the computed mass when set.
	Override *float64
}

// Record is a stored structure with its derived attributes.
type Record struct {
	ID          int64
	Mass        float64
	Composition composition.Composition
	Key         string
	Nodes       int
	Flags       []string
	Structure   *structure.Structure
}

// NewRecord returns an unsaved record for the given structure with derived
// fields computed using the default mass parameters.
func NewRecord(s *structure.Structure, flags ...string) (*Record, error) {
	r := &Record{
		Structure: s,
		Flags:     normalizeFlags(flags),
	}
	if err := r.Recompute(MassParams{}); err != nil {
		return nil, err
	}
	return r, nil
}

// Recompute updates the derived fields from the live structure.
func (r *Record) Recompute(params MassParams) error {
	if r.Structure.Len() == 0 {
		return fmt.Errorf("%w: record has no residues", structure.ErrMalformedStructure)
	}
	end := params.ReducingEnd
	if end == nil {
		end = structure.ReducingEnd
	}
	comp := r.Structure.TotalComposition().Add(end)
	mass, err := comp.Mass()
	if err != nil {
		return err
	}
	mass += float64(params.AdductCount) * params.AdductMass
	if params.Override != nil {
		mass = *params.Override
	}
	r.Mass = mass
	r.Composition = comp
	r.Key = r.Structure.CanonicalKey()
	r.Nodes = r.Structure.Len()
	r.Flags = normalizeFlags(r.Flags)
	return nil
}

// HasFlag returns true if the record carries the given flag.
func (r *Record) HasFlag(flag string) bool {
	_, ok := slices.BinarySearch(r.Flags, flag)
	return ok
}

func normalizeFlags(flags []string) []string {
	out := slices.Clone(flags)
	slices.Sort(out)
	return slices.Compact(out)
}

// buildRecordNode returns the denormalized record node pointing at the given
// structure block.
func buildRecordNode(sys *types.System, r *Record, structureLink datamodel.Link) (datamodel.Node, error) {
	n, err := qp.BuildMap(basicnode.Prototype.Map, 7, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, types.IDFieldName, qp.Int(r.ID))
		qp.MapEntry(ma, types.MassFieldName, qp.Float(r.Mass))
		qp.MapEntry(ma, types.CompositionFieldName, qp.String(r.Composition.String()))
		qp.MapEntry(ma, types.KeyFieldName, qp.String(r.Key))
		qp.MapEntry(ma, types.NodesFieldName, qp.Int(int64(r.Nodes)))
		qp.MapEntry(ma, types.FlagsFieldName, qp.List(int64(len(r.Flags)), func(la datamodel.ListAssembler) {
			for _, f := range r.Flags {
				qp.ListEntry(la, qp.String(f))
			}
		}))
		qp.MapEntry(ma, types.StructureFieldName, qp.Link(structureLink))
	})
	if err != nil {
		return nil, err
	}
	if err := sys.Validate(n); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return n, nil
}

// storeRecord writes the structure and record blocks and returns the record link.
func storeRecord(ctx context.Context, links *link.Store, sys *types.System, r *Record) (datamodel.Link, error) {
	structureNode, err := codec.Encode(r.Structure)
	if err != nil {
		return nil, err
	}
	structureLink, err := links.Store(ctx, structureNode)
	if err != nil {
		return nil, storageError(err)
	}
	recordNode, err := buildRecordNode(sys, r, structureLink)
	if err != nil {
		return nil, err
	}
	recordLink, err := links.Store(ctx, recordNode)
	if err != nil {
		return nil, storageError(err)
	}
	return recordLink, nil
}

// recordSummary holds the denormalized fields of a record node.
type recordSummary struct {
	id          int64
	mass        float64
	composition string
	key         string
	nodes       int64
	flags       []string
	structure   datamodel.Link
}

func (r *Record) summary() *recordSummary {
	return &recordSummary{
		id:          r.ID,
		mass:        r.Mass,
		composition: r.Composition.String(),
		key:         r.Key,
		nodes:       int64(r.Nodes),
		flags:       r.Flags,
	}
}

func decodeSummary(n datamodel.Node) (_ *recordSummary, err error) {
	defer func() { err = corruptError("record", err) }()

	var s recordSummary

	if s.id, err = lookupInt(n, types.IDFieldName); err != nil {
		return nil, err
	}
	if s.mass, err = lookupFloat(n, types.MassFieldName); err != nil {
		return nil, err
	}
	if s.composition, err = lookupString(n, types.CompositionFieldName); err != nil {
		return nil, err
	}
	if s.key, err = lookupString(n, types.KeyFieldName); err != nil {
		return nil, err
	}
	if s.nodes, err = lookupInt(n, types.NodesFieldName); err != nil {
		return nil, err
	}
	flagsNode, err := n.LookupByString(types.FlagsFieldName)
	if err != nil {
		return nil, err
	}
	iter := flagsNode.ListIterator()
	for iter != nil && !iter.Done() {
		_, v, err := iter.Next()
		if err != nil {
			return nil, err
		}
		flag, err := v.AsString()
		if err != nil {
			return nil, err
		}
		s.flags = append(s.flags, flag)
	}
	structureNode, err := n.LookupByString(types.StructureFieldName)
	if err != nil {
		return nil, err
	}
	if s.structure, err = structureNode.AsLink(); err != nil {
		return nil, err
	}
	return &s, nil
}

// loadRecord decodes the given record node including its structure.
func loadRecord(ctx context.Context, links *link.Store, n datamodel.Node) (_ *Record, err error) {
	defer func() { err = corruptError("record", err) }()

	s, err := decodeSummary(n)
	if err != nil {
		return nil, err
	}
	comp, err := composition.Parse(s.composition)
	if err != nil {
		return nil, err
	}
	structureNode, err := links.Load(ctx, s.structure, basicnode.Prototype.Any)
	if err != nil {
		return nil, storageError(err)
	}
	st, err := codec.Decode(structureNode)
	if err != nil {
		return nil, err
	}
	return &Record{
		ID:          s.id,
		Mass:        s.mass,
		Composition: comp,
		Key:         s.key,
		Nodes:       int(s.nodes),
		Flags:       s.flags,
		Structure:   st,
	}, nil
}

func lookupInt(n datamodel.Node, field string) (int64, error) {
	v, err := n.LookupByString(field)
	if err != nil {
		return 0, err
	}
	return v.AsInt()
}

func lookupFloat(n datamodel.Node, field string) (float64, error) {
	v, err := n.LookupByString(field)
	if err != nil {
		return 0, err
	}
	return v.AsFloat()
}

func lookupString(n datamodel.Node, field string) (string, error) {
	v, err := n.LookupByString(field)
	if err != nil {
		return "", err
	}
	return v.AsString()
}

func lookupLink(n datamodel.Node, field string) (datamodel.Link, error) {
	v, err := n.LookupByString(field)
	if err != nil {
		return nil, err
	}
	return v.AsLink()
}
