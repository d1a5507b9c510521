package types

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRecord(t *testing.T, skip string) datamodel.Node {
	id, err := cid.Prefix{Version: 1, Codec: 0x71, MhType: 0x12, MhLength: -1}.Sum([]byte("structure"))
	require.NoError(t, err)
	testLink := cidlink.Link{Cid: id}

	n, err := qp.BuildMap(basicnode.Prototype.Map, 7, func(ma datamodel.MapAssembler) {
		entry := func(k string, fn qp.Assemble) {
			if k != skip {
				qp.MapEntry(ma, k, fn)
			}
		}
		entry(IDFieldName, qp.Int(1))
		entry(MassFieldName, qp.Float(910.33))
		entry(CompositionFieldName, qp.String("C34H56N2O25"))
		entry(KeyFieldName, qp.String("Glc[2:n_acetyl]"))
		entry(NodesFieldName, qp.Int(5))
		entry(FlagsFieldName, qp.List(1, func(la datamodel.ListAssembler) {
			qp.ListEntry(la, qp.String("n_glycan"))
		}))
		entry(StructureFieldName, qp.Link(testLink))
	})
	require.NoError(t, err)
	return n
}

func TestDefaultSystem(t *testing.T) {
	sys, err := DefaultSystem()
	require.NoError(t, err)

	record := sys.Type(RecordTypeName)
	require.NotNil(t, record)
	assert.Equal(t, RecordTypeName, record.Name())

	assert.NotNil(t, sys.Schema().Types["RecordFilter"])
	assert.NotNil(t, sys.Schema().Query.Fields.ForName(QueryFieldName))
	assert.Equal(t, Schema, sys.Source())
}

func TestValidate(t *testing.T) {
	sys, err := DefaultSystem()
	require.NoError(t, err)

	assert.NoError(t, sys.Validate(buildRecord(t, "")))
	assert.Error(t, sys.Validate(buildRecord(t, MassFieldName)))
	assert.Error(t, sys.Validate(basicnode.NewString("record")))
}

func TestNewSystemRequiresRecord(t *testing.T) {
	_, err := NewSystem(`type Query { ping: Int }`)
	assert.Error(t, err)

	_, err = NewSystem(`type Record {`)
	assert.Error(t, err)
}
