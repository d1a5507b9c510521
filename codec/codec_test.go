package codec

import (
	"context"
	"errors"
	"testing"

	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/nasdf/glyco/link"
	"github.com/nasdf/glyco/storage"
	"github.com/nasdf/glyco/structure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sialylLactose(t *testing.T) *structure.Structure {
	s, err := structure.New(structure.NewNode("Glc"))
	require.NoError(t, err)
	gal, err := s.Add(s.Root(), structure.Bond{ParentPosition: 4, ChildPosition: 1, Anomer: structure.AnomerBeta}, structure.NewNode("Gal"))
	require.NoError(t, err)
	_, err = s.Add(gal, structure.Bond{ParentPosition: 3, ChildPosition: 2, Anomer: structure.AnomerAlpha},
		structure.NewNode("Kdn", structure.Substituent{Position: 5, Name: "n_acetyl"}, structure.Substituent{Position: 5, Name: "amino"}))
	require.NoError(t, err)
	return s
}

func TestEncodeDecode(t *testing.T) {
	ctx := context.Background()
	store := link.NewStore(storage.NewMemory())
	expect := sialylLactose(t)

	node, err := Encode(expect)
	require.NoError(t, err)

	lnk, err := store.Store(ctx, node)
	require.NoError(t, err)
	loaded, err := store.Load(ctx, lnk, basicnode.Prototype.Any)
	require.NoError(t, err)

	actual, err := Decode(loaded)
	require.NoError(t, err)

	assert.Equal(t, expect.CanonicalKey(), actual.CanonicalKey())
	assert.Equal(t, expect.Linkages(), actual.Linkages())
	assert.True(t, expect.TotalComposition().Equal(actual.TotalComposition()))
}

func TestEncodeEmpty(t *testing.T) {
	_, err := Encode(&structure.Structure{})
	assert.True(t, errors.Is(err, structure.ErrMalformedStructure))
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode(basicnode.NewString("Glc"))
	assert.Error(t, err)

	node, err := qp.BuildMap(basicnode.Prototype.Map, 3, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, rootField, qp.Int(0))
		qp.MapEntry(ma, nodesField, qp.List(2, func(la datamodel.ListAssembler) {
			qp.ListEntry(la, encodeNode(structure.NewNode("Glc")))
			qp.ListEntry(la, encodeNode(structure.NewNode("Gal")))
		}))
		qp.MapEntry(ma, linksField, qp.List(0, func(la datamodel.ListAssembler) {}))
	})
	require.NoError(t, err)

	_, err = Decode(node)
	assert.True(t, errors.Is(err, structure.ErrMalformedStructure))
}
