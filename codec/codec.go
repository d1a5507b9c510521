// Package codec converts glycan structures to and from IPLD data model nodes.
package codec

import (
	"fmt"

	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"github.com/nasdf/glyco/structure"
)

const (
	rootField         = "root"
	nodesField        = "nodes"
	linksField        = "links"
	baseField         = "base"
	openField         = "open"
	substituentsField = "substituents"
	positionField     = "position"
	nameField         = "name"
	parentField       = "parent"
	childField        = "child"
	parentPosField    = "parentPosition"
	childPosField     = "childPosition"
	anomerField       = "anomer"
)

// Encode returns the data model form of the given structure.
func Encode(s *structure.Structure) (datamodel.Node, error) {
	if s.Len() == 0 {
		return nil, fmt.Errorf("%w: no residues", structure.ErrMalformedStructure)
	}
	links := s.Linkages()
	return qp.BuildMap(basicnode.Prototype.Map, 3, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, rootField, qp.Int(int64(s.Root())))
		qp.MapEntry(ma, nodesField, qp.List(int64(s.Len()), func(la datamodel.ListAssembler) {
			for i := 0; i < s.Len(); i++ {
				qp.ListEntry(la, encodeNode(s.Node(i)))
			}
		}))
		qp.MapEntry(ma, linksField, qp.List(int64(len(links)), func(la datamodel.ListAssembler) {
			for _, l := range links {
				qp.ListEntry(la, encodeLinkage(l))
			}
		}))
	})
}

func encodeNode(n structure.Node) qp.Assemble {
	return qp.Map(3, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, baseField, qp.String(n.Base))
		qp.MapEntry(ma, openField, qp.Bool(n.Open))
		qp.MapEntry(ma, substituentsField, qp.List(int64(len(n.Substituents)), func(la datamodel.ListAssembler) {
			for _, sub := range n.Substituents {
				qp.ListEntry(la, qp.Map(2, func(ma datamodel.MapAssembler) {
					qp.MapEntry(ma, positionField, qp.Int(int64(sub.Position)))
					qp.MapEntry(ma, nameField, qp.String(sub.Name))
				}))
			}
		}))
	})
}

func encodeLinkage(l structure.Linkage) qp.Assemble {
	return qp.Map(5, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, parentField, qp.Int(int64(l.Parent)))
		qp.MapEntry(ma, childField, qp.Int(int64(l.Child)))
		qp.MapEntry(ma, parentPosField, qp.Int(int64(l.ParentPosition)))
		qp.MapEntry(ma, childPosField, qp.Int(int64(l.ChildPosition)))
		qp.MapEntry(ma, anomerField, qp.String(l.Anomer.String()))
	})
}

// Decode rebuilds a structure from its data model form.
func Decode(n datamodel.Node) (*structure.Structure, error) {
	root, err := lookupInt(n, rootField)
	if err != nil {
		return nil, err
	}
	nodesNode, err := n.LookupByString(nodesField)
	if err != nil {
		return nil, err
	}
	var nodes []structure.Node
	iter := nodesNode.ListIterator()
	for iter != nil && !iter.Done() {
		_, v, err := iter.Next()
		if err != nil {
			return nil, err
		}
		node, err := decodeNode(v)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	linksNode, err := n.LookupByString(linksField)
	if err != nil {
		return nil, err
	}
	var links []structure.Linkage
	iter = linksNode.ListIterator()
	for iter != nil && !iter.Done() {
		_, v, err := iter.Next()
		if err != nil {
			return nil, err
		}
		l, err := decodeLinkage(v)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return structure.FromParts(nodes, root, links)
}

func decodeNode(n datamodel.Node) (structure.Node, error) {
	var node structure.Node
	base, err := n.LookupByString(baseField)
	if err != nil {
		return node, err
	}
	if node.Base, err = base.AsString(); err != nil {
		return node, err
	}
	open, err := n.LookupByString(openField)
	if err != nil {
		return node, err
	}
	if node.Open, err = open.AsBool(); err != nil {
		return node, err
	}
	subs, err := n.LookupByString(substituentsField)
	if err != nil {
		return node, err
	}
	iter := subs.ListIterator()
	for iter != nil && !iter.Done() {
		_, v, err := iter.Next()
		if err != nil {
			return node, err
		}
		position, err := lookupInt(v, positionField)
		if err != nil {
			return node, err
		}
		nameNode, err := v.LookupByString(nameField)
		if err != nil {
			return node, err
		}
		name, err := nameNode.AsString()
		if err != nil {
			return node, err
		}
		node.Substituents = append(node.Substituents, structure.Substituent{Position: position, Name: name})
	}
	return node, nil
}

func decodeLinkage(n datamodel.Node) (structure.Linkage, error) {
	var l structure.Linkage
	var err error
	if l.Parent, err = lookupInt(n, parentField); err != nil {
		return l, err
	}
	if l.Child, err = lookupInt(n, childField); err != nil {
		return l, err
	}
	if l.ParentPosition, err = lookupInt(n, parentPosField); err != nil {
		return l, err
	}
	if l.ChildPosition, err = lookupInt(n, childPosField); err != nil {
		return l, err
	}
	anomerNode, err := n.LookupByString(anomerField)
	if err != nil {
		return l, err
	}
	anomer, err := anomerNode.AsString()
	if err != nil {
		return l, err
	}
	l.Anomer, err = structure.ParseAnomer(anomer)
	return l, err
}

func lookupInt(n datamodel.Node, key string) (int, error) {
	v, err := n.LookupByString(key)
	if err != nil {
		return 0, err
	}
	i, err := v.AsInt()
	if err != nil {
		return 0, err
	}
	return int(i), nil
}
