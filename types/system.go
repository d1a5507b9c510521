// Package types defines the record schema shared by the store and the query
// layer.
package types

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/node/bindnode"
	"github.com/ipld/go-ipld-prime/schema"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// SchemaVersion is the version of the record layout written by this package.
// Stores created with a different version cannot be opened.
const SchemaVersion = 1

// Schema is the GraphQL definition of stored records and their filters.
//
//go:embed schema.graphql
var Schema string

// System holds the parsed record schema and its IPLD type system.
type System struct {
	source string
	schema *ast.Schema
	system *schema.TypeSystem
}

// NewSystem parses the given schema definition.
func NewSystem(source string) (*System, error) {
	s, err := gqlparser.LoadSchema(&ast.Source{Name: "schema.graphql", Input: source})
	if err != nil {
		return nil, err
	}
	if s.Types[RecordTypeName] == nil {
		return nil, fmt.Errorf("schema does not define type %s", RecordTypeName)
	}
	system := accumulate(s)
	errs := system.ValidateGraph()
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &System{
		source: source,
		schema: s,
		system: system,
	}, nil
}

// DefaultSystem returns the system for the embedded record schema.
func DefaultSystem() (*System, error) {
	return NewSystem(Schema)
}

// Source returns the schema definition the system was built from.
func (s *System) Source() string {
	return s.source
}

// Schema returns the parsed GraphQL schema.
func (s *System) Schema() *ast.Schema {
	return s.schema
}

func (s *System) Type(name string) schema.Type {
	return s.system.TypeByName(name)
}

func (s *System) Prototype(name string) datamodel.NodePrototype {
	return bindnode.Prototype(nil, s.Type(name))
}

// Validate returns an error if the given node does not conform to the record type.
func (s *System) Validate(n datamodel.Node) error {
	nb := s.Prototype(RecordTypeName).NewBuilder()
	if err := nb.AssignNode(n); err != nil {
		return fmt.Errorf("invalid %s: %w", RecordTypeName, err)
	}
	return nil
}
