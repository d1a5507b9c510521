package types

import (
	"github.com/ipld/go-ipld-prime/schema"
	"github.com/vektah/gqlparser/v2/ast"
)

const (
	// RecordTypeName is the name of the record type.
	RecordTypeName = "Record"
	// QueryFieldName is the name of the query field returning records.
	QueryFieldName = "records"
	// FilterArgName is the name of the filter argument on the query field.
	FilterArgName = "filter"
)

// Record field names.
const (
	IDFieldName          = "id"
	MassFieldName        = "mass"
	CompositionFieldName = "composition"
	KeyFieldName         = "key"
	NodesFieldName       = "nodes"
	FlagsFieldName       = "flags"
	StructureFieldName   = "structure"
)

var (
	TypeInt                = schema.SpawnInt("Int")
	TypeFloat              = schema.SpawnFloat("Float")
	TypeBoolean            = schema.SpawnBool("Boolean")
	TypeString             = schema.SpawnString("String")
	TypeLink               = schema.SpawnLink("Link")
	TypeIntList            = schema.SpawnList("[Int]", TypeInt.Name(), true)
	TypeNotNullIntList     = schema.SpawnList("[Int!]", TypeInt.Name(), false)
	TypeFloatList          = schema.SpawnList("[Float]", TypeFloat.Name(), true)
	TypeNotNullFloatList   = schema.SpawnList("[Float!]", TypeFloat.Name(), false)
	TypeStringList         = schema.SpawnList("[String]", TypeString.Name(), true)
	TypeNotNullStringList  = schema.SpawnList("[String!]", TypeString.Name(), false)
	TypeBooleanList        = schema.SpawnList("[Boolean]", TypeBoolean.Name(), true)
	TypeNotNullBooleanList = schema.SpawnList("[Boolean!]", TypeBoolean.Name(), false)
)

var baseTypes = []schema.Type{
	TypeInt,
	TypeFloat,
	TypeBoolean,
	TypeString,
	TypeLink,
	TypeIntList,
	TypeNotNullIntList,
	TypeFloatList,
	TypeNotNullFloatList,
	TypeStringList,
	TypeNotNullStringList,
	TypeBooleanList,
	TypeNotNullBooleanList,
}

// accumulate returns a type system containing the stored object types of s.
func accumulate(s *ast.Schema) *schema.TypeSystem {
	ts := schema.MustTypeSystem(baseTypes...)
	for _, d := range s.Types {
		if d.BuiltIn || d == s.Query {
			continue
		}
		accumulateType(d, ts)
	}
	return ts
}

func accumulateType(d *ast.Definition, ts *schema.TypeSystem) {
	switch d.Kind {
	case ast.Object:
		fields := make([]schema.StructField, len(d.Fields))
		for i, f := range d.Fields {
			fields[i] = schema.SpawnStructField(f.Name, fieldType(f.Type), !f.Type.NonNull, !f.Type.NonNull)
		}
		ts.Accumulate(schema.SpawnStruct(d.Name, fields, schema.SpawnStructRepresentationMap(nil)))

	case ast.Enum:
		members := make([]string, len(d.EnumValues))
		repr := make(schema.EnumRepresentation_String)
		for i, v := range d.EnumValues {
			members[i] = v.Name
			repr[v.Name] = v.Name
		}
		ts.Accumulate(schema.SpawnEnum(d.Name, members, repr))
	}
}

// fieldType returns the name of the type system type for t. List names carry
// the nullability of their elements.
func fieldType(t *ast.Type) string {
	if t.Elem == nil {
		return t.NamedType
	}
	elem := fieldType(t.Elem)
	if t.Elem.NonNull {
		elem += "!"
	}
	return "[" + elem + "]"
}
