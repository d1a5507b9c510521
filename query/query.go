// Package query parses and evaluates record filters.
//
// Filters are written as GraphQL input literals of the RecordFilter type, for
// example `{mass: {gte: 499, lte: 501}, flags: {any: {eq: "n_glycan"}}}`.
package query

import (
	"fmt"
	"strings"

	"github.com/99designs/gqlgen/graphql"
	"github.com/nasdf/glyco/types"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// Params holds a filter expression and the variables it references.
type Params struct {
	Filter    string         `json:"filter" yaml:"filter"`
	Variables map[string]any `json:"variables" yaml:"variables"`
}

// Parse creates a Filter from the given expression.
//
// An empty expression returns a nil Filter that matches every record.
func Parse(system *types.System, expr string) (*Filter, error) {
	return ParseParams(system, &Params{Filter: expr})
}

// ParseParams creates a Filter from the given params. Variables are declared
// as RecordFilter values, so `$f` in an expression refers to Variables["f"].
func ParseParams(system *types.System, params *Params) (*Filter, error) {
	expr := strings.TrimSpace(params.Filter)
	if expr == "" {
		return nil, nil
	}

	var decls []string
	for name := range params.Variables {
		decls = append(decls, fmt.Sprintf("$%s: RecordFilter", name))
	}
	var signature string
	if len(decls) > 0 {
		signature = "(" + strings.Join(decls, ", ") + ")"
	}
	src := fmt.Sprintf("query%s { %s(%s: %s) { %s } }",
		signature, types.QueryFieldName, types.FilterArgName, expr, types.IDFieldName)

	doc, errs := gqlparser.LoadQuery(system.Schema(), src)
	if errs != nil {
		return nil, errs
	}
	if len(doc.Operations) != 1 {
		return nil, fmt.Errorf("operation is not defined")
	}
	op := doc.Operations[0]
	if op.Operation != ast.Query {
		return nil, fmt.Errorf("operation not supported: %s", op.Operation)
	}
	if len(op.SelectionSet) != 1 {
		return nil, fmt.Errorf("filter must select a single %s field", types.QueryFieldName)
	}
	if f, ok := op.SelectionSet[0].(*ast.Field); !ok || f.Alias != types.QueryFieldName || len(f.Directives) > 0 {
		return nil, fmt.Errorf("filter must select a single %s field", types.QueryFieldName)
	}

	fields := graphql.CollectFields(&graphql.OperationContext{
		Doc:       doc,
		Variables: params.Variables,
	}, op.SelectionSet, nil)

	for _, f := range fields {
		if f.Name != types.QueryFieldName {
			continue
		}
		args := f.ArgumentMap(params.Variables)
		value, ok := args[types.FilterArgName].(map[string]any)
		if !ok {
			return nil, nil
		}
		return NewFilter(value), nil
	}
	return nil, fmt.Errorf("field %s is not defined", types.QueryFieldName)
}
