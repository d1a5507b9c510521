package query

import (
	"cmp"
	"fmt"
	"math"

	"github.com/ipld/go-ipld-prime/datamodel"
)

const (
	equalFilter          = "eq"
	notEqualFilter       = "neq"
	greaterFilter        = "gt"
	greaterOrEqualFilter = "gte"
	lessFilter           = "lt"
	lessOrEqualFilter    = "lte"
	inFilter             = "in"
	notInFilter          = "nin"
	andFilter            = "and"
	orFilter             = "or"
	notFilter            = "not"
	allFilter            = "all"
	anyFilter            = "any"
	noneFilter           = "none"
)

// Filter is a set of operators used to match record fields.
//
// A nil Filter matches every record.
type Filter struct {
	value map[string]any
}

// NewFilter returns a filter for the given argument value.
func NewFilter(value map[string]any) *Filter {
	return &Filter{value: value}
}

// Value returns the argument value of the filter.
func (f *Filter) Value() map[string]any {
	if f == nil {
		return nil
	}
	return f.value
}

// Match returns true if the given record node matches the filter.
func (f *Filter) Match(n datamodel.Node) (bool, error) {
	if f == nil {
		return true, nil
	}
	return matchDocument(n, f.value)
}

// Range returns the inclusive numeric bounds the filter places directly on
// the given field. Bounds from gt and lt are widened to inclusive, so the
// filter must still be applied to each candidate.
func (f *Filter) Range(field string) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(-1), math.Inf(1)
	ops, _ := f.Value()[field].(map[string]any)
	for key, val := range ops {
		v, isNum := toFloat(val)
		if !isNum {
			continue
		}
		switch key {
		case equalFilter:
			lo, hi = max(lo, v), min(hi, v)
		case greaterFilter, greaterOrEqualFilter:
			lo = max(lo, v)
		case lessFilter, lessOrEqualFilter:
			hi = min(hi, v)
		default:
			continue
		}
		ok = true
	}
	return lo, hi, ok
}

// Equal returns the values a string field must equal one of.
func (f *Filter) Equal(field string) ([]string, bool) {
	ops, _ := f.Value()[field].(map[string]any)
	return stringSet(ops)
}

// Contains returns the values a list field must contain at least one of.
func (f *Filter) Contains(field string) ([]string, bool) {
	ops, _ := f.Value()[field].(map[string]any)
	inner, _ := ops[anyFilter].(map[string]any)
	return stringSet(inner)
}

func stringSet(ops map[string]any) ([]string, bool) {
	if v, ok := ops[equalFilter].(string); ok {
		return []string{v}, true
	}
	list, ok := ops[inFilter].([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func matchDocument(n datamodel.Node, value any) (bool, error) {
	if value == nil {
		return true, nil
	}
	fields, ok := value.(map[string]any)
	if !ok {
		return false, fmt.Errorf("invalid filter value %T", value)
	}
	for key, val := range fields {
		switch key {
		case andFilter:
			match, err := matchAnd(n, val)
			if err != nil || !match {
				return false, err
			}
		case orFilter:
			match, err := matchOr(n, val)
			if err != nil || !match {
				return false, err
			}
		case notFilter:
			if val == nil {
				continue
			}
			match, err := matchDocument(n, val)
			if err != nil || match {
				return false, err
			}
		default:
			field, err := n.LookupByString(key)
			if err != nil {
				return false, err
			}
			match, err := matchField(field, val)
			if err != nil || !match {
				return false, err
			}
		}
	}
	return true, nil
}

func matchField(n datamodel.Node, value any) (bool, error) {
	if value == nil {
		return true, nil
	}
	ops, ok := value.(map[string]any)
	if !ok {
		return false, fmt.Errorf("invalid filter value %T", value)
	}
	for key, val := range ops {
		if val == nil {
			continue
		}
		switch key {
		case equalFilter:
			match, err := filterEqual(n, val)
			if err != nil || !match {
				return false, err
			}
		case notEqualFilter:
			match, err := filterEqual(n, val)
			if err != nil || match {
				return false, err
			}
		case greaterFilter:
			match, err := filterCompare(n, val)
			if err != nil || match <= 0 {
				return false, err
			}
		case greaterOrEqualFilter:
			match, err := filterCompare(n, val)
			if err != nil || match < 0 {
				return false, err
			}
		case lessFilter:
			match, err := filterCompare(n, val)
			if err != nil || match >= 0 {
				return false, err
			}
		case lessOrEqualFilter:
			match, err := filterCompare(n, val)
			if err != nil || match > 0 {
				return false, err
			}
		case inFilter:
			match, err := filterIn(n, val)
			if err != nil || !match {
				return false, err
			}
		case notInFilter:
			match, err := filterIn(n, val)
			if err != nil || match {
				return false, err
			}
		case allFilter:
			match, err := matchAll(n, val)
			if err != nil || !match {
				return false, err
			}
		case anyFilter:
			match, err := matchAny(n, val)
			if err != nil || !match {
				return false, err
			}
		case noneFilter:
			match, err := matchAny(n, val)
			if err != nil || match {
				return false, err
			}
		default:
			return false, fmt.Errorf("invalid filter operator %s", key)
		}
	}
	return true, nil
}

func matchAnd(n datamodel.Node, value any) (bool, error) {
	if value == nil {
		return true, nil
	}
	for _, v := range asList(value) {
		match, err := matchDocument(n, v)
		if err != nil || !match {
			return false, err
		}
	}
	return true, nil
}

func matchOr(n datamodel.Node, value any) (bool, error) {
	if value == nil {
		return true, nil
	}
	for _, v := range asList(value) {
		match, err := matchDocument(n, v)
		if err != nil || match {
			return match, err
		}
	}
	return false, nil
}

func matchAll(n datamodel.Node, value any) (bool, error) {
	iter := n.ListIterator()
	if iter == nil {
		return false, fmt.Errorf("invalid kind for all filter: %s", n.Kind())
	}
	for !iter.Done() {
		_, v, err := iter.Next()
		if err != nil {
			return false, err
		}
		match, err := matchField(v, value)
		if err != nil || !match {
			return false, err
		}
	}
	return true, nil
}

func matchAny(n datamodel.Node, value any) (bool, error) {
	iter := n.ListIterator()
	if iter == nil {
		return false, fmt.Errorf("invalid kind for any filter: %s", n.Kind())
	}
	for !iter.Done() {
		_, v, err := iter.Next()
		if err != nil {
			return false, err
		}
		match, err := matchField(v, value)
		if err != nil || match {
			return match, err
		}
	}
	return false, nil
}

func filterIn(n datamodel.Node, value any) (bool, error) {
	for _, v := range asList(value) {
		match, err := filterCompare(n, v)
		if err != nil {
			return false, err
		}
		if match == 0 {
			return true, nil
		}
	}
	return false, nil
}

func filterCompare(n datamodel.Node, value any) (int, error) {
	switch n.Kind() {
	case datamodel.Kind_Int:
		v, err := n.AsInt()
		if err != nil {
			return 0, err
		}
		if other, ok := value.(int64); ok {
			return cmp.Compare(v, other), nil
		}
		other, ok := toFloat(value)
		if !ok {
			return 0, fmt.Errorf("invalid value for int compare: %T", value)
		}
		return cmp.Compare(float64(v), other), nil
	case datamodel.Kind_Float:
		v, err := n.AsFloat()
		if err != nil {
			return 0, err
		}
		other, ok := toFloat(value)
		if !ok {
			return 0, fmt.Errorf("invalid value for float compare: %T", value)
		}
		return cmp.Compare(v, other), nil
	case datamodel.Kind_String:
		v, err := n.AsString()
		if err != nil {
			return 0, err
		}
		other, ok := value.(string)
		if !ok {
			return 0, fmt.Errorf("invalid value for string compare: %T", value)
		}
		return cmp.Compare(v, other), nil
	default:
		return 0, fmt.Errorf("invalid kind for compare filter: %s", n.Kind())
	}
}

func filterEqual(n datamodel.Node, value any) (bool, error) {
	switch n.Kind() {
	case datamodel.Kind_Bool:
		v, err := n.AsBool()
		if err != nil {
			return false, err
		}
		return v == value, nil
	default:
		match, err := filterCompare(n, value)
		if err != nil {
			return false, err
		}
		return match == 0, nil
	}
}

// asList returns value as a list, wrapping a single value the way GraphQL
// input coercion does.
func asList(value any) []any {
	if list, ok := value.([]any); ok {
		return list
	}
	return []any{value}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
