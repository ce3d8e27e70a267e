// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package filter defines structured predicate expressions over item
// attributes. Predicates are produced by access rules and callers, merged
// conjunctively by the access package, evaluated in-process against concrete
// rows, and compiled to SQL by the postgres store adapter.
package filter

import (
	"reflect"
	"strings"
)

// Op identifies a comparison operator.
type Op string

// Supported comparison operators.
const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpIn       Op = "in"
	OpContains Op = "contains"
)

// Predicate restricts which rows are in scope for an operation.
// The concrete types are Comparison, Conjunction, Disjunction and Negation.
// A nil Predicate matches everything.
type Predicate interface {
	// Match evaluates the predicate against a concrete row.
	Match(item map[string]any) bool

	sealed()
}

// Comparison compares a single field against a value.
type Comparison struct {
	Field string
	Op    Op
	Value any
}

// Conjunction matches when every child predicate matches.
type Conjunction []Predicate

// Disjunction matches when at least one child predicate matches.
type Disjunction []Predicate

// Negation inverts its inner predicate.
type Negation struct {
	Inner Predicate
}

func (Comparison) sealed()  {}
func (Conjunction) sealed() {}
func (Disjunction) sealed() {}
func (Negation) sealed()    {}

// Eq returns a field == value comparison.
func Eq(field string, value any) Predicate { return Comparison{Field: field, Op: OpEq, Value: value} }

// Ne returns a field != value comparison.
func Ne(field string, value any) Predicate { return Comparison{Field: field, Op: OpNe, Value: value} }

// Gt returns a field > value comparison.
func Gt(field string, value any) Predicate { return Comparison{Field: field, Op: OpGt, Value: value} }

// Gte returns a field >= value comparison.
func Gte(field string, value any) Predicate {
	return Comparison{Field: field, Op: OpGte, Value: value}
}

// Lt returns a field < value comparison.
func Lt(field string, value any) Predicate { return Comparison{Field: field, Op: OpLt, Value: value} }

// Lte returns a field <= value comparison.
func Lte(field string, value any) Predicate {
	return Comparison{Field: field, Op: OpLte, Value: value}
}

// In returns a field ∈ values comparison.
func In(field string, values ...any) Predicate {
	return Comparison{Field: field, Op: OpIn, Value: values}
}

// Contains returns a substring (string fields) or membership (list fields)
// comparison.
func Contains(field string, value any) Predicate {
	return Comparison{Field: field, Op: OpContains, Value: value}
}

// And combines predicates conjunctively. Nil children are dropped and nested
// conjunctions are flattened, so And is associative and order-independent at
// the structural level. And() returns nil (matches everything).
func And(preds ...Predicate) Predicate {
	flat := make(Conjunction, 0, len(preds))
	for _, p := range preds {
		switch v := p.(type) {
		case nil:
		case Conjunction:
			flat = append(flat, v...)
		default:
			flat = append(flat, p)
		}
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	default:
		return flat
	}
}

// Or combines predicates disjunctively with the same flattening rules as And.
func Or(preds ...Predicate) Predicate {
	flat := make(Disjunction, 0, len(preds))
	for _, p := range preds {
		switch v := p.(type) {
		case nil:
		case Disjunction:
			flat = append(flat, v...)
		default:
			flat = append(flat, p)
		}
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	default:
		return flat
	}
}

// Not inverts a predicate. Not(nil) matches nothing.
func Not(p Predicate) Predicate {
	return Negation{Inner: p}
}

// Match evaluates the comparison against a row.
func (c Comparison) Match(item map[string]any) bool {
	got, ok := item[c.Field]
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return valuesEqual(got, c.Value)
	case OpNe:
		return !valuesEqual(got, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		cmp, comparable := Compare(got, c.Value)
		if !comparable {
			return false
		}
		switch c.Op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpIn:
		for _, candidate := range asSlice(c.Value) {
			if valuesEqual(got, candidate) {
				return true
			}
		}
		return false
	case OpContains:
		if s, ok := got.(string); ok {
			want, ok := c.Value.(string)
			return ok && strings.Contains(s, want)
		}
		for _, member := range asSlice(got) {
			if valuesEqual(member, c.Value) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Match evaluates the conjunction against a row.
func (c Conjunction) Match(item map[string]any) bool {
	for _, p := range c {
		if p == nil {
			continue
		}
		if !p.Match(item) {
			return false
		}
	}
	return true
}

// Match evaluates the disjunction against a row.
func (d Disjunction) Match(item map[string]any) bool {
	for _, p := range d {
		if p != nil && p.Match(item) {
			return true
		}
	}
	return false
}

// Match evaluates the negation against a row.
func (n Negation) Match(item map[string]any) bool {
	if n.Inner == nil {
		return false
	}
	return !n.Inner.Match(item)
}

// valuesEqual compares two values, coercing numeric kinds so that
// e.g. int(3) equals float64(3).
func valuesEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two values. Numbers compare numerically, strings
// lexically. Returns comparable=false for mixed or unordered kinds.
func Compare(a, b any) (cmp int, comparable bool) {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func asSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	default:
		return nil
	}
}
