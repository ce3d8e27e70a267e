// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package filter

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"
)

// filterLexer defines the token types for the filter expression language.
// Multi-character operators come before their single-character prefixes so
// ">=" is not split into ">" and "=".
var filterLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"[^"]*"`},
	{Name: "Number", Pattern: `[-+]?\d+(\.\d+)?`},
	{Name: "OpEq", Pattern: `==`},
	{Name: "OpNe", Pattern: `!=`},
	{Name: "OpGte", Pattern: `>=`},
	{Name: "OpLte", Pattern: `<=`},
	{Name: "OpGt", Pattern: `>`},
	{Name: "OpLt", Pattern: `<`},
	{Name: "OpAnd", Pattern: `&&`},
	{Name: "OpOr", Pattern: `\|\|`},
	{Name: "Bang", Pattern: `!`},
	{Name: "Ident", Pattern: `[a-zA-Z_]\w*`},
	{Name: "Punct", Pattern: `[(),\[\]]`},
	{Name: "whitespace", Pattern: `\s+`},
})

// exprNode is the grammar root: disjunction of conjunctions.
type exprNode struct {
	Or []*andNode `parser:"@@ (OpOr @@)*"`
}

type andNode struct {
	Terms []*unaryNode `parser:"@@ (OpAnd @@)*"`
}

type unaryNode struct {
	Not *unaryNode `parser:"  Bang @@"`
	Sub *exprNode  `parser:"| '(' @@ ')'"`
	Cmp *cmpNode   `parser:"| @@"`
}

type cmpNode struct {
	Field string     `parser:"@Ident"`
	Op    string     `parser:"@(OpEq | OpNe | OpGte | OpLte | OpGt | OpLt | 'in' | 'contains')"`
	Value *valueNode `parser:"@@"`
}

type valueNode struct {
	Str  *string      `parser:"  @String"`
	Num  *float64     `parser:"| @Number"`
	Bool *string      `parser:"| @('true' | 'false')"`
	List []*valueNode `parser:"| '[' @@ (',' @@)* ']'"`
}

var exprParser = participle.MustBuild[exprNode](
	participle.Lexer(filterLexer),
	participle.Unquote("String"),
)

// Parse converts a filter expression string into a Predicate.
//
//	status == "published" && views >= 10
//	role in ["editor", "admin"] || !(archived == true)
func Parse(src string) (Predicate, error) {
	node, err := exprParser.ParseString("", src)
	if err != nil {
		return nil, oops.Code("FILTER_PARSE").With("expression", src).Wrap(err)
	}
	return node.predicate(), nil
}

var opTokens = map[string]Op{
	"==":       OpEq,
	"!=":       OpNe,
	">":        OpGt,
	">=":       OpGte,
	"<":        OpLt,
	"<=":       OpLte,
	"in":       OpIn,
	"contains": OpContains,
}

func (e *exprNode) predicate() Predicate {
	parts := make([]Predicate, 0, len(e.Or))
	for _, a := range e.Or {
		parts = append(parts, a.predicate())
	}
	return Or(parts...)
}

func (a *andNode) predicate() Predicate {
	parts := make([]Predicate, 0, len(a.Terms))
	for _, u := range a.Terms {
		parts = append(parts, u.predicate())
	}
	return And(parts...)
}

func (u *unaryNode) predicate() Predicate {
	switch {
	case u.Not != nil:
		return Not(u.Not.predicate())
	case u.Sub != nil:
		return u.Sub.predicate()
	default:
		return u.Cmp.predicate()
	}
}

func (c *cmpNode) predicate() Predicate {
	return Comparison{Field: c.Field, Op: opTokens[c.Op], Value: c.Value.value()}
}

func (v *valueNode) value() any {
	switch {
	case v.Str != nil:
		return *v.Str
	case v.Num != nil:
		return *v.Num
	case v.Bool != nil:
		return *v.Bool == "true"
	default:
		out := make([]any, 0, len(v.List))
		for _, e := range v.List {
			out = append(out, e.value())
		}
		return out
	}
}
