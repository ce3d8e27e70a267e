// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package postgres

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/oops"

	"github.com/quillcms/quill/internal/filter"
)

// fieldNameRe mirrors the schema's field-name shape. Field names interpolate
// into jsonb path expressions, so anything else is rejected outright.
var fieldNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var sqlOps = map[filter.Op]string{
	filter.OpEq:  "=",
	filter.OpNe:  "<>",
	filter.OpGt:  ">",
	filter.OpGte: ">=",
	filter.OpLt:  "<",
	filter.OpLte: "<=",
}

// builder accumulates positional arguments while compiling a predicate to a
// WHERE fragment. Callers pre-seed args with the fixed query parameters.
type builder struct {
	args []any
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// where compiles the predicate to a SQL boolean expression over the row's
// jsonb payload. A nil predicate compiles to the empty string.
func (b *builder) where(p filter.Predicate) (string, error) {
	if p == nil {
		return "", nil
	}
	switch v := p.(type) {
	case filter.Comparison:
		return b.comparison(v)
	case filter.Conjunction:
		return b.junction([]filter.Predicate(v), " AND ", "TRUE")
	case filter.Disjunction:
		return b.junction([]filter.Predicate(v), " OR ", "FALSE")
	case filter.Negation:
		if v.Inner == nil {
			return "FALSE", nil
		}
		inner, err := b.where(v.Inner)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	default:
		return "", oops.Code("FILTER_COMPILE").Errorf("unsupported predicate type %T", p)
	}
}

func (b *builder) junction(children []filter.Predicate, sep, empty string) (string, error) {
	parts := make([]string, 0, len(children))
	for _, child := range children {
		if child == nil {
			continue
		}
		part, err := b.where(child)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return empty, nil
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (b *builder) comparison(c filter.Comparison) (string, error) {
	field, err := jsonField(c.Field)
	if err != nil {
		return "", err
	}

	switch c.Op {
	case filter.OpEq, filter.OpNe, filter.OpGt, filter.OpGte, filter.OpLt, filter.OpLte:
		op := sqlOps[c.Op]
		if n, ok := asFloat(c.Value); ok {
			return fmt.Sprintf("(%s)::numeric %s %s", field, op, b.bind(n)), nil
		}
		if bv, ok := c.Value.(bool); ok {
			return fmt.Sprintf("(%s)::boolean %s %s", field, op, b.bind(bv)), nil
		}
		return fmt.Sprintf("%s %s %s", field, op, b.bind(c.Value)), nil

	case filter.OpIn:
		values, ok := c.Value.([]any)
		if !ok {
			return "", oops.Code("FILTER_COMPILE").
				With("field", c.Field).
				Errorf("in comparison requires a list value")
		}
		texts := make([]string, len(values))
		for i, v := range values {
			if s, ok := v.(string); ok {
				texts[i] = s
				continue
			}
			texts[i] = fmt.Sprint(v)
		}
		return fmt.Sprintf("%s = ANY(%s)", field, b.bind(texts)), nil

	case filter.OpContains:
		if s, ok := c.Value.(string); ok {
			return fmt.Sprintf("%s LIKE %s", field, b.bind("%"+escapeLike(s)+"%")), nil
		}
		raw, err := json.Marshal(c.Value)
		if err != nil {
			return "", oops.Code("FILTER_COMPILE").With("field", c.Field).Wrap(err)
		}
		member, err := jsonMember(c.Field)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s @> %s::jsonb", member, b.bind(raw)), nil

	default:
		return "", oops.Code("FILTER_COMPILE").
			With("field", c.Field).
			Errorf("unsupported operator %q", c.Op)
	}
}

// jsonField returns the text extraction expression for a payload field.
func jsonField(name string) (string, error) {
	if !fieldNameRe.MatchString(name) {
		return "", oops.Code("FILTER_COMPILE").Errorf("invalid field name %q", name)
	}
	return "data->>'" + name + "'", nil
}

// jsonMember returns the jsonb extraction expression, used for containment.
func jsonMember(name string) (string, error) {
	if !fieldNameRe.MatchString(name) {
		return "", oops.Code("FILTER_COMPILE").Errorf("invalid field name %q", name)
	}
	return "data->'" + name + "'", nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
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
