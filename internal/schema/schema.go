// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package schema defines the static, process-lifetime description of
// collections: their fields, access rules, lifecycle hooks, and structural
// flags. Schemas are built once at process start, validated by Load, and
// immutable thereafter.
package schema

import (
	"context"
	"fmt"
	"regexp"

	"github.com/quillcms/quill/internal/access"
	"github.com/quillcms/quill/internal/session"
)

// System field names. These are engine-managed: always readable, never
// writable through input payloads, and cannot be declared in a schema.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// IsSystemField reports whether name is an engine-managed field.
func IsSystemField(name string) bool {
	return name == FieldID || name == FieldCreatedAt || name == FieldUpdatedAt
}

// Kind identifies a field's data kind.
type Kind string

// Field kinds.
const (
	KindText         Kind = "text"
	KindNumber       Kind = "number"
	KindBool         Kind = "bool"
	KindJSON         Kind = "json"
	KindRelationship Kind = "relationship"
)

// Relation describes the target of a relationship field.
//
// A non-many relationship implies a shadow foreign-key attribute in stored
// rows. Its name defaults to "<field>Id" and may be overridden with
// ShadowKey; the mapping is resolved exactly once at Load, never re-derived
// from name suffixes at call time.
type Relation struct {
	Collection string
	Many       bool
	ShadowKey  string
}

// FieldAccess holds the optional per-field rules. A nil rule defaults to
// Allow.
type FieldAccess struct {
	Read   access.Rule
	Create access.Rule
	Update access.Rule
}

// Field describes one field of a collection.
type Field struct {
	Kind     Kind
	Required bool

	// Constraints for text fields.
	MinLen  int
	MaxLen  int
	Pattern string

	// Constraints for number fields.
	Min *float64
	Max *float64

	// Default is applied on create when the input omits the field, and
	// drives singleton auto-creation.
	Default any

	Access   FieldAccess
	Relation *Relation

	pattern *regexp.Regexp
}

// CollectionAccess holds the optional per-operation collection rules.
// Query covers findUnique, findMany, count, and get. Nil rules default to
// Allow.
type CollectionAccess struct {
	Query  access.Rule
	Create access.Rule
	Update access.Rule
	Delete access.Rule
}

// FieldMessage is one field-scoped validation message.
type FieldMessage struct {
	Field   string
	Message string
}

// HookArgs carries the evaluation context for one hook invocation.
//
// Item is the pre-operation row for update/delete, and the committed or
// fetched row for afterOperation. Input is the current payload for
// create/update stages.
type HookArgs struct {
	Collection string
	Operation  access.Operation
	Principal  *session.Principal
	Item       map[string]any
	Input      map[string]any
}

// ResolveInputHook may rewrite the input payload (derive a slug, stamp a
// value). It must not have side effects beyond computing the replacement
// payload. Returning nil keeps the payload unchanged.
type ResolveInputHook func(ctx context.Context, args HookArgs) (map[string]any, error)

// ValidateInputHook inspects the resolved payload and returns field-scoped
// messages. It must not mutate the payload. Any returned message aborts the
// operation before the store call.
type ValidateInputHook func(ctx context.Context, args HookArgs) ([]FieldMessage, error)

// BeforeHook runs after validation passes and before the store call. It may
// have side effects but must not alter the payload.
type BeforeHook func(ctx context.Context, args HookArgs) error

// AfterHook runs after the store call with the committed row (or the
// deleted row's last known state).
type AfterHook func(ctx context.Context, args HookArgs) error

// HookSet holds the lifecycle hooks of one collection. Hooks of the same
// stage run sequentially in declaration order, since one hook's side effect
// may need to be visible to the next.
type HookSet struct {
	ResolveInput    []ResolveInputHook
	ValidateInput   []ValidateInputHook
	BeforeOperation []BeforeHook
	AfterOperation  []AfterHook
}

// Collection is the static definition of one named collection.
type Collection struct {
	Name   string
	Fields map[string]Field
	Access CollectionAccess
	Hooks  HookSet

	// Singleton constrains the collection to at most one row.
	// SingletonAutoCreate controls whether Get synthesizes the row from
	// field defaults when none exists; Load defaults it to true for
	// singletons unless DisableAutoCreate is set.
	Singleton           bool
	SingletonAutoCreate bool
	DisableAutoCreate   bool

	// Version is the collection schema version, validated as semver by Load.
	Version string

	// shadowKeys maps shadow foreign-key attribute name to the owning
	// relationship field name. Resolved once by Load.
	shadowKeys map[string]string
}

// ShadowKeyOwner returns the relationship field owning the given shadow
// foreign-key attribute, if any. Only meaningful after Load.
func (c *Collection) ShadowKeyOwner(shadowKey string) (string, bool) {
	owner, ok := c.shadowKeys[shadowKey]
	return owner, ok
}

// ShadowKeyFor returns the shadow foreign-key attribute name for a non-many
// relationship field. Only meaningful after Load.
func (c *Collection) ShadowKeyFor(field string) (string, bool) {
	f, ok := c.Fields[field]
	if !ok || f.Relation == nil || f.Relation.Many {
		return "", false
	}
	if f.Relation.ShadowKey != "" {
		return f.Relation.ShadowKey, true
	}
	return field + "Id", true
}

// ValidateValue checks one concrete value against the field's constraints.
// It returns a message suitable for a FieldMessage, or "" when valid.
func (f *Field) ValidateValue(value any) string {
	switch f.Kind {
	case KindText:
		s, ok := value.(string)
		if !ok {
			return "must be a string"
		}
		if f.MinLen > 0 && len(s) < f.MinLen {
			return fmt.Sprintf("must be at least %d characters", f.MinLen)
		}
		if f.MaxLen > 0 && len(s) > f.MaxLen {
			return fmt.Sprintf("must be at most %d characters", f.MaxLen)
		}
		if f.pattern != nil && !f.pattern.MatchString(s) {
			return fmt.Sprintf("must match pattern %s", f.Pattern)
		}
	case KindNumber:
		n, ok := toFloat(value)
		if !ok {
			return "must be a number"
		}
		if f.Min != nil && n < *f.Min {
			return fmt.Sprintf("must be at least %v", *f.Min)
		}
		if f.Max != nil && n > *f.Max {
			return fmt.Sprintf("must be at most %v", *f.Max)
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			return "must be a boolean"
		}
	case KindRelationship:
		if f.Relation != nil && f.Relation.Many {
			if _, ok := value.([]any); !ok {
				if _, ok := value.([]string); !ok {
					return "must be a list of identifiers"
				}
			}
			return ""
		}
		if _, ok := value.(string); !ok {
			return "must be an identifier"
		}
	case KindJSON:
		// Any JSON-shaped value is acceptable.
	}
	return ""
}

func toFloat(v any) (float64, bool) {
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
