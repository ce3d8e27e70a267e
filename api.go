// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package quill

// The implementation lives under internal/; this file re-exports the types
// and constructors embedders need to declare schemas, write rules and run
// operations.

import (
	"github.com/quillcms/quill/internal/access"
	"github.com/quillcms/quill/internal/config"
	"github.com/quillcms/quill/internal/engine"
	"github.com/quillcms/quill/internal/filter"
	"github.com/quillcms/quill/internal/schema"
	"github.com/quillcms/quill/internal/session"
	"github.com/quillcms/quill/internal/store"
)

// Configuration.
type Config = config.Config

// LoadConfig reads the configuration file at path (may be empty for
// defaults).
func LoadConfig(path string) (*Config, error) {
	return config.Load(path, nil)
}

// DefaultConfig returns the built-in defaults (in-memory store, JSON logs).
var DefaultConfig = config.Default

// Identity.
type Principal = session.Principal

// NewPrincipal builds a Principal from an attribute map. Principal keys
// "sub" and "role" have typed accessors.
var NewPrincipal = session.New

// Elevated derives a context whose operations bypass access rules. Intended
// for trusted internal flows such as seeding; structural invariants still
// apply.
var Elevated = session.Elevated

// Schema declaration.
type (
	Collection       = schema.Collection
	Field            = schema.Field
	FieldAccess      = schema.FieldAccess
	CollectionAccess = schema.CollectionAccess
	Relation         = schema.Relation
	HookSet          = schema.HookSet
	HookArgs         = schema.HookArgs
	FieldMessage     = schema.FieldMessage
	Registry         = schema.Registry
	Kind             = schema.Kind
)

// Field kinds.
const (
	KindText         = schema.KindText
	KindNumber       = schema.KindNumber
	KindBool         = schema.KindBool
	KindJSON         = schema.KindJSON
	KindRelationship = schema.KindRelationship
)

// LoadSchemas validates collection declarations into a Registry.
var LoadSchemas = schema.Load

// MustLoadSchemas is LoadSchemas that panics on error.
var MustLoadSchemas = schema.MustLoad

// Access rules.
type (
	Rule      = access.Rule
	RuleInput = access.RuleInput
	Decision  = access.Decision
	Operation = access.Operation
)

// Decision constructors.
var (
	Allow    = access.Allow
	Deny     = access.Deny
	Filtered = access.Filtered
)

// Common rules.
var (
	AllowAll      = access.AllowAll
	DenyAll       = access.DenyAll
	Authenticated = access.Authenticated
	RoleMatches   = access.RoleMatches
)

// Operations.
const (
	OpCreate     = access.OpCreate
	OpUpdate     = access.OpUpdate
	OpDelete     = access.OpDelete
	OpFindUnique = access.OpFindUnique
	OpFindMany   = access.OpFindMany
	OpCount      = access.OpCount
	OpGet        = access.OpGet
)

// Filters.
type Predicate = filter.Predicate

var (
	Eq       = filter.Eq
	Ne       = filter.Ne
	Gt       = filter.Gt
	Gte      = filter.Gte
	Lt       = filter.Lt
	Lte      = filter.Lte
	In       = filter.In
	Contains = filter.Contains
	And      = filter.And
	Or       = filter.Or
	Not      = filter.Not
)

// ParseFilter parses a string filter expression, e.g.
// `status == "published" && views >= 10`.
var ParseFilter = filter.Parse

// Requests and results.
type (
	OperationRequest = engine.OperationRequest
	Include          = engine.Include
	Result           = engine.Result
	Pagination       = store.Pagination
	ValidationError  = engine.ValidationError
	StructuralError  = engine.StructuralError
)
