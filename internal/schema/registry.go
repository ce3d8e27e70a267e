// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package schema

import (
	"regexp"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
)

// DefaultVersion is assumed for collections that declare no version.
const DefaultVersion = "1.0.0"

var collectionNameRe = regexp.MustCompile(`^[a-z][a-zA-Z0-9_]*$`)
var fieldNameRe = regexp.MustCompile(`^[a-z][a-zA-Z0-9_]*$`)

// Registry is the immutable, process-lifetime set of collection schemas.
type Registry struct {
	collections map[string]*Collection
}

// Load validates the given collections and freezes them into a Registry.
// Validation covers: name shape, duplicate names, semver versions, field
// constraints, relationship targets, shadow-key resolution and collisions,
// and system-field shadowing. Collections are not copied; callers must not
// mutate them after Load.
func Load(collections ...*Collection) (*Registry, error) {
	reg := &Registry{collections: make(map[string]*Collection, len(collections))}
	for _, col := range collections {
		if err := validateCollection(col); err != nil {
			return nil, err
		}
		if _, exists := reg.collections[col.Name]; exists {
			return nil, oops.Code("SCHEMA_DUPLICATE").
				With("collection", col.Name).
				Errorf("collection %q declared twice", col.Name)
		}
		reg.collections[col.Name] = col
	}

	// Cross-collection checks and shadow-key resolution need the full set.
	for _, col := range reg.collections {
		if err := resolveRelationships(reg, col); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// MustLoad is Load that panics on error, intended for process start.
func MustLoad(collections ...*Collection) *Registry {
	reg, err := Load(collections...)
	if err != nil {
		panic(err)
	}
	return reg
}

// Get returns the collection schema by name.
func (r *Registry) Get(name string) (*Collection, bool) {
	col, ok := r.collections[name]
	return col, ok
}

// Names returns all collection names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.collections))
	for name := range r.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validateCollection(col *Collection) error {
	errb := oops.With("collection", col.Name)
	if !collectionNameRe.MatchString(col.Name) {
		return errb.Code("SCHEMA_INVALID").Errorf("invalid collection name %q", col.Name)
	}

	if col.Version == "" {
		col.Version = DefaultVersion
	}
	if _, err := semver.NewVersion(col.Version); err != nil {
		return errb.Code("SCHEMA_INVALID").
			With("version", col.Version).
			Wrapf(err, "collection %q has invalid version", col.Name)
	}

	if col.Singleton {
		col.SingletonAutoCreate = !col.DisableAutoCreate
	}

	for name, field := range col.Fields {
		if !fieldNameRe.MatchString(name) {
			return errb.Code("SCHEMA_INVALID").Errorf("invalid field name %q", name)
		}
		if IsSystemField(name) {
			return errb.Code("SCHEMA_INVALID").
				Errorf("field %q shadows a system field", name)
		}
		switch field.Kind {
		case KindText, KindNumber, KindBool, KindJSON:
			if field.Relation != nil {
				return errb.Code("SCHEMA_INVALID").
					Errorf("field %q is scalar but declares a relation", name)
			}
		case KindRelationship:
			if field.Relation == nil {
				return errb.Code("SCHEMA_INVALID").
					Errorf("relationship field %q declares no relation", name)
			}
		default:
			return errb.Code("SCHEMA_INVALID").
				Errorf("field %q has unknown kind %q", name, field.Kind)
		}
		if field.Pattern != "" {
			re, err := regexp.Compile(field.Pattern)
			if err != nil {
				return errb.Code("SCHEMA_INVALID").
					With("field", name).
					Wrapf(err, "field %q has invalid pattern", name)
			}
			field.pattern = re
			col.Fields[name] = field
		}
	}
	return nil
}

func resolveRelationships(reg *Registry, col *Collection) error {
	errb := oops.With("collection", col.Name)
	col.shadowKeys = make(map[string]string)
	for name, field := range col.Fields {
		if field.Relation == nil {
			continue
		}
		if _, ok := reg.collections[field.Relation.Collection]; !ok {
			return errb.Code("SCHEMA_INVALID").
				With("field", name).
				Errorf("relationship field %q targets unknown collection %q",
					name, field.Relation.Collection)
		}
		if field.Relation.Many {
			continue
		}
		shadow, _ := col.ShadowKeyFor(name)
		if _, declared := col.Fields[shadow]; declared {
			return errb.Code("SCHEMA_INVALID").
				With("field", name).
				Errorf("shadow key %q of relationship %q collides with a declared field",
					shadow, name)
		}
		if owner, taken := col.shadowKeys[shadow]; taken {
			return errb.Code("SCHEMA_INVALID").
				Errorf("shadow key %q claimed by both %q and %q", shadow, owner, name)
		}
		col.shadowKeys[shadow] = name
	}
	return nil
}
