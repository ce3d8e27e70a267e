// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package engine

import (
	"github.com/quillcms/quill/internal/access"
	"github.com/quillcms/quill/internal/filter"
	"github.com/quillcms/quill/internal/store"
)

// Include requests expansion of one relationship field of returned rows,
// optionally constrained and recursively nested.
type Include struct {
	Field    string
	Filter   filter.Predicate
	Includes []Include
}

// OperationRequest is the unit of work submitted to the engine. It is
// created per call and discarded once the Result is produced.
type OperationRequest struct {
	Collection string
	Op         access.Operation

	// ID identifies the target row for findUnique, update and delete.
	ID string

	// Data is the input payload for create and update.
	Data map[string]any

	// Filter is the caller-supplied predicate for findMany, count and
	// findUnique. It merges conjunctively with any access predicate.
	Filter filter.Predicate

	// Page bounds and orders findMany results.
	Page store.Pagination

	// Include expands relationship fields on returned rows.
	Include []Include
}

// Result is the outcome of one operation. An authorization denial yields a
// zero Result and a nil error: a denied read is indistinguishable from "no
// such row" by design, so row existence never leaks.
type Result struct {
	// Item is set for findUnique, create, update, delete and get.
	Item map[string]any

	// Items is set for findMany.
	Items []map[string]any

	// Count is set for count.
	Count int64
}
