// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package engine orchestrates access-controlled CRUD operations over
// schema-described collections. Every operation enters through Run, which
// sequences policy evaluation, filter merging, field masking, the lifecycle
// hook pipeline, the singleton guard and the store call.
//
// Authorization denials are silent: a denied read or write produces an
// empty Result and a nil error, indistinguishable from "no such row".
// Validation failures and structural violations surface as typed errors;
// rule and hook faults propagate unchanged.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quillcms/quill/internal/access"
	"github.com/quillcms/quill/internal/filter"
	"github.com/quillcms/quill/internal/schema"
	"github.com/quillcms/quill/internal/session"
	"github.com/quillcms/quill/internal/store"
)

// Limits bounds list pagination. Zero values disable the respective bound.
type Limits struct {
	// DefaultPageSize applies when a findMany request carries no limit.
	DefaultPageSize int
	// MaxPageSize caps any requested limit.
	MaxPageSize int
}

// Config holds dependencies for the Engine.
type Config struct {
	Registry *schema.Registry
	Store    store.Store
	Logger   *slog.Logger
	Limits   Limits
}

// Engine provides authorized access to collection operations. It is
// stateless between calls and safe for concurrent use; the only shared
// state is the immutable schema registry.
type Engine struct {
	reg    *schema.Registry
	store  store.Store
	logger *slog.Logger
	tracer trace.Tracer
	limits Limits
}

// New creates an Engine with the given configuration.
func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, oops.Errorf("engine: registry is required")
	}
	if cfg.Store == nil {
		return nil, oops.Errorf("engine: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		reg:    cfg.Registry,
		store:  cfg.Store,
		logger: logger,
		tracer: otel.Tracer("quillcms/quill/engine"),
		limits: cfg.Limits,
	}, nil
}

// Run executes one operation. See the package documentation for the
// denial and error contract.
func (e *Engine) Run(ctx context.Context, principal *session.Principal, req OperationRequest) (Result, error) {
	col, ok := e.reg.Get(req.Collection)
	if !ok {
		return Result{}, oops.Code("UNKNOWN_COLLECTION").
			With("collection", req.Collection).
			Errorf("unknown collection %q", req.Collection)
	}

	ctx, span := e.tracer.Start(ctx, "quill.engine.run",
		trace.WithAttributes(
			attribute.String("quill.collection", req.Collection),
			attribute.String("quill.operation", string(req.Op)),
		))
	defer span.End()

	start := time.Now()
	res, status, err := e.dispatch(ctx, principal, col, req)
	recordOperation(req.Collection, string(req.Op), status, time.Since(start))

	if err != nil {
		e.logger.DebugContext(ctx, "operation failed",
			"collection", req.Collection, "operation", req.Op, "error", err)
		return Result{}, err
	}
	if status == statusDenied {
		// Silent deny: identical to "not found" from the caller's side.
		e.logger.DebugContext(ctx, "operation denied",
			"collection", req.Collection, "operation", req.Op)
		return emptyResult(req.Op), nil
	}
	return res, nil
}

func (e *Engine) dispatch(ctx context.Context, principal *session.Principal, col *schema.Collection, req OperationRequest) (Result, string, error) {
	// Structural invariants precede everything, including elevated mode.
	if err := e.guardSingleton(ctx, col, req.Op); err != nil {
		return Result{}, structuralStatus(err), err
	}

	switch req.Op {
	case access.OpFindUnique:
		return e.runFindUnique(ctx, principal, col, req)
	case access.OpFindMany:
		return e.runFindMany(ctx, principal, col, req)
	case access.OpCount:
		return e.runCount(ctx, principal, col, req)
	case access.OpCreate:
		return e.runCreate(ctx, principal, col, req)
	case access.OpUpdate:
		return e.runUpdate(ctx, principal, col, req)
	case access.OpDelete:
		return e.runDelete(ctx, principal, col, req)
	case access.OpGet:
		return e.runGet(ctx, principal, col, req)
	default:
		return Result{}, statusError, oops.Code("UNKNOWN_OPERATION").
			Errorf("unknown operation %q", req.Op)
	}
}

// collectionDecision evaluates the collection-level rule for the operation.
// Elevated mode skips evaluation entirely. Reads, count and get share the
// query rule.
func (e *Engine) collectionDecision(ctx context.Context, col *schema.Collection, op access.Operation, principal *session.Principal, item map[string]any, input any) (access.Decision, error) {
	if session.IsElevated(ctx) {
		return access.Allow(), nil
	}
	var rule access.Rule
	switch op {
	case access.OpCreate:
		rule = col.Access.Create
	case access.OpUpdate:
		rule = col.Access.Update
	case access.OpDelete:
		rule = col.Access.Delete
	default:
		rule = col.Access.Query
	}
	return access.Evaluate(ctx, rule, access.RuleInput{
		Principal: principal,
		Item:      item,
		Input:     input,
		Operation: op,
	})
}

func (e *Engine) runFindUnique(ctx context.Context, principal *session.Principal, col *schema.Collection, req OperationRequest) (Result, string, error) {
	decision, err := e.collectionDecision(ctx, col, access.OpFindUnique, principal, nil, nil)
	if err != nil {
		return Result{}, statusError, err
	}
	if decision.IsDeny() {
		return Result{}, statusDenied, nil
	}
	accessPred, _ := decision.Predicate()
	pred := filter.And(accessPred, req.Filter)

	args := schema.HookArgs{Collection: col.Name, Operation: access.OpFindUnique, Principal: principal}
	if err := e.runBeforeOperation(ctx, col, args); err != nil {
		return Result{}, statusError, err
	}

	row, err := e.store.FindUnique(ctx, col.Name, req.ID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, statusOK, nil
	}
	if err != nil {
		return Result{}, statusError, err
	}
	if pred != nil && !pred.Match(row) {
		// A row the predicate excludes looks exactly like a missing row.
		return Result{}, statusDenied, nil
	}

	args.Item = row
	if err := e.runAfterOperation(ctx, col, args); err != nil {
		return Result{}, statusError, err
	}
	masked, err := e.filterReadable(ctx, col, row, principal, access.OpFindUnique)
	if err != nil {
		return Result{}, statusError, err
	}
	items := []map[string]any{masked}
	if err := e.expandIncludes(ctx, col, items, req.Include, principal, 0); err != nil {
		return Result{}, statusError, err
	}
	return Result{Item: items[0]}, statusOK, nil
}

func (e *Engine) runFindMany(ctx context.Context, principal *session.Principal, col *schema.Collection, req OperationRequest) (Result, string, error) {
	decision, err := e.collectionDecision(ctx, col, access.OpFindMany, principal, nil, nil)
	if err != nil {
		return Result{}, statusError, err
	}
	if decision.IsDeny() {
		return Result{}, statusDenied, nil
	}
	accessPred, _ := decision.Predicate()
	pred := filter.And(accessPred, req.Filter)

	args := schema.HookArgs{Collection: col.Name, Operation: access.OpFindMany, Principal: principal}
	if err := e.runBeforeOperation(ctx, col, args); err != nil {
		return Result{}, statusError, err
	}

	rows, err := e.store.FindMany(ctx, col.Name, pred, e.clampPage(req.Page))
	if err != nil {
		return Result{}, statusError, err
	}

	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		rowArgs := args
		rowArgs.Item = row
		if err := e.runAfterOperation(ctx, col, rowArgs); err != nil {
			return Result{}, statusError, err
		}
		masked, err := e.filterReadable(ctx, col, row, principal, access.OpFindMany)
		if err != nil {
			return Result{}, statusError, err
		}
		items = append(items, masked)
	}
	if err := e.expandIncludes(ctx, col, items, req.Include, principal, 0); err != nil {
		return Result{}, statusError, err
	}
	return Result{Items: items}, statusOK, nil
}

func (e *Engine) runCount(ctx context.Context, principal *session.Principal, col *schema.Collection, req OperationRequest) (Result, string, error) {
	decision, err := e.collectionDecision(ctx, col, access.OpCount, principal, nil, nil)
	if err != nil {
		return Result{}, statusError, err
	}
	if decision.IsDeny() {
		return Result{}, statusDenied, nil
	}
	accessPred, _ := decision.Predicate()

	args := schema.HookArgs{Collection: col.Name, Operation: access.OpCount, Principal: principal}
	if err := e.runBeforeOperation(ctx, col, args); err != nil {
		return Result{}, statusError, err
	}

	count, err := e.store.Count(ctx, col.Name, filter.And(accessPred, req.Filter))
	if err != nil {
		return Result{}, statusError, err
	}
	if err := e.runAfterOperation(ctx, col, args); err != nil {
		return Result{}, statusError, err
	}
	return Result{Count: count}, statusOK, nil
}

func (e *Engine) runCreate(ctx context.Context, principal *session.Principal, col *schema.Collection, req OperationRequest) (Result, string, error) {
	decision, err := e.collectionDecision(ctx, col, access.OpCreate, principal, nil, req.Data)
	if err != nil {
		return Result{}, statusError, err
	}
	if decision.IsDeny() {
		return Result{}, statusDenied, nil
	}
	pred, _ := decision.Predicate()

	input := copyInput(req.Data)
	args := schema.HookArgs{Collection: col.Name, Operation: access.OpCreate, Principal: principal, Input: input}

	input, err = e.runResolveInput(ctx, col, args)
	if err != nil {
		return Result{}, statusError, err
	}
	input = applyDefaults(col, stripStructural(col, input))

	// A create predicate constrains the row about to be written, so it
	// evaluates against the resolved, defaulted payload, not the raw input.
	if pred != nil && !pred.Match(input) {
		return Result{}, statusDenied, nil
	}

	args.Input = input
	failures := validateConstraints(col, input, true)
	failures, err = e.runValidateInput(ctx, col, args, failures)
	if err != nil {
		return Result{}, statusError, err
	}
	if len(failures) > 0 {
		return Result{}, statusInvalid, &ValidationError{Collection: col.Name, Failures: failures}
	}

	input, err = e.maskWriteAccess(ctx, col, access.OpCreate, input, principal, nil)
	if err != nil {
		return Result{}, statusError, err
	}

	now := time.Now().UTC()
	data := rewriteRelationships(col, input)
	data[schema.FieldID] = ulid.Make().String()
	data[schema.FieldCreatedAt] = now
	data[schema.FieldUpdatedAt] = now

	args.Input = data
	if err := e.runBeforeOperation(ctx, col, args); err != nil {
		return Result{}, statusError, err
	}

	row, err := e.store.Create(ctx, col.Name, data)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return Result{}, statusError, oops.Code("STORE_CONFLICT").
				With("collection", col.Name).
				Wrap(err)
		}
		return Result{}, statusError, err
	}

	args.Item = row
	if err := e.runAfterOperation(ctx, col, args); err != nil {
		return Result{}, statusError, err
	}
	masked, err := e.filterReadable(ctx, col, row, principal, access.OpCreate)
	if err != nil {
		return Result{}, statusError, err
	}
	items := []map[string]any{masked}
	if err := e.expandIncludes(ctx, col, items, req.Include, principal, 0); err != nil {
		return Result{}, statusError, err
	}
	return Result{Item: items[0]}, statusOK, nil
}

func (e *Engine) runUpdate(ctx context.Context, principal *session.Principal, col *schema.Collection, req OperationRequest) (Result, string, error) {
	preImage, err := e.store.FindUnique(ctx, col.Name, req.ID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, statusOK, nil
	}
	if err != nil {
		return Result{}, statusError, err
	}

	decision, err := e.collectionDecision(ctx, col, access.OpUpdate, principal, preImage, req.Data)
	if err != nil {
		return Result{}, statusError, err
	}
	if decision.IsDeny() {
		return Result{}, statusDenied, nil
	}
	pred, _ := decision.Predicate()
	if pred != nil && !pred.Match(preImage) {
		return Result{}, statusDenied, nil
	}

	input := copyInput(req.Data)
	args := schema.HookArgs{Collection: col.Name, Operation: access.OpUpdate, Principal: principal, Item: preImage, Input: input}

	input, err = e.runResolveInput(ctx, col, args)
	if err != nil {
		return Result{}, statusError, err
	}
	input = stripStructural(col, input)

	args.Input = input
	failures := validateConstraints(col, input, false)
	failures, err = e.runValidateInput(ctx, col, args, failures)
	if err != nil {
		return Result{}, statusError, err
	}
	if len(failures) > 0 {
		return Result{}, statusInvalid, &ValidationError{Collection: col.Name, Failures: failures}
	}

	input, err = e.maskWriteAccess(ctx, col, access.OpUpdate, input, principal, preImage)
	if err != nil {
		return Result{}, statusError, err
	}

	data := rewriteRelationships(col, input)
	data[schema.FieldUpdatedAt] = time.Now().UTC()

	args.Input = data
	if err := e.runBeforeOperation(ctx, col, args); err != nil {
		return Result{}, statusError, err
	}

	// The predicate re-applies at the store so a concurrent row change
	// cannot slip past the in-process check.
	row, err := e.store.Update(ctx, col.Name, req.ID, data, pred)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, statusDenied, nil
	}
	if err != nil {
		return Result{}, statusError, err
	}

	args.Item = row
	if err := e.runAfterOperation(ctx, col, args); err != nil {
		return Result{}, statusError, err
	}
	masked, err := e.filterReadable(ctx, col, row, principal, access.OpUpdate)
	if err != nil {
		return Result{}, statusError, err
	}
	items := []map[string]any{masked}
	if err := e.expandIncludes(ctx, col, items, req.Include, principal, 0); err != nil {
		return Result{}, statusError, err
	}
	return Result{Item: items[0]}, statusOK, nil
}

func (e *Engine) runDelete(ctx context.Context, principal *session.Principal, col *schema.Collection, req OperationRequest) (Result, string, error) {
	preImage, err := e.store.FindUnique(ctx, col.Name, req.ID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, statusOK, nil
	}
	if err != nil {
		return Result{}, statusError, err
	}

	decision, err := e.collectionDecision(ctx, col, access.OpDelete, principal, preImage, nil)
	if err != nil {
		return Result{}, statusError, err
	}
	if decision.IsDeny() {
		return Result{}, statusDenied, nil
	}
	pred, _ := decision.Predicate()
	if pred != nil && !pred.Match(preImage) {
		return Result{}, statusDenied, nil
	}

	args := schema.HookArgs{Collection: col.Name, Operation: access.OpDelete, Principal: principal, Item: preImage}
	if err := e.runBeforeOperation(ctx, col, args); err != nil {
		return Result{}, statusError, err
	}

	row, err := e.store.Delete(ctx, col.Name, req.ID, pred)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, statusDenied, nil
	}
	if err != nil {
		return Result{}, statusError, err
	}

	args.Item = row
	if err := e.runAfterOperation(ctx, col, args); err != nil {
		return Result{}, statusError, err
	}
	masked, err := e.filterReadable(ctx, col, row, principal, access.OpDelete)
	if err != nil {
		return Result{}, statusError, err
	}
	return Result{Item: masked}, statusOK, nil
}

func (e *Engine) clampPage(page store.Pagination) store.Pagination {
	if page.Limit <= 0 && e.limits.DefaultPageSize > 0 {
		page.Limit = e.limits.DefaultPageSize
	}
	if e.limits.MaxPageSize > 0 && page.Limit > e.limits.MaxPageSize {
		page.Limit = e.limits.MaxPageSize
	}
	return page
}

func copyInput(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

func emptyResult(op access.Operation) Result {
	if op == access.OpFindMany {
		return Result{Items: []map[string]any{}}
	}
	return Result{}
}

func structuralStatus(err error) string {
	var structural *StructuralError
	if errors.As(err, &structural) {
		return statusInvalid
	}
	return statusError
}
