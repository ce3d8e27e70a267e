// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillcms/quill/internal/access"
	"github.com/quillcms/quill/internal/filter"
	"github.com/quillcms/quill/internal/schema"
	"github.com/quillcms/quill/internal/session"
	"github.com/quillcms/quill/internal/store"
)

// publishedOrOwner scopes reads to published rows for anonymous callers and
// to published-or-own rows for authenticated ones.
func publishedOrOwner() access.Rule {
	return func(_ context.Context, in access.RuleInput) (access.Decision, error) {
		published := filter.Eq("status", "published")
		sub, ok := in.Principal.Subject()
		if !ok {
			return access.Filtered(published), nil
		}
		return access.Filtered(filter.Or(published, filter.Eq("authorId", sub))), nil
	}
}

// ownerOnly permits mutation only of rows whose author is the caller.
func ownerOnly() access.Rule {
	return func(_ context.Context, in access.RuleInput) (access.Decision, error) {
		sub, ok := in.Principal.Subject()
		if !ok {
			return access.Deny(), nil
		}
		return access.Filtered(filter.Eq("authorId", sub)), nil
	}
}

func blogSchema(t *testing.T, hooks schema.HookSet) *schema.Registry {
	t.Helper()
	reg, err := schema.Load(
		&schema.Collection{
			Name: "users",
			Fields: map[string]schema.Field{
				"name": {Kind: schema.KindText, Required: true},
				"email": {
					Kind:   schema.KindText,
					Access: schema.FieldAccess{Read: access.Authenticated()},
				},
			},
		},
		&schema.Collection{
			Name: "tags",
			Fields: map[string]schema.Field{
				"label": {Kind: schema.KindText, Required: true},
			},
		},
		&schema.Collection{
			Name: "posts",
			Fields: map[string]schema.Field{
				"title":  {Kind: schema.KindText, Required: true, MaxLen: 80},
				"status": {Kind: schema.KindText, Default: "draft"},
				"views":  {Kind: schema.KindNumber},
				// Scalar that happens to end in Id; must never be treated
				// as a relationship shadow key.
				"trackingId": {Kind: schema.KindText},
				"author": {
					Kind:     schema.KindRelationship,
					Relation: &schema.Relation{Collection: "users"},
				},
				"tags": {
					Kind:     schema.KindRelationship,
					Relation: &schema.Relation{Collection: "tags", Many: true},
				},
			},
			Access: schema.CollectionAccess{
				Query:  publishedOrOwner(),
				Create: access.Authenticated(),
				Update: ownerOnly(),
				Delete: ownerOnly(),
			},
			Hooks: hooks,
		},
	)
	require.NoError(t, err)
	return reg
}

func newTestEngine(t *testing.T, reg *schema.Registry) (*Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory(reg)
	eng, err := New(Config{Registry: reg, Store: mem})
	require.NoError(t, err)
	return eng, mem
}

func seedUser(t *testing.T, eng *Engine, name string) string {
	t.Helper()
	res, err := eng.Run(session.Elevated(context.Background()), nil, OperationRequest{
		Collection: "users",
		Op:         access.OpCreate,
		Data:       map[string]any{"name": name, "email": name + "@example.com"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Item)
	return res.Item["id"].(string)
}

func seedPost(t *testing.T, eng *Engine, authorID string, data map[string]any) string {
	t.Helper()
	payload := map[string]any{"title": "untitled", "author": authorID}
	for k, v := range data {
		payload[k] = v
	}
	res, err := eng.Run(session.Elevated(context.Background()), nil, OperationRequest{
		Collection: "posts",
		Op:         access.OpCreate,
		Data:       payload,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Item)
	return res.Item["id"].(string)
}

func asPrincipal(sub string) *session.Principal {
	return session.New(map[string]any{session.KeySubject: sub})
}

func TestRunUnknownCollection(t *testing.T) {
	eng, _ := newTestEngine(t, blogSchema(t, schema.HookSet{}))
	_, err := eng.Run(context.Background(), nil, OperationRequest{
		Collection: "ghosts",
		Op:         access.OpFindMany,
	})
	require.Error(t, err)
}

func TestCreateStampsSystemFields(t *testing.T) {
	eng, _ := newTestEngine(t, blogSchema(t, schema.HookSet{}))
	alice := seedUser(t, eng, "alice")

	res, err := eng.Run(context.Background(), asPrincipal(alice), OperationRequest{
		Collection: "posts",
		Op:         access.OpCreate,
		Data: map[string]any{
			"title":  "hello",
			"author": alice,
			// Attempts to set system fields are stripped, not errors.
			"id":        "forged",
			"createdAt": "1970-01-01",
		},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Item)

	assert.NotEqual(t, "forged", res.Item["id"])
	assert.NotEmpty(t, res.Item["id"])
	assert.NotEqual(t, "1970-01-01", res.Item["createdAt"])
	assert.NotNil(t, res.Item["createdAt"])
	assert.NotNil(t, res.Item["updatedAt"])
}

func TestCreateAppliesDefaults(t *testing.T) {
	eng, _ := newTestEngine(t, blogSchema(t, schema.HookSet{}))
	alice := seedUser(t, eng, "alice")

	res, err := eng.Run(context.Background(), asPrincipal(alice), OperationRequest{
		Collection: "posts",
		Op:         access.OpCreate,
		Data:       map[string]any{"title": "hello", "author": alice},
	})
	require.NoError(t, err)
	assert.Equal(t, "draft", res.Item["status"])
}

func TestCreateValidation(t *testing.T) {
	eng, _ := newTestEngine(t, blogSchema(t, schema.HookSet{}))
	alice := seedUser(t, eng, "alice")

	tests := []struct {
		name   string
		data   map[string]any
		fields []string
	}{
		{
			name:   "missing required title",
			data:   map[string]any{"author": alice},
			fields: []string{"title"},
		},
		{
			name:   "title too long",
			data:   map[string]any{"title": string(make([]byte, 100)), "author": alice},
			fields: []string{"title"},
		},
		{
			name:   "views not a number",
			data:   map[string]any{"title": "ok", "views": "many"},
			fields: []string{"views"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.Run(context.Background(), asPrincipal(alice), OperationRequest{
				Collection: "posts",
				Op:         access.OpCreate,
				Data:       tt.data,
			})
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			got := make([]string, 0, len(verr.Failures))
			for _, f := range verr.Failures {
				got = append(got, f.Field)
			}
			assert.ElementsMatch(t, tt.fields, got)
		})
	}
}

func TestAnonymousCreateDeniedSilently(t *testing.T) {
	eng, mem := newTestEngine(t, blogSchema(t, schema.HookSet{}))

	res, err := eng.Run(context.Background(), nil, OperationRequest{
		Collection: "posts",
		Op:         access.OpCreate,
		Data:       map[string]any{"title": "sneaky"},
	})
	require.NoError(t, err)
	assert.Nil(t, res.Item)

	count, err := mem.Count(context.Background(), "posts", nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestFindManyScopesAnonymousToPublished(t *testing.T) {
	eng, _ := newTestEngine(t, blogSchema(t, schema.HookSet{}))
	alice := seedUser(t, eng, "alice")
	seedPost(t, eng, alice, map[string]any{"title": "public", "status": "published"})
	seedPost(t, eng, alice, map[string]any{"title": "secret", "status": "draft"})

	res, err := eng.Run(context.Background(), nil, OperationRequest{
		Collection: "posts",
		Op:         access.OpFindMany,
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "public", res.Items[0]["title"])

	// The author sees both: access filter merges as published OR own.
	res, err = eng.Run(context.Background(), asPrincipal(alice), OperationRequest{
		Collection: "posts",
		Op:         access.OpFindMany,
	})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
}

func TestFindManyMergesCallerFilter(t *testing.T) {
	eng, _ := newTestEngine(t, blogSchema(t, schema.HookSet{}))
	alice := seedUser(t, eng, "alice")
	seedPost(t, eng, alice, map[string]any{"title": "a", "status": "published", "views": 5})
	seedPost(t, eng, alice, map[string]any{"title": "b", "status": "published", "views": 50})
	seedPost(t, eng, alice, map[string]any{"title": "c", "status": "draft", "views": 500})

	// Caller filter narrows within the access scope; it can never widen it.
	res, err := eng.Run(context.Background(), nil, OperationRequest{
		Collection: "posts",
		Op:         access.OpFindMany,
		Filter:     filter.Gte("views", 10),
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "b", res.Items[0]["title"])
}

func TestFindManyPageLimits(t *testing.T) {
	reg := blogSchema(t, schema.HookSet{})
	mem := store.NewMemory(reg)
	eng, err := New(Config{
		Registry: reg,
		Store:    mem,
		Limits:   Limits{DefaultPageSize: 2, MaxPageSize: 3},
	})
	require.NoError(t, err)

	alice := seedUser(t, eng, "alice")
	for range 5 {
		seedPost(t, eng, alice, map[string]any{"status": "published"})
	}

	// No limit requested: the default applies.
	res, err := eng.Run(context.Background(), nil, OperationRequest{
		Collection: "posts",
		Op:         access.OpFindMany,
	})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)

	// An oversized limit is capped.
	res, err = eng.Run(context.Background(), nil, OperationRequest{
		Collection: "posts",
		Op:         access.OpFindMany,
		Page:       store.Pagination{Limit: 100},
	})
	require.NoError(t, err)
	assert.Len(t, res.Items, 3)
}

func TestFindUniqueOutsideScopeLooksMissing(t *testing.T) {
	eng, _ := newTestEngine(t, blogSchema(t, schema.HookSet{}))
	alice := seedUser(t, eng, "alice")
	draft := seedPost(t, eng, alice, map[string]any{"status": "draft"})

	res, err := eng.Run(context.Background(), nil, OperationRequest{
		Collection: "posts",
		Op:         access.OpFindUnique,
		ID:         draft,
	})
	require.NoError(t, err)
	assert.Nil(t, res.Item)
}

func TestFieldReadMasking(t *testing.T) {
	eng, _ := newTestEngine(t, blogSchema(t, schema.HookSet{}))
	alice := seedUser(t, eng, "alice")

	res, err := eng.Run(context.Background(), nil, OperationRequest{
		Collection: "users",
		Op:         access.OpFindUnique,
		ID:         alice,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Item)
	assert.Equal(t, "alice", res.Item["name"])
	_, present := res.Item["email"]
	assert.False(t, present, "email read rule denies anonymous callers")

	res, err = eng.Run(context.Background(), asPrincipal(alice), OperationRequest{
		Collection: "users",
		Op:         access.OpFindUnique,
		ID:         alice,
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", res.Item["email"])
}

func TestShadowKeyHandling(t *testing.T) {
	eng, mem := newTestEngine(t, blogSchema(t, schema.HookSet{}))
	alice := seedUser(t, eng, "alice")
	bob := seedUser(t, eng, "bob")

	res, err := eng.Run(context.Background(), asPrincipal(alice), OperationRequest{
		Collection: "posts",
		Op:         access.OpCreate,
		Data: map[string]any{
			"title":      "mine",
			"author":     alice,
			"trackingId": "utm-42",
			// Direct writes to the shadow key are stripped.
			"authorId": bob,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Item)

	// Surfaced under the relationship field name, not the shadow key.
	assert.Equal(t, alice, res.Item["author"])
	_, present := res.Item["authorId"]
	assert.False(t, present)

	// trackingId ends in Id but is a declared scalar, so it passes through.
	assert.Equal(t, "utm-42", res.Item["trackingId"])

	// Stored shape keeps the value under the shadow key.
	raw, err := mem.FindUnique(context.Background(), "posts", res.Item["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, alice, raw["authorId"])
	_, present = raw["author"]
	assert.False(t, present)
}

func TestUpdateOwnership(t *testing.T) {
	eng, _ := newTestEngine(t, blogSchema(t, schema.HookSet{}))
	alice := seedUser(t, eng, "alice")
	bob := seedUser(t, eng, "bob")
	post := seedPost(t, eng, alice, map[string]any{"status": "published"})

	// Non-owner update is silently a no-op.
	res, err := eng.Run(context.Background(), asPrincipal(bob), OperationRequest{
		Collection: "posts",
		Op:         access.OpUpdate,
		ID:         post,
		Data:       map[string]any{"title": "hijacked"},
	})
	require.NoError(t, err)
	assert.Nil(t, res.Item)

	res, err = eng.Run(context.Background(), asPrincipal(alice), OperationRequest{
		Collection: "posts",
		Op:         access.OpUpdate,
		ID:         post,
		Data:       map[string]any{"title": "revised"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Item)
	assert.Equal(t, "revised", res.Item["title"])
}

func TestDeleteOwnership(t *testing.T) {
	eng, mem := newTestEngine(t, blogSchema(t, schema.HookSet{}))
	alice := seedUser(t, eng, "alice")
	bob := seedUser(t, eng, "bob")
	post := seedPost(t, eng, alice, nil)

	res, err := eng.Run(context.Background(), asPrincipal(bob), OperationRequest{
		Collection: "posts",
		Op:         access.OpDelete,
		ID:         post,
	})
	require.NoError(t, err)
	assert.Nil(t, res.Item)

	count, err := mem.Count(context.Background(), "posts", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	res, err = eng.Run(context.Background(), asPrincipal(alice), OperationRequest{
		Collection: "posts",
		Op:         access.OpDelete,
		ID:         post,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Item)

	count, err = mem.Count(context.Background(), "posts", nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUpdateMissingRowIsEmpty(t *testing.T) {
	eng, _ := newTestEngine(t, blogSchema(t, schema.HookSet{}))
	alice := seedUser(t, eng, "alice")

	res, err := eng.Run(context.Background(), asPrincipal(alice), OperationRequest{
		Collection: "posts",
		Op:         access.OpUpdate,
		ID:         "no-such-row",
		Data:       map[string]any{"title": "x"},
	})
	require.NoError(t, err)
	assert.Nil(t, res.Item)
}

func TestCountRespectsAccessScope(t *testing.T) {
	eng, _ := newTestEngine(t, blogSchema(t, schema.HookSet{}))
	alice := seedUser(t, eng, "alice")
	seedPost(t, eng, alice, map[string]any{"status": "published"})
	seedPost(t, eng, alice, map[string]any{"status": "draft"})

	res, err := eng.Run(context.Background(), nil, OperationRequest{
		Collection: "posts",
		Op:         access.OpCount,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Count)

	res, err = eng.Run(context.Background(), asPrincipal(alice), OperationRequest{
		Collection: "posts",
		Op:         access.OpCount,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Count)
}

func TestElevatedSkipsAccessRules(t *testing.T) {
	eng, _ := newTestEngine(t, blogSchema(t, schema.HookSet{}))
	alice := seedUser(t, eng, "alice")
	seedPost(t, eng, alice, map[string]any{"status": "draft"})

	res, err := eng.Run(session.Elevated(context.Background()), nil, OperationRequest{
		Collection: "posts",
		Op:         access.OpFindMany,
	})
	require.NoError(t, err)
	assert.Len(t, res.Items, 1)
}

func TestRuleFaultPropagates(t *testing.T) {
	faulty := func(context.Context, access.RuleInput) (access.Decision, error) {
		return access.Decision{}, assert.AnError
	}
	reg, err := schema.Load(&schema.Collection{
		Name:   "vault",
		Fields: map[string]schema.Field{"secret": {Kind: schema.KindText}},
		Access: schema.CollectionAccess{Query: faulty},
	})
	require.NoError(t, err)
	eng, _ := newTestEngine(t, reg)

	// A faulting rule is an error, never a silent deny.
	_, err = eng.Run(context.Background(), nil, OperationRequest{
		Collection: "vault",
		Op:         access.OpFindMany,
	})
	require.ErrorIs(t, err, assert.AnError)
}

func TestHookPipeline(t *testing.T) {
	var order []string
	hooks := schema.HookSet{
		ResolveInput: []schema.ResolveInputHook{
			func(_ context.Context, args schema.HookArgs) (map[string]any, error) {
				order = append(order, "resolve")
				out := make(map[string]any, len(args.Input)+1)
				for k, v := range args.Input {
					out[k] = v
				}
				out["status"] = "resolved"
				return out, nil
			},
		},
		ValidateInput: []schema.ValidateInputHook{
			func(_ context.Context, args schema.HookArgs) ([]schema.FieldMessage, error) {
				order = append(order, "validate")
				if args.Input["title"] == "reject me" {
					return []schema.FieldMessage{{Field: "title", Message: "rejected"}}, nil
				}
				return nil, nil
			},
		},
		BeforeOperation: []schema.BeforeHook{
			func(_ context.Context, _ schema.HookArgs) error {
				order = append(order, "before")
				return nil
			},
		},
		AfterOperation: []schema.AfterHook{
			func(_ context.Context, args schema.HookArgs) error {
				order = append(order, "after")
				// afterOperation sees the committed row.
				assert.NotEmpty(t, args.Item[schema.FieldID])
				return nil
			},
		},
	}
	eng, mem := newTestEngine(t, blogSchema(t, hooks))
	alice := seedUser(t, eng, "alice")

	order = nil
	res, err := eng.Run(context.Background(), asPrincipal(alice), OperationRequest{
		Collection: "posts",
		Op:         access.OpCreate,
		Data:       map[string]any{"title": "hooked", "author": alice},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"resolve", "validate", "before", "after"}, order)
	assert.Equal(t, "resolved", res.Item["status"], "resolveInput replacement is persisted")

	// A validation failure aborts before any store mutation.
	order = nil
	_, err = eng.Run(context.Background(), asPrincipal(alice), OperationRequest{
		Collection: "posts",
		Op:         access.OpCreate,
		Data:       map[string]any{"title": "reject me", "author": alice},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"resolve", "validate"}, order)

	count, err := mem.Count(context.Background(), "posts", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestDeniedOperationRunsNoHooks(t *testing.T) {
	var called bool
	hooks := schema.HookSet{
		ResolveInput: []schema.ResolveInputHook{
			func(context.Context, schema.HookArgs) (map[string]any, error) {
				called = true
				return nil, nil
			},
		},
	}
	eng, _ := newTestEngine(t, blogSchema(t, hooks))

	_, err := eng.Run(context.Background(), nil, OperationRequest{
		Collection: "posts",
		Op:         access.OpCreate,
		Data:       map[string]any{"title": "nope"},
	})
	require.NoError(t, err)
	assert.False(t, called, "denied create must not reach resolveInput")
}

func TestIncludeSingle(t *testing.T) {
	eng, _ := newTestEngine(t, blogSchema(t, schema.HookSet{}))
	alice := seedUser(t, eng, "alice")
	post := seedPost(t, eng, alice, map[string]any{"status": "published"})

	res, err := eng.Run(context.Background(), nil, OperationRequest{
		Collection: "posts",
		Op:         access.OpFindUnique,
		ID:         post,
		Include:    []Include{{Field: "author"}},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Item)

	author, ok := res.Item["author"].(map[string]any)
	require.True(t, ok, "author expands to the related row")
	assert.Equal(t, "alice", author["name"])
	_, present := author["email"]
	assert.False(t, present, "nested rows are masked for the same principal")
}

func TestIncludeMany(t *testing.T) {
	eng, _ := newTestEngine(t, blogSchema(t, schema.HookSet{}))
	alice := seedUser(t, eng, "alice")

	mkTag := func(label string) string {
		res, err := eng.Run(session.Elevated(context.Background()), nil, OperationRequest{
			Collection: "tags",
			Op:         access.OpCreate,
			Data:       map[string]any{"label": label},
		})
		require.NoError(t, err)
		return res.Item["id"].(string)
	}
	t1, t2 := mkTag("go"), mkTag("db")
	post := seedPost(t, eng, alice, map[string]any{
		"status": "published",
		"tags":   []any{t1, t2},
	})

	res, err := eng.Run(context.Background(), nil, OperationRequest{
		Collection: "posts",
		Op:         access.OpFindUnique,
		ID:         post,
		Include:    []Include{{Field: "tags"}},
	})
	require.NoError(t, err)
	tags, ok := res.Item["tags"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, tags, 2)
}

func TestIncludeUnknownField(t *testing.T) {
	eng, _ := newTestEngine(t, blogSchema(t, schema.HookSet{}))
	alice := seedUser(t, eng, "alice")
	post := seedPost(t, eng, alice, map[string]any{"status": "published"})

	_, err := eng.Run(context.Background(), nil, OperationRequest{
		Collection: "posts",
		Op:         access.OpFindUnique,
		ID:         post,
		Include:    []Include{{Field: "views"}},
	})
	require.Error(t, err, "including a non-relationship field is a caller bug")
}

func TestIncludeDeniedTargetClears(t *testing.T) {
	reg, err := schema.Load(
		&schema.Collection{
			Name:   "authors",
			Fields: map[string]schema.Field{"name": {Kind: schema.KindText}},
			Access: schema.CollectionAccess{Query: access.DenyAll()},
		},
		&schema.Collection{
			Name: "books",
			Fields: map[string]schema.Field{
				"title": {Kind: schema.KindText},
				"author": {
					Kind:     schema.KindRelationship,
					Relation: &schema.Relation{Collection: "authors"},
				},
			},
		},
	)
	require.NoError(t, err)
	eng, _ := newTestEngine(t, reg)

	res, err := eng.Run(session.Elevated(context.Background()), nil, OperationRequest{
		Collection: "authors",
		Op:         access.OpCreate,
		Data:       map[string]any{"name": "hidden"},
	})
	require.NoError(t, err)
	authorID := res.Item["id"].(string)

	res, err = eng.Run(session.Elevated(context.Background()), nil, OperationRequest{
		Collection: "books",
		Op:         access.OpCreate,
		Data:       map[string]any{"title": "b", "author": authorID},
	})
	require.NoError(t, err)
	bookID := res.Item["id"].(string)

	res, err = eng.Run(context.Background(), nil, OperationRequest{
		Collection: "books",
		Op:         access.OpFindUnique,
		ID:         bookID,
		Include:    []Include{{Field: "author"}},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Item)
	assert.Nil(t, res.Item["author"], "denied target behaves as if no related row exists")
}

func singletonSchema(t *testing.T, autoCreate bool) *schema.Registry {
	t.Helper()
	reg, err := schema.Load(&schema.Collection{
		Name: "settings",
		Fields: map[string]schema.Field{
			"banner":      {Kind: schema.KindText, Default: "welcome"},
			"maintenance": {Kind: schema.KindBool, Default: false},
		},
		Singleton:         true,
		DisableAutoCreate: !autoCreate,
	})
	require.NoError(t, err)
	return reg
}

func TestSingletonGuard(t *testing.T) {
	eng, _ := newTestEngine(t, singletonSchema(t, true))
	ctx := context.Background()

	_, err := eng.Run(ctx, nil, OperationRequest{
		Collection: "settings",
		Op:         access.OpCreate,
		Data:       map[string]any{},
	})
	require.NoError(t, err)

	var structural *StructuralError
	_, err = eng.Run(ctx, nil, OperationRequest{
		Collection: "settings",
		Op:         access.OpCreate,
		Data:       map[string]any{},
	})
	require.ErrorAs(t, err, &structural)

	_, err = eng.Run(ctx, nil, OperationRequest{Collection: "settings", Op: access.OpDelete, ID: "x"})
	require.ErrorAs(t, err, &structural)

	_, err = eng.Run(ctx, nil, OperationRequest{Collection: "settings", Op: access.OpFindMany})
	require.ErrorAs(t, err, &structural)

	// Elevated mode does not bypass structural invariants.
	_, err = eng.Run(session.Elevated(ctx), nil, OperationRequest{
		Collection: "settings",
		Op:         access.OpCreate,
		Data:       map[string]any{},
	})
	require.ErrorAs(t, err, &structural)

	_, err = eng.Run(session.Elevated(ctx), nil, OperationRequest{Collection: "settings", Op: access.OpDelete, ID: "x"})
	require.ErrorAs(t, err, &structural)
}

func TestSingletonGetAutoCreates(t *testing.T) {
	eng, mem := newTestEngine(t, singletonSchema(t, true))

	res, err := eng.Run(context.Background(), nil, OperationRequest{
		Collection: "settings",
		Op:         access.OpGet,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Item)
	assert.Equal(t, "welcome", res.Item["banner"])
	assert.Equal(t, false, res.Item["maintenance"])

	count, err := mem.Count(context.Background(), "settings", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	// Subsequent gets return the same row.
	again, err := eng.Run(context.Background(), nil, OperationRequest{
		Collection: "settings",
		Op:         access.OpGet,
	})
	require.NoError(t, err)
	assert.Equal(t, res.Item["id"], again.Item["id"])
}

func TestSingletonGetWithoutAutoCreate(t *testing.T) {
	eng, _ := newTestEngine(t, singletonSchema(t, false))

	res, err := eng.Run(context.Background(), nil, OperationRequest{
		Collection: "settings",
		Op:         access.OpGet,
	})
	require.NoError(t, err)
	assert.Nil(t, res.Item)
}

func TestGetOnNonSingleton(t *testing.T) {
	eng, _ := newTestEngine(t, blogSchema(t, schema.HookSet{}))
	var structural *StructuralError
	_, err := eng.Run(context.Background(), nil, OperationRequest{
		Collection: "posts",
		Op:         access.OpGet,
	})
	require.ErrorAs(t, err, &structural)
}

func TestSingletonUpdate(t *testing.T) {
	eng, _ := newTestEngine(t, singletonSchema(t, true))
	ctx := context.Background()

	res, err := eng.Run(ctx, nil, OperationRequest{Collection: "settings", Op: access.OpGet})
	require.NoError(t, err)
	id := res.Item["id"].(string)

	res, err = eng.Run(ctx, nil, OperationRequest{
		Collection: "settings",
		Op:         access.OpUpdate,
		ID:         id,
		Data:       map[string]any{"maintenance": true},
	})
	require.NoError(t, err)
	assert.Equal(t, true, res.Item["maintenance"])
}

func TestTypedAccessors(t *testing.T) {
	eng, _ := newTestEngine(t, blogSchema(t, schema.HookSet{}))
	alice := seedUser(t, eng, "alice")
	p := asPrincipal(alice)
	ctx := context.Background()

	created, err := eng.Create(ctx, p, "posts", map[string]any{
		"title": "typed", "status": "published", "author": alice,
	})
	require.NoError(t, err)
	require.NotNil(t, created)
	id := created["id"].(string)

	got, err := eng.FindUnique(ctx, p, "posts", id)
	require.NoError(t, err)
	assert.Equal(t, "typed", got["title"])

	items, err := eng.FindMany(ctx, p, "posts", filter.Eq("status", "published"), store.Pagination{})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	n, err := eng.Count(ctx, p, "posts", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	updated, err := eng.Update(ctx, p, "posts", id, map[string]any{"title": "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated["title"])

	deleted, err := eng.Delete(ctx, p, "posts", id)
	require.NoError(t, err)
	assert.Equal(t, "renamed", deleted["title"])

	got, err = eng.FindUnique(ctx, p, "posts", id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCountAndGetRunHookStages(t *testing.T) {
	var stages []string
	reg, err := schema.Load(&schema.Collection{
		Name: "settings",
		Fields: map[string]schema.Field{
			"banner": {Kind: schema.KindText, Default: "welcome"},
		},
		Singleton: true,
		Hooks: schema.HookSet{
			BeforeOperation: []schema.BeforeHook{
				func(_ context.Context, args schema.HookArgs) error {
					stages = append(stages, "before:"+string(args.Operation))
					return nil
				},
			},
			AfterOperation: []schema.AfterHook{
				func(_ context.Context, args schema.HookArgs) error {
					stages = append(stages, "after:"+string(args.Operation))
					return nil
				},
			},
		},
	})
	require.NoError(t, err)
	eng, _ := newTestEngine(t, reg)
	ctx := context.Background()

	_, err = eng.Run(ctx, nil, OperationRequest{Collection: "settings", Op: access.OpCount})
	require.NoError(t, err)
	assert.Equal(t, []string{"before:count", "after:count"}, stages)

	// Get wraps the auto-create, so its own stages bracket the create's.
	stages = nil
	res, err := eng.Run(ctx, nil, OperationRequest{Collection: "settings", Op: access.OpGet})
	require.NoError(t, err)
	require.NotNil(t, res.Item)
	assert.Equal(t, []string{"before:get", "before:create", "after:create", "after:get"}, stages)
}

func TestIncludeMaskedFieldStaysHidden(t *testing.T) {
	reg, err := schema.Load(
		&schema.Collection{
			Name:   "authors",
			Fields: map[string]schema.Field{"name": {Kind: schema.KindText}},
		},
		&schema.Collection{
			Name: "books",
			Fields: map[string]schema.Field{
				"title": {Kind: schema.KindText},
				"author": {
					Kind:     schema.KindRelationship,
					Relation: &schema.Relation{Collection: "authors"},
					Access:   schema.FieldAccess{Read: access.Authenticated()},
				},
			},
		},
	)
	require.NoError(t, err)
	eng, _ := newTestEngine(t, reg)
	elevated := session.Elevated(context.Background())

	res, err := eng.Run(elevated, nil, OperationRequest{
		Collection: "authors",
		Op:         access.OpCreate,
		Data:       map[string]any{"name": "a"},
	})
	require.NoError(t, err)
	authorID := res.Item["id"].(string)

	res, err = eng.Run(elevated, nil, OperationRequest{
		Collection: "books",
		Op:         access.OpCreate,
		Data:       map[string]any{"title": "b", "author": authorID},
	})
	require.NoError(t, err)
	bookID := res.Item["id"].(string)

	// The read rule strips author for anonymous callers; requesting it as
	// an include must not reintroduce the key.
	res, err = eng.Run(context.Background(), nil, OperationRequest{
		Collection: "books",
		Op:         access.OpFindUnique,
		ID:         bookID,
		Include:    []Include{{Field: "author"}},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Item)
	_, present := res.Item["author"]
	assert.False(t, present)
}

func TestCreatePredicateSeesDefaultedInput(t *testing.T) {
	draftsOnly := func(_ context.Context, _ access.RuleInput) (access.Decision, error) {
		return access.Filtered(filter.Eq("status", "draft")), nil
	}
	reg, err := schema.Load(&schema.Collection{
		Name: "posts",
		Fields: map[string]schema.Field{
			"title":  {Kind: schema.KindText},
			"status": {Kind: schema.KindText, Default: "draft"},
		},
		Access: schema.CollectionAccess{Create: draftsOnly},
	})
	require.NoError(t, err)
	eng, mem := newTestEngine(t, reg)
	ctx := context.Background()

	// The payload omits status; the default satisfies the predicate.
	res, err := eng.Run(ctx, nil, OperationRequest{
		Collection: "posts",
		Op:         access.OpCreate,
		Data:       map[string]any{"title": "t"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Item)
	assert.Equal(t, "draft", res.Item["status"])

	// An explicit value outside the predicate is still silently denied.
	res, err = eng.Run(ctx, nil, OperationRequest{
		Collection: "posts",
		Op:         access.OpCreate,
		Data:       map[string]any{"title": "t2", "status": "published"},
	})
	require.NoError(t, err)
	assert.Nil(t, res.Item)

	count, err := mem.Count(ctx, "posts", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
