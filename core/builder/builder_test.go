package builder

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/kontrakt/core"
	"github.com/relabs-tech/kontrakt/core/contract"
	"github.com/relabs-tech/kontrakt/core/entity"
)

type Author struct {
	ID   uuid.UUID
	Name string
}

type Tag struct {
	ID    uuid.UUID
	Label string
}

type Article struct {
	ID        uuid.UUID
	Title     string
	Secret    string
	Views     int64
	CreatedAt time.Time
	AuthorID  *uuid.UUID
	Author    *Author
	Tags      []Tag
}

type Legacy struct {
	LegacyID uuid.UUID
	Name     string
}

func newTypes(t *testing.T) *entity.Registry {
	types := entity.NewRegistry()
	require.NoError(t, types.Register("article", Article{}))
	require.NoError(t, types.Register("author", Author{}))
	require.NoError(t, types.Register("tag", Tag{}))
	require.NoError(t, types.Register("legacy", Legacy{}))
	return types
}

func TestBuild_KeyDiscovery(t *testing.T) {
	types := newTypes(t)

	set, err := Build(`{"resources": [
		{"resource": "author", "fields": [{"name": "Name"}]},
		{"resource": "legacy", "fields": [{"name": "Name"}]}
	]}`, types)
	require.NoError(t, err)

	author, ok := set.ByKey("author")
	require.True(t, ok)
	assert.Equal(t, "ID", author.Key.Name)
	assert.Equal(t, contract.TypeGuid, author.Key.Type)

	// no "ID" property, falls back to "{TypeName}ID"
	legacy, ok := set.ByKey("legacy")
	require.True(t, ok)
	assert.Equal(t, "LegacyID", legacy.Key.Name)

	// keys are always part of the contract and immutable
	key := legacy.KeyField()
	require.NotNil(t, key)
	assert.True(t, key.Immutable)
	assert.Equal(t, "legacyId", key.ApiName)
}

func TestBuild_KeyOverride(t *testing.T) {
	types := newTypes(t)
	set, err := Build(`{"resources": [
		{"resource": "legacy", "key": "name", "fields": [{"name": "Name"}]}
	]}`, types)
	require.NoError(t, err)
	legacy, _ := set.ByKey("legacy")
	assert.Equal(t, "Name", legacy.Key.Name)
}

func TestBuild_MissingKeyFails(t *testing.T) {
	types := entity.NewRegistry()
	require.NoError(t, types.Register("keyless", struct{ Name string }{}))
	_, err := Build(`{"resources": [{"resource": "keyless"}]}`, types)
	require.Error(t, err)
	assert.Equal(t, core.KindConfig, core.KindOf(err))
}

func TestBuild_FieldMembershipAndForceOuts(t *testing.T) {
	types := newTypes(t)
	set, err := Build(`{"resources": [
		{
			"resource": "article",
			"fields": [
				{"name": "Title", "filterable": true, "sortable": true},
				{"name": "Secret", "hidden": true},
				{"name": "Views", "create": false, "update": false, "sortable": true},
				{"name": "CreatedAt", "immutable": true},
				{"name": "Headline", "type": "string", "computed": true, "computed_expression": "Title"}
			]
		}
	]}`, types)
	require.NoError(t, err)
	article, _ := set.ByKey("article")

	title, ok := article.Field("title")
	require.True(t, ok)
	assert.True(t, title.InRead)
	assert.True(t, title.InCreate)
	assert.True(t, title.InUpdate)
	assert.Equal(t, contract.TypeString, title.Type)

	// hidden strips everything
	secret, ok := article.Field("secret")
	require.True(t, ok)
	assert.False(t, secret.InRead)
	assert.False(t, secret.InCreate)
	assert.False(t, secret.Filterable)

	// computed strips the write flags
	headline, ok := article.Field("headline")
	require.True(t, ok)
	assert.True(t, headline.InRead)
	assert.False(t, headline.InCreate)
	assert.False(t, headline.InUpdate)

	// immutable strips updates only
	createdAt, ok := article.Field("createdAt")
	require.True(t, ok)
	assert.True(t, createdAt.InCreate)
	assert.False(t, createdAt.InUpdate)
	assert.Equal(t, contract.TypeDateTime, createdAt.Type)

	// undeclared scalars are excluded by default, navigations always
	_, ok = article.Field("author")
	assert.False(t, ok)
	_, ok = article.Field("tags")
	assert.False(t, ok)

	// query allowlists follow the flags
	assert.True(t, article.Query.FilterableFields["title"])
	assert.True(t, article.Query.SortableFields["views"])
	assert.False(t, article.Query.SortableFields["secret"])
}

func TestBuild_DefaultFieldPolicyReadOnly(t *testing.T) {
	types := newTypes(t)
	set, err := Build(`{
		"default_field_policy": "read-only",
		"resources": [
			{"resource": "article", "fields": [{"name": "Title"}]}
		]}`, types)
	require.NoError(t, err)
	article, _ := set.ByKey("article")

	// undeclared scalars become read-only fields
	views, ok := article.Field("views")
	require.True(t, ok)
	assert.True(t, views.InRead)
	assert.False(t, views.InCreate)
	assert.False(t, views.InUpdate)

	// navigations stay out regardless of policy
	_, ok = article.Field("author")
	assert.False(t, ok)
}

func TestBuild_RelationInference(t *testing.T) {
	types := newTypes(t)
	set, err := Build(`{"resources": [
		{"resource": "author", "fields": [{"name": "Name"}]},
		{"resource": "tag", "fields": [{"name": "Label"}]},
		{
			"resource": "article",
			"fields": [{"name": "Title"}],
			"relations": [
				{"name": "Author", "kind": "many-to-one", "write_mode": "by-id", "expand": true},
				{"name": "Tags", "kind": "many-to-many", "target": "tag", "write_mode": "by-id-list"}
			]
		}
	]}`, types)
	require.NoError(t, err)
	article, _ := set.ByKey("article")

	author, ok := article.Relation("author")
	require.True(t, ok)
	assert.Equal(t, "Author", author.TargetResourceKey)
	assert.Equal(t, "AuthorID", author.Write.ForeignKey)
	assert.Equal(t, "authorId", author.Write.WriteField)

	// the inferred foreign key is materialized as a field
	fk, ok := article.FieldByName("AuthorID")
	require.True(t, ok)
	assert.Equal(t, contract.TypeGuid, fk.Type)
	assert.True(t, fk.Nullable)

	tags, ok := article.Relation("tags")
	require.True(t, ok)
	assert.Equal(t, "tagsIds", tags.Write.WriteField)

	rel, ok := article.RelationByWriteField("authorId")
	require.True(t, ok)
	assert.Equal(t, "author", rel.ApiName)

	// expand allowlist carries only relations marked for expansion
	assert.True(t, article.Read.ExpandAllowed["author"])
	assert.False(t, article.Read.ExpandAllowed["tags"])
}

func TestBuild_RelationKindWriteModeMismatch(t *testing.T) {
	types := newTypes(t)
	_, err := Build(`{"resources": [
		{"resource": "tag", "fields": [{"name": "Label"}]},
		{
			"resource": "article",
			"fields": [{"name": "Title"}],
			"relations": [
				{"name": "Tags", "kind": "many-to-many", "target": "tag", "write_mode": "by-id"}
			]
		}
	]}`, types)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "by-id writes require a single-valued relation")
}

func TestBuild_OperationShapes(t *testing.T) {
	types := newTypes(t)
	set, err := Build(`{"resources": [
		{
			"resource": "article",
			"operations": ["list", "read", "create", "update"],
			"fields": [
				{"name": "Title", "required": true},
				{"name": "CreatedAt", "immutable": true},
				{"name": "Revision", "type": "string", "concurrency": "row-version", "concurrency_required": true}
			]
		}
	]}`, types)
	require.NoError(t, err)
	article, _ := set.ByKey("article")

	assert.False(t, article.Operation(core.OperationDelete).Enabled)

	create := article.Operation(core.OperationCreate)
	assert.True(t, create.Enabled)
	assert.Contains(t, create.InputShape, "title")
	assert.NotContains(t, create.InputShape, "revision")
	assert.Equal(t, []string{"title"}, create.RequiredOnCreate)

	update := article.Operation(core.OperationUpdate)
	assert.NotContains(t, update.InputShape, "createdAt")
	assert.Contains(t, update.ImmutableFields, "createdAt")
	require.NotNil(t, update.Concurrency)
	assert.Equal(t, contract.ConcurrencyRowVersion, update.Concurrency.Mode)
	assert.Equal(t, "revision", update.Concurrency.Field)
	assert.True(t, update.Concurrency.RequiredOnUpdate)

	f, mode := article.ConcurrencyField()
	require.NotNil(t, f)
	assert.Equal(t, contract.ConcurrencyRowVersion, mode)
}

func TestBuild_CollectsAllViolations(t *testing.T) {
	types := newTypes(t)
	_, err := Build(`{"resources": [
		{"resource": "author", "route": "people", "fields": [{"name": "Name"}]},
		{"resource": "tag", "route": "People", "default_sort": "label",
			"max_expand_depth": 7, "fields": [{"name": "Label"}]},
		{"resource": "article", "fields": [{"name": "Title"}],
			"relations": [{"name": "Author", "kind": "many-to-one", "target": "nosuch"}],
			"tenant": {"field": "org"}}
	]}`, types)
	require.Error(t, err)
	var ce *core.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, core.KindConfig, ce.Kind)

	text := err.Error()
	assert.Contains(t, text, "collides")
	assert.Contains(t, text, "not sortable")
	assert.Contains(t, text, "maxExpandDepth")
	assert.Contains(t, text, "unknown resource")
	assert.Contains(t, text, "tenant field")
}

func TestBuild_DefaultValueMustConvert(t *testing.T) {
	types := newTypes(t)
	_, err := Build(`{"resources": [
		{"resource": "article", "fields": [
			{"name": "Views", "default": "not a number"}
		]}
	]}`, types)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field Views")
}

func TestBuild_RouteDefaultsToPlural(t *testing.T) {
	types := newTypes(t)
	set, err := Build(`{"resources": [
		{"resource": "author", "fields": [{"name": "Name"}]}
	]}`, types)
	require.NoError(t, err)
	author, ok := set.ByRoute("authors")
	require.True(t, ok)
	assert.Equal(t, "author", author.ResourceKey)
}

func TestBuildDynamic(t *testing.T) {
	types := newTypes(t)
	set, err := Build(`{"resources": [
		{"resource": "author", "fields": [{"name": "Name"}]}
	]}`, types)
	require.NoError(t, err)

	rc, err := BuildDynamic(&ResourceConfiguration{
		Resource: "ticket",
		Fields: []FieldConfiguration{
			{Name: "id", Type: "guid"},
			{Name: "title", Type: "string", Required: true},
		},
	}, set)
	require.NoError(t, err)
	assert.Equal(t, contract.BackendDynamicJSON, rc.Backend)
	assert.Equal(t, "id", rc.Key.Name)

	// orm is not a dynamic strategy
	_, err = BuildDynamic(&ResourceConfiguration{
		Resource: "ticket",
		Backend:  "orm",
		Fields:   []FieldConfiguration{{Name: "id", Type: "guid"}},
	}, set)
	require.Error(t, err)

	// a dynamic definition cannot steal a static route
	_, err = BuildDynamic(&ResourceConfiguration{
		Resource: "writer",
		Route:    "authors",
		Fields:   []FieldConfiguration{{Name: "id", Type: "guid"}},
	}, set)
	require.Error(t, err)
}
