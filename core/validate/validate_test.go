package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/kontrakt/core"
	"github.com/relabs-tech/kontrakt/core/contract"
	"github.com/relabs-tech/kontrakt/core/mapper"
	"github.com/relabs-tech/kontrakt/core/pointers"
)

func validationResource() *contract.Resource {
	return &contract.Resource{
		ResourceKey: "article",
		Key:         contract.Key{Name: "id", Type: contract.TypeGuid},
		Fields: []contract.Field{
			{Name: "id", ApiName: "id", Type: contract.TypeGuid, InRead: true, Immutable: true},
			{Name: "title", ApiName: "title", Type: contract.TypeString, InRead: true, InCreate: true, InUpdate: true,
				Validation: contract.Validation{RequiredOnCreate: true, MinLength: 3, MaxLength: 10}},
			{Name: "slug", ApiName: "slug", Type: contract.TypeString, Nullable: true, InRead: true, InCreate: true, InUpdate: true,
				Validation: contract.Validation{Pattern: "^[a-z-]+$"}},
			{Name: "status", ApiName: "status", Type: contract.TypeEnum, InRead: true, InCreate: true, InUpdate: true,
				Validation: contract.Validation{AllowedValues: []string{"draft", "published"}}},
			{Name: "views", ApiName: "views", Type: contract.TypeInt64, InRead: true, InCreate: true, InUpdate: true,
				Validation: contract.Validation{Minimum: pointers.Float64Ptr(0), Maximum: pointers.Float64Ptr(1000)}},
			{Name: "revision", ApiName: "revision", Type: contract.TypeString, InRead: true, Immutable: true},
		},
		Relations: []contract.Relation{
			{Name: "author", ApiName: "author", Kind: contract.ManyToOne, TargetResourceKey: "author",
				Write: contract.RelationWrite{Mode: contract.WriteByID, WriteField: "authorId",
					ForeignKey: "authorId", RequiredOnCreate: true}},
		},
		Operations: map[core.Operation]contract.Operation{
			core.OperationCreate: {
				Enabled:          true,
				InputShape:       []string{"title", "slug", "status", "views"},
				RequiredOnCreate: []string{"title"},
			},
			core.OperationUpdate: {
				Enabled:         true,
				InputShape:      []string{"title", "slug", "status", "views"},
				ImmutableFields: []string{"id", "revision"},
				Concurrency: &contract.Concurrency{Mode: contract.ConcurrencyRowVersion,
					Field: "revision", RequiredOnUpdate: true},
			},
		},
	}
}

func parse(t *testing.T, s string) mapper.Body {
	t.Helper()
	body, err := mapper.ParseBody([]byte(s))
	require.NoError(t, err)
	return body
}

func TestBody_CleanCreate(t *testing.T) {
	rc := validationResource()
	errs := Body(rc, core.OperationCreate, parse(t, `{
		"title": "hello", "slug": "hello-world", "status": "draft",
		"views": 5, "authorId": "2f5b0f0e-8f7a-4b7a-9f00-6d2f0c6e9b01"
	}`))
	assert.Nil(t, errs)
}

func TestBody_UnknownOrForbiddenFields(t *testing.T) {
	rc := validationResource()
	errs := Body(rc, core.OperationCreate, parse(t, `{
		"title": "hello", "authorId": "2f5b0f0e-8f7a-4b7a-9f00-6d2f0c6e9b01",
		"nosuch": 1, "id": "2f5b0f0e-8f7a-4b7a-9f00-6d2f0c6e9b01"
	}`))
	require.NotNil(t, errs)
	assert.Contains(t, errs["nosuch"], "unknown or forbidden field")
	// the key is not creatable either
	assert.Contains(t, errs["id"], "unknown or forbidden field")
}

func TestBody_RequiredOnCreate(t *testing.T) {
	rc := validationResource()
	errs := Body(rc, core.OperationCreate, parse(t, `{}`))
	require.NotNil(t, errs)
	assert.Contains(t, errs["title"], "required")
	// required relations count too
	assert.Contains(t, errs["authorId"], "required")

	// required applies to create only
	errs = Body(rc, core.OperationUpdate, parse(t, `{"revision": "dG9rZW4="}`))
	assert.Nil(t, errs)
}

func TestBody_ImmutableOnUpdate(t *testing.T) {
	rc := validationResource()
	errs := Body(rc, core.OperationUpdate, parse(t, `{
		"id": "2f5b0f0e-8f7a-4b7a-9f00-6d2f0c6e9b01", "revision": "dG9rZW4="
	}`))
	require.NotNil(t, errs)
	assert.Equal(t, []string{"immutable"}, errs["id"])
	// the concurrency token is exempt from the immutability rule
	assert.NotContains(t, errs, "revision")
}

func TestBody_ConcurrencyTokenRequired(t *testing.T) {
	rc := validationResource()
	errs := Body(rc, core.OperationUpdate, parse(t, `{"title": "changed"}`))
	require.NotNil(t, errs)
	assert.Contains(t, errs["revision"], "concurrency token required")

	rc.Operations[core.OperationUpdate].Concurrency.RequiredOnUpdate = false
	errs = Body(rc, core.OperationUpdate, parse(t, `{"title": "changed"}`))
	assert.Nil(t, errs)
}

func TestBody_Constraints(t *testing.T) {
	rc := validationResource()
	errs := Body(rc, core.OperationCreate, parse(t, `{
		"title": "hi",
		"slug": "Not A Slug",
		"status": "archived",
		"views": 2000,
		"authorId": "2f5b0f0e-8f7a-4b7a-9f00-6d2f0c6e9b01"
	}`))
	require.NotNil(t, errs)
	assert.Contains(t, errs["title"], "must be at least 3 characters")
	assert.Contains(t, errs["slug"], "does not match the required pattern")
	assert.Contains(t, errs["status"], "is not one of the allowed values")
	assert.Contains(t, errs["views"], "must be at most 1000")
}

func TestBody_AllowedValuesMatchCaseInsensitively(t *testing.T) {
	rc := validationResource()
	errs := Body(rc, core.OperationCreate, parse(t, `{
		"title": "hello", "status": "Draft",
		"authorId": "2f5b0f0e-8f7a-4b7a-9f00-6d2f0c6e9b01"
	}`))
	assert.Nil(t, errs)
}

func TestBody_TypeMismatch(t *testing.T) {
	rc := validationResource()
	errs := Body(rc, core.OperationCreate, parse(t, `{
		"title": "hello", "views": "many",
		"authorId": "2f5b0f0e-8f7a-4b7a-9f00-6d2f0c6e9b01"
	}`))
	require.NotNil(t, errs)
	assert.NotEmpty(t, errs["views"])
}

func TestBody_NullHandling(t *testing.T) {
	rc := validationResource()

	// nullable fields accept null, constraints do not run on null
	errs := Body(rc, core.OperationCreate, parse(t, `{
		"title": "hello", "slug": null,
		"authorId": "2f5b0f0e-8f7a-4b7a-9f00-6d2f0c6e9b01"
	}`))
	assert.Nil(t, errs)

	// non-nullable fields reject null
	errs = Body(rc, core.OperationCreate, parse(t, `{
		"title": null,
		"authorId": "2f5b0f0e-8f7a-4b7a-9f00-6d2f0c6e9b01"
	}`))
	require.NotNil(t, errs)
	assert.Contains(t, errs["title"], "must not be null")
}

func TestBody_AccumulatesAcrossRules(t *testing.T) {
	rc := validationResource()
	errs := Body(rc, core.OperationUpdate, parse(t, `{
		"id": "2f5b0f0e-8f7a-4b7a-9f00-6d2f0c6e9b01",
		"nosuch": 1,
		"title": "a title that is clearly far too long"
	}`))
	require.NotNil(t, errs)
	assert.Len(t, errs, 4)
	assert.Contains(t, errs, "id")
	assert.Contains(t, errs, "nosuch")
	assert.Contains(t, errs, "title")
	assert.Contains(t, errs, "revision")
}
