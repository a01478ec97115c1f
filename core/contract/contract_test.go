package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/kontrakt/core"
)

func TestFieldType(t *testing.T) {
	assert.True(t, TypeGuid.IsValid())
	assert.False(t, FieldType("uuid").IsValid())
	assert.True(t, TypeGuidArray.IsArray())
	assert.False(t, TypeGuid.IsArray())
	assert.True(t, TypeDecimal.IsNumeric())
	assert.False(t, TypeString.IsNumeric())
	assert.True(t, TypeEnum.IsText())
	assert.False(t, TypeDateTime.IsText())
}

func TestRelationKind_IsCollection(t *testing.T) {
	assert.True(t, OneToMany.IsCollection())
	assert.True(t, ManyToMany.IsCollection())
	assert.False(t, ManyToOne.IsCollection())
	assert.False(t, OneToOne.IsCollection())
}

func TestResource_Accessors(t *testing.T) {
	rc := &Resource{
		ResourceKey: "article",
		Key:         Key{Name: "ID", Type: TypeGuid},
		Fields: []Field{
			{Name: "ID", ApiName: "id", Type: TypeGuid, Immutable: true},
			{Name: "Title", ApiName: "title", Type: TypeString},
			{Name: "Revision", ApiName: "revision", Type: TypeString, Immutable: true},
		},
		Relations: []Relation{
			{Name: "Author", ApiName: "author", Kind: ManyToOne,
				Write: RelationWrite{Mode: WriteByID, WriteField: "authorId"}},
			{Name: "Drafts", ApiName: "drafts", Kind: OneToMany,
				Write: RelationWrite{Mode: WriteNestedDisabled, WriteField: "draftIds"}},
		},
		Operations: map[core.Operation]Operation{
			core.OperationUpdate: {
				Enabled:     true,
				Concurrency: &Concurrency{Mode: ConcurrencyRowVersion, Field: "revision"},
			},
		},
	}

	f, ok := rc.Field("title")
	require.True(t, ok)
	assert.Equal(t, "Title", f.Name)
	_, ok = rc.Field("Title")
	assert.False(t, ok)

	f, ok = rc.FieldByName("Title")
	require.True(t, ok)
	assert.Equal(t, "title", f.ApiName)

	key := rc.KeyField()
	require.NotNil(t, key)
	assert.Equal(t, "id", key.ApiName)

	_, ok = rc.Relation("author")
	assert.True(t, ok)

	rel, ok := rc.RelationByWriteField("authorId")
	require.True(t, ok)
	assert.Equal(t, "author", rel.ApiName)
	// write-disabled relations never match by write field
	_, ok = rc.RelationByWriteField("draftIds")
	assert.False(t, ok)

	assert.True(t, rc.Operation(core.OperationUpdate).Enabled)
	// a missing entry is a disabled operation
	assert.False(t, rc.Operation(core.OperationDelete).Enabled)

	token, mode := rc.ConcurrencyField()
	require.NotNil(t, token)
	assert.Equal(t, "revision", token.ApiName)
	assert.Equal(t, ConcurrencyRowVersion, mode)
}

func TestResource_ConcurrencyFieldAbsent(t *testing.T) {
	rc := &Resource{Operations: map[core.Operation]Operation{
		core.OperationUpdate: {Enabled: true},
	}}
	f, mode := rc.ConcurrencyField()
	assert.Nil(t, f)
	assert.Equal(t, ConcurrencyNone, mode)
}
