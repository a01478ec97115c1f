package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/kontrakt/core"
	"github.com/relabs-tech/kontrakt/core/contract"
)

func queryResource() *contract.Resource {
	return &contract.Resource{
		ResourceKey: "article",
		Fields: []contract.Field{
			{Name: "ID", ApiName: "id", Type: contract.TypeGuid, Filterable: true},
			{Name: "Title", ApiName: "title", Type: contract.TypeString, Filterable: true, Sortable: true, Searchable: true},
			{Name: "Views", ApiName: "views", Type: contract.TypeInt64, Filterable: true, Sortable: true},
			{Name: "Status", ApiName: "status", Type: contract.TypeEnum, Filterable: true, Searchable: true,
				Validation: contract.Validation{AllowedValues: []string{"draft", "published"}}},
			{Name: "Secret", ApiName: "secret", Type: contract.TypeString},
		},
		Query: contract.Query{
			MaxPageSize: 50,
			FilterableFields: map[string]bool{
				"id": true, "title": true, "views": true, "status": true,
			},
			SortableFields: map[string]bool{"title": true, "views": true},
			SearchableFields: []string{"title", "status"},
		},
	}
}

func TestCompile_Filters(t *testing.T) {
	rc := queryResource()

	plan, err := Compile(rc, contract.QuerySpec{Filters: map[string]string{
		"title": "hello",
	}}, contract.ExpandSpec{})
	require.NoError(t, err)
	cmp, ok := plan.Filter.(Compare)
	require.True(t, ok)
	assert.Equal(t, OpEq, cmp.Op)
	assert.Equal(t, "title", cmp.Field.ApiName)
	assert.Equal(t, "hello", cmp.Value)

	// explicit operator prefix, value coerced to the field type
	plan, err = Compile(rc, contract.QuerySpec{Filters: map[string]string{
		"views": "gte:100",
	}}, contract.ExpandSpec{})
	require.NoError(t, err)
	cmp = plan.Filter.(Compare)
	assert.Equal(t, OpGte, cmp.Op)
	assert.Equal(t, int64(100), cmp.Value)

	// multiple filters conjoin in deterministic field order
	plan, err = Compile(rc, contract.QuerySpec{Filters: map[string]string{
		"views": "lt:10",
		"title": "contains:go",
	}}, contract.ExpandSpec{})
	require.NoError(t, err)
	and, ok := plan.Filter.(And)
	require.True(t, ok)
	require.Len(t, and.Exprs, 2)
	match, ok := and.Exprs[0].(Match)
	require.True(t, ok)
	assert.Equal(t, OpContains, match.Op)
	assert.Equal(t, "go", match.Value)

	// in splits on the pipe
	plan, err = Compile(rc, contract.QuerySpec{Filters: map[string]string{
		"status": "in:draft|published",
	}}, contract.ExpandSpec{})
	require.NoError(t, err)
	in, ok := plan.Filter.(In)
	require.True(t, ok)
	assert.Equal(t, []any{"draft", "published"}, in.Values)

	// isnull takes a boolean
	plan, err = Compile(rc, contract.QuerySpec{Filters: map[string]string{
		"title": "isnull:true",
	}}, contract.ExpandSpec{})
	require.NoError(t, err)
	isNull, ok := plan.Filter.(IsNull)
	require.True(t, ok)
	assert.True(t, isNull.Null)
}

func TestCompile_UnknownOperatorPrefixIsValue(t *testing.T) {
	rc := queryResource()
	plan, err := Compile(rc, contract.QuerySpec{Filters: map[string]string{
		"title": "mailto:someone",
	}}, contract.ExpandSpec{})
	require.NoError(t, err)
	cmp := plan.Filter.(Compare)
	assert.Equal(t, OpEq, cmp.Op)
	assert.Equal(t, "mailto:someone", cmp.Value)
}

func TestCompile_TextOperatorsDegradeOnNonText(t *testing.T) {
	rc := queryResource()
	plan, err := Compile(rc, contract.QuerySpec{Filters: map[string]string{
		"views": "contains:5",
	}}, contract.ExpandSpec{})
	require.NoError(t, err)
	cmp, ok := plan.Filter.(Compare)
	require.True(t, ok)
	assert.Equal(t, OpEq, cmp.Op)
	assert.Equal(t, int64(5), cmp.Value)
}

func TestCompile_EnumFoldsOntoDeclaredSpelling(t *testing.T) {
	rc := queryResource()
	plan, err := Compile(rc, contract.QuerySpec{Filters: map[string]string{
		"status": "eq:PUBLISHED",
	}}, contract.ExpandSpec{})
	require.NoError(t, err)
	cmp, ok := plan.Filter.(Compare)
	require.True(t, ok)
	assert.Equal(t, "published", cmp.Value)

	plan, err = Compile(rc, contract.QuerySpec{Filters: map[string]string{
		"status": "in:Draft|PUBLISHED",
	}}, contract.ExpandSpec{})
	require.NoError(t, err)
	in, ok := plan.Filter.(In)
	require.True(t, ok)
	assert.Equal(t, []any{"draft", "published"}, in.Values)

	// a value outside the allowed set is a client error, not a miss
	_, err = Compile(rc, contract.QuerySpec{Filters: map[string]string{
		"status": "eq:archived",
	}}, contract.ExpandSpec{})
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
	var ce *core.Error
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Fields, "status")
}

func TestCompile_DropsNonFilterable(t *testing.T) {
	rc := queryResource()
	plan, err := Compile(rc, contract.QuerySpec{Filters: map[string]string{
		"secret": "x",
		"nosuch": "y",
	}}, contract.ExpandSpec{})
	require.NoError(t, err)
	assert.Nil(t, plan.Filter)
}

func TestCompile_AggregatesCoercionErrors(t *testing.T) {
	rc := queryResource()
	_, err := Compile(rc, contract.QuerySpec{Filters: map[string]string{
		"views": "gte:many",
		"id":    "not-a-guid",
	}}, contract.ExpandSpec{})
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
	var ce *core.Error
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Fields, "views")
	assert.Contains(t, ce.Fields, "id")
}

func TestCompile_Search(t *testing.T) {
	rc := queryResource()
	plan, err := Compile(rc, contract.QuerySpec{Search: "report"}, contract.ExpandSpec{})
	require.NoError(t, err)
	or, ok := plan.Filter.(Or)
	require.True(t, ok)
	require.Len(t, or.Exprs, 2)
	for _, e := range or.Exprs {
		m := e.(Match)
		assert.Equal(t, OpContains, m.Op)
		assert.Equal(t, "report", m.Value)
	}

	// search combines conjunctively with filters
	plan, err = Compile(rc, contract.QuerySpec{
		Search:  "report",
		Filters: map[string]string{"views": "gt:0"},
	}, contract.ExpandSpec{})
	require.NoError(t, err)
	and, ok := plan.Filter.(And)
	require.True(t, ok)
	assert.Len(t, and.Exprs, 2)
}

func TestCompile_Sort(t *testing.T) {
	rc := queryResource()
	plan, err := Compile(rc, contract.QuerySpec{Sort: "-views, title, secret"}, contract.ExpandSpec{})
	require.NoError(t, err)
	require.Len(t, plan.Sort, 2)
	assert.Equal(t, "views", plan.Sort[0].Field.ApiName)
	assert.True(t, plan.Sort[0].Descending)
	assert.Equal(t, "title", plan.Sort[1].Field.ApiName)
	assert.False(t, plan.Sort[1].Descending)
}

func TestCompile_DefaultSort(t *testing.T) {
	rc := queryResource()
	rc.Query.DefaultSort = "-title"
	plan, err := Compile(rc, contract.QuerySpec{}, contract.ExpandSpec{})
	require.NoError(t, err)
	require.Len(t, plan.Sort, 1)
	assert.Equal(t, "title", plan.Sort[0].Field.ApiName)
	assert.True(t, plan.Sort[0].Descending)

	// an explicit sort wins over the default
	plan, err = Compile(rc, contract.QuerySpec{Sort: "views"}, contract.ExpandSpec{})
	require.NoError(t, err)
	assert.Equal(t, "views", plan.Sort[0].Field.ApiName)
}

func TestCompile_Paging(t *testing.T) {
	rc := queryResource()

	plan, err := Compile(rc, contract.QuerySpec{}, contract.ExpandSpec{})
	require.NoError(t, err)
	assert.Equal(t, 1, plan.Page)
	assert.Equal(t, DefaultPageSize, plan.PageSize)
	assert.Equal(t, 0, plan.Offset)

	plan, err = Compile(rc, contract.QuerySpec{Page: 3, PageSize: 10}, contract.ExpandSpec{})
	require.NoError(t, err)
	assert.Equal(t, 20, plan.Offset)
	assert.Equal(t, 10, plan.Limit)

	// page size clamps to the contract's maximum
	plan, err = Compile(rc, contract.QuerySpec{PageSize: 500}, contract.ExpandSpec{})
	require.NoError(t, err)
	assert.Equal(t, 50, plan.PageSize)

	plan, err = Compile(rc, contract.QuerySpec{Page: -2, PageSize: -5}, contract.ExpandSpec{})
	require.NoError(t, err)
	assert.Equal(t, 1, plan.Page)
	assert.Equal(t, 1, plan.PageSize)
}

func TestCompile_ProjectionAndExpand(t *testing.T) {
	rc := queryResource()
	plan, err := Compile(rc, contract.QuerySpec{Fields: "id, title ,"},
		contract.ExpandSpec{Expand: []string{"author"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "title"}, plan.Projection)
	assert.Equal(t, []string{"author"}, plan.Expand)
}
