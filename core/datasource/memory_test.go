package datasource

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/kontrakt/core"
	"github.com/relabs-tech/kontrakt/core/contract"
	"github.com/relabs-tech/kontrakt/core/entity"
	"github.com/relabs-tech/kontrakt/core/query"
)

func memoryResource() *contract.Resource {
	return &contract.Resource{
		ResourceKey: "article",
		Key:         contract.Key{Name: "id", Type: contract.TypeGuid},
		Fields: []contract.Field{
			{Name: "id", ApiName: "id", Type: contract.TypeGuid},
			{Name: "title", ApiName: "title", Type: contract.TypeString},
			{Name: "views", ApiName: "views", Type: contract.TypeInt64},
			{Name: "revision", ApiName: "revision", Type: contract.TypeString},
		},
		Operations: map[core.Operation]contract.Operation{
			core.OperationUpdate: {
				Enabled:     true,
				Concurrency: &contract.Concurrency{Mode: contract.ConcurrencyRowVersion, Field: "revision"},
			},
		},
	}
}

func mountMemory(t *testing.T) *MemoryCollection {
	t.Helper()
	return NewMemory().Mount(memoryResource(), entity.MapFactory{})
}

func insertArticle(t *testing.T, col *MemoryCollection, title string, views int64) entity.Accessor {
	t.Helper()
	acc := entity.MapFactory{}.New()
	require.NoError(t, acc.Set("title", title))
	require.NoError(t, acc.Set("views", views))
	stored, err := col.Insert(context.Background(), acc)
	require.NoError(t, err)
	return stored
}

func TestMemory_CollectionLookup(t *testing.T) {
	m := NewMemory()
	m.Mount(memoryResource(), entity.MapFactory{})
	_, ok := m.Collection("ARTICLE")
	assert.True(t, ok)
	_, ok = m.Collection("nosuch")
	assert.False(t, ok)
}

func TestMemoryCollection_InsertGeneratesKeyAndToken(t *testing.T) {
	col := mountMemory(t)
	stored := insertArticle(t, col, "hello", 1)

	id, _ := stored.Get("id")
	require.IsType(t, uuid.UUID{}, id)
	assert.NotEqual(t, uuid.Nil, id)

	token, _ := stored.Get("revision")
	require.IsType(t, "", token)
	assert.NotEmpty(t, token)

	got, err := col.Get(context.Background(), id)
	require.NoError(t, err)
	title, _ := got.Get("title")
	assert.Equal(t, "hello", title)
}

func TestMemoryCollection_GetNotFound(t *testing.T) {
	col := mountMemory(t)
	_, err := col.Get(context.Background(), uuid.New())
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestMemoryCollection_UpdateChecksVersion(t *testing.T) {
	col := mountMemory(t)
	stored := insertArticle(t, col, "hello", 1)
	id, _ := stored.Get("id")
	token, _ := stored.Get("revision")

	changed := entity.MapFactory{}.New()
	require.NoError(t, changed.Set("id", id))
	require.NoError(t, changed.Set("title", "changed"))
	updated, err := col.Update(context.Background(), changed, token)
	require.NoError(t, err)
	newToken, _ := updated.Get("revision")
	assert.NotEqual(t, token, newToken)

	// the first token is now stale
	stale := entity.MapFactory{}.New()
	require.NoError(t, stale.Set("id", id))
	_, err = col.Update(context.Background(), stale, token)
	assert.Equal(t, core.KindConflict, core.KindOf(err))

	// nil expected version skips the check
	_, err = col.Update(context.Background(), stale, nil)
	assert.NoError(t, err)
}

func TestMemoryCollection_UpdateNotFound(t *testing.T) {
	col := mountMemory(t)
	acc := entity.MapFactory{}.New()
	require.NoError(t, acc.Set("id", uuid.New()))
	_, err := col.Update(context.Background(), acc, nil)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestMemoryCollection_Delete(t *testing.T) {
	col := mountMemory(t)
	stored := insertArticle(t, col, "hello", 1)
	id, _ := stored.Get("id")

	require.NoError(t, col.Delete(context.Background(), id))
	_, err := col.Get(context.Background(), id)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
	assert.Equal(t, core.KindNotFound, core.KindOf(col.Delete(context.Background(), id)))
}

func TestMemoryCollection_ListFilterSortPage(t *testing.T) {
	col := mountMemory(t)
	insertArticle(t, col, "alpha", 10)
	insertArticle(t, col, "bravo", 30)
	insertArticle(t, col, "charlie", 20)
	insertArticle(t, col, "delta", 5)

	views := query.Field{Name: "views", ApiName: "views", Type: contract.TypeInt64}
	title := query.Field{Name: "title", ApiName: "title", Type: contract.TypeString}

	items, total, err := col.List(context.Background(), &query.Plan{
		Filter: query.Compare{Field: views, Op: query.OpGte, Value: int64(10)},
		Sort:   []query.SortKey{{Field: views, Descending: true}},
		Limit:  2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 2)
	first, _ := items[0].Get("title")
	second, _ := items[1].Get("title")
	assert.Equal(t, "bravo", first)
	assert.Equal(t, "charlie", second)

	// second page
	items, total, err = col.List(context.Background(), &query.Plan{
		Filter: query.Compare{Field: views, Op: query.OpGte, Value: int64(10)},
		Sort:   []query.SortKey{{Field: views, Descending: true}},
		Offset: 2,
		Limit:  2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 1)

	// case-insensitive match
	items, _, err = col.List(context.Background(), &query.Plan{
		Filter: query.Match{Field: title, Op: query.OpStarts, Value: "CHAR"},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)

	// or over terms
	items, _, err = col.List(context.Background(), &query.Plan{
		Filter: query.Or{Exprs: []query.Expr{
			query.Compare{Field: title, Op: query.OpEq, Value: "alpha"},
			query.Compare{Field: title, Op: query.OpEq, Value: "delta"},
		}},
		Sort: []query.SortKey{{Field: title}},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)

	// in matches against the candidate list
	items, _, err = col.List(context.Background(), &query.Plan{
		Filter: query.In{Field: views, Values: []any{int64(5), int64(30)}},
	})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestMemoryCollection_ListHonorsCancellation(t *testing.T) {
	col := mountMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := col.List(ctx, &query.Plan{})
	assert.Error(t, err)
}

func TestMemoryCollection_ResolveMany(t *testing.T) {
	col := mountMemory(t)
	a := insertArticle(t, col, "alpha", 1)
	b := insertArticle(t, col, "bravo", 2)
	aid, _ := a.Get("id")
	bid, _ := b.Get("id")

	items, err := col.ResolveMany(context.Background(), []any{aid, uuid.New(), bid})
	require.NoError(t, err)
	// unknown ids are skipped, known ones come back in request order
	require.Len(t, items, 2)
	first, _ := items[0].Get("title")
	assert.Equal(t, "alpha", first)
}

func TestEqual(t *testing.T) {
	id := uuid.New()
	assert.True(t, Equal(int32(5), int64(5)))
	assert.True(t, Equal(id, id.String()))
	assert.True(t, Equal("a", "a"))
	assert.False(t, Equal("a", "b"))
	assert.False(t, Equal(nil, "a"))
}

func TestCompareTime(t *testing.T) {
	earlier := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)
	cmp, ok := compare(earlier, later)
	require.True(t, ok)
	assert.Equal(t, -1, cmp)
	cmp, ok = compare(later, later)
	require.True(t, ok)
	assert.Equal(t, 0, cmp)
	_, ok = compare(earlier, "2026")
	assert.False(t, ok)
}
