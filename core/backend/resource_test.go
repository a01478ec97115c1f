package backend_test

import (
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/kontrakt/core/access"
	"github.com/relabs-tech/kontrakt/core/backend"
	"github.com/relabs-tech/kontrakt/core/client"
)

var testConfiguration = `{
	"resources": [
	  {
		"resource": "article",
		"backend": "dynamic-json",
		"fields": [
		  {"name": "id", "type": "guid"},
		  {"name": "title", "type": "string", "required": true, "min_length": 3,
		   "filterable": true, "sortable": true, "searchable": true},
		  {"name": "status", "type": "enum", "allowed_values": ["draft", "published"],
		   "default": "draft", "filterable": true},
		  {"name": "views", "type": "int64", "filterable": true, "sortable": true},
		  {"name": "revision", "type": "string", "concurrency": "row-version"}
		]
	  },
	  {
		"resource": "vault",
		"backend": "dynamic-json",
		"security": {"create": "editor", "delete": "admin"},
		"fields": [
		  {"name": "id", "type": "guid"},
		  {"name": "name", "type": "string"}
		]
	  },
	  {
		"resource": "note",
		"backend": "dynamic-json",
		"tenant": {"field": "org", "required": true},
		"fields": [
		  {"name": "id", "type": "guid"},
		  {"name": "text", "type": "string"},
		  {"name": "org", "type": "string", "filterable": true}
		]
	  },
	  {
		"resource": "log",
		"backend": "dynamic-json",
		"operations": ["list", "read", "create"],
		"fields": [
		  {"name": "id", "type": "guid"},
		  {"name": "line", "type": "string"}
		]
	  }
	]
}`

// newTestBackend brings up an in-memory backend behind a fresh router.
func newTestBackend(t *testing.T) client.Client {
	t.Helper()
	router := mux.NewRouter()
	backend.New(&backend.Builder{
		Config: testConfiguration,
		Router: router,
	})
	return client.NewWithRouter(router).WithAdminAuthorization()
}

func TestBackend_CrudLifecycle(t *testing.T) {
	cl := newTestBackend(t)
	articles := cl.Resource("articles")

	var created map[string]any
	status, err := articles.Create(map[string]any{"title": "hello world"}, &created)
	require.NoError(t, err)
	assert.Equal(t, 201, status)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "hello world", created["title"])
	// the declared default applies
	assert.Equal(t, "draft", created["status"])
	revision, _ := created["revision"].(string)
	require.NotEmpty(t, revision)

	var read map[string]any
	status, err = articles.Read(id, &read)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, "hello world", read["title"])

	var updated map[string]any
	status, err = articles.Patch(id, map[string]any{
		"title": "changed", "revision": revision,
	}, &updated)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, "changed", updated["title"])
	assert.NotEqual(t, revision, updated["revision"])

	// the old token is now stale
	status, _ = articles.Patch(id, map[string]any{
		"title": "too late", "revision": revision,
	}, nil)
	assert.Equal(t, 409, status)

	status, err = articles.Delete(id)
	require.NoError(t, err)
	assert.Equal(t, 204, status)

	status, _ = articles.Read(id, &read)
	assert.Equal(t, 404, status)
}

func TestBackend_ValidationErrors(t *testing.T) {
	cl := newTestBackend(t)
	articles := cl.Resource("articles")

	// missing required field, the error document names it
	status, err := articles.Create(map[string]any{"status": "draft"}, nil)
	assert.Equal(t, 400, status)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"title"`)
	assert.Contains(t, err.Error(), "required")

	// unknown field
	status, _ = articles.Create(map[string]any{"title": "hello", "nosuch": 1}, nil)
	assert.Equal(t, 400, status)

	// constraint violation
	status, _ = articles.Create(map[string]any{"title": "hi"}, nil)
	assert.Equal(t, 400, status)

	// enum outside the allowed values
	status, _ = articles.Create(map[string]any{"title": "hello", "status": "archived"}, nil)
	assert.Equal(t, 400, status)

	// malformed item key
	status, _ = articles.Read("not-a-guid", nil)
	assert.Equal(t, 400, status)

	// unknown item
	status, _ = articles.Read("52fdfc07-2182-454f-963f-5f0f9a621d72", nil)
	assert.Equal(t, 404, status)
}

func TestBackend_ListQueries(t *testing.T) {
	cl := newTestBackend(t)
	articles := cl.Resource("articles")

	seed := []map[string]any{
		{"title": "annual report", "status": "published", "views": 30},
		{"title": "quarterly report", "status": "draft", "views": 10},
		{"title": "meeting notes", "status": "published", "views": 20},
	}
	for _, doc := range seed {
		status, err := articles.Create(doc, nil)
		require.NoError(t, err)
		require.Equal(t, 201, status)
	}

	type envelope struct {
		Items    []map[string]any `json:"items"`
		Page     int              `json:"page"`
		PageSize int              `json:"pageSize"`
		Total    int              `json:"total"`
	}

	var filtered envelope
	status, err := articles.WithFilter("status", "published").WithSort("-views").List(&filtered)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	require.Len(t, filtered.Items, 2)
	assert.Equal(t, 2, filtered.Total)
	assert.Equal(t, "annual report", filtered.Items[0]["title"])
	assert.Equal(t, "meeting notes", filtered.Items[1]["title"])

	// enum filter values match regardless of case
	var folded envelope
	status, err = articles.WithFilter("status", "eq:PUBLISHED").List(&folded)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, 2, folded.Total)

	// substring search over the searchable fields
	var searched envelope
	status, err = articles.WithSearch("report").List(&searched)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, 2, searched.Total)

	// operator-prefixed filter
	var ranged envelope
	status, err = articles.WithFilter("views", "gte:20").List(&ranged)
	require.NoError(t, err)
	assert.Equal(t, 2, ranged.Total)

	// paging
	var paged envelope
	status, err = articles.WithSort("views").WithPage(2, 2).List(&paged)
	require.NoError(t, err)
	assert.Equal(t, 3, paged.Total)
	require.Len(t, paged.Items, 1)
	assert.Equal(t, 2, paged.Page)

	// projection narrows the items
	var projected envelope
	status, err = articles.WithFields("title").List(&projected)
	require.NoError(t, err)
	require.NotEmpty(t, projected.Items)
	assert.Contains(t, projected.Items[0], "title")
	assert.NotContains(t, projected.Items[0], "status")

	// unknown filters are silently dropped
	var unfiltered envelope
	status, err = articles.WithFilter("nosuch", "x").List(&unfiltered)
	require.NoError(t, err)
	assert.Equal(t, 3, unfiltered.Total)

	// malformed paging parameter
	status, _ = articles.WithParameter("page", "abc").List(nil)
	assert.Equal(t, 400, status)

	// repeated parameters are rejected
	status, _ = articles.WithParameter("sort", "title").WithParameter("sort", "views").List(nil)
	assert.Equal(t, 400, status)
}

func TestBackend_SecurityPolicies(t *testing.T) {
	router := mux.NewRouter()
	backend.New(&backend.Builder{
		Config: testConfiguration,
		Router: router,
	})

	anonymous := client.NewWithRouter(router)
	editor := client.NewWithRouter(router).WithRole("editor")
	admin := client.NewWithRouter(router).WithAdminAuthorization()

	status, _ := anonymous.Resource("vaults").Create(map[string]any{"name": "a"}, nil)
	assert.Equal(t, 403, status)

	var created map[string]any
	status, err := editor.Resource("vaults").Create(map[string]any{"name": "a"}, &created)
	require.NoError(t, err)
	assert.Equal(t, 201, status)
	id := created["id"].(string)

	// reads have no policy on this resource
	status, err = anonymous.Resource("vaults").Read(id, nil)
	require.NoError(t, err)
	assert.Equal(t, 200, status)

	// the delete policy requires admin
	status, _ = editor.Resource("vaults").Delete(id)
	assert.Equal(t, 403, status)
	status, err = admin.Resource("vaults").Delete(id)
	require.NoError(t, err)
	assert.Equal(t, 204, status)
}

func TestBackend_TenantIsolation(t *testing.T) {
	router := mux.NewRouter()
	backend.New(&backend.Builder{
		Config: testConfiguration,
		Router: router,
	})

	tenantA := client.NewWithRouter(router).
		WithAuthorization(&access.Authorization{Tenant: "org-a"})
	tenantB := client.NewWithRouter(router).
		WithAuthorization(&access.Authorization{Tenant: "org-b"})
	noTenant := client.NewWithRouter(router).
		WithAuthorization(&access.Authorization{})

	// the tenant claim is mandatory for this resource
	status, _ := noTenant.Resource("notes").Create(map[string]any{"text": "x"}, nil)
	assert.Equal(t, 403, status)

	var created map[string]any
	status, err := tenantA.Resource("notes").Create(map[string]any{"text": "mine"}, &created)
	require.NoError(t, err)
	require.Equal(t, 201, status)
	// the caller's tenant is stamped onto the row
	assert.Equal(t, "org-a", created["org"])
	id := created["id"].(string)

	type envelope struct {
		Items []map[string]any `json:"items"`
		Total int              `json:"total"`
	}
	var result envelope
	status, err = tenantA.Resource("notes").List(&result)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)

	status, err = tenantB.Resource("notes").List(&result)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)

	// another tenant's row reads as not found, not as forbidden
	status, _ = tenantB.Resource("notes").Read(id, nil)
	assert.Equal(t, 404, status)
	status, _ = tenantB.Resource("notes").Patch(id, map[string]any{"text": "stolen"}, nil)
	assert.Equal(t, 404, status)
	status, _ = tenantB.Resource("notes").Delete(id)
	assert.Equal(t, 404, status)

	status, err = tenantA.Resource("notes").Read(id, nil)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
}

func TestBackend_DisabledOperation(t *testing.T) {
	cl := newTestBackend(t)

	var created map[string]any
	status, err := cl.Resource("logs").Create(map[string]any{"line": "boot"}, &created)
	require.NoError(t, err)
	require.Equal(t, 201, status)

	// no route is registered for disabled operations
	status, _ = cl.Resource("logs").Delete(created["id"].(string))
	assert.Equal(t, 405, status)
}

func TestBackend_Version(t *testing.T) {
	cl := newTestBackend(t)
	var result map[string]string
	status, err := cl.RawGet("/version", &result)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, backend.Version, result["version"])
}
