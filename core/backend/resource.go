package backend

import (
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/kontrakt/core"
	"github.com/relabs-tech/kontrakt/core/access"
	"github.com/relabs-tech/kontrakt/core/contract"
	"github.com/relabs-tech/kontrakt/core/datasource"
	"github.com/relabs-tech/kontrakt/core/entity"
	"github.com/relabs-tech/kontrakt/core/logger"
	"github.com/relabs-tech/kontrakt/core/mapper"
	"github.com/relabs-tech/kontrakt/core/query"
	"github.com/relabs-tech/kontrakt/core/validate"
)

const maxBodyBytes = 10 * 1024 * 1024

// createResourceRoutes adds the CRUD handlers for one contract. Disabled
// operations get no route; the router answers those methods with 405.
func (b *Backend) createResourceRoutes(router *mux.Router, rc *contract.Resource) {
	listRoute := "/" + rc.Route
	itemRoute := listRoute + "/{id}"

	handle := func(op core.Operation, handler func(*contract.Resource, http.ResponseWriter, *http.Request)) http.Handler {
		return handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
			// the contract is re-resolved per request so a replaced
			// dynamic definition takes effect immediately
			current, ok := b.set.ByKey(rc.ResourceKey)
			if !ok {
				writeError(w, r, core.NotFoundError(rc.ResourceKey))
				return
			}
			if !b.authorized(current, op, w, r) {
				return
			}
			handler(current, w, r)
		}))
	}

	if rc.Operation(core.OperationList).Enabled {
		router.Handle(listRoute, handle(core.OperationList, b.list)).Methods(http.MethodOptions, http.MethodGet)
	}
	if rc.Operation(core.OperationRead).Enabled {
		router.Handle(itemRoute, handle(core.OperationRead, b.read)).Methods(http.MethodOptions, http.MethodGet)
	}
	if rc.Operation(core.OperationCreate).Enabled {
		router.Handle(listRoute, handle(core.OperationCreate, b.create)).Methods(http.MethodOptions, http.MethodPost)
	}
	if rc.Operation(core.OperationUpdate).Enabled {
		router.Handle(itemRoute, handle(core.OperationUpdate, b.update)).Methods(http.MethodOptions, http.MethodPut, http.MethodPatch)
	}
	if rc.Operation(core.OperationDelete).Enabled {
		router.Handle(itemRoute, handle(core.OperationDelete, b.deleteOne)).Methods(http.MethodOptions, http.MethodDelete)
	}
}

// createCatchAllRoutes adds route-template handlers serving contracts
// registered after startup, i.e. dynamic definitions. They are added
// last, so explicitly registered routes always win.
func (b *Backend) createCatchAllRoutes(router *mux.Router) {
	dispatch := func(op core.Operation, handler func(*contract.Resource, http.ResponseWriter, *http.Request)) http.Handler {
		return handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
			rc, ok := b.set.ByRoute(mux.Vars(r)["route"])
			if !ok {
				writeError(w, r, core.NotFoundError(mux.Vars(r)["route"]))
				return
			}
			if !rc.Operation(op).Enabled {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			if !b.authorized(rc, op, w, r) {
				return
			}
			handler(rc, w, r)
		}))
	}

	router.Handle("/{route}", dispatch(core.OperationList, b.list)).Methods(http.MethodOptions, http.MethodGet)
	router.Handle("/{route}/{id}", dispatch(core.OperationRead, b.read)).Methods(http.MethodOptions, http.MethodGet)
	router.Handle("/{route}", dispatch(core.OperationCreate, b.create)).Methods(http.MethodOptions, http.MethodPost)
	router.Handle("/{route}/{id}", dispatch(core.OperationUpdate, b.update)).Methods(http.MethodOptions, http.MethodPut, http.MethodPatch)
	router.Handle("/{route}/{id}", dispatch(core.OperationDelete, b.deleteOne)).Methods(http.MethodOptions, http.MethodDelete)
}

func (b *Backend) authorized(rc *contract.Resource, op core.Operation, w http.ResponseWriter, r *http.Request) bool {
	auth := access.AuthorizationFromContext(r.Context())
	if !auth.Satisfies(rc.Security[op]) {
		writeError(w, r, core.ForbiddenError("no authorization for "+string(op)+" on "+rc.Route))
		return false
	}
	if rc.Tenant != nil && rc.Tenant.Required && tenantOf(r) == "" {
		writeError(w, r, core.ForbiddenError("no tenant"))
		return false
	}
	return true
}

func (b *Backend) collection(rc *contract.Resource) (datasource.Collection, bool) {
	return b.source.Collection(rc.ResourceKey)
}

func parseKey(rc *contract.Resource, r *http.Request) (any, error) {
	id, err := entity.CoerceString(rc.Key.Type, mux.Vars(r)["id"])
	if err != nil {
		return nil, core.ValidationError(map[string][]string{"id": {"not a valid identifier"}})
	}
	return id, nil
}

func (b *Backend) list(rc *contract.Resource, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	spec, expand, err := parseQuerySpec(r)
	if err != nil {
		writeError(w, r, core.ValidationError(map[string][]string{"query": {err.Error()}}))
		return
	}
	plan, err := query.Compile(rc, spec, expand)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := injectTenantFilter(rc, r, plan); err != nil {
		writeError(w, r, err)
		return
	}
	col, ok := b.collection(rc)
	if !ok {
		writeError(w, r, core.NotFoundError(rc.ResourceKey))
		return
	}
	items, total, err := col.List(ctx, plan)
	if err != nil {
		writeError(w, r, err)
		return
	}
	envelope, err := b.mapper.SerializeList(ctx, rc, items, plan.Projection, plan.Expand, plan.Page, plan.PageSize, total)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope)
}

func (b *Backend) read(rc *contract.Resource, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseKey(rc, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_, expand, err := parseQuerySpec(r)
	if err != nil {
		writeError(w, r, core.ValidationError(map[string][]string{"query": {err.Error()}}))
		return
	}
	col, ok := b.collection(rc)
	if !ok {
		writeError(w, r, core.NotFoundError(rc.ResourceKey))
		return
	}
	acc, err := col.Get(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := checkTenant(rc, r, acc); err != nil {
		writeError(w, r, err)
		return
	}
	document, err := b.mapper.Serialize(ctx, rc, acc, nil, expand.Expand)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, document)
}

func (b *Backend) create(rc *contract.Resource, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if fields := validate.Body(rc, core.OperationCreate, body); fields != nil {
		writeError(w, r, core.ValidationError(fields))
		return
	}
	acc := b.factory(rc).New()
	if err := b.mapper.ApplyCreate(ctx, rc, acc, body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := stampTenant(rc, r, acc); err != nil {
		writeError(w, r, err)
		return
	}
	col, ok := b.collection(rc)
	if !ok {
		writeError(w, r, core.NotFoundError(rc.ResourceKey))
		return
	}
	stored, err := col.Insert(ctx, acc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	document, err := b.mapper.Serialize(ctx, rc, stored, nil, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	b.notify(rc, core.OperationCreate, document)
	writeJSON(w, http.StatusCreated, document)
}

func (b *Backend) update(rc *contract.Resource, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseKey(rc, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if fields := validate.Body(rc, core.OperationUpdate, body); fields != nil {
		writeError(w, r, core.ValidationError(fields))
		return
	}
	col, ok := b.collection(rc)
	if !ok {
		writeError(w, r, core.NotFoundError(rc.ResourceKey))
		return
	}
	acc, err := col.Get(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := checkTenant(rc, r, acc); err != nil {
		writeError(w, r, err)
		return
	}
	expectedVersion, err := b.mapper.ApplyUpdate(ctx, rc, acc, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stored, err := col.Update(ctx, acc, expectedVersion)
	if err != nil {
		writeError(w, r, err)
		return
	}
	document, err := b.mapper.Serialize(ctx, rc, stored, nil, nil)
	if err != nil {
		writeError(w, r, err)
		return
	}
	b.notify(rc, core.OperationUpdate, document)
	writeJSON(w, http.StatusOK, document)
}

func (b *Backend) deleteOne(rc *contract.Resource, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseKey(rc, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	col, ok := b.collection(rc)
	if !ok {
		writeError(w, r, core.NotFoundError(rc.ResourceKey))
		return
	}
	acc, err := col.Get(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := checkTenant(rc, r, acc); err != nil {
		writeError(w, r, err)
		return
	}
	if err := col.Delete(ctx, id); err != nil {
		writeError(w, r, err)
		return
	}
	key := rc.KeyField()
	value, _ := acc.Get(key.Name)
	b.notify(rc, core.OperationDelete, map[string]any{key.ApiName: value})
	w.WriteHeader(http.StatusNoContent)
}

func tenantOf(r *http.Request) string {
	auth := access.AuthorizationFromContext(r.Context())
	if auth == nil {
		return ""
	}
	return auth.Tenant
}

// checkTenant guards item access: a row of another tenant reads as not
// found, never as forbidden, so row existence does not leak
func checkTenant(rc *contract.Resource, r *http.Request, acc entity.Accessor) error {
	value, f, err := tenantValue(rc, r)
	if err != nil || f == nil {
		return err
	}
	if got, _ := acc.Get(f.Name); !datasource.Equal(got, value) {
		return core.NotFoundError(rc.ResourceKey)
	}
	return nil
}

func stampTenant(rc *contract.Resource, r *http.Request, acc entity.Accessor) error {
	value, f, err := tenantValue(rc, r)
	if err != nil || f == nil {
		return err
	}
	return acc.Set(f.Name, value)
}

// injectTenantFilter narrows a list to the caller's tenant by adding an
// equality predicate to the compiled plan.
func injectTenantFilter(rc *contract.Resource, r *http.Request, plan *query.Plan) error {
	value, f, err := tenantValue(rc, r)
	if err != nil || f == nil {
		return err
	}
	predicate := query.Compare{
		Field: query.Field{Name: f.Name, ApiName: f.ApiName, Type: f.Type},
		Op:    query.OpEq,
		Value: value,
	}
	if plan.Filter == nil {
		plan.Filter = predicate
	} else {
		plan.Filter = query.And{Exprs: []query.Expr{plan.Filter, predicate}}
	}
	return nil
}

// tenantValue resolves the caller's tenant as the canonical value of the
// contract's tenant field. A nil field means no isolation applies.
func tenantValue(rc *contract.Resource, r *http.Request) (any, *contract.Field, error) {
	if rc.Tenant == nil {
		return nil, nil, nil
	}
	tenant := tenantOf(r)
	if tenant == "" {
		return nil, nil, nil
	}
	f, ok := rc.Field(rc.Tenant.Field)
	if !ok {
		return nil, nil, nil
	}
	value, err := entity.CoerceString(f.Type, tenant)
	if err != nil {
		return nil, nil, core.ForbiddenError("invalid tenant")
	}
	return value, f, nil
}

// readBody parses the request body into the loose field map the mapper
// and validation work on.
func readBody(r *http.Request) (mapper.Body, error) {
	defer r.Body.Close()
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return nil, core.ValidationError(map[string][]string{"body": {"cannot read request body"}})
	}
	return mapper.ParseBody(data)
}
