package backend

import (
	"io"
	"net/http"
	"sort"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/kontrakt/core"
	"github.com/relabs-tech/kontrakt/core/access"
	"github.com/relabs-tech/kontrakt/core/builder"
	"github.com/relabs-tech/kontrakt/core/contract"
	"github.com/relabs-tech/kontrakt/core/logger"
)

// handleDefinitionRoutes adds the admin API for dynamic resource
// definitions. All routes require the admin role.
func (b *Backend) handleDefinitionRoutes(router *mux.Router) {
	adminOnly := func(handler func(http.ResponseWriter, *http.Request)) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
			auth := access.AuthorizationFromContext(r.Context())
			if !auth.HasRole("admin") {
				writeError(w, r, core.ForbiddenError("no authorization for definitions"))
				return
			}
			handler(w, r)
		})
	}

	router.Handle("/kontrakt/definitions", adminOnly(b.listDefinitions)).Methods(http.MethodOptions, http.MethodGet)
	router.Handle("/kontrakt/definitions/{resource}", adminOnly(b.readDefinition)).Methods(http.MethodOptions, http.MethodGet)
	router.Handle("/kontrakt/definitions/{resource}", adminOnly(b.putDefinition)).Methods(http.MethodOptions, http.MethodPut)
	router.Handle("/kontrakt/definitions/{resource}", adminOnly(b.deleteDefinition)).Methods(http.MethodOptions, http.MethodDelete)
}

func (b *Backend) listDefinitions(w http.ResponseWriter, r *http.Request) {
	definitions, err := b.Registry.List()
	if err != nil {
		writeError(w, r, err)
		return
	}
	list := make([]*builder.ResourceConfiguration, 0, len(definitions))
	for _, cfg := range definitions {
		list = append(list, cfg)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Resource < list[j].Resource })
	writeJSON(w, http.StatusOK, list)
}

func (b *Backend) readDefinition(w http.ResponseWriter, r *http.Request) {
	resource := mux.Vars(r)["resource"]
	cfg, _, err := b.Registry.Read(resource)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if cfg == nil {
		writeError(w, r, core.NotFoundError("definition "+resource))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (b *Backend) putDefinition(w http.ResponseWriter, r *http.Request) {
	resource := mux.Vars(r)["resource"]
	defer r.Body.Close()
	raw, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, core.ValidationError(map[string][]string{"body": {"cannot read request body"}}))
		return
	}
	cfg := &builder.ResourceConfiguration{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		writeError(w, r, core.ValidationError(map[string][]string{"body": {err.Error()}}))
		return
	}
	if cfg.Resource == "" {
		cfg.Resource = resource
	}
	if cfg.Resource != resource {
		writeError(w, r, core.ValidationError(map[string][]string{"resource": {"does not match the route"}}))
		return
	}
	if existing, ok := b.set.ByKey(cfg.Resource); ok && existing.Backend == contract.BackendORM {
		writeError(w, r, core.ValidationError(map[string][]string{"resource": {"collides with a statically configured resource"}}))
		return
	}

	rc, err := builder.BuildDynamic(cfg, b.set)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := b.Registry.Write(cfg); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := b.postgres.Mount(rc, b.factory(rc)); err != nil {
		writeError(w, r, err)
		return
	}
	b.set.Replace(rc)
	writeJSON(w, http.StatusOK, cfg)
}

func (b *Backend) deleteDefinition(w http.ResponseWriter, r *http.Request) {
	resource := mux.Vars(r)["resource"]
	cfg, _, err := b.Registry.Read(resource)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if cfg == nil {
		writeError(w, r, core.NotFoundError("definition "+resource))
		return
	}
	if err := b.Registry.Delete(resource); err != nil {
		writeError(w, r, err)
		return
	}
	b.set.Remove(resource)
	w.WriteHeader(http.StatusNoContent)
}

// loadDefinitions builds and mounts the contracts for all stored dynamic
// definitions. Called at startup and by SyncDefinitions.
func (b *Backend) loadDefinitions() error {
	definitions, err := b.Registry.List()
	if err != nil {
		return err
	}
	version, err := b.Registry.Version()
	if err != nil {
		return err
	}
	rlog := logger.Default()
	for resource, cfg := range definitions {
		rc, err := builder.BuildDynamic(cfg, b.set)
		if err != nil {
			// a stored definition that no longer builds is skipped, not
			// fatal: the remaining resources must come up
			rlog.WithError(err).Errorln("skipping dynamic definition:", resource)
			continue
		}
		if _, err := b.postgres.Mount(rc, b.factory(rc)); err != nil {
			return err
		}
		b.set.Replace(rc)
	}
	b.mu.Lock()
	b.definitionsVersion = version
	b.mu.Unlock()
	return nil
}

// SyncDefinitions reloads dynamic contracts when another instance changed
// the definition registry. Callers poll this at their own cadence.
func (b *Backend) SyncDefinitions() error {
	if b.Registry == nil {
		return nil
	}
	version, err := b.Registry.Version()
	if err != nil {
		return err
	}
	b.mu.Lock()
	current := b.definitionsVersion
	b.mu.Unlock()
	if !version.After(current) {
		return nil
	}
	return b.loadDefinitions()
}
