package backend

import (
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/kontrakt/core"
	"github.com/relabs-tech/kontrakt/core/builder"
	"github.com/relabs-tech/kontrakt/core/contract"
	"github.com/relabs-tech/kontrakt/core/csql"
	"github.com/relabs-tech/kontrakt/core/datasource"
	"github.com/relabs-tech/kontrakt/core/entity"
	"github.com/relabs-tech/kontrakt/core/logger"
	"github.com/relabs-tech/kontrakt/core/mapper"
	"github.com/relabs-tech/kontrakt/core/registry"
)

// Backend is the generic rest backend. It serves the CRUD routes for every
// resource in its contract set, plus the admin routes for dynamic
// definitions when a database is attached.
type Backend struct {
	set      *contract.Set
	types    *entity.Registry
	source   datasource.Source
	postgres *datasource.Postgres
	memory   *datasource.Memory
	mapper   *mapper.Mapper
	notifier core.Notifier
	router   *mux.Router
	db       *csql.DB

	// Registry is the dynamic definition registry for this backend's
	// schema. It is nil for purely in-memory backends.
	Registry *registry.Registry

	mu                 sync.Mutex
	definitionsVersion time.Time
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config is the JSON description of all resources. This is mandatory.
	Config string
	// Types holds the entity prototypes for orm-backed resources.
	Types *entity.Registry
	// DB is a postgres database. When nil, the backend stores everything
	// in memory; dynamic definitions are then unavailable.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Notifier receives a notification for every committed mutation.
	// This is optional.
	Notifier core.Notifier
}

// New realizes the actual backend. It builds and validates the contract
// set, creates the sql relations (if they do not exist) and adds actual
// routes to router. Configuration errors panic; a backend must not come
// up with a broken contract set.
func New(bb *Builder) *Backend {
	if bb.Router == nil {
		panic("Router is missing")
	}
	types := bb.Types
	if types == nil {
		types = entity.NewRegistry()
	}

	set, err := builder.Build(bb.Config, types)
	if err != nil {
		panic(err)
	}

	b := &Backend{
		set:      set,
		types:    types,
		notifier: bb.Notifier,
		router:   bb.Router,
		db:       bb.DB,
	}

	if bb.DB != nil {
		b.postgres = datasource.NewPostgres(bb.DB)
		for _, key := range set.Keys() {
			rc, _ := set.ByKey(key)
			if _, err := b.postgres.Mount(rc, b.factory(rc)); err != nil {
				panic(err)
			}
		}
		b.source = b.postgres
		r := registry.New(bb.DB)
		b.Registry = &r
		if err := b.loadDefinitions(); err != nil {
			panic(err)
		}
	} else {
		b.memory = datasource.NewMemory()
		for _, key := range set.Keys() {
			rc, _ := set.ByKey(key)
			b.memory.Mount(rc, b.factory(rc))
		}
		b.source = b.memory
	}

	b.mapper = mapper.New(set, b.source)

	logger.AddRequestID(b.router)
	b.handleCORS()
	b.handleVersion(b.router)
	b.handleRoutes(b.router)
	if b.Registry != nil {
		b.handleDefinitionRoutes(b.router)
		// dynamic resources created after startup are served by the
		// catch-all routes; explicit routes always match first
		b.createCatchAllRoutes(b.router)
	}
	return b
}

// factory returns the accessor factory for a contract: the registered
// struct prototype for orm resources, map-backed accessors otherwise.
func (b *Backend) factory(rc *contract.Resource) entity.Factory {
	if rc.Backend == contract.BackendORM {
		if factory, ok := b.types.Factory(rc.ResourceKey); ok {
			return factory
		}
	}
	return entity.MapFactory{}
}

// handleRoutes adds all necessary handlers for the contract set
func (b *Backend) handleRoutes(router *mux.Router) {
	rlog := logger.Default()
	for _, key := range b.set.Keys() {
		rc, _ := b.set.ByKey(key)
		rlog.Debugln("backend: routes for", rc.ResourceKey, "at /"+rc.Route)
		b.createResourceRoutes(router, rc)
	}
}

func (b *Backend) handleCORS() {
	corsMiddleware := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Set CORS headers for all requests
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, If-None-Match, Access-Control-Allow-Origin")
			w.Header().Set("Access-Control-Expose-Headers", "*")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			// Handle preflight OPTIONS request
			if r.Method == http.MethodOptions {
				logger.FromContext(r.Context()).Debugln("called route for", r.URL, r.Method, " (handled by CORS middleware)")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			h.ServeHTTP(w, r)
		})
	}
	b.router.Use(corsMiddleware)
}

// Contracts returns the backend's live contract set.
func (b *Backend) Contracts() *contract.Set {
	return b.set
}

// notify publishes a committed mutation. Notifications fire after the
// transaction, so a received notification always refers to stored data.
func (b *Backend) notify(rc *contract.Resource, op core.Operation, payload map[string]any) {
	if b.notifier == nil {
		return
	}
	data, _ := json.MarshalWithOption(payload, json.DisableHTMLEscape())
	b.notifier.Notify(rc.ResourceKey, op, data)
}
