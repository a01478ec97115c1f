/*
Package backend implements the contract-driven REST backend

A backend takes a declarative JSON description of resources and serves a
complete CRUD API for them, over Postgres or in memory.

# Configuration

The configuration is done entirely via JSON. It consists of a list of
resource declarations:

	{
	  "resources": [
	    {
	      "resource": "article",
	      "fields": [
	        {"name": "Title", "required": true, "filterable": true, "sortable": true},
	        {"name": "Status", "type": "enum", "allowed_values": ["draft", "published"], "default": "draft"}
	      ],
	      "relations": [
	        {"name": "Author", "kind": "many-to-one", "write_mode": "by-id", "expand": true}
	      ]
	    }
	  ]
	}

A resource is either orm-backed, pairing the declaration with a registered
Go struct type, or dynamic, described entirely by its declaration. Dynamic
declarations can also be managed at runtime through the definition routes
(see below).

# Routes

Every resource gets collection and item routes under its route segment,
which defaults to the camel-cased plural of the resource key:

	GET    /articles          list
	POST   /articles          create
	GET    /articles/{id}     read
	PUT    /articles/{id}     update (also PATCH)
	DELETE /articles/{id}     delete

List routes accept the reserved parameters page, pageSize, limit, sort,
search, fields and expand. Every other parameter filters on the equally
named field, with an optional operator prefix such as "views=gte:100".

# Dynamic definitions

When the backend runs on a database, admin callers manage dynamic resource
definitions at runtime:

	GET    /kontrakt/definitions
	GET    /kontrakt/definitions/{resource}
	PUT    /kontrakt/definitions/{resource}
	DELETE /kontrakt/definitions/{resource}

A stored definition goes live immediately; other instances of the same
backend pick it up through SyncDefinitions.

# Authorization

Operations can be guarded with named policies in the declaration's
"security" object. The request authorization is taken from the context,
see the access package for the JWT middleware that populates it. The
"admin" role satisfies every policy. Resources with a "tenant" block are
additionally isolated per tenant.
*/
package backend
