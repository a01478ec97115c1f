/*Package registry provides the persistent store for dynamic resource
definitions.

Definitions are JSON documents validated against an embedded schema before
they are written. Every write updates the store's version stamp, which the
backend polls to rebuild contracts for changed definitions.
*/
package registry

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/kontrakt/core/builder"
	"github.com/relabs-tech/kontrakt/core/csql"
)

// New creates a definition registry for the specified database
func New(db *csql.DB) Registry {
	_, err := db.Exec(`CREATE table IF NOT EXISTS ` + db.Schema + `."_definitions_"
(resource varchar NOT NULL,
definition json NOT NULL,
timestamp timestamp NOT NULL,
PRIMARY KEY(resource)
);`)

	if err != nil {
		panic(err)
	}
	return Registry{db: db}
}

// Registry stores dynamic resource definitions in a sql database.
type Registry struct {
	db *csql.DB
}

// List reads all definitions, keyed by resource.
func (r Registry) List() (map[string]*builder.ResourceConfiguration, error) {
	rows, err := r.db.Query(`SELECT resource, definition FROM ` + r.db.Schema + `."_definitions_";`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	definitions := map[string]*builder.ResourceConfiguration{}
	for rows.Next() {
		var (
			resource string
			raw      json.RawMessage
		)
		if err := rows.Scan(&resource, &raw); err != nil {
			return nil, err
		}
		cfg := &builder.ResourceConfiguration{}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse definition '%s': %s", resource, err.Error())
		}
		definitions[resource] = cfg
	}
	return definitions, rows.Err()
}

// Read reads one definition. It returns the time when the definition was
// written, or a zero timestamp if there is no definition.
func (r Registry) Read(resource string) (*builder.ResourceConfiguration, time.Time, error) {
	var (
		raw       json.RawMessage
		timestamp time.Time
	)
	err := r.db.QueryRow(
		`SELECT definition, timestamp FROM `+r.db.Schema+`."_definitions_" WHERE resource=$1;`,
		resource).Scan(&raw, &timestamp)
	if err == csql.ErrNoRows {
		return nil, timestamp, nil
	}
	if err != nil {
		return nil, timestamp, fmt.Errorf("cannot read definition '%s': %s", resource, err.Error())
	}
	cfg := &builder.ResourceConfiguration{}
	err = json.Unmarshal(raw, cfg)
	return cfg, timestamp, err
}

// Write stores a definition. The definition is validated against the
// definition schema first; an invalid definition is never persisted.
func (r Registry) Write(cfg *builder.ResourceConfiguration) error {
	body, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := ValidateDefinition(string(body)); err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := r.db.Exec(
		`INSERT INTO `+r.db.Schema+`."_definitions_"(resource,definition,timestamp)
VALUES($1,$2,$3)
ON CONFLICT (resource) DO UPDATE SET definition=$2,timestamp=$3;`,
		cfg.Resource, string(body), now)

	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("could not write definition %s", cfg.Resource)
	}
	return nil
}

// Delete deletes a definition.
func (r Registry) Delete(resource string) error {
	_, err := r.db.Exec(
		`DELETE FROM `+r.db.Schema+`."_definitions_" WHERE resource=$1;`,
		resource)
	return err
}

// Version returns the timestamp of the most recent write, or a zero
// timestamp for an empty registry. Callers cache contracts built from
// definitions and rebuild when the version moves.
func (r Registry) Version() (time.Time, error) {
	var version time.Time
	err := r.db.QueryRow(`SELECT coalesce(max(timestamp), 'epoch'::timestamp) FROM ` +
		r.db.Schema + `."_definitions_";`).Scan(&version)
	return version, err
}
