/*Package datasource defines the queryable abstraction the engine compiles
plans against, with two implementations: an in-memory store for tests and
dynamic prototyping, and a Postgres store.
*/
package datasource

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/kontrakt/core/entity"
	"github.com/relabs-tech/kontrakt/core/query"
)

// Collection is one resource's queryable storage. All calls honor context
// cancellation; a cancelled save commits nothing.
type Collection interface {
	// List executes the plan and returns the page plus the total count of
	// the filtered, unpaged result.
	List(ctx context.Context, plan *query.Plan) ([]entity.Accessor, int, error)
	// Get returns the entity with the given key, or a not-found error.
	Get(ctx context.Context, id any) (entity.Accessor, error)
	// Insert stores a new entity and returns the committed state,
	// including a generated key and a fresh concurrency token.
	Insert(ctx context.Context, acc entity.Accessor) (entity.Accessor, error)
	// Update stores a changed entity. When expectedVersion is non-nil it is
	// compared against the stored concurrency token; a mismatch is a
	// conflict and nothing is written.
	Update(ctx context.Context, acc entity.Accessor, expectedVersion any) (entity.Accessor, error)
	// Delete removes the entity with the given key.
	Delete(ctx context.Context, id any) error
	// ResolveMany returns the entities whose keys appear in ids, in a
	// single query.
	ResolveMany(ctx context.Context, ids []any) ([]entity.Accessor, error)
}

// Source resolves a resource key to its collection.
type Source interface {
	Collection(resourceKey string) (Collection, bool)
}

// normalize folds the assorted integer and float widths coming out of
// typed struct fields onto the canonical runtime types.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float32:
		return float64(n)
	}
	return v
}

// compare orders two canonical values. The boolean result is false when
// the values are not comparable (e.g. either is nil).
func compare(a, b any) (int, bool) {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return 0, false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case int64:
		switch bv := b.(type) {
		case int64:
			switch {
			case av < bv:
				return -1, true
			case av > bv:
				return 1, true
			}
			return 0, true
		case float64:
			return compare(float64(av), bv)
		}
		return 0, false
	case float64:
		switch bv := b.(type) {
		case float64:
			switch {
			case av < bv:
				return -1, true
			case av > bv:
				return 1, true
			}
			return 0, true
		case int64:
			return compare(av, float64(bv))
		}
		return 0, false
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case !av && bv:
			return -1, true
		case av && !bv:
			return 1, true
		}
		return 0, true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		switch {
		case av.Before(bv):
			return -1, true
		case av.After(bv):
			return 1, true
		}
		return 0, true
	case uuid.UUID:
		var bv uuid.UUID
		switch b := b.(type) {
		case uuid.UUID:
			bv = b
		case string:
			parsed, err := uuid.Parse(b)
			if err != nil {
				return 0, false
			}
			bv = parsed
		default:
			return 0, false
		}
		s, t := av.String(), bv.String()
		switch {
		case s < t:
			return -1, true
		case s > t:
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Equal reports whether two canonical values are equal. Values of
// different numeric widths or a uuid and its string form compare equal.
func Equal(a, b any) bool {
	return equal(a, b)
}

// equal reports whether two canonical values are equal.
func equal(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// keyString renders an entity key for map indexing.
func keyString(id any) string {
	return fmt.Sprint(normalize(id))
}
