package datasource

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/relabs-tech/kontrakt/core"
	"github.com/relabs-tech/kontrakt/core/contract"
	"github.com/relabs-tech/kontrakt/core/entity"
	"github.com/relabs-tech/kontrakt/core/query"
)

// Memory is an in-memory source. It compiles query plans to predicates
// and comparator chains, which keeps the whole engine testable without a
// database.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*MemoryCollection
}

// NewMemory creates an empty in-memory source.
func NewMemory() *Memory {
	return &Memory{collections: map[string]*MemoryCollection{}}
}

// Mount creates the collection for a contract. The factory produces the
// accessors handed back to callers.
func (m *Memory) Mount(rc *contract.Resource, factory entity.Factory) *MemoryCollection {
	c := &MemoryCollection{rc: rc, factory: factory, rows: map[string]map[string]any{}}
	m.mu.Lock()
	m.collections[strings.ToLower(rc.ResourceKey)] = c
	m.mu.Unlock()
	return c
}

// Collection resolves a resource key to its mounted collection.
func (m *Memory) Collection(resourceKey string) (Collection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[strings.ToLower(resourceKey)]
	return c, ok
}

// MemoryCollection stores one resource's rows as canonical value maps.
type MemoryCollection struct {
	mu      sync.RWMutex
	rc      *contract.Resource
	factory entity.Factory
	rows    map[string]map[string]any
	order   []string
	counter atomic.Int64
}

var tokenCounter atomic.Int64

// nextToken produces a fresh opaque concurrency token.
func nextToken() string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(tokenCounter.Add(1)))
	return base64.StdEncoding.EncodeToString(b[:])
}

// snapshot copies the contract-known properties of an accessor into a row.
func (c *MemoryCollection) snapshot(acc entity.Accessor) map[string]any {
	row := map[string]any{}
	for i := range c.rc.Fields {
		f := &c.rc.Fields[i]
		if f.Computed {
			continue
		}
		if v, ok := acc.Get(f.Name); ok {
			row[f.Name] = normalize(v)
		}
	}
	for i := range c.rc.Relations {
		rel := &c.rc.Relations[i]
		if !rel.Kind.IsCollection() {
			continue
		}
		if v, ok := acc.Get(rel.Name); ok && v != nil {
			row[rel.Name] = v
		}
	}
	return row
}

// wrap hands a copy of a row back as an accessor.
func (c *MemoryCollection) wrap(row map[string]any) entity.Accessor {
	acc := c.factory.New()
	for name, v := range row {
		// the stored value is already canonical
		_ = acc.Set(name, v)
	}
	return acc
}

func (c *MemoryCollection) keyOf(acc entity.Accessor) any {
	v, _ := acc.Get(c.rc.Key.Name)
	return normalize(v)
}

// List implements Collection.
func (c *MemoryCollection) List(ctx context.Context, plan *query.Plan) ([]entity.Accessor, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	var matched []map[string]any
	for _, key := range c.order {
		row, ok := c.rows[key]
		if !ok {
			continue
		}
		if plan.Filter == nil || c.eval(plan.Filter, row) {
			matched = append(matched, row)
		}
	}
	total := len(matched)

	if len(plan.Sort) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			return c.less(plan.Sort, matched[i], matched[j])
		})
	}

	start := plan.Offset
	if start > total {
		start = total
	}
	end := total
	if plan.Limit > 0 && start+plan.Limit < end {
		end = start + plan.Limit
	}

	items := make([]entity.Accessor, 0, end-start)
	for _, row := range matched[start:end] {
		items = append(items, c.wrap(row))
	}
	return items, total, nil
}

func (c *MemoryCollection) less(keys []query.SortKey, a, b map[string]any) bool {
	for _, k := range keys {
		cmp, ok := compare(a[k.Field.Name], b[k.Field.Name])
		if !ok {
			// nil sorts first
			an, bn := a[k.Field.Name] == nil, b[k.Field.Name] == nil
			if an == bn {
				continue
			}
			if k.Descending {
				return bn
			}
			return an
		}
		if cmp == 0 {
			continue
		}
		if k.Descending {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}

func (c *MemoryCollection) eval(e query.Expr, row map[string]any) bool {
	switch expr := e.(type) {
	case query.And:
		for _, sub := range expr.Exprs {
			if !c.eval(sub, row) {
				return false
			}
		}
		return true
	case query.Or:
		for _, sub := range expr.Exprs {
			if c.eval(sub, row) {
				return true
			}
		}
		return false
	case query.IsNull:
		_, present := row[expr.Field.Name]
		isNull := !present || row[expr.Field.Name] == nil
		return isNull == expr.Null
	case query.In:
		v := row[expr.Field.Name]
		for _, candidate := range expr.Values {
			if equal(v, candidate) {
				return true
			}
		}
		return false
	case query.Match:
		s, ok := normalize(row[expr.Field.Name]).(string)
		if !ok {
			return false
		}
		s = strings.ToLower(s)
		needle := strings.ToLower(expr.Value)
		switch expr.Op {
		case query.OpStarts:
			return strings.HasPrefix(s, needle)
		case query.OpEnds:
			return strings.HasSuffix(s, needle)
		default:
			return strings.Contains(s, needle)
		}
	case query.Compare:
		v := row[expr.Field.Name]
		switch expr.Op {
		case query.OpEq:
			return equal(v, expr.Value)
		case query.OpNeq:
			return !equal(v, expr.Value)
		}
		cmp, ok := compare(v, expr.Value)
		if !ok {
			return false
		}
		switch expr.Op {
		case query.OpGt:
			return cmp > 0
		case query.OpGte:
			return cmp >= 0
		case query.OpLt:
			return cmp < 0
		case query.OpLte:
			return cmp <= 0
		}
	}
	return false
}

// Get implements Collection.
func (c *MemoryCollection) Get(ctx context.Context, id any) (entity.Accessor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	row, ok := c.rows[keyString(id)]
	if !ok {
		return nil, core.NotFoundError(c.rc.ResourceKey)
	}
	return c.wrap(row), nil
}

// Insert implements Collection. A zero guid key gets generated.
func (c *MemoryCollection) Insert(ctx context.Context, acc entity.Accessor) (entity.Accessor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.keyOf(acc)
	switch c.rc.Key.Type {
	case contract.TypeGuid:
		if key == nil || key == uuid.Nil {
			key = uuid.New()
			if err := acc.Set(c.rc.Key.Name, key); err != nil {
				return nil, core.InternalError(err)
			}
		}
	case contract.TypeInt32, contract.TypeInt64:
		if key == nil || key == int64(0) {
			key = c.counter.Add(1)
			if err := acc.Set(c.rc.Key.Name, key); err != nil {
				return nil, core.InternalError(err)
			}
		}
	}

	if versionField, _ := c.rc.ConcurrencyField(); versionField != nil {
		_ = acc.Set(versionField.Name, nextToken())
	}

	row := c.snapshot(acc)
	ks := keyString(key)
	if _, exists := c.rows[ks]; exists {
		return nil, core.ConflictError(c.rc.ResourceKey)
	}
	c.rows[ks] = row
	c.order = append(c.order, ks)
	return c.wrap(row), nil
}

// Update implements Collection. The expected version, when given, guards
// against concurrent modification.
func (c *MemoryCollection) Update(ctx context.Context, acc entity.Accessor, expectedVersion any) (entity.Accessor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ks := keyString(c.keyOf(acc))
	current, ok := c.rows[ks]
	if !ok {
		return nil, core.NotFoundError(c.rc.ResourceKey)
	}

	versionField, _ := c.rc.ConcurrencyField()
	if versionField != nil && expectedVersion != nil {
		if !equal(current[versionField.Name], expectedVersion) {
			return nil, core.ConflictError(c.rc.ResourceKey)
		}
	}
	if versionField != nil {
		_ = acc.Set(versionField.Name, nextToken())
	}

	c.rows[ks] = c.snapshot(acc)
	return c.wrap(c.rows[ks]), nil
}

// Delete implements Collection.
func (c *MemoryCollection) Delete(ctx context.Context, id any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ks := keyString(id)
	if _, ok := c.rows[ks]; !ok {
		return core.NotFoundError(c.rc.ResourceKey)
	}
	delete(c.rows, ks)
	for i, k := range c.order {
		if k == ks {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// ResolveMany implements Collection.
func (c *MemoryCollection) ResolveMany(ctx context.Context, ids []any) ([]entity.Accessor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []entity.Accessor
	for _, id := range ids {
		if row, ok := c.rows[keyString(id)]; ok {
			out = append(out, c.wrap(row))
		}
	}
	return out, nil
}
