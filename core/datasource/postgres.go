package datasource

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/relabs-tech/kontrakt/core"
	"github.com/relabs-tech/kontrakt/core/contract"
	"github.com/relabs-tech/kontrakt/core/csql"
	"github.com/relabs-tech/kontrakt/core/entity"
	"github.com/relabs-tech/kontrakt/core/query"
)

// Postgres is a source backed by a postgres schema, one table per
// resource. Tables are created on mount if they do not exist.
type Postgres struct {
	mu          sync.RWMutex
	db          *csql.DB
	collections map[string]*PostgresCollection
}

// NewPostgres creates a postgres source on the given database.
func NewPostgres(db *csql.DB) *Postgres {
	return &Postgres{db: db, collections: map[string]*PostgresCollection{}}
}

// Collection resolves a resource key to its mounted collection.
func (p *Postgres) Collection(resourceKey string) (Collection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.collections[strings.ToLower(resourceKey)]
	return c, ok
}

// Mount creates the table for a contract and registers the collection.
func (p *Postgres) Mount(rc *contract.Resource, factory entity.Factory) (*PostgresCollection, error) {
	c := &PostgresCollection{db: p.db, rc: rc, factory: factory}
	if err := c.createTable(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.collections[strings.ToLower(rc.ResourceKey)] = c
	p.mu.Unlock()
	return c, nil
}

// PostgresCollection stores one resource's rows in a table named after
// the resource key.
type PostgresCollection struct {
	db      *csql.DB
	rc      *contract.Resource
	factory entity.Factory
}

// SnakeCase converts a canonical field name to its column name.
// "AuthorID" becomes "author_id", "CreatedAt" becomes "created_at".
func SnakeCase(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && (runes[i-1] < 'A' || runes[i-1] > 'Z' || (i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z')) {
				b.WriteRune('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func columnType(t contract.FieldType) string {
	switch t {
	case contract.TypeString, contract.TypeEnum:
		return "varchar"
	case contract.TypeInt32:
		return "integer"
	case contract.TypeInt64:
		return "bigint"
	case contract.TypeDecimal:
		return "double precision"
	case contract.TypeBoolean:
		return "boolean"
	case contract.TypeDateTime:
		return "timestamp"
	case contract.TypeGuid:
		return "uuid"
	case contract.TypeJSON:
		return "json"
	case contract.TypeStringArray:
		return "varchar[]"
	case contract.TypeIntArray:
		return "bigint[]"
	case contract.TypeGuidArray:
		return "uuid[]"
	case contract.TypeDecimalArray:
		return "double precision[]"
	}
	return "varchar"
}

func (c *PostgresCollection) table() string {
	return c.db.Schema + ".\"" + strings.ToLower(c.rc.ResourceKey) + "\""
}

// storedFields returns the persisted fields, key first, computed excluded.
func (c *PostgresCollection) storedFields() []*contract.Field {
	fields := make([]*contract.Field, 0, len(c.rc.Fields))
	for i := range c.rc.Fields {
		f := &c.rc.Fields[i]
		if f.Computed {
			continue
		}
		if f.Name == c.rc.Key.Name {
			fields = append([]*contract.Field{f}, fields...)
		} else {
			fields = append(fields, f)
		}
	}
	return fields
}

func (c *PostgresCollection) createTable() error {
	var createColumns []string
	for _, f := range c.storedFields() {
		column := SnakeCase(f.Name) + " " + columnType(f.Type)
		if f.Name == c.rc.Key.Name {
			if f.Type == contract.TypeGuid {
				column += " NOT NULL DEFAULT uuid_generate_v4() PRIMARY KEY"
			} else {
				column += " NOT NULL PRIMARY KEY"
			}
		} else if !f.Nullable {
			column += " NOT NULL"
		}
		createColumns = append(createColumns, column)
	}
	for i := range c.rc.Relations {
		rel := &c.rc.Relations[i]
		if rel.Kind.IsCollection() && rel.Write.Mode == contract.WriteByIDList {
			createColumns = append(createColumns, SnakeCase(rel.Name)+" uuid[]")
		}
	}
	_, err := c.db.Exec(fmt.Sprintf("CREATE table IF NOT EXISTS %s (%s);",
		c.table(), strings.Join(createColumns, ", ")))
	return err
}

// compileExpr translates an expression to a WHERE fragment with numbered
// placeholders, appending its arguments to args.
func compileExpr(e query.Expr, args *[]any) string {
	next := func(v any) string {
		*args = append(*args, sqlValue(v))
		return fmt.Sprintf("$%d", len(*args))
	}
	switch expr := e.(type) {
	case query.And:
		parts := make([]string, 0, len(expr.Exprs))
		for _, sub := range expr.Exprs {
			parts = append(parts, compileExpr(sub, args))
		}
		return "(" + strings.Join(parts, " AND ") + ")"
	case query.Or:
		parts := make([]string, 0, len(expr.Exprs))
		for _, sub := range expr.Exprs {
			parts = append(parts, compileExpr(sub, args))
		}
		return "(" + strings.Join(parts, " OR ") + ")"
	case query.IsNull:
		if expr.Null {
			return SnakeCase(expr.Field.Name) + " IS NULL"
		}
		return SnakeCase(expr.Field.Name) + " IS NOT NULL"
	case query.In:
		values := make([]any, 0, len(expr.Values))
		for _, v := range expr.Values {
			values = append(values, sqlValue(v))
		}
		*args = append(*args, pq.Array(values))
		return fmt.Sprintf("%s = ANY($%d)", SnakeCase(expr.Field.Name), len(*args))
	case query.Match:
		pattern := escapeLike(expr.Value)
		switch expr.Op {
		case query.OpStarts:
			pattern += "%"
		case query.OpEnds:
			pattern = "%" + pattern
		default:
			pattern = "%" + pattern + "%"
		}
		return SnakeCase(expr.Field.Name) + " ILIKE " + next(pattern)
	case query.Compare:
		column := SnakeCase(expr.Field.Name)
		switch expr.Op {
		case query.OpEq:
			return column + " = " + next(expr.Value)
		case query.OpNeq:
			return column + " <> " + next(expr.Value)
		case query.OpGt:
			return column + " > " + next(expr.Value)
		case query.OpGte:
			return column + " >= " + next(expr.Value)
		case query.OpLt:
			return column + " < " + next(expr.Value)
		case query.OpLte:
			return column + " <= " + next(expr.Value)
		}
	}
	return "TRUE"
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	return strings.ReplaceAll(s, "_", "\\_")
}

// sqlValue converts a canonical value to its driver representation.
func sqlValue(v any) any {
	switch value := v.(type) {
	case uuid.UUID:
		return value.String()
	case json.RawMessage:
		return []byte(value)
	case []string:
		return pq.Array(value)
	case []int64:
		return pq.Array(value)
	case []float64:
		return pq.Array(value)
	case []uuid.UUID:
		ss := make([]string, len(value))
		for i, id := range value {
			ss[i] = id.String()
		}
		return pq.Array(ss)
	}
	return v
}

// scanTargets builds one scan destination per stored column.
func (c *PostgresCollection) scanTargets() ([]any, []*contract.Field, []*contract.Relation) {
	fields := c.storedFields()
	var rels []*contract.Relation
	for i := range c.rc.Relations {
		rel := &c.rc.Relations[i]
		if rel.Kind.IsCollection() && rel.Write.Mode == contract.WriteByIDList {
			rels = append(rels, rel)
		}
	}
	targets := make([]any, 0, len(fields)+len(rels))
	for range fields {
		var v any
		targets = append(targets, &v)
	}
	for range rels {
		targets = append(targets, pq.Array(&[]string{}))
	}
	return targets, fields, rels
}

func (c *PostgresCollection) selectColumns() string {
	fields := c.storedFields()
	columns := make([]string, 0, len(fields))
	for _, f := range fields {
		columns = append(columns, SnakeCase(f.Name))
	}
	for i := range c.rc.Relations {
		rel := &c.rc.Relations[i]
		if rel.Kind.IsCollection() && rel.Write.Mode == contract.WriteByIDList {
			columns = append(columns, SnakeCase(rel.Name))
		}
	}
	return strings.Join(columns, ", ")
}

// rowToAccessor converts scanned driver values back to canonical ones.
func (c *PostgresCollection) rowToAccessor(targets []any, fields []*contract.Field, rels []*contract.Relation) (entity.Accessor, error) {
	acc := c.factory.New()
	for i, f := range fields {
		raw := *(targets[i].(*any))
		if raw == nil {
			continue
		}
		v, err := dbValue(f.Type, raw)
		if err != nil {
			return nil, err
		}
		if err := acc.Set(f.Name, v); err != nil {
			return nil, err
		}
	}
	for i, rel := range rels {
		arr := targets[len(fields)+i].(*pq.StringArray)
		ids := make([]any, 0, len(*arr))
		for _, s := range *arr {
			id, err := uuid.Parse(s)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		if len(ids) > 0 {
			_ = acc.Set(rel.Name, ids)
		}
	}
	return acc, nil
}

func dbValue(t contract.FieldType, raw any) (any, error) {
	switch t {
	case contract.TypeGuid:
		switch v := raw.(type) {
		case []byte:
			return uuid.Parse(string(v))
		case string:
			return uuid.Parse(v)
		}
	case contract.TypeDateTime:
		if v, ok := raw.(time.Time); ok {
			return v, nil
		}
	case contract.TypeJSON:
		if v, ok := raw.([]byte); ok {
			return json.RawMessage(v), nil
		}
	case contract.TypeString, contract.TypeEnum:
		switch v := raw.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
	case contract.TypeBoolean:
		if v, ok := raw.(bool); ok {
			return v, nil
		}
	case contract.TypeInt32, contract.TypeInt64:
		if v, ok := raw.(int64); ok {
			return v, nil
		}
	case contract.TypeDecimal:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case []byte:
			var f float64
			if _, err := fmt.Sscanf(string(v), "%g", &f); err == nil {
				return f, nil
			}
		}
	}
	return nil, fmt.Errorf("unexpected database value %T for %s", raw, t)
}

// List implements Collection using a count window over the filtered set,
// so total reflects the full filtered count and not the page.
func (c *PostgresCollection) List(ctx context.Context, plan *query.Plan) ([]entity.Accessor, int, error) {
	var args []any
	where := ""
	if plan.Filter != nil {
		where = " WHERE " + compileExpr(plan.Filter, &args)
	}
	orderBy := ""
	if len(plan.Sort) > 0 {
		keys := make([]string, 0, len(plan.Sort))
		for _, k := range plan.Sort {
			column := SnakeCase(k.Field.Name)
			if k.Descending {
				column += " DESC"
			}
			keys = append(keys, column)
		}
		orderBy = " ORDER BY " + strings.Join(keys, ", ")
	}
	args = append(args, plan.Limit, plan.Offset)
	sqlQuery := fmt.Sprintf("SELECT %s, count(*) OVER() AS full_count FROM %s%s%s LIMIT $%d OFFSET $%d;",
		c.selectColumns(), c.table(), where, orderBy, len(args)-1, len(args))

	rows, err := c.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, 0, core.InternalError(err)
	}
	defer rows.Close()

	var items []entity.Accessor
	total := 0
	for rows.Next() {
		targets, fields, rels := c.scanTargets()
		targets = append(targets, &total)
		if err := rows.Scan(targets...); err != nil {
			return nil, 0, core.InternalError(err)
		}
		acc, err := c.rowToAccessor(targets[:len(targets)-1], fields, rels)
		if err != nil {
			return nil, 0, core.InternalError(err)
		}
		items = append(items, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, core.InternalError(err)
	}
	return items, total, nil
}

// Get implements Collection.
func (c *PostgresCollection) Get(ctx context.Context, id any) (entity.Accessor, error) {
	sqlQuery := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1;",
		c.selectColumns(), c.table(), SnakeCase(c.rc.Key.Name))
	rows, err := c.db.QueryContext(ctx, sqlQuery, sqlValue(normalize(id)))
	if err != nil {
		return nil, core.InternalError(err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, core.NotFoundError(c.rc.ResourceKey)
	}
	targets, fields, rels := c.scanTargets()
	if err := rows.Scan(targets...); err != nil {
		return nil, core.InternalError(err)
	}
	acc, err := c.rowToAccessor(targets, fields, rels)
	if err != nil {
		return nil, core.InternalError(err)
	}
	return acc, nil
}

func (c *PostgresCollection) writeValues(acc entity.Accessor) ([]string, []any) {
	var columns []string
	var values []any
	for _, f := range c.storedFields() {
		v, ok := acc.Get(f.Name)
		if !ok {
			continue
		}
		columns = append(columns, SnakeCase(f.Name))
		if v == nil {
			values = append(values, nil)
		} else {
			values = append(values, sqlValue(normalize(v)))
		}
	}
	for i := range c.rc.Relations {
		rel := &c.rc.Relations[i]
		if !rel.Kind.IsCollection() || rel.Write.Mode != contract.WriteByIDList {
			continue
		}
		v, ok := acc.Get(rel.Name)
		if !ok || v == nil {
			continue
		}
		ids, ok := v.([]any)
		if !ok {
			continue
		}
		ss := make([]string, 0, len(ids))
		for _, id := range ids {
			ss = append(ss, fmt.Sprint(id))
		}
		columns = append(columns, SnakeCase(rel.Name))
		values = append(values, pq.Array(ss))
	}
	return columns, values
}

// Insert implements Collection.
func (c *PostgresCollection) Insert(ctx context.Context, acc entity.Accessor) (entity.Accessor, error) {
	if versionField, _ := c.rc.ConcurrencyField(); versionField != nil {
		_ = acc.Set(versionField.Name, nextToken())
	}
	if c.rc.Key.Type == contract.TypeGuid {
		if v, _ := acc.Get(c.rc.Key.Name); v == nil || v == uuid.Nil {
			_ = acc.Set(c.rc.Key.Name, uuid.New())
		}
	}
	columns, values := c.writeValues(acc)
	placeholders := make([]string, len(values))
	for i := range values {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	sqlQuery := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);",
		c.table(), strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	if _, err := c.db.ExecContext(ctx, sqlQuery, values...); err != nil {
		return nil, core.InternalError(err)
	}
	id, _ := acc.Get(c.rc.Key.Name)
	return c.Get(ctx, id)
}

// Update implements Collection. The version guard is part of the WHERE
// clause, so a stale token writes nothing and surfaces as a conflict.
func (c *PostgresCollection) Update(ctx context.Context, acc entity.Accessor, expectedVersion any) (entity.Accessor, error) {
	versionField, _ := c.rc.ConcurrencyField()
	if versionField != nil {
		_ = acc.Set(versionField.Name, nextToken())
	}
	columns, values := c.writeValues(acc)
	assignments := make([]string, 0, len(columns))
	for i, column := range columns {
		assignments = append(assignments, fmt.Sprintf("%s = $%d", column, i+1))
	}
	id, _ := acc.Get(c.rc.Key.Name)
	values = append(values, sqlValue(normalize(id)))
	sqlQuery := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		c.table(), strings.Join(assignments, ", "), SnakeCase(c.rc.Key.Name), len(values))
	if versionField != nil && expectedVersion != nil {
		values = append(values, sqlValue(normalize(expectedVersion)))
		sqlQuery += fmt.Sprintf(" AND %s = $%d", SnakeCase(versionField.Name), len(values))
	}
	sqlQuery += ";"

	res, err := c.db.ExecContext(ctx, sqlQuery, values...)
	if err != nil {
		return nil, core.InternalError(err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return nil, core.InternalError(err)
	}
	if count == 0 {
		// distinguish a stale token from a missing row
		if _, err := c.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, core.ConflictError(c.rc.ResourceKey)
	}
	return c.Get(ctx, id)
}

// Delete implements Collection.
func (c *PostgresCollection) Delete(ctx context.Context, id any) error {
	sqlQuery := fmt.Sprintf("DELETE FROM %s WHERE %s = $1;", c.table(), SnakeCase(c.rc.Key.Name))
	res, err := c.db.ExecContext(ctx, sqlQuery, sqlValue(normalize(id)))
	if err != nil {
		return core.InternalError(err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return core.InternalError(err)
	}
	if count == 0 {
		return core.NotFoundError(c.rc.ResourceKey)
	}
	return nil
}

// ResolveMany implements Collection with a single ANY query.
func (c *PostgresCollection) ResolveMany(ctx context.Context, ids []any) ([]entity.Accessor, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ss := make([]string, 0, len(ids))
	for _, id := range ids {
		ss = append(ss, fmt.Sprint(normalize(id)))
	}
	sqlQuery := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ANY($1);",
		c.selectColumns(), c.table(), SnakeCase(c.rc.Key.Name))
	rows, err := c.db.QueryContext(ctx, sqlQuery, pq.Array(ss))
	if err != nil {
		return nil, core.InternalError(err)
	}
	defer rows.Close()
	var out []entity.Accessor
	for rows.Next() {
		targets, fields, rels := c.scanTargets()
		if err := rows.Scan(targets...); err != nil {
			return nil, core.InternalError(err)
		}
		acc, err := c.rowToAccessor(targets, fields, rels)
		if err != nil {
			return nil, core.InternalError(err)
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}
