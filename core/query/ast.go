/*Package query compiles a contract plus a QuerySpec into a
persistence-agnostic Plan: a filter expression tree, a multi-key sort,
pagination bounds and the requested projection and expansion.

The expression tree is built once per request and compiled by a datasource
against its native query facility, either SQL or an in-memory predicate.
*/
package query

import (
	"github.com/relabs-tech/kontrakt/core/contract"
)

// Op is a filter comparison operator.
type Op string

// all filter operators
const (
	OpEq       Op = "eq"
	OpNeq      Op = "neq"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpContains Op = "contains"
	OpStarts   Op = "starts"
	OpEnds     Op = "ends"
	OpIn       Op = "in"
	OpIsNull   Op = "isnull"
)

// Expr is a node of the filter expression tree.
type Expr interface {
	isExpr()
}

// Field references a contract field inside an expression.
type Field struct {
	// Name is the canonical field name, ApiName the external one.
	Name    string
	ApiName string
	Type    contract.FieldType
}

// Compare matches a field against a literal with a comparison operator.
type Compare struct {
	Field Field
	Op    Op
	// Value carries the canonical runtime type of the field.
	Value any
}

// In matches a field against a list of literals.
type In struct {
	Field  Field
	Values []any
}

// IsNull matches a field against null (or not-null when Null is false).
type IsNull struct {
	Field Field
	Null  bool
}

// Match matches a text field case-insensitively against a substring,
// prefix or suffix.
type Match struct {
	Field Field
	Op    Op // OpContains, OpStarts or OpEnds
	Value string
}

// And combines expressions conjunctively.
type And struct {
	Exprs []Expr
}

// Or combines expressions disjunctively.
type Or struct {
	Exprs []Expr
}

func (Compare) isExpr() {}
func (In) isExpr()      {}
func (IsNull) isExpr()  {}
func (Match) isExpr()   {}
func (And) isExpr()     {}
func (Or) isExpr()      {}

// SortKey is one key of a multi-key sort.
type SortKey struct {
	Field      Field
	Descending bool
}

// Plan is the compiled query. Filter is nil when no filter applies.
type Plan struct {
	Filter Expr
	Sort   []SortKey
	// Page and PageSize are the clamped effective values.
	Page     int
	PageSize int
	Offset   int
	Limit    int
	// Projection lists the requested field api names; empty means all readable.
	Projection []string
	// Expand lists the requested relation api names.
	Expand []string
}
