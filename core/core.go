/*Package core provides the basic vocabulary shared by all kontrakt packages:
CRUD operations, api-name derivation and the classified error type the HTTP
layer maps onto response statuses.
*/
package core

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Operation represents a backend storage operation, one of Create, Read, Update, Delete, List
type Operation string

// all supported operations
const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationList   Operation = "list"
)

// Operations returns all supported operations in a stable order.
func Operations() []Operation {
	return []Operation{OperationList, OperationRead, OperationCreate, OperationUpdate, OperationDelete}
}

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	switch *o {
	case OperationCreate, OperationRead, OperationUpdate, OperationDelete, OperationList:
		return nil
	default:
		return fmt.Errorf("%s is not a valid Operation", s)
	}
}

// Plural returns the plural form of the passed singular string.
//
// This is the algorithm used to create idiomatic REST routes
func Plural(singular string) string {
	if strings.HasSuffix(singular, "y") {
		return strings.TrimSuffix(singular, "y") + "ies"
	}
	if strings.HasSuffix(singular, "child") {
		return strings.TrimSuffix(singular, "child") + "children"
	}
	return singular + "s"
}

// CamelCase converts a canonical field name to its external api name.
// Leading initialisms collapse to lower case, so "ID" becomes "id" and
// "URLPath" becomes "urlPath", while "AuthorID" becomes "authorID" only
// for the leading segment: "AuthorID" -> "authorID" is wrong for our wire
// format, hence trailing "ID" is rewritten to "Id" first.
func CamelCase(name string) string {
	if name == "" {
		return name
	}
	if strings.HasSuffix(name, "ID") {
		name = strings.TrimSuffix(name, "ID") + "Id"
	}
	runes := []rune(name)
	n := 0
	for n < len(runes) && runes[n] >= 'A' && runes[n] <= 'Z' {
		n++
	}
	if n == 0 {
		return name
	}
	// in "URLPath" the "P" belongs to the next word
	if n > 1 && n < len(runes) {
		n--
	}
	for i := 0; i < n; i++ {
		runes[i] += 'a' - 'A'
	}
	return string(runes)
}
