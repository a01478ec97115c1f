/*Package access provides utilities for access control: the request
authorization context and the JWT bearer middleware that populates it.
*/
package access

import (
	"context"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeyAuthorization contextKey = "_authorization_"
)

// Authorization is a context object that stores who the caller is: their
// roles, their tenant, and any extra token properties.
//
// Authorizations are added to a request context with
//
//	ctx = auth.ContextWithAuthorization(ctx)
//
// and retrieved with
//
//	auth := AuthorizationFromContext(ctx)
type Authorization struct {
	Roles []string `json:"roles"`
	// Tenant is the tenant identifier extracted from the configured claim.
	Tenant     string            `json:"tenant,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// HasRole returns true if the authorization contains the requested role;
// otherwise it returns false.
func (a *Authorization) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, hasRole := range a.Roles {
		if role == hasRole {
			return true
		}
	}
	return false
}

// Property returns the value for the requested property; if the
// property does not exist, it returns an empty string and false.
func (a *Authorization) Property(name string) (string, bool) {
	if a == nil || a.Properties == nil {
		return "", false
	}
	value, ok := a.Properties[name]
	return value, ok
}

// Satisfies reports whether the authorization satisfies the named policy.
// An empty policy means the operation is open. The "admin" role satisfies
// every policy.
func (a *Authorization) Satisfies(policy string) bool {
	if policy == "" {
		return true
	}
	return a.HasRole(policy) || a.HasRole("admin")
}

// ContextWithAuthorization returns a new context with this authorization added to it
func (a *Authorization) ContextWithAuthorization(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, a)
}

// AuthorizationFromContext retrieves the authorization from the context, or nil
// if there is no authorization
func AuthorizationFromContext(ctx context.Context) *Authorization {
	auth, _ := ctx.Value(contextKeyAuthorization).(*Authorization)
	return auth
}
