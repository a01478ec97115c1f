package access

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/kontrakt/core/logger"
)

// JwtMiddlewareBuilder is a helper builder for the JWT middleware
type JwtMiddlewareBuilder struct {
	// Key verifies the token signature (HMAC secret or RSA public key).
	Key any
	// Method is the expected signing method name, e.g. "HS256".
	Method string
	// Issuer is the accepted issuer for the token. Empty accepts any.
	Issuer string
	// RolesClaim is the claim carrying the role list. Defaults to "roles".
	RolesClaim string
	// TenantClaim is the claim carrying the tenant identifier. Optional.
	TenantClaim string
}

// NewJwtMiddleware returns a middleware handler to validate JWT bearer
// tokens and populate the request's authorization context with the token's
// roles and tenant.
//
// Requests without a token pass through unauthenticated; the operation's
// security policy decides later whether that is acceptable. A present but
// invalid token ends the request with http.StatusUnauthorized.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {
	rolesClaim := jmb.RolesClaim
	if rolesClaim == "" {
		rolesClaim = "roles"
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				h.ServeHTTP(w, r)
				return
			}
			tokenString := strings.TrimPrefix(header, "Bearer ")

			rlog := logger.FromContext(r.Context())
			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
				return jmb.Key, nil
			})
			if err != nil || !token.Valid {
				rlog.Infoln("invalid bearer token:", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if jmb.Method != "" && token.Method.Alg() != jmb.Method {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if jmb.Issuer != "" {
				if issuer, _ := claims["iss"].(string); issuer != jmb.Issuer {
					http.Error(w, "invalid token issuer", http.StatusUnauthorized)
					return
				}
			}

			auth := Authorization{}
			if rawRoles, ok := claims[rolesClaim].([]any); ok {
				for _, rawRole := range rawRoles {
					if role, ok := rawRole.(string); ok {
						auth.Roles = append(auth.Roles, role)
					}
				}
			}
			if jmb.TenantClaim != "" {
				auth.Tenant, _ = claims[jmb.TenantClaim].(string)
			}

			ctx := auth.ContextWithAuthorization(r.Context())
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
