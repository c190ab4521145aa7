//
//
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Claims represents the parsed token claims.
type Claims struct {
	Subject string   `json:"sub"`
	Scopes  []string `json:"scopes"`
}

type contextKey struct{}

// Scopes.
const (
	ScopeRead  = "records:read"
	ScopeWrite = "records:write"
)

var knownScopes = []string{ScopeRead, ScopeWrite}

// Middleware handles authentication and authorization. A nil verifier
// disables both: every request passes with no claims.
type Middleware struct {
	verifier *Verifier
}

// NewMiddleware creates an auth middleware. Pass nil to disable auth.
func NewMiddleware(verifier *Verifier) *Middleware {
	return &Middleware{verifier: verifier}
}

// Enabled reports whether tokens are checked.
func (m *Middleware) Enabled() bool { return m != nil && m.verifier != nil }

// Require authenticates the request and checks it carries every scope.
func (m *Middleware) Require(scopes ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		if !m.Enabled() {
			return next
		}
		return func(w http.ResponseWriter, r *http.Request) {
			token, err := extractBearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}

			claims, err := m.verifier.VerifyToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
				return
			}

			if !claims.HasScopes(scopes...) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions")
				return
			}

			next(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		}
	}
}

// HasScopes reports whether c holds all of scopes.
func (c *Claims) HasScopes(scopes ...string) bool {
	if c == nil {
		return len(scopes) == 0
	}
	for _, s := range scopes {
		if !slices.Contains(c.Scopes, s) {
			return false
		}
	}
	return true
}

// ContextWithClaims attaches claims to ctx.
func ContextWithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// ClaimsFromContext returns the claims set by the middleware, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(contextKey{}).(*Claims)
	return c
}

// Subject is the token subject in ctx, or "anonymous".
func Subject(ctx context.Context) string {
	if c := ClaimsFromContext(ctx); c != nil && c.Subject != "" {
		return c.Subject
	}
	return "anonymous"
}

func extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	if token == "" {
		return "", fmt.Errorf("empty token")
	}
	return token, nil
}

// writeError writes an error response in the API envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(map[string]any{
		"result":        "error",
		"code":          code,
		"message":       message,
		"correlationId": uuid.NewString(),
	})
}
