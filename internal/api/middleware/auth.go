// Package middleware authenticates ledger API callers from bearer tokens.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/example/ticket-ledger/internal/auth"
	"github.com/sirupsen/logrus"
)

// TokenValidator turns a bearer token into claims.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

type claimsKey struct{}

// deny writes the same error shape the API handlers use.
func deny(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": strings.ToLower(code),
		"code":  code,
	})
}

// BearerToken returns the token of an "Authorization: Bearer" header. The
// scheme is matched case-insensitively.
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Authenticate rejects requests without a valid bearer token and stores the
// caller's claims in the request context.
func Authenticate(validator TokenValidator, logger *logrus.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				deny(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			claims, err := validator.Validate(token)
			if err != nil {
				logger.WithError(err).WithField("path", r.URL.Path).Debug("[Auth] Token rejected")
				deny(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole lets through callers holding any of roles. It must run after
// Authenticate.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok {
				deny(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			for _, role := range roles {
				if claims.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			deny(w, http.StatusForbidden, "Forbidden")
		})
	}
}

func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

func ClaimsFrom(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*auth.Claims)
	return claims, ok && claims != nil
}

// CallerID is the authenticated user id, empty for anonymous requests.
func CallerID(ctx context.Context) string {
	if claims, ok := ClaimsFrom(ctx); ok {
		return claims.UserID
	}
	return ""
}

// IsPartyOrAdmin reports whether the caller is an admin or one of userIDs.
func IsPartyOrAdmin(ctx context.Context, userIDs ...string) bool {
	claims, ok := ClaimsFrom(ctx)
	if !ok {
		return false
	}
	if claims.IsAdmin() {
		return true
	}
	for _, id := range userIDs {
		if id != "" && claims.UserID == id {
			return true
		}
	}
	return false
}
