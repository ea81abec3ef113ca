// Package middleware provides HTTP middlewares for authentication and logging.
package middleware

import (
	"context"
	"net/http"
)

type ctxKey string

const accountKey ctxKey = "account"

// CertAuth returns a middleware that enforces mutual TLS authentication.
//
// Requests to any of publicPaths pass through without a certificate, so new
// accounts can register and anyone can query record details. For every other
// path a client certificate is required and its Common Name (CN) is stored
// in the request context as the calling account.
func CertAuth(publicPaths ...string) func(http.Handler) http.Handler {
	public := make(map[string]struct{}, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hasCert := r.TLS != nil && len(r.TLS.PeerCertificates) > 0
			if !hasCert {
				if _, ok := public[r.URL.Path]; ok {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "no client certificate provided", http.StatusUnauthorized)
				return
			}
			cert := r.TLS.PeerCertificates[0]
			ctx := WithAccount(r.Context(), cert.Subject.CommonName)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithAccount returns a copy of ctx carrying the calling account.
func WithAccount(ctx context.Context, account string) context.Context {
	return context.WithValue(ctx, accountKey, account)
}

// GetAccountFromContext extracts the calling account (Common Name from the
// client certificate) from the request context. Returns an empty string if
// not found.
func GetAccountFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(accountKey).(string); ok {
		return s
	}
	return ""
}
