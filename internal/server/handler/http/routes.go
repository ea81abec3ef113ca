package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atinyakov/keyescrow/internal/middleware"
)

// Paths reachable without a client certificate.
const (
	RegisterPath = "/api/register"
	QueryPath    = "/api/query"
	LegacyPath   = "/api/query/legacy"
)

// NewRouter constructs the HTTP handler serving the escrow API.
//
// Routes:
//
//	POST /api/register      → accountHandler.Register
//	POST /api/login         → accountHandler.Login       (client certificate)
//	POST /api/instantiate   → contractHandler.Instantiate (client certificate)
//	POST /api/execute       → contractHandler.Execute     (client certificate)
//	POST /api/query         → contractHandler.Query
//	POST /api/query/legacy  → contractHandler.LegacyQuery
//
// Middleware chain (applied in order):
//  1. WithRequestLogging(logger)
//  2. AllowContentType("application/json")
//  3. CertAuth, with register and query paths public
func NewRouter(
	accountHandler *AccountHandler,
	contractHandler *ContractHandler,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.WithRequestLogging(logger))
	r.Use(chiMiddleware.AllowContentType("application/json"))
	r.Use(middleware.CertAuth(RegisterPath, QueryPath, LegacyPath))

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", accountHandler.Register)
		r.Post("/login", accountHandler.Login)

		r.Post("/instantiate", contractHandler.Instantiate)
		r.Post("/execute", contractHandler.Execute)

		r.Post("/query", contractHandler.Query)
		r.Post("/query/legacy", contractHandler.LegacyQuery)
	})

	return r
}
