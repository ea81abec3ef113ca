// Package http provides the HTTPS surface of the escrow: account
// registration and the contract entry points.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/atinyakov/keyescrow/internal/middleware"
	"github.com/atinyakov/keyescrow/internal/models"
)

// AccountService defines the account operations required by the HTTP handlers.
type AccountService interface {
	// AccountExists checks whether an account with the given login exists.
	AccountExists(context.Context, string) (bool, error)
	// RegisterAccount registers a new account with the given login.
	RegisterAccount(context.Context, string) error
}

// CertIssuer signs client certificates.
type CertIssuer interface {
	IssueClient(commonName string) (certPEM, keyPEM []byte, err error)
}

// AccountHandler handles HTTP requests for account registration and login.
type AccountHandler struct {
	// Accounts performs the underlying account operations.
	Accounts AccountService
	// Issuer signs the certificate handed out on registration.
	Issuer CertIssuer
	Log    *zap.Logger
}

// RegisterRequest represents the JSON payload for account registration.
type RegisterRequest struct {
	// Login becomes the Common Name of the issued certificate.
	Login string `json:"login"`
}

// RegisterResponse carries the PEM encoded client certificate and key.
type RegisterResponse struct {
	Cert string `json:"cert"`
	Key  string `json:"key"`
}

// LoginResponse echoes the authenticated account.
type LoginResponse struct {
	Status  string `json:"status"`
	Account string `json:"account"`
}

// Register handles account registration requests.
// It expects a JSON body with a non-empty "login" field. If the account
// does not exist yet, it issues a client certificate signed by the CA,
// stores the account and returns the PEM encoded certificate and key.
// A login taken by a concurrent registration gets 409 and no certificate.
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Login) == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	exists, err := h.Accounts.AccountExists(r.Context(), req.Login)
	if err != nil {
		h.logger().Error("account lookup failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if exists {
		http.Error(w, "account already exists", http.StatusConflict)
		return
	}

	certPEM, keyPEM, err := h.Issuer.IssueClient(req.Login)
	if err != nil {
		h.logger().Error("certificate issue failed", zap.Error(err))
		http.Error(w, "failed to generate certificate", http.StatusInternalServerError)
		return
	}

	// The certificate is only handed out if this request created the account.
	if err := h.Accounts.RegisterAccount(r.Context(), req.Login); err != nil {
		if errors.Is(err, models.ErrAlreadyExists) {
			http.Error(w, "account already exists", http.StatusConflict)
			return
		}
		h.logger().Error("account save failed", zap.Error(err))
		http.Error(w, "failed to save account", http.StatusInternalServerError)
		return
	}

	h.logger().Info("account registered", zap.String("account", req.Login))
	writeJSON(w, http.StatusOK, RegisterResponse{Cert: string(certPEM), Key: string(keyPEM)})
}

// Login confirms that the account named by the client certificate exists.
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	login := middleware.GetAccountFromContext(r.Context())
	if login == "" {
		http.Error(w, "client certificate required", http.StatusUnauthorized)
		return
	}

	exists, err := h.Accounts.AccountExists(r.Context(), login)
	if err != nil {
		h.logger().Error("account lookup failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !exists {
		http.Error(w, "account not found", http.StatusForbidden)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{Status: "ok", Account: login})
}

func (h *AccountHandler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
