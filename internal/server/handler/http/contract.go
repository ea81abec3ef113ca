package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/keyescrow/internal/chain"
	"github.com/atinyakov/keyescrow/internal/contract"
	"github.com/atinyakov/keyescrow/internal/cryptox"
	"github.com/atinyakov/keyescrow/internal/middleware"
	"github.com/atinyakov/keyescrow/internal/models"
)

// maxBodyBytes bounds request bodies; secrets are small.
const maxBodyBytes = 1 << 20

// Contract is the set of entry points served over HTTP.
type Contract interface {
	Instantiate(ctx context.Context, env contract.Env, info contract.MessageInfo, msg contract.InstantiateMsg) (*contract.Response, error)
	Execute(ctx context.Context, env contract.Env, info contract.MessageInfo, msg contract.ExecuteMsg) (*contract.Response, error)
	Query(ctx context.Context, env contract.Env, msg contract.QueryMsg) ([]byte, error)
	LegacyKeyDetailsAttributes(ctx context.Context, keyID uint64) (*contract.Response, error)
}

// ContractHandler decodes entry messages, stamps them with the current
// block and the caller identity, and renders the result.
type ContractHandler struct {
	Contract Contract
	Blocks   chain.Source
	Log      *zap.Logger
}

func (h *ContractHandler) env() contract.Env {
	return contract.Env{Block: h.Blocks.Current()}
}

func (h *ContractHandler) info(r *http.Request) contract.MessageInfo {
	return contract.MessageInfo{Sender: middleware.GetAccountFromContext(r.Context())}
}

// Instantiate handles POST /api/instantiate.
func (h *ContractHandler) Instantiate(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	msg, err := contract.ParseInstantiateMsg(body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.Contract.Instantiate(r.Context(), h.env(), h.info(r), msg)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Execute handles POST /api/execute.
func (h *ContractHandler) Execute(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	msg, err := contract.ParseExecuteMsg(body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.Contract.Execute(r.Context(), h.env(), h.info(r), msg)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Query handles POST /api/query and returns the key details payload.
func (h *ContractHandler) Query(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	msg, err := contract.ParseQueryMsg(body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	payload, err := h.Contract.Query(r.Context(), h.env(), msg)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// LegacyQuery handles POST /api/query/legacy and renders key details as attributes.
func (h *ContractHandler) LegacyQuery(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	msg, err := contract.ParseQueryMsg(body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.Contract.LegacyKeyDetailsAttributes(r.Context(), msg.GetKeyDetails.Key)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ContractHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		http.Error(w, "invalid body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

// StatusFor maps an escrow error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyExists), errors.Is(err, models.ErrAlreadyInitialized):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *ContractHandler) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status != http.StatusInternalServerError {
		http.Error(w, err.Error(), status)
		return
	}

	log := h.Log
	if log == nil {
		log = zap.NewNop()
	}
	msg := "internal error"
	if errors.Is(err, cryptox.ErrAuthentication) || errors.Is(err, cryptox.ErrDecode) {
		msg = "record could not be decrypted"
		log.Error("stored record could not be decrypted", zap.Error(err))
	} else {
		log.Error("request failed", zap.Error(err))
	}
	http.Error(w, msg, status)
}
