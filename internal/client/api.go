package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/atinyakov/keyescrow/internal/contract"
	"github.com/atinyakov/keyescrow/internal/models"
)

// APIError is a non-2xx reply from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// Is lets callers match server replies against the escrow sentinel errors.
func (e *APIError) Is(target error) bool {
	switch e.Status {
	case http.StatusBadRequest:
		return target == models.ErrInvalidMessage
	case http.StatusNotFound:
		return target == models.ErrNotFound
	case http.StatusConflict:
		if strings.Contains(e.Message, models.ErrAlreadyInitialized.Error()) {
			return target == models.ErrAlreadyInitialized
		}
		return target == models.ErrAlreadyExists
	}
	return false
}

func responseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}

// API calls the escrow entry points.
type API struct {
	HTTP    *http.Client
	BaseURL string
}

// NewAPI returns an API for the server at baseURL.
func NewAPI(httpClient *http.Client, baseURL string) *API {
	return &API{HTTP: httpClient, BaseURL: strings.TrimRight(baseURL, "/")}
}

func (a *API) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Login confirms that the presented certificate belongs to a registered account.
func (a *API) Login(ctx context.Context) (string, error) {
	var resp struct {
		Account string `json:"account"`
	}
	if err := a.post(ctx, "/api/login", struct{}{}, &resp); err != nil {
		return "", err
	}
	return resp.Account, nil
}

// Instantiate configures the escrow with a broadcast string.
func (a *API) Instantiate(ctx context.Context, broadcast string) (*contract.Response, error) {
	var res contract.Response
	if err := a.post(ctx, "/api/instantiate", contract.InstantiateMsg{Broadcast: broadcast}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// StoreKey escrows secret for recipient and returns its key id.
func (a *API) StoreKey(ctx context.Context, secret, recipient string) (uint64, error) {
	var res contract.Response
	msg := contract.ExecuteMsg{StoreKey: &contract.StoreKeyMsg{Key: secret, Recipient: recipient}}
	if err := a.post(ctx, "/api/execute", msg, &res); err != nil {
		return 0, err
	}
	raw, ok := res.Get("key_id")
	if !ok {
		return 0, fmt.Errorf("response has no key_id attribute")
	}
	keyID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse key_id %q: %w", raw, err)
	}
	return keyID, nil
}

// RetrieveKey decrypts the secret filed under keyID.
func (a *API) RetrieveKey(ctx context.Context, keyID uint64) (string, error) {
	var res contract.Response
	msg := contract.ExecuteMsg{RetrieveKey: &contract.RetrieveKeyMsg{Key: keyID}}
	if err := a.post(ctx, "/api/execute", msg, &res); err != nil {
		return "", err
	}
	key, ok := res.Get("key")
	if !ok {
		return "", fmt.Errorf("response has no key attribute")
	}
	return key, nil
}

// KeyDetails returns the metadata of the record filed under keyID.
func (a *API) KeyDetails(ctx context.Context, keyID uint64) (*models.KeyDetails, error) {
	var details models.KeyDetails
	msg := contract.QueryMsg{GetKeyDetails: &contract.GetKeyDetailsMsg{Key: keyID}}
	if err := a.post(ctx, "/api/query", msg, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// LegacyKeyDetails returns key details in the attribute form.
func (a *API) LegacyKeyDetails(ctx context.Context, keyID uint64) (*contract.Response, error) {
	var res contract.Response
	msg := contract.QueryMsg{GetKeyDetails: &contract.GetKeyDetailsMsg{Key: keyID}}
	if err := a.post(ctx, "/api/query/legacy", msg, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
