package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/atinyakov/keyescrow/internal/middleware"
	"github.com/atinyakov/keyescrow/internal/models"
	"github.com/atinyakov/keyescrow/internal/repository"
)

// fakeAccountService implements AccountService for testing.
type fakeAccountService struct {
	existsReturn bool
	existsErr    error
	registerErr  error
	registered   []string
}

func (f *fakeAccountService) AccountExists(ctx context.Context, login string) (bool, error) {
	return f.existsReturn, f.existsErr
}

func (f *fakeAccountService) RegisterAccount(ctx context.Context, login string) error {
	if f.registerErr == nil {
		f.registered = append(f.registered, login)
	}
	return f.registerErr
}

type fakeIssuer struct {
	err error
}

func (f fakeIssuer) IssueClient(cn string) ([]byte, []byte, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return []byte("CERT " + cn), []byte("KEY " + cn), nil
}

func TestAccountHandler_Register(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		service        *fakeAccountService
		issuer         fakeIssuer
		expectedCode   int
		expectedSubstr string
	}{
		{
			name:           "invalid JSON",
			body:           `not a json`,
			service:        &fakeAccountService{},
			expectedCode:   http.StatusBadRequest,
			expectedSubstr: "invalid request",
		},
		{
			name:           "empty login",
			body:           `{"login":"  "}`,
			service:        &fakeAccountService{},
			expectedCode:   http.StatusBadRequest,
			expectedSubstr: "invalid request",
		},
		{
			name:           "AccountExists error",
			body:           `{"login":"alice"}`,
			service:        &fakeAccountService{existsErr: errors.New("db error")},
			expectedCode:   http.StatusInternalServerError,
			expectedSubstr: "internal error",
		},
		{
			name:           "account already exists",
			body:           `{"login":"bob"}`,
			service:        &fakeAccountService{existsReturn: true},
			expectedCode:   http.StatusConflict,
			expectedSubstr: "account already exists",
		},
		{
			name:           "issue failure",
			body:           `{"login":"charlie"}`,
			service:        &fakeAccountService{},
			issuer:         fakeIssuer{err: errors.New("no CA")},
			expectedCode:   http.StatusInternalServerError,
			expectedSubstr: "failed to generate certificate",
		},
		{
			name:           "login taken after lookup",
			body:           `{"login":"erin"}`,
			service:        &fakeAccountService{registerErr: fmt.Errorf("account %q: %w", "erin", models.ErrAlreadyExists)},
			expectedCode:   http.StatusConflict,
			expectedSubstr: "account already exists",
		},
		{
			name:           "save failure",
			body:           `{"login":"dave"}`,
			service:        &fakeAccountService{registerErr: errors.New("insert failed")},
			expectedCode:   http.StatusInternalServerError,
			expectedSubstr: "failed to save account",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewBufferString(tt.body))
			h := &AccountHandler{Accounts: tt.service, Issuer: tt.issuer}
			h.Register(rec, req)

			if rec.Code != tt.expectedCode {
				t.Errorf("status = %d; want %d", rec.Code, tt.expectedCode)
			}
			if !strings.Contains(rec.Body.String(), tt.expectedSubstr) {
				t.Errorf("body = %q; want substring %q", rec.Body.String(), tt.expectedSubstr)
			}
		})
	}
}

// barrierAccounts holds every caller after AccountExists until all of them
// have looked the login up.
type barrierAccounts struct {
	*repository.MemoryRepository
	arrived sync.WaitGroup
}

func (b *barrierAccounts) AccountExists(ctx context.Context, login string) (bool, error) {
	exists, err := b.MemoryRepository.AccountExists(ctx, login)
	b.arrived.Done()
	b.arrived.Wait()
	return exists, err
}

func TestAccountHandler_Register_Concurrent(t *testing.T) {
	const callers = 2
	accounts := &barrierAccounts{MemoryRepository: repository.NewMemoryRepository()}
	accounts.arrived.Add(callers)
	h := &AccountHandler{Accounts: accounts, Issuer: fakeIssuer{}}

	codes := make([]int, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/register", strings.NewReader(`{"login":"alice"}`))
			h.Register(rec, req)
			codes[i] = rec.Code
		}()
	}
	wg.Wait()

	issued := 0
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			issued++
		case http.StatusConflict:
		default:
			t.Errorf("unexpected status %d", code)
		}
	}
	if issued != 1 {
		t.Errorf("certificates issued for alice = %d; want 1 (codes %v)", issued, codes)
	}
}

func TestAccountHandler_Register_Success(t *testing.T) {
	svc := &fakeAccountService{}
	h := &AccountHandler{Accounts: svc, Issuer: fakeIssuer{}}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/register", strings.NewReader(`{"login":"erin"}`))
	h.Register(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200, body %q", rec.Code, rec.Body.String())
	}
	var resp RegisterResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Cert != "CERT erin" || resp.Key != "KEY erin" {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(svc.registered) != 1 || svc.registered[0] != "erin" {
		t.Errorf("registered = %v; want [erin]", svc.registered)
	}
}

func TestAccountHandler_Login(t *testing.T) {
	tests := []struct {
		name         string
		account      string
		service      *fakeAccountService
		expectedCode int
	}{
		{"no certificate", "", &fakeAccountService{}, http.StatusUnauthorized},
		{"lookup error", "alice", &fakeAccountService{existsErr: errors.New("db")}, http.StatusInternalServerError},
		{"unknown account", "alice", &fakeAccountService{}, http.StatusForbidden},
		{"known account", "alice", &fakeAccountService{existsReturn: true}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
			if tt.account != "" {
				req = req.WithContext(middleware.WithAccount(req.Context(), tt.account))
			}
			h := &AccountHandler{Accounts: tt.service}
			h.Login(rec, req)

			if rec.Code != tt.expectedCode {
				t.Fatalf("status = %d; want %d", rec.Code, tt.expectedCode)
			}
			if tt.expectedCode == http.StatusOK {
				var resp LoginResponse
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if resp != (LoginResponse{Status: "ok", Account: "alice"}) {
					t.Errorf("unexpected response %+v", resp)
				}
			}
		})
	}
}
