package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atinyakov/keyescrow/internal/models"
)

func TestAnonymousClient_Errors(t *testing.T) {
	if _, err := AnonymousClient("nonexistent.pem"); err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected file not exist error, got %v", err)
	}

	caPath := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(caPath, []byte("invalid pem"), 0o600); err != nil {
		t.Fatalf("failed to write CA file: %v", err)
	}
	if _, err := AnonymousClient(caPath); err == nil || !strings.Contains(err.Error(), "failed to parse CA cert") {
		t.Errorf("expected parse CA error, got %v", err)
	}
}

func TestLoadClientCertificate_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadClientCertificate(CredentialsIn(dir))
	if err == nil || !strings.Contains(err.Error(), "failed to load client cert/key") {
		t.Errorf("expected cert/key load error, got %v", err)
	}
}

func TestRegister_WritesCredentials(t *testing.T) {
	srv := newTestServer(t)
	creds := CredentialsIn(srv.Dir)

	anon, err := AnonymousClient(creds.CAFile)
	if err != nil {
		t.Fatal(err)
	}
	if err := Register(context.Background(), anon, srv.URL, "carol", creds); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	for _, path := range []string{creds.CertFile, creds.KeyFile} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("expected %s: %v", path, err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Errorf("%s mode = %v; want 0600", path, info.Mode().Perm())
		}
	}

	if _, err := LoadClientCertificate(creds); err != nil {
		t.Errorf("issued credentials do not load: %v", err)
	}

	err = Register(context.Background(), anon, srv.URL, "carol", creds)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Errorf("expected 409 on second registration, got %v", err)
	}
}

func TestRegister_ServerReplies(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "oops", http.StatusInternalServerError)
			},
			check: func(t *testing.T, err error) {
				if err == nil || !strings.Contains(err.Error(), "server error 500: oops") {
					t.Errorf("expected server error message, got %v", err)
				}
			},
		},
		{
			name: "bad request",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "invalid request", http.StatusBadRequest)
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, models.ErrInvalidMessage) {
					t.Errorf("expected invalid message, got %v", err)
				}
			},
		},
		{
			name: "empty certificate",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"cert":"","key":""}`))
			},
			check: func(t *testing.T, err error) {
				if err == nil || !strings.Contains(err.Error(), "empty certificate") {
					t.Errorf("expected empty certificate error, got %v", err)
				}
			},
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
			check: func(t *testing.T, err error) {
				if err == nil || !strings.Contains(err.Error(), "failed to decode response") {
					t.Errorf("expected decode error, got %v", err)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(tc.handler)
			defer ts.Close()

			err := Register(context.Background(), ts.Client(), ts.URL, "user", CredentialsIn(t.TempDir()))
			tc.check(t, err)
		})
	}
}
