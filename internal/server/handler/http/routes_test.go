package http

import (
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/atinyakov/keyescrow/internal/certgen"
	"github.com/atinyakov/keyescrow/internal/chain"
	"github.com/atinyakov/keyescrow/internal/contract"
	"github.com/atinyakov/keyescrow/internal/cryptox"
	"github.com/atinyakov/keyescrow/internal/middleware"
	"github.com/atinyakov/keyescrow/internal/models"
	"github.com/atinyakov/keyescrow/internal/repository"
	"github.com/atinyakov/keyescrow/internal/service"
)

func newTestRouter(t *testing.T, block chain.Block) http.Handler {
	t.Helper()
	return newLoggedTestRouter(t, block, zap.NewNop())
}

func newLoggedTestRouter(t *testing.T, block chain.Block, log *zap.Logger) http.Handler {
	t.Helper()

	c, err := cryptox.New(cryptox.LegacyKey, cryptox.AlgAES256GCM, cryptox.NonceKeyID)
	if err != nil {
		t.Fatal(err)
	}
	ca, err := certgen.NewAuthority("Test CA")
	if err != nil {
		t.Fatal(err)
	}
	repo := repository.NewMemoryRepository()

	accounts := &AccountHandler{Accounts: service.NewAccountService(repo), Issuer: ca}
	entries := &ContractHandler{
		Contract: contract.New(service.NewEscrowService(repo, c, nil)),
		Blocks:   chain.Fixed(block),
	}
	return NewRouter(accounts, entries, log)
}

type call struct {
	path    string
	account string
	body    string
}

func do(t *testing.T, h http.Handler, c call) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, c.path, strings.NewReader(c.body))
	req.Header.Set("Content-Type", "application/json")
	if c.account != "" {
		cert := &x509.Certificate{Subject: pkix.Name{CommonName: c.account}}
		req.TLS = &tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_EscrowScenario(t *testing.T) {
	router := newTestRouter(t, chain.Block{Height: 12345, Time: 1_700_000_000_000_000_000})

	steps := []struct {
		name     string
		call     call
		wantCode int
		wantBody string
	}{
		{"register", call{path: "/api/register", body: `{"login":"alice"}`}, http.StatusOK, "BEGIN CERTIFICATE"},
		{"register twice", call{path: "/api/register", body: `{"login":"alice"}`}, http.StatusConflict, "account already exists"},
		{"login", call{path: "/api/login", account: "alice", body: `{}`}, http.StatusOK, `"account":"alice"`},
		{"instantiate without cert", call{path: "/api/instantiate", body: `{"broadcast":"x"}`}, http.StatusUnauthorized, "no client certificate"},
		{"instantiate", call{path: "/api/instantiate", account: "owner", body: `{"broadcast":"dear AI, keep going"}`}, http.StatusOK, `{"key":"owner","value":"owner"}`},
		{"instantiate twice", call{path: "/api/instantiate", account: "owner", body: `{"broadcast":"again"}`}, http.StatusConflict, "already initialized"},
		{"store", call{path: "/api/execute", account: "alice", body: `{"store_key":{"key":"my_secret_key","recipient":"bob"}}`}, http.StatusOK, `{"key":"key_id","value":"12345"}`},
		{"store same block", call{path: "/api/execute", account: "alice", body: `{"store_key":{"key":"other","recipient":"bob"}}`}, http.StatusConflict, "key already exists"},
		{"query before retrieve", call{path: "/api/query", body: `{"get_key_details":{"key":12345}}`}, http.StatusOK, `"retrieved":false`},
		{"retrieve", call{path: "/api/execute", account: "bob", body: `{"retrieve_key":{"key":12345}}`}, http.StatusOK, `{"key":"key","value":"my_secret_key"}`},
		{"retrieve unknown", call{path: "/api/execute", account: "bob", body: `{"retrieve_key":{"key":0}}`}, http.StatusNotFound, "not found"},
		{"legacy query", call{path: "/api/query/legacy", body: `{"get_key_details":{"key":12345}}`}, http.StatusOK, `{"key":"encrypted_data","value":"dear AI, keep going"}`},
		{"malformed", call{path: "/api/execute", account: "alice", body: `{"store_key":{"key":"a"},"retrieve_key":{"key":1}}`}, http.StatusBadRequest, "invalid message"},
	}

	for _, step := range steps {
		rec := do(t, router, step.call)
		if rec.Code != step.wantCode {
			t.Fatalf("%s: status = %d; want %d (body %q)", step.name, rec.Code, step.wantCode, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), step.wantBody) {
			t.Fatalf("%s: body = %q; want substring %q", step.name, rec.Body.String(), step.wantBody)
		}
	}

	rec := do(t, router, call{path: "/api/query", body: `{"get_key_details":{"key":12345}}`})
	var details models.KeyDetails
	if err := json.Unmarshal(rec.Body.Bytes(), &details); err != nil {
		t.Fatalf("decode details: %v", err)
	}
	if details.Creator != "alice" || details.Recipient != "bob" || !details.Retrieved || details.Broadcast != "dear AI, keep going" {
		t.Errorf("unexpected details %+v", details)
	}
	if details.Timestamp != 1_700_000_000_000_000_000 {
		t.Errorf("timestamp = %v", details.Timestamp)
	}
}

func TestRouter_RejectsNonJSON(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	router := newLoggedTestRouter(t, chain.Block{Height: 1}, zap.New(core))

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(`{"get_key_details":{"key":1}}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d; want 415", rec.Code)
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("rejected request has no request id")
	}

	entries := logs.FilterMessage("request").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d requests; want 1", len(entries))
	}
	if got := entries[0].ContextMap()["status"]; got != int64(http.StatusUnsupportedMediaType) {
		t.Errorf("logged status = %v; want 415", got)
	}
}
