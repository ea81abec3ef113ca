package client

import (
	"context"
	"crypto/tls"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/atinyakov/keyescrow/internal/certgen"
	"github.com/atinyakov/keyescrow/internal/chain"
	"github.com/atinyakov/keyescrow/internal/contract"
	"github.com/atinyakov/keyescrow/internal/cryptox"
	"github.com/atinyakov/keyescrow/internal/repository"
	httpapi "github.com/atinyakov/keyescrow/internal/server/handler/http"
	"github.com/atinyakov/keyescrow/internal/service"
)

// movableBlock lets a test advance the chain between calls.
type movableBlock struct {
	mu    sync.Mutex
	block chain.Block
}

func (m *movableBlock) Current() chain.Block {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.block
}

func (m *movableBlock) Set(b chain.Block) {
	m.mu.Lock()
	m.block = b
	m.mu.Unlock()
}

type testServer struct {
	URL    string
	Dir    string
	Blocks *movableBlock
}

// newTestServer starts the full escrow stack over mTLS and writes ca.crt into
// a fresh directory.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ca, err := certgen.NewAuthority("Test CA")
	if err != nil {
		t.Fatal(err)
	}
	serverCert, serverKey, err := ca.IssueServer("127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	pair, err := tls.X509KeyPair(serverCert, serverKey)
	if err != nil {
		t.Fatal(err)
	}

	c, err := cryptox.New(cryptox.LegacyKey, "", "")
	if err != nil {
		t.Fatal(err)
	}
	repo := repository.NewMemoryRepository()
	blocks := &movableBlock{block: chain.Block{Height: 100, Time: 1_000}}
	router := httpapi.NewRouter(
		&httpapi.AccountHandler{Accounts: service.NewAccountService(repo), Issuer: ca},
		&httpapi.ContractHandler{Contract: contract.New(service.NewEscrowService(repo, c, nil)), Blocks: blocks},
		zap.NewNop(),
	)

	ts := httptest.NewUnstartedServer(router)
	ts.TLS = &tls.Config{
		Certificates: []tls.Certificate{pair},
		ClientAuth:   tls.VerifyClientCertIfGiven,
		ClientCAs:    ca.CertPool(),
		MinVersion:   tls.VersionTLS12,
	}
	ts.StartTLS()
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ca.crt"), ca.CertPEM(), 0o600); err != nil {
		t.Fatal(err)
	}
	return &testServer{URL: ts.URL, Dir: dir, Blocks: blocks}
}

// registered registers login and returns an API presenting its certificate.
func (s *testServer) registered(t *testing.T, login string) *API {
	t.Helper()
	creds := CredentialsIn(filepath.Join(s.Dir, login))
	creds.CAFile = filepath.Join(s.Dir, "ca.crt")
	if err := os.MkdirAll(filepath.Dir(creds.CertFile), 0o700); err != nil {
		t.Fatal(err)
	}

	anon, err := AnonymousClient(creds.CAFile)
	if err != nil {
		t.Fatal(err)
	}
	if err := Register(context.Background(), anon, s.URL, login, creds); err != nil {
		t.Fatalf("register %s: %v", login, err)
	}
	httpClient, err := LoadClientCertificate(creds)
	if err != nil {
		t.Fatal(err)
	}
	return NewAPI(httpClient, s.URL)
}
