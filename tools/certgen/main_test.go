package main

import (
	"bytes"
	"crypto/tls"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/atinyakov/keyescrow/internal/certgen"
)

func TestSplit(t *testing.T) {
	cases := map[string][]string{
		"":                        nil,
		"localhost":               {"localhost"},
		" localhost , 127.0.0.1,": {"localhost", "127.0.0.1"},
	}
	for in, want := range cases {
		if got := split(in); !reflect.DeepEqual(got, want) {
			t.Errorf("split(%q) = %v; want %v", in, got, want)
		}
	}
}

func TestRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")

	if err := run(dir, []string{"localhost"}, []string{"alice"}, false); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	for _, name := range []string{"ca.crt", "ca.key", "server.crt", "server.key", "alice.crt", "alice.key"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
	if _, err := tls.LoadX509KeyPair(filepath.Join(dir, "server.crt"), filepath.Join(dir, "server.key")); err != nil {
		t.Errorf("server pair invalid: %v", err)
	}

	ca, err := certgen.LoadAuthority(dir)
	if err != nil {
		t.Fatalf("LoadAuthority: %v", err)
	}
	if ca.Cert.Subject.CommonName != "KeyEscrow CA" {
		t.Errorf("CA CommonName = %q", ca.Cert.Subject.CommonName)
	}
}

func TestRun_KeepsExistingCA(t *testing.T) {
	dir := t.TempDir()
	if err := run(dir, []string{"localhost"}, nil, false); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(filepath.Join(dir, "ca.crt"))
	if err != nil {
		t.Fatal(err)
	}

	if err := run(dir, []string{"localhost"}, []string{"bob"}, false); err != nil {
		t.Fatal(err)
	}
	after, _ := os.ReadFile(filepath.Join(dir, "ca.crt"))
	if !bytes.Equal(before, after) {
		t.Error("CA was replaced without force")
	}

	if err := run(dir, []string{"localhost"}, nil, true); err != nil {
		t.Fatal(err)
	}
	forced, _ := os.ReadFile(filepath.Join(dir, "ca.crt"))
	if bytes.Equal(before, forced) {
		t.Error("CA was not replaced with force")
	}
}

func TestRun_NoHosts(t *testing.T) {
	if err := run(t.TempDir(), nil, nil, false); err == nil {
		t.Error("expected error without server hosts")
	}
}
