// Package main bootstraps the certificate directory of an escrow server:
// a CA, a server certificate and optional client certificates.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/atinyakov/keyescrow/internal/certgen"
)

func main() {
	dir := flag.String("dir", "certs", "output directory")
	hosts := flag.String("hosts", "localhost,127.0.0.1", "comma separated server host names and IPs")
	clients := flag.String("clients", "", "comma separated client accounts to issue certificates for")
	force := flag.Bool("force", false, "replace an existing CA")
	flag.Parse()

	if err := run(*dir, split(*hosts), split(*clients), *force); err != nil {
		fmt.Fprintln(os.Stderr, "certgen:", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Certificates generated into %s\n", *dir)
}

func split(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// run writes ca.crt/ca.key, server.crt/server.key and <client>.crt/<client>.key
// into dir. An existing CA is kept unless force is set.
func run(dir string, hosts, clients []string, force bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	caCertPath := filepath.Join(dir, certgen.CACertFile)
	caKeyPath := filepath.Join(dir, certgen.CAKeyFile)

	var ca *certgen.Authority
	_, statErr := os.Stat(caCertPath)
	switch {
	case statErr == nil && !force:
		loaded, err := certgen.LoadAuthority(dir)
		if err != nil {
			return err
		}
		ca = loaded
	case statErr == nil || errors.Is(statErr, os.ErrNotExist):
		created, err := certgen.NewAuthority("KeyEscrow CA")
		if err != nil {
			return err
		}
		keyPEM, err := created.KeyPEM()
		if err != nil {
			return err
		}
		if err := certgen.WritePair(caCertPath, caKeyPath, created.CertPEM(), keyPEM); err != nil {
			return err
		}
		ca = created
	default:
		return statErr
	}

	certPEM, keyPEM, err := ca.IssueServer(hosts...)
	if err != nil {
		return fmt.Errorf("server certificate: %w", err)
	}
	err = certgen.WritePair(filepath.Join(dir, certgen.ServerCertFile), filepath.Join(dir, certgen.ServerKeyFile), certPEM, keyPEM)
	if err != nil {
		return err
	}

	for _, login := range clients {
		certPEM, keyPEM, err := ca.IssueClient(login)
		if err != nil {
			return fmt.Errorf("client %s: %w", login, err)
		}
		err = certgen.WritePair(filepath.Join(dir, login+".crt"), filepath.Join(dir, login+".key"), certPEM, keyPEM)
		if err != nil {
			return err
		}
	}
	return nil
}
