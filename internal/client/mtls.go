// Package client talks to an escrow server over mutual TLS and keeps a
// local ledger of the keys the user stored.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DefaultTimeout bounds every request made by clients built here.
const DefaultTimeout = 10 * time.Second

// Credentials names the files of a client identity.
type Credentials struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// CredentialsIn returns the conventional file names inside dir.
func CredentialsIn(dir string) Credentials {
	return Credentials{
		CertFile: filepath.Join(dir, "client.crt"),
		KeyFile:  filepath.Join(dir, "client.key"),
		CAFile:   filepath.Join(dir, "ca.crt"),
	}
}

func loadCAPool(caPath string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA cert")
	}
	return caPool, nil
}

// AnonymousClient returns an HTTPS client that trusts only the CA at caPath
// and presents no certificate. It can reach the public endpoints.
func AnonymousClient(caPath string) (*http.Client, error) {
	caPool, err := loadCAPool(caPath)
	if err != nil {
		return nil, err
	}
	transport := &http.Transport{TLSClientConfig: &tls.Config{RootCAs: caPool, MinVersion: tls.VersionTLS12}}
	return &http.Client{Transport: transport, Timeout: DefaultTimeout}, nil
}

// LoadClientCertificate returns an HTTPS client presenting the given
// certificate and trusting only the CA.
func LoadClientCertificate(creds Credentials) (*http.Client, error) {
	cert, err := tls.LoadX509KeyPair(creds.CertFile, creds.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client cert/key: %w", err)
	}
	caPool, err := loadCAPool(creds.CAFile)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      caPool,
			MinVersion:   tls.VersionTLS12,
		},
	}
	return &http.Client{Transport: transport, Timeout: DefaultTimeout}, nil
}

// Register asks the server to issue a certificate for login and writes the
// returned certificate and key to creds.CertFile and creds.KeyFile.
func Register(ctx context.Context, httpClient *http.Client, baseURL, login string, creds Credentials) error {
	b, err := json.Marshal(map[string]string{"login": login})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/register", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("register failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	var certData struct {
		Cert string `json:"cert"`
		Key  string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&certData); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if certData.Cert == "" || certData.Key == "" {
		return errors.New("server returned an empty certificate")
	}
	if err := os.WriteFile(creds.CertFile, []byte(certData.Cert), 0o600); err != nil {
		return fmt.Errorf("failed to save %s: %w", creds.CertFile, err)
	}
	if err := os.WriteFile(creds.KeyFile, []byte(certData.Key), 0o600); err != nil {
		return fmt.Errorf("failed to save %s: %w", creds.KeyFile, err)
	}
	return nil
}
