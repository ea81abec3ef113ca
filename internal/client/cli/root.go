// Package cli implements the escrow command line client.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/atinyakov/keyescrow/internal/client"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server   string
	CertDir  string
	Receipts string
	Format   string // "json" | "text"

	// connect builds the API used by a command. anonymous skips the client certificate.
	connect func(opts *RootOptions, anonymous bool) (*client.API, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the escrow client.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{connect: dial})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	home, _ := os.UserHomeDir()
	defaultDir := filepath.Join(home, ".keyescrow")

	cmd := &cobra.Command{
		Use:   "escrow",
		Short: "Store and retrieve escrowed secrets",
		Long: `escrow talks to a key escrow server over mutual TLS.

Register once to obtain a client certificate, then store secrets for a
recipient and retrieve them by key id.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Server, "server", "s", "https://localhost:8443", "server base URL")
	cmd.PersistentFlags().StringVar(&opts.CertDir, "cert-dir", defaultDir, "directory holding ca.crt, client.crt and client.key")
	cmd.PersistentFlags().StringVar(&opts.Receipts, "receipts", filepath.Join(defaultDir, "receipts.json"), "local receipts ledger")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRegisterCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewInstantiateCommand(opts))
	cmd.AddCommand(NewStoreCommand(opts))
	cmd.AddCommand(NewRetrieveCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewReceiptsCommand(opts))

	return cmd
}

func dial(opts *RootOptions, anonymous bool) (*client.API, error) {
	creds := client.CredentialsIn(opts.CertDir)
	if anonymous {
		httpClient, err := client.AnonymousClient(creds.CAFile)
		if err != nil {
			return nil, err
		}
		return client.NewAPI(httpClient, opts.Server), nil
	}
	httpClient, err := client.LoadClientCertificate(creds)
	if err != nil {
		return nil, err
	}
	return client.NewAPI(httpClient, opts.Server), nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// emit writes v as JSON, or text as is, depending on the format flag.
func (o *RootOptions) emit(w io.Writer, v any, text string) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}
