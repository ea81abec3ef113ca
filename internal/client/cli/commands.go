package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/atinyakov/keyescrow/internal/client"
	"github.com/atinyakov/keyescrow/internal/models"
)

func parseKeyID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid key id %q", s)
	}
	return id, nil
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register <login>",
		Short: "Register an account and save its client certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := opts.connect(opts, true)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(opts.CertDir, 0o700); err != nil {
				return err
			}
			creds := client.CredentialsIn(opts.CertDir)
			if err := client.Register(cmd.Context(), api.HTTP, api.BaseURL, args[0], creds); err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(),
				map[string]string{"account": args[0], "cert": creds.CertFile, "key": creds.KeyFile},
				"✅ Registration successful. Certificate and key saved to "+opts.CertDir)
		},
	}
}

// NewLoginCommand creates the login command.
func NewLoginCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Check that the client certificate belongs to a registered account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := opts.connect(opts, false)
			if err != nil {
				return err
			}
			account, err := api.Login(cmd.Context())
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), map[string]string{"account": account}, "logged in as "+account)
		},
	}
}

// NewInstantiateCommand creates the instantiate command.
func NewInstantiateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "instantiate <broadcast>",
		Short: "Configure a fresh escrow with a broadcast message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := opts.connect(opts, false)
			if err != nil {
				return err
			}
			res, err := api.Instantiate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			owner, _ := res.Get("owner")
			return opts.emit(cmd.OutOrStdout(), res, "instantiated, owner "+owner)
		},
	}
}

// NewStoreCommand creates the store command.
func NewStoreCommand(opts *RootOptions) *cobra.Command {
	var recipient, secret string

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Escrow a secret for a recipient",
		Long: `Escrow a secret for a recipient.

Without --secret the secret is read from standard input, without echo
when it is a terminal. The returned key id is the current block height;
two stores in the same block collide and the second one fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("secret") {
				var err error
				secret, err = client.ReadSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), "Secret: ")
				if err != nil {
					return err
				}
			}

			api, err := opts.connect(opts, false)
			if err != nil {
				return err
			}
			keyID, err := api.StoreKey(cmd.Context(), secret, recipient)
			if err != nil {
				return err
			}

			receipts, err := client.OpenReceipts(opts.Receipts)
			if err != nil {
				return err
			}
			receipts.Add(client.Receipt{
				KeyID:     keyID,
				Recipient: recipient,
				Server:    opts.Server,
				StoredAt:  time.Now().UTC(),
			})
			if err := receipts.Save(); err != nil {
				return fmt.Errorf("save receipt: %w", err)
			}

			return opts.emit(cmd.OutOrStdout(), map[string]uint64{"key_id": keyID}, fmt.Sprintf("stored under key id %d", keyID))
		},
	}

	cmd.Flags().StringVarP(&recipient, "recipient", "r", "", "account the secret is meant for")
	cmd.Flags().StringVar(&secret, "secret", "", "secret to store (read from stdin when omitted)")
	_ = cmd.MarkFlagRequired("recipient")

	return cmd
}

// NewRetrieveCommand creates the retrieve command.
func NewRetrieveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retrieve <key-id>",
		Short: "Decrypt an escrowed secret and mark it retrieved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keyID, err := parseKeyID(args[0])
			if err != nil {
				return err
			}
			api, err := opts.connect(opts, false)
			if err != nil {
				return err
			}
			secret, err := api.RetrieveKey(cmd.Context(), keyID)
			if err != nil {
				return err
			}

			markRetrieved(cmd, opts, keyID)

			return opts.emit(cmd.OutOrStdout(), map[string]any{"key_id": keyID, "key": secret}, secret)
		},
	}
}

func formatDetails(d *models.KeyDetails) string {
	var b strings.Builder
	fmt.Fprintf(&b, "key id:     %d\n", d.KeyID)
	fmt.Fprintf(&b, "creator:    %s\n", d.Creator)
	fmt.Fprintf(&b, "recipient:  %s\n", d.Recipient)
	fmt.Fprintf(&b, "stored at:  %s\n", d.Timestamp.Time().Format(time.RFC3339))
	fmt.Fprintf(&b, "retrieved:  %t\n", d.Retrieved)
	fmt.Fprintf(&b, "ciphertext: %d bytes\n", len(d.Ciphertext))
	fmt.Fprintf(&b, "broadcast:  %s", d.Broadcast)
	return b.String()
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(opts *RootOptions) *cobra.Command {
	var legacy bool

	cmd := &cobra.Command{
		Use:   "inspect <key-id>",
		Short: "Show record metadata without decrypting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keyID, err := parseKeyID(args[0])
			if err != nil {
				return err
			}
			api, err := opts.connect(opts, true)
			if err != nil {
				return err
			}

			if legacy {
				res, err := api.LegacyKeyDetails(cmd.Context(), keyID)
				if err != nil {
					return err
				}
				lines := make([]string, 0, len(res.Attributes))
				for _, a := range res.Attributes {
					lines = append(lines, a.Key+"="+a.Value)
				}
				return opts.emit(cmd.OutOrStdout(), res, strings.Join(lines, "\n"))
			}

			details, err := api.KeyDetails(cmd.Context(), keyID)
			if err != nil {
				return err
			}
			return opts.emit(cmd.OutOrStdout(), details, formatDetails(details))
		},
	}

	cmd.Flags().BoolVar(&legacy, "legacy", false, "print the attribute form")
	return cmd
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch <key-id>",
		Short: "Wait until a stored secret has been retrieved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keyID, err := parseKeyID(args[0])
			if err != nil {
				return err
			}
			if interval <= 0 {
				return fmt.Errorf("interval must be positive")
			}
			api, err := opts.connect(opts, true)
			if err != nil {
				return err
			}

			details, err := client.Watch(cmd.Context(), api, keyID, interval, nil)
			if err != nil {
				return err
			}
			markRetrieved(cmd, opts, keyID)
			return opts.emit(cmd.OutOrStdout(), details, fmt.Sprintf("key id %d has been retrieved", keyID))
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "poll interval")
	return cmd
}

// NewReceiptsCommand creates the receipts command.
func NewReceiptsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "receipts",
		Short: "List keys stored from this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			receipts, err := client.OpenReceipts(opts.Receipts)
			if err != nil {
				return err
			}
			list := receipts.List()
			if opts.Format == "json" {
				return opts.emit(cmd.OutOrStdout(), list, "")
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY ID\tRECIPIENT\tSTORED AT\tRETRIEVED\tSERVER")
			for _, r := range list {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\n", r.KeyID, r.Recipient, r.StoredAt.Format(time.RFC3339), r.Retrieved, r.Server)
			}
			return tw.Flush()
		},
	}
}

// markRetrieved flags the local receipt for keyID. The secret has already
// been released by the server, so ledger failures only produce a warning.
func markRetrieved(cmd *cobra.Command, opts *RootOptions, keyID uint64) {
	receipts, err := client.OpenReceipts(opts.Receipts)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: cannot read receipts: %v\n", err)
		return
	}
	if !receipts.MarkRetrieved(opts.Server, keyID) {
		return
	}
	if err := receipts.Save(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: cannot update receipts: %v\n", err)
	}
}
