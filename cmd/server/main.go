// Package main initializes and starts the key escrow HTTPS server,
// setting up configuration, logging, storage, the block clock, services,
// handlers and TLS.
package main

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/keyescrow/internal/certgen"
	"github.com/atinyakov/keyescrow/internal/chain"
	"github.com/atinyakov/keyescrow/internal/config"
	"github.com/atinyakov/keyescrow/internal/contract"
	"github.com/atinyakov/keyescrow/internal/cryptox"
	"github.com/atinyakov/keyescrow/internal/db"
	"github.com/atinyakov/keyescrow/internal/logger"
	"github.com/atinyakov/keyescrow/internal/repository"
	"github.com/atinyakov/keyescrow/internal/server/handler/http"
	"github.com/atinyakov/keyescrow/internal/service"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

// storage bundles the repositories of one backend.
type storage struct {
	escrow interface {
		service.EscrowRepository
		service.StatsSource
	}
	accounts service.AccountRepository
	close    func() error
}

func openStorage(ctx context.Context, options *config.Options) (*storage, error) {
	switch options.Storage {
	case config.StoragePostgres:
		pg, err := db.InitPostgres(ctx, options.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		return &storage{
			escrow:   repository.NewPostgresEscrowRepository(pg),
			accounts: repository.NewPostgresAccountRepository(pg),
			close:    pg.Close,
		}, nil
	case config.StorageLevelDB:
		ldb, err := repository.OpenLevelDB(options.LevelDBPath)
		if err != nil {
			return nil, err
		}
		return &storage{escrow: ldb, accounts: ldb, close: ldb.Close}, nil
	case config.StorageMemory:
		mem := repository.NewMemoryRepository()
		return &storage{escrow: mem, accounts: mem, close: func() error { return nil }}, nil
	default:
		return nil, fmt.Errorf("unknown storage %q", options.Storage)
	}
}

// newCipher loads the configured key. Without key material it falls back to
// the legacy built-in key.
func newCipher(options *config.Options, log *zap.Logger) (*cryptox.Cipher, error) {
	key, err := cryptox.LoadKey(cryptox.KeySource{
		Hex:        options.KeyHex,
		File:       options.KeyFile,
		Passphrase: options.Passphrase,
		Salt:       options.Salt,
	})
	if errors.Is(err, cryptox.ErrNoKeyMaterial) {
		log.Warn("no encryption key configured, using the legacy built-in key")
		key = cryptox.LegacyKey
	} else if err != nil {
		return nil, fmt.Errorf("load encryption key: %w", err)
	}
	if options.NonceMode == cryptox.NonceFixed {
		log.Warn("fixed nonce mode reuses one nonce for every record")
	}
	return cryptox.New(key, options.Cipher, options.NonceMode)
}

func main() {
	// Parse command-line and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, "failed to init logger:", err)
		os.Exit(1)
	}
	zapLogger := log.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, options, zapLogger); err != nil {
		zapLogger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, options *config.Options, zapLogger *zap.Logger) error {
	store, err := openStorage(ctx, options)
	if err != nil {
		return fmt.Errorf("cannot init storage: %w", err)
	}
	defer func() {
		if err := store.close(); err != nil {
			zapLogger.Error("failed to close storage", zap.Error(err))
		}
	}()

	cipher, err := newCipher(options, zapLogger)
	if err != nil {
		return err
	}

	genesis := options.Genesis
	if genesis.IsZero() {
		genesis = time.Now()
	}
	blocks := chain.NewIntervalSource(genesis, options.BlockInterval.Duration, chain.Real())

	if options.ReportInterval.Duration > 0 {
		service.StartStatsReporter(ctx, store.escrow, options.ReportInterval.Duration, zapLogger)
	}

	ca, err := certgen.LoadAuthority(options.CertDir)
	if err != nil {
		return fmt.Errorf("load CA: %w", err)
	}

	// Initialize business-logic services and the entry points on top of them.
	escrowService := service.NewEscrowService(store.escrow, cipher, zapLogger)
	accountService := service.NewAccountService(store.accounts)

	accountHandler := &http.AccountHandler{Accounts: accountService, Issuer: ca, Log: zapLogger}
	contractHandler := &http.ContractHandler{
		Contract: contract.New(escrowService),
		Blocks:   blocks,
		Log:      zapLogger,
	}
	router := http.NewRouter(accountHandler, contractHandler, zapLogger)

	cert, err := tls.LoadX509KeyPair(
		filepath.Join(options.CertDir, certgen.ServerCertFile),
		filepath.Join(options.CertDir, certgen.ServerKeyFile),
	)
	if err != nil {
		return fmt.Errorf("failed to load server TLS cert/key: %w", err)
	}

	// Verify client certificates when given; protected routes require one.
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.VerifyClientCertIfGiven,
		ClientCAs:    ca.CertPool(),
		MinVersion:   tls.VersionTLS12,
	}

	server := &nethttp.Server{
		Addr:              options.Address,
		Handler:           router,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(zapLogger),
	}

	errCh := make(chan error, 1)
	go func() {
		zapLogger.Info("starting HTTPS server",
			zap.String("addr", options.Address),
			zap.String("storage", options.Storage),
			zap.Duration("block_interval", options.BlockInterval.Duration),
		)
		errCh <- server.ListenAndServeTLS("", "")
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, nethttp.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	zapLogger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
