// Package config provides functionality for managing configuration options
// for the application using command-line flags, a JSON or YAML config file
// and environment variables.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageLevelDB  = "leveldb"
	StorageMemory   = "memory"
)

// Duration is a time.Duration that reads and writes as "5s", "1m" and so on
// in flags and config files.
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Options holds the configuration values for the application.
type Options struct {
	// Address defines the server's listening address (ip:port).
	Address string `json:"address" yaml:"address"`

	// Storage selects the backend: postgres, leveldb or memory.
	Storage string `json:"storage" yaml:"storage"`

	// DatabaseDSN holds the PostgreSQL connection string.
	DatabaseDSN string `json:"database_dsn" yaml:"database_dsn"`

	// LevelDBPath is the directory of the LevelDB database.
	LevelDBPath string `json:"leveldb_path" yaml:"leveldb_path"`

	// CertDir holds ca.crt, ca.key, server.crt and server.key.
	CertDir string `json:"cert_dir" yaml:"cert_dir"`

	// KeyHex is the hex encoded 32-byte encryption key.
	KeyHex string `json:"key" yaml:"key"`
	// KeyFile is a path to the encryption key (raw 32 bytes or hex).
	KeyFile string `json:"key_file" yaml:"key_file"`
	// Passphrase derives the encryption key with argon2id.
	Passphrase string `json:"passphrase" yaml:"passphrase"`
	// Salt is the argon2id salt used with Passphrase.
	Salt string `json:"salt" yaml:"salt"`

	// Cipher is the AEAD algorithm: aes-256-gcm or chacha20-poly1305.
	Cipher string `json:"cipher" yaml:"cipher"`
	// NonceMode is key-id or fixed.
	NonceMode string `json:"nonce_mode" yaml:"nonce_mode"`

	// BlockInterval is the duration of one block.
	BlockInterval Duration `json:"block_interval" yaml:"block_interval"`
	// Genesis is the start of block 1. Zero means process start.
	Genesis time.Time `json:"genesis" yaml:"genesis"`

	// LogLevel is the minimum zap level.
	LogLevel string `json:"log_level" yaml:"log_level"`
	// ReportInterval is how often record counts are logged. Zero disables reporting.
	ReportInterval Duration `json:"report_interval" yaml:"report_interval"`

	// Config is the path to the config file.
	Config string `json:"-" yaml:"-"`
}

// Parse parses the command-line flags and environment variables to set
// configuration values. It returns a pointer to the Options struct containing
// the parsed configuration values. Invalid configuration is fatal.
func Parse() *Options {
	opts, err := Load(os.Args[1:], os.Getenv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return opts
}

// Load builds Options from args, then the config file, then the environment.
// Later sources override earlier ones.
func Load(args []string, getenv func(string) string) (*Options, error) {
	opts := &Options{}

	fs := flag.NewFlagSet("keyescrow", flag.ContinueOnError)
	fs.StringVar(&opts.Address, "a", "localhost:8443", "run on ip:port server")
	fs.StringVar(&opts.Storage, "storage", StoragePostgres, "storage backend: postgres, leveldb or memory")
	fs.StringVar(&opts.DatabaseDSN, "d", "", "db address")
	fs.StringVar(&opts.LevelDBPath, "leveldb", "escrow.db", "leveldb directory")
	fs.StringVar(&opts.CertDir, "certs", "certs", "directory with CA and server certificates")
	fs.StringVar(&opts.KeyHex, "key", "", "hex encoded 32-byte encryption key")
	fs.StringVar(&opts.KeyFile, "key-file", "", "path to encryption key file")
	fs.StringVar(&opts.Passphrase, "passphrase", "", "derive the encryption key from a passphrase")
	fs.StringVar(&opts.Salt, "salt", "", "salt for passphrase derivation")
	fs.StringVar(&opts.Cipher, "cipher", "aes-256-gcm", "AEAD algorithm")
	fs.StringVar(&opts.NonceMode, "nonce", "key-id", "nonce mode: key-id or fixed")
	fs.TextVar(&opts.BlockInterval, "block-interval", Duration{5 * time.Second}, "block duration")
	fs.TextVar(&opts.Genesis, "genesis", time.Time{}, "genesis time (RFC 3339)")
	fs.StringVar(&opts.LogLevel, "log-level", "info", "log level")
	fs.TextVar(&opts.ReportInterval, "report-interval", Duration{time.Minute}, "record stats interval, 0 disables")
	fs.StringVar(&opts.Config, "config", "config.json", "path to config file")
	fs.StringVar(&opts.Config, "c", "config.json", "path to config file (shorthand)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Override flags with environment variables if set
	if configPath := getenv("CONFIG"); configPath != "" {
		opts.Config = configPath
	}

	if opts.Config != "" {
		if err := loadFile(opts.Config, opts); err != nil {
			return nil, err
		}
	}

	env := []struct {
		name string
		dst  *string
	}{
		{"SERVER_ADDRESS", &opts.Address},
		{"DATABASE_DSN", &opts.DatabaseDSN},
		{"ESCROW_STORAGE", &opts.Storage},
		{"ESCROW_KEY", &opts.KeyHex},
		{"ESCROW_KEY_FILE", &opts.KeyFile},
		{"ESCROW_PASSPHRASE", &opts.Passphrase},
		{"ESCROW_SALT", &opts.Salt},
		{"LOG_LEVEL", &opts.LogLevel},
	}
	for _, e := range env {
		if v := getenv(e.name); v != "" {
			*e.dst = v
		}
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// Validate reports options that cannot work together.
func (o *Options) Validate() error {
	switch o.Storage {
	case StoragePostgres:
		if o.DatabaseDSN == "" {
			return errors.New("postgres storage requires a database DSN")
		}
	case StorageLevelDB:
		if o.LevelDBPath == "" {
			return errors.New("leveldb storage requires a path")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown storage %q", o.Storage)
	}
	if o.BlockInterval.Duration <= 0 {
		return errors.New("block interval must be positive")
	}
	if o.ReportInterval.Duration < 0 {
		return errors.New("report interval must not be negative")
	}
	return nil
}

// loadFile merges the config file at path into opts. A missing file is ignored.
func loadFile(path string, opts *Options) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error while reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, opts)
	default:
		err = json.Unmarshal(data, opts)
	}
	if err != nil {
		return fmt.Errorf("error while parsing config file: %w", err)
	}
	return nil
}
