// Package repository provides the storage backends of the escrow: the
// keyed record map, the config singleton and the account registry, over
// PostgreSQL, LevelDB or process memory.
package repository

import (
	"context"

	"github.com/atinyakov/keyescrow/internal/models"
)

// State is the transactional view of escrow storage handed to the
// function passed to Atomic. Lookup is solely by key id; there are no
// secondary indices.
type State interface {
	// RecordExists reports whether a record is filed under keyID.
	RecordExists(ctx context.Context, keyID uint64) (bool, error)
	// InsertRecord writes a new record. It returns models.ErrAlreadyExists
	// if the key id is occupied.
	InsertRecord(ctx context.Context, rec *models.EncryptedRecord) error
	// LoadRecord returns the record filed under keyID or models.ErrNotFound.
	LoadRecord(ctx context.Context, keyID uint64) (*models.EncryptedRecord, error)
	// OverwriteRecord replaces an existing record or returns models.ErrNotFound.
	OverwriteRecord(ctx context.Context, rec *models.EncryptedRecord) error
	// InitConfig writes the config singleton. It returns
	// models.ErrAlreadyInitialized if it was already written.
	InitConfig(ctx context.Context, cfg models.Config) error
	// LoadConfig returns the config singleton or models.ErrNotFound.
	LoadConfig(ctx context.Context) (*models.Config, error)
}

// AtomicFunc is the unit of work run by Atomic.
type AtomicFunc func(ctx context.Context, st State) error

func cloneRecord(rec *models.EncryptedRecord) *models.EncryptedRecord {
	c := *rec
	c.Ciphertext = append([]byte(nil), rec.Ciphertext...)
	return &c
}
