package repository

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	ldb_util "github.com/syndtr/goleveldb/leveldb/util"

	"github.com/atinyakov/keyescrow/internal/codec"
	"github.com/atinyakov/keyescrow/internal/models"
)

// key prefixes of the LevelDB pools
const (
	prefixConfig  byte = 'C'
	prefixRecord  byte = 'R'
	prefixAccount byte = 'A'
)

// LevelDBRepository stores escrow state in an embedded LevelDB database.
// Values are CBOR encoded; record keys are the prefix followed by the
// big-endian key id, so records iterate in key id order.
type LevelDBRepository struct {
	db *leveldb.DB
}

// OpenLevelDB opens or creates the database at path.
func OpenLevelDB(path string) (*LevelDBRepository, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &LevelDBRepository{db: db}, nil
}

// Close closes the database.
func (r *LevelDBRepository) Close() error {
	return r.db.Close()
}

func recordKey(keyID uint64) []byte {
	key := make([]byte, 9)
	key[0] = prefixRecord
	binary.BigEndian.PutUint64(key[1:], keyID)
	return key
}

func accountKey(login string) []byte {
	return append([]byte{prefixAccount}, login...)
}

// Atomic runs fn inside a LevelDB transaction. Only one transaction is open
// at a time; the writes are committed if fn returns nil and discarded otherwise.
func (r *LevelDBRepository) Atomic(ctx context.Context, fn AtomicFunc) error {
	tr, err := r.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("open transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tr.Discard()
			panic(p)
		}
	}()

	if err := fn(ctx, &levelState{tr: tr}); err != nil {
		tr.Discard()
		return err
	}
	if err := tr.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RecordStats counts stored and retrieved records.
func (r *LevelDBRepository) RecordStats(ctx context.Context) (models.RecordStats, error) {
	iter := r.db.NewIterator(ldb_util.BytesPrefix([]byte{prefixRecord}), nil)
	defer iter.Release()

	var stats models.RecordStats
	for iter.Next() {
		var rec models.EncryptedRecord
		if err := codec.Unmarshal(iter.Value(), &rec); err != nil {
			return models.RecordStats{}, fmt.Errorf("decode record %x: %w", iter.Key(), err)
		}
		stats.Total++
		if rec.Retrieved {
			stats.Retrieved++
		}
	}
	if err := iter.Error(); err != nil {
		return models.RecordStats{}, fmt.Errorf("iterate records: %w", err)
	}
	return stats, nil
}

// AccountExists reports whether login is registered.
func (r *LevelDBRepository) AccountExists(ctx context.Context, login string) (bool, error) {
	return r.db.Has(accountKey(login), nil)
}

// RegisterAccount registers login. An existing login is left untouched and
// reported as models.ErrAlreadyExists.
func (r *LevelDBRepository) RegisterAccount(ctx context.Context, login string) error {
	tr, err := r.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("open transaction: %w", err)
	}
	key := accountKey(login)
	exists, err := tr.Has(key, nil)
	if err != nil {
		tr.Discard()
		return err
	}
	if exists {
		tr.Discard()
		return fmt.Errorf("account %q: %w", login, models.ErrAlreadyExists)
	}
	value, err := codec.Marshal(models.Account{Login: login, CreatedAt: time.Now().UTC()})
	if err != nil {
		tr.Discard()
		return fmt.Errorf("encode account: %w", err)
	}
	if err := tr.Put(key, value, nil); err != nil {
		tr.Discard()
		return err
	}
	return tr.Commit()
}

// levelState implements State over an open LevelDB transaction.
type levelState struct {
	tr *leveldb.Transaction
}

func (s *levelState) RecordExists(ctx context.Context, keyID uint64) (bool, error) {
	return s.tr.Has(recordKey(keyID), nil)
}

func (s *levelState) InsertRecord(ctx context.Context, rec *models.EncryptedRecord) error {
	key := recordKey(rec.KeyID)
	exists, err := s.tr.Has(key, nil)
	if err != nil {
		return err
	}
	if exists {
		return models.ErrAlreadyExists
	}
	return s.put(key, rec)
}

func (s *levelState) LoadRecord(ctx context.Context, keyID uint64) (*models.EncryptedRecord, error) {
	var rec models.EncryptedRecord
	if err := s.get(recordKey(keyID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *levelState) OverwriteRecord(ctx context.Context, rec *models.EncryptedRecord) error {
	key := recordKey(rec.KeyID)
	exists, err := s.tr.Has(key, nil)
	if err != nil {
		return err
	}
	if !exists {
		return models.ErrNotFound
	}
	return s.put(key, rec)
}

func (s *levelState) InitConfig(ctx context.Context, cfg models.Config) error {
	key := []byte{prefixConfig}
	exists, err := s.tr.Has(key, nil)
	if err != nil {
		return err
	}
	if exists {
		return models.ErrAlreadyInitialized
	}
	return s.put(key, cfg)
}

func (s *levelState) LoadConfig(ctx context.Context) (*models.Config, error) {
	var cfg models.Config
	if err := s.get([]byte{prefixConfig}, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *levelState) put(key []byte, v any) error {
	value, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %x: %w", key, err)
	}
	return s.tr.Put(key, value, nil)
}

func (s *levelState) get(key []byte, v any) error {
	value, err := s.tr.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return models.ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := codec.Unmarshal(value, v); err != nil {
		return fmt.Errorf("decode %x: %w", key, err)
	}
	return nil
}
