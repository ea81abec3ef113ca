package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atinyakov/keyescrow/internal/models"
)

// MemoryRepository keeps escrow state in process memory. Each instance is
// independent, so tests can run many side by side. Atomic calls are
// serialised and writes are staged until the unit of work succeeds.
type MemoryRepository struct {
	mu       sync.Mutex
	config   *models.Config
	records  map[uint64]*models.EncryptedRecord
	accounts map[string]models.Account
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records:  make(map[uint64]*models.EncryptedRecord),
		accounts: make(map[string]models.Account),
	}
}

// Atomic runs fn against a staged view and applies its writes only if fn returns nil.
func (r *MemoryRepository) Atomic(ctx context.Context, fn AtomicFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := &memoryState{base: r, records: make(map[uint64]*models.EncryptedRecord)}
	if err := fn(ctx, st); err != nil {
		return err
	}
	for id, rec := range st.records {
		r.records[id] = rec
	}
	if st.config != nil {
		r.config = st.config
	}
	return nil
}

// RecordStats counts stored and retrieved records.
func (r *MemoryRepository) RecordStats(ctx context.Context) (models.RecordStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := models.RecordStats{Total: int64(len(r.records))}
	for _, rec := range r.records {
		if rec.Retrieved {
			stats.Retrieved++
		}
	}
	return stats, nil
}

// AccountExists reports whether login is registered.
func (r *MemoryRepository) AccountExists(ctx context.Context, login string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.accounts[login]
	return ok, nil
}

// RegisterAccount registers login. An existing login is left untouched and
// reported as models.ErrAlreadyExists.
func (r *MemoryRepository) RegisterAccount(ctx context.Context, login string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[login]; ok {
		return fmt.Errorf("account %q: %w", login, models.ErrAlreadyExists)
	}
	r.accounts[login] = models.Account{Login: login, CreatedAt: time.Now().UTC()}
	return nil
}

// memoryState is the staged view used inside one Atomic call.
type memoryState struct {
	base    *MemoryRepository
	config  *models.Config
	records map[uint64]*models.EncryptedRecord
}

func (s *memoryState) lookup(keyID uint64) (*models.EncryptedRecord, bool) {
	if rec, ok := s.records[keyID]; ok {
		return rec, true
	}
	rec, ok := s.base.records[keyID]
	return rec, ok
}

func (s *memoryState) RecordExists(ctx context.Context, keyID uint64) (bool, error) {
	_, ok := s.lookup(keyID)
	return ok, nil
}

func (s *memoryState) InsertRecord(ctx context.Context, rec *models.EncryptedRecord) error {
	if _, ok := s.lookup(rec.KeyID); ok {
		return models.ErrAlreadyExists
	}
	s.records[rec.KeyID] = cloneRecord(rec)
	return nil
}

func (s *memoryState) LoadRecord(ctx context.Context, keyID uint64) (*models.EncryptedRecord, error) {
	rec, ok := s.lookup(keyID)
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *memoryState) OverwriteRecord(ctx context.Context, rec *models.EncryptedRecord) error {
	if _, ok := s.lookup(rec.KeyID); !ok {
		return models.ErrNotFound
	}
	s.records[rec.KeyID] = cloneRecord(rec)
	return nil
}

func (s *memoryState) InitConfig(ctx context.Context, cfg models.Config) error {
	if s.config != nil || s.base.config != nil {
		return models.ErrAlreadyInitialized
	}
	c := cfg
	s.config = &c
	return nil
}

func (s *memoryState) LoadConfig(ctx context.Context) (*models.Config, error) {
	cfg := s.config
	if cfg == nil {
		cfg = s.base.config
	}
	if cfg == nil {
		return nil, models.ErrNotFound
	}
	c := *cfg
	return &c, nil
}
