// Package service implements the escrow record lifecycle on top of a
// storage repository and a cipher.
//
// Every record moves Absent → Stored → Retrieved. There is no way back to
// Absent and no way to reach Retrieved without passing through Stored.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/atinyakov/keyescrow/internal/chain"
	"github.com/atinyakov/keyescrow/internal/models"
	"github.com/atinyakov/keyescrow/internal/repository"
)

// EscrowRepository runs units of work against escrow storage with
// all-or-nothing write semantics.
type EscrowRepository interface {
	Atomic(ctx context.Context, fn repository.AtomicFunc) error
}

// Cipher seals and opens secrets. Implementations must return typed errors
// on integrity or decoding failures rather than panic.
type Cipher interface {
	Encrypt(keyID uint64, plaintext string) ([]byte, error)
	Decrypt(keyID uint64, ciphertext []byte) (string, error)
}

// EscrowService stores, retrieves and describes escrowed secrets.
type EscrowService struct {
	repo   EscrowRepository
	cipher Cipher
	log    *zap.Logger
}

// NewEscrowService constructs an EscrowService. A nil logger is replaced by a no-op logger.
func NewEscrowService(repo EscrowRepository, cipher Cipher, log *zap.Logger) *EscrowService {
	if log == nil {
		log = zap.NewNop()
	}
	return &EscrowService{repo: repo, cipher: cipher, log: log}
}

// StoreRequest carries the arguments of StoreKey.
type StoreRequest struct {
	// Creator is the calling account.
	Creator string
	// Secret is the plaintext to escrow.
	Secret string
	// Recipient is recorded but not enforced on retrieval.
	Recipient string
	// Block is the current block; its height becomes the key id.
	Block chain.Block
}

// Instantiate writes the config singleton.
func (s *EscrowService) Instantiate(ctx context.Context, creator, broadcast string) (*models.Config, error) {
	cfg := models.Config{Creator: creator, Broadcast: broadcast}
	err := s.repo.Atomic(ctx, func(ctx context.Context, st repository.State) error {
		return st.InitConfig(ctx, cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("instantiate: %w", err)
	}
	s.log.Info("escrow instantiated", zap.String("creator", creator))
	return &cfg, nil
}

// StoreKey encrypts the secret and files it under the current block height.
// A second store within the same block fails with models.ErrAlreadyExists;
// the occupied slot is never merged or moved.
func (s *EscrowService) StoreKey(ctx context.Context, req StoreRequest) (uint64, error) {
	keyID := req.Block.Height

	err := s.repo.Atomic(ctx, func(ctx context.Context, st repository.State) error {
		exists, err := st.RecordExists(ctx, keyID)
		if err != nil {
			return err
		}
		if exists {
			return models.ErrAlreadyExists
		}

		ciphertext, err := s.cipher.Encrypt(keyID, req.Secret)
		if err != nil {
			return fmt.Errorf("encrypt: %w", err)
		}

		return st.InsertRecord(ctx, &models.EncryptedRecord{
			KeyID:      keyID,
			Creator:    req.Creator,
			Timestamp:  req.Block.Time,
			Recipient:  req.Recipient,
			Retrieved:  false,
			Ciphertext: ciphertext,
		})
	})
	if err != nil {
		if errors.Is(err, models.ErrAlreadyExists) {
			s.log.Warn("key id collision", zap.Uint64("key_id", keyID), zap.String("creator", req.Creator))
		}
		return 0, fmt.Errorf("store key %d: %w", keyID, err)
	}

	s.log.Info("key stored",
		zap.Uint64("key_id", keyID),
		zap.String("creator", req.Creator),
		zap.String("recipient", req.Recipient),
	)
	return keyID, nil
}

// RetrieveKey decrypts the record filed under keyID and marks it retrieved.
// Retrieving an already retrieved record succeeds and returns the same plaintext.
func (s *EscrowService) RetrieveKey(ctx context.Context, keyID uint64) (string, error) {
	var (
		plaintext string
		first     bool
	)
	err := s.repo.Atomic(ctx, func(ctx context.Context, st repository.State) error {
		rec, err := st.LoadRecord(ctx, keyID)
		if err != nil {
			return err
		}

		plaintext, err = s.cipher.Decrypt(keyID, rec.Ciphertext)
		if err != nil {
			return fmt.Errorf("decrypt: %w", err)
		}

		first = !rec.Retrieved
		rec.Retrieved = true
		return st.OverwriteRecord(ctx, rec)
	})
	if err != nil {
		return "", fmt.Errorf("retrieve key %d: %w", keyID, err)
	}

	s.log.Info("key retrieved", zap.Uint64("key_id", keyID), zap.Bool("first_retrieval", first))
	return plaintext, nil
}

// KeyDetails returns the record filed under keyID joined with the config
// broadcast. It never decrypts and never changes the record.
func (s *EscrowService) KeyDetails(ctx context.Context, keyID uint64) (*models.KeyDetails, error) {
	var details models.KeyDetails
	err := s.repo.Atomic(ctx, func(ctx context.Context, st repository.State) error {
		rec, err := st.LoadRecord(ctx, keyID)
		if err != nil {
			return err
		}
		cfg, err := st.LoadConfig(ctx)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		details = models.KeyDetails{EncryptedRecord: *rec, Broadcast: cfg.Broadcast}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("key details %d: %w", keyID, err)
	}
	return &details, nil
}
