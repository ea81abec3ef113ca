package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/lib/pq"

	"github.com/atinyakov/keyescrow/internal/models"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint failure.
const uniqueViolation pq.ErrorCode = "23505"

// DBTX is the subset of database/sql used by PostgresState.
// Both *sql.DB and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresEscrowRepository stores records and the config singleton in PostgreSQL.
type PostgresEscrowRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresEscrowRepository creates a PostgresEscrowRepository using the provided *sql.DB.
// db must be a valid connection to a PostgreSQL instance with the escrow schema applied.
func NewPostgresEscrowRepository(db *sql.DB) *PostgresEscrowRepository {
	return &PostgresEscrowRepository{DB: db}
}

// Atomic runs fn inside a single transaction. The transaction is committed
// if fn returns nil and rolled back otherwise, so a failed call leaves no
// partial writes.
func (r *PostgresEscrowRepository) Atomic(ctx context.Context, fn AtomicFunc) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, NewPostgresState(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RecordStats counts stored and retrieved records.
func (r *PostgresEscrowRepository) RecordStats(ctx context.Context) (models.RecordStats, error) {
	var stats models.RecordStats
	err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE retrieved) FROM encrypted_records
	`).Scan(&stats.Total, &stats.Retrieved)
	if err != nil {
		return models.RecordStats{}, fmt.Errorf("RecordStats failed: %w", err)
	}
	return stats, nil
}

// PostgresState implements State over a DBTX.
type PostgresState struct {
	db DBTX
}

// NewPostgresState binds a State to db, usually a *sql.Tx.
func NewPostgresState(db DBTX) *PostgresState {
	return &PostgresState{db: db}
}

// keyParam converts a key id to a BIGINT parameter. Ids above MaxInt64
// cannot be stored.
func keyParam(keyID uint64) (int64, bool) {
	if keyID > math.MaxInt64 {
		return 0, false
	}
	return int64(keyID), true
}

// RecordExists reports whether a record is filed under keyID.
func (s *PostgresState) RecordExists(ctx context.Context, keyID uint64) (bool, error) {
	id, ok := keyParam(keyID)
	if !ok {
		return false, nil
	}
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM encrypted_records WHERE key_id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("RecordExists: %w", err)
	}
	return exists, nil
}

// InsertRecord writes a new record. The primary key guards uniqueness even
// when two transactions race past RecordExists.
func (s *PostgresState) InsertRecord(ctx context.Context, rec *models.EncryptedRecord) error {
	id, ok := keyParam(rec.KeyID)
	if !ok {
		return fmt.Errorf("key id %d out of range: %w", rec.KeyID, models.ErrInvalidMessage)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO encrypted_records (key_id, creator, recipient, timestamp_ns, retrieved, ciphertext)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, rec.Creator, rec.Recipient, int64(rec.Timestamp), rec.Retrieved, rec.Ciphertext)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return models.ErrAlreadyExists
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// LoadRecord returns the record filed under keyID.
func (s *PostgresState) LoadRecord(ctx context.Context, keyID uint64) (*models.EncryptedRecord, error) {
	id, ok := keyParam(keyID)
	if !ok {
		return nil, models.ErrNotFound
	}
	var (
		rec  models.EncryptedRecord
		kid  int64
		tsNs int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT key_id, creator, recipient, timestamp_ns, retrieved, ciphertext
		FROM encrypted_records WHERE key_id = $1
	`, id).Scan(&kid, &rec.Creator, &rec.Recipient, &tsNs, &rec.Retrieved, &rec.Ciphertext)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	rec.KeyID = uint64(kid)
	rec.Timestamp = models.Timestamp(tsNs)
	return &rec, nil
}

// OverwriteRecord replaces the stored value of an existing record.
func (s *PostgresState) OverwriteRecord(ctx context.Context, rec *models.EncryptedRecord) error {
	id, ok := keyParam(rec.KeyID)
	if !ok {
		return models.ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE encrypted_records
		SET creator = $2, recipient = $3, timestamp_ns = $4, retrieved = $5, ciphertext = $6
		WHERE key_id = $1
	`, id, rec.Creator, rec.Recipient, int64(rec.Timestamp), rec.Retrieved, rec.Ciphertext)
	if err != nil {
		return fmt.Errorf("overwrite record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// InitConfig writes the config singleton once.
func (s *PostgresState) InitConfig(ctx context.Context, cfg models.Config) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO escrow_config (id, creator, broadcast) VALUES (1, $1, $2)
		ON CONFLICT (id) DO NOTHING
	`, cfg.Creator, cfg.Broadcast)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrAlreadyInitialized
	}
	return nil
}

// LoadConfig returns the config singleton.
func (s *PostgresState) LoadConfig(ctx context.Context) (*models.Config, error) {
	var cfg models.Config
	err := s.db.QueryRowContext(ctx,
		`SELECT creator, broadcast FROM escrow_config WHERE id = 1`,
	).Scan(&cfg.Creator, &cfg.Broadcast)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}
