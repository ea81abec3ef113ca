package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/atinyakov/keyescrow/internal/models"
)

// PostgresAccountRepository implements the account registry using a PostgreSQL database.
type PostgresAccountRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresAccountRepository creates a new PostgresAccountRepository with the given database connection.
// db must be a valid *sql.DB connected to a PostgreSQL instance.
func NewPostgresAccountRepository(db *sql.DB) *PostgresAccountRepository {
	return &PostgresAccountRepository{DB: db}
}

// AccountExists checks whether an account with the specified login exists in the database.
func (r *PostgresAccountRepository) AccountExists(ctx context.Context, login string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(
		ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE login = $1)`,
		login,
	).Scan(&exists)
	return exists, err
}

// RegisterAccount inserts a new account with the given login.
// It returns models.ErrAlreadyExists if the login is already taken.
func (r *PostgresAccountRepository) RegisterAccount(ctx context.Context, login string) error {
	res, err := r.DB.ExecContext(
		ctx,
		`INSERT INTO accounts (login) VALUES ($1) ON CONFLICT DO NOTHING`,
		login,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %q: %w", login, models.ErrAlreadyExists)
	}
	return nil
}
