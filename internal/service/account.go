// Package service provides account registration logic,
// delegating persistence to an AccountRepository.
package service

import (
	"context"
)

// AccountRepository defines the persistence operations
// required by the account service.
type AccountRepository interface {
	// AccountExists returns true if an account with the given login exists.
	AccountExists(ctx context.Context, login string) (bool, error)
	// RegisterAccount creates a new account record with the given login.
	RegisterAccount(ctx context.Context, login string) error
}

// AccountService implements account operations by delegating
// to an AccountRepository.
type AccountService struct {
	repo AccountRepository
}

// NewAccountService constructs a new AccountService using the provided repository.
func NewAccountService(repo AccountRepository) *AccountService {
	return &AccountService{repo: repo}
}

// AccountExists checks whether an account with the specified login exists.
func (s *AccountService) AccountExists(ctx context.Context, login string) (bool, error) {
	return s.repo.AccountExists(ctx, login)
}

// RegisterAccount registers a new account with the given login.
func (s *AccountService) RegisterAccount(ctx context.Context, login string) error {
	return s.repo.RegisterAccount(ctx, login)
}
