package service

import (
	"context"
	"errors"
	"testing"
)

type mockAccountRepo struct {
	AccountExistsFunc   func(ctx context.Context, login string) (bool, error)
	RegisterAccountFunc func(ctx context.Context, login string) error
}

func (m *mockAccountRepo) AccountExists(ctx context.Context, login string) (bool, error) {
	return m.AccountExistsFunc(ctx, login)
}
func (m *mockAccountRepo) RegisterAccount(ctx context.Context, login string) error {
	return m.RegisterAccountFunc(ctx, login)
}

func TestAccountExists(t *testing.T) {
	dbErr := errors.New("db error")
	cases := []struct {
		name    string
		exists  bool
		repoErr error
	}{
		{"exists", true, nil},
		{"missing", false, nil},
		{"repo error", false, dbErr},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &mockAccountRepo{
				AccountExistsFunc: func(ctx context.Context, login string) (bool, error) {
					if login != "bob" {
						t.Errorf("AccountExists received login = %q; want %q", login, "bob")
					}
					return tc.exists, tc.repoErr
				},
			}
			svc := NewAccountService(repo)

			got, err := svc.AccountExists(context.Background(), "bob")
			if !errors.Is(err, tc.repoErr) {
				t.Fatalf("AccountExists error = %v; want %v", err, tc.repoErr)
			}
			if got != tc.exists {
				t.Errorf("AccountExists = %v; want %v", got, tc.exists)
			}
		})
	}
}

func TestRegisterAccount_Success(t *testing.T) {
	called := false
	repo := &mockAccountRepo{
		RegisterAccountFunc: func(ctx context.Context, login string) error {
			called = true
			if login != "carol" {
				t.Errorf("RegisterAccount received login = %q; want %q", login, "carol")
			}
			return nil
		},
	}
	svc := NewAccountService(repo)

	if err := svc.RegisterAccount(context.Background(), "carol"); err != nil {
		t.Fatalf("RegisterAccount returned error: %v", err)
	}
	if !called {
		t.Fatal("expected RegisterAccount to be called on repo")
	}
}

func TestRegisterAccount_Error(t *testing.T) {
	wantErr := errors.New("insert failed")
	repo := &mockAccountRepo{
		RegisterAccountFunc: func(ctx context.Context, login string) error {
			return wantErr
		},
	}
	svc := NewAccountService(repo)

	if err := svc.RegisterAccount(context.Background(), "dave"); !errors.Is(err, wantErr) {
		t.Fatalf("RegisterAccount error = %v; want %v", err, wantErr)
	}
}
