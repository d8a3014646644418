package user

import (
	"context"

	"siniopay/internal/account"
)

type Repository interface {
	// CreateWithWallet inserts the user and opens their wallet account in one
	// database transaction.
	CreateWithWallet(ctx context.Context, name, email, passwordHash, role, currency string) (*User, account.Account, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
}
