package account

import (
	"context"

	"github.com/shopspring/decimal"
)

type Repository interface {
	FindByOwner(ctx context.Context, ownerID string) (Account, error)
	FindByID(ctx context.Context, id string) (Account, error)
	FindByNumber(ctx context.Context, accountNumber string) (Account, error)
	// GetForUpdate holds an exclusive lock on the row until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id string) (Account, error)
	ApplyBalanceDelta(ctx context.Context, id string, delta decimal.Decimal) (Account, error)
	Create(ctx context.Context, ownerID, currency string) (Account, error)
	UpdateStatus(ctx context.Context, id string, status Status) (Account, error)
}
