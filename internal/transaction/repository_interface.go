package transaction

import "context"

type Repository interface {
	Insert(ctx context.Context, tx Transaction) (Transaction, error)
	FindByID(ctx context.Context, id string) (Transaction, error)
	GetForUpdate(ctx context.Context, id string) (Transaction, error)
	// UpdateStatus only applies legal state transitions. A non-empty reviewer
	// stamps reviewed_by and reviewed_at.
	UpdateStatus(ctx context.Context, id string, status Status, reviewer string) (Transaction, error)
	FindByAccount(ctx context.Context, accountID string, limit, offset int) ([]Transaction, error)
}
