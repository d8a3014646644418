package ledger

import (
	"context"

	"siniopay/internal/account"
	"siniopay/internal/transaction"
)

// Unit exposes the stores bound to one atomic unit of work. Rows locked
// through GetForUpdate stay locked until the unit commits or rolls back.
type Unit interface {
	Accounts() account.Repository
	Transactions() transaction.Repository
}

// UnitOfWork runs fn inside a single atomic unit. A nil return from fn
// commits; any error rolls every write back. Returned errors are mapped onto
// the ledger taxonomy.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, u Unit) error) error
}
