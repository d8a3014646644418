package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"siniopay/internal/account"
	"siniopay/internal/logger"
	"siniopay/internal/transaction"

	"github.com/jmoiron/sqlx"
)

type SQLUnitOfWork struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

func NewSQLUnitOfWork(db *sqlx.DB, lockTimeout time.Duration) *SQLUnitOfWork {
	return &SQLUnitOfWork{db: db, lockTimeout: lockTimeout}
}

type sqlUnit struct {
	accounts     account.Repository
	transactions transaction.Repository
}

func (u sqlUnit) Accounts() account.Repository         { return u.accounts }
func (u sqlUnit) Transactions() transaction.Repository { return u.transactions }

func (w *SQLUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, u Unit) error) error {
	tx, err := w.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("begin: %w", err))
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			logger.Warn("rollback failed", "error", err)
		}
	}()

	if w.lockTimeout > 0 {
		// SET does not accept bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", w.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return classify(fmt.Errorf("set lock timeout: %w", err))
		}
	}

	u := sqlUnit{
		accounts:     account.NewRepository(tx),
		transactions: transaction.NewRepository(tx),
	}
	if err := fn(ctx, u); err != nil {
		return classify(err)
	}

	if err := tx.Commit(); err != nil {
		committed = true
		return fmt.Errorf("%w: commit: %w", ErrStorageFailure, err)
	}
	committed = true
	return nil
}
