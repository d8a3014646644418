package transaction

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

var (
	ErrNotFound          = errors.New("transaction not found")
	ErrInvalidTransition = errors.New("invalid transaction status transition")
)

const (
	transactionColumns = `id, from_account_id, to_account_id, amount, currency, type, status, metadata, reviewed_by, reviewed_at, created_at, updated_at`

	defaultPageSize = 50
	maxPageSize     = 200
)

type repository struct {
	db sqlx.ExtContext
}

func NewRepository(db sqlx.ExtContext) Repository {
	return &repository{db: db}
}

func (r *repository) Insert(ctx context.Context, tx Transaction) (Transaction, error) {
	if len(tx.Metadata) == 0 {
		tx.Metadata = types.JSONText("{}")
	}

	var out Transaction
	err := sqlx.GetContext(ctx, r.db, &out, `
		INSERT INTO transactions (id, from_account_id, to_account_id, amount, currency, type, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+transactionColumns,
		tx.ID, tx.FromAccountID, tx.ToAccountID, tx.Amount, tx.Currency, tx.Type, tx.Status, tx.Metadata,
	)
	if err != nil {
		return Transaction{}, err
	}
	return out, nil
}

func (r *repository) FindByID(ctx context.Context, id string) (Transaction, error) {
	var t Transaction
	err := sqlx.GetContext(ctx, r.db, &t, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	return t, err
}

func (r *repository) GetForUpdate(ctx context.Context, id string) (Transaction, error) {
	var t Transaction
	err := sqlx.GetContext(ctx, r.db, &t, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, ErrNotFound
	}
	return t, err
}

func (r *repository) UpdateStatus(ctx context.Context, id string, status Status, reviewer string) (Transaction, error) {
	from := sourcesFor(status)
	if len(from) == 0 {
		return Transaction{}, ErrInvalidTransition
	}

	var (
		t   Transaction
		err error
	)
	if reviewer == "" {
		err = sqlx.GetContext(ctx, r.db, &t, `
			UPDATE transactions
			SET status = $1, updated_at = NOW()
			WHERE id = $2 AND status = ANY($3)
			RETURNING `+transactionColumns,
			status, id, pq.Array(from),
		)
	} else {
		err = sqlx.GetContext(ctx, r.db, &t, `
			UPDATE transactions
			SET status = $1, reviewed_by = $2, reviewed_at = NOW(), updated_at = NOW()
			WHERE id = $3 AND status = ANY($4)
			RETURNING `+transactionColumns,
			status, reviewer, id, pq.Array(from),
		)
	}
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, err
	}

	var exists bool
	if err := sqlx.GetContext(ctx, r.db, &exists, `SELECT EXISTS(SELECT 1 FROM transactions WHERE id = $1)`, id); err != nil {
		return Transaction{}, err
	}
	if !exists {
		return Transaction{}, ErrNotFound
	}
	return Transaction{}, ErrInvalidTransition
}

func (r *repository) FindByAccount(ctx context.Context, accountID string, limit, offset int) ([]Transaction, error) {
	limit, offset = NormalizePage(limit, offset)

	txs := []Transaction{}
	err := sqlx.SelectContext(ctx, r.db, &txs, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE from_account_id = $1 OR to_account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		accountID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// NormalizePage clamps paging parameters for history queries.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
