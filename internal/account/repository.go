package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("account not found")
	ErrNegativeBalance = errors.New("balance would become negative")
	ErrInvalidStatus   = errors.New("invalid account status")
)

const accountColumns = `id, account_number, owner_id, balance, status, currency, created_at, updated_at`

const accountNumberAttempts = 3

type repository struct {
	db sqlx.ExtContext
}

// NewRepository accepts either *sqlx.DB or *sqlx.Tx so the same queries run
// inside and outside a unit of work.
func NewRepository(db sqlx.ExtContext) Repository {
	return &repository{db: db}
}

func (r *repository) FindByOwner(ctx context.Context, ownerID string) (Account, error) {
	var a Account
	err := sqlx.GetContext(ctx, r.db, &a, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1`, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	return a, err
}

func (r *repository) FindByID(ctx context.Context, id string) (Account, error) {
	var a Account
	err := sqlx.GetContext(ctx, r.db, &a, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	return a, err
}

func (r *repository) FindByNumber(ctx context.Context, accountNumber string) (Account, error) {
	var a Account
	err := sqlx.GetContext(ctx, r.db, &a, `SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, accountNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	return a, err
}

func (r *repository) GetForUpdate(ctx context.Context, id string) (Account, error) {
	var a Account
	err := sqlx.GetContext(ctx, r.db, &a, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	return a, err
}

func (r *repository) ApplyBalanceDelta(ctx context.Context, id string, delta decimal.Decimal) (Account, error) {
	var a Account
	err := sqlx.GetContext(ctx, r.db, &a, `
		UPDATE accounts
		SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2 AND balance + $1 >= 0
		RETURNING `+accountColumns,
		delta, id,
	)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Account{}, err
	}

	exists, err := r.exists(ctx, id)
	if err != nil {
		return Account{}, err
	}
	if !exists {
		return Account{}, ErrNotFound
	}
	return Account{}, ErrNegativeBalance
}

func (r *repository) Create(ctx context.Context, ownerID, currency string) (Account, error) {
	var a Account
	var err error
	for i := 0; i < accountNumberAttempts; i++ {
		err = sqlx.GetContext(ctx, r.db, &a, `
			INSERT INTO accounts (account_number, owner_id, currency)
			VALUES ($1, $2, $3)
			RETURNING `+accountColumns,
			newAccountNumber(), ownerID, currency,
		)
		if !isAccountNumberCollision(err) {
			break
		}
	}
	if err != nil {
		return Account{}, fmt.Errorf("create account: %w", err)
	}
	return a, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id string, status Status) (Account, error) {
	if !status.Valid() {
		return Account{}, ErrInvalidStatus
	}

	var a Account
	err := sqlx.GetContext(ctx, r.db, &a, `
		UPDATE accounts
		SET status = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING `+accountColumns,
		status, id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	return a, err
}

func (r *repository) exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, r.db, &exists, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, id)
	return exists, err
}

func newAccountNumber() string {
	return fmt.Sprintf("%010d", rand.Int64N(10_000_000_000))
}

func isAccountNumberCollision(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "accounts_account_number_key"
}
