package transaction

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var txCols = []string{"id", "from_account_id", "to_account_id", "amount", "currency", "type", "status", "metadata", "reviewed_by", "reviewed_at", "created_at", "updated_at"}

func setupTransactionMock(t *testing.T) (Repository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	repo := NewRepository(sqlxDB)

	closer := func() { sqlxDB.Close() }
	return repo, mock, closer
}

func txRow(id string, status Status, reviewer interface{}) *sqlmock.Rows {
	now := time.Now()
	var reviewedAt interface{}
	if reviewer != nil {
		reviewedAt = now
	}
	return sqlmock.NewRows(txCols).
		AddRow(id, "acc-a", "acc-b", "200.00", "NGN", "transfer", string(status), []byte(`{"note":"rent"}`), reviewer, reviewedAt, now, now)
}

func TestInsert(t *testing.T) {
	repo, mock, close := setupTransactionMock(t)
	defer close()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO transactions (id, from_account_id, to_account_id, amount, currency, type, status, metadata) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)")).
		WithArgs("tx-1", "acc-a", "acc-b", decimal.NewFromInt(200), "NGN", "transfer", "completed", types.JSONText("{}")).
		WillReturnRows(txRow("tx-1", StatusCompleted, nil))

	out, err := repo.Insert(context.Background(), Transaction{
		ID:            "tx-1",
		FromAccountID: "acc-a",
		ToAccountID:   "acc-b",
		Amount:        decimal.NewFromInt(200),
		Currency:      "NGN",
		Type:          TypeTransfer,
		Status:        StatusCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Nil(t, out.ReviewedBy)
	assert.JSONEq(t, `{"note":"rent"}`, out.Metadata.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByID_NotFound(t *testing.T) {
	repo, mock, close := setupTransactionMock(t)
	defer close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM transactions WHERE id = $1")).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetForUpdate(t *testing.T) {
	repo, mock, close := setupTransactionMock(t)
	defer close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM transactions WHERE id = $1 FOR UPDATE")).
		WithArgs("tx-1").
		WillReturnRows(txRow("tx-1", StatusCompleted, nil))

	tx, err := repo.GetForUpdate(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "tx-1", tx.ID)
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	withReviewer := regexp.QuoteMeta("UPDATE transactions SET status = $1, reviewed_by = $2, reviewed_at = NOW(), updated_at = NOW() WHERE id = $3 AND status = ANY($4)")
	system := regexp.QuoteMeta("UPDATE transactions SET status = $1, updated_at = NOW() WHERE id = $2 AND status = ANY($3)")
	exists := regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM transactions WHERE id = $1)")

	t.Run("reversal stamps reviewer", func(t *testing.T) {
		repo, mock, close := setupTransactionMock(t)
		defer close()

		mock.ExpectQuery(withReviewer).
			WithArgs("reversed", "admin-1", "tx-1", pq.Array([]string{"completed"})).
			WillReturnRows(txRow("tx-1", StatusReversed, "admin-1"))

		tx, err := repo.UpdateStatus(ctx, "tx-1", StatusReversed, "admin-1")
		require.NoError(t, err)
		assert.Equal(t, StatusReversed, tx.Status)
		require.NotNil(t, tx.ReviewedBy)
		assert.Equal(t, "admin-1", *tx.ReviewedBy)
		assert.NotNil(t, tx.ReviewedAt)
	})

	t.Run("system flag leaves reviewer empty", func(t *testing.T) {
		repo, mock, close := setupTransactionMock(t)
		defer close()

		mock.ExpectQuery(system).
			WithArgs("flagged", "tx-1", pq.Array([]string{"completed"})).
			WillReturnRows(txRow("tx-1", StatusFlagged, nil))

		tx, err := repo.UpdateStatus(ctx, "tx-1", StatusFlagged, "")
		require.NoError(t, err)
		assert.Nil(t, tx.ReviewedBy)
	})

	t.Run("illegal transition", func(t *testing.T) {
		repo, mock, close := setupTransactionMock(t)
		defer close()

		mock.ExpectQuery(withReviewer).
			WithArgs("reversed", "admin-1", "tx-1", pq.Array([]string{"completed"})).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(exists).
			WithArgs("tx-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := repo.UpdateStatus(ctx, "tx-1", StatusReversed, "admin-1")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		repo, mock, close := setupTransactionMock(t)
		defer close()

		mock.ExpectQuery(withReviewer).
			WithArgs("reversed", "admin-1", "tx-x", pq.Array([]string{"completed"})).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(exists).
			WithArgs("tx-x").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := repo.UpdateStatus(ctx, "tx-x", StatusReversed, "admin-1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("no state leads to pending", func(t *testing.T) {
		repo, _, close := setupTransactionMock(t)
		defer close()

		_, err := repo.UpdateStatus(ctx, "tx-1", StatusPending, "")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestFindByAccount(t *testing.T) {
	repo, mock, close := setupTransactionMock(t)
	defer close()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE from_account_id = $1 OR to_account_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3")).
		WithArgs("acc-a", 200, 0).
		WillReturnRows(txRow("tx-1", StatusCompleted, nil))

	txs, err := repo.FindByAccount(context.Background(), "acc-a", 1000, -5)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Involves("acc-a"))
}
