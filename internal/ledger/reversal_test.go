package ledger

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"siniopay/internal/account"
	"siniopay/internal/audit"
	"siniopay/internal/notification"
	"siniopay/internal/transaction"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const adminID = "9b2f7c1e-3a4d-4e5f-8a6b-1c2d3e4f5a6b"

func setupTransferred(t *testing.T, opts Options) (*Engine, *MemoryStore, transaction.Transaction) {
	t.Helper()
	store := newTestStore()
	seed(store, "user-a", "acc-a", "500", account.StatusActive)
	seed(store, "user-b", "acc-b", "100", account.StatusActive)
	engine := NewEngine(store, nil, Options{})

	tx, err := engine.ExecuteTransfer(context.Background(), transfer("user-a", "user-b", "200"))
	require.NoError(t, err)

	return NewEngine(store, nil, opts), store, tx
}

func TestReverseTransaction_RestoresBalances(t *testing.T) {
	engine, store, tx := setupTransferred(t, Options{})

	reversed, err := engine.ReverseTransaction(context.Background(), tx.ID, adminID)
	require.NoError(t, err)

	assert.Equal(t, transaction.StatusReversed, reversed.Status)
	require.NotNil(t, reversed.ReviewedBy)
	assert.Equal(t, adminID, *reversed.ReviewedBy)
	assert.NotNil(t, reversed.ReviewedAt)
	assert.True(t, balanceOf(t, store, "acc-a").Equal(dec("500")))
	assert.True(t, balanceOf(t, store, "acc-b").Equal(dec("100")))

	stored, _ := store.Transaction(tx.ID)
	assert.Equal(t, transaction.StatusReversed, stored.Status)
}

func TestReverseTransaction_SecondReversalFails(t *testing.T) {
	engine, store, tx := setupTransferred(t, Options{})

	_, err := engine.ReverseTransaction(context.Background(), tx.ID, adminID)
	require.NoError(t, err)

	_, err = engine.ReverseTransaction(context.Background(), tx.ID, adminID)
	assert.ErrorIs(t, err, ErrInvalidReversalState)
	assert.True(t, balanceOf(t, store, "acc-a").Equal(dec("500")))
	assert.True(t, balanceOf(t, store, "acc-b").Equal(dec("100")))
}

func TestReverseTransaction_ConcurrentReversalsApplyOnce(t *testing.T) {
	engine, store, tx := setupTransferred(t, Options{})

	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		go func() {
			_, err := engine.ReverseTransaction(context.Background(), tx.ID, adminID)
			errs <- err
		}()
	}

	succeeded := 0
	for i := 0; i < 5; i++ {
		err := <-errs
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidReversalState)
	}
	assert.Equal(t, 1, succeeded)
	assert.True(t, balanceOf(t, store, "acc-a").Equal(dec("500")))
}

func TestReverseTransaction_Rejections(t *testing.T) {
	t.Run("empty reviewer", func(t *testing.T) {
		engine, _, tx := setupTransferred(t, Options{})
		_, err := engine.ReverseTransaction(context.Background(), tx.ID, "  ")
		assert.ErrorIs(t, err, ErrInvalidReviewer)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		engine, _, _ := setupTransferred(t, Options{})
		_, err := engine.ReverseTransaction(context.Background(), "00000000-0000-0000-0000-000000000000", adminID)
		assert.ErrorIs(t, err, ErrTransactionNotFound)
	})

	t.Run("flagged transaction", func(t *testing.T) {
		engine, _, tx := setupTransferred(t, Options{})
		_, err := engine.FlagTransaction(context.Background(), tx.ID, adminID, "manual review")
		require.NoError(t, err)

		_, err = engine.ReverseTransaction(context.Background(), tx.ID, adminID)
		assert.ErrorIs(t, err, ErrInvalidReversalState)
	})

	t.Run("recipient already spent the funds", func(t *testing.T) {
		engine, store, tx := setupTransferred(t, Options{})
		seed(store, "user-c", "acc-c", "0", account.StatusActive)
		_, err := engine.ExecuteTransfer(context.Background(), transfer("user-b", "user-c", "150"))
		require.NoError(t, err)

		_, err = engine.ReverseTransaction(context.Background(), tx.ID, adminID)
		assert.ErrorIs(t, err, ErrReversalWouldOverdraw)
		assert.False(t, IsRetryable(err))
		assert.True(t, balanceOf(t, store, "acc-a").Equal(dec("300")))
		assert.True(t, balanceOf(t, store, "acc-b").Equal(dec("150")))

		stored, _ := store.Transaction(tx.ID)
		assert.Equal(t, transaction.StatusCompleted, stored.Status)
	})
}

func TestReverseTransaction_IgnoresAccountStatus(t *testing.T) {
	engine, store, tx := setupTransferred(t, Options{})

	err := store.Do(context.Background(), func(ctx context.Context, u Unit) error {
		_, err := u.Accounts().UpdateStatus(ctx, "acc-b", account.StatusFrozen)
		return err
	})
	require.NoError(t, err)

	_, err = engine.ReverseTransaction(context.Background(), tx.ID, adminID)
	require.NoError(t, err)
	assert.True(t, balanceOf(t, store, "acc-b").Equal(dec("100")))
}

func TestReverseTransaction_AtomicUnderFault(t *testing.T) {
	engine, store, tx := setupTransferred(t, Options{})
	store.SetFault(func(op string) error {
		if op == "transactions.update_status" {
			return errors.New("connection reset")
		}
		return nil
	})

	_, err := engine.ReverseTransaction(context.Background(), tx.ID, adminID)

	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.True(t, balanceOf(t, store, "acc-a").Equal(dec("300")))
	assert.True(t, balanceOf(t, store, "acc-b").Equal(dec("300")))
	stored, _ := store.Transaction(tx.ID)
	assert.Equal(t, transaction.StatusCompleted, stored.Status)
}

func TestReverseTransaction_PostCommitEffects(t *testing.T) {
	sink := new(MockAuditSink)
	sink.On("Record", mock.Anything, adminID, audit.ActionTransactionReversed, audit.EntityTransaction, mock.Anything, mock.MatchedBy(func(d map[string]any) bool {
		return d["amount"] == "200.00"
	})).Return(nil).Once()

	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(ev notification.Event) bool {
		return ev.Type == notification.EventTransferReversed
	})).Return(nil).Twice()

	engine, _, tx := setupTransferred(t, Options{Audit: sink, Notifier: publisher})

	_, err := engine.ReverseTransaction(context.Background(), tx.ID, adminID)
	require.NoError(t, err)

	sink.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestFlagTransaction(t *testing.T) {
	t.Run("admin flag stamps reviewer", func(t *testing.T) {
		sink := new(MockAuditSink)
		sink.On("Record", mock.Anything, adminID, audit.ActionTransactionFlagged, audit.EntityTransaction, mock.Anything, mock.Anything).Return(nil).Once()
		engine, _, tx := setupTransferred(t, Options{Audit: sink})

		flagged, err := engine.FlagTransaction(context.Background(), tx.ID, adminID, "suspicious pattern")
		require.NoError(t, err)

		assert.Equal(t, transaction.StatusFlagged, flagged.Status)
		require.NotNil(t, flagged.ReviewedBy)
		assert.Equal(t, adminID, *flagged.ReviewedBy)
		sink.AssertExpectations(t)
	})

	t.Run("system flag leaves reviewer empty", func(t *testing.T) {
		engine, store, tx := setupTransferred(t, Options{})

		require.NoError(t, engine.FlagForReview(context.Background(), tx.ID, "large amount"))

		stored, _ := store.Transaction(tx.ID)
		assert.Equal(t, transaction.StatusFlagged, stored.Status)
		assert.Nil(t, stored.ReviewedBy)
	})

	t.Run("admin flag requires reviewer", func(t *testing.T) {
		engine, _, tx := setupTransferred(t, Options{})
		_, err := engine.FlagTransaction(context.Background(), tx.ID, "", "reason")
		assert.ErrorIs(t, err, ErrInvalidReviewer)
	})

	t.Run("reversed transaction cannot be flagged", func(t *testing.T) {
		engine, _, tx := setupTransferred(t, Options{})
		_, err := engine.ReverseTransaction(context.Background(), tx.ID, adminID)
		require.NoError(t, err)

		_, err = engine.FlagTransaction(context.Background(), tx.ID, adminID, "late")
		assert.ErrorIs(t, err, ErrInvalidFlagState)
		assert.NotErrorIs(t, err, ErrInvalidReversalState)
		assert.Equal(t, http.StatusConflict, StatusFor(err))
	})
}

func TestMalformedTransactionID(t *testing.T) {
	engine, store, _ := setupTransferred(t, Options{})
	var touched []string
	store.SetFault(func(op string) error {
		touched = append(touched, op)
		return nil
	})

	_, err := engine.ReverseTransaction(context.Background(), "abc", adminID)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
	assert.Equal(t, http.StatusNotFound, StatusFor(err))

	_, err = engine.FlagTransaction(context.Background(), "abc", adminID, "reason")
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	assert.ErrorIs(t, engine.FlagForReview(context.Background(), "abc", "velocity"), ErrTransactionNotFound)
	assert.Empty(t, touched, "malformed ids never reach the store")
}
