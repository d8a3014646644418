package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"siniopay/internal/account"
	"siniopay/internal/audit"
	"siniopay/internal/logger"
	"siniopay/internal/metrics"
	"siniopay/internal/notification"
	"siniopay/internal/transaction"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ReverseTransaction restores the balances moved by a completed transaction
// and marks it reversed. Account status is not checked. The reversal fails
// with ErrReversalWouldOverdraw when the original recipient no longer holds
// the amount.
func (e *Engine) ReverseTransaction(ctx context.Context, transactionID, reviewerID string) (transaction.Transaction, error) {
	ctx, span := e.tracer.Start(ctx, "ledger.ReverseTransaction", trace.WithAttributes(
		attribute.String("transaction.id", transactionID),
		attribute.String("reviewer.id", reviewerID),
	))
	defer span.End()

	tx, from, to, err := e.reverse(ctx, transactionID, reviewerID)
	outcome := outcomeOf(err, "reversed")
	metrics.RecordReversal(outcome)
	if err != nil {
		if errors.Is(err, ErrContentionTimeout) {
			metrics.RecordContentionTimeout("reversal")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		logger.Warn("reversal rejected", "transaction_id", transactionID, "reviewer_id", reviewerID, "outcome", outcome, "error", err)
		return transaction.Transaction{}, err
	}

	logger.Info("transaction reversed", "transaction_id", tx.ID, "reviewer_id", reviewerID, "amount", tx.Amount.StringFixed(2))
	e.afterReversal(ctx, tx, reviewerID, from, to)
	return tx, nil
}

func (e *Engine) reverse(ctx context.Context, transactionID, reviewerID string) (transaction.Transaction, account.Account, account.Account, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return transaction.Transaction{}, account.Account{}, account.Account{}, ErrInvalidReviewer
	}
	if err := checkTransactionID(transactionID); err != nil {
		return transaction.Transaction{}, account.Account{}, account.Account{}, err
	}

	ctx, cancel := e.unitContext(ctx)
	defer cancel()

	var (
		result   transaction.Transaction
		from, to account.Account
	)
	err := e.uow.Do(ctx, func(ctx context.Context, u Unit) error {
		original, err := u.Transactions().GetForUpdate(ctx, transactionID)
		if err != nil {
			if errors.Is(err, transaction.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrTransactionNotFound, transactionID)
			}
			return err
		}
		if original.Status != transaction.StatusCompleted {
			return fmt.Errorf("%w: status is %s", ErrInvalidReversalState, original.Status)
		}

		locked, err := lockAccounts(ctx, u.Accounts(), original.FromAccountID, original.ToAccountID)
		if err != nil {
			return err
		}
		if locked[original.ToAccountID].Balance.LessThan(original.Amount) {
			return ErrReversalWouldOverdraw
		}

		if to, err = u.Accounts().ApplyBalanceDelta(ctx, original.ToAccountID, original.Amount.Neg()); err != nil {
			return err
		}
		if from, err = u.Accounts().ApplyBalanceDelta(ctx, original.FromAccountID, original.Amount); err != nil {
			return err
		}

		result, err = u.Transactions().UpdateStatus(ctx, original.ID, transaction.StatusReversed, reviewerID)
		return err
	})
	if err != nil {
		return transaction.Transaction{}, account.Account{}, account.Account{}, err
	}
	return result, from, to, nil
}

func (e *Engine) afterReversal(ctx context.Context, tx transaction.Transaction, reviewerID string, from, to account.Account) {
	if e.audit != nil {
		e.dispatch(ctx, "audit.reversal", func(ctx context.Context) error {
			return e.audit.Record(ctx, reviewerID, audit.ActionTransactionReversed, audit.EntityTransaction, tx.ID, map[string]any{
				"amount":          tx.Amount.StringFixed(2),
				"currency":        tx.Currency,
				"from_account_id": tx.FromAccountID,
				"to_account_id":   tx.ToAccountID,
			})
		})
	}
	if e.notifier != nil {
		e.dispatch(ctx, "notify.reversal", func(ctx context.Context) error {
			return errors.Join(
				e.notifier.Publish(ctx, transferEvent(notification.EventTransferReversed, tx, from)),
				e.notifier.Publish(ctx, transferEvent(notification.EventTransferReversed, tx, to)),
			)
		})
	}
}

// FlagTransaction lets an admin move a completed transaction to flagged.
func (e *Engine) FlagTransaction(ctx context.Context, transactionID, reviewerID, reason string) (transaction.Transaction, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return transaction.Transaction{}, ErrInvalidReviewer
	}
	return e.flag(ctx, transactionID, reviewerID, reason)
}

// FlagForReview is the system-initiated variant used by the compliance
// monitor. It leaves the reviewer fields empty.
func (e *Engine) FlagForReview(ctx context.Context, transactionID, reason string) error {
	_, err := e.flag(ctx, transactionID, "", reason)
	return err
}

func (e *Engine) flag(ctx context.Context, transactionID, reviewerID, reason string) (transaction.Transaction, error) {
	ctx, span := e.tracer.Start(ctx, "ledger.FlagTransaction", trace.WithAttributes(
		attribute.String("transaction.id", transactionID),
	))
	defer span.End()

	initiator := "admin"
	if reviewerID == "" {
		initiator = "system"
	}

	if err := checkTransactionID(transactionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcomeOf(err, "flagged"))
		return transaction.Transaction{}, err
	}

	ctx, cancel := e.unitContext(ctx)
	defer cancel()

	var result transaction.Transaction
	err := e.uow.Do(ctx, func(ctx context.Context, u Unit) error {
		t, err := u.Transactions().GetForUpdate(ctx, transactionID)
		if err != nil {
			if errors.Is(err, transaction.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrTransactionNotFound, transactionID)
			}
			return err
		}
		if t.Status != transaction.StatusCompleted {
			return fmt.Errorf("%w: status is %s", ErrInvalidFlagState, t.Status)
		}
		result, err = u.Transactions().UpdateStatus(ctx, t.ID, transaction.StatusFlagged, reviewerID)
		if errors.Is(err, transaction.ErrInvalidTransition) {
			return fmt.Errorf("%w: %w", ErrInvalidFlagState, err)
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcomeOf(err, "flagged"))
		return transaction.Transaction{}, err
	}

	metrics.RecordFlag(initiator)
	logger.Info("transaction flagged", "transaction_id", result.ID, "initiator", initiator, "reason", reason)

	if e.audit != nil {
		e.dispatch(ctx, "audit.flag", func(ctx context.Context) error {
			return e.audit.Record(ctx, reviewerID, audit.ActionTransactionFlagged, audit.EntityTransaction, result.ID, map[string]any{
				"reason":    reason,
				"initiator": initiator,
			})
		})
	}
	return result, nil
}
