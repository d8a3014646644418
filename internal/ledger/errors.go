package ledger

import (
	"context"
	"errors"
	"fmt"

	"siniopay/internal/account"
	"siniopay/internal/transaction"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrAccountNotActive       = errors.New("account is not active")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInvalidAmount          = errors.New("amount must be positive with at most 2 decimal places")
	ErrInvalidTransactionType = errors.New("unknown transaction type")
	ErrSelfTransfer           = errors.New("source and destination accounts are the same")
	ErrInvalidReversalState   = errors.New("transaction is not in completed state")
	ErrInvalidFlagState       = errors.New("only completed transactions can be flagged")
	ErrReversalWouldOverdraw  = errors.New("reversal would overdraw destination account")
	ErrInvalidReviewer        = errors.New("reviewer is required")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrComplianceRejected     = errors.New("transfer rejected by compliance")
	ErrComplianceUnavailable  = errors.New("compliance check unavailable")
	ErrContentionTimeout      = errors.New("timed out waiting for exclusive access")
	ErrStorageFailure         = errors.New("storage failure")
	ErrInvariantViolation     = errors.New("ledger invariant violated")
)

const (
	pqLockNotAvailable     = "55P03"
	pqDeadlockDetected     = "40P01"
	pqSerializationFailure = "40001"
	pqCheckViolation       = "23514"
	pqQueryCanceled        = "57014"
)

var businessErrors = []error{
	ErrAccountNotFound,
	ErrAccountNotActive,
	ErrInsufficientFunds,
	ErrInvalidAmount,
	ErrInvalidTransactionType,
	ErrSelfTransfer,
	ErrInvalidReversalState,
	ErrInvalidFlagState,
	ErrReversalWouldOverdraw,
	ErrInvalidReviewer,
	ErrTransactionNotFound,
	ErrComplianceRejected,
	ErrComplianceUnavailable,
	ErrContentionTimeout,
	ErrStorageFailure,
	ErrInvariantViolation,
}

// IsRetryable reports whether the caller may retry the same request. For
// ErrStorageFailure the outcome must be confirmed first since a commit may
// have landed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContentionTimeout) ||
		errors.Is(err, ErrStorageFailure) ||
		errors.Is(err, ErrComplianceUnavailable)
}

func isLedgerError(err error) bool {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// classify maps store and driver errors onto the ledger taxonomy. Errors that
// already carry a ledger sentinel pass through unchanged.
func classify(err error) error {
	if err == nil || isLedgerError(err) {
		return err
	}

	switch {
	case errors.Is(err, account.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrAccountNotFound, err)
	case errors.Is(err, transaction.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrTransactionNotFound, err)
	case errors.Is(err, account.ErrNegativeBalance):
		return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	case errors.Is(err, transaction.ErrInvalidTransition):
		return fmt.Errorf("%w: %w", ErrInvalidReversalState, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrContentionTimeout, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqLockNotAvailable, pqDeadlockDetected, pqSerializationFailure, pqQueryCanceled:
			return fmt.Errorf("%w: %w", ErrContentionTimeout, err)
		case pqCheckViolation:
			return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
		}
	}

	return fmt.Errorf("%w: %w", ErrStorageFailure, err)
}

// checkTransactionID rejects ids that cannot name a stored transaction before
// they reach the database, where a malformed uuid fails as a driver error.
func checkTransactionID(id string) error {
	if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
		return fmt.Errorf("%w: %q", ErrTransactionNotFound, id)
	}
	return nil
}
