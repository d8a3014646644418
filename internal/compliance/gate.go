package compliance

import (
	"context"
	"time"

	"siniopay/internal/transaction"

	"github.com/shopspring/decimal"
)

// Assessment describes a money movement as seen by compliance checks.
// TransactionID is empty during pre-commit evaluation.
type Assessment struct {
	TransactionID string
	FromUserID    string
	ToUserID      string
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Currency      string
	Type          transaction.Type
	At            time.Time
}

type Decision struct {
	Allowed bool
	Reason  string
}

func Allow() Decision {
	return Decision{Allowed: true}
}

func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Gate is consulted before a transfer locks any account. An error means the
// gate could not decide; callers must fail closed.
type Gate interface {
	Evaluate(ctx context.Context, a Assessment) (Decision, error)
}

// Releaser is implemented by gates whose approval holds part of a limit.
// Release hands the hold back when the approved transfer did not commit.
type Releaser interface {
	Release(ctx context.Context, a Assessment) error
}

type GateFunc func(ctx context.Context, a Assessment) (Decision, error)

func (f GateFunc) Evaluate(ctx context.Context, a Assessment) (Decision, error) {
	return f(ctx, a)
}

// AllowAll approves every transfer.
var AllowAll Gate = GateFunc(func(context.Context, Assessment) (Decision, error) {
	return Allow(), nil
})
