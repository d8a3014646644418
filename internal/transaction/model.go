package transaction

import (
	"sort"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeTransfer         Type = "transfer"
	TypeDeposit          Type = "deposit"
	TypePayment          Type = "payment"
	TypeExternalTransfer Type = "external_transfer"
	TypeBillPayment      Type = "bill_payment"
	TypeRefund           Type = "refund"
	TypeReversal         Type = "reversal"
)

func (t Type) Valid() bool {
	switch t {
	case TypeTransfer, TypeDeposit, TypePayment, TypeExternalTransfer, TypeBillPayment, TypeRefund, TypeReversal:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFlagged   Status = "flagged"
	StatusReversed  Status = "reversed"
	StatusFailed    Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusCompleted, StatusFailed},
	StatusCompleted: {StatusFlagged, StatusReversed, StatusFailed},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// sourcesFor lists every status that may legally move to the given one.
func sourcesFor(to Status) []string {
	var out []string
	for from, targets := range transitions {
		for _, s := range targets {
			if s == to {
				out = append(out, string(from))
			}
		}
	}
	sort.Strings(out)
	return out
}

func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusReversed
}

type Transaction struct {
	ID            string          `db:"id" json:"id"`
	FromAccountID string          `db:"from_account_id" json:"from_account_id"`
	ToAccountID   string          `db:"to_account_id" json:"to_account_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Currency      string          `db:"currency" json:"currency"`
	Type          Type            `db:"type" json:"type"`
	Status        Status          `db:"status" json:"status"`
	Metadata      types.JSONText  `db:"metadata" json:"metadata"`
	ReviewedBy    *string         `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time      `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

func (t Transaction) Involves(accountID string) bool {
	return t.FromAccountID == accountID || t.ToAccountID == accountID
}
