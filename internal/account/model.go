package account

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive Status = "active"
	StatusFrozen Status = "frozen"
	StatusClosed Status = "closed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusFrozen, StatusClosed:
		return true
	}
	return false
}

// Account is a wallet owned by exactly one user. Values returned by the
// repository are snapshots; mutating them has no effect on storage.
type Account struct {
	ID            string          `db:"id" json:"id"`
	AccountNumber string          `db:"account_number" json:"account_number"`
	OwnerID       string          `db:"owner_id" json:"owner_id"`
	Balance       decimal.Decimal `db:"balance" json:"balance"`
	Status        Status          `db:"status" json:"status"`
	Currency      string          `db:"currency" json:"currency"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

func (a Account) IsActive() bool {
	return a.Status == StatusActive
}

type UpdateStatusRequest struct {
	Status Status `json:"status" binding:"required" validate:"required,oneof=active frozen closed" example:"frozen"`
}
