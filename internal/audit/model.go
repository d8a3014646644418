package audit

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

const (
	ActionTransactionReversed = "transaction.reversed"
	ActionTransactionFlagged  = "transaction.flagged"
	ActionAccountStatus       = "account.status_changed"

	EntityTransaction = "transaction"
	EntityAccount     = "account"
)

type Entry struct {
	ID         int64          `db:"id" json:"id"`
	ActorID    *string        `db:"actor_id" json:"actor_id,omitempty"`
	Action     string         `db:"action" json:"action"`
	EntityType string         `db:"entity_type" json:"entity_type"`
	EntityID   string         `db:"entity_id" json:"entity_id"`
	Details    types.JSONText `db:"details" json:"details"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}
