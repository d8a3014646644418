package notification

import (
	"fmt"
	"time"
)

type EventType string

const (
	EventTransferSent     EventType = "transfer.sent"
	EventTransferReceived EventType = "transfer.received"
	EventTransferReversed EventType = "transfer.reversed"
	EventTransferFlagged  EventType = "transfer.flagged"
)

type Event struct {
	Type          EventType `json:"type"`
	UserID        string    `json:"user_id"`
	TransactionID string    `json:"transaction_id"`
	AccountNumber string    `json:"account_number"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Balance       string    `json:"balance"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Job struct {
	Event   Event     `json:"event"`
	Tries   int       `json:"tries"`
	Created time.Time `json:"created"`
}

func render(ev Event, name string) (subject, body string) {
	when := ev.OccurredAt.Format("Jan 2, 2006 at 3:04 PM")
	switch ev.Type {
	case EventTransferSent:
		subject = fmt.Sprintf("Debit alert: %s %s", ev.Currency, ev.Amount)
		body = fmt.Sprintf(`Hi %s,

%s %s was sent from your account %s on %s.

Reference: %s
Available balance: %s %s

- SinioPay`, name, ev.Currency, ev.Amount, ev.AccountNumber, when, ev.TransactionID, ev.Currency, ev.Balance)
	case EventTransferReceived:
		subject = fmt.Sprintf("Credit alert: %s %s", ev.Currency, ev.Amount)
		body = fmt.Sprintf(`Hi %s,

You received %s %s in your account %s on %s.

Reference: %s
Available balance: %s %s

- SinioPay`, name, ev.Currency, ev.Amount, ev.AccountNumber, when, ev.TransactionID, ev.Currency, ev.Balance)
	case EventTransferReversed:
		subject = "Transaction reversed"
		body = fmt.Sprintf(`Hi %s,

Transaction %s for %s %s has been reversed on %s.

Your balance is now %s %s.

- SinioPay`, name, ev.TransactionID, ev.Currency, ev.Amount, when, ev.Currency, ev.Balance)
	default:
		subject = "Transaction under review"
		body = fmt.Sprintf(`Hi %s,

Transaction %s for %s %s is under review. No action is needed from you.

- SinioPay`, name, ev.TransactionID, ev.Currency, ev.Amount)
	}
	return subject, body
}
