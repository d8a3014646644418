package compliance

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Flagger moves a completed transaction to flagged without a human reviewer.
type Flagger interface {
	FlagForReview(ctx context.Context, transactionID, reason string) error
}

// Monitor runs after commit and flags transactions at or above the review
// threshold.
type Monitor struct {
	threshold decimal.Decimal
	flagger   Flagger
}

func NewMonitor(threshold decimal.Decimal, flagger Flagger) *Monitor {
	return &Monitor{threshold: threshold, flagger: flagger}
}

func (m *Monitor) SetFlagger(f Flagger) {
	m.flagger = f
}

func (m *Monitor) Review(ctx context.Context, a Assessment) error {
	if m.flagger == nil || !m.threshold.IsPositive() || a.Amount.LessThan(m.threshold) {
		return nil
	}
	reason := fmt.Sprintf("amount %s at or above review threshold %s", a.Amount.StringFixed(2), m.threshold.StringFixed(2))
	return m.flagger.FlagForReview(ctx, a.TransactionID, reason)
}
