package compliance

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockFlagger struct {
	mock.Mock
}

func (m *MockFlagger) FlagForReview(ctx context.Context, transactionID, reason string) error {
	args := m.Called(ctx, transactionID, reason)
	return args.Error(0)
}

func TestMonitor_Review(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		flagged bool
	}{
		{"below threshold", "999.99", false},
		{"at threshold", "1000", true},
		{"above threshold", "25000", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flagger := new(MockFlagger)
			if tt.flagged {
				flagger.On("FlagForReview", mock.Anything, "tx-1", mock.AnythingOfType("string")).Return(nil)
			}

			m := NewMonitor(decimal.NewFromInt(1000), flagger)
			a := assessment(tt.amount)
			a.TransactionID = "tx-1"

			assert.NoError(t, m.Review(context.Background(), a))
			flagger.AssertExpectations(t)
			if !tt.flagged {
				flagger.AssertNotCalled(t, "FlagForReview", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestMonitor_WithoutFlagger(t *testing.T) {
	m := NewMonitor(decimal.NewFromInt(1), nil)
	assert.NoError(t, m.Review(context.Background(), assessment("500")))
}
