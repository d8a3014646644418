package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	velocityKeyPrefix = "velocity"
	velocityTTL       = 48 * time.Hour
)

// reserveScript adds ARGV[1] to the day's total unless that would pass the
// limit in ARGV[2]. Returns 1 when the amount was reserved.
var reserveScript = redis.NewScript(`
local spent = tonumber(redis.call("GET", KEYS[1]) or "0")
local amount = tonumber(ARGV[1])
if spent + amount > tonumber(ARGV[2]) then
	return 0
end
redis.call("INCRBY", KEYS[1], amount)
redis.call("EXPIRE", KEYS[1], ARGV[3])
return 1
`)

// RuleGate enforces a per-transaction ceiling and a daily outgoing limit per
// account. Daily totals are kept in Redis in minor units. An allowed transfer
// reserves its amount in the same step as the limit check, so concurrent
// transfers cannot pass the limit together.
type RuleGate struct {
	client          redis.Cmdable
	maxSingleAmount decimal.Decimal
	dailyLimit      decimal.Decimal
}

func NewRuleGate(client redis.Cmdable, maxSingleAmount, dailyLimit decimal.Decimal) *RuleGate {
	return &RuleGate{
		client:          client,
		maxSingleAmount: maxSingleAmount,
		dailyLimit:      dailyLimit,
	}
}

func (g *RuleGate) Evaluate(ctx context.Context, a Assessment) (Decision, error) {
	if g.maxSingleAmount.IsPositive() && a.Amount.GreaterThan(g.maxSingleAmount) {
		return Deny(fmt.Sprintf("amount exceeds single transaction limit of %s", g.maxSingleAmount.StringFixed(2))), nil
	}
	if !g.dailyLimit.IsPositive() {
		return Allow(), nil
	}

	keys := []string{velocityKey(a.FromAccountID, a.At)}
	reserved, err := reserveScript.Run(ctx, g.client, keys, toMinor(a.Amount), toMinor(g.dailyLimit), int64(velocityTTL.Seconds())).Int()
	if err != nil {
		return Decision{}, fmt.Errorf("reserve daily velocity: %w", err)
	}
	if reserved == 0 {
		return Deny(fmt.Sprintf("daily limit of %s exceeded", g.dailyLimit.StringFixed(2))), nil
	}
	return Allow(), nil
}

// Release returns an amount reserved by Evaluate.
func (g *RuleGate) Release(ctx context.Context, a Assessment) error {
	if !g.dailyLimit.IsPositive() {
		return nil
	}
	if err := g.client.DecrBy(ctx, velocityKey(a.FromAccountID, a.At), toMinor(a.Amount)).Err(); err != nil {
		return fmt.Errorf("release daily velocity: %w", err)
	}
	return nil
}

func velocityKey(accountID string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%s", velocityKeyPrefix, accountID, at.UTC().Format("20060102"))
}

func toMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).IntPart()
}
