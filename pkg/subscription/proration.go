package subscription

import (
	"time"

	"github.com/plugkit/entitlement/pkg/plan"
)

// prorationDenominatorDays is the fixed period length used for proration
// regardless of the actual month length. Changing it would change observable
// billing amounts.
const prorationDenominatorDays = 30

// Prorate computes what the tenant owes immediately to move from the current
// plan to the target plan mid-cycle. Amounts are in the smallest currency
// unit.
//
//   - Zero-cost to paid: the full target price, no credit.
//   - Paid to paid: the target price minus a credit for the unused share of
//     the current period (ceil of remaining days over a 30-day period).
//   - Any to zero-cost: nothing is owed; the downgrade is scheduled via
//     Manager.ScheduleDowngrade, not applied immediately.
func Prorate(current, target plan.Plan, sub *Subscription, now time.Time) plan.Money {
	if target.IsFree() {
		return plan.Money{Amount: 0, Currency: current.Price.Currency}
	}

	if current.IsFree() {
		return target.Price
	}

	remaining := sub.CurrentPeriodEnd.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	remainingDays := int64((remaining + 24*time.Hour - 1) / (24 * time.Hour))
	if remainingDays > prorationDenominatorDays {
		remainingDays = prorationDenominatorDays
	}

	unusedCredit := current.Price.Amount * remainingDays / prorationDenominatorDays
	amount := target.Price.Amount - unusedCredit
	if amount < 0 {
		amount = 0
	}

	return plan.Money{Amount: amount, Currency: target.Price.Currency}
}
