package usage

import (
	"time"

	"github.com/google/uuid"
)

// PeriodKey computes the canonical metering-period identifier for a
// subscription.
//
// Free-tier rollover is wholly internal, so the key uses monthly granularity
// of the period start. Paid periods are driven by billing dates the external
// processor confirmed, so the key tracks the exact day the period started.
func PeriodKey(subscriptionID uuid.UUID, periodStart time.Time, free bool) string {
	start := periodStart.UTC()
	if free {
		return subscriptionID.String() + ":" + start.Format("2006-01")
	}
	return subscriptionID.String() + ":" + start.Format("2006-01-02")
}
