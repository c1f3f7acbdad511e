package subscription

import "errors"

var (
	ErrNotFound          = errors.New("subscription: not found")
	ErrAlreadyExists     = errors.New("subscription: tenant already has a current subscription for this plugin")
	ErrAlreadyCanceled   = errors.New("subscription: already canceled")
	ErrNotPaused         = errors.New("subscription: not paused")
	ErrInvalidTransition = errors.New("subscription: invalid status transition")
	ErrInvalidDowngrade  = errors.New("subscription: target plan tier is not strictly lower")
	ErrNoPendingChange   = errors.New("subscription: no pending downgrade to cancel")
	ErrPeriodEnded       = errors.New("subscription: current period has already ended")
	ErrPlanMismatch      = errors.New("subscription: plan belongs to a different plugin")
	ErrUsageTooHigh      = errors.New("subscription: current usage exceeds target plan limits")
)
