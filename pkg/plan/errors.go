package plan

import "errors"

var (
	ErrPlanNotFound             = errors.New("plan: plan not found")
	ErrInvalidPlanConfiguration = errors.New("plan: invalid plan configuration")
	ErrFailedToLoadPlans        = errors.New("plan: failed to load plans")
)
