package entitlement

import (
	"github.com/plugkit/entitlement/pkg/subscription"
)

// Mode tags an entitlement decision with its commercial origin so callers can
// distinguish negotiated exceptions from standard plan entitlements.
type Mode string

const (
	// ModeFree marks decisions for unmetered plugins with no plan configured.
	ModeFree Mode = "FREE"
	// ModeStandard marks decisions made by the tenant's assigned plan.
	ModeStandard Mode = "STANDARD"
	// ModeCommercial marks decisions made by a tenant-specific override or
	// custom pricing agreement.
	ModeCommercial Mode = "COMMERCIAL"
)

// DecisionSource names the layer of the override hierarchy that decided.
type DecisionSource string

const (
	SourceOverride      DecisionSource = "override"
	SourceCustomPricing DecisionSource = "custom_pricing"
	SourcePlan          DecisionSource = "plan"
)

// Reason is a machine-readable denial or warning code.
type Reason string

const (
	ReasonSubscriptionRequired Reason = "SUBSCRIPTION_REQUIRED"
	ReasonSubscriptionCanceled Reason = "SUBSCRIPTION_CANCELED"
	ReasonPaymentOverdue       Reason = "PAYMENT_OVERDUE"
	ReasonFeatureNotInPlan     Reason = "FEATURE_NOT_IN_PLAN"
	ReasonLicenseDenied        Reason = "LICENSE_DENIED"
	ReasonLimitExceeded        Reason = "LIMIT_EXCEEDED"
)

// LicenseResult is the outcome of CheckLicense.
type LicenseResult struct {
	Valid       bool
	Reason      Reason
	Mode        Mode
	Source      DecisionSource
	UpgradeHint string // plan ID worth suggesting when the denial is plan-based
}

// LimitResult is the outcome of CheckUsageLimit. Current, Limit and
// Percentage are meaningful only when Unlimited is false.
type LimitResult struct {
	Allowed    bool
	Unlimited  bool
	Current    int64
	Limit      int64
	Percentage int
	Mode       Mode
	Source     DecisionSource
	Reason     Reason
}

// AccessResult is the outcome of CheckSubscriptionAccess, which checks
// subscription status rather than plan-feature membership. A past_due
// subscription keeps access with a PAYMENT_OVERDUE warning for the grace
// period.
type AccessResult struct {
	Allowed      bool
	Reason       Reason
	Warning      Reason
	Subscription *subscription.Subscription
}
