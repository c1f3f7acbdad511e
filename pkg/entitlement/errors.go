package entitlement

import "errors"

var ErrOverrideSourceFailed = errors.New("entitlement: override source failed")
