package entitlement

import (
	"errors"
	"time"
)

var ErrDenied = errors.New("entitlement_denied")

// DenyError carries a denial to the HTTP layer.
type DenyError struct {
	Code                  Code
	Message               string
	TrialEndsAt           *time.Time
	SubscriptionExpiresAt *time.Time
	GraceEndsAt           *time.Time
}

func (e *DenyError) Error() string {
	return string(e.Code)
}

func (e *DenyError) Is(target error) bool {
	return target == ErrDenied
}

// Details returns the timestamps relevant to the denial.
func (e *DenyError) Details() map[string]any {
	details := map[string]any{}
	if e.TrialEndsAt != nil {
		details["trial_ends_at"] = e.TrialEndsAt.UTC()
	}
	if e.SubscriptionExpiresAt != nil {
		details["subscription_expires_at"] = e.SubscriptionExpiresAt.UTC()
	}
	if e.GraceEndsAt != nil {
		details["grace_ends_at"] = e.GraceEndsAt.UTC()
	}
	return details
}

// Err converts a denying decision into a *DenyError. It returns nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DenyError{
		Code:                  d.Code,
		Message:               d.Message,
		TrialEndsAt:           d.TrialEndsAt,
		SubscriptionExpiresAt: d.SubscriptionExpiresAt,
		GraceEndsAt:           d.GraceEndsAt,
	}
}
