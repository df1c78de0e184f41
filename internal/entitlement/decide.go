// Package entitlement decides whether a tenant may use the product right now.
package entitlement

import (
	"math"
	"time"

	tenantdomain "github.com/smallbiznis/schoolhub/internal/tenant/domain"
)

// Code is a machine readable denial reason.
type Code string

const (
	CodeTrialExpired          Code = "TRIAL_EXPIRED"
	CodeSubscriptionExpired   Code = "SUBSCRIPTION_EXPIRED"
	CodeSubscriptionSuspended Code = "SUBSCRIPTION_SUSPENDED"
)

const (
	HeaderTrialDaysLeft        = "X-Trial-Days-Left"
	HeaderSubscriptionDaysLeft = "X-Subscription-Days-Left"
	HeaderGraceDaysLeft        = "X-Grace-Days-Left"
)

// Actor is the caller on whose behalf a tenant request runs.
type Actor struct {
	Subject string
	Role    string
}

type Policy struct {
	GracePeriod   time.Duration
	PlatformRoles []string
}

// IsPlatformRole reports whether role bypasses every entitlement check.
func (p Policy) IsPlatformRole(role string) bool {
	if role == "" {
		return false
	}
	for _, r := range p.PlatformRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Decision is the outcome of evaluating one snapshot.
type Decision struct {
	Allowed bool
	Code    Code
	Message string

	// Header and DaysLeft describe the warning header on allowed,
	// time-limited states. Header is empty when none applies.
	Header   string
	DaysLeft int

	// FailOpen marks an allow granted for an unrecognized status.
	FailOpen bool

	Status                tenantdomain.SubscriptionStatus
	TrialEndsAt           *time.Time
	SubscriptionExpiresAt *time.Time
	GraceEndsAt           *time.Time
}

// SnapshotPatch is a lazy expiry the caller must persist.
type SnapshotPatch struct {
	From tenantdomain.SubscriptionStatus
	To   tenantdomain.SubscriptionStatus
}

// Decide evaluates snap at now. It performs no I/O; a non-nil patch must be
// applied conditionally on the From status.
func Decide(snap tenantdomain.Snapshot, actor Actor, now time.Time, policy Policy) (Decision, *SnapshotPatch) {
	d := Decision{
		Status:                snap.Status,
		TrialEndsAt:           snap.TrialEndsAt,
		SubscriptionExpiresAt: snap.SubscriptionExpiresAt,
	}

	if policy.IsPlatformRole(actor.Role) {
		d.Allowed = true
		return d, nil
	}

	var patch *SnapshotPatch
	status := snap.Status

	switch status {
	case tenantdomain.StatusSuspended:
		d.Code = CodeSubscriptionSuspended
		d.Message = "Your school's subscription has been suspended. Contact support."
		return d, nil

	case tenantdomain.StatusTrial:
		if snap.TrialEndsAt != nil && now.After(*snap.TrialEndsAt) {
			d.Status = tenantdomain.StatusExpired
			d.Code = CodeTrialExpired
			d.Message = "Your free trial has ended. Choose a plan to continue."
			return d, &SnapshotPatch{From: tenantdomain.StatusTrial, To: tenantdomain.StatusExpired}
		}
		d.Allowed = true
		if snap.TrialEndsAt != nil {
			d.Header = HeaderTrialDaysLeft
			d.DaysLeft = daysLeft(*snap.TrialEndsAt, now)
		}
		return d, nil

	case tenantdomain.StatusActive:
		if snap.SubscriptionExpiresAt == nil || !snap.SubscriptionExpiresAt.Before(now) {
			d.Allowed = true
			if snap.SubscriptionExpiresAt != nil {
				d.Header = HeaderSubscriptionDaysLeft
				d.DaysLeft = daysLeft(*snap.SubscriptionExpiresAt, now)
			}
			return d, nil
		}
		patch = &SnapshotPatch{From: tenantdomain.StatusActive, To: tenantdomain.StatusExpired}
		status = tenantdomain.StatusExpired
		d.Status = status
	}

	if status == tenantdomain.StatusExpired {
		expiry := now
		switch {
		case snap.SubscriptionExpiresAt != nil:
			expiry = *snap.SubscriptionExpiresAt
		case snap.TrialEndsAt != nil:
			expiry = *snap.TrialEndsAt
		}
		graceEnd := expiry.Add(policy.GracePeriod)
		d.GraceEndsAt = &graceEnd

		if now.After(graceEnd) {
			d.Code = CodeSubscriptionExpired
			d.Message = "Your subscription has expired. Renew to restore access."
			return d, patch
		}
		d.Allowed = true
		d.Header = HeaderGraceDaysLeft
		d.DaysLeft = daysLeft(graceEnd, now)
		return d, patch
	}

	d.Allowed = true
	d.FailOpen = true
	return d, nil
}

// daysLeft rounds the remaining time up to whole days, never below zero.
func daysLeft(deadline, now time.Time) int {
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}
