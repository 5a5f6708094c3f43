package models

import "strings"

// Plan is the subscription tier a user is billed for.
type Plan string

const (
	PlanLearn      Plan = "learn"
	PlanAccelerate Plan = "accelerate"
)

// PlanFromLabel maps a free-form plan label (legacy export or provider
// metadata) to a tier. Labels mentioning "accelerate" or "pro" are the paid
// tier; everything else is learn.
func PlanFromLabel(label string) Plan {
	l := strings.ToLower(label)
	if strings.Contains(l, "accelerate") || strings.Contains(l, "pro") {
		return PlanAccelerate
	}
	return PlanLearn
}

// BillingCadence is how often a subscription renews.
type BillingCadence string

const (
	CadenceMonthly   BillingCadence = "monthly"
	CadenceQuarterly BillingCadence = "quarterly"
	CadenceYearly    BillingCadence = "yearly"
)

// CadenceFromLabel maps a frequency label such as "Monthly", "every quarter"
// or "annual/yearly" to a cadence. The second result is false when the label
// names none of them.
func CadenceFromLabel(label string) (BillingCadence, bool) {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "month"):
		return CadenceMonthly, true
	case strings.Contains(l, "quarter"):
		return CadenceQuarterly, true
	case strings.Contains(l, "year"):
		return CadenceYearly, true
	}
	return "", false
}

// SubscriptionStatus mirrors the billing provider's lifecycle states.
type SubscriptionStatus string

const (
	StatusActive            SubscriptionStatus = "active"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusUnpaid            SubscriptionStatus = "unpaid"
	StatusPaused            SubscriptionStatus = "paused"
)

var knownStatuses = map[SubscriptionStatus]struct{}{
	StatusActive:            {},
	StatusTrialing:          {},
	StatusPastDue:           {},
	StatusCanceled:          {},
	StatusIncomplete:        {},
	StatusIncompleteExpired: {},
	StatusUnpaid:            {},
	StatusPaused:            {},
}

// NormalizeStatus returns the matching status, or StatusIncomplete for
// anything the provider sends that we do not recognize.
func NormalizeStatus(raw string) SubscriptionStatus {
	s := SubscriptionStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := knownStatuses[s]; ok {
		return s
	}
	return StatusIncomplete
}
