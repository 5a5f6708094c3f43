package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/productcareerlyst/careerlyst/backend/internal/billing"
	"github.com/productcareerlyst/careerlyst/backend/internal/models"
)

// cancelAtTolerance is how close cancel_at must be to the period end to count
// as a cancellation scheduled for renewal time.
const cancelAtTolerance = 86400.0

// maxEpochMillis is the largest magnitude a valid calendar instant can have.
const maxEpochMillis = 8.64e15

// periodShape names where a subscription keeps its billing period.
type periodShape int

const (
	shapeUnresolved periodShape = iota
	// shapeSubscription: classic billing, fields on the subscription.
	shapeSubscription
	// shapeItem: flexible billing, fields on each line item.
	shapeItem
)

func (s periodShape) String() string {
	switch s {
	case shapeSubscription:
		return "subscription"
	case shapeItem:
		return "item"
	}
	return "unresolved"
}

// Period is the normalized billing period of a subscription.
type Period struct {
	Start time.Time
	End   time.Time
	// Source records which layout the values came from.
	Source string
}

// Inverted reports a period whose end does not follow its start. Such
// periods are stored as received.
func (p Period) Inverted() bool {
	return !p.End.After(p.Start)
}

// probePeriod picks the layout that carries both period fields. Subscription
// level wins when both are present there; only then is the first item tried.
func probePeriod(sub *billing.RawSubscription) (periodShape, json.RawMessage, json.RawMessage) {
	if present(sub.CurrentPeriodStart) && present(sub.CurrentPeriodEnd) {
		return shapeSubscription, sub.CurrentPeriodStart, sub.CurrentPeriodEnd
	}
	if item, ok := sub.FirstItem(); ok && present(item.CurrentPeriodStart) && present(item.CurrentPeriodEnd) {
		return shapeItem, item.CurrentPeriodStart, item.CurrentPeriodEnd
	}
	return shapeUnresolved, nil, nil
}

// ExtractPeriod returns the subscription's current period. It fails with
// models.ErrValidation when neither layout yields two valid instants; callers
// must not write a snapshot in that case.
func ExtractPeriod(sub *billing.RawSubscription) (Period, error) {
	shape, rawStart, rawEnd := probePeriod(sub)
	if shape == shapeUnresolved {
		return Period{}, fmt.Errorf("reconcile: subscription %s has no current period: %w", sub.ID, models.ErrValidation)
	}

	start, ok := epochToTime(rawStart)
	if !ok {
		return Period{}, fmt.Errorf("reconcile: subscription %s: invalid current_period_start %s: %w", sub.ID, rawStart, models.ErrValidation)
	}
	end, ok := epochToTime(rawEnd)
	if !ok {
		return Period{}, fmt.Errorf("reconcile: subscription %s: invalid current_period_end %s: %w", sub.ID, rawEnd, models.ErrValidation)
	}
	return Period{Start: start, End: end, Source: shape.String()}, nil
}

// CancelsAtPeriodEnd reports cancellation intent. The explicit flag wins;
// otherwise a cancel_at within a day of the period end counts, since flexible
// billing only exposes the timestamp.
func CancelsAtPeriodEnd(sub *billing.RawSubscription, period Period) bool {
	if sub.CancelAtPeriodEnd {
		return true
	}
	cancelAt, ok := epochSeconds(sub.CancelAt)
	if !ok {
		return false
	}
	periodEnd := float64(period.End.Unix()) + float64(period.End.Nanosecond())/float64(time.Second)
	return math.Abs(cancelAt-periodEnd) <= cancelAtTolerance
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// epochSeconds decodes a finite JSON number of seconds.
func epochSeconds(raw json.RawMessage) (float64, bool) {
	if !present(raw) {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// epochToTime converts epoch seconds to a UTC instant, rejecting values
// outside the representable calendar range.
func epochToTime(raw json.RawMessage) (time.Time, bool) {
	secs, ok := epochSeconds(raw)
	if !ok || math.Abs(secs*1000) > maxEpochMillis {
		return time.Time{}, false
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC(), true
}

// optionalTime converts an optional timestamp; absent or invalid is nil.
func optionalTime(raw json.RawMessage) *time.Time {
	t, ok := epochToTime(raw)
	if !ok {
		return nil
	}
	return &t
}
