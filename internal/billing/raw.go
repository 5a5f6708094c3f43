// Package billing talks to the billing provider and decodes its objects into
// shapes the reconciliation code can reason about.
package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RawSubscription is a provider subscription decoded straight from its JSON.
// Period and timestamp fields stay raw so the extractor can tell a missing
// value from a malformed one, and so both the classic (subscription-level)
// and flexible (item-level) period layouts survive decoding.
type RawSubscription struct {
	ID                 string            `json:"id"`
	Customer           ObjectRef         `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CancelAt           json.RawMessage   `json:"cancel_at,omitempty"`
	CanceledAt         json.RawMessage   `json:"canceled_at,omitempty"`
	TrialStart         json.RawMessage   `json:"trial_start,omitempty"`
	TrialEnd           json.RawMessage   `json:"trial_end,omitempty"`
	CurrentPeriodStart json.RawMessage   `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   json.RawMessage   `json:"current_period_end,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	Items              ItemList          `json:"items"`
}

// RawItem is one subscription line item.
type RawItem struct {
	ID                 string          `json:"id"`
	Price              RawPrice        `json:"price"`
	CurrentPeriodStart json.RawMessage `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   json.RawMessage `json:"current_period_end,omitempty"`
}

type RawPrice struct {
	ID        string            `json:"id"`
	Recurring *Recurring        `json:"recurring,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type Recurring struct {
	Interval      string `json:"interval"`
	IntervalCount int64  `json:"interval_count,omitempty"`
}

// ItemList accepts both the provider's list envelope ({"data": [...]}) and a
// bare array of items.
type ItemList struct {
	Data []RawItem `json:"data"`
}

func (l *ItemList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		l.Data = nil
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, &l.Data)
	}
	var envelope struct {
		Data []RawItem `json:"data"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return fmt.Errorf("billing: decode items: %w", err)
	}
	l.Data = envelope.Data
	return nil
}

// ObjectRef is a field the provider may send either as an id string or as an
// expanded object carrying an "id".
type ObjectRef struct {
	ID string
}

func (r *ObjectRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		r.ID = ""
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &r.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("billing: decode object reference: %w", err)
	}
	r.ID = obj.ID
	return nil
}

func (r ObjectRef) MarshalJSON() ([]byte, error) {
	if r.ID == "" {
		return []byte("null"), nil
	}
	return json.Marshal(r.ID)
}

// FirstItem returns the first line item, if any.
func (s *RawSubscription) FirstItem() (RawItem, bool) {
	if len(s.Items.Data) == 0 {
		return RawItem{}, false
	}
	return s.Items.Data[0], true
}

// UserID returns the owning account id the checkout flow stamps into metadata.
func (s *RawSubscription) UserID() string {
	return s.Metadata["user_id"]
}

// CheckoutSession is the subset of a completed checkout session the worker needs.
type CheckoutSession struct {
	ID                string    `json:"id"`
	Mode              string    `json:"mode"`
	ClientReferenceID string    `json:"client_reference_id"`
	Customer          ObjectRef `json:"customer"`
	Subscription      ObjectRef `json:"subscription"`
	CustomerEmail     string    `json:"customer_email"`
}

// DecodeSubscription parses a single provider subscription object.
func DecodeSubscription(raw []byte) (*RawSubscription, error) {
	var sub RawSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("billing: decode subscription: %w", err)
	}
	return &sub, nil
}
