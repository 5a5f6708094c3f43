package models

import (
	"time"

	"github.com/google/uuid"
)

// ReservationStatus tracks a prospect-list reservation row.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationCompleted ReservationStatus = "completed"
)

// ProspectListRequest is the reservation row that claims the right to create
// a Wiza prospect list for (user, company, application).
type ProspectListRequest struct {
	ID            uuid.UUID         `json:"id"`
	UserID        uuid.UUID         `json:"user_id"`
	CompanyID     string            `json:"company_id"`
	ApplicationID *string           `json:"application_id,omitempty"`
	Status        ReservationStatus `json:"status"`
	ListID        *string           `json:"list_id,omitempty"`
	Attempts      int               `json:"attempts"`
	LastError     *string           `json:"last_error,omitempty"`
	ReservedAt    time.Time         `json:"reserved_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}
