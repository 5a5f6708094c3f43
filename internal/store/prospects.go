package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/productcareerlyst/careerlyst/backend/internal/models"
)

// ErrReservationExists is returned when another request already holds the
// reservation for the same (user, company, application) key.
var ErrReservationExists = errors.New("store: prospect list reservation already exists")

// InsertReservation claims the key with a pending row. A NULL application id
// collides with another NULL for the same user and company.
func (s *Store) InsertReservation(ctx context.Context, req *models.ProspectListRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO prospect_list_requests (id, user_id, company_id, application_id, status, attempts, reserved_at)
		 VALUES ($1, $2, $3, $4, 'pending', 1, now())
		 RETURNING reserved_at`,
		req.ID, req.UserID, req.CompanyID, nullableString(req.ApplicationID),
	).Scan(&req.ReservedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return ErrReservationExists
		}
		return fmt.Errorf("store: insert prospect reservation: %w", err)
	}
	req.Status = models.ReservationPending
	req.Attempts = 1
	return nil
}

// FindReservation loads the row holding the key.
func (s *Store) FindReservation(ctx context.Context, userID uuid.UUID, companyID string, applicationID *string) (*models.ProspectListRequest, error) {
	var (
		req       models.ProspectListRequest
		appID     sql.NullString
		listID    sql.NullString
		lastError sql.NullString
		completed sql.NullTime
		status    string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, company_id, application_id, status, list_id, attempts,
		        last_error, reserved_at, completed_at
		 FROM prospect_list_requests
		 WHERE user_id = $1
		   AND company_id = $2
		   AND COALESCE(application_id, '') = COALESCE($3::text, '')`,
		userID, companyID, nullableString(applicationID),
	).Scan(&req.ID, &req.UserID, &req.CompanyID, &appID, &status, &listID, &req.Attempts,
		&lastError, &req.ReservedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: prospect reservation: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: find prospect reservation: %w", err)
	}

	req.ApplicationID = nullStringPtr(appID)
	req.Status = models.ReservationStatus(status)
	req.ListID = nullStringPtr(listID)
	req.LastError = nullStringPtr(lastError)
	req.CompletedAt = nullTimePtr(completed)
	return &req, nil
}

// CompleteReservation records the created list on the reservation.
func (s *Store) CompleteReservation(ctx context.Context, id uuid.UUID, listID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE prospect_list_requests
		 SET status = 'completed', list_id = $2, completed_at = now(), last_error = NULL
		 WHERE id = $1`, id, listID)
	if err != nil {
		return fmt.Errorf("store: complete prospect reservation %s: %w", id, err)
	}
	return nil
}

// RecordReservationFailure keeps the row pending so a later request can take
// it over, and stores the failure for operators.
func (s *Store) RecordReservationFailure(ctx context.Context, id uuid.UUID, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE prospect_list_requests
		 SET last_error = $2
		 WHERE id = $1 AND status = 'pending'`, id, message)
	if err != nil {
		return fmt.Errorf("store: record prospect reservation failure %s: %w", id, err)
	}
	return nil
}

// TakeOverReservation re-claims a pending row last reserved at reservedAt.
// It is a compare-and-swap: only one caller observing the same reservedAt
// wins. The new reservation time is written back into req.
func (s *Store) TakeOverReservation(ctx context.Context, req *models.ProspectListRequest) (bool, error) {
	var reservedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`UPDATE prospect_list_requests
		 SET reserved_at = now(), attempts = attempts + 1, last_error = NULL
		 WHERE id = $1 AND status = 'pending' AND reserved_at = $2
		 RETURNING reserved_at`, req.ID, req.ReservedAt,
	).Scan(&reservedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: take over prospect reservation %s: %w", req.ID, err)
	}
	req.ReservedAt = reservedAt
	req.Attempts++
	return true, nil
}
