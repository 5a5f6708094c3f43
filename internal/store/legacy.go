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

// GetBubbleUserByEmail returns the legacy export row for email, matched
// case-insensitively.
func (s *Store) GetBubbleUserByEmail(ctx context.Context, email string) (*models.BubbleUser, error) {
	var (
		u          models.BubbleUser
		customerID sql.NullString
		matchedID  uuid.NullUUID
		matchedAt  sql.NullTime
		planLabel  sql.NullString
		frequency  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, plan_label, billing_frequency, stripe_customer_id,
		        matched_user_id, matched_at, created_at
		 FROM bubble_users
		 WHERE LOWER(email) = LOWER($1)
		 LIMIT 1`, email,
	).Scan(&u.ID, &u.Email, &planLabel, &frequency, &customerID, &matchedID, &matchedAt, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: no legacy user for %s: %w", email, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup legacy user: %w", err)
	}

	u.PlanLabel = planLabel.String
	u.BillingFrequency = frequency.String
	u.StripeCustomerID = nullStringPtr(customerID)
	if matchedID.Valid {
		id := matchedID.UUID
		u.MatchedUserID = &id
	}
	u.MatchedAt = nullTimePtr(matchedAt)
	return &u, nil
}

// MarkBubbleUserMatched links a legacy row to an account. Only the first
// match sticks; later calls leave the row alone.
func (s *Store) MarkBubbleUserMatched(ctx context.Context, id int64, userID uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE bubble_users
		 SET matched_user_id = $2, matched_at = $3
		 WHERE id = $1 AND matched_user_id IS NULL`,
		id, userID, at)
	if err != nil {
		return fmt.Errorf("store: mark legacy user %d matched: %w", id, err)
	}
	return nil
}

// BubbleImportRow is one record of the Bubble CSV export.
type BubbleImportRow struct {
	Email            string
	PlanLabel        string
	BillingFrequency string
	StripeCustomerID string
}

// ImportBubbleUsers inserts rows that are not present yet and returns how
// many were added. Existing rows are never overwritten so matches survive a
// re-import.
func (s *Store) ImportBubbleUsers(ctx context.Context, rows []BubbleImportRow) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin bubble import tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO bubble_users (email, plan_label, billing_frequency, stripe_customer_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (LOWER(email)) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("store: prepare bubble import: %w", err)
	}
	defer stmt.Close()

	var inserted int64
	for _, row := range rows {
		customer := row.StripeCustomerID
		res, err := stmt.ExecContext(ctx, row.Email, row.PlanLabel, row.BillingFrequency, nullableString(&customer))
		if err != nil {
			return 0, fmt.Errorf("store: import bubble user %s: %w", row.Email, err)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit bubble import: %w", err)
	}
	return inserted, nil
}
