package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// UnpublishPortfolios hides every published portfolio of the user and
// returns how many changed.
func (s *Store) UnpublishPortfolios(ctx context.Context, userID uuid.UUID) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE portfolios
		 SET is_published = false, updated_at = now()
		 WHERE user_id = $1 AND is_published = true`, userID)
	if err != nil {
		return 0, fmt.Errorf("store: unpublish portfolios for %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: unpublish portfolios rows affected: %w", err)
	}
	return n, nil
}
