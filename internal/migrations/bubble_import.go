package migrations

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/productcareerlyst/careerlyst/backend/internal/store"
)

const bubbleImportJobName = "bubble_users_import"

// Accepted header spellings for each column of the Bubble export.
var bubbleHeaders = map[string][]string{
	"email":     {"email", "user_email", "e-mail"},
	"plan":      {"plan", "plan_label", "plan name", "subscription plan"},
	"frequency": {"billing_frequency", "frequency", "billing frequency", "billing_cycle"},
	"customer":  {"stripe_customer_id", "stripe customer id", "customer_id"},
}

// BubbleImporter persists parsed export rows.
type BubbleImporter interface {
	ImportBubbleUsers(ctx context.Context, rows []store.BubbleImportRow) (int64, error)
}

// ParseBubbleCSV reads a Bubble user export. Columns are located by header
// name; rows without an email are skipped.
func ParseBubbleCSV(r io.Reader) ([]store.BubbleImportRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("migrations: bubble import: empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("migrations: bubble import: read header: %w", err)
	}

	idx := locateColumns(header)
	if _, ok := idx["email"]; !ok {
		return nil, errors.New("migrations: bubble import: no email column")
	}

	var rows []store.BubbleImportRow
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("migrations: bubble import: line %d: %w", line, err)
		}
		email := strings.TrimSpace(field(record, idx, "email"))
		if email == "" {
			continue
		}
		rows = append(rows, store.BubbleImportRow{
			Email:            email,
			PlanLabel:        strings.TrimSpace(field(record, idx, "plan")),
			BillingFrequency: strings.TrimSpace(field(record, idx, "frequency")),
			StripeCustomerID: strings.TrimSpace(field(record, idx, "customer")),
		})
	}
	return rows, nil
}

func locateColumns(header []string) map[string]int {
	idx := make(map[string]int)
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		for key, aliases := range bubbleHeaders {
			if _, seen := idx[key]; seen {
				continue
			}
			for _, alias := range aliases {
				if name == alias {
					idx[key] = i
				}
			}
		}
	}
	return idx
}

func field(record []string, idx map[string]int, key string) string {
	i, ok := idx[key]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}

// ImportBubbleUsers loads rows through importer and records the run in
// migration_jobs. Re-running is safe: existing emails are left untouched.
func ImportBubbleUsers(ctx context.Context, db *sql.DB, importer BubbleImporter, rows []store.BubbleImportRow, logger *zap.Logger) (int64, error) {
	if db == nil || importer == nil {
		return 0, errors.New("migrations: bubble import: db and importer are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	start := time.Now()
	if _, err := db.ExecContext(ctx, `
INSERT INTO migration_jobs (job_name, status, run_count, started_at, last_error)
VALUES ($1, 'started', 1, now(), NULL)
ON CONFLICT (job_name) DO UPDATE
SET status = 'started',
    run_count = migration_jobs.run_count + 1,
    started_at = now(),
    completed_at = NULL,
    last_error = NULL`, bubbleImportJobName); err != nil {
		return 0, fmt.Errorf("migrations: bubble import: record job start: %w", err)
	}

	inserted, importErr := importer.ImportBubbleUsers(ctx, rows)
	if importErr != nil {
		_, _ = db.ExecContext(ctx, `
UPDATE migration_jobs
SET status = 'failed', completed_at = NULL, last_error = $2
WHERE job_name = $1`, bubbleImportJobName, importErr.Error())
		return 0, importErr
	}

	if _, err := db.ExecContext(ctx, `
UPDATE migration_jobs
SET status = 'completed', completed_at = now(), last_error = NULL, rows_imported = rows_imported + $2
WHERE job_name = $1`, bubbleImportJobName, inserted); err != nil {
		logger.Warn("migrations: bubble import: record completion failed", zap.Error(err))
	}

	logger.Info("migrations: bubble import finished",
		zap.Int("rows_read", len(rows)),
		zap.Int64("rows_inserted", inserted),
		zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)),
	)
	return inserted, nil
}
