package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/productcareerlyst/careerlyst/backend/internal/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return &Store{db: db}, mock
}

func TestNewStoreValidation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = NewJobStore(nil)
	assert.Error(t, err)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("23505")))
}

func TestUpsertSubscription(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sub := &models.Subscription{
		UserID:                 uuid.New(),
		ProviderCustomerID:     "cus_1",
		ProviderSubscriptionID: "sub_1",
		Plan:                   models.PlanAccelerate,
		BillingCadence:         models.CadenceQuarterly,
		Status:                 models.StatusActive,
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       now.AddDate(0, 3, 0),
	}

	mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT (provider_subscription_id) DO UPDATE`)).
		WithArgs(sub.UserID, "cus_1", "sub_1", "", "accelerate", "quarterly", "active",
			sub.CurrentPeriodStart, sub.CurrentPeriodEnd, false, nil, nil, nil, false, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(7, now, now))

	require.NoError(t, s.UpsertSubscription(context.Background(), sub))
	assert.EqualValues(t, 7, sub.ID)
	assert.Equal(t, now, sub.UpdatedAt)
}

// Bigserial keys may come back from the driver in text form.
func TestUpsertSubscriptionScansBigserialID(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sub := &models.Subscription{
		UserID:                 uuid.New(),
		ProviderCustomerID:     "cus_1",
		ProviderSubscriptionID: "sub_1",
		Plan:                   models.PlanLearn,
		BillingCadence:         models.CadenceMonthly,
		Status:                 models.StatusActive,
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       now.AddDate(0, 1, 0),
	}

	mock.ExpectQuery(`INSERT INTO subscriptions`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow([]byte("9007199254740993"), now, now))

	require.NoError(t, s.UpsertSubscription(context.Background(), sub))
	assert.EqualValues(t, int64(9007199254740993), sub.ID)
}

func TestUpsertSubscriptionNil(t *testing.T) {
	s, _ := newMockStore(t)
	assert.Error(t, s.UpsertSubscription(context.Background(), nil))
}

func TestLatestSubscriptionForUserNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	userID := uuid.New()

	mock.ExpectQuery(`FROM subscriptions\s+WHERE user_id = \$1`).
		WithArgs(userID).
		WillReturnError(sql.ErrNoRows)

	_, err := s.LatestSubscriptionForUser(context.Background(), userID)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestGetSubscriptionByProviderID(t *testing.T) {
	s, mock := newMockStore(t)
	userID := uuid.New()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	xfr := now.Add(-time.Hour)

	cols := []string{"id", "user_id", "provider_customer_id", "provider_subscription_id", "provider_price_id",
		"plan", "billing_cadence", "status", "current_period_start", "current_period_end",
		"cancel_at_period_end", "canceled_at", "trial_start", "trial_end",
		"transferred_from_bubble", "transferred_at", "created_at", "updated_at"}
	mock.ExpectQuery(`WHERE provider_subscription_id = \$1`).
		WithArgs("sub_1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			[]byte("3"), userID.String(), "cus_1", "sub_1", nil,
			"learn", "monthly", "past_due", now, now.AddDate(0, 1, 0),
			true, nil, nil, nil,
			true, xfr, now, now))

	sub, err := s.GetSubscriptionByProviderID(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, userID, sub.UserID)
	assert.Equal(t, models.PlanLearn, sub.Plan)
	assert.Equal(t, models.CadenceMonthly, sub.BillingCadence)
	assert.Equal(t, models.SubscriptionStatus("past_due"), sub.Status)
	assert.Empty(t, sub.ProviderPriceID)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Nil(t, sub.CanceledAt)
	require.NotNil(t, sub.TransferredAt)
	assert.Equal(t, xfr, *sub.TransferredAt)
}

func TestGetBubbleUserByEmail(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`WHERE LOWER\(email\) = LOWER\(\$1\)`).
		WithArgs("Ada@Example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "plan_label", "billing_frequency",
			"stripe_customer_id", "matched_user_id", "matched_at", "created_at"}).
			AddRow(11, "ada@example.com", "Accelerate", "Quarterly", "cus_9", nil, nil, created))

	u, err := s.GetBubbleUserByEmail(context.Background(), "Ada@Example.com")
	require.NoError(t, err)
	assert.EqualValues(t, 11, u.ID)
	assert.Equal(t, "Accelerate", u.PlanLabel)
	require.NotNil(t, u.StripeCustomerID)
	assert.Equal(t, "cus_9", *u.StripeCustomerID)
	assert.False(t, u.Matched())
}

func TestGetBubbleUserByEmailNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM bubble_users`).WithArgs("nobody@example.com").WillReturnError(sql.ErrNoRows)

	_, err := s.GetBubbleUserByEmail(context.Background(), "nobody@example.com")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestMarkBubbleUserMatched(t *testing.T) {
	s, mock := newMockStore(t)
	userID := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec(`UPDATE bubble_users\s+SET matched_user_id = \$2, matched_at = \$3\s+WHERE id = \$1 AND matched_user_id IS NULL`).
		WithArgs(int64(11), userID, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkBubbleUserMatched(context.Background(), 11, userID, at))
}

func TestImportBubbleUsersSkipsExisting(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO bubble_users`)
	prep.ExpectExec().WithArgs("a@example.com", "Learn", "Monthly", "cus_a").WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WithArgs("b@example.com", "Accelerate", "Yearly", nil).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	n, err := s.ImportBubbleUsers(context.Background(), []BubbleImportRow{
		{Email: "a@example.com", PlanLabel: "Learn", BillingFrequency: "Monthly", StripeCustomerID: "cus_a"},
		{Email: "b@example.com", PlanLabel: "Accelerate", BillingFrequency: "Yearly"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestUnpublishPortfolios(t *testing.T) {
	s, mock := newMockStore(t)
	userID := uuid.New()

	mock.ExpectExec(`UPDATE portfolios\s+SET is_published = false`).
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.UnpublishPortfolios(context.Background(), userID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestInsertReservation(t *testing.T) {
	s, mock := newMockStore(t)
	reserved := time.Now().UTC()
	req := &models.ProspectListRequest{UserID: uuid.New(), CompanyID: "c1"}

	mock.ExpectQuery(`INSERT INTO prospect_list_requests`).
		WithArgs(sqlmock.AnyArg(), req.UserID, "c1", nil).
		WillReturnRows(sqlmock.NewRows([]string{"reserved_at"}).AddRow(reserved))

	require.NoError(t, s.InsertReservation(context.Background(), req))
	assert.NotEqual(t, uuid.Nil, req.ID)
	assert.Equal(t, models.ReservationPending, req.Status)
	assert.Equal(t, 1, req.Attempts)
	assert.Equal(t, reserved, req.ReservedAt)
}

func TestInsertReservationDuplicate(t *testing.T) {
	s, mock := newMockStore(t)
	appID := "app_1"
	req := &models.ProspectListRequest{UserID: uuid.New(), CompanyID: "c1", ApplicationID: &appID}

	mock.ExpectQuery(`INSERT INTO prospect_list_requests`).
		WithArgs(sqlmock.AnyArg(), req.UserID, "c1", "app_1").
		WillReturnError(&pq.Error{Code: "23505"})

	err := s.InsertReservation(context.Background(), req)
	assert.True(t, errors.Is(err, ErrReservationExists))
}

func TestFindReservation(t *testing.T) {
	s, mock := newMockStore(t)
	id, userID := uuid.New(), uuid.New()
	reserved := time.Now().UTC()

	mock.ExpectQuery(`FROM prospect_list_requests`).
		WithArgs(userID, "c1", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "company_id", "application_id", "status",
			"list_id", "attempts", "last_error", "reserved_at", "completed_at"}).
			AddRow(id.String(), userID.String(), "c1", nil, "completed", "list_1", 1, nil, reserved, reserved))

	req, err := s.FindReservation(context.Background(), userID, "c1", nil)
	require.NoError(t, err)
	assert.Equal(t, id, req.ID)
	assert.Equal(t, models.ReservationCompleted, req.Status)
	require.NotNil(t, req.ListID)
	assert.Equal(t, "list_1", *req.ListID)
	assert.Nil(t, req.ApplicationID)
}

func TestTakeOverReservation(t *testing.T) {
	s, mock := newMockStore(t)
	old := time.Now().Add(-time.Hour).UTC()
	fresh := time.Now().UTC()
	req := &models.ProspectListRequest{ID: uuid.New(), ReservedAt: old, Attempts: 1}

	mock.ExpectQuery(`SET reserved_at = now\(\), attempts = attempts \+ 1`).
		WithArgs(req.ID, old).
		WillReturnRows(sqlmock.NewRows([]string{"reserved_at"}).AddRow(fresh))

	won, err := s.TakeOverReservation(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, won)
	assert.Equal(t, fresh, req.ReservedAt)
	assert.Equal(t, 2, req.Attempts)
}

func TestTakeOverReservationLost(t *testing.T) {
	s, mock := newMockStore(t)
	req := &models.ProspectListRequest{ID: uuid.New(), ReservedAt: time.Now().UTC(), Attempts: 1}

	mock.ExpectQuery(`UPDATE prospect_list_requests`).
		WithArgs(req.ID, req.ReservedAt).
		WillReturnError(sql.ErrNoRows)

	won, err := s.TakeOverReservation(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, won)
	assert.Equal(t, 1, req.Attempts)
}

func TestCompleteAndFailReservation(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`SET last_error = \$2\s+WHERE id = \$1 AND status = 'pending'`).
		WithArgs(id, "wiza down").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'completed', list_id = \$2`).
		WithArgs(id, "list_1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.RecordReservationFailure(context.Background(), id, "wiza down"))
	require.NoError(t, s.CompleteReservation(context.Background(), id, "list_1"))
}

func newMockJobStore(t *testing.T) (*JobStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return &JobStore{db: db}, mock
}

func TestEnqueueOnce(t *testing.T) {
	js, mock := newMockJobStore(t)
	now := time.Now().UTC()
	job := &models.Job{JobType: models.JobTypeSubscriptionEvent, MaxAttempts: 5, Priority: models.JobPriorityHigh}

	mock.ExpectQuery(`ON CONFLICT \(dedup_key\) WHERE dedup_key IS NOT NULL DO NOTHING`).
		WithArgs(models.JobTypeSubscriptionEvent, sqlmock.AnyArg(), models.JobStatusPending, models.JobPriorityHigh,
			5, nil, sqlmock.AnyArg(), "stripe:evt_1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(42, now, now))

	created, err := js.EnqueueOnce(context.Background(), job, "stripe:evt_1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.EqualValues(t, 42, job.ID)
	assert.Equal(t, models.JobStatusPending, job.Status)
}

func TestEnqueueOnceDuplicate(t *testing.T) {
	js, mock := newMockJobStore(t)
	job := &models.Job{JobType: models.JobTypeCheckoutCompleted, MaxAttempts: 5}

	mock.ExpectQuery(`INSERT INTO jobs`).WillReturnError(sql.ErrNoRows)

	created, err := js.EnqueueOnce(context.Background(), job, "stripe:evt_1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Zero(t, job.ID)
}

func TestEnqueueValidation(t *testing.T) {
	js, _ := newMockJobStore(t)

	_, err := js.EnqueueOnce(context.Background(), &models.Job{JobType: "x", MaxAttempts: 1}, "")
	assert.Error(t, err)
	assert.Error(t, js.Enqueue(context.Background(), &models.Job{MaxAttempts: 1}))
}

func TestClaimNextJobEmptyQueue(t *testing.T) {
	js, mock := newMockJobStore(t)
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).WithArgs("worker-1").WillReturnError(sql.ErrNoRows)

	job, err := js.ClaimNextJob(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestGetByIDNotFound(t *testing.T) {
	js, mock := newMockJobStore(t)
	mock.ExpectQuery(`FROM jobs WHERE id = \$1`).WithArgs(int64(9)).WillReturnError(sql.ErrNoRows)

	_, err := js.GetByID(context.Background(), 9)
	assert.True(t, errors.Is(err, ErrJobNotFound))
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestCancelJobNotCancellable(t *testing.T) {
	js, mock := newMockJobStore(t)
	mock.ExpectExec(`SET status = 'cancelled'`).WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 0))

	err := js.CancelJob(context.Background(), 3)
	assert.True(t, errors.Is(err, ErrJobNotCancellable))
	assert.True(t, errors.Is(err, models.ErrConflict))
}

func TestGetStats(t *testing.T) {
	js, mock := newMockJobStore(t)
	mock.ExpectQuery(`COUNT\(\*\) FILTER`).
		WillReturnRows(sqlmock.NewRows([]string{"p", "pr", "c", "f", "x", "t"}).AddRow(1, 2, 3, 4, 5, 15))

	stats, err := js.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &models.JobStats{Pending: 1, Processing: 2, Completed: 3, Failed: 4, Cancelled: 5, Total: 15}, stats)
}

func TestCleanupOldJobs(t *testing.T) {
	js, mock := newMockJobStore(t)
	mock.ExpectExec(`DELETE FROM jobs`).WithArgs(float64(86400)).WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := js.CleanupOldJobs(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 12, n)
}
