// Package prospects creates at most one Wiza prospect list per
// (user, company, application). A unique index on the reservation table acts
// as the mutex; losers poll the winner's row for the finished list.
package prospects

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/productcareerlyst/careerlyst/backend/internal/metrics"
	"github.com/productcareerlyst/careerlyst/backend/internal/models"
	"github.com/productcareerlyst/careerlyst/backend/internal/store"
	"github.com/productcareerlyst/careerlyst/backend/internal/tracing"
	"github.com/productcareerlyst/careerlyst/backend/internal/wiza"
)

const (
	DefaultPollInterval = 200 * time.Millisecond
	DefaultWaitTimeout  = 2 * time.Second
	DefaultStaleAfter   = 2 * time.Minute
)

// Reservation outcomes, used as the metrics label.
const (
	OutcomeCreated   = "created"
	OutcomeReused    = "reused"
	OutcomeTakenOver = "taken_over"
	OutcomeConflict  = "conflict"
	OutcomeUpstream  = "upstream_error"
	OutcomeError     = "error"
)

var errStillPending = errors.New("prospects: reservation still pending")

// ReservationStore persists reservation rows.
type ReservationStore interface {
	InsertReservation(ctx context.Context, req *models.ProspectListRequest) error
	FindReservation(ctx context.Context, userID uuid.UUID, companyID string, applicationID *string) (*models.ProspectListRequest, error)
	CompleteReservation(ctx context.Context, id uuid.UUID, listID string) error
	RecordReservationFailure(ctx context.Context, id uuid.UUID, message string) error
	TakeOverReservation(ctx context.Context, req *models.ProspectListRequest) (bool, error)
}

// Lists is the Wiza surface the service needs.
type Lists interface {
	CreateProspectList(ctx context.Context, req wiza.ListRequest) (*wiza.List, error)
	GetList(ctx context.Context, listID string) (*wiza.List, error)
}

// Request identifies the company to prospect.
type Request struct {
	CompanyID     string  `json:"company_id"`
	CompanyName   string  `json:"company_name"`
	CompanyDomain string  `json:"company_domain"`
	ApplicationID *string `json:"application_id,omitempty"`
}

// Result is returned to the caller. Reused is true when another request
// created the list.
type Result struct {
	ListID        string    `json:"list_id"`
	Status        string    `json:"status,omitempty"`
	Reused        bool      `json:"reused"`
	ReservationID uuid.UUID `json:"reservation_id"`
	Attempts      int       `json:"attempts"`
}

type Config struct {
	PollInterval time.Duration
	WaitTimeout  time.Duration
	StaleAfter   time.Duration
}

type Service struct {
	store   ReservationStore
	lists   Lists
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l.Named("prospects") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService fills zero durations with the defaults.
func NewService(rs ReservationStore, lists Lists, cfg Config, opts ...Option) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	s := &Service{
		store:  rs,
		lists:  lists,
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ensure returns the prospect list for the key, creating it when this call
// wins the reservation.
func (s *Service) Ensure(ctx context.Context, userID uuid.UUID, req Request) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "prospects.Ensure",
		attribute.String("user.id", userID.String()),
		attribute.String("company.id", req.CompanyID),
	)
	defer span.End()

	res, outcome, err := s.ensure(ctx, userID, req)
	tracing.RecordError(span, err)
	span.SetAttributes(attribute.String("reservation.outcome", outcome))
	s.metrics.ObserveReservation(outcome)
	return res, err
}

func (s *Service) ensure(ctx context.Context, userID uuid.UUID, req Request) (*Result, string, error) {
	req.CompanyID = strings.TrimSpace(req.CompanyID)
	if req.ApplicationID != nil && strings.TrimSpace(*req.ApplicationID) == "" {
		req.ApplicationID = nil
	}
	if req.CompanyID == "" {
		return nil, OutcomeError, fmt.Errorf("prospects: company_id is required: %w", models.ErrValidation)
	}
	if req.CompanyName == "" && req.CompanyDomain == "" {
		return nil, OutcomeError, fmt.Errorf("prospects: company_name or company_domain is required: %w", models.ErrValidation)
	}

	resv := &models.ProspectListRequest{
		UserID:        userID,
		CompanyID:     req.CompanyID,
		ApplicationID: req.ApplicationID,
	}
	err := s.store.InsertReservation(ctx, resv)
	switch {
	case err == nil:
		res, err := s.create(ctx, resv, req)
		if err != nil {
			return nil, failureOutcome(err), err
		}
		return res, OutcomeCreated, nil
	case errors.Is(err, store.ErrReservationExists):
		return s.await(ctx, userID, req)
	default:
		return nil, OutcomeError, fmt.Errorf("prospects: reserve: %w: %w", models.ErrPersistence, err)
	}
}

// await polls the winner's row until it carries a list id, the row goes
// stale and is taken over, or the wait budget runs out.
func (s *Service) await(ctx context.Context, userID uuid.UUID, req Request) (*Result, string, error) {
	start := s.now()
	defer func() { s.metrics.ObserveReservationWait(s.now().Sub(start)) }()

	var (
		row      *models.ProspectListRequest
		takeover bool
	)
	backoff := retry.WithMaxDuration(s.cfg.WaitTimeout, retry.NewConstant(s.cfg.PollInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		found, err := s.store.FindReservation(ctx, userID, req.CompanyID, req.ApplicationID)
		if errors.Is(err, models.ErrNotFound) {
			return retry.RetryableError(errStillPending)
		}
		if err != nil {
			return fmt.Errorf("prospects: poll reservation: %w: %w", models.ErrPersistence, err)
		}
		if found.ListID != nil && *found.ListID != "" {
			row = found
			return nil
		}
		if found.Status == models.ReservationPending && s.now().Sub(found.ReservedAt) >= s.cfg.StaleAfter {
			won, err := s.store.TakeOverReservation(ctx, found)
			if err != nil {
				return fmt.Errorf("prospects: take over reservation: %w: %w", models.ErrPersistence, err)
			}
			if won {
				row, takeover = found, true
				return nil
			}
		}
		return retry.RetryableError(errStillPending)
	})

	switch {
	case errors.Is(err, errStillPending):
		s.logger.Info("prospect list still pending, giving up",
			zap.String("user_id", userID.String()),
			zap.String("company_id", req.CompanyID),
			zap.Duration("waited", s.now().Sub(start)),
		)
		return nil, OutcomeConflict, fmt.Errorf("prospects: list creation in progress: %w", models.ErrConflict)
	case err != nil:
		return nil, OutcomeError, err
	}

	if takeover {
		s.logger.Warn("taking over stale prospect reservation",
			zap.String("reservation_id", row.ID.String()),
			zap.Int("attempts", row.Attempts),
		)
		res, err := s.create(ctx, row, req)
		if err != nil {
			return nil, failureOutcome(err), err
		}
		return res, OutcomeTakenOver, nil
	}

	return &Result{
		ListID:        *row.ListID,
		Reused:        true,
		ReservationID: row.ID,
		Attempts:      row.Attempts,
	}, OutcomeReused, nil
}

func (s *Service) create(ctx context.Context, resv *models.ProspectListRequest, req Request) (*Result, error) {
	list, err := s.lists.CreateProspectList(ctx, wiza.ListRequest{
		CompanyName:   req.CompanyName,
		CompanyDomain: req.CompanyDomain,
	})
	if err != nil {
		if recErr := s.store.RecordReservationFailure(ctx, resv.ID, err.Error()); recErr != nil {
			s.logger.Error("record reservation failure", zap.String("reservation_id", resv.ID.String()), zap.Error(recErr))
		}
		s.logger.Warn("wiza list creation failed",
			zap.String("reservation_id", resv.ID.String()),
			zap.String("company_id", req.CompanyID),
			zap.Error(err),
		)
		if errors.Is(err, models.ErrUpstream) {
			return nil, fmt.Errorf("prospects: create list: %w", err)
		}
		return nil, fmt.Errorf("prospects: create list: %w: %w", models.ErrUpstream, err)
	}

	if err := s.store.CompleteReservation(ctx, resv.ID, list.ID); err != nil {
		s.logger.Error("complete reservation failed",
			zap.String("reservation_id", resv.ID.String()),
			zap.String("list_id", list.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("prospects: complete reservation: %w: %w", models.ErrPersistence, err)
	}

	s.logger.Info("prospect list created",
		zap.String("reservation_id", resv.ID.String()),
		zap.String("list_id", list.ID),
	)
	return &Result{
		ListID:        list.ID,
		Status:        list.Status,
		ReservationID: resv.ID,
		Attempts:      resv.Attempts,
	}, nil
}

// ListStatus proxies the current state of a Wiza list.
func (s *Service) ListStatus(ctx context.Context, listID string) (*wiza.List, error) {
	if strings.TrimSpace(listID) == "" {
		return nil, fmt.Errorf("prospects: list id is required: %w", models.ErrValidation)
	}
	return s.lists.GetList(ctx, listID)
}

func failureOutcome(err error) string {
	if errors.Is(err, models.ErrUpstream) {
		return OutcomeUpstream
	}
	return OutcomeError
}
