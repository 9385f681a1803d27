// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/cartoncaps/referral-api/internal/events"
	"github.com/cartoncaps/referral-api/internal/metrics"
	"github.com/cartoncaps/referral-api/internal/model"
	"github.com/cartoncaps/referral-api/internal/repository"
)

// Service errors.
var (
	ErrReferralNotFound = errors.New("referral not found")
	ErrReferrerNotFound = errors.New("referrer not found")
	ErrRefereeNotFound  = errors.New("referee not found")
	ErrInvalidEmail     = errors.New("invalid referee email")
	ErrInvalidRefereeID = errors.New("referee user ID is required")
	ErrCodeExhausted    = errors.New("could not generate a unique referral code")
)

// DefaultShareBaseURL is used when no share base URL is configured.
const DefaultShareBaseURL = "https://cartoncaps.app/refer"

// Store is the persistence contract the referral service depends on.
type Store interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	EnsureUser(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetOrCreateUserByEmail(ctx context.Context, email string) (*model.User, error)
	HasUsers(ctx context.Context) (bool, error)

	CreateReferral(ctx context.Context, referral *model.Referral) error
	GetReferralByID(ctx context.Context, id uuid.UUID) (*model.Referral, error)
	GetReferralByCode(ctx context.Context, code string) (*model.Referral, error)
	ReferralCodeExists(ctx context.Context, code string) (bool, error)
	ListReferralsByReferrer(ctx context.Context, referrerID uuid.UUID, statuses []model.ReferralStatus) ([]*model.Referral, error)
	CountReferralsByStatus(ctx context.Context, referrerID uuid.UUID) (map[model.ReferralStatus]int, error)
	UpdateReferralStatus(ctx context.Context, code string, t model.Transition) (*model.Referral, error)
}

// EventPublisher receives referral lifecycle events.
type EventPublisher interface {
	PublishAsync(event events.ReferralEvent)
}

// Options configures a ReferralService.
type Options struct {
	ShareBaseURL string
	// AutoProvisionUsers creates missing referrer and referee rows on demand.
	// Development convenience standing in for a real user directory.
	AutoProvisionUsers bool
	Metrics            metrics.Recorder
	Events             EventPublisher
	Logger             *slog.Logger
	Now                func() time.Time
}

// ReferralService handles referral business logic.
type ReferralService struct {
	store         Store
	shareBaseURL  string
	autoProvision bool
	metrics       metrics.Recorder
	events        EventPublisher
	logger        *slog.Logger
	now           func() time.Time
	newCode       func() (string, error)
	validate      *validator.Validate
}

// NewReferralService creates a new ReferralService.
func NewReferralService(store Store, opts Options) *ReferralService {
	if opts.ShareBaseURL == "" {
		opts.ShareBaseURL = DefaultShareBaseURL
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoop()
	}
	if opts.Events == nil {
		opts.Events = events.NewPublisher(nil, opts.Logger, opts.Metrics)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &ReferralService{
		store:         store,
		shareBaseURL:  strings.TrimSuffix(opts.ShareBaseURL, "/"),
		autoProvision: opts.AutoProvisionUsers,
		metrics:       opts.Metrics,
		events:        opts.Events,
		logger:        opts.Logger.With("component", "service.referral"),
		now:           opts.Now,
		newCode:       GenerateReferralCode,
		validate:      validator.New(),
	}
}

// ShareBaseURL returns the configured share base URL.
func (s *ReferralService) ShareBaseURL() string {
	return s.shareBaseURL
}

// CreateReferralInput defines input for creating a referral.
type CreateReferralInput struct {
	ReferrerUserID uuid.UUID
	RefereeEmail   string
}

// CreateReferral creates a new pending referral owned by the referrer.
func (s *ReferralService) CreateReferral(ctx context.Context, input CreateReferralInput) (*model.Referral, error) {
	email := NormalizeEmail(input.RefereeEmail)
	if email != "" {
		if err := s.validate.Var(email, "email,max=255"); err != nil {
			return nil, ErrInvalidEmail
		}
	}

	if err := s.ensureReferrer(ctx, input.ReferrerUserID); err != nil {
		return nil, err
	}

	var refereeID *uuid.UUID
	if email != "" {
		referee, err := s.store.GetOrCreateUserByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve referee: %w", err)
		}
		refereeID = &referee.ID
	}

	now := s.timestamp()
	referral, err := s.insertWithUniqueCode(ctx, func(code string) *model.Referral {
		return &model.Referral{
			ID:             uuid.New(),
			ReferralCode:   code,
			ReferrerUserID: input.ReferrerUserID,
			RefereeUserID:  refereeID,
			Status:         model.StatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
			ShareableLink:  BuildShareableLink(s.shareBaseURL, code),
		}
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncReferralCreated()
	s.events.PublishAsync(events.NewReferralEvent(events.TypeReferralCreated, referral, now))

	return referral, nil
}

// ListUserReferrals returns the referrals created by userID, newest first.
// An unknown user simply has no referrals.
func (s *ReferralService) ListUserReferrals(ctx context.Context, userID uuid.UUID, statuses ...model.ReferralStatus) ([]*model.Referral, error) {
	referrals, err := s.store.ListReferralsByReferrer(ctx, userID, statuses)
	if err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}
	return referrals, nil
}

// GetReferralByID retrieves a referral by ID without an ownership check.
func (s *ReferralService) GetReferralByID(ctx context.Context, id uuid.UUID) (*model.Referral, error) {
	referral, err := s.store.GetReferralByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrReferralNotFound) {
			return nil, ErrReferralNotFound
		}
		return nil, err
	}
	return referral, nil
}

// GetReferralByCode returns the public projection of the referral with code.
func (s *ReferralService) GetReferralByCode(ctx context.Context, code string) (*model.ReferralDetails, error) {
	referral, err := s.store.GetReferralByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrReferralNotFound) {
			return nil, ErrReferralNotFound
		}
		return nil, err
	}
	details := referral.Details()
	return &details, nil
}

// GetReferralStats aggregates the referrer's referrals by status.
func (s *ReferralService) GetReferralStats(ctx context.Context, userID uuid.UUID) (*model.ReferralStats, error) {
	counts, err := s.store.CountReferralsByStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count referrals: %w", err)
	}
	stats := model.NewReferralStats(counts)
	return &stats, nil
}

// MarkReferralAsInstalled moves the referral to Installed.
// Returns false without mutating anything when the code is unknown or the
// referral is already past Installed.
func (s *ReferralService) MarkReferralAsInstalled(ctx context.Context, code string) (bool, error) {
	referral, err := s.transition(ctx, code, model.Transition{Target: model.StatusInstalled})
	if err != nil || referral == nil {
		return false, err
	}

	s.events.PublishAsync(events.NewReferralEvent(events.TypeReferralInstalled, referral, referral.UpdatedAt))
	return true, nil
}

// MarkReferralAsCompleted moves the referral to Completed and records the
// referee. Returns false without mutating anything when the code is unknown
// or the referral is already past Completed.
func (s *ReferralService) MarkReferralAsCompleted(ctx context.Context, code string, refereeUserID uuid.UUID) (bool, error) {
	if refereeUserID == uuid.Nil {
		return false, ErrInvalidRefereeID
	}

	t := model.Transition{Target: model.StatusCompleted, RefereeUserID: &refereeUserID}
	referral, err := s.transition(ctx, code, t)
	if errors.Is(err, repository.ErrUserNotFound) {
		if !s.autoProvision {
			return false, ErrRefereeNotFound
		}
		if _, err := s.store.EnsureUser(ctx, refereeUserID); err != nil {
			return false, fmt.Errorf("failed to provision referee: %w", err)
		}
		referral, err = s.transition(ctx, code, t)
	}
	if err != nil || referral == nil {
		return false, err
	}

	s.events.PublishAsync(events.NewReferralEvent(events.TypeReferralCompleted, referral, referral.UpdatedAt))
	return true, nil
}

// transition applies t to the referral with code. A nil referral and nil
// error means the transition was not applied (unknown code or guard).
// repository.ErrUserNotFound is returned unwrapped for referee FK misses.
func (s *ReferralService) transition(ctx context.Context, code string, t model.Transition) (*model.Referral, error) {
	t.At = s.timestamp()
	target := t.Target.String()

	referral, err := s.store.UpdateReferralStatus(ctx, code, t)
	switch {
	case err == nil:
		s.metrics.IncStatusTransition(target, metrics.OutcomeApplied)
		return referral, nil
	case errors.Is(err, repository.ErrReferralNotFound):
		s.metrics.IncStatusTransition(target, metrics.OutcomeNotFound)
		return nil, nil
	case errors.Is(err, repository.ErrTransitionRejected):
		s.metrics.IncStatusTransition(target, metrics.OutcomeRejected)
		s.logger.Debug("status transition rejected", "referral_code", code, "target", target)
		return nil, nil
	case errors.Is(err, repository.ErrUserNotFound):
		return nil, err
	default:
		return nil, fmt.Errorf("failed to update referral status: %w", err)
	}
}

// ensureReferrer makes sure the referrer row exists before a referral
// references it.
func (s *ReferralService) ensureReferrer(ctx context.Context, id uuid.UUID) error {
	if s.autoProvision {
		if _, err := s.store.EnsureUser(ctx, id); err != nil {
			return fmt.Errorf("failed to provision referrer: %w", err)
		}
		return nil
	}

	if _, err := s.store.GetUserByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrReferrerNotFound
		}
		return fmt.Errorf("failed to load referrer: %w", err)
	}
	return nil
}

// insertWithUniqueCode generates codes until build's referral persists
// without a code collision, up to maxCodeAttempts.
func (s *ReferralService) insertWithUniqueCode(ctx context.Context, build func(code string) *model.Referral) (*model.Referral, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate referral code: %w", err)
		}

		exists, err := s.store.ReferralCodeExists(ctx, code)
		if err != nil {
			return nil, err
		}
		if exists {
			s.metrics.IncCodeCollision()
			continue
		}

		referral := build(code)
		err = s.store.CreateReferral(ctx, referral)
		switch {
		case err == nil:
			return referral, nil
		case errors.Is(err, repository.ErrCodeExists):
			// Lost a race with a concurrent insert of the same code.
			s.metrics.IncCodeCollision()
			continue
		case errors.Is(err, repository.ErrUserNotFound):
			return nil, ErrReferrerNotFound
		default:
			return nil, fmt.Errorf("failed to create referral: %w", err)
		}
	}

	return nil, ErrCodeExhausted
}

// timestamp returns the current time at the precision PostgreSQL stores.
func (s *ReferralService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
