package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cartoncaps/referral-api/internal/model"
)

// Seed users. The first one is also the identity used when a request carries
// no usable user header.
var (
	SeedUserOneID = uuid.MustParse("12345678-1234-1234-1234-123456789012")
	SeedUserTwoID = uuid.MustParse("87654321-4321-4321-4321-210987654321")
)

// SeedResult reports what Seed inserted.
type SeedResult struct {
	Users     int
	Referrals int
}

// Seed loads demo users and referrals into an empty store. It does nothing
// and returns a zero result when any user already exists.
func (s *ReferralService) Seed(ctx context.Context) (SeedResult, error) {
	var result SeedResult

	hasUsers, err := s.store.HasUsers(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to check for existing users: %w", err)
	}
	if hasUsers {
		return result, nil
	}

	now := s.timestamp()

	for _, u := range []*model.User{
		{ID: SeedUserOneID, Email: "user1@example.com", Name: "User One", CreatedAt: now},
		{ID: SeedUserTwoID, Email: "user2@example.com", Name: "User Two", CreatedAt: now},
	} {
		if err := s.store.CreateUser(ctx, u); err != nil {
			return result, fmt.Errorf("failed to seed user %s: %w", u.Email, err)
		}
		result.Users++
	}

	// User one: five referrals cycling through every status.
	for i := 0; i < 5; i++ {
		createdAt := now.AddDate(0, 0, -(10 - i))
		status := model.ReferralStatus(i % 4)

		var refereeID *uuid.UUID
		if i%2 == 0 {
			friend := &model.User{
				ID:        uuid.New(),
				Email:     fmt.Sprintf("friend%d@example.com", i),
				Name:      fmt.Sprintf("Friend %d", i),
				CreatedAt: createdAt,
			}
			if err := s.store.CreateUser(ctx, friend); err != nil {
				return result, fmt.Errorf("failed to seed referee: %w", err)
			}
			result.Users++
			refereeID = &friend.ID
		}

		if err := s.seedReferral(ctx, SeedUserOneID, refereeID, status, createdAt, 2*time.Hour); err != nil {
			return result, err
		}
		result.Referrals++
	}

	// User two: one pending and one installed referral.
	for i := 0; i < 2; i++ {
		createdAt := now.AddDate(0, 0, -(5 - i))
		if err := s.seedReferral(ctx, SeedUserTwoID, nil, model.ReferralStatus(i), createdAt, time.Hour); err != nil {
			return result, err
		}
		result.Referrals++
	}

	s.logger.Info("seeded mock data", "users", result.Users, "referrals", result.Referrals)
	return result, nil
}

// seedReferral inserts a referral already in status, deriving its lifecycle
// timestamps from createdAt. Installs happen installDelay after creation and
// completions one day after creation.
func (s *ReferralService) seedReferral(ctx context.Context, referrerID uuid.UUID, refereeID *uuid.UUID, status model.ReferralStatus, createdAt time.Time, installDelay time.Duration) error {
	_, err := s.insertWithUniqueCode(ctx, func(code string) *model.Referral {
		r := &model.Referral{
			ID:             uuid.New(),
			ReferralCode:   code,
			ReferrerUserID: referrerID,
			RefereeUserID:  refereeID,
			Status:         status,
			CreatedAt:      createdAt,
			UpdatedAt:      createdAt,
			ShareableLink:  BuildShareableLink(s.shareBaseURL, code),
		}
		if status == model.StatusInstalled || status == model.StatusCompleted {
			installedAt := createdAt.Add(installDelay)
			r.InstalledAt = &installedAt
			r.UpdatedAt = installedAt
		}
		if status == model.StatusCompleted {
			completedAt := createdAt.AddDate(0, 0, 1)
			r.CompletedAt = &completedAt
			r.UpdatedAt = completedAt
		}
		return r
	})
	if err != nil {
		return fmt.Errorf("failed to seed referral: %w", err)
	}
	return nil
}
