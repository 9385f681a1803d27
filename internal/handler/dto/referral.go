// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/cartoncaps/referral-api/internal/model"
)

// CreateReferralRequest represents the request body for creating a referral.
// The body itself is optional; an empty body creates an open invitation.
type CreateReferralRequest struct {
	RefereeEmail string `json:"refereeEmail,omitempty" validate:"omitempty,email,max=255"`
}

// CompleteReferralRequest represents the request body for completing a referral.
type CompleteReferralRequest struct {
	RefereeUserID string `json:"refereeUserId" validate:"required"`
}

// ReferralResponse represents a referral in API responses.
type ReferralResponse struct {
	ID             uuid.UUID  `json:"id"`
	ReferralCode   string     `json:"referralCode"`
	ReferrerUserID uuid.UUID  `json:"referrerUserId"`
	RefereeUserID  *uuid.UUID `json:"refereeUserId"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	InstalledAt    *time.Time `json:"installedAt"`
	CompletedAt    *time.Time `json:"completedAt"`
	ShareableLink  string     `json:"shareableLink"`
}

// ReferralDetailsResponse is returned by the public code lookup.
type ReferralDetailsResponse struct {
	ID             uuid.UUID `json:"id"`
	ReferralCode   string    `json:"referralCode"`
	ReferrerUserID uuid.UUID `json:"referrerUserId"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	IsValid        bool      `json:"isValid"`
}

// ReferralStatsResponse aggregates the caller's referrals by status.
type ReferralStatsResponse struct {
	TotalReferrals int `json:"totalReferrals"`
	PendingCount   int `json:"pendingCount"`
	InstalledCount int `json:"installedCount"`
	CompletedCount int `json:"completedCount"`
	CancelledCount int `json:"cancelledCount"`
}

// MessageResponse carries a human readable confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ToReferralResponse converts a Referral model to ReferralResponse DTO.
func ToReferralResponse(r *model.Referral) ReferralResponse {
	return ReferralResponse{
		ID:             r.ID,
		ReferralCode:   r.ReferralCode,
		ReferrerUserID: r.ReferrerUserID,
		RefereeUserID:  r.RefereeUserID,
		Status:         r.Status.String(),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		InstalledAt:    r.InstalledAt,
		CompletedAt:    r.CompletedAt,
		ShareableLink:  r.ShareableLink,
	}
}

// ToReferralListResponse converts referrals to DTOs. Never returns nil so the
// list serializes as [] rather than null.
func ToReferralListResponse(referrals []*model.Referral) []ReferralResponse {
	out := make([]ReferralResponse, 0, len(referrals))
	for _, r := range referrals {
		out = append(out, ToReferralResponse(r))
	}
	return out
}

// ToReferralDetailsResponse converts the public projection to its DTO.
func ToReferralDetailsResponse(d *model.ReferralDetails) ReferralDetailsResponse {
	return ReferralDetailsResponse{
		ID:             d.ID,
		ReferralCode:   d.ReferralCode,
		ReferrerUserID: d.ReferrerUserID,
		Status:         d.Status.String(),
		CreatedAt:      d.CreatedAt,
		IsValid:        d.IsValid,
	}
}

// ToReferralStatsResponse converts stats to their DTO.
func ToReferralStatsResponse(s *model.ReferralStats) ReferralStatsResponse {
	return ReferralStatsResponse{
		TotalReferrals: s.TotalReferrals,
		PendingCount:   s.PendingCount,
		InstalledCount: s.InstalledCount,
		CompletedCount: s.CompletedCount,
		CancelledCount: s.CancelledCount,
	}
}
