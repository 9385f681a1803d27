// Package model defines domain entities for the application.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReferralStatus is the lifecycle state of a referral.
// The numeric value is the ordinal used by transition guards and is what
// gets persisted.
type ReferralStatus int16

const (
	StatusPending   ReferralStatus = 0
	StatusInstalled ReferralStatus = 1
	StatusCompleted ReferralStatus = 2
	StatusCancelled ReferralStatus = 3
)

// ErrInvalidStatus is returned when a status name or ordinal is unknown.
var ErrInvalidStatus = errors.New("invalid referral status")

var statusNames = [...]string{
	StatusPending:   "Pending",
	StatusInstalled: "Installed",
	StatusCompleted: "Completed",
	StatusCancelled: "Cancelled",
}

// AllStatuses lists every status in ordinal order.
var AllStatuses = []ReferralStatus{StatusPending, StatusInstalled, StatusCompleted, StatusCancelled}

// IsValid reports whether s is a known status.
func (s ReferralStatus) IsValid() bool {
	return s >= StatusPending && s <= StatusCancelled
}

// String returns the status name.
func (s ReferralStatus) String() string {
	if !s.IsValid() {
		return fmt.Sprintf("ReferralStatus(%d)", int16(s))
	}
	return statusNames[s]
}

// Exceeds reports whether s is past target in the canonical ordering.
// A transition into target is rejected when the current status exceeds it.
func (s ReferralStatus) Exceeds(target ReferralStatus) bool {
	return s > target
}

// ParseReferralStatus parses a status name case-insensitively.
func ParseReferralStatus(name string) (ReferralStatus, error) {
	trimmed := strings.TrimSpace(name)
	for i, n := range statusNames {
		if strings.EqualFold(n, trimmed) {
			return ReferralStatus(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, name)
}

// MarshalJSON encodes the status as its name.
func (s ReferralStatus) MarshalJSON() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, int16(s))
	}
	return json.Marshal(statusNames[s])
}

// UnmarshalJSON accepts either the status name or its ordinal.
func (s *ReferralStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, err := ParseReferralStatus(name)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}

	var ordinal int16
	if err := json.Unmarshal(data, &ordinal); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, string(data))
	}
	if !ReferralStatus(ordinal).IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidStatus, ordinal)
	}
	*s = ReferralStatus(ordinal)
	return nil
}

// Referral tracks one user's invitation of another.
type Referral struct {
	ID             uuid.UUID      `json:"id"`
	ReferralCode   string         `json:"referralCode"`
	ReferrerUserID uuid.UUID      `json:"referrerUserId"`
	RefereeUserID  *uuid.UUID     `json:"refereeUserId"`
	Status         ReferralStatus `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
	InstalledAt    *time.Time     `json:"installedAt"`
	CompletedAt    *time.Time     `json:"completedAt"`
	ShareableLink  string         `json:"shareableLink"`
}

// IsValid reports whether the referral can still be used by a referee.
func (r *Referral) IsValid() bool {
	return r.Status != StatusCancelled
}

// Transition describes a forward status change applied to a single referral.
type Transition struct {
	Target ReferralStatus
	At     time.Time
	// RefereeUserID, when set, overwrites the referral's referee.
	RefereeUserID *uuid.UUID
}

// Apply mutates r according to t if the guard allows it.
// Returns false without touching r when r.Status exceeds the target.
func (t Transition) Apply(r *Referral) bool {
	if r.Status.Exceeds(t.Target) {
		return false
	}

	at := t.At
	r.Status = t.Target
	r.UpdatedAt = at
	switch t.Target {
	case StatusInstalled:
		r.InstalledAt = &at
	case StatusCompleted:
		r.CompletedAt = &at
	}
	if t.RefereeUserID != nil {
		referee := *t.RefereeUserID
		r.RefereeUserID = &referee
	}
	return true
}

// ReferralStats aggregates a referrer's referrals by status.
type ReferralStats struct {
	TotalReferrals int `json:"totalReferrals"`
	PendingCount   int `json:"pendingCount"`
	InstalledCount int `json:"installedCount"`
	CompletedCount int `json:"completedCount"`
	CancelledCount int `json:"cancelledCount"`
}

// NewReferralStats builds stats from per-status counts.
// The total is always the sum of the four buckets.
func NewReferralStats(counts map[ReferralStatus]int) ReferralStats {
	stats := ReferralStats{
		PendingCount:   counts[StatusPending],
		InstalledCount: counts[StatusInstalled],
		CompletedCount: counts[StatusCompleted],
		CancelledCount: counts[StatusCancelled],
	}
	stats.TotalReferrals = stats.PendingCount + stats.InstalledCount + stats.CompletedCount + stats.CancelledCount
	return stats
}

// ReferralDetails is the public projection of a referral returned to
// unauthenticated callers looking up a code.
type ReferralDetails struct {
	ID             uuid.UUID      `json:"id"`
	ReferralCode   string         `json:"referralCode"`
	ReferrerUserID uuid.UUID      `json:"referrerUserId"`
	Status         ReferralStatus `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
	IsValid        bool           `json:"isValid"`
}

// Details projects r into its public form.
func (r *Referral) Details() ReferralDetails {
	return ReferralDetails{
		ID:             r.ID,
		ReferralCode:   r.ReferralCode,
		ReferrerUserID: r.ReferrerUserID,
		Status:         r.Status,
		CreatedAt:      r.CreatedAt,
		IsValid:        r.IsValid(),
	}
}
