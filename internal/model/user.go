package model

import (
	"time"

	"github.com/google/uuid"
)

// User is either a referrer or a referee.
// Referrals created or received are reachable through the store only and are
// never part of the serialized user.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// HasEmail reports whether the user carries an email address.
func (u *User) HasEmail() bool {
	return u.Email != ""
}
