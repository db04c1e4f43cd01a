package domain

import "time"

// User is owned by the account system; billing only reads it and maintains
// the entitlement marker.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	ProExpiresAt *time.Time `json:"proExpiresAt,omitempty"`
}

// UserPatch updates the entitlement marker.
type UserPatch struct {
	ProExpiresAt *time.Time `json:"proExpiresAt,omitempty"`

	// ClearProExpiresAt removes the marker; it wins over ProExpiresAt.
	ClearProExpiresAt bool `json:"-"`
}
