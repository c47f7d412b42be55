package models

import "time"

// Account is the credential document stored in the "accounts" collection,
// keyed by username. It is kept apart from UserProfile so the relationship
// graph remains the sole writer of the profile's relationship fields.
//
// Accounts round-trip through the document store as JSON, so the password
// hash is a serialized field here; handlers must never marshal an Account
// into an API response.
type Account struct {
	UID          string    `json:"uid"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"passwordHash"`
	Email        string    `json:"email,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
