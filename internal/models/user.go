package models

import "github.com/google/uuid"

// AuthUser is the identity resolved from a verified bearer token.
type AuthUser struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}
