package auth

import (
	"time"

	"github.com/google/uuid"
)

// Account holds login credentials for a directory person.
type Account struct {
	ID           uuid.UUID
	PersonID     uuid.UUID
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
