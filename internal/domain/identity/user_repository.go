package identity

import (
	"context"

	"github.com/google/uuid"
)

// UserRepository defines the interface for user persistence
type UserRepository interface {
	// FindByID finds a user by ID
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)

	// FindByEmail finds a user by email (stored lowercase)
	FindByEmail(ctx context.Context, email string) (*User, error)

	// ExistsByEmail reports whether a user with the email exists
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// Create persists a new user
	Create(ctx context.Context, user *User) error

	// Save persists changes to an existing user
	Save(ctx context.Context, user *User) error
}
