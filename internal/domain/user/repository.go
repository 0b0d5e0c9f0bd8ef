package user

import (
	"context"
	"errors"
)

// ErrUserNotFound is returned when a lookup does not match any user.
var ErrUserNotFound = errors.New("user not found")

// Repository defines the interface for user data access
type Repository interface {
	Create(ctx context.Context, params CreateUserParams) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// SearchByEmail matches users whose email starts with query, skipping
	// the ids in exclude. Results are capped at limit.
	SearchByEmail(ctx context.Context, query string, exclude []int64, limit int) ([]*User, error)
}
