package identity

import (
	"time"

	"github.com/google/uuid"
)

// RegisterInput contains the data required to register a new user
type RegisterInput struct {
	Email    string
	Name     string
	Surname  string
	Password string
}

// LoginInput contains login credentials
type LoginInput struct {
	Email    string
	Password string
}

// UserInfo is the user projection returned to clients
type UserInfo struct {
	ID        uuid.UUID
	Email     string
	Name      string
	Surname   string
	Role      string
	CreatedAt time.Time
}

// LoginResult contains the token pair and user info returned on login
type LoginResult struct {
	AccessToken           string
	RefreshToken          string
	AccessTokenExpiresAt  time.Time
	RefreshTokenExpiresAt time.Time
	TokenType             string
	User                  UserInfo
}

// RefreshResult contains the new token pair after a refresh
type RefreshResult struct {
	AccessToken           string
	RefreshToken          string
	AccessTokenExpiresAt  time.Time
	RefreshTokenExpiresAt time.Time
	TokenType             string
}

// LogoutInput identifies the tokens to revoke
type LogoutInput struct {
	AccessToken  string
	RefreshToken string
}

// UpdateProfileInput contains profile fields the user may change
type UpdateProfileInput struct {
	UserID  uuid.UUID
	Name    string
	Surname string
}

// ChangePasswordInput contains the data for an authenticated password change
type ChangePasswordInput struct {
	UserID      uuid.UUID
	OldPassword string
	NewPassword string
}

// ResetPasswordInput carries a recovery token together with the new password
type ResetPasswordInput struct {
	RecoveryToken string
	NewPassword   string
}
