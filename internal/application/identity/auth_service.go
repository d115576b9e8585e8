package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/biocloudlabs/backend/internal/domain/billing"
	"github.com/biocloudlabs/backend/internal/domain/identity"
	"github.com/biocloudlabs/backend/internal/domain/shared"
	"github.com/biocloudlabs/backend/internal/infrastructure/auth"
	"github.com/biocloudlabs/backend/internal/infrastructure/notification"
)

// AuthService handles registration, authentication and credential recovery
type AuthService struct {
	userRepo    identity.UserRepository
	accountRepo billing.AccountRepository
	txManager   shared.TransactionManager
	jwtService  *auth.JWTService
	blacklist   auth.TokenBlacklist
	sender      notification.Sender
	recoveryURL string
	logger      *zap.Logger
}

// NewAuthService creates a new authentication service
func NewAuthService(
	userRepo identity.UserRepository,
	accountRepo billing.AccountRepository,
	txManager shared.TransactionManager,
	jwtService *auth.JWTService,
	blacklist auth.TokenBlacklist,
	sender notification.Sender,
	recoveryURL string,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		userRepo:    userRepo,
		accountRepo: accountRepo,
		txManager:   txManager,
		jwtService:  jwtService,
		blacklist:   blacklist,
		sender:      sender,
		recoveryURL: recoveryURL,
		logger:      logger,
	}
}

// Register creates a new user together with their credit account. The user
// and the zero-balance account are created in one transaction so a user can
// never exist without an account to bill against.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*UserInfo, error) {
	user, err := identity.NewUser(input.Email, input.Name, input.Surname, input.Password)
	if err != nil {
		return nil, err
	}

	exists, err := s.userRepo.ExistsByEmail(ctx, user.Email)
	if err != nil {
		s.logger.Error("Failed to check email existence", zap.Error(err))
		return nil, err
	}
	if exists {
		return nil, shared.NewDomainError("ALREADY_EXISTS", "An account with this email already exists")
	}

	account, err := billing.NewAccount(user.ID)
	if err != nil {
		return nil, err
	}

	err = s.txManager.Transaction(ctx, func(ctx context.Context) error {
		if err := s.userRepo.Create(ctx, user); err != nil {
			if errors.Is(err, shared.ErrAlreadyExists) {
				return shared.NewDomainError("ALREADY_EXISTS", "An account with this email already exists")
			}
			return err
		}
		return s.accountRepo.Create(ctx, account)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("User registered",
		zap.String("user_id", user.ID.String()),
		zap.String("email", user.Email))

	info := userInfo(user)
	return &info, nil
}

// Login authenticates a user and returns a token pair
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(input.Email))
	if err != nil {
		s.logger.Warn("Login attempt for unknown email")
		return nil, shared.NewDomainError("INVALID_CREDENTIALS", "Invalid email or password")
	}

	if !user.CanLogin() {
		s.logger.Warn("Login attempt for deactivated account", zap.String("user_id", user.ID.String()))
		return nil, shared.NewDomainError("ACCOUNT_DEACTIVATED", "Account has been deactivated")
	}

	if !user.VerifyPassword(input.Password) {
		s.logger.Warn("Invalid password attempt", zap.String("user_id", user.ID.String()))
		return nil, shared.NewDomainError("INVALID_CREDENTIALS", "Invalid email or password")
	}

	tokenPair, err := s.jwtService.GenerateTokenPair(auth.GenerateTokenInput{
		UserID: user.ID,
		Email:  user.Email,
		Role:   string(user.Role),
	})
	if err != nil {
		s.logger.Error("Failed to generate token pair", zap.Error(err))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to generate authentication tokens")
	}

	user.RecordLogin(time.Now())
	if err := s.userRepo.Save(ctx, user); err != nil {
		// Login still succeeds; the timestamp is informational.
		s.logger.Error("Failed to record login time", zap.Error(err))
	}

	s.logger.Info("User logged in", zap.String("user_id", user.ID.String()))

	return &LoginResult{
		AccessToken:           tokenPair.AccessToken,
		RefreshToken:          tokenPair.RefreshToken,
		AccessTokenExpiresAt:  tokenPair.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: tokenPair.RefreshTokenExpiresAt,
		TokenType:             tokenPair.TokenType,
		User:                  userInfo(user),
	}, nil
}

// Refresh exchanges a valid refresh token for a new token pair
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	claims, err := s.jwtService.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, mapTokenError(err)
	}

	revoked, err := s.isRevoked(ctx, claims)
	if err != nil {
		s.logger.Error("Failed to check token revocation", zap.Error(err))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to validate refresh token")
	}
	if revoked {
		return nil, shared.NewDomainError("UNAUTHORIZED", "Refresh token has been revoked")
	}

	userID, err := claims.GetUserUUID()
	if err != nil {
		return nil, shared.NewDomainError("UNAUTHORIZED", "Invalid user ID in token")
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		s.logger.Warn("Token refresh for unknown user", zap.String("user_id", userID.String()))
		return nil, shared.NewDomainError("UNAUTHORIZED", "User not found")
	}
	if !user.CanLogin() {
		return nil, shared.NewDomainError("ACCOUNT_DEACTIVATED", "Account is no longer active")
	}

	tokenPair, err := s.jwtService.RefreshTokenPair(refreshToken, user.Email, string(user.Role))
	if err != nil {
		return nil, mapTokenError(err)
	}

	return &RefreshResult{
		AccessToken:           tokenPair.AccessToken,
		RefreshToken:          tokenPair.RefreshToken,
		AccessTokenExpiresAt:  tokenPair.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: tokenPair.RefreshTokenExpiresAt,
		TokenType:             tokenPair.TokenType,
	}, nil
}

// Logout revokes the presented tokens. Each token is blacklisted for its
// remaining lifetime; tokens that are already expired or invalid are ignored
// so logout never fails on stale credentials.
func (s *AuthService) Logout(ctx context.Context, input LogoutInput) error {
	if claims, err := s.jwtService.ValidateAccessToken(input.AccessToken); err == nil {
		if err := s.blacklist.AddToBlacklist(ctx, claims.ID, claims.GetRemainingTTL()); err != nil {
			s.logger.Error("Failed to blacklist access token", zap.Error(err))
			return shared.NewDomainError("INTERNAL_ERROR", "Failed to revoke session")
		}
	}
	if input.RefreshToken != "" {
		if claims, err := s.jwtService.ValidateRefreshToken(input.RefreshToken); err == nil {
			if err := s.blacklist.AddToBlacklist(ctx, claims.ID, claims.GetRemainingTTL()); err != nil {
				s.logger.Error("Failed to blacklist refresh token", zap.Error(err))
				return shared.NewDomainError("INTERNAL_ERROR", "Failed to revoke session")
			}
		}
	}
	return nil
}

// RecoverPassword sends a password recovery email if the address is known.
// The result is identical for known and unknown addresses so the endpoint
// cannot be used to probe which emails are registered.
func (s *AuthService) RecoverPassword(ctx context.Context, email string) error {
	user, err := s.userRepo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.logger.Info("Password recovery requested for unknown email")
			return nil
		}
		return err
	}

	token, _, err := s.jwtService.GenerateRecoveryToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("Failed to generate recovery token", zap.Error(err))
		return shared.NewDomainError("INTERNAL_ERROR", "Failed to start password recovery")
	}

	msg := notification.PasswordRecoveryEmail(user.Email, s.recoveryURL+"?token="+token)
	if err := s.sender.Send(ctx, msg); err != nil {
		// Delivery failures are not surfaced to the caller.
		s.logger.Error("Failed to send recovery email",
			zap.String("user_id", user.ID.String()),
			zap.Error(err))
	}

	s.logger.Info("Password recovery initiated", zap.String("user_id", user.ID.String()))
	return nil
}

// ResetPassword sets a new password using a recovery token. All outstanding
// tokens for the user are revoked afterwards.
func (s *AuthService) ResetPassword(ctx context.Context, input ResetPasswordInput) error {
	claims, err := s.jwtService.ValidateRecoveryToken(input.RecoveryToken)
	if err != nil {
		return mapTokenError(err)
	}

	userID, err := claims.GetUserUUID()
	if err != nil {
		return shared.NewDomainError("UNAUTHORIZED", "Invalid user ID in token")
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return shared.NewDomainError("UNAUTHORIZED", "User not found")
	}

	if err := user.SetPassword(input.NewPassword); err != nil {
		return err
	}
	if err := s.userRepo.Save(ctx, user); err != nil {
		s.logger.Error("Failed to save password reset", zap.Error(err))
		return err
	}

	s.revokeUserTokens(ctx, userID)
	s.logger.Info("Password reset completed", zap.String("user_id", userID.String()))
	return nil
}

// ChangePassword changes the password of an authenticated user and revokes
// their outstanding tokens.
func (s *AuthService) ChangePassword(ctx context.Context, input ChangePasswordInput) error {
	user, err := s.userRepo.FindByID(ctx, input.UserID)
	if err != nil {
		return err
	}

	if err := user.ChangePassword(input.OldPassword, input.NewPassword); err != nil {
		return err
	}
	if err := s.userRepo.Save(ctx, user); err != nil {
		s.logger.Error("Failed to save password change", zap.Error(err))
		return err
	}

	s.revokeUserTokens(ctx, input.UserID)
	s.logger.Info("User password changed", zap.String("user_id", input.UserID.String()))
	return nil
}

func (s *AuthService) isRevoked(ctx context.Context, claims *auth.Claims) (bool, error) {
	if revoked, err := s.blacklist.IsBlacklisted(ctx, claims.ID); err != nil || revoked {
		return revoked, err
	}
	return s.blacklist.IsUserTokenInvalidated(ctx, claims.UserID, claims.GetIssuedAtTime())
}

func (s *AuthService) revokeUserTokens(ctx context.Context, userID uuid.UUID) {
	ttl := s.jwtService.GetRefreshTokenExpiration()
	if err := s.blacklist.AddUserTokensToBlacklist(ctx, userID.String(), ttl); err != nil {
		s.logger.Error("Failed to revoke outstanding tokens",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return shared.NewDomainError("UNAUTHORIZED", "Token has expired")
	case errors.Is(err, auth.ErrInvalidTokenType):
		return shared.NewDomainError("UNAUTHORIZED", "Wrong token type")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidClaims):
		return shared.NewDomainError("UNAUTHORIZED", "Invalid token")
	default:
		return shared.NewDomainError("UNAUTHORIZED", "Token validation failed")
	}
}

func userInfo(user *identity.User) UserInfo {
	return UserInfo{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Surname:   user.Surname,
		Role:      string(user.Role),
		CreatedAt: user.CreatedAt,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
