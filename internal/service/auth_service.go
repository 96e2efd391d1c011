package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/helpline-labs/support-desk/internal/access"
	"github.com/helpline-labs/support-desk/internal/auth"
	"github.com/helpline-labs/support-desk/internal/config"
	"github.com/helpline-labs/support-desk/internal/domain"
	"github.com/helpline-labs/support-desk/internal/events"
	"github.com/helpline-labs/support-desk/internal/repository"
	apperrors "github.com/helpline-labs/support-desk/pkg/util/errorutil"
)

const minPasswordLength = 8

// AuthService coordinates registration, verification and login flows.
type AuthService struct {
	users       repository.UserRepository
	tokens      *auth.TokenManager
	revocations auth.RevocationStore
	otps        auth.OTPStore
	dispatcher  events.Dispatcher
	logger      *zap.Logger
	cfg         config.AuthConfig
	now         func() time.Time
}

// AuthDependencies encapsulates collaborators for the auth service.
type AuthDependencies struct {
	UserRepo    repository.UserRepository
	Tokens      *auth.TokenManager
	Revocations auth.RevocationStore
	OTPs        auth.OTPStore
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	Clock       func() time.Time
}

// SignUpInput is the account registration payload.
type SignUpInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// AuthResult is returned by flows that may sign the caller in. Token is empty when the
// account still needs email verification.
type AuthResult struct {
	User                 *domain.User
	Token                string
	ExpiresAt            time.Time
	VerificationRequired bool
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) *AuthService {
	s := &AuthService{
		users:       deps.UserRepo,
		tokens:      deps.Tokens,
		revocations: deps.Revocations,
		otps:        deps.OTPs,
		dispatcher:  deps.Dispatcher,
		logger:      deps.Logger,
		cfg:         cfg,
		now:         deps.Clock,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// SignUp registers an unverified customer and sends a verification code.
func (s *AuthService) SignUp(ctx context.Context, input SignUpInput) (*AuthResult, error) {
	user, err := s.createUser(ctx, input, domain.RoleCustomer, false)
	if err != nil {
		return nil, err
	}

	if err := s.issueCode(ctx, user.Email); err != nil {
		s.logger.Warn("failed to issue verification code at signup", zap.String("user_id", user.ID), zap.Error(err))
	}

	if s.cfg.RequireVerifiedEmail {
		return &AuthResult{User: user, VerificationRequired: true}, nil
	}
	return s.signIn(user)
}

// CreateAgent registers a pre-verified service agent. Admin only.
func (s *AuthService) CreateAgent(ctx context.Context, caller access.Caller, input SignUpInput) (*domain.User, error) {
	if err := access.RequireAdmin(caller); err != nil {
		return nil, err
	}
	return s.createUser(ctx, input, domain.RoleServiceAgent, true)
}

// BootstrapAdmin creates the seed admin when no account uses email yet.
func (s *AuthService) BootstrapAdmin(ctx context.Context, email, password string) (*domain.User, bool, error) {
	existing, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, mapRepoError(err, "user")
	}
	user, err := s.createUser(ctx, SignUpInput{FirstName: "Admin", Email: email, Password: password}, domain.RoleAdmin, true)
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

func (s *AuthService) createUser(ctx context.Context, input SignUpInput, role domain.Role, verified bool) (*domain.User, error) {
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	input.Email = normalizeEmail(input.Email)

	details := map[string]any{}
	if input.FirstName == "" {
		details["firstName"] = "required"
	}
	if _, err := mail.ParseAddress(input.Email); err != nil || input.Email == "" {
		details["email"] = "invalid email"
	}
	if len(input.Password) < minPasswordLength {
		details["password"] = "must be at least 8 characters"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid account", details)
	}

	hash, err := auth.HashPassword(input.Password, s.cfg.BcryptCost)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return nil, apperrors.NewValidationError("invalid account", map[string]any{"password": "too long"})
	}
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	user := &domain.User{
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Email:        input.Email,
		PasswordHash: hash,
		Role:         role,
		Verified:     verified,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, mapRepoError(err, "user")
	}
	return user, nil
}

// Login checks credentials and issues a bearer token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, mapRepoError(err, "user")
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, apperrors.NewUnauthorized("invalid credentials")
	}
	if s.cfg.RequireVerifiedEmail && !user.Verified {
		return nil, apperrors.NewForbidden("email not verified")
	}
	return s.signIn(user)
}

// Logout revokes the token until it would have expired anyway.
func (s *AuthService) Logout(ctx context.Context, token domain.Token) error {
	if s.revocations == nil {
		return nil
	}
	if err := s.revocations.Revoke(ctx, token.ID, token.ExpiresAt); err != nil {
		return apperrors.NewStoreUnavailable(err)
	}
	return nil
}

// SendVerification issues a new code for an unverified account. A live code is never replaced.
func (s *AuthService) SendVerification(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return mapRepoError(err, "user")
	}
	if user.Verified {
		return apperrors.NewConflict("email already verified", nil)
	}
	return s.issueCode(ctx, user.Email)
}

// VerifyOTP consumes the code, marks the account verified and signs it in.
func (s *AuthService) VerifyOTP(ctx context.Context, email, code string) (*AuthResult, error) {
	email = normalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, mapRepoError(err, "user")
	}
	if err := s.otps.Consume(ctx, email, strings.TrimSpace(code)); err != nil {
		if errors.Is(err, auth.ErrCodeNotFound) || errors.Is(err, auth.ErrCodeMismatch) || errors.Is(err, auth.ErrCodeExhausted) {
			return nil, apperrors.NewValidationError("invalid or expired verification code", map[string]any{"otp": err.Error()})
		}
		return nil, apperrors.NewStoreUnavailable(err)
	}
	if !user.Verified {
		user.Verified = true
		if err := s.users.Update(ctx, user); err != nil {
			return nil, mapRepoError(err, "user")
		}
	}
	return s.signIn(user)
}

func (s *AuthService) issueCode(ctx context.Context, email string) error {
	code, err := auth.GenerateCode()
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	ttl := s.cfg.OTPTTL()
	if err := s.otps.Issue(ctx, email, code, ttl); err != nil {
		if errors.Is(err, auth.ErrCodeOutstanding) {
			return apperrors.NewConflict("a verification code was already sent; wait for it to expire", nil)
		}
		return apperrors.NewStoreUnavailable(err)
	}
	if s.dispatcher != nil {
		now := s.now()
		event := events.New(events.EventVerificationCodeIssued, "", events.Actor{}, now, events.VerificationCodePayload{
			Email:     email,
			Code:      code,
			ExpiresAt: now.Add(ttl),
		})
		if err := s.dispatcher.Publish(ctx, event); err != nil {
			s.logger.Warn("verification code delivery failed", zap.String("email", email), zap.Error(err))
		}
	}
	return nil
}

func (s *AuthService) signIn(user *domain.User) (*AuthResult, error) {
	token, meta, err := s.tokens.GenerateToken(user)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &AuthResult{User: user, Token: token, ExpiresAt: meta.ExpiresAt}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
