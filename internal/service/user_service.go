package service

import (
	"context"
	"strings"

	"github.com/helpline-labs/support-desk/internal/access"
	"github.com/helpline-labs/support-desk/internal/analytics"
	"github.com/helpline-labs/support-desk/internal/domain"
	"github.com/helpline-labs/support-desk/internal/repository"
	apperrors "github.com/helpline-labs/support-desk/pkg/util/errorutil"
)

// UserService serves profiles and staff rosters.
type UserService struct {
	users     repository.UserRepository
	analytics *AnalyticsService
}

// NewUserService constructs the service.
func NewUserService(users repository.UserRepository, analyticsSvc *AnalyticsService) *UserService {
	return &UserService{users: users, analytics: analyticsSvc}
}

// ProfileUpdate carries the editable profile fields. Nil leaves a field unchanged.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
}

// Profile returns the caller's own account.
func (s *UserService) Profile(ctx context.Context, caller access.Caller) (*domain.User, error) {
	if caller.ID == "" {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	user, err := s.users.GetByID(ctx, caller.ID)
	if err != nil {
		return nil, mapRepoError(err, "user")
	}
	return user, nil
}

// UpdateProfile edits the caller's name.
func (s *UserService) UpdateProfile(ctx context.Context, caller access.Caller, update ProfileUpdate) (*domain.User, error) {
	user, err := s.Profile(ctx, caller)
	if err != nil {
		return nil, err
	}
	if update.FirstName != nil {
		first := strings.TrimSpace(*update.FirstName)
		if first == "" {
			return nil, apperrors.NewValidationError("invalid profile", map[string]any{"firstName": "must not be empty"})
		}
		user.FirstName = first
	}
	if update.LastName != nil {
		user.LastName = strings.TrimSpace(*update.LastName)
	}
	if err := s.users.Update(ctx, user); err != nil {
		return nil, mapRepoError(err, "user")
	}
	return user, nil
}

// GetUser returns any account. Staff only.
func (s *UserService) GetUser(ctx context.Context, caller access.Caller, userID string) (*domain.User, error) {
	if err := access.RequireStaff(caller); err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, mapRepoError(err, "user")
	}
	return user, nil
}

// Agents lists service agents with their resolution stats. Admin only.
func (s *UserService) Agents(ctx context.Context, caller access.Caller) ([]analytics.AgentRollup, error) {
	snap, err := s.analytics.Snapshot(ctx, caller)
	if err != nil {
		return nil, err
	}
	return snap.Agents, nil
}

// Customers lists customers with their ticket counts. Admin only.
func (s *UserService) Customers(ctx context.Context, caller access.Caller) ([]analytics.CustomerRollup, error) {
	snap, err := s.analytics.Snapshot(ctx, caller)
	if err != nil {
		return nil, err
	}
	return snap.Customers, nil
}
