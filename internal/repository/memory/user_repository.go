package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/helpline-labs/support-desk/internal/domain"
	"github.com/helpline-labs/support-desk/internal/repository"
)

// UserRepository keeps accounts keyed by id with a unique email index.
type UserRepository struct {
	store *Store
}

var _ repository.UserRepository = (*UserRepository)(nil)

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(user.Email)
	if _, taken := s.emails[email]; taken {
		return repository.ErrDuplicateEmail
	}
	now := time.Now().UTC()
	user.ID = uuid.NewString()
	user.Email = email
	user.CreatedAt = now
	user.UpdatedAt = now

	stored := *user
	s.users[user.ID] = &stored
	s.emails[email] = user.ID
	s.userSeq = append(s.userSeq, user.ID)
	return nil
}

func (r *UserRepository) Update(ctx context.Context, user *domain.User) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.users[user.ID]
	if !ok {
		return repository.ErrNotFound
	}
	email := strings.ToLower(user.Email)
	if owner, taken := s.emails[email]; taken && owner != user.ID {
		return repository.ErrDuplicateEmail
	}
	delete(s.emails, stored.Email)
	s.emails[email] = user.ID

	user.Email = email
	user.CreatedAt = stored.CreatedAt
	user.UpdatedAt = time.Now().UTC()
	updated := *user
	s.users[user.ID] = &updated
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	user := *stored
	return &user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	user := *s.users[id]
	return &user, nil
}

func (r *UserRepository) List(ctx context.Context, filter repository.UserFilter) ([]domain.User, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listUsers(filter), nil
}

// listUsers returns users in creation order. Callers hold the lock.
func (s *Store) listUsers(filter repository.UserFilter) []domain.User {
	result := []domain.User{}
	for _, id := range s.userSeq {
		u := s.users[id]
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		result = append(result, *u)
	}
	return result
}
