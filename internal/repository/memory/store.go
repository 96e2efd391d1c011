// Package memory provides in-process repositories used when no database is configured and
// as the fake store in service tests. One Store backs every repository so scoped deletes can
// cascade and datasets are read under a single lock.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/helpline-labs/support-desk/internal/domain"
	"github.com/helpline-labs/support-desk/internal/repository"
)

// Store is the shared state behind the memory repositories.
type Store struct {
	mu       sync.RWMutex
	tickets  map[string]*domain.Ticket
	messages []domain.ChatMessage
	users    map[string]*domain.User
	emails   map[string]string
	userSeq  []string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		tickets: make(map[string]*domain.Ticket),
		users:   make(map[string]*domain.User),
		emails:  make(map[string]string),
	}
}

// Tickets returns a TicketRepository over s.
func (s *Store) Tickets() *TicketRepository {
	return &TicketRepository{store: s}
}

// Messages returns a ChatMessageRepository over s.
func (s *Store) Messages() *ChatMessageRepository {
	return &ChatMessageRepository{store: s}
}

// Users returns a UserRepository over s.
func (s *Store) Users() *UserRepository {
	return &UserRepository{store: s}
}

// Analytics returns an AnalyticsRepository over s.
func (s *Store) Analytics() *AnalyticsRepository {
	return &AnalyticsRepository{store: s}
}

// checkContext reports a cancelled or expired ctx as an unavailable store, the same way the
// Postgres repositories surface driver timeouts.
func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", repository.ErrStoreUnavailable, err)
	}
	return nil
}
