package memory

import (
	"context"
	"sort"
	"time"

	"github.com/helpline-labs/support-desk/internal/domain"
	"github.com/helpline-labs/support-desk/internal/lifecycle"
	"github.com/helpline-labs/support-desk/internal/repository"
)

// ChatMessageRepository keeps chat messages in insertion order.
type ChatMessageRepository struct {
	store *Store
}

var _ repository.ChatMessageRepository = (*ChatMessageRepository)(nil)

func (r *ChatMessageRepository) Post(ctx context.Context, msg *domain.ChatMessage, clock func() time.Time) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[msg.TicketID]
	if !ok {
		return false, repository.ErrNotFound
	}
	msg.CreatedAt = clock()
	s.messages = append(s.messages, *msg)

	if !lifecycle.RespondsFirst(msg.SenderRole, ticket.FirstResponseAt) {
		return false, nil
	}
	at := msg.CreatedAt
	ticket.FirstResponseAt = &at
	return true, nil
}

func (r *ChatMessageRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.ChatMessage, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.ChatMessage{}
	for _, msg := range s.messages {
		if msg.TicketID == ticketID {
			result = append(result, msg)
		}
	}
	// stable sort keeps insertion order for equal timestamps
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *ChatMessageRepository) CountAll(ctx context.Context) (int64, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.messages)), nil
}
