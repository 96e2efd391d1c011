package memory

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/helpline-labs/support-desk/internal/domain"
	"github.com/helpline-labs/support-desk/internal/repository"
)

// TicketRepository keeps tickets in the shared Store.
type TicketRepository struct {
	store *Store
}

var _ repository.TicketRepository = (*TicketRepository)(nil)

func (r *TicketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tickets[ticket.TicketID]; exists {
		return repository.ErrDuplicateTicketID
	}
	if ticket.Version == 0 {
		ticket.Version = 1
	}
	s.tickets[ticket.TicketID] = ticket.Clone()
	return nil
}

func (r *TicketRepository) FindOne(ctx context.Context, query repository.TicketQuery) (*domain.Ticket, error) {
	query.Limit = 1
	query.Offset = 0
	tickets, err := r.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, repository.ErrNotFound
	}
	return &tickets[0], nil
}

func (r *TicketRepository) Find(ctx context.Context, query repository.TicketQuery) ([]domain.Ticket, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := r.match(query)
	sortTickets(matched, query.SortBy, query.Ascending)

	if query.Offset > 0 {
		if query.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[query.Offset:]
		}
	}
	if query.Limit > 0 && len(matched) > query.Limit {
		matched = matched[:query.Limit]
	}

	result := make([]domain.Ticket, len(matched))
	for i, t := range matched {
		result[i] = *t.Clone()
	}
	return result, nil
}

func (r *TicketRepository) Count(ctx context.Context, query repository.TicketQuery) (int64, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(r.match(query))), nil
}

func (r *TicketRepository) Update(ctx context.Context, mutation repository.TicketMutation) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	next := mutation.Ticket
	if next == nil {
		return errors.New("update ticket: nil ticket")
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tickets[next.TicketID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Version != mutation.ExpectedVersion {
		return repository.ErrVersionConflict
	}

	updated := stored.Clone()
	if next.HandlerID != nil {
		h := *next.HandlerID
		updated.HandlerID = &h
	} else {
		updated.HandlerID = nil
	}
	updated.Subject = next.Subject
	updated.Description = next.Description
	updated.Category = next.Category
	updated.Status = next.Status
	updated.Priority = next.Priority
	updated.Rating = nil
	if next.Rating != nil {
		rating := *next.Rating
		updated.Rating = &rating
	}
	updated.UpdatedAt = next.UpdatedAt
	if updated.ResolvedAt == nil && next.ResolvedAt != nil {
		at := *next.ResolvedAt
		updated.ResolvedAt = &at
	}
	updated.Version = next.Version
	if mutation.AppendAudit != nil {
		entry := *mutation.AppendAudit
		entry.Changes = append(domain.Changes(nil), entry.Changes...)
		updated.AuditLog = append(updated.AuditLog, entry)
	}
	updated.Attachments = append(updated.Attachments, mutation.AppendAttachments...)

	s.tickets[next.TicketID] = updated
	return nil
}

func (r *TicketRepository) Delete(ctx context.Context, query repository.TicketQuery) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := r.match(query)
	if len(matched) == 0 {
		return repository.ErrNotFound
	}
	removed := make(map[string]bool, len(matched))
	for _, t := range matched {
		removed[t.TicketID] = true
		delete(s.tickets, t.TicketID)
	}
	kept := s.messages[:0]
	for _, msg := range s.messages {
		if !removed[msg.TicketID] {
			kept = append(kept, msg)
		}
	}
	s.messages = kept
	return nil
}

// match returns the stored tickets satisfying query. Callers hold the lock.
func (r *TicketRepository) match(query repository.TicketQuery) []*domain.Ticket {
	s := r.store
	if query.TicketID != nil {
		t, ok := s.tickets[*query.TicketID]
		if !ok || !matches(t, query) {
			return nil
		}
		return []*domain.Ticket{t}
	}
	var out []*domain.Ticket
	for _, t := range s.tickets {
		if matches(t, query) {
			out = append(out, t)
		}
	}
	return out
}

func matches(t *domain.Ticket, q repository.TicketQuery) bool {
	if q.TicketID != nil && t.TicketID != *q.TicketID {
		return false
	}
	if q.OwnerID != nil && t.OwnerID != *q.OwnerID {
		return false
	}
	if q.HandlerID != nil && (t.HandlerID == nil || *t.HandlerID != *q.HandlerID) {
		return false
	}
	if len(q.Statuses) > 0 && !contains(q.Statuses, t.Status) {
		return false
	}
	if len(q.Priorities) > 0 && !contains(q.Priorities, t.Priority) {
		return false
	}
	if q.Category != nil && t.Category != *q.Category {
		return false
	}
	if q.SearchTerm != nil {
		term := strings.ToLower(strings.TrimSpace(*q.SearchTerm))
		if term != "" &&
			!strings.Contains(strings.ToLower(t.TicketID), term) &&
			!strings.Contains(strings.ToLower(t.Subject), term) &&
			!strings.Contains(strings.ToLower(t.Description), term) {
			return false
		}
	}
	return true
}

func contains[T comparable](values []T, v T) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func sortTickets(tickets []*domain.Ticket, by repository.SortField, ascending bool) {
	less := func(a, b *domain.Ticket) int {
		switch by {
		case repository.SortByUpdatedAt:
			return a.UpdatedAt.Compare(b.UpdatedAt)
		case repository.SortByStatus:
			return strings.Compare(string(a.Status), string(b.Status))
		case repository.SortByPriority:
			return strings.Compare(string(a.Priority), string(b.Priority))
		default:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}
	sort.SliceStable(tickets, func(i, j int) bool {
		c := less(tickets[i], tickets[j])
		if c == 0 {
			c = strings.Compare(tickets[i].TicketID, tickets[j].TicketID)
		}
		if ascending {
			return c < 0
		}
		return c > 0
	})
}
