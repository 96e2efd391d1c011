package memory

import (
	"context"

	"github.com/helpline-labs/support-desk/internal/domain"
	"github.com/helpline-labs/support-desk/internal/repository"
)

// AnalyticsRepository copies the whole store under one read lock.
type AnalyticsRepository struct {
	store *Store
}

var _ repository.AnalyticsRepository = (*AnalyticsRepository)(nil)

func (r *AnalyticsRepository) LoadDataset(ctx context.Context) (*repository.Dataset, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	ds := &repository.Dataset{
		Tickets:       make([]domain.Ticket, 0, len(s.tickets)),
		Users:         s.listUsers(repository.UserFilter{}),
		TotalMessages: int64(len(s.messages)),
	}
	for _, t := range s.tickets {
		ds.Tickets = append(ds.Tickets, *t.Clone())
	}
	return ds, nil
}
