package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpline-labs/support-desk/internal/domain"
	"github.com/helpline-labs/support-desk/internal/repository"
	"github.com/helpline-labs/support-desk/internal/repository/memory"
)

func ptr[T any](v T) *T { return &v }

func seedTicket(t *testing.T, repo repository.TicketRepository, id, owner string, created time.Time) *domain.Ticket {
	t.Helper()
	ticket := &domain.Ticket{
		TicketID:    id,
		OwnerID:     owner,
		Subject:     "subject " + id,
		Description: "description",
		Category:    domain.CategoryGeneral,
		Status:      domain.TicketStatusNew,
		Priority:    domain.TicketPriorityUnassigned,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	require.NoError(t, repo.Create(context.Background(), ticket))
	return ticket
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	repo := memory.NewStore().Tickets()
	seedTicket(t, repo, "TKT-1", "c1", time.Now())

	err := repo.Create(context.Background(), &domain.Ticket{TicketID: "TKT-1"})
	assert.ErrorIs(t, err, repository.ErrDuplicateTicketID)
}

func TestFindScopesByOwnerAndFilters(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Tickets()
	now := time.Now()
	seedTicket(t, repo, "TKT-1", "c1", now)
	seedTicket(t, repo, "TKT-2", "c2", now.Add(time.Second))
	seedTicket(t, repo, "TKT-3", "c1", now.Add(2*time.Second))

	_, err := repo.FindOne(ctx, repository.TicketQuery{TicketID: ptr("TKT-2"), OwnerID: ptr("c1")})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	mine, err := repo.Find(ctx, repository.TicketQuery{OwnerID: ptr("c1")})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "TKT-3", mine[0].TicketID, "newest first by default")

	asc, err := repo.Find(ctx, repository.TicketQuery{Ascending: true, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, asc, 2)
	assert.Equal(t, "TKT-2", asc[0].TicketID)

	found, err := repo.Find(ctx, repository.TicketQuery{SearchTerm: ptr("SUBJECT tkt-3")})
	require.NoError(t, err)
	require.Len(t, found, 1)

	total, err := repo.Count(ctx, repository.TicketQuery{Statuses: []domain.TicketStatus{domain.TicketStatusNew}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestUpdateIsVersionChecked(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Tickets()
	seedTicket(t, repo, "TKT-1", "c1", time.Now())

	current, err := repo.FindOne(ctx, repository.TicketQuery{TicketID: ptr("TKT-1")})
	require.NoError(t, err)
	require.Equal(t, int64(1), current.Version)

	resolvedAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	next := current.Clone()
	next.Status = domain.TicketStatusResolved
	next.ResolvedAt = &resolvedAt
	next.Version = 2
	entry := domain.AuditEntry{Timestamp: resolvedAt, Changes: domain.Changes{{Field: "status", From: "new", To: "resolved"}}}
	require.NoError(t, repo.Update(ctx, repository.TicketMutation{
		Ticket:            next,
		ExpectedVersion:   1,
		AppendAudit:       &entry,
		AppendAttachments: []domain.Attachment{{StorageKey: "k1"}},
	}))

	stale := current.Clone()
	stale.Priority = domain.TicketPriorityHigh
	stale.Version = 2
	err = repo.Update(ctx, repository.TicketMutation{Ticket: stale, ExpectedVersion: 1})
	assert.ErrorIs(t, err, repository.ErrVersionConflict)

	later := resolvedAt.Add(time.Hour)
	again := next.Clone()
	again.ResolvedAt = &later
	again.Version = 3
	require.NoError(t, repo.Update(ctx, repository.TicketMutation{Ticket: again, ExpectedVersion: 2}))

	stored, err := repo.FindOne(ctx, repository.TicketQuery{TicketID: ptr("TKT-1")})
	require.NoError(t, err)
	assert.Equal(t, resolvedAt, *stored.ResolvedAt, "resolvedAt is written only once")
	assert.Len(t, stored.AuditLog, 1)
	assert.Len(t, stored.Attachments, 1)
	assert.Equal(t, int64(3), stored.Version)

	missing := next.Clone()
	missing.TicketID = "TKT-404"
	assert.ErrorIs(t, repo.Update(ctx, repository.TicketMutation{Ticket: missing, ExpectedVersion: 1}), repository.ErrNotFound)
}

// tickingClock returns start, start+step, start+2*step, ... on successive calls.
func tickingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		at := next
		next = next.Add(step)
		return at
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestPostStampsFirstResponseWithEarliestStaffMessage(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	tickets, messages := store.Tickets(), store.Messages()
	seedTicket(t, tickets, "TKT-1", "c1", time.Now())
	clock := tickingClock(time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC), time.Minute)

	stamped, err := messages.Post(ctx, &domain.ChatMessage{ID: "c", TicketID: "TKT-1", SenderRole: domain.RoleCustomer}, clock)
	require.NoError(t, err)
	assert.False(t, stamped)

	var wg sync.WaitGroup
	results := make([]bool, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			role := domain.RoleServiceAgent
			if i%2 == 1 {
				role = domain.RoleAdmin
			}
			ok, err := messages.Post(ctx, &domain.ChatMessage{ID: fmt.Sprintf("s%d", i), TicketID: "TKT-1", SenderRole: role}, clock)
			assert.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	thread, err := messages.ListByTicket(ctx, "TKT-1")
	require.NoError(t, err)
	require.Len(t, thread, 9)
	var earliestStaff *domain.ChatMessage
	for i := range thread {
		if thread[i].SenderRole.IsStaff() {
			earliestStaff = &thread[i]
			break
		}
	}
	require.NotNil(t, earliestStaff)

	stored, err := tickets.FindOne(ctx, repository.TicketQuery{TicketID: ptr("TKT-1")})
	require.NoError(t, err)
	require.NotNil(t, stored.FirstResponseAt)
	assert.Equal(t, earliestStaff.CreatedAt, *stored.FirstResponseAt)

	_, err = messages.Post(ctx, &domain.ChatMessage{ID: "x", TicketID: "TKT-404", SenderRole: domain.RoleAdmin}, clock)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCancelledContextReportsStoreUnavailable(t *testing.T) {
	store := memory.NewStore()
	seedTicket(t, store.Tickets(), "TKT-1", "c1", time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stamped, err := store.Messages().Post(ctx, &domain.ChatMessage{ID: "m", TicketID: "TKT-1", SenderRole: domain.RoleServiceAgent}, fixedClock(time.Now()))
	assert.ErrorIs(t, err, repository.ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, stamped)

	_, err = store.Tickets().FindOne(ctx, repository.TicketQuery{TicketID: ptr("TKT-1")})
	assert.ErrorIs(t, err, repository.ErrStoreUnavailable)

	stored, err := store.Tickets().FindOne(context.Background(), repository.TicketQuery{TicketID: ptr("TKT-1")})
	require.NoError(t, err)
	assert.Nil(t, stored.FirstResponseAt)
	total, err := store.Messages().CountAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestDeleteCascadesMessages(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	tickets, messages := store.Tickets(), store.Messages()
	seedTicket(t, tickets, "TKT-1", "c1", time.Now())
	seedTicket(t, tickets, "TKT-2", "c1", time.Now())

	now := fixedClock(time.Now())
	_, err := messages.Post(ctx, &domain.ChatMessage{ID: "m1", TicketID: "TKT-1"}, now)
	require.NoError(t, err)
	_, err = messages.Post(ctx, &domain.ChatMessage{ID: "m2", TicketID: "TKT-2"}, now)
	require.NoError(t, err)
	_, err = messages.Post(ctx, &domain.ChatMessage{ID: "m3", TicketID: "TKT-404"}, now)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	assert.ErrorIs(t, tickets.Delete(ctx, repository.TicketQuery{TicketID: ptr("TKT-1"), OwnerID: ptr("c2")}), repository.ErrNotFound)
	require.NoError(t, tickets.Delete(ctx, repository.TicketQuery{TicketID: ptr("TKT-1")}))

	remaining, err := messages.ListByTicket(ctx, "TKT-1")
	require.NoError(t, err)
	assert.Empty(t, remaining)
	total, err := messages.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestMessagesOrderedByCreatedAtThenInsertion(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedTicket(t, store.Tickets(), "TKT-1", "c1", time.Now())
	messages := store.Messages()

	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, m := range []struct {
		id string
		at time.Time
	}{
		{"late", t0.Add(time.Minute)},
		{"tie-a", t0},
		{"tie-b", t0},
	} {
		_, err := messages.Post(ctx, &domain.ChatMessage{ID: m.id, TicketID: "TKT-1"}, fixedClock(m.at))
		require.NoError(t, err)
	}

	list, err := messages.ListByTicket(ctx, "TKT-1")
	require.NoError(t, err)
	ids := []string{list[0].ID, list[1].ID, list[2].ID}
	assert.Equal(t, []string{"tie-a", "tie-b", "late"}, ids)
}

func TestUsersUniqueEmailAndRoleFilter(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	users := store.Users()

	agent := &domain.User{FirstName: "Ann", Email: "Ann@Example.com", Role: domain.RoleServiceAgent}
	require.NoError(t, users.Create(ctx, agent))
	assert.NotEmpty(t, agent.ID)
	assert.Equal(t, "ann@example.com", agent.Email)

	assert.ErrorIs(t, users.Create(ctx, &domain.User{Email: "ANN@example.com"}), repository.ErrDuplicateEmail)
	require.NoError(t, users.Create(ctx, &domain.User{FirstName: "Cy", Email: "cy@example.com", Role: domain.RoleCustomer}))

	byEmail, err := users.GetByEmail(ctx, "ann@EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, agent.ID, byEmail.ID)

	role := domain.RoleCustomer
	customers, err := users.List(ctx, repository.UserFilter{Role: &role})
	require.NoError(t, err)
	require.Len(t, customers, 1)
	assert.Equal(t, "Cy", customers[0].FirstName)

	agent.Verified = true
	require.NoError(t, users.Update(ctx, agent))
	reloaded, err := users.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Verified)

	_, err = users.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	ds, err := store.Analytics().LoadDataset(ctx)
	require.NoError(t, err)
	assert.Len(t, ds.Users, 2)
}
