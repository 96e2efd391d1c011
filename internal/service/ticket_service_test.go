package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpline-labs/support-desk/internal/audit"
	"github.com/helpline-labs/support-desk/internal/domain"
	"github.com/helpline-labs/support-desk/internal/lifecycle"
	"github.com/helpline-labs/support-desk/internal/repository"
	apperrors "github.com/helpline-labs/support-desk/pkg/util/errorutil"
)

func TestCreateTicketDefaults(t *testing.T) {
	f := newFixture(t)

	ticket := f.newTicket(t, f.customer)

	assert.Regexp(t, `^TKT-`, ticket.TicketID)
	assert.Equal(t, domain.TicketStatusNew, ticket.Status)
	assert.Equal(t, domain.TicketPriorityUnassigned, ticket.Priority)
	assert.Equal(t, "Cara", ticket.OwnerName)
	assert.Equal(t, int64(1), ticket.Version)
	assert.Empty(t, ticket.AuditLog)
	assert.Nil(t, ticket.ResolvedAt)
	assert.Nil(t, ticket.FirstResponseAt)
}

func TestCreateTicketValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.tickets.CreateTicket(context.Background(), f.customer, TicketCreateInput{
		Subject:  "  ",
		Category: "furniture",
	})
	requireCode(t, err, apperrors.CodeValidation)

	domainErr := apperrors.ToDomainError(err)
	assert.Contains(t, domainErr.Details, "subject")
	assert.Contains(t, domainErr.Details, "description")
	assert.Contains(t, domainErr.Details, "category")
}

func TestCreateTicketRetriesIDCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Tickets().Create(ctx, &domain.Ticket{TicketID: "TKT-TAKEN", OwnerID: f.other.ID}))

	ids := []string{"TKT-TAKEN", "TKT-TAKEN", "TKT-FRESH"}
	var calls int
	svc := NewTicketService(TicketDependencies{
		TicketRepo: f.store.Tickets(),
		TicketIDs: func(time.Time) string {
			id := ids[calls]
			calls++
			return id
		},
	})

	ticket, err := svc.CreateTicket(ctx, f.customer, TicketCreateInput{Subject: "s", Description: "d", Category: domain.CategoryOther})
	require.NoError(t, err)
	assert.Equal(t, "TKT-FRESH", ticket.TicketID)
	assert.Equal(t, 3, calls)
}

func TestCustomerCannotSeeOthersTickets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.newTicket(t, f.customer)

	_, err := f.tickets.GetTicket(ctx, f.other, ticket.TicketID)
	requireCode(t, err, apperrors.CodeNotFound)

	_, err = f.tickets.UpdateTicket(ctx, f.other, ticket.TicketID, audit.Patch{Subject: strPtr("hijack")}, nil)
	requireCode(t, err, apperrors.CodeNotFound)

	err = f.tickets.DeleteTicket(ctx, f.other, ticket.TicketID)
	requireCode(t, err, apperrors.CodeNotFound)

	got, err := f.tickets.GetTicket(ctx, f.agent, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, ticket.TicketID, got.TicketID)
}

func TestListTicketsScopesCustomers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.newTicket(t, f.customer)
	f.newTicket(t, f.customer)
	f.newTicket(t, f.other)

	page, err := f.tickets.ListTickets(ctx, f.customer, TicketListFilter{OwnerID: &f.other.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	for _, ticket := range page.Tickets {
		assert.Equal(t, f.customer.ID, ticket.OwnerID)
	}

	all, err := f.tickets.ListAllTickets(ctx, f.agent, TicketListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.Total)

	_, err = f.tickets.ListAllTickets(ctx, f.customer, TicketListFilter{})
	requireCode(t, err, apperrors.CodeForbidden)

	_, err = f.tickets.ListTickets(ctx, f.agent, TicketListFilter{Statuses: []domain.TicketStatus{"bogus"}})
	requireCode(t, err, apperrors.CodeValidation)
}

func TestStatusSequenceRecordsAuditAndResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.newTicket(t, f.customer)

	var resolvedAt time.Time
	for _, status := range []domain.TicketStatus{domain.TicketStatusOpen, domain.TicketStatusInProgress, domain.TicketStatusResolved} {
		f.clock.Advance(time.Hour)
		updated, err := f.tickets.UpdateTicket(ctx, f.agent, ticket.TicketID, audit.Patch{Status: statusPtr(status)}, nil)
		require.NoError(t, err)
		if status == domain.TicketStatusResolved {
			require.NotNil(t, updated.ResolvedAt)
			resolvedAt = *updated.ResolvedAt
		} else {
			assert.Nil(t, updated.ResolvedAt)
		}
	}
	assert.Equal(t, f.clock.Now(), resolvedAt)

	// Reopen and resolve again: the first resolution time sticks.
	f.clock.Advance(time.Hour)
	_, err := f.tickets.UpdateTicket(ctx, f.agent, ticket.TicketID, audit.Patch{Status: statusPtr(domain.TicketStatusOpen)}, nil)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	final, err := f.tickets.UpdateTicket(ctx, f.agent, ticket.TicketID, audit.Patch{Status: statusPtr(domain.TicketStatusResolved)}, nil)
	require.NoError(t, err)

	require.NotNil(t, final.ResolvedAt)
	assert.Equal(t, resolvedAt, *final.ResolvedAt)
	require.Len(t, final.AuditLog, 5)
	first := final.AuditLog[0].Changes
	require.Len(t, first, 1)
	assert.Equal(t, domain.FieldChange{Field: "status", From: "new", To: "open"}, first[0])

	stored, err := f.tickets.GetTicket(ctx, f.customer, ticket.TicketID)
	require.NoError(t, err)
	assert.Len(t, stored.AuditLog, 5)
	assert.Equal(t, int64(6), stored.Version)
}

func TestNoOpUpdateLeavesAuditUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.newTicket(t, f.customer)

	updated, err := f.tickets.UpdateTicket(ctx, f.agent, ticket.TicketID, audit.Patch{
		Status:  statusPtr(domain.TicketStatusNew),
		Subject: strPtr(ticket.Subject),
	}, nil)
	require.NoError(t, err)
	assert.Empty(t, updated.AuditLog)
	assert.Equal(t, int64(1), updated.Version)
}

func TestUpdateDiffFollowsCallerOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.newTicket(t, f.customer)

	updated, err := f.tickets.UpdateTicket(ctx, f.agent, ticket.TicketID, audit.Patch{
		Status:   statusPtr(domain.TicketStatusOpen),
		Priority: priorityPtr(domain.TicketPriorityHigh),
		Order:    []string{audit.FieldPriority, audit.FieldStatus},
	}, nil)
	require.NoError(t, err)
	require.Len(t, updated.AuditLog, 1)
	assert.Equal(t, []string{"priority", "status"}, updated.AuditLog[0].Changes.Fields())
}

func TestAttachmentsAccumulateWithoutAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket, err := f.tickets.CreateTicket(ctx, f.customer, TicketCreateInput{
		Subject: "Broken", Description: "Screen cracked", Category: domain.CategoryProduct,
		Attachments: []domain.Attachment{{StorageKey: "a"}, {StorageKey: "b"}},
	})
	require.NoError(t, err)

	updated, err := f.tickets.UpdateTicket(ctx, f.customer, ticket.TicketID, audit.Patch{}, []domain.Attachment{{StorageKey: "c"}})
	require.NoError(t, err)
	assert.Len(t, updated.Attachments, 3)
	assert.Empty(t, updated.AuditLog)
	assert.Equal(t, int64(2), updated.Version)

	tooMany := make([]domain.Attachment, 6)
	_, err = f.tickets.UpdateTicket(ctx, f.customer, ticket.TicketID, audit.Patch{}, tooMany)
	requireCode(t, err, apperrors.CodeValidation)
}

func TestAssignmentRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.newTicket(t, f.customer)

	_, err := f.tickets.UpdateTicket(ctx, f.customer, ticket.TicketID, audit.Patch{HandlerID: strPtr(f.agent.ID)}, nil)
	requireCode(t, err, apperrors.CodeForbidden)

	_, err = f.tickets.UpdateTicket(ctx, f.admin, ticket.TicketID, audit.Patch{HandlerID: strPtr(f.other.ID)}, nil)
	requireCode(t, err, apperrors.CodeValidation)

	assigned, err := f.tickets.UpdateTicket(ctx, f.admin, ticket.TicketID, audit.Patch{HandlerID: strPtr(f.agent.ID)}, nil)
	require.NoError(t, err)
	require.NotNil(t, assigned.HandlerID)
	assert.Equal(t, f.agent.ID, *assigned.HandlerID)
	assert.Equal(t, domain.FieldChange{Field: "handlerId", From: "", To: f.agent.ID}, assigned.AuditLog[0].Changes[0])

	unassigned, err := f.tickets.UpdateTicket(ctx, f.admin, ticket.TicketID, audit.Patch{HandlerID: strPtr("")}, nil)
	require.NoError(t, err)
	assert.Nil(t, unassigned.HandlerID)
}

func TestRatingRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.newTicket(t, f.customer)

	_, err := f.tickets.UpdateTicket(ctx, f.customer, ticket.TicketID, audit.Patch{Rating: intPtr(5)}, nil)
	requireCode(t, err, apperrors.CodeValidation)

	_, err = f.tickets.UpdateTicket(ctx, f.agent, ticket.TicketID, audit.Patch{Status: statusPtr(domain.TicketStatusResolved)}, nil)
	require.NoError(t, err)

	_, err = f.tickets.UpdateTicket(ctx, f.agent, ticket.TicketID, audit.Patch{Rating: intPtr(5)}, nil)
	requireCode(t, err, apperrors.CodeForbidden)

	_, err = f.tickets.UpdateTicket(ctx, f.customer, ticket.TicketID, audit.Patch{Rating: intPtr(9)}, nil)
	requireCode(t, err, apperrors.CodeValidation)

	rated, err := f.tickets.UpdateTicket(ctx, f.customer, ticket.TicketID, audit.Patch{
		Rating:         intPtr(4),
		RatingFeedback: strPtr("quick fix"),
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, rated.Rating)
	assert.Equal(t, domain.Rating{Score: 4, Feedback: "quick fix"}, *rated.Rating)
}

func TestStrictTransitionsRejectLeavingClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewTicketService(TicketDependencies{
		TicketRepo: f.store.Tickets(),
		UserRepo:   f.store.Users(),
		Policy:     lifecycle.PolicyFor(true),
		Clock:      f.clock.Now,
	})
	ticket := f.newTicket(t, f.customer)

	_, err := svc.UpdateTicket(ctx, f.agent, ticket.TicketID, audit.Patch{Status: statusPtr(domain.TicketStatusClosed)}, nil)
	require.NoError(t, err)
	_, err = svc.UpdateTicket(ctx, f.agent, ticket.TicketID, audit.Patch{Status: statusPtr(domain.TicketStatusOpen)}, nil)
	requireCode(t, err, apperrors.CodeValidation)
}

func TestConcurrentDisjointUpdatesBothSurvive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.newTicket(t, f.customer)

	svc := NewTicketService(TicketDependencies{
		TicketRepo:        f.store.Tickets(),
		UserRepo:          f.store.Users(),
		MaxUpdateAttempts: 10,
	})

	patches := []audit.Patch{
		{Priority: priorityPtr(domain.TicketPriorityHigh)},
		{Subject: strPtr("Parcel lost in transit")},
	}
	var wg sync.WaitGroup
	errs := make([]error, len(patches))
	for i, p := range patches {
		wg.Add(1)
		go func(i int, p audit.Patch) {
			defer wg.Done()
			_, errs[i] = svc.UpdateTicket(ctx, f.agent, ticket.TicketID, p, nil)
		}(i, p)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	final, err := svc.GetTicket(ctx, f.agent, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityHigh, final.Priority)
	assert.Equal(t, "Parcel lost in transit", final.Subject)
	assert.Len(t, final.AuditLog, 2)
	assert.Equal(t, int64(3), final.Version)
}

// conflictingRepo fails the first n updates as if another writer won the race.
type conflictingRepo struct {
	repository.TicketRepository
	remaining atomic.Int32
	calls     atomic.Int32
}

func (r *conflictingRepo) Update(ctx context.Context, mutation repository.TicketMutation) error {
	r.calls.Add(1)
	if r.remaining.Add(-1) >= 0 {
		return repository.ErrVersionConflict
	}
	return r.TicketRepository.Update(ctx, mutation)
}

func TestUpdateRetriesVersionConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.newTicket(t, f.customer)

	repo := &conflictingRepo{TicketRepository: f.store.Tickets()}
	repo.remaining.Store(2)
	svc := NewTicketService(TicketDependencies{TicketRepo: repo, UserRepo: f.store.Users(), MaxUpdateAttempts: 3})

	updated, err := svc.UpdateTicket(ctx, f.agent, ticket.TicketID, audit.Patch{Status: statusPtr(domain.TicketStatusOpen)}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, updated.Status)
	assert.Equal(t, int32(3), repo.calls.Load())
	assert.Len(t, updated.AuditLog, 1)
}

func TestUpdateGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.newTicket(t, f.customer)

	repo := &conflictingRepo{TicketRepository: f.store.Tickets()}
	repo.remaining.Store(100)
	svc := NewTicketService(TicketDependencies{TicketRepo: repo, UserRepo: f.store.Users(), MaxUpdateAttempts: 3})

	_, err := svc.UpdateTicket(ctx, f.agent, ticket.TicketID, audit.Patch{Status: statusPtr(domain.TicketStatusOpen)}, nil)
	requireCode(t, err, apperrors.CodeConflict)
	assert.Equal(t, int32(3), repo.calls.Load())

	stored, err := f.tickets.GetTicket(ctx, f.agent, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusNew, stored.Status)
	assert.Empty(t, stored.AuditLog)
}

type recordingRemover struct {
	keys []string
}

func (r *recordingRemover) Remove(_ context.Context, key string) error {
	r.keys = append(r.keys, key)
	return nil
}

func TestDeleteTicketRemovesThreadAndFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	files := &recordingRemover{}
	svc := NewTicketService(TicketDependencies{TicketRepo: f.store.Tickets(), Files: files})

	ticket, err := svc.CreateTicket(ctx, f.customer, TicketCreateInput{
		Subject: "s", Description: "d", Category: domain.CategoryOther,
		Attachments: []domain.Attachment{{StorageKey: "k1"}},
	})
	require.NoError(t, err)
	_, err = f.chat.PostMessage(ctx, f.customer, ticket.TicketID, "hello")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTicket(ctx, f.customer, ticket.TicketID))
	assert.Equal(t, []string{"k1"}, files.keys)

	_, err = svc.GetTicket(ctx, f.customer, ticket.TicketID)
	requireCode(t, err, apperrors.CodeNotFound)
	count, err := f.store.Messages().CountAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
