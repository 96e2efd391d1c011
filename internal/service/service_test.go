package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helpline-labs/support-desk/internal/access"
	"github.com/helpline-labs/support-desk/internal/domain"
	"github.com/helpline-labs/support-desk/internal/events"
	"github.com/helpline-labs/support-desk/internal/lifecycle"
	"github.com/helpline-labs/support-desk/internal/observability"
	"github.com/helpline-labs/support-desk/internal/repository/memory"
	apperrors "github.com/helpline-labs/support-desk/pkg/util/errorutil"
)

// fakeClock is a manual clock. With a non-zero step every reading moves it forward.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	at := c.now
	c.now = c.now.Add(c.step)
	return at
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Step(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = d
}

type fixture struct {
	store      *memory.Store
	clock      *fakeClock
	dispatcher events.Dispatcher
	tickets    *TicketService
	chat       *ChatService
	analytics  *AnalyticsService
	users      *UserService

	customer access.Caller
	other    access.Caller
	agent    access.Caller
	admin    access.Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	dispatcher := events.NewInMemoryDispatcher()
	metrics := observability.NewMetrics()

	f := &fixture{store: store, clock: clock, dispatcher: dispatcher}
	f.tickets = NewTicketService(TicketDependencies{
		TicketRepo:        store.Tickets(),
		UserRepo:          store.Users(),
		Dispatcher:        dispatcher,
		Policy:            lifecycle.Unrestricted{},
		Metrics:           metrics,
		MaxUpdateAttempts: 3,
		MaxAttachments:    5,
		Clock:             clock.Now,
	})
	f.chat = NewChatService(ChatDependencies{
		TicketRepo:  store.Tickets(),
		MessageRepo: store.Messages(),
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Clock:       clock.Now,
	})
	f.analytics = NewAnalyticsService(store.Analytics(), clock.Now)
	f.users = NewUserService(store.Users(), f.analytics)

	f.customer = f.addUser(t, "Cara", "cara@example.com", domain.RoleCustomer)
	f.other = f.addUser(t, "Otto", "otto@example.com", domain.RoleCustomer)
	f.agent = f.addUser(t, "Ava", "ava@example.com", domain.RoleServiceAgent)
	f.admin = f.addUser(t, "Ada", "ada@example.com", domain.RoleAdmin)
	return f
}

func (f *fixture) addUser(t *testing.T, name, email string, role domain.Role) access.Caller {
	t.Helper()
	u := &domain.User{FirstName: name, Email: email, Role: role, Verified: true}
	require.NoError(t, f.store.Users().Create(context.Background(), u))
	return access.Caller{ID: u.ID, Role: role}
}

func (f *fixture) newTicket(t *testing.T, owner access.Caller) *domain.Ticket {
	t.Helper()
	ticket, err := f.tickets.CreateTicket(context.Background(), owner, TicketCreateInput{
		Subject:     "Order never arrived",
		Description: "Tracking stopped updating a week ago",
		Category:    domain.CategoryShipping,
	})
	require.NoError(t, err)
	return ticket
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, apperrors.HasCode(err, code), "expected %s, got %v", code, err)
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

func statusPtr(s domain.TicketStatus) *domain.TicketStatus { return &s }

func priorityPtr(p domain.TicketPriority) *domain.TicketPriority { return &p }

func callerOf(u *domain.User) access.Caller {
	return access.Caller{ID: u.ID, Role: u.Role}
}
