// Package lifecycle derives timing facts of a ticket and decides which status moves are legal.
package lifecycle

import (
	"time"

	"github.com/helpline-labs/support-desk/internal/domain"
	apperrors "github.com/helpline-labs/support-desk/pkg/util/errorutil"
)

// TransitionPolicy decides whether a ticket may move between two statuses.
type TransitionPolicy interface {
	Allow(from, to domain.TicketStatus) bool
}

// Unrestricted allows any known status to follow any other.
type Unrestricted struct{}

// Allow implements TransitionPolicy.
func (Unrestricted) Allow(_, to domain.TicketStatus) bool {
	return to.Valid()
}

// Strict enforces a directed transition graph. Closed is terminal.
type Strict struct{}

var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusNew:        {domain.TicketStatusOpen, domain.TicketStatusInProgress, domain.TicketStatusWaiting, domain.TicketStatusResolved, domain.TicketStatusClosed},
	domain.TicketStatusOpen:       {domain.TicketStatusInProgress, domain.TicketStatusWaiting, domain.TicketStatusResolved, domain.TicketStatusClosed},
	domain.TicketStatusInProgress: {domain.TicketStatusOpen, domain.TicketStatusWaiting, domain.TicketStatusResolved, domain.TicketStatusClosed},
	domain.TicketStatusWaiting:    {domain.TicketStatusOpen, domain.TicketStatusInProgress, domain.TicketStatusResolved, domain.TicketStatusClosed},
	domain.TicketStatusResolved:   {domain.TicketStatusOpen, domain.TicketStatusInProgress, domain.TicketStatusClosed},
	domain.TicketStatusClosed:     {},
}

// Allow implements TransitionPolicy. Staying in the same status is always allowed.
func (Strict) Allow(from, to domain.TicketStatus) bool {
	if from == to {
		return true
	}
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// PolicyFor returns Strict when strict is set, Unrestricted otherwise.
func PolicyFor(strict bool) TransitionPolicy {
	if strict {
		return Strict{}
	}
	return Unrestricted{}
}

// CheckTransition returns a validation error when policy rejects the move.
func CheckTransition(policy TransitionPolicy, from, to domain.TicketStatus) error {
	if policy.Allow(from, to) {
		return nil
	}
	return apperrors.NewValidationError("status transition not allowed", map[string]any{
		"status": map[string]any{"from": from, "to": to},
	})
}

// StampResolution sets ResolvedAt to now when changes moved the ticket into resolved and it
// has never been resolved before. It reports whether the stamp was set.
func StampResolution(t *domain.Ticket, changes domain.Changes, now time.Time) bool {
	if t.ResolvedAt != nil {
		return false
	}
	change, ok := changes.Get("status")
	if !ok || domain.TicketStatus(change.To) != domain.TicketStatusResolved {
		return false
	}
	at := now
	t.ResolvedAt = &at
	return true
}

// RespondsFirst reports whether a message from role stamps the first response of a ticket
// whose current stamp is firstResponseAt.
func RespondsFirst(role domain.Role, firstResponseAt *time.Time) bool {
	return role.IsStaff() && firstResponseAt == nil
}
