// Package access turns an authenticated caller into the query that bounds what it may touch.
//
// Every ticket operation goes through Resolve first and consumes the resulting Scope, so role
// checks live here and nowhere else. A customer asking for someone else's ticket gets the same
// NotFound as for a ticket that does not exist.
package access

import (
	"github.com/helpline-labs/support-desk/internal/domain"
	"github.com/helpline-labs/support-desk/internal/repository"
	apperrors "github.com/helpline-labs/support-desk/pkg/util/errorutil"
)

// Caller is the authenticated identity behind a request.
type Caller struct {
	ID   string
	Role domain.Role
}

// IsStaff reports whether the caller is an agent or admin.
func (c Caller) IsStaff() bool {
	return c.Role.IsStaff()
}

// Scope bounds the tickets a caller may read or mutate.
type Scope struct {
	caller Caller
}

// Resolve builds the scope for caller. Unknown roles are rejected.
func Resolve(caller Caller) (Scope, error) {
	if caller.ID == "" {
		return Scope{}, apperrors.NewUnauthorized("authentication required")
	}
	if !caller.Role.Valid() {
		return Scope{}, apperrors.NewForbidden("unknown role")
	}
	return Scope{caller: caller}, nil
}

// Caller returns the identity the scope was resolved for.
func (s Scope) Caller() Caller {
	return s.caller
}

// IsStaff reports whether the scope is unrestricted.
func (s Scope) IsStaff() bool {
	return s.caller.IsStaff()
}

// Ticket returns the query that finds ticketID within the scope.
func (s Scope) Ticket(ticketID string) repository.TicketQuery {
	q := repository.TicketQuery{TicketID: &ticketID}
	s.restrict(&q)
	return q
}

// List narrows filter to the scope. Any owner constraint supplied by a customer is replaced
// with the caller's own id.
func (s Scope) List(filter repository.TicketQuery) repository.TicketQuery {
	s.restrict(&filter)
	return filter
}

// CanAssign reports whether the caller may set a ticket's handler.
func (s Scope) CanAssign() error {
	if !s.caller.IsStaff() {
		return apperrors.NewForbidden("only staff may assign tickets")
	}
	return nil
}

// RequireStaff fails closed unless the scope belongs to staff.
func (s Scope) RequireStaff() error {
	return RequireStaff(s.caller)
}

func (s Scope) restrict(q *repository.TicketQuery) {
	if s.caller.IsStaff() {
		return
	}
	owner := s.caller.ID
	q.OwnerID = &owner
}

// RequireAdmin fails closed unless the caller is an admin.
func RequireAdmin(caller Caller) error {
	if caller.ID == "" {
		return apperrors.NewUnauthorized("authentication required")
	}
	if caller.Role != domain.RoleAdmin {
		return apperrors.NewForbidden("admin access required")
	}
	return nil
}

// RequireStaff fails closed unless the caller is an agent or admin.
func RequireStaff(caller Caller) error {
	if caller.ID == "" {
		return apperrors.NewUnauthorized("authentication required")
	}
	if !caller.IsStaff() {
		return apperrors.NewForbidden("staff access required")
	}
	return nil
}
