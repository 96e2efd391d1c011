package repository

import (
	"errors"

	"github.com/helpline-labs/support-desk/internal/domain"
)

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when a conditional write lost to a concurrent writer.
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicateTicketID is returned when a generated ticket id collides.
	ErrDuplicateTicketID = errors.New("duplicate ticket id")
	// ErrDuplicateEmail is returned when an account with the email exists.
	ErrDuplicateEmail = errors.New("duplicate email")
	// ErrStoreUnavailable wraps transient persistence failures (timeouts, disconnects).
	ErrStoreUnavailable = errors.New("store unavailable")
)

// SortField names a column tickets can be ordered by.
type SortField string

const (
	SortByCreatedAt SortField = "created_at"
	SortByUpdatedAt SortField = "updated_at"
	SortByStatus    SortField = "status"
	SortByPriority  SortField = "priority"
)

// Valid reports whether f is an accepted sort field.
func (f SortField) Valid() bool {
	switch f {
	case SortByCreatedAt, SortByUpdatedAt, SortByStatus, SortByPriority:
		return true
	}
	return false
}

// TicketQuery selects tickets. Nil/empty fields do not constrain the result.
type TicketQuery struct {
	TicketID   *string
	OwnerID    *string
	HandlerID  *string
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	Category   *domain.TicketCategory
	SearchTerm *string
	SortBy     SortField
	Ascending  bool
	Limit      int
	Offset     int
}

// TicketMutation is one version-checked write of a ticket.
//
// Ticket carries the desired scalar state (status, priority, handler, subject, description,
// category, rating, resolvedAt, updatedAt) and the new Version. The row is written only if its
// stored version still equals ExpectedVersion. ResolvedAt is written only when the stored value
// is null. AppendAudit and AppendAttachments are appended after any existing entries.
type TicketMutation struct {
	Ticket            *domain.Ticket
	ExpectedVersion   int64
	AppendAudit       *domain.AuditEntry
	AppendAttachments []domain.Attachment
}

// UserFilter narrows user listings.
type UserFilter struct {
	Role *domain.Role
}
