// Package audit holds the tracked-field table and the diff/apply steps of a ticket update.
package audit

import (
	"strconv"
	"strings"

	"github.com/helpline-labs/support-desk/internal/domain"
	apperrors "github.com/helpline-labs/support-desk/pkg/util/errorutil"
)

// Tracked field names as they appear in audit entries and update payloads.
const (
	FieldStatus         = "status"
	FieldPriority       = "priority"
	FieldHandlerID      = "handlerId"
	FieldSubject        = "subject"
	FieldDescription    = "description"
	FieldCategory       = "category"
	FieldRating         = "rating"
	FieldRatingFeedback = "ratingFeedback"
)

// Patch is a partial update. Nil fields are left untouched. A HandlerID pointing at the
// empty string unassigns the ticket.
type Patch struct {
	Status         *domain.TicketStatus
	Priority       *domain.TicketPriority
	HandlerID      *string
	Subject        *string
	Description    *string
	Category       *domain.TicketCategory
	Rating         *int
	RatingFeedback *string

	// Order lists field names in the order the caller supplied them. Present fields missing
	// from Order are diffed after it, in table order.
	Order []string
}

// Empty reports whether the patch sets no tracked field.
func (p Patch) Empty() bool {
	for _, f := range Fields {
		if f.present(p) {
			return false
		}
	}
	return true
}

// Has reports whether the patch sets the named field.
func (p Patch) Has(name string) bool {
	f, ok := Lookup(name)
	return ok && f.present(p)
}

// Validate checks value-level rules against the ticket the patch will be applied to.
// Capability and transition rules are enforced by the caller.
func (p Patch) Validate(current *domain.Ticket) error {
	details := map[string]any{}

	if p.Status != nil && !p.Status.Valid() {
		details[FieldStatus] = "unknown status"
	}
	if p.Priority != nil && !p.Priority.Valid() {
		details[FieldPriority] = "unknown priority"
	}
	if p.Category != nil && !p.Category.Valid() {
		details[FieldCategory] = "unknown category"
	}
	if p.Subject != nil && strings.TrimSpace(*p.Subject) == "" {
		details[FieldSubject] = "must not be empty"
	}
	if p.Description != nil && strings.TrimSpace(*p.Description) == "" {
		details[FieldDescription] = "must not be empty"
	}
	if p.Rating != nil && (*p.Rating < domain.MinRatingScore || *p.Rating > domain.MaxRatingScore) {
		details[FieldRating] = "must be between 1 and 5"
	}
	if p.Rating != nil || p.RatingFeedback != nil {
		resolving := p.Status != nil && *p.Status == domain.TicketStatusResolved
		if !current.IsResolved() && !resolving {
			details[FieldRating] = "ticket must be resolved before it can be rated"
		}
	}
	if p.RatingFeedback != nil && p.Rating == nil && current.Rating == nil {
		details[FieldRatingFeedback] = "feedback requires a rating"
	}

	if len(details) > 0 {
		return apperrors.NewValidationError("invalid ticket update", details)
	}
	return nil
}

func formatRating(r *domain.Rating) string {
	if r == nil {
		return ""
	}
	return strconv.Itoa(r.Score)
}

func formatFeedback(r *domain.Rating) string {
	if r == nil {
		return ""
	}
	return r.Feedback
}

func formatHandler(h *string) string {
	if h == nil {
		return ""
	}
	return *h
}
