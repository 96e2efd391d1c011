package audit

import (
	"strconv"
	"time"

	"github.com/helpline-labs/support-desk/internal/domain"
)

// Field is one row of the tracked-field table.
type Field struct {
	Name string

	present  func(Patch) bool
	current  func(*domain.Ticket) string
	proposed func(Patch) string
	apply    func(Patch, *domain.Ticket)
}

// Fields is the complete set of audited ticket fields, in default diff order.
var Fields = []Field{
	{
		Name:     FieldStatus,
		present:  func(p Patch) bool { return p.Status != nil },
		current:  func(t *domain.Ticket) string { return string(t.Status) },
		proposed: func(p Patch) string { return string(*p.Status) },
		apply:    func(p Patch, t *domain.Ticket) { t.Status = *p.Status },
	},
	{
		Name:     FieldPriority,
		present:  func(p Patch) bool { return p.Priority != nil },
		current:  func(t *domain.Ticket) string { return string(t.Priority) },
		proposed: func(p Patch) string { return string(*p.Priority) },
		apply:    func(p Patch, t *domain.Ticket) { t.Priority = *p.Priority },
	},
	{
		Name:     FieldHandlerID,
		present:  func(p Patch) bool { return p.HandlerID != nil },
		current:  func(t *domain.Ticket) string { return formatHandler(t.HandlerID) },
		proposed: func(p Patch) string { return *p.HandlerID },
		apply: func(p Patch, t *domain.Ticket) {
			if *p.HandlerID == "" {
				t.HandlerID = nil
				return
			}
			h := *p.HandlerID
			t.HandlerID = &h
		},
	},
	{
		Name:     FieldSubject,
		present:  func(p Patch) bool { return p.Subject != nil },
		current:  func(t *domain.Ticket) string { return t.Subject },
		proposed: func(p Patch) string { return *p.Subject },
		apply:    func(p Patch, t *domain.Ticket) { t.Subject = *p.Subject },
	},
	{
		Name:     FieldDescription,
		present:  func(p Patch) bool { return p.Description != nil },
		current:  func(t *domain.Ticket) string { return t.Description },
		proposed: func(p Patch) string { return *p.Description },
		apply:    func(p Patch, t *domain.Ticket) { t.Description = *p.Description },
	},
	{
		Name:     FieldCategory,
		present:  func(p Patch) bool { return p.Category != nil },
		current:  func(t *domain.Ticket) string { return string(t.Category) },
		proposed: func(p Patch) string { return string(*p.Category) },
		apply:    func(p Patch, t *domain.Ticket) { t.Category = *p.Category },
	},
	{
		Name:     FieldRating,
		present:  func(p Patch) bool { return p.Rating != nil },
		current:  func(t *domain.Ticket) string { return formatRating(t.Rating) },
		proposed: func(p Patch) string { return strconv.Itoa(*p.Rating) },
		apply: func(p Patch, t *domain.Ticket) {
			if t.Rating == nil {
				t.Rating = &domain.Rating{}
			}
			t.Rating.Score = *p.Rating
		},
	},
	{
		Name:     FieldRatingFeedback,
		present:  func(p Patch) bool { return p.RatingFeedback != nil },
		current:  func(t *domain.Ticket) string { return formatFeedback(t.Rating) },
		proposed: func(p Patch) string { return *p.RatingFeedback },
		apply: func(p Patch, t *domain.Ticket) {
			if t.Rating == nil {
				t.Rating = &domain.Rating{}
			}
			t.Rating.Feedback = *p.RatingFeedback
		},
	},
}

// Lookup returns the tracked field with the given name.
func Lookup(name string) (Field, bool) {
	for _, f := range Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Diff compares the patch against t and returns the fields whose value would change.
// Fields are reported in the caller's order, falling back to table order.
func Diff(t *domain.Ticket, p Patch) domain.Changes {
	var changes domain.Changes
	for _, f := range orderedFields(p) {
		from, to := f.current(t), f.proposed(p)
		if from != to {
			changes = append(changes, domain.FieldChange{Field: f.Name, From: from, To: to})
		}
	}
	return changes
}

// Apply writes every present patch field onto t. Rating is applied before feedback so a
// patch carrying both yields one rating.
func Apply(t *domain.Ticket, p Patch) {
	for _, f := range Fields {
		if f.present(p) {
			f.apply(p, t)
		}
	}
}

// Record diffs and applies p to t in one step. When anything changed it appends and returns
// the new audit entry; otherwise it returns nil and t's audit log is untouched.
func Record(t *domain.Ticket, p Patch, now time.Time) *domain.AuditEntry {
	changes := Diff(t, p)
	Apply(t, p)
	if len(changes) == 0 {
		return nil
	}
	entry := domain.AuditEntry{Timestamp: now, Changes: changes}
	t.AuditLog = append(t.AuditLog, entry)
	return &entry
}

func orderedFields(p Patch) []Field {
	seen := make(map[string]bool, len(Fields))
	ordered := make([]Field, 0, len(Fields))
	for _, name := range p.Order {
		f, ok := Lookup(name)
		if !ok || seen[name] || !f.present(p) {
			continue
		}
		seen[name] = true
		ordered = append(ordered, f)
	}
	for _, f := range Fields {
		if !seen[f.Name] && f.present(p) {
			ordered = append(ordered, f)
		}
	}
	return ordered
}
