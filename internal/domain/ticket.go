package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusNew        TicketStatus = "new"
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusWaiting    TicketStatus = "waiting"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
)

// TicketStatuses lists every status in lifecycle order.
var TicketStatuses = []TicketStatus{
	TicketStatusNew,
	TicketStatusOpen,
	TicketStatusInProgress,
	TicketStatusWaiting,
	TicketStatusResolved,
	TicketStatusClosed,
}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	for _, candidate := range TicketStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// TicketPriority enumerates urgency.
type TicketPriority string

const (
	TicketPriorityLow        TicketPriority = "low"
	TicketPriorityMedium     TicketPriority = "medium"
	TicketPriorityHigh       TicketPriority = "high"
	TicketPriorityCritical   TicketPriority = "critical"
	TicketPriorityUnassigned TicketPriority = "unassigned"
)

// TicketPriorities lists every priority.
var TicketPriorities = []TicketPriority{
	TicketPriorityLow,
	TicketPriorityMedium,
	TicketPriorityHigh,
	TicketPriorityCritical,
	TicketPriorityUnassigned,
}

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	for _, candidate := range TicketPriorities {
		if candidate == p {
			return true
		}
	}
	return false
}

// TicketCategory is the fixed set of issue areas a customer can file under.
type TicketCategory string

const (
	CategoryProduct        TicketCategory = "product"
	CategoryShipping       TicketCategory = "shipping"
	CategoryBilling        TicketCategory = "billing"
	CategoryWebsite        TicketCategory = "website"
	CategoryTechnical      TicketCategory = "technical"
	CategoryGeneral        TicketCategory = "general"
	CategoryFeatureRequest TicketCategory = "feature_request"
	CategoryOther          TicketCategory = "other"
)

// TicketCategories lists every category.
var TicketCategories = []TicketCategory{
	CategoryProduct,
	CategoryShipping,
	CategoryBilling,
	CategoryWebsite,
	CategoryTechnical,
	CategoryGeneral,
	CategoryFeatureRequest,
	CategoryOther,
}

// Valid reports whether c is a known category.
func (c TicketCategory) Valid() bool {
	for _, candidate := range TicketCategories {
		if candidate == c {
			return true
		}
	}
	return false
}

// Attachment is a reference to a file held by the file store.
type Attachment struct {
	StorageKey   string    `json:"storageKey"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimeType"`
	SizeBytes    int64     `json:"sizeBytes"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// Rating is the customer's satisfaction feedback on a resolved ticket.
type Rating struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback,omitempty"`
}

// MinRatingScore and MaxRatingScore bound Rating.Score.
const (
	MinRatingScore = 1
	MaxRatingScore = 5
)

// Ticket is the aggregate for support requests.
type Ticket struct {
	TicketID        string
	OwnerID         string
	OwnerName       string
	HandlerID       *string
	Subject         string
	Description     string
	Category        TicketCategory
	Status          TicketStatus
	Priority        TicketPriority
	Attachments     []Attachment
	Rating          *Rating
	AuditLog        []AuditEntry
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ResolvedAt      *time.Time
	FirstResponseAt *time.Time
	Version         int64
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	if t.HandlerID != nil {
		h := *t.HandlerID
		c.HandlerID = &h
	}
	if t.Rating != nil {
		r := *t.Rating
		c.Rating = &r
	}
	if t.ResolvedAt != nil {
		at := *t.ResolvedAt
		c.ResolvedAt = &at
	}
	if t.FirstResponseAt != nil {
		at := *t.FirstResponseAt
		c.FirstResponseAt = &at
	}
	c.Attachments = append([]Attachment(nil), t.Attachments...)
	c.AuditLog = nil
	if t.AuditLog != nil {
		c.AuditLog = make([]AuditEntry, len(t.AuditLog))
	}
	for i, entry := range t.AuditLog {
		c.AuditLog[i] = AuditEntry{
			Timestamp: entry.Timestamp,
			Changes:   append(Changes(nil), entry.Changes...),
		}
	}
	return &c
}

// IsResolved reports whether the ticket has ever been resolved.
func (t *Ticket) IsResolved() bool {
	return t.ResolvedAt != nil
}
