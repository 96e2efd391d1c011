package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/helpline-labs/support-desk/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated          EventType = "ticket_created"
	EventTicketUpdated          EventType = "ticket_updated"
	EventTicketResolved         EventType = "ticket_resolved"
	EventTicketDeleted          EventType = "ticket_deleted"
	EventMessagePosted          EventType = "message_posted"
	EventFirstResponseRecorded  EventType = "first_response_recorded"
	EventVerificationCodeIssued EventType = "otp_issued"
)

// Actor identifies who caused an event.
type Actor struct {
	UserID string      `json:"user_id"`
	Role   domain.Role `json:"role"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id,omitempty"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// New stamps an event with a fresh id.
func New(eventType EventType, ticketID string, actor Actor, at time.Time, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Actor:     actor,
		Timestamp: at,
		Payload:   payload,
	}
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	OwnerID     string                `json:"owner_id"`
	Subject     string                `json:"subject"`
	Category    domain.TicketCategory `json:"category"`
	Priority    domain.TicketPriority `json:"priority"`
	Attachments int                   `json:"attachments"`
}

// TicketUpdatedPayload payload.
type TicketUpdatedPayload struct {
	Changes         domain.Changes `json:"changes"`
	NewAttachments  int            `json:"new_attachments"`
	Version         int64          `json:"version"`
	HandlerAssigned *string        `json:"handler_assigned,omitempty"`
}

// TicketResolvedPayload payload.
type TicketResolvedPayload struct {
	OwnerID    string    `json:"owner_id"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// MessagePostedPayload payload.
type MessagePostedPayload struct {
	MessageID   string      `json:"message_id"`
	SenderRole  domain.Role `json:"sender_role"`
	BodyPreview string      `json:"body_preview"`
}

// FirstResponsePayload payload.
type FirstResponsePayload struct {
	RespondedAt time.Time `json:"responded_at"`
}

// VerificationCodePayload carries the code to deliver by email.
type VerificationCodePayload struct {
	Email     string    `json:"email"`
	Code      string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}
