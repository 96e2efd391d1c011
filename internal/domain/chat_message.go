package domain

import "time"

// ChatMessage is one immutable entry in a ticket's conversation thread.
type ChatMessage struct {
	ID         string    `json:"id"`
	TicketID   string    `json:"ticketId"`
	SenderID   string    `json:"senderId"`
	SenderRole Role      `json:"senderRole"`
	Body       string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}
