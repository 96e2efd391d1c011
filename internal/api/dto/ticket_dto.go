package dto

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/helpline-labs/support-desk/internal/audit"
	"github.com/helpline-labs/support-desk/internal/domain"
	apperrors "github.com/helpline-labs/support-desk/pkg/util/errorutil"
)

// CreateTicketRequest payload. Multipart requests carry the same names as form fields.
type CreateTicketRequest struct {
	Subject     string `json:"subject" form:"subject" validate:"required,max=200"`
	Description string `json:"description" form:"description" validate:"required,max=5000"`
	Category    string `json:"category" form:"category" validate:"required,ticket_category"`
	Priority    string `json:"priority" form:"priority" validate:"omitempty,ticket_priority"`
}

// RatingRequest is the nested rating object of a ticket update.
type RatingRequest struct {
	Score    *int    `json:"score"`
	Feedback *string `json:"feedback"`
}

var patchKeys = map[string]bool{
	audit.FieldStatus:      true,
	audit.FieldPriority:    true,
	audit.FieldHandlerID:   true,
	audit.FieldSubject:     true,
	audit.FieldDescription: true,
	audit.FieldCategory:    true,
	"rating":               true,
}

// ParseTicketPatch decodes a JSON update body into a patch. Keys outside the tracked field set
// are rejected, and the key order of the body is kept for the audit diff.
func ParseTicketPatch(body []byte) (audit.Patch, error) {
	var patch audit.Patch
	if len(bytes.TrimSpace(body)) == 0 {
		return patch, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	tok, err := dec.Token()
	if err != nil {
		return patch, invalidPatch("body", "malformed JSON")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return patch, invalidPatch("body", "expected a JSON object")
	}

	unknown := []string{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return patch, invalidPatch("body", "malformed JSON")
		}
		key, _ := keyTok.(string)
		if !patchKeys[key] {
			unknown = append(unknown, key)
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return patch, invalidPatch("body", "malformed JSON")
			}
			continue
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return patch, invalidPatch(key, "malformed value")
		}
		if err := setPatchField(&patch, key, raw); err != nil {
			return patch, err
		}
	}
	if _, err := dec.Token(); err != nil {
		return patch, invalidPatch("body", "malformed JSON")
	}
	if len(unknown) > 0 {
		return patch, apperrors.NewValidationError("unknown fields in update", map[string]any{"unknown": unknown})
	}
	return patch, nil
}

func setPatchField(p *audit.Patch, key string, raw json.RawMessage) error {
	isNull := bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
	switch key {
	case audit.FieldHandlerID:
		handler := ""
		if !isNull {
			if err := json.Unmarshal(raw, &handler); err != nil {
				return invalidPatch(key, "must be a string or null")
			}
		}
		p.HandlerID = &handler
	case "rating":
		var r RatingRequest
		if isNull || json.Unmarshal(raw, &r) != nil || r.Score == nil {
			return invalidPatch(key, "must be an object with a score")
		}
		p.Rating = r.Score
		p.Order = append(p.Order, audit.FieldRating)
		if r.Feedback != nil {
			p.RatingFeedback = r.Feedback
			p.Order = append(p.Order, audit.FieldRatingFeedback)
		}
		return nil
	default:
		var value string
		if isNull || json.Unmarshal(raw, &value) != nil {
			return invalidPatch(key, "must be a string")
		}
		setStringField(p, key, value)
	}
	p.Order = append(p.Order, key)
	return nil
}

func setStringField(p *audit.Patch, key, value string) {
	switch key {
	case audit.FieldStatus:
		s := domain.TicketStatus(value)
		p.Status = &s
	case audit.FieldPriority:
		pr := domain.TicketPriority(value)
		p.Priority = &pr
	case audit.FieldSubject:
		p.Subject = &value
	case audit.FieldDescription:
		p.Description = &value
	case audit.FieldCategory:
		c := domain.TicketCategory(value)
		p.Category = &c
	}
}

// ParseTicketPatchForm builds a patch from multipart form values. Form fields carry no order,
// so the diff falls back to the fixed field order. Rating uses the flat names ratingScore and
// ratingFeedback.
func ParseTicketPatchForm(values map[string][]string) (audit.Patch, error) {
	var patch audit.Patch
	unknown := []string{}
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		value := vals[0]
		switch key {
		case audit.FieldStatus, audit.FieldPriority, audit.FieldSubject, audit.FieldDescription, audit.FieldCategory:
			setStringField(&patch, key, value)
		case audit.FieldHandlerID:
			handler := value
			patch.HandlerID = &handler
		case "ratingScore":
			score, err := strconv.Atoi(value)
			if err != nil {
				return patch, invalidPatch(audit.FieldRating, "must be an integer")
			}
			patch.Rating = &score
		case audit.FieldRatingFeedback:
			feedback := value
			patch.RatingFeedback = &feedback
		default:
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		return patch, apperrors.NewValidationError("unknown fields in update", map[string]any{"unknown": unknown})
	}
	return patch, nil
}

func invalidPatch(field, reason string) error {
	return apperrors.NewValidationError("invalid ticket update", map[string]any{field: reason})
}

// AuditEntryResponse renders an audit entry.
type AuditEntryResponse struct {
	Timestamp time.Time      `json:"timestamp"`
	Changes   domain.Changes `json:"changes"`
}

// TicketResponse is the full ticket view.
type TicketResponse struct {
	TicketID        string                `json:"ticketId"`
	OwnerID         string                `json:"ownerId"`
	OwnerName       string                `json:"ownerName"`
	HandlerID       *string               `json:"handlerId"`
	Subject         string                `json:"subject"`
	Description     string                `json:"description"`
	Category        domain.TicketCategory `json:"category"`
	Status          domain.TicketStatus   `json:"status"`
	Priority        domain.TicketPriority `json:"priority"`
	Attachments     []domain.Attachment   `json:"attachments"`
	Rating          *domain.Rating        `json:"rating"`
	AuditLog        []AuditEntryResponse  `json:"auditLog"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
	ResolvedAt      *time.Time            `json:"resolvedAt"`
	FirstResponseAt *time.Time            `json:"firstResponseAt"`
	Version         int64                 `json:"version"`
}

// TicketListResponse is one page of tickets.
type TicketListResponse struct {
	Tickets []TicketResponse `json:"tickets"`
	Total   int64            `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// NewTicketResponse maps a ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	resp := TicketResponse{
		TicketID:        t.TicketID,
		OwnerID:         t.OwnerID,
		OwnerName:       t.OwnerName,
		HandlerID:       t.HandlerID,
		Subject:         t.Subject,
		Description:     t.Description,
		Category:        t.Category,
		Status:          t.Status,
		Priority:        t.Priority,
		Attachments:     t.Attachments,
		Rating:          t.Rating,
		AuditLog:        make([]AuditEntryResponse, 0, len(t.AuditLog)),
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		ResolvedAt:      t.ResolvedAt,
		FirstResponseAt: t.FirstResponseAt,
		Version:         t.Version,
	}
	if resp.Attachments == nil {
		resp.Attachments = []domain.Attachment{}
	}
	for _, entry := range t.AuditLog {
		resp.AuditLog = append(resp.AuditLog, AuditEntryResponse{Timestamp: entry.Timestamp, Changes: entry.Changes})
	}
	return resp
}

// AttachmentIndex parses a positional attachment reference.
func AttachmentIndex(raw string, count int) (int, error) {
	idx, err := strconv.Atoi(raw)
	if err != nil || idx < 0 || idx >= count {
		return 0, apperrors.NewNotFound("attachment", map[string]any{"index": raw})
	}
	return idx, nil
}
