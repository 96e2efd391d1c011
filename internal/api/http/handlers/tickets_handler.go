package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/helpline-labs/support-desk/internal/access"
	"github.com/helpline-labs/support-desk/internal/api/dto"
	"github.com/helpline-labs/support-desk/internal/audit"
	"github.com/helpline-labs/support-desk/internal/domain"
	"github.com/helpline-labs/support-desk/internal/repository"
	"github.com/helpline-labs/support-desk/internal/service"
	"github.com/helpline-labs/support-desk/internal/storage"
	apperrors "github.com/helpline-labs/support-desk/pkg/util/errorutil"
)

const attachmentsField = "attachments"

// FileStore persists uploaded attachments.
type FileStore interface {
	Check(originalName string, size int64) (string, error)
	Save(ctx context.Context, r io.Reader, originalName string, size int64) (domain.Attachment, error)
	Open(ctx context.Context, key string) (*os.File, error)
	Remove(ctx context.Context, key string) error
}

// TicketsHandler manages ticket endpoints.
type TicketsHandler struct {
	service        *service.TicketService
	files          FileStore
	validator      *dto.Validator
	logger         *zap.Logger
	maxAttachments int
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService, files FileStore, validator *dto.Validator, logger *zap.Logger, maxAttachments int) *TicketsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketsHandler{service: ticketService, files: files, validator: validator, logger: logger, maxAttachments: maxAttachments}
}

// CreateTicket POST /api/tickets. Accepts JSON or multipart with files under "attachments".
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}

	var (
		req         dto.CreateTicketRequest
		attachments []domain.Attachment
	)
	ctx := c.UserContext()
	if isMultipart(c) {
		form, err := c.MultipartForm()
		if err != nil {
			return apperrors.NewValidationError("invalid multipart form", nil)
		}
		req = dto.CreateTicketRequest{
			Subject:     formValue(form, "subject"),
			Description: formValue(form, "description"),
			Category:    formValue(form, "category"),
			Priority:    formValue(form, "priority"),
		}
		if err := h.validator.Struct(req); err != nil {
			return err
		}
		if attachments, err = h.saveUploads(ctx, form.File[attachmentsField]); err != nil {
			return err
		}
	} else if err := bindJSON(c, h.validator, &req); err != nil {
		return err
	}

	ticket, err := h.service.CreateTicket(ctx, caller, service.TicketCreateInput{
		Subject:     req.Subject,
		Description: req.Description,
		Category:    domain.TicketCategory(req.Category),
		Priority:    domain.TicketPriority(req.Priority),
		Attachments: attachments,
	})
	if err != nil {
		h.discard(ctx, attachments)
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// ListTickets GET /api/tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	return h.list(c, h.service.ListTickets)
}

// ListAllTickets GET /api/tickets/all.
func (h *TicketsHandler) ListAllTickets(c *fiber.Ctx) error {
	return h.list(c, h.service.ListAllTickets)
}

type listFunc func(context.Context, access.Caller, service.TicketListFilter) (*service.TicketPage, error)

func (h *TicketsHandler) list(c *fiber.Ctx, fn listFunc) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	filter, err := parseTicketFilter(c)
	if err != nil {
		return err
	}
	page, err := fn(c.UserContext(), caller, filter)
	if err != nil {
		return err
	}
	resp := dto.TicketListResponse{
		Tickets: make([]dto.TicketResponse, 0, len(page.Tickets)),
		Total:   page.Total,
		Limit:   page.Limit,
		Offset:  page.Offset,
	}
	for i := range page.Tickets {
		resp.Tickets = append(resp.Tickets, dto.NewTicketResponse(&page.Tickets[i]))
	}
	return c.JSON(fiber.Map{"data": resp})
}

// GetTicket GET /api/tickets/:ticketId.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.GetTicket(c.UserContext(), caller, c.Params("ticketId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// UpdateTicket PATCH /api/tickets/:ticketId. JSON bodies keep their key order in the audit
// entry; multipart bodies may also carry new attachments.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}

	var (
		patch       audit.Patch
		attachments []domain.Attachment
	)
	ctx := c.UserContext()
	if isMultipart(c) {
		form, err := c.MultipartForm()
		if err != nil {
			return apperrors.NewValidationError("invalid multipart form", nil)
		}
		if patch, err = dto.ParseTicketPatchForm(form.Value); err != nil {
			return err
		}
		if attachments, err = h.saveUploads(ctx, form.File[attachmentsField]); err != nil {
			return err
		}
	} else if patch, err = dto.ParseTicketPatch(c.Body()); err != nil {
		return err
	}

	ticket, err := h.service.UpdateTicket(ctx, caller, c.Params("ticketId"), patch, attachments)
	if err != nil {
		h.discard(ctx, attachments)
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// DeleteTicket DELETE /api/tickets/:ticketId.
func (h *TicketsHandler) DeleteTicket(c *fiber.Ctx) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	if err := h.service.DeleteTicket(c.UserContext(), caller, c.Params("ticketId")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// DownloadAttachment GET /api/tickets/:ticketId/attachments/:index.
func (h *TicketsHandler) DownloadAttachment(c *fiber.Ctx) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()
	ticket, err := h.service.GetTicket(ctx, caller, c.Params("ticketId"))
	if err != nil {
		return err
	}
	idx, err := dto.AttachmentIndex(c.Params("index"), len(ticket.Attachments))
	if err != nil {
		return err
	}
	att := ticket.Attachments[idx]
	f, err := h.files.Open(ctx, att.StorageKey)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apperrors.NewNotFound("attachment", nil)
		}
		return apperrors.NewInternalError(err)
	}
	c.Set(fiber.HeaderContentType, att.MimeType)
	c.Attachment(att.OriginalName)
	return c.SendStream(f)
}

// saveUploads checks every file before writing any, so a bad file leaves nothing behind.
func (h *TicketsHandler) saveUploads(ctx context.Context, headers []*multipart.FileHeader) ([]domain.Attachment, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	if h.files == nil {
		return nil, apperrors.NewValidationError("attachments are not accepted", nil)
	}
	if h.maxAttachments > 0 && len(headers) > h.maxAttachments {
		return nil, apperrors.NewValidationError("too many attachments", map[string]any{"attachments": "too many files"})
	}
	for _, fh := range headers {
		if _, err := h.files.Check(fh.Filename, fh.Size); err != nil {
			return nil, uploadError(fh.Filename, err)
		}
	}

	saved := make([]domain.Attachment, 0, len(headers))
	for _, fh := range headers {
		att, err := h.saveOne(ctx, fh)
		if err != nil {
			h.discard(ctx, saved)
			return nil, err
		}
		saved = append(saved, att)
	}
	return saved, nil
}

func (h *TicketsHandler) saveOne(ctx context.Context, fh *multipart.FileHeader) (domain.Attachment, error) {
	src, err := fh.Open()
	if err != nil {
		return domain.Attachment{}, apperrors.NewValidationError("unreadable upload", map[string]any{"file": fh.Filename})
	}
	defer src.Close()
	att, err := h.files.Save(ctx, src, fh.Filename, fh.Size)
	if err != nil {
		return domain.Attachment{}, uploadError(fh.Filename, err)
	}
	return att, nil
}

func (h *TicketsHandler) discard(ctx context.Context, attachments []domain.Attachment) {
	for _, att := range attachments {
		if err := h.files.Remove(ctx, att.StorageKey); err != nil {
			h.logger.Warn("failed to discard upload", zap.String("key", att.StorageKey), zap.Error(err))
		}
	}
}

func uploadError(name string, err error) error {
	switch {
	case errors.Is(err, storage.ErrTooLarge):
		return apperrors.NewValidationError("file too large", map[string]any{"file": name})
	case errors.Is(err, storage.ErrUnsupportedType):
		return apperrors.NewValidationError("unsupported file type", map[string]any{"file": name})
	default:
		return apperrors.NewInternalError(err)
	}
}

func formValue(form *multipart.Form, key string) string {
	if vals := form.Value[key]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func parseTicketFilter(c *fiber.Ctx) (service.TicketListFilter, error) {
	filter := service.TicketListFilter{
		OwnerID:    optionalQuery(c, "ownerId"),
		HandlerID:  optionalQuery(c, "handlerId"),
		SearchTerm: optionalQuery(c, "search"),
		SortBy:     repository.SortField(c.Query("sortBy")),
		Ascending:  strings.EqualFold(c.Query("order"), "asc"),
	}
	for _, s := range splitList(c.Query("status")) {
		filter.Statuses = append(filter.Statuses, domain.TicketStatus(s))
	}
	for _, p := range splitList(c.Query("priority")) {
		filter.Priorities = append(filter.Priorities, domain.TicketPriority(p))
	}
	if cat := optionalQuery(c, "category"); cat != nil {
		category := domain.TicketCategory(*cat)
		filter.Category = &category
	}
	var err error
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		return filter, err
	}
	return filter, nil
}
