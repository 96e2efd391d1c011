package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/helpline-labs/support-desk/internal/access"
	"github.com/helpline-labs/support-desk/internal/audit"
	"github.com/helpline-labs/support-desk/internal/domain"
	"github.com/helpline-labs/support-desk/internal/events"
	"github.com/helpline-labs/support-desk/internal/lifecycle"
	"github.com/helpline-labs/support-desk/internal/observability"
	"github.com/helpline-labs/support-desk/internal/repository"
	apperrors "github.com/helpline-labs/support-desk/pkg/util/errorutil"
)

const (
	ticketResource     = "ticket"
	maxTicketIDRetries = 5
	defaultListLimit   = 100
	maxListLimit       = 500
)

// AttachmentRemover deletes stored files once their ticket is gone.
type AttachmentRemover interface {
	Remove(ctx context.Context, storageKey string) error
}

// TicketService coordinates ticket workflows.
type TicketService struct {
	tickets        repository.TicketRepository
	users          repository.UserRepository
	files          AttachmentRemover
	dispatcher     events.Dispatcher
	policy         lifecycle.TransitionPolicy
	metrics        *observability.Metrics
	logger         *zap.Logger
	tracer         trace.Tracer
	maxAttempts    int
	maxAttachments int
	now            func() time.Time
	newTicketID    func(time.Time) string
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo        repository.TicketRepository
	UserRepo          repository.UserRepository
	Files             AttachmentRemover
	Dispatcher        events.Dispatcher
	Policy            lifecycle.TransitionPolicy
	Metrics           *observability.Metrics
	Logger            *zap.Logger
	MaxUpdateAttempts int
	MaxAttachments    int
	Clock             func() time.Time
	TicketIDs         func(time.Time) string
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Subject     string
	Description string
	Category    domain.TicketCategory
	Priority    domain.TicketPriority
	Attachments []domain.Attachment
}

// TicketListFilter describes listing filters. Staff may filter by owner; for customers the
// owner is always the caller.
type TicketListFilter struct {
	OwnerID    *string
	HandlerID  *string
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	Category   *domain.TicketCategory
	SearchTerm *string
	SortBy     repository.SortField
	Ascending  bool
	Limit      int
	Offset     int
}

// TicketPage is one page of a listing with the total match count.
type TicketPage struct {
	Tickets []domain.Ticket
	Total   int64
	Limit   int
	Offset  int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	s := &TicketService{
		tickets:        deps.TicketRepo,
		users:          deps.UserRepo,
		files:          deps.Files,
		dispatcher:     deps.Dispatcher,
		policy:         deps.Policy,
		metrics:        deps.Metrics,
		logger:         deps.Logger,
		tracer:         otel.Tracer(observability.TracerName),
		maxAttempts:    deps.MaxUpdateAttempts,
		maxAttachments: deps.MaxAttachments,
		now:            deps.Clock,
		newTicketID:    deps.TicketIDs,
	}
	if s.policy == nil {
		s.policy = lifecycle.Unrestricted{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 3
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newTicketID == nil {
		s.newTicketID = domain.NewTicketID
	}
	return s
}

// CreateTicket files a new ticket owned by the caller.
func (s *TicketService) CreateTicket(ctx context.Context, caller access.Caller, input TicketCreateInput) (_ *domain.Ticket, err error) {
	ctx, span := s.tracer.Start(ctx, "TicketService.CreateTicket")
	defer func() { endSpan(span, err) }()

	if _, err := access.Resolve(caller); err != nil {
		return nil, err
	}

	input.Subject = strings.TrimSpace(input.Subject)
	input.Description = strings.TrimSpace(input.Description)
	if input.Priority == "" {
		input.Priority = domain.TicketPriorityUnassigned
	}
	if err := s.validateCreate(input); err != nil {
		return nil, err
	}

	ownerName := ""
	if s.users != nil {
		if owner, err := s.users.GetByID(ctx, caller.ID); err == nil {
			ownerName = owner.FullName()
		} else if errors.Is(err, repository.ErrStoreUnavailable) {
			return nil, mapRepoError(err, "user")
		}
	}

	now := s.now()
	ticket := &domain.Ticket{
		OwnerID:     caller.ID,
		OwnerName:   ownerName,
		Subject:     input.Subject,
		Description: input.Description,
		Category:    input.Category,
		Status:      domain.TicketStatusNew,
		Priority:    input.Priority,
		Attachments: append([]domain.Attachment(nil), input.Attachments...),
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}

	for attempt := 1; ; attempt++ {
		ticket.TicketID = s.newTicketID(now)
		err := s.tickets.Create(ctx, ticket)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrDuplicateTicketID) && attempt < maxTicketIDRetries {
			s.logger.Warn("ticket id collision; regenerating", zap.String("ticket_id", ticket.TicketID), zap.Int("attempt", attempt))
			continue
		}
		return nil, mapRepoError(err, ticketResource)
	}
	span.SetAttributes(attribute.String("ticket.id", ticket.TicketID))

	s.metrics.RecordTicketCreated()
	s.publishEvent(ctx, events.New(events.EventTicketCreated, ticket.TicketID, actorOf(caller), now, events.TicketCreatedPayload{
		OwnerID:     ticket.OwnerID,
		Subject:     ticket.Subject,
		Category:    ticket.Category,
		Priority:    ticket.Priority,
		Attachments: len(ticket.Attachments),
	}))
	return ticket, nil
}

func (s *TicketService) validateCreate(input TicketCreateInput) error {
	details := map[string]any{}
	if input.Subject == "" {
		details["subject"] = "required"
	}
	if input.Description == "" {
		details["description"] = "required"
	}
	if input.Category == "" {
		details["category"] = "required"
	} else if !input.Category.Valid() {
		details["category"] = "unknown category"
	}
	if !input.Priority.Valid() {
		details["priority"] = "unknown priority"
	}
	if s.maxAttachments > 0 && len(input.Attachments) > s.maxAttachments {
		details["attachments"] = "too many files"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid ticket", details)
	}
	return nil
}

// GetTicket returns one ticket visible to the caller.
func (s *TicketService) GetTicket(ctx context.Context, caller access.Caller, ticketID string) (_ *domain.Ticket, err error) {
	ctx, span := s.tracer.Start(ctx, "TicketService.GetTicket", trace.WithAttributes(attribute.String("ticket.id", ticketID)))
	defer func() { endSpan(span, err) }()

	scope, err := access.Resolve(caller)
	if err != nil {
		return nil, err
	}
	ticket, err := s.tickets.FindOne(ctx, scope.Ticket(ticketID))
	if err != nil {
		return nil, mapRepoError(err, ticketResource)
	}
	return ticket, nil
}

// ListTickets returns the caller's visible tickets matching filter.
func (s *TicketService) ListTickets(ctx context.Context, caller access.Caller, filter TicketListFilter) (_ *TicketPage, err error) {
	ctx, span := s.tracer.Start(ctx, "TicketService.ListTickets")
	defer func() { endSpan(span, err) }()

	scope, err := access.Resolve(caller)
	if err != nil {
		return nil, err
	}
	query, err := buildListQuery(filter)
	if err != nil {
		return nil, err
	}
	query = scope.List(query)

	tickets, err := s.tickets.Find(ctx, query)
	if err != nil {
		return nil, mapRepoError(err, ticketResource)
	}
	countQuery := query
	countQuery.Limit, countQuery.Offset = 0, 0
	total, err := s.tickets.Count(ctx, countQuery)
	if err != nil {
		return nil, mapRepoError(err, ticketResource)
	}
	return &TicketPage{Tickets: tickets, Total: total, Limit: query.Limit, Offset: query.Offset}, nil
}

// ListAllTickets is the staff-only listing across every owner.
func (s *TicketService) ListAllTickets(ctx context.Context, caller access.Caller, filter TicketListFilter) (*TicketPage, error) {
	if err := access.RequireStaff(caller); err != nil {
		return nil, err
	}
	return s.ListTickets(ctx, caller, filter)
}

func buildListQuery(filter TicketListFilter) (repository.TicketQuery, error) {
	details := map[string]any{}
	for _, st := range filter.Statuses {
		if !st.Valid() {
			details["status"] = "unknown status " + string(st)
		}
	}
	for _, pr := range filter.Priorities {
		if !pr.Valid() {
			details["priority"] = "unknown priority " + string(pr)
		}
	}
	if filter.Category != nil && !filter.Category.Valid() {
		details["category"] = "unknown category"
	}
	if filter.SortBy != "" && !filter.SortBy.Valid() {
		details["sortBy"] = "unknown sort field"
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		details["pagination"] = "limit and offset must be non-negative"
	}
	if len(details) > 0 {
		return repository.TicketQuery{}, apperrors.NewValidationError("invalid ticket filter", details)
	}

	limit := filter.Limit
	switch {
	case limit == 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	return repository.TicketQuery{
		OwnerID:    filter.OwnerID,
		HandlerID:  filter.HandlerID,
		Statuses:   filter.Statuses,
		Priorities: filter.Priorities,
		Category:   filter.Category,
		SearchTerm: filter.SearchTerm,
		SortBy:     filter.SortBy,
		Ascending:  filter.Ascending,
		Limit:      limit,
		Offset:     filter.Offset,
	}, nil
}

// UpdateTicket applies patch and newAttachments to a ticket, recording one audit entry when
// any tracked field changed. The write is conditional on the version read; on conflict the
// whole diff is recomputed against fresh state, up to the configured attempt limit.
func (s *TicketService) UpdateTicket(ctx context.Context, caller access.Caller, ticketID string, patch audit.Patch, newAttachments []domain.Attachment) (_ *domain.Ticket, err error) {
	ctx, span := s.tracer.Start(ctx, "TicketService.UpdateTicket", trace.WithAttributes(attribute.String("ticket.id", ticketID)))
	defer func() { endSpan(span, err) }()

	scope, err := access.Resolve(caller)
	if err != nil {
		return nil, err
	}
	if s.maxAttachments > 0 && len(newAttachments) > s.maxAttachments {
		return nil, apperrors.NewValidationError("invalid ticket update", map[string]any{"attachments": "too many files"})
	}

	for attempt := 1; ; attempt++ {
		updated, err := s.tryUpdate(ctx, scope, ticketID, patch, newAttachments)
		if err == nil {
			span.SetAttributes(attribute.Int("update.attempts", attempt))
			return updated, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			s.metrics.RecordTicketUpdate("failed")
			return nil, mapRepoError(err, ticketResource)
		}
		s.metrics.RecordVersionConflict()
		if attempt >= s.maxAttempts {
			s.metrics.RecordTicketUpdate("conflict")
			s.logger.Warn("ticket update gave up after version conflicts",
				zap.String("ticket_id", ticketID), zap.Int("attempts", attempt))
			return nil, apperrors.NewConflict("ticket was modified concurrently; retry", map[string]any{"attempts": attempt})
		}
		s.logger.Debug("ticket version conflict; retrying", zap.String("ticket_id", ticketID), zap.Int("attempt", attempt))
	}
}

func (s *TicketService) tryUpdate(ctx context.Context, scope access.Scope, ticketID string, patch audit.Patch, newAttachments []domain.Attachment) (*domain.Ticket, error) {
	current, err := s.tickets.FindOne(ctx, scope.Ticket(ticketID))
	if err != nil {
		return nil, err
	}
	if err := s.authorizePatch(ctx, scope, current, patch); err != nil {
		return nil, err
	}
	if err := patch.Validate(current); err != nil {
		return nil, err
	}
	if patch.Status != nil {
		if err := lifecycle.CheckTransition(s.policy, current.Status, *patch.Status); err != nil {
			return nil, err
		}
	}

	now := s.now()
	next := current.Clone()
	entry := audit.Record(next, patch, now)
	var changes domain.Changes
	if entry != nil {
		changes = entry.Changes
	}
	resolved := lifecycle.StampResolution(next, changes, now)

	if entry == nil && len(newAttachments) == 0 {
		s.metrics.RecordTicketUpdate("noop")
		return current, nil
	}

	next.Attachments = append(next.Attachments, newAttachments...)
	next.UpdatedAt = now
	next.Version = current.Version + 1

	err = s.tickets.Update(ctx, repository.TicketMutation{
		Ticket:            next,
		ExpectedVersion:   current.Version,
		AppendAudit:       entry,
		AppendAttachments: newAttachments,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTicketUpdate("applied")
	if entry != nil {
		s.metrics.RecordAuditEntry()
	}

	actor := actorOf(scope.Caller())
	payload := events.TicketUpdatedPayload{
		Changes:        changes,
		NewAttachments: len(newAttachments),
		Version:        next.Version,
	}
	if _, ok := changes.Get(audit.FieldHandlerID); ok {
		payload.HandlerAssigned = next.HandlerID
	}
	s.publishEvent(ctx, events.New(events.EventTicketUpdated, next.TicketID, actor, now, payload))
	if resolved {
		s.publishEvent(ctx, events.New(events.EventTicketResolved, next.TicketID, actor, now, events.TicketResolvedPayload{
			OwnerID:    next.OwnerID,
			ResolvedAt: *next.ResolvedAt,
		}))
	}
	return next, nil
}

// authorizePatch enforces field-level capabilities: only staff assign handlers, and only the
// owner rates.
func (s *TicketService) authorizePatch(ctx context.Context, scope access.Scope, current *domain.Ticket, patch audit.Patch) error {
	if patch.HandlerID != nil {
		if err := scope.CanAssign(); err != nil {
			return err
		}
		if *patch.HandlerID != "" {
			if err := s.checkHandler(ctx, *patch.HandlerID); err != nil {
				return err
			}
		}
	}
	if (patch.Rating != nil || patch.RatingFeedback != nil) && current.OwnerID != scope.Caller().ID {
		return apperrors.NewForbidden("only the ticket owner may rate it")
	}
	return nil
}

func (s *TicketService) checkHandler(ctx context.Context, handlerID string) error {
	if s.users == nil {
		return nil
	}
	handler, err := s.users.GetByID(ctx, handlerID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewValidationError("invalid ticket update", map[string]any{audit.FieldHandlerID: "unknown user"})
	}
	if err != nil {
		return err
	}
	if !handler.Role.IsStaff() {
		return apperrors.NewValidationError("invalid ticket update", map[string]any{audit.FieldHandlerID: "handler must be staff"})
	}
	return nil
}

// DeleteTicket removes a ticket, its chat thread and its stored attachments.
func (s *TicketService) DeleteTicket(ctx context.Context, caller access.Caller, ticketID string) (err error) {
	ctx, span := s.tracer.Start(ctx, "TicketService.DeleteTicket", trace.WithAttributes(attribute.String("ticket.id", ticketID)))
	defer func() { endSpan(span, err) }()

	scope, err := access.Resolve(caller)
	if err != nil {
		return err
	}
	query := scope.Ticket(ticketID)
	ticket, err := s.tickets.FindOne(ctx, query)
	if err != nil {
		return mapRepoError(err, ticketResource)
	}
	if err := s.tickets.Delete(ctx, query); err != nil {
		return mapRepoError(err, ticketResource)
	}

	if s.files != nil {
		for _, a := range ticket.Attachments {
			if err := s.files.Remove(ctx, a.StorageKey); err != nil {
				s.logger.Warn("failed to remove attachment", zap.String("ticket_id", ticketID), zap.String("key", a.StorageKey), zap.Error(err))
			}
		}
	}

	s.publishEvent(ctx, events.New(events.EventTicketDeleted, ticketID, actorOf(caller), s.now(), nil))
	return nil
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.String("ticket_id", event.TicketID), zap.Error(err))
	}
}

func actorOf(caller access.Caller) events.Actor {
	return events.Actor{UserID: caller.ID, Role: caller.Role}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
