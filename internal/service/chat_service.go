package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/helpline-labs/support-desk/internal/access"
	"github.com/helpline-labs/support-desk/internal/domain"
	"github.com/helpline-labs/support-desk/internal/events"
	"github.com/helpline-labs/support-desk/internal/observability"
	"github.com/helpline-labs/support-desk/internal/repository"
	apperrors "github.com/helpline-labs/support-desk/pkg/util/errorutil"
)

const (
	maxMessageLength   = 10000
	messagePreviewSize = 140
)

// ChatService manages ticket conversation threads.
type ChatService struct {
	tickets    repository.TicketRepository
	messages   repository.ChatMessageRepository
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// ChatDependencies bundles collaborators for the chat service.
type ChatDependencies struct {
	TicketRepo  repository.TicketRepository
	MessageRepo repository.ChatMessageRepository
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Clock       func() time.Time
}

// NewChatService constructs the service.
func NewChatService(deps ChatDependencies) *ChatService {
	s := &ChatService{
		tickets:    deps.TicketRepo,
		messages:   deps.MessageRepo,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		tracer:     otel.Tracer(observability.TracerName),
		now:        deps.Clock,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// PostMessage appends a message to a ticket's thread. The first staff message stamps the
// ticket's first response time in the same store write; later staff messages leave it untouched.
func (s *ChatService) PostMessage(ctx context.Context, caller access.Caller, ticketID, body string) (_ *domain.ChatMessage, err error) {
	ctx, span := s.tracer.Start(ctx, "ChatService.PostMessage", trace.WithAttributes(attribute.String("ticket.id", ticketID)))
	defer func() { endSpan(span, err) }()

	scope, err := access.Resolve(caller)
	if err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewValidationError("invalid message", map[string]any{"message": "required"})
	}
	if len([]rune(body)) > maxMessageLength {
		return nil, apperrors.NewValidationError("invalid message", map[string]any{"message": "too long"})
	}

	ticket, err := s.tickets.FindOne(ctx, scope.Ticket(ticketID))
	if err != nil {
		return nil, mapRepoError(err, ticketResource)
	}

	msg := &domain.ChatMessage{
		ID:         uuid.NewString(),
		TicketID:   ticket.TicketID,
		SenderID:   caller.ID,
		SenderRole: caller.Role,
		Body:       body,
	}
	stamped, err := s.messages.Post(ctx, msg, s.now)
	if err != nil {
		return nil, mapRepoError(err, ticketResource)
	}

	actor := actorOf(caller)
	s.publishEvent(ctx, events.New(events.EventMessagePosted, ticket.TicketID, actor, msg.CreatedAt, events.MessagePostedPayload{
		MessageID:   msg.ID,
		SenderRole:  msg.SenderRole,
		BodyPreview: stringPreview(msg.Body, messagePreviewSize),
	}))

	if stamped {
		s.metrics.RecordFirstResponse()
		s.publishEvent(ctx, events.New(events.EventFirstResponseRecorded, ticket.TicketID, actor, msg.CreatedAt,
			events.FirstResponsePayload{RespondedAt: msg.CreatedAt}))
	}
	return msg, nil
}

// ListMessages returns a ticket's thread oldest first.
func (s *ChatService) ListMessages(ctx context.Context, caller access.Caller, ticketID string) (_ []domain.ChatMessage, err error) {
	ctx, span := s.tracer.Start(ctx, "ChatService.ListMessages", trace.WithAttributes(attribute.String("ticket.id", ticketID)))
	defer func() { endSpan(span, err) }()

	scope, err := access.Resolve(caller)
	if err != nil {
		return nil, err
	}
	if _, err := s.tickets.FindOne(ctx, scope.Ticket(ticketID)); err != nil {
		return nil, mapRepoError(err, ticketResource)
	}
	msgs, err := s.messages.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, mapRepoError(err, ticketResource)
	}
	return msgs, nil
}

func (s *ChatService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.String("ticket_id", event.TicketID), zap.Error(err))
	}
}
