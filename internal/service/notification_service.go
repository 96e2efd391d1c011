package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/helpline-labs/support-desk/internal/config"
	"github.com/helpline-labs/support-desk/internal/events"
)

// NotificationService handles emitting notifications for domain events.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
	outbox     Outbox
}

// Outbox hands events to background delivery. Nil delivers inline.
type Outbox interface {
	Enqueue(event events.Event) bool
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig, outbox Outbox) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
		outbox:     outbox,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketUpdated, n.handleTicketUpdated)
	n.dispatcher.Subscribe(events.EventTicketResolved, n.handleTicketResolved)
	n.dispatcher.Subscribe(events.EventMessagePosted, n.handleMessagePosted)
	n.dispatcher.Subscribe(events.EventVerificationCodeIssued, n.handleVerificationCode)
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketCreated", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	n.deliver(ctx, event)
	return nil
}

func (n *NotificationService) handleTicketUpdated(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketUpdated", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	n.deliver(ctx, event)
	return nil
}

func (n *NotificationService) handleTicketResolved(ctx context.Context, event events.Event) error {
	n.logger.Info("TicketResolved", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	n.deliver(ctx, event)
	return nil
}

func (n *NotificationService) handleMessagePosted(ctx context.Context, event events.Event) error {
	n.logger.Info("MessagePosted", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	n.deliver(ctx, event)
	return nil
}

func (n *NotificationService) handleVerificationCode(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.VerificationCodePayload)
	if !ok {
		return nil
	}
	n.logger.Info("VerificationCodeIssued", zap.String("email", payload.Email), zap.Time("expires_at", payload.ExpiresAt))
	n.deliver(ctx, event)
	return nil
}

func (n *NotificationService) deliver(ctx context.Context, event events.Event) {
	if n.outbox != nil {
		if !n.outbox.Enqueue(event) {
			n.logger.Warn("notification outbox full; dropping", zap.String("event_type", string(event.Type)), zap.String("ticket_id", event.TicketID))
		}
		return
	}
	n.Deliver(ctx, event)
}

// Deliver sends event to the channels its type is routed to.
func (n *NotificationService) Deliver(ctx context.Context, event events.Event) {
	switch event.Type {
	case events.EventTicketCreated, events.EventTicketResolved:
		n.SendEmail(ctx, event)
		n.SendWebhook(ctx, event)
	case events.EventTicketUpdated:
		n.SendWebhook(ctx, event)
	case events.EventMessagePosted, events.EventVerificationCodeIssued:
		n.SendEmail(ctx, event)
	}
}

// SendEmail is the email delivery stub.
func (n *NotificationService) SendEmail(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	fields := []zap.Field{
		zap.String("from", n.cfg.EmailFrom),
		zap.String("ticket_id", event.TicketID),
		zap.String("event_type", string(event.Type)),
	}
	if payload, ok := event.Payload.(events.VerificationCodePayload); ok {
		fields = append(fields, zap.String("to", payload.Email), zap.String("code", payload.Code))
	}
	n.logger.Debug("sendEmailNotificationStub", fields...)
}

// SendWebhook is the webhook delivery stub.
func (n *NotificationService) SendWebhook(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("ticket_id", event.TicketID),
		zap.String("event_type", string(event.Type)))
}
