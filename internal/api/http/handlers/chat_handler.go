package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/helpline-labs/support-desk/internal/api/dto"
	"github.com/helpline-labs/support-desk/internal/domain"
	"github.com/helpline-labs/support-desk/internal/service"
)

// ChatHandler serves ticket conversation threads.
type ChatHandler struct {
	service   *service.ChatService
	validator *dto.Validator
}

// NewChatHandler constructs handler.
func NewChatHandler(chatService *service.ChatService, validator *dto.Validator) *ChatHandler {
	return &ChatHandler{service: chatService, validator: validator}
}

// ListMessages GET /api/chat/:ticketId/messages.
func (h *ChatHandler) ListMessages(c *fiber.Ctx) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	msgs, err := h.service.ListMessages(c.UserContext(), caller, c.Params("ticketId"))
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	return c.JSON(fiber.Map{"data": msgs})
}

// PostMessage POST /api/chat/:ticketId/messages.
func (h *ChatHandler) PostMessage(c *fiber.Ctx) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	var req dto.PostMessageRequest
	if err := bindJSON(c, h.validator, &req); err != nil {
		return err
	}
	msg, err := h.service.PostMessage(c.UserContext(), caller, c.Params("ticketId"), req.Message)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": msg})
}
