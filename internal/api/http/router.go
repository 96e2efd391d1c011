package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/helpline-labs/support-desk/internal/api/http/handlers"
	"github.com/helpline-labs/support-desk/internal/auth"
	"github.com/helpline-labs/support-desk/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Tickets        *handlers.TicketsHandler
	Chat           *handlers.ChatHandler
	Analytics      *handlers.AnalyticsHandler
	Metrics        *observability.Metrics
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	api := app.Group("/api")

	users := api.Group("/users")
	users.Post("/signup", cfg.Users.SignUp)
	users.Post("/login", cfg.Users.Login)
	users.Post("/send-verification", cfg.Users.SendVerification)
	users.Post("/verify-otp", cfg.Users.VerifyOTP)

	protected := api.Group("", cfg.AuthMiddleware.Handle)

	protectedUsers := protected.Group("/users")
	protectedUsers.Post("/logout", cfg.Users.Logout)
	protectedUsers.Get("/profile", cfg.Users.Profile)
	protectedUsers.Patch("/profile", cfg.Users.UpdateProfile)
	protectedUsers.Get("/role/agents", auth.RequireAdmin(), cfg.Users.Agents)
	protectedUsers.Get("/role/customers", auth.RequireAdmin(), cfg.Users.Customers)
	protectedUsers.Post("/signup/agent", auth.RequireAdmin(), cfg.Users.CreateAgent)
	protectedUsers.Get("/:userId", auth.RequireStaff(), cfg.Users.GetUser)

	tickets := protected.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/all", auth.RequireStaff(), cfg.Tickets.ListAllTickets)
	tickets.Get("/:ticketId", cfg.Tickets.GetTicket)
	tickets.Patch("/:ticketId", cfg.Tickets.UpdateTicket)
	tickets.Delete("/:ticketId", cfg.Tickets.DeleteTicket)
	tickets.Get("/:ticketId/attachments/:index", cfg.Tickets.DownloadAttachment)

	chat := protected.Group("/chat")
	chat.Get("/:ticketId/messages", cfg.Chat.ListMessages)
	chat.Post("/:ticketId/messages", cfg.Chat.PostMessage)

	analytics := protected.Group("/analytics", auth.RequireAdmin())
	analytics.Get("/", cfg.Analytics.Snapshot)
	analytics.Get("/export", cfg.Analytics.Export)
}
