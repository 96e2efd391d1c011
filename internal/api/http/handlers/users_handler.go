package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/helpline-labs/support-desk/internal/api/dto"
	"github.com/helpline-labs/support-desk/internal/service"
)

// UsersHandler exposes account and roster endpoints.
type UsersHandler struct {
	auth      *service.AuthService
	users     *service.UserService
	validator *dto.Validator
}

// NewUsersHandler constructs handler.
func NewUsersHandler(authService *service.AuthService, userService *service.UserService, validator *dto.Validator) *UsersHandler {
	return &UsersHandler{auth: authService, users: userService, validator: validator}
}

// SignUp handles POST /api/users/signup.
func (h *UsersHandler) SignUp(c *fiber.Ctx) error {
	var req dto.SignUpRequest
	if err := bindJSON(c, h.validator, &req); err != nil {
		return err
	}
	res, err := h.auth.SignUp(c.UserContext(), service.SignUpInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": authResponse(res)})
}

// Login handles POST /api/users/login.
func (h *UsersHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := bindJSON(c, h.validator, &req); err != nil {
		return err
	}
	res, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": authResponse(res)})
}

// Logout handles POST /api/users/logout.
func (h *UsersHandler) Logout(c *fiber.Ctx) error {
	principal, err := principalFrom(c)
	if err != nil {
		return err
	}
	if err := h.auth.Logout(c.UserContext(), principal.Token); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"message": "logged out"}})
}

// SendVerification handles POST /api/users/send-verification.
func (h *UsersHandler) SendVerification(c *fiber.Ctx) error {
	var req dto.EmailRequest
	if err := bindJSON(c, h.validator, &req); err != nil {
		return err
	}
	if err := h.auth.SendVerification(c.UserContext(), req.Email); err != nil {
		return err
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"data": fiber.Map{"message": "verification code sent"}})
}

// VerifyOTP handles POST /api/users/verify-otp.
func (h *UsersHandler) VerifyOTP(c *fiber.Ctx) error {
	var req dto.VerifyOTPRequest
	if err := bindJSON(c, h.validator, &req); err != nil {
		return err
	}
	res, err := h.auth.VerifyOTP(c.UserContext(), req.Email, req.OTP)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": authResponse(res)})
}

// Profile handles GET /api/users/profile.
func (h *UsersHandler) Profile(c *fiber.Ctx) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	user, err := h.users.Profile(c.UserContext(), caller)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// UpdateProfile handles PATCH /api/users/profile.
func (h *UsersHandler) UpdateProfile(c *fiber.Ctx) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	var req dto.UpdateProfileRequest
	if err := bindJSON(c, h.validator, &req); err != nil {
		return err
	}
	user, err := h.users.UpdateProfile(c.UserContext(), caller, service.ProfileUpdate{FirstName: req.FirstName, LastName: req.LastName})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// GetUser handles GET /api/users/:userId.
func (h *UsersHandler) GetUser(c *fiber.Ctx) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	user, err := h.users.GetUser(c.UserContext(), caller, c.Params("userId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// Agents handles GET /api/users/role/agents.
func (h *UsersHandler) Agents(c *fiber.Ctx) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	agents, err := h.users.Agents(c.UserContext(), caller)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": agents})
}

// Customers handles GET /api/users/role/customers.
func (h *UsersHandler) Customers(c *fiber.Ctx) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	customers, err := h.users.Customers(c.UserContext(), caller)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": customers})
}

// CreateAgent handles POST /api/users/signup/agent.
func (h *UsersHandler) CreateAgent(c *fiber.Ctx) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	var req dto.SignUpRequest
	if err := bindJSON(c, h.validator, &req); err != nil {
		return err
	}
	agent, err := h.auth.CreateAgent(c.UserContext(), caller, service.SignUpInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewUserResponse(agent)})
}

func authResponse(res *service.AuthResult) dto.AuthResponse {
	resp := dto.AuthResponse{
		User:                 dto.NewUserResponse(res.User),
		Token:                res.Token,
		VerificationRequired: res.VerificationRequired,
	}
	if res.Token != "" {
		exp := res.ExpiresAt
		resp.ExpiresAt = &exp
	}
	return resp
}
