package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helpline-labs/support-desk/internal/api/dto"
	"github.com/helpline-labs/support-desk/internal/api/http/handlers"
	"github.com/helpline-labs/support-desk/internal/auth"
	"github.com/helpline-labs/support-desk/internal/config"
	"github.com/helpline-labs/support-desk/internal/domain"
	"github.com/helpline-labs/support-desk/internal/events"
	"github.com/helpline-labs/support-desk/internal/lifecycle"
	"github.com/helpline-labs/support-desk/internal/observability"
	"github.com/helpline-labs/support-desk/internal/repository/memory"
	"github.com/helpline-labs/support-desk/internal/service"
	"github.com/helpline-labs/support-desk/internal/storage"
)

type testServer struct {
	app    *fiber.App
	store  *memory.Store
	tokens *auth.TokenManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewStore()
	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	revocations := auth.NewMemoryRevocationStore()
	validator := dto.NewValidator()

	files, err := storage.NewLocalStore(t.TempDir(), 1<<20)
	require.NoError(t, err)

	ticketSvc := service.NewTicketService(service.TicketDependencies{
		TicketRepo:        store.Tickets(),
		UserRepo:          store.Users(),
		Files:             files,
		Dispatcher:        dispatcher,
		Policy:            lifecycle.Unrestricted{},
		Metrics:           metrics,
		Logger:            logger,
		MaxUpdateAttempts: 3,
		MaxAttachments:    5,
	})
	chatSvc := service.NewChatService(service.ChatDependencies{
		TicketRepo:  store.Tickets(),
		MessageRepo: store.Messages(),
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	})
	analyticsSvc := service.NewAnalyticsService(store.Analytics(), nil)
	userSvc := service.NewUserService(store.Users(), analyticsSvc)
	authSvc := service.NewAuthService(config.AuthConfig{BcryptCost: 4, OTPTTLSeconds: 180, RequireVerifiedEmail: true}, service.AuthDependencies{
		UserRepo:    store.Users(),
		Tokens:      tokens,
		Revocations: revocations,
		OTPs:        auth.NewMemoryOTPStore(),
		Dispatcher:  dispatcher,
		Logger:      logger,
	})

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterMiddlewares(app, logger, metrics, 5*time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("support-desk", "test", map[string]handlers.Pinger{}),
		Users:          handlers.NewUsersHandler(authSvc, userSvc, validator),
		Tickets:        handlers.NewTicketsHandler(ticketSvc, files, validator, logger, 5),
		Chat:           handlers.NewChatHandler(chatSvc, validator),
		Analytics:      handlers.NewAnalyticsHandler(analyticsSvc),
		Metrics:        metrics,
		AuthMiddleware: auth.NewAuthMiddleware(tokens, store.Users(), revocations),
	})
	return &testServer{app: app, store: store, tokens: tokens}
}

func (s *testServer) login(t *testing.T, name string, role domain.Role) (string, *domain.User) {
	t.Helper()
	u := &domain.User{FirstName: name, Email: name + "@example.com", Role: role, Verified: true}
	require.NoError(t, s.store.Users().Create(context.Background(), u))
	token, _, err := s.tokens.GenerateToken(u)
	require.NoError(t, err)
	return token, u
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, req *nethttp.Request, token string) (*nethttp.Response, envelope) {
	t.Helper()
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env envelope
	if len(body) > 0 && resp.Header.Get(fiber.HeaderContentType) == fiber.MIMEApplicationJSON {
		require.NoError(t, json.Unmarshal(body, &env), string(body))
	}
	return resp, env
}

func (s *testServer) doJSON(t *testing.T, method, path, token string, payload any) (*nethttp.Response, envelope) {
	t.Helper()
	var body io.Reader
	switch p := payload.(type) {
	case nil:
	case string:
		body = bytes.NewBufferString(p)
	default:
		raw, err := json.Marshal(p)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	return s.do(t, req, token)
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.doJSON(t, nethttp.MethodGet, "/health/live", "", nil)
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	resp, _ = s.doJSON(t, nethttp.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)

	resp, _ = s.doJSON(t, nethttp.MethodGet, "/metrics", "", nil)
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	resp, env := s.doJSON(t, nethttp.MethodGet, "/api/tickets", "", nil)
	assert.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	resp, _ = s.doJSON(t, nethttp.MethodGet, "/api/tickets", "not-a-token", nil)
	assert.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)
}

func TestSignUpRequiresVerification(t *testing.T) {
	s := newTestServer(t)

	resp, env := s.doJSON(t, nethttp.MethodPost, "/api/users/signup", "", dto.SignUpRequest{
		FirstName: "Cara", Email: "cara@example.com", Password: "hunter22",
	})
	require.Equal(t, nethttp.StatusCreated, resp.StatusCode)
	res := decode[dto.AuthResponse](t, env)
	assert.True(t, res.VerificationRequired)
	assert.Empty(t, res.Token)

	resp, env = s.doJSON(t, nethttp.MethodPost, "/api/users/login", "", dto.LoginRequest{Email: "cara@example.com", Password: "hunter22"})
	assert.Equal(t, nethttp.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	resp, env = s.doJSON(t, nethttp.MethodPost, "/api/users/signup", "", map[string]string{"email": "bad"})
	assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, env.Error.Details, "password")
}

func TestTicketLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	customer, _ := s.login(t, "cara", domain.RoleCustomer)
	other, _ := s.login(t, "otto", domain.RoleCustomer)
	agent, _ := s.login(t, "ava", domain.RoleServiceAgent)

	resp, env := s.doJSON(t, nethttp.MethodPost, "/api/tickets", customer, dto.CreateTicketRequest{
		Subject: "Refund", Description: "Charged twice", Category: "billing",
	})
	require.Equal(t, nethttp.StatusCreated, resp.StatusCode)
	created := decode[dto.TicketResponse](t, env)
	assert.Equal(t, domain.TicketStatusNew, created.Status)
	path := "/api/tickets/" + created.TicketID

	resp, env = s.doJSON(t, nethttp.MethodGet, path, other, nil)
	assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	resp, env = s.doJSON(t, nethttp.MethodPatch, path, agent, `{"priority":"high","status":"open"}`)
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	updated := decode[dto.TicketResponse](t, env)
	require.Len(t, updated.AuditLog, 1)
	assert.Equal(t, []string{"priority", "status"}, updated.AuditLog[0].Changes.Fields())

	raw := string(env.Data)
	assert.Contains(t, raw, `"changes":{"priority":{"from":"unassigned","to":"high"},"status":{"from":"new","to":"open"}}`)

	resp, env = s.doJSON(t, nethttp.MethodPatch, path, agent, `{"status":"open","owner":"x"}`)
	assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", env.Error.Code)

	resp, _ = s.doJSON(t, nethttp.MethodPatch, path, customer, `{"handlerId":"someone"}`)
	assert.Equal(t, nethttp.StatusForbidden, resp.StatusCode)

	resp, env = s.doJSON(t, nethttp.MethodGet, "/api/tickets?status=open", customer, nil)
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	page := decode[dto.TicketListResponse](t, env)
	assert.Equal(t, int64(1), page.Total)

	resp, _ = s.doJSON(t, nethttp.MethodGet, "/api/tickets/all", customer, nil)
	assert.Equal(t, nethttp.StatusForbidden, resp.StatusCode)
	resp, _ = s.doJSON(t, nethttp.MethodGet, "/api/tickets/all", agent, nil)
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)

	resp, _ = s.doJSON(t, nethttp.MethodGet, "/api/tickets?limit=abc", customer, nil)
	assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)

	resp, _ = s.doJSON(t, nethttp.MethodDelete, path, customer, nil)
	assert.Equal(t, nethttp.StatusNoContent, resp.StatusCode)
	resp, _ = s.doJSON(t, nethttp.MethodGet, path, customer, nil)
	assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)
}

func TestMultipartAttachments(t *testing.T) {
	s := newTestServer(t)
	customer, _ := s.login(t, "cara", domain.RoleCustomer)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("subject", "Damaged box"))
	require.NoError(t, w.WriteField("description", "See photo"))
	require.NoError(t, w.WriteField("category", "shipping"))
	part, err := w.CreateFormFile("attachments", "box.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG fake image"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(nethttp.MethodPost, "/api/tickets", &body)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	resp, env := s.do(t, req, customer)
	require.Equal(t, nethttp.StatusCreated, resp.StatusCode)
	created := decode[dto.TicketResponse](t, env)
	require.Len(t, created.Attachments, 1)
	assert.Equal(t, "image/png", created.Attachments[0].MimeType)

	req = httptest.NewRequest(nethttp.MethodGet, "/api/tickets/"+created.TicketID+"/attachments/0", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+customer)
	raw, err := s.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, nethttp.StatusOK, raw.StatusCode)
	content, err := io.ReadAll(raw.Body)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG fake image", string(content))

	body.Reset()
	w = multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("subject", "Bad file"))
	require.NoError(t, w.WriteField("description", "exe"))
	require.NoError(t, w.WriteField("category", "other"))
	part, err = w.CreateFormFile("attachments", "virus.exe")
	require.NoError(t, err)
	_, _ = part.Write([]byte("MZ"))
	require.NoError(t, w.Close())
	req = httptest.NewRequest(nethttp.MethodPost, "/api/tickets", &body)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	resp, _ = s.do(t, req, customer)
	assert.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)
}

func TestChatAndAnalyticsOverHTTP(t *testing.T) {
	s := newTestServer(t)
	customer, _ := s.login(t, "cara", domain.RoleCustomer)
	agent, _ := s.login(t, "ava", domain.RoleServiceAgent)
	admin, _ := s.login(t, "ada", domain.RoleAdmin)

	_, env := s.doJSON(t, nethttp.MethodPost, "/api/tickets", customer, dto.CreateTicketRequest{
		Subject: "Login broken", Description: "500 on submit", Category: "website",
	})
	ticket := decode[dto.TicketResponse](t, env)

	resp, _ := s.doJSON(t, nethttp.MethodPost, "/api/chat/"+ticket.TicketID+"/messages", agent, dto.PostMessageRequest{Message: "On it"})
	require.Equal(t, nethttp.StatusCreated, resp.StatusCode)

	resp, env = s.doJSON(t, nethttp.MethodGet, "/api/chat/"+ticket.TicketID+"/messages", customer, nil)
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	msgs := decode[[]domain.ChatMessage](t, env)
	require.Len(t, msgs, 1)
	assert.Equal(t, "On it", msgs[0].Body)

	_, env = s.doJSON(t, nethttp.MethodGet, "/api/tickets/"+ticket.TicketID, customer, nil)
	assert.NotNil(t, decode[dto.TicketResponse](t, env).FirstResponseAt)

	resp, _ = s.doJSON(t, nethttp.MethodGet, "/api/analytics", agent, nil)
	assert.Equal(t, nethttp.StatusForbidden, resp.StatusCode)

	resp, env = s.doJSON(t, nethttp.MethodGet, "/api/analytics", admin, nil)
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	var snap struct {
		TotalTickets  int   `json:"totalTickets"`
		TotalMessages int64 `json:"totalMessages"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, 1, snap.TotalTickets)
	assert.Equal(t, int64(1), snap.TotalMessages)

	resp, _ = s.doJSON(t, nethttp.MethodGet, "/api/analytics/export", admin, nil)
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", resp.Header.Get(fiber.HeaderContentType))

	resp, _ = s.doJSON(t, nethttp.MethodGet, "/api/users/role/customers", agent, nil)
	assert.Equal(t, nethttp.StatusForbidden, resp.StatusCode)

	resp, env = s.doJSON(t, nethttp.MethodGet, "/api/users/role/customers", admin, nil)
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Contains(t, string(env.Data), `"totalTickets":1`)
}

func TestLogoutRevokesToken(t *testing.T) {
	s := newTestServer(t)
	customer, _ := s.login(t, "cara", domain.RoleCustomer)

	resp, _ := s.doJSON(t, nethttp.MethodPost, "/api/users/logout", customer, nil)
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)

	resp, _ = s.doJSON(t, nethttp.MethodGet, "/api/users/profile", customer, nil)
	assert.Equal(t, nethttp.StatusUnauthorized, resp.StatusCode)
}
