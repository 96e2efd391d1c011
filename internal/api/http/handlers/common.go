package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/helpline-labs/support-desk/internal/access"
	"github.com/helpline-labs/support-desk/internal/api/dto"
	"github.com/helpline-labs/support-desk/internal/auth"
	apperrors "github.com/helpline-labs/support-desk/pkg/util/errorutil"
)

func principalFrom(c *fiber.Ctx) (*auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return principal, nil
}

func callerFrom(c *fiber.Ctx) (access.Caller, error) {
	principal, err := principalFrom(c)
	if err != nil {
		return access.Caller{}, err
	}
	return principal.Caller(), nil
}

// bindJSON parses and validates a JSON body into dst.
func bindJSON(c *fiber.Ctx, v *dto.Validator, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return v.Struct(dst)
}

func isMultipart(c *fiber.Ctx) bool {
	return strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEMultipartForm)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func queryInt(c *fiber.Ctx, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewValidationError("invalid query parameter", map[string]any{key: "must be an integer"})
	}
	return n, nil
}

func optionalQuery(c *fiber.Ctx, key string) *string {
	if raw := strings.TrimSpace(c.Query(key)); raw != "" {
		return &raw
	}
	return nil
}
