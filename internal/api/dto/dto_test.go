package dto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helpline-labs/support-desk/internal/audit"
	"github.com/helpline-labs/support-desk/internal/domain"
	apperrors "github.com/helpline-labs/support-desk/pkg/util/errorutil"
)

func TestParseTicketPatchKeepsKeyOrder(t *testing.T) {
	patch, err := ParseTicketPatch([]byte(`{"priority":"high","handlerId":null,"status":"open","rating":{"score":4,"feedback":"ok"}}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"priority", "handlerId", "status", "rating", "ratingFeedback"}, patch.Order)
	require.NotNil(t, patch.Priority)
	assert.Equal(t, domain.TicketPriorityHigh, *patch.Priority)
	require.NotNil(t, patch.HandlerID)
	assert.Equal(t, "", *patch.HandlerID)
	require.NotNil(t, patch.Rating)
	assert.Equal(t, 4, *patch.Rating)
	assert.True(t, patch.Has(audit.FieldRatingFeedback))
}

func TestParseTicketPatchRejectsUnknownKeys(t *testing.T) {
	_, err := ParseTicketPatch([]byte(`{"status":"open","ownerId":"someone-else","version":9}`))
	require.Error(t, err)
	domainErr := apperrors.ToDomainError(err)
	assert.Equal(t, apperrors.CodeValidation, domainErr.Code)
	assert.ElementsMatch(t, []string{"ownerId", "version"}, domainErr.Details["unknown"])
}

func TestParseTicketPatchRejectsBadShapes(t *testing.T) {
	for _, body := range []string{
		`[1,2]`,
		`{"status":5}`,
		`{"rating":{"feedback":"no score"}}`,
		`{"subject":null}`,
		`{"status":"open"`,
	} {
		_, err := ParseTicketPatch([]byte(body))
		assert.Truef(t, apperrors.HasCode(err, apperrors.CodeValidation), "body %s: %v", body, err)
	}

	patch, err := ParseTicketPatch(nil)
	require.NoError(t, err)
	assert.True(t, patch.Empty())
}

func TestParseTicketPatchForm(t *testing.T) {
	patch, err := ParseTicketPatchForm(map[string][]string{
		"status":      {"resolved"},
		"ratingScore": {"5"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusResolved, *patch.Status)
	assert.Equal(t, 5, *patch.Rating)

	_, err = ParseTicketPatchForm(map[string][]string{"ratingScore": {"five"}})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = ParseTicketPatchForm(map[string][]string{"bogus": {"x"}})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestValidatorUsesJSONNames(t *testing.T) {
	v := NewValidator()

	err := v.Struct(CreateTicketRequest{Subject: "s", Description: "d", Category: "furniture", Priority: "urgent"})
	require.Error(t, err)
	details := apperrors.ToDomainError(err).Details
	assert.Equal(t, "unknown category", details["category"])
	assert.Equal(t, "unknown priority", details["priority"])

	require.NoError(t, v.Struct(CreateTicketRequest{Subject: "s", Description: "d", Category: "billing"}))

	err = v.Struct(VerifyOTPRequest{Email: "a@b.co", OTP: "12ab56"})
	assert.Equal(t, "must be numeric", apperrors.ToDomainError(err).Details["otp"])
}
