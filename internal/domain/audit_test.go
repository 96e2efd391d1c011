package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangesMarshalKeepsOrder(t *testing.T) {
	changes := Changes{
		{Field: "status", From: "new", To: "in_progress"},
		{Field: "handlerId", From: "", To: "agent-1"},
		{Field: "category", From: "billing", To: "other"},
	}

	raw, err := json.Marshal(changes)
	require.NoError(t, err)
	assert.Equal(t,
		`{"status":{"from":"new","to":"in_progress"},"handlerId":{"from":null,"to":"agent-1"},"category":{"from":"billing","to":"other"}}`,
		string(raw))

	var decoded Changes
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, changes, decoded)
}

func TestChangesUnmarshalRejectsArray(t *testing.T) {
	var decoded Changes
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &decoded))
}

func TestAuditEntryShape(t *testing.T) {
	entry := AuditEntry{Changes: Changes{{Field: "priority", From: "low", To: "high"}}}
	raw, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"changes":{"priority":{"from":"low","to":"high"}}`)
}

func TestTicketCloneIsDeep(t *testing.T) {
	handler := "agent-1"
	original := &Ticket{
		TicketID:    "TKT-1",
		HandlerID:   &handler,
		Attachments: []Attachment{{StorageKey: "a"}},
		AuditLog:    []AuditEntry{{Changes: Changes{{Field: "status", From: "new", To: "open"}}}},
		Rating:      &Rating{Score: 4},
	}
	clone := original.Clone()
	*clone.HandlerID = "agent-2"
	clone.Attachments[0].StorageKey = "b"
	clone.AuditLog[0].Changes[0].To = "closed"
	clone.Rating.Score = 1

	assert.Equal(t, "agent-1", *original.HandlerID)
	assert.Equal(t, "a", original.Attachments[0].StorageKey)
	assert.Equal(t, "open", original.AuditLog[0].Changes[0].To)
	assert.Equal(t, 4, original.Rating.Score)
}
