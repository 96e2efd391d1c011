package service

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/helpline-labs/support-desk/internal/audit"
	"github.com/helpline-labs/support-desk/internal/domain"
	apperrors "github.com/helpline-labs/support-desk/pkg/util/errorutil"
)

func TestSnapshotScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, f.newTicket(t, f.customer).TicketID)
	}

	f.clock.Advance(time.Hour)
	for _, id := range ids[:2] {
		_, err := f.tickets.UpdateTicket(ctx, f.agent, id, audit.Patch{
			Status:    statusPtr(domain.TicketStatusResolved),
			HandlerID: strPtr(f.agent.ID),
		}, nil)
		require.NoError(t, err)
	}
	_, err := f.tickets.UpdateTicket(ctx, f.customer, ids[0], audit.Patch{Rating: intPtr(5)}, nil)
	require.NoError(t, err)
	_, err = f.tickets.UpdateTicket(ctx, f.customer, ids[1], audit.Patch{Rating: intPtr(2)}, nil)
	require.NoError(t, err)

	snap, err := f.analytics.Snapshot(ctx, f.admin)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.TotalTickets)
	assert.InDelta(t, 40.0, snap.TurnoverRate, 0.001)
	assert.InDelta(t, 60.0, snap.AvgResolutionTimeMinutes, 0.001)
	assert.InDelta(t, 3.5, snap.AvgSatisfaction, 0.001)

	require.Len(t, snap.Agents, 1)
	assert.Equal(t, f.agent.ID, snap.Agents[0].AgentID)
	assert.Equal(t, 2, snap.Agents[0].TicketsResolved)

	_, err = f.analytics.Snapshot(ctx, f.agent)
	requireCode(t, err, apperrors.CodeForbidden)
}

func TestExportWritesWorkbook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.newTicket(t, f.customer)

	var buf bytes.Buffer
	require.NoError(t, f.analytics.Export(ctx, f.admin, &buf))

	book, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer book.Close()
	assert.Contains(t, book.GetSheetList(), "Summary")

	err = f.analytics.Export(ctx, f.customer, &bytes.Buffer{})
	requireCode(t, err, apperrors.CodeForbidden)
}
