// Package analytics computes the admin dashboard figures from one consistent dataset.
//
// Compute is pure: it never touches the store and recomputes everything from scratch, so
// two calls over the same dataset always agree.
package analytics

import (
	"sort"
	"time"

	"github.com/helpline-labs/support-desk/internal/domain"
	"github.com/helpline-labs/support-desk/internal/repository"
)

// RecentTicketLimit bounds Snapshot.RecentTickets.
const RecentTicketLimit = 10

// AgentRollup summarizes one service agent's handled tickets.
type AgentRollup struct {
	AgentID                  string  `json:"agentId"`
	Name                     string  `json:"name"`
	Email                    string  `json:"email"`
	TicketsResolved          int     `json:"ticketsResolved"`
	AvgResolutionTimeMinutes float64 `json:"avgResolutionTimeMinutes"`
	AvgRating                float64 `json:"avgRating"`
	RatingCount              int     `json:"ratingCount"`
}

// CustomerRollup counts one customer's tickets.
type CustomerRollup struct {
	CustomerID   string `json:"customerId"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Verified     bool   `json:"verified"`
	TotalTickets int    `json:"totalTickets"`
}

// StatusCount is one bar of the tickets-by-status chart.
type StatusCount struct {
	Status domain.TicketStatus `json:"status"`
	Count  int                 `json:"count"`
}

// RecentTicket is a dashboard row for a newly filed ticket.
type RecentTicket struct {
	TicketID  string                `json:"ticketId"`
	Subject   string                `json:"subject"`
	OwnerID   string                `json:"ownerId"`
	OwnerName string                `json:"ownerName"`
	Status    domain.TicketStatus   `json:"status"`
	Priority  domain.TicketPriority `json:"priority"`
	CreatedAt time.Time             `json:"createdAt"`
}

// Snapshot is the read-only metrics view returned to admins.
type Snapshot struct {
	GeneratedAt                 time.Time        `json:"generatedAt"`
	TotalTickets                int              `json:"totalTickets"`
	TurnoverRate                float64          `json:"turnoverRate"`
	AvgResolutionTimeMinutes    float64          `json:"avgResolutionTimeMinutes"`
	AvgFirstResponseTimeMinutes float64          `json:"avgFirstResponseTimeMinutes"`
	BounceRate                  float64          `json:"bounceRate"`
	TotalMessages               int64            `json:"totalMessages"`
	AvgSatisfaction             float64          `json:"avgSatisfaction"`
	TicketsByStatus             []StatusCount    `json:"ticketsByStatus"`
	RecentTickets               []RecentTicket   `json:"recentTickets"`
	Agents                      []AgentRollup    `json:"agents"`
	Customers                   []CustomerRollup `json:"customers"`
}

type mean struct {
	sum   float64
	count int
}

func (m *mean) add(v float64) {
	m.sum += v
	m.count++
}

func (m mean) value() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

func minutesBetween(from, to time.Time) float64 {
	return to.Sub(from).Minutes()
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return 100 * float64(part) / float64(whole)
}

// Compute derives a snapshot from ds. now is recorded as the generation time.
func Compute(ds repository.Dataset, now time.Time) Snapshot {
	snap := Snapshot{
		GeneratedAt:   now,
		TotalTickets:  len(ds.Tickets),
		TotalMessages: ds.TotalMessages,
	}

	var (
		resolved      int
		resolution    mean
		firstResponse mean
		satisfaction  mean
		byStatus      = make(map[domain.TicketStatus]int)
		owners        = make(map[string]int)
		handled       = make(map[string][]*domain.Ticket)
	)

	for i := range ds.Tickets {
		t := &ds.Tickets[i]
		byStatus[t.Status]++
		owners[t.OwnerID]++

		if t.Status == domain.TicketStatusResolved {
			resolved++
			if t.ResolvedAt != nil {
				resolution.add(minutesBetween(t.CreatedAt, *t.ResolvedAt))
			}
			if t.HandlerID != nil {
				handled[*t.HandlerID] = append(handled[*t.HandlerID], t)
			}
		}
		if t.FirstResponseAt != nil {
			firstResponse.add(minutesBetween(t.CreatedAt, *t.FirstResponseAt))
		}
		if t.Rating != nil {
			satisfaction.add(float64(t.Rating.Score))
		}
	}

	snap.TurnoverRate = percent(resolved, snap.TotalTickets)
	snap.AvgResolutionTimeMinutes = resolution.value()
	snap.AvgFirstResponseTimeMinutes = firstResponse.value()
	snap.AvgSatisfaction = satisfaction.value()

	snap.TicketsByStatus = make([]StatusCount, 0, len(domain.TicketStatuses))
	for _, status := range domain.TicketStatuses {
		if n := byStatus[status]; n > 0 {
			snap.TicketsByStatus = append(snap.TicketsByStatus, StatusCount{Status: status, Count: n})
		}
	}

	snap.RecentTickets = recentTickets(ds.Tickets)

	var customers, bounced int
	snap.Agents = []AgentRollup{}
	snap.Customers = []CustomerRollup{}
	for i := range ds.Users {
		u := &ds.Users[i]
		switch u.Role {
		case domain.RoleCustomer:
			customers++
			if owners[u.ID] == 0 {
				bounced++
			}
			snap.Customers = append(snap.Customers, CustomerRollup{
				CustomerID:   u.ID,
				Name:         u.FullName(),
				Email:        u.Email,
				Verified:     u.Verified,
				TotalTickets: owners[u.ID],
			})
		case domain.RoleServiceAgent:
			snap.Agents = append(snap.Agents, agentRollup(u, handled[u.ID]))
		}
	}
	snap.BounceRate = percent(bounced, customers)

	return snap
}

func agentRollup(u *domain.User, tickets []*domain.Ticket) AgentRollup {
	var resolution, rating mean
	for _, t := range tickets {
		if t.ResolvedAt != nil {
			resolution.add(minutesBetween(t.CreatedAt, *t.ResolvedAt))
		}
		if t.Rating != nil {
			rating.add(float64(t.Rating.Score))
		}
	}
	return AgentRollup{
		AgentID:                  u.ID,
		Name:                     u.FullName(),
		Email:                    u.Email,
		TicketsResolved:          len(tickets),
		AvgResolutionTimeMinutes: resolution.value(),
		AvgRating:                rating.value(),
		RatingCount:              rating.count,
	}
}

func recentTickets(tickets []domain.Ticket) []RecentTicket {
	sorted := make([]*domain.Ticket, len(tickets))
	for i := range tickets {
		sorted[i] = &tickets[i]
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].TicketID > sorted[j].TicketID
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	if len(sorted) > RecentTicketLimit {
		sorted = sorted[:RecentTicketLimit]
	}
	out := make([]RecentTicket, len(sorted))
	for i, t := range sorted {
		out[i] = RecentTicket{
			TicketID:  t.TicketID,
			Subject:   t.Subject,
			OwnerID:   t.OwnerID,
			OwnerName: t.OwnerName,
			Status:    t.Status,
			Priority:  t.Priority,
			CreatedAt: t.CreatedAt,
		}
	}
	return out
}
