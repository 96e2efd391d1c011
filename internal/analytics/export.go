package analytics

import (
	"fmt"
	"io"
	"math"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet   = "Summary"
	agentsSheet    = "Agents"
	customersSheet = "Customers"
	statusSheet    = "By status"
	recentSheet    = "Recent tickets"
	timeLayout     = "2006-01-02 15:04"
)

// WriteXLSX renders snap as a workbook with one sheet per dashboard section.
func WriteXLSX(snap Snapshot, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	summary := [][]any{
		{"Metric", "Value"},
		{"Generated at", snap.GeneratedAt.Format(timeLayout)},
		{"Total tickets", snap.TotalTickets},
		{"Turnover rate (%)", round2(snap.TurnoverRate)},
		{"Avg resolution time (min)", round2(snap.AvgResolutionTimeMinutes)},
		{"Avg first response time (min)", round2(snap.AvgFirstResponseTimeMinutes)},
		{"Bounce rate (%)", round2(snap.BounceRate)},
		{"Total messages", snap.TotalMessages},
		{"Avg satisfaction", round2(snap.AvgSatisfaction)},
	}
	if err := writeRows(f, summarySheet, summary, header); err != nil {
		return err
	}

	agents := [][]any{{"Agent ID", "Name", "Email", "Tickets resolved", "Avg resolution (min)", "Avg rating", "Ratings"}}
	for _, a := range snap.Agents {
		agents = append(agents, []any{a.AgentID, a.Name, a.Email, a.TicketsResolved, round2(a.AvgResolutionTimeMinutes), round2(a.AvgRating), a.RatingCount})
	}
	if err := writeSheet(f, agentsSheet, agents, header); err != nil {
		return err
	}

	customers := [][]any{{"Customer ID", "Name", "Email", "Verified", "Tickets"}}
	for _, c := range snap.Customers {
		customers = append(customers, []any{c.CustomerID, c.Name, c.Email, c.Verified, c.TotalTickets})
	}
	if err := writeSheet(f, customersSheet, customers, header); err != nil {
		return err
	}

	byStatus := [][]any{{"Status", "Tickets"}}
	for _, s := range snap.TicketsByStatus {
		byStatus = append(byStatus, []any{string(s.Status), s.Count})
	}
	if err := writeSheet(f, statusSheet, byStatus, header); err != nil {
		return err
	}

	recent := [][]any{{"Ticket", "Subject", "Owner", "Status", "Priority", "Created"}}
	for _, t := range snap.RecentTickets {
		recent = append(recent, []any{t.TicketID, t.Subject, t.OwnerName, string(t.Status), string(t.Priority), t.CreatedAt.Format(timeLayout)})
	}
	if err := writeSheet(f, recentSheet, recent, header); err != nil {
		return err
	}

	_ = f.SetColWidth(summarySheet, "A", "A", 32)
	_ = f.SetColWidth(agentsSheet, "A", "C", 28)
	_ = f.SetColWidth(customersSheet, "A", "C", 28)
	_ = f.SetColWidth(recentSheet, "B", "B", 40)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, rows [][]any, header int) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}
	return writeRows(f, sheet, rows, header)
}

func writeRows(f *excelize.File, sheet string, rows [][]any, header int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	if len(rows) > 0 {
		last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, "A1", last, header); err != nil {
			return fmt.Errorf("style %s header: %w", sheet, err)
		}
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
