package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *DojoClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *DojoClient) *Handlers {
	return &Handlers{client: client}
}

type student struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Contact  string `json:"contact"`
}

type overdueReport struct {
	Students []struct {
		Student   student   `json:"student"`
		Amount    string    `json:"amount"`
		Invoices  int       `json:"invoices"`
		OldestDue time.Time `json:"oldestDue"`
	} `json:"students"`
	Total string `json:"total"`
	Count int    `json:"count"`
}

type attendee struct {
	Student student `json:"student"`
	Count   int     `json:"count"`
}

type analysisResponse struct {
	Analysis struct {
		Date           time.Time  `json:"date"`
		ActiveStudents int        `json:"activeStudents"`
		LowFrequency   []attendee `json:"lowFrequency"`
		LeastAttending *attendee  `json:"leastAttending"`
	} `json:"analysis"`
}

// HandleOverdueStudents lists students with overdue invoices.
func (h *Handlers) HandleOverdueStudents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.Overdue(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load overdue students: %v", err)), nil
	}
	var r overdueReport
	if err := json.Unmarshal(raw, &r); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse overdue report: %v", err)), nil
	}
	if len(r.Students) == 0 {
		return mcp.NewToolResultText("No overdue students."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d overdue student(s), total %s:\n\n", len(r.Students), money(r.Total))
	for i, s := range r.Students {
		fmt.Fprintf(&sb, "%d. %s owes %s", i+1, s.Student.FullName, money(s.Amount))
		if s.Invoices > 1 {
			fmt.Fprintf(&sb, " (%d invoices)", s.Invoices)
		}
		if !s.OldestDue.IsZero() {
			fmt.Fprintf(&sb, ", due since %s", s.OldestDue.Format(time.DateOnly))
		}
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleOverdueTotal returns the overdue amount.
func (h *Handlers) HandleOverdueTotal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.Overdue(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load overdue total: %v", err)), nil
	}
	var r overdueReport
	if err := json.Unmarshal(raw, &r); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse overdue report: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Overdue total: %s across %d student(s)", money(r.Total), r.Count)), nil
}

// HandleLeastAttending reports the student with the fewest check-ins.
func (h *Handlers) HandleLeastAttending(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.Analysis(ctx, req.GetString("date", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load attendance: %v", err)), nil
	}
	var r analysisResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse analysis: %v", err)), nil
	}
	a := r.Analysis
	if a.LeastAttending == nil {
		return mcp.NewToolResultText("No active students."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Least attending: %s with %d check-in(s) in the last 30 days\n",
		a.LeastAttending.Student.FullName, a.LeastAttending.Count)
	if len(a.LowFrequency) > 0 {
		sb.WriteString("\nLow attendance:\n")
		for _, at := range a.LowFrequency {
			fmt.Fprintf(&sb, "  %s: %d\n", at.Student.FullName, at.Count)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleActiveStudentCount counts active students.
func (h *Handlers) HandleActiveStudentCount(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.Students(ctx, true)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list students: %v", err)), nil
	}
	var r struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse students: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Active students: %d", r.Count)), nil
}

// HandleListPlans lists plans.
func (h *Handlers) HandleListPlans(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.Plans(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list plans: %v", err)), nil
	}
	var r struct {
		Plans []struct {
			Name           string `json:"name"`
			Price          string `json:"price"`
			DurationMonths int    `json:"durationMonths"`
			Description    string `json:"description"`
		} `json:"plans"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse plans: %v", err)), nil
	}
	if len(r.Plans) == 0 {
		return mcp.NewToolResultText("No plans registered."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d plan(s):\n\n", len(r.Plans))
	for _, p := range r.Plans {
		fmt.Fprintf(&sb, "- %s: %s every %d month(s)", p.Name, money(p.Price), p.DurationMonths)
		if p.Description != "" {
			fmt.Fprintf(&sb, " (%s)", p.Description)
		}
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleEligibleStudents lists students ready for promotion.
func (h *Handlers) HandleEligibleStudents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.Eligible(ctx, req.GetString("date", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load eligible students: %v", err)), nil
	}
	var r struct {
		Students []struct {
			Student     student `json:"student"`
			CurrentRank *struct {
				Name string `json:"name"`
			} `json:"currentRank"`
			DaysEligible int `json:"daysEligible"`
		} `json:"students"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse eligible students: %v", err)), nil
	}
	if len(r.Students) == 0 {
		return mcp.NewToolResultText("No students eligible for promotion."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d student(s) eligible for promotion:\n\n", len(r.Students))
	for i, s := range r.Students {
		rank := "no rank"
		if s.CurrentRank != nil {
			rank = s.CurrentRank.Name
		}
		fmt.Fprintf(&sb, "%d. %s (%s), eligible for %d day(s)\n", i+1, s.Student.FullName, rank, s.DaysEligible)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleAskAssistant forwards a question to the assistant.
func (h *Handlers) HandleAskAssistant(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question := strings.TrimSpace(req.GetString("question", ""))
	if question == "" {
		return mcp.NewToolResultError("question is required"), nil
	}
	raw, err := h.client.Ask(ctx, question)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Assistant request failed: %v", err)), nil
	}
	var r struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse answer: %v", err)), nil
	}
	return mcp.NewToolResultText(r.Answer), nil
}

// money formats a decimal string as BRL. Unparseable input is returned as-is.
func money(s string) string {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return s
	}
	return "R$ " + d.StringFixed(2)
}
