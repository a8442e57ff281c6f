package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions. Descriptions are what the LLM reads to decide which
// tool to use.

var ToolOverdueStudents = mcp.NewTool("overdue_students",
	mcp.WithDescription(
		"List the academy's students with overdue invoices, with the amount each one owes "+
			"and the oldest due date. Use this for questions about who is late on payments."),
)

var ToolOverdueTotal = mcp.NewTool("overdue_total",
	mcp.WithDescription(
		"Total amount in BRL currently overdue across all students of the academy."),
)

var ToolLeastAttending = mcp.NewTool("least_attending_student",
	mcp.WithDescription(
		"The active student with the fewest check-ins in the last 30 days, "+
			"plus the students with low attendance (1 to 3 check-ins)."),
	mcp.WithString("date",
		mcp.Description("Reference date in YYYY-MM-DD format. Defaults to today.")),
)

var ToolActiveStudentCount = mcp.NewTool("active_student_count",
	mcp.WithDescription("Number of active students in the academy."),
)

var ToolListPlans = mcp.NewTool("list_plans",
	mcp.WithDescription(
		"List the academy's membership plans with price and duration in months."),
)

var ToolEligibleStudents = mcp.NewTool("eligible_students",
	mcp.WithDescription(
		"Students who have been at their current rank long enough to be promoted, "+
			"longest-waiting first."),
	mcp.WithString("date",
		mcp.Description("Reference date in YYYY-MM-DD format. Defaults to today.")),
)

var ToolAskAssistant = mcp.NewTool("ask_assistant",
	mcp.WithDescription(
		"Ask the academy assistant a free-text question in Portuguese, e.g. "+
			"'quem está devendo?' or 'faturamento do mês'."),
	mcp.WithString("question",
		mcp.Required(),
		mcp.Description("The question, up to 1000 characters")),
)
