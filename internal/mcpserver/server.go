package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates an MCP server with the academy tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("dojo", "1.0.0")
	h := NewHandlers(NewDojoClient(cfg))

	s.AddTool(ToolOverdueStudents, h.HandleOverdueStudents)
	s.AddTool(ToolOverdueTotal, h.HandleOverdueTotal)
	s.AddTool(ToolLeastAttending, h.HandleLeastAttending)
	s.AddTool(ToolActiveStudentCount, h.HandleActiveStudentCount)
	s.AddTool(ToolListPlans, h.HandleListPlans)
	s.AddTool(ToolEligibleStudents, h.HandleEligibleStudents)
	s.AddTool(ToolAskAssistant, h.HandleAskAssistant)

	return s
}
