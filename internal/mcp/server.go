// Package mcp exposes the analyzer as Model Context Protocol tools over stdio.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/calai/calai/internal/analyzer"
)

// Server wraps the MCP server and the orchestrator its tools call.
type Server struct {
	orch *analyzer.Orchestrator
	mcp  *server.MCPServer
}

// NewServer builds the MCP server and registers every tool.
func NewServer(orch *analyzer.Orchestrator, version string) *Server {
	s := &Server{
		orch: orch,
		mcp:  server.NewMCPServer("calai", version, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

// ServeStdio blocks serving requests on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("analyze_meal",
		mcp.WithDescription("Analyse a meal description or nutrition question and record it in the session's daily intake."),
		mcp.WithString("message", mcp.Required(), mcp.Description("What the user ate or asked")),
		mcp.WithString("session_id", mcp.Description("Conversation id; a new one is minted when omitted")),
		mcp.WithString("language", mcp.Description("Reply language: auto, en or zh")),
	), s.handleAnalyzeMeal)

	s.mcp.AddTool(mcp.NewTool("context_summary",
		mcp.WithDescription("Show today's totals, meals and foods for a session."),
		mcp.WithString("session_id", mcp.Required()),
	), s.handleContextSummary)

	s.mcp.AddTool(mcp.NewTool("clear_session",
		mcp.WithDescription("Forget a session's history, intake and profile."),
		mcp.WithString("session_id", mcp.Required()),
	), s.handleClearSession)

	s.mcp.AddTool(mcp.NewTool("set_profile",
		mcp.WithDescription("Set a session's dietary goals and restrictions."),
		mcp.WithString("session_id", mcp.Required()),
		mcp.WithString("goals", mcp.Description("e.g. lose weight")),
		mcp.WithString("restrictions", mcp.Description("e.g. vegetarian, no nuts")),
	), s.handleSetProfile)

	s.mcp.AddTool(mcp.NewTool("chat_history",
		mcp.WithDescription("List a session's recent messages, newest page first."),
		mcp.WithString("session_id", mcp.Description("Conversation id; may be omitted when falling back to the most recent session is enabled")),
		mcp.WithNumber("limit", mcp.Description("Messages per page (1-200, default 20)")),
		mcp.WithNumber("offset", mcp.Description("Messages to skip from the newest")),
	), s.handleChatHistory)
}
