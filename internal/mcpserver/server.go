// Package mcpserver exposes the credits API as MCP tools for LLM clients.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer("consultcredit", version)
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolCheckUsage, h.HandleCheckUsage)
	s.AddTool(ToolRecordTurn, h.HandleRecordTurn)
	s.AddTool(ToolGetExpertLevel, h.HandleGetExpertLevel)
	s.AddTool(ToolQuoteSession, h.HandleQuoteSession)
	s.AddTool(ToolListRankings, h.HandleListRankings)

	return s
}
