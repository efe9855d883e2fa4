package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the credits MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCheckUsage = mcp.NewTool("check_usage",
	mcp.WithDescription(
		"Check the user's token balance for consultations. "+
			"Shows the free monthly allowance remaining (as a percentage and estimated turns), "+
			"purchased tokens remaining, and their value in credits and won. "+
			"The free allowance resets at the start of each calendar month."),
	mcp.WithString("display",
		mcp.Description("Breakdown order for display: 'free_first' (default, how tokens are actually spent) or 'purchased_first'"),
		mcp.Enum("free_first", "purchased_first")),
)

var ToolRecordTurn = mcp.NewTool("record_turn",
	mcp.WithDescription(
		"Record the tokens consumed by one conversation turn. "+
			"Tokens are drawn from the free monthly allowance first, then from purchased tokens. "+
			"Use precise mode when the count came from a model response and should carry the 1.2x surcharge."),
	mcp.WithNumber("tokens",
		mcp.Required(),
		mcp.Description("Tokens used by the turn (positive integer, e.g. 900)")),
	mcp.WithBoolean("precise",
		mcp.Description("Apply the precise-mode multiplier of 1.2 before deducting")),
)

var ToolGetExpertLevel = mcp.NewTool("get_expert_level",
	mcp.WithDescription(
		"Get an expert's level (1-10), tier label, and per-minute price in credits. "+
			"The level comes from the expert's reputation score."),
	mcp.WithString("expert_id",
		mcp.Required(),
		mcp.Description("The expert's identifier")),
)

var ToolQuoteSession = mcp.NewTool("quote_session",
	mcp.WithDescription(
		"Price a consultation with an expert for a given number of minutes. "+
			"Returns the cost in credits and won at the expert's current level."),
	mcp.WithString("expert_id",
		mcp.Required(),
		mcp.Description("The expert's identifier")),
	mcp.WithNumber("minutes",
		mcp.Required(),
		mcp.Description("Session length in minutes (positive integer)")),
)

var ToolListRankings = mcp.NewTool("list_rankings",
	mcp.WithDescription(
		"List the top-ranked experts by reputation score, with their level and price."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of experts to return (default 10)")),
)
