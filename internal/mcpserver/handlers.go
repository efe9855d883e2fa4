package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/consultcredit/internal/reputation"
	"github.com/mbd888/consultcredit/internal/usage"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleCheckUsage returns the caller's balance summary.
func (h *Handlers) HandleCheckUsage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	u, err := h.client.GetUsage(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check usage: %v", err)), nil
	}
	// The server always returns the authoritative free-first split; the
	// alternate order is a presentation choice made here.
	summary := u.Summary
	if req.GetString("display", usage.FreeFirst) == usage.PurchasedFirst {
		summary = usage.Summarize(u.Account, true)
	}
	return mcp.NewToolResultText(formatUsage(summary)), nil
}

// HandleRecordTurn debits one turn of token usage.
func (h *Handlers) HandleRecordTurn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tokens := req.GetInt("tokens", 0)
	if tokens <= 0 {
		return mcp.NewToolResultError("tokens must be a positive integer"), nil
	}
	precise := req.GetBool("precise", false)

	res, err := h.client.Consume(ctx, int64(tokens), precise)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to record turn: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Recorded %d tokens", res.SpentTokens)
	if res.Precise {
		fmt.Fprintf(&sb, " (%d requested, precise mode)", res.RequestedTokens)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  From free allowance: %d\n", res.FromFree)
	if res.FromPurchased > 0 {
		fmt.Fprintf(&sb, "  From purchased:      %d\n", res.FromPurchased)
	}
	if res.Overdraft > 0 {
		fmt.Fprintf(&sb, "  Warning: purchased balance overdrawn by %d tokens\n", res.Summary.OverdraftTokens)
	}
	sb.WriteString("\n")
	sb.WriteString(formatUsage(res.Summary))
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetExpertLevel returns an expert's level and price.
func (h *Handlers) HandleGetExpertLevel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expertID := req.GetString("expert_id", "")
	if expertID == "" {
		return mcp.NewToolResultError("expert_id is required"), nil
	}

	lvl, err := h.client.GetExpertLevel(ctx, expertID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get expert level: %v", err)), nil
	}
	return mcp.NewToolResultText(formatExpertLevel(lvl)), nil
}

// HandleQuoteSession prices a session.
func (h *Handlers) HandleQuoteSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expertID := req.GetString("expert_id", "")
	if expertID == "" {
		return mcp.NewToolResultError("expert_id is required"), nil
	}
	minutes := req.GetInt("minutes", 0)
	if minutes <= 0 {
		return mcp.NewToolResultError("minutes must be a positive integer"), nil
	}

	q, err := h.client.QuoteSession(ctx, expertID, int64(minutes))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to quote session: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"%d minutes with %s (Lv.%d %s)\n"+
			"  Price: %d credits/min\n"+
			"  Total: %d credits (%d won)",
		q.Minutes, q.ExpertID, q.Level, q.TierLabel, q.CreditsPerMinute, q.Credits, q.Won)), nil
}

// HandleListRankings lists the top experts.
func (h *Handlers) HandleListRankings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 10)

	entries, err := h.client.ListRankings(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list rankings: %v", err)), nil
	}
	return mcp.NewToolResultText(formatRankings(entries)), nil
}

// --- Formatting helpers ---

func formatUsage(s usage.Summary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Usage for %s:\n", s.Period)
	fmt.Fprintf(&sb, "  Free allowance: %d%% remaining (%d tokens, about %d turns)\n",
		s.RemainingFreePct, s.FreeRemaining, s.EstimatedFreeTurns)
	if s.PurchasedRemaining > 0 {
		fmt.Fprintf(&sb, "  Purchased:      %d tokens (%d credits, %s won, about %d turns)\n",
			s.PurchasedRemaining, s.PurchasedRemainingCredits, s.PurchasedRemainingWon.StringFixed(0), s.EstimatedPurchasedTurns)
	}
	if s.Overdrawn {
		fmt.Fprintf(&sb, "  Overdrawn by %d tokens\n", s.OverdraftTokens)
	}
	b := s.Breakdown
	if s.Display != nil {
		b = *s.Display
	}
	fmt.Fprintf(&sb, "  Used this month: %d (free %d, purchased %d)", s.UsedTotal, b.FreeUsed, b.PurchasedUsed)
	return sb.String()
}

func formatExpertLevel(l *reputation.ExpertLevel) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Expert %s:\n", l.ExpertID)
	fmt.Fprintf(&sb, "  Level: %d (%s)\n", l.Level, l.TierLabel)
	fmt.Fprintf(&sb, "  Price: %d credits/min\n", l.CreditsPerMinute)
	fmt.Fprintf(&sb, "  Score: %.1f / 100", l.RankingScore)
	if l.Ranking > 0 {
		fmt.Fprintf(&sb, "\n  Rank:  %d of %d", l.Ranking, l.TotalExperts)
	}
	return sb.String()
}

func formatRankings(entries []reputation.RankEntry) string {
	if len(entries) == 0 {
		return "No ranked experts yet."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Top %d expert(s):\n\n", len(entries))
	for i, e := range entries {
		fmt.Fprintf(&sb, "%d. %s  Lv.%d %s  %.1f pts  %d credits/min",
			e.Ranking, e.ExpertID, e.Level, e.TierLabel, e.RankingScore, e.CreditsPerMinute)
		if i < len(entries)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
