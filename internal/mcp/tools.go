package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/calai/calai/internal/analyzer"
	"github.com/calai/calai/internal/session"
)

func (s *Server) handleAnalyzeMeal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: message"), nil
	}

	resp, err := s.orch.Analyze(ctx, analyzer.Request{
		Text:      message,
		SessionID: req.GetString("session_id", ""),
		Language:  req.GetString("language", ""),
	})
	var inputErr *analyzer.InputError
	if errors.As(err, &inputErr) {
		return mcp.NewToolResultError(inputErr.Reason), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("analysis failed: %v", err)), nil
	}

	r := resp.Result
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session: %s\n\n%s\n", resp.SessionID, r.Reply)
	if r.HasFood() {
		sb.WriteString("\nFoods:\n")
		for _, it := range r.FoodItems {
			fmt.Fprintf(&sb, "- %s (%s %s): %.0f kcal, P %.1fg, C %.1fg, F %.1fg\n",
				it.DisplayName(), it.Amount, it.Unit, it.Calories, it.Protein, it.Carbs, it.Fat)
		}
		fmt.Fprintf(&sb, "\nTotal: %.0f kcal, P %.1fg, C %.1fg, F %.1fg\n", r.Calories, r.Protein, r.Carbs, r.Fat)
	}
	if len(r.Suggestions) > 0 {
		sb.WriteString("\nSuggestions:\n")
		for _, sug := range r.Suggestions {
			fmt.Fprintf(&sb, "- %s\n", sug)
		}
	}
	if r.Placeholder {
		sb.WriteString("\n(Estimated values: the model was unavailable.)\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleContextSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	return jsonResult(s.orch.ContextSummary(ctx, id))
}

func (s *Server) handleClearSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	s.orch.Clear(ctx, id)
	return mcp.NewToolResultText(fmt.Sprintf("Session %s cleared.", id)), nil
}

func (s *Server) handleSetProfile(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	profile := map[string]string{}
	if v := req.GetString("goals", ""); v != "" {
		profile[session.ProfileGoals] = v
	}
	if v := req.GetString("restrictions", ""); v != "" {
		profile[session.ProfileRestrictions] = v
	}
	s.orch.SetProfile(id, profile)
	return jsonResult(map[string]any{"session_id": id, "profile": profile})
}

func (s *Server) handleChatHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	if limit < 1 || limit > 200 {
		return mcp.NewToolResultError("limit must be between 1 and 200"), nil
	}
	offset := req.GetInt("offset", 0)
	if offset < 0 {
		return mcp.NewToolResultError("offset must not be negative"), nil
	}

	page, err := s.orch.ChatHistory(ctx, req.GetString("session_id", ""), limit, offset)
	if errors.Is(err, analyzer.ErrSessionRequired) {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load history: %v", err)), nil
	}
	if len(page.Messages) == 0 {
		return mcp.NewToolResultText("No messages found."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session %s (%d of %d messages)\n\n", page.SessionID, len(page.Messages), page.Total)
	for _, m := range page.Messages {
		fmt.Fprintf(&sb, "[%s] %s: %s\n", m.Timestamp.Format("2006-01-02 15:04"), m.Role, m.Content)
		if m.Nutrition != nil && m.Nutrition.HasFood() {
			fmt.Fprintf(&sb, "    %.0f kcal: %s\n", m.Nutrition.Calories, strings.Join(m.Nutrition.Names(), ", "))
		}
	}
	if page.HasMore {
		fmt.Fprintf(&sb, "\nMore messages available (offset=%d).\n", offset+limit)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
