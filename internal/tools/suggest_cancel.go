package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/plotline/internal/engine"
)

// SuggestCancelTool handles the plotline_cancel MCP tool.
type SuggestCancelTool struct {
	eng *engine.Engine
}

func NewSuggestCancelTool(eng *engine.Engine) *SuggestCancelTool {
	return &SuggestCancelTool{eng: eng}
}

// Definition returns the MCP tool definition for registration.
func (t *SuggestCancelTool) Definition() mcp.Tool {
	return mcp.NewTool("plotline_cancel",
		mcp.WithDescription("Decline an offered suggestion so it can no longer be confirmed."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session the suggestion was offered to."),
		),
		mcp.WithString("suggestion_id",
			mcp.Required(),
			mcp.Description("Id of the suggestion to decline."),
		),
	)
}

// Handle processes the plotline_cancel tool call.
func (t *SuggestCancelTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := strings.TrimSpace(req.GetString("session_id", ""))
	id := strings.TrimSpace(req.GetString("suggestion_id", ""))
	if sessionID == "" || id == "" {
		return mcp.NewToolResultError("'session_id' and 'suggestion_id' are required"), nil
	}

	offer, err := t.eng.Cancel(sessionID, id)
	if err != nil {
		return dispatchError(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Declined **%s**.", offer.Instance.Label)), nil
}
