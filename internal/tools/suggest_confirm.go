package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/plotline/internal/dispatch"
	"github.com/HendryAvila/plotline/internal/engine"
)

// SuggestConfirmTool handles the plotline_confirm MCP tool.
// It runs the operation behind an offered suggestion.
type SuggestConfirmTool struct {
	eng *engine.Engine
}

func NewSuggestConfirmTool(eng *engine.Engine) *SuggestConfirmTool {
	return &SuggestConfirmTool{eng: eng}
}

// Definition returns the MCP tool definition for registration.
func (t *SuggestConfirmTool) Definition() mcp.Tool {
	return mcp.NewTool("plotline_confirm",
		mcp.WithDescription(
			"Confirm a suggestion offered by `plotline_suggest`. Runs its operation "+
				"against the project and tells the frontend where to navigate. "+
				"A suggestion can be confirmed once, and only while it belongs to the "+
				"current turn.",
		),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session the suggestion was offered to."),
		),
		mcp.WithString("suggestion_id",
			mcp.Required(),
			mcp.Description("Id of the suggestion to confirm."),
		),
		mcp.WithString("params",
			mcp.Description("JSON object of parameters the user filled in; overrides the offered ones."),
		),
	)
}

// Handle processes the plotline_confirm tool call.
func (t *SuggestConfirmTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := strings.TrimSpace(req.GetString("session_id", ""))
	id := strings.TrimSpace(req.GetString("suggestion_id", ""))
	if sessionID == "" || id == "" {
		return mcp.NewToolResultError("'session_id' and 'suggestion_id' are required"), nil
	}
	params, err := objectArg(req, "params")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := t.eng.Confirm(ctx, sessionID, id, params)
	if err != nil {
		return dispatchError(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s: %s\n\n", res.Feature, res.State)
	if res.Message != "" {
		fmt.Fprintf(&b, "%s\n", res.Message)
	}
	if res.Navigation != "" {
		fmt.Fprintf(&b, "\nNavigated to `%s`.\n", res.Navigation)
	}
	if res.NavigationError != "" {
		fmt.Fprintf(&b, "\nNavigation failed: %s\n", res.NavigationError)
	}
	if len(res.Next) > 0 {
		b.WriteString("\n### Next\n\n")
		formatInstances(&b, res.Next)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// dispatchError turns rejections and operation failures into tool errors
// the model can act on.
func dispatchError(err error) (*mcp.CallToolResult, error) {
	var derr *dispatch.Error
	var ferr *dispatch.OperationFailure
	switch {
	case errors.As(err, &derr):
		hint := ""
		switch derr.Kind {
		case dispatch.KindExpired:
			hint = " Call `plotline_suggest` again for fresh suggestions."
		case dispatch.KindUnknownInstance:
			hint = " Check the id against the latest `plotline_suggest` output."
		}
		return mcp.NewToolResultError(err.Error() + "." + hint), nil
	case errors.As(err, &ferr):
		return mcp.NewToolResultError(fmt.Sprintf("The operation failed: %v", ferr.Err)), nil
	default:
		return nil, err
	}
}
