package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/plotline/internal/dispatch"
	"github.com/HendryAvila/plotline/internal/engine"
)

// SuggestStatusTool handles the plotline_status MCP tool.
// With a suggestion id it reports that offer's lifecycle; without one it
// summarises the whole session.
type SuggestStatusTool struct {
	eng *engine.Engine
}

func NewSuggestStatusTool(eng *engine.Engine) *SuggestStatusTool {
	return &SuggestStatusTool{eng: eng}
}

// Definition returns the MCP tool definition for registration.
func (t *SuggestStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("plotline_status",
		mcp.WithDescription(
			"Show a session's project, focus and offered suggestions, or the "+
				"state history of one suggestion when `suggestion_id` is given.",
		),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session to inspect."),
		),
		mcp.WithString("suggestion_id",
			mcp.Description("Specific suggestion to inspect."),
		),
	)
}

// Handle processes the plotline_status tool call.
func (t *SuggestStatusTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := strings.TrimSpace(req.GetString("session_id", ""))
	if sessionID == "" {
		return mcp.NewToolResultError("'session_id' is required"), nil
	}

	if id := strings.TrimSpace(req.GetString("suggestion_id", "")); id != "" {
		offer, err := t.eng.Status(sessionID, id)
		if err != nil {
			return dispatchError(err)
		}
		return mcp.NewToolResultText(formatOffer(offer)), nil
	}

	sess := t.eng.Session(sessionID)
	var b strings.Builder
	fmt.Fprintf(&b, "## Session %s\n\n", sess.ID)
	project := sess.Project
	if project == "" {
		project = "(none)"
	}
	fmt.Fprintf(&b, "- project: %s\n", project)
	fmt.Fprintf(&b, "- turn: %d\n", sess.Turn)
	kinds := make([]string, 0, len(sess.Focus))
	for kind := range sess.Focus {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Fprintf(&b, "- focus %s: %s\n", kind, sess.Focus[kind])
	}

	offers := t.eng.Offers(sessionID)
	if len(offers) == 0 {
		b.WriteString("\nNo suggestions offered yet.\n")
		return mcp.NewToolResultText(b.String()), nil
	}
	b.WriteString("\n| Suggestion | Turn | State | Id |\n")
	b.WriteString("|------------|------|-------|----|\n")
	for _, o := range offers {
		fmt.Fprintf(&b, "| %s | %d | %s | `%s` |\n", o.Instance.Label, o.Instance.Turn, o.State, o.Instance.ID)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func formatOffer(o dispatch.Offer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", o.Instance.Label)
	fmt.Fprintf(&b, "- state: %s\n", o.State)
	fmt.Fprintf(&b, "- turn: %d\n", o.Instance.Turn)
	if o.Result != nil {
		if o.Result.Message != "" {
			fmt.Fprintf(&b, "- result: %s\n", o.Result.Message)
		}
		if o.Result.Error != "" {
			fmt.Fprintf(&b, "- error: %s\n", o.Result.Error)
		}
	}
	if len(o.History) > 0 {
		b.WriteString("\n### History\n\n")
		for _, tr := range o.History {
			line := fmt.Sprintf("- %s: %s → %s", tr.At, tr.From, tr.To)
			if tr.Reason != "" {
				line += " (" + tr.Reason + ")"
			}
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}
