package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/plotline/internal/engine"
	"github.com/HendryAvila/plotline/internal/state"
)

// SuggestListTool handles the plotline_suggest MCP tool.
// It evaluates the rule set for one conversation turn and offers the
// resulting suggestions.
type SuggestListTool struct {
	eng *engine.Engine
}

func NewSuggestListTool(eng *engine.Engine) *SuggestListTool {
	return &SuggestListTool{eng: eng}
}

// Definition returns the MCP tool definition for registration.
func (t *SuggestListTool) Definition() mcp.Tool {
	return mcp.NewTool("plotline_suggest",
		mcp.WithDescription(
			"Offer context-sensitive next steps for a writing session. "+
				"Pass the session id, the conversation topics, and any detected intents, "+
				"mentioned entities or extracted parameters. Each suggestion has an id "+
				"you can pass to `plotline_confirm`. A new call starts a new turn and "+
				"expires the previous turn's suggestions.",
		),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Conversation session the suggestions belong to."),
		),
		mcp.WithString("topics",
			mcp.Description("Comma-separated topics (e.g. 'character,relationship'). Empty evaluates every rule."),
		),
		mcp.WithString("project_id",
			mcp.Description("Project to evaluate against. Defaults to the session's project."),
		),
		mcp.WithString("intents",
			mcp.Description("Detected intents with confidence, as 'name:0.8,other' or a JSON object."),
		),
		mcp.WithString("mentions",
			mcp.Description("Comma-separated entity names mentioned in the message."),
		),
		mcp.WithString("params",
			mcp.Description("JSON object of parameters extracted from the message (e.g. {\"name\": \"Aria\"})."),
		),
		mcp.WithString("focus",
			mcp.Description("JSON object selecting entities, e.g. {\"character\": \"<id>\"}. An empty value clears a kind."),
		),
		mcp.WithString("message",
			mcp.Description("The user's message, used for text conditions."),
		),
		mcp.WithNumber("max",
			mcp.Description("Maximum number of suggestions. Defaults to the server setting."),
		),
	)
}

// Handle processes the plotline_suggest tool call.
func (t *SuggestListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := strings.TrimSpace(req.GetString("session_id", ""))
	if sessionID == "" {
		return mcp.NewToolResultError("'session_id' is required"), nil
	}

	intents, err := intentsArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	params, err := objectArg(req, "params")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	focus, err := focusArg(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	conv := state.Conversation{
		SessionID: sessionID,
		ProjectID: req.GetString("project_id", ""),
		Focus:     focus,
		Intents:   intents,
		Mentions:  listArg(req, "mentions"),
		Params:    params,
		Message:   req.GetString("message", ""),
	}
	out, err := t.eng.Suggest(ctx, conv, topicsOf(listArg(req, "topics")), intArg(req, "max", 0))
	if err != nil {
		return nil, fmt.Errorf("suggesting for session %s: %w", sessionID, err)
	}

	if len(out) == 0 {
		return mcp.NewToolResultText("No suggestions apply right now."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Suggestions (turn %d)\n\n", out[0].Turn)
	formatInstances(&b, out)
	b.WriteString("\nConfirm one with `plotline_confirm` using its id.\n")
	return mcp.NewToolResultText(b.String()), nil
}
