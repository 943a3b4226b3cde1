package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/plotline/internal/engine"
	"github.com/HendryAvila/plotline/internal/rules"
)

// RulesReloadTool handles the plotline_rules_reload MCP tool.
// A rejected rule set leaves the previous one active.
type RulesReloadTool struct {
	eng  *engine.Engine
	path string
}

// NewRulesReloadTool creates the tool; path is the configured rules
// location, empty for the built-in catalogue.
func NewRulesReloadTool(eng *engine.Engine, path string) *RulesReloadTool {
	return &RulesReloadTool{eng: eng, path: path}
}

// Definition returns the MCP tool definition for registration.
func (t *RulesReloadTool) Definition() mcp.Tool {
	return mcp.NewTool("plotline_rules_reload",
		mcp.WithDescription(
			"Reload suggestion rules from disk. Every outstanding suggestion expires. "+
				"If the new rules are invalid nothing changes and the problems are listed.",
		),
		mcp.WithString("path",
			mcp.Description("Rule file or directory to load. Defaults to the configured rules location."),
		),
	)
}

// Handle processes the plotline_rules_reload tool call.
func (t *RulesReloadTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", t.path)

	set, err := t.eng.ReloadPath(path)
	if err != nil {
		var verr *rules.ValidationError
		if errors.As(err, &verr) {
			var b strings.Builder
			b.WriteString("Rules rejected; the previous rules stay active.\n\n")
			for _, issue := range verr.Issues {
				fmt.Fprintf(&b, "- %s\n", issue.String())
			}
			return mcp.NewToolResultError(b.String()), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Reload failed: %v", err)), nil
	}

	source := path
	if source == "" {
		source = "built-in catalogue"
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Loaded %d rules from %s (generation %d). Earlier suggestions have expired.",
		set.Len(), source, set.Generation())), nil
}
