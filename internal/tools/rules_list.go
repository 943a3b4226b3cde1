package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/plotline/internal/engine"
	"github.com/HendryAvila/plotline/internal/rules"
)

// RulesListTool handles the plotline_rules MCP tool.
type RulesListTool struct {
	eng *engine.Engine
}

func NewRulesListTool(eng *engine.Engine) *RulesListTool {
	return &RulesListTool{eng: eng}
}

// Definition returns the MCP tool definition for registration.
func (t *RulesListTool) Definition() mcp.Tool {
	return mcp.NewTool("plotline_rules",
		mcp.WithDescription(
			"List the active suggestion rules, optionally filtered by topic. "+
				"Shows each rule's condition, operation and navigation target, and "+
				"flags rules disabled because their condition or operation is invalid.",
		),
		mcp.WithString("topic",
			mcp.Description("Comma-separated topics to list. Empty lists every rule."),
		),
	)
}

// Handle processes the plotline_rules tool call.
func (t *RulesListTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	set := t.eng.Rules()
	var topics []rules.Topic
	if raw := req.GetString("topic", ""); raw != "" {
		topics = rules.ParseTopics(raw)
	}
	summaries := set.Summaries(topics...)

	var b strings.Builder
	fmt.Fprintf(&b, "## Rules (generation %d, %d loaded)\n\n", set.Generation(), set.Len())
	if len(summaries) == 0 {
		b.WriteString("No rules match.\n")
		return mcp.NewToolResultText(b.String()), nil
	}
	b.WriteString("| Feature | Topic | When | Operation | Navigation |\n")
	b.WriteString("|---------|-------|------|-----------|------------|\n")
	for _, s := range summaries {
		feature := s.Feature
		if s.Disabled != "" {
			feature += " ⚠️"
		}
		when := s.Predicate
		if when == "" {
			when = "always"
		}
		fmt.Fprintf(&b, "| %s | %s | `%s` | %s | %s |\n",
			feature, s.Topic, when, orDash(s.BEOperation), orDash(s.FENavigation))
	}

	var disabled []string
	for _, s := range summaries {
		if s.Disabled != "" {
			disabled = append(disabled, fmt.Sprintf("- **%s**: %s", s.Feature, s.Disabled))
		}
	}
	if len(disabled) > 0 {
		b.WriteString("\n### Disabled\n\n")
		b.WriteString(strings.Join(disabled, "\n"))
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
