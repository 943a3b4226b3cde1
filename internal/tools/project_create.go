package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/plotline/internal/engine"
	"github.com/HendryAvila/plotline/internal/project"
)

// ProjectCreateTool handles the plotline_project_create MCP tool.
// A project created with a session id becomes that session's project.
type ProjectCreateTool struct {
	store *project.Store
	eng   *engine.Engine
}

func NewProjectCreateTool(store *project.Store, eng *engine.Engine) *ProjectCreateTool {
	return &ProjectCreateTool{store: store, eng: eng}
}

// Definition returns the MCP tool definition for registration.
func (t *ProjectCreateTool) Definition() mcp.Tool {
	return mcp.NewTool("plotline_project_create",
		mcp.WithDescription("Start a new story project."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Title of the story."),
		),
		mcp.WithString("genre", mcp.Description("Genre, e.g. 'fantasy'.")),
		mcp.WithString("theme", mcp.Description("Central theme.")),
		mcp.WithString("concept", mcp.Description("One-line premise.")),
		mcp.WithString("overview", mcp.Description("Longer overview of the story.")),
		mcp.WithString("session_id",
			mcp.Description("Session to bind the new project to."),
		),
	)
}

// Handle processes the plotline_project_create tool call.
func (t *ProjectCreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := t.store.CreateProject(ctx, project.CreateProjectParams{
		Name:     req.GetString("name", ""),
		Genre:    req.GetString("genre", ""),
		Theme:    req.GetString("theme", ""),
		Concept:  req.GetString("concept", ""),
		Overview: req.GetString("overview", ""),
	})
	if err != nil {
		if errors.Is(err, project.ErrInvalid) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return nil, fmt.Errorf("creating project: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Created project **%s** (`%s`).\n", p.Name, p.ID)
	if sessionID := strings.TrimSpace(req.GetString("session_id", "")); sessionID != "" {
		t.eng.Bind(sessionID, p.ID)
		fmt.Fprintf(&b, "Session `%s` now works on it.\n", sessionID)
	}
	return mcp.NewToolResultText(b.String()), nil
}
