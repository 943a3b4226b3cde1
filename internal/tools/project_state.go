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

// ProjectStateTool handles the plotline_project_state MCP tool.
// It shows the data tree rule conditions are evaluated against.
type ProjectStateTool struct {
	store *project.Store
	eng   *engine.Engine
}

func NewProjectStateTool(store *project.Store, eng *engine.Engine) *ProjectStateTool {
	return &ProjectStateTool{store: store, eng: eng}
}

// Definition returns the MCP tool definition for registration.
func (t *ProjectStateTool) Definition() mcp.Tool {
	return mcp.NewTool("plotline_project_state",
		mcp.WithDescription(
			"Show the project state that suggestion rules see: counts, story fields "+
				"and the focused entities. Without arguments, lists every project.",
		),
		mcp.WithString("project_id",
			mcp.Description("Project to show. Defaults to the session's project."),
		),
		mcp.WithString("session_id",
			mcp.Description("Session whose project and focus to use."),
		),
	)
}

// Handle processes the plotline_project_state tool call.
func (t *ProjectStateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := strings.TrimSpace(req.GetString("project_id", ""))
	var focus map[string]string
	if sessionID := strings.TrimSpace(req.GetString("session_id", "")); sessionID != "" {
		sess := t.eng.Session(sessionID)
		if projectID == "" {
			projectID = sess.Project
		}
		if projectID == sess.Project {
			focus = sess.Focus
		}
	}

	if projectID == "" {
		return t.list(ctx)
	}

	snap, err := t.store.Snapshot(ctx, projectID, focus)
	if err != nil {
		if errors.Is(err, project.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("Project %q not found.", projectID)), nil
		}
		return nil, fmt.Errorf("reading project %s: %w", projectID, err)
	}

	block, err := jsonBlock(snap.Values)
	if err != nil {
		return nil, fmt.Errorf("encoding project state: %w", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("## Project %s (revision %d)\n\n%s", snap.Project, snap.Revision, block)), nil
}

func (t *ProjectStateTool) list(ctx context.Context) (*mcp.CallToolResult, error) {
	projects, err := t.store.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	if len(projects) == 0 {
		return mcp.NewToolResultText("No projects yet. Create one with `plotline_project_create`."), nil
	}
	var b strings.Builder
	b.WriteString("| Project | Genre | Id |\n")
	b.WriteString("|---------|-------|----|\n")
	for _, p := range projects {
		fmt.Fprintf(&b, "| %s | %s | `%s` |\n", p.Name, orDash(p.Genre), p.ID)
	}
	return mcp.NewToolResultText(b.String()), nil
}
