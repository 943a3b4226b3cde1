// Package resources exposes read-only plotline data to the MCP host under
// plotline:// URIs.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/plotline/internal/engine"
	"github.com/HendryAvila/plotline/internal/project"
	"github.com/HendryAvila/plotline/internal/rules"
)

const (
	CatalogURI  = "plotline://rules/catalog"
	ProjectsURI = "plotline://projects"
)

// Handler manages plotline resource endpoints.
type Handler struct {
	eng   *engine.Engine
	store *project.Store
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(eng *engine.Engine, store *project.Store) *Handler {
	return &Handler{eng: eng, store: store}
}

// CatalogResource returns the MCP resource definition for the active rules.
func (h *Handler) CatalogResource() mcp.Resource {
	return mcp.NewResource(
		CatalogURI,
		"Suggestion Rules",
		mcp.WithResourceDescription("Active suggestion rules with their conditions, operations and navigation targets"),
		mcp.WithMIMEType("application/json"),
	)
}

type catalog struct {
	Generation uint64          `json:"generation"`
	LoadedAt   string          `json:"loaded_at"`
	Topics     []rules.Topic   `json:"topics"`
	Rules      []rules.Summary `json:"rules"`
}

// HandleCatalog returns the active rule set as JSON.
func (h *Handler) HandleCatalog(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	set := h.eng.Rules()
	return jsonResource(req.Params.URI, catalog{
		Generation: set.Generation(),
		LoadedAt:   set.LoadedAt().UTC().Format("2006-01-02T15:04:05Z"),
		Topics:     set.Topics(),
		Rules:      set.Summaries(),
	})
}

// ProjectsResource returns the MCP resource definition for the project list.
func (h *Handler) ProjectsResource() mcp.Resource {
	return mcp.NewResource(
		ProjectsURI,
		"Story Projects",
		mcp.WithResourceDescription("Every story project with its description and revision"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleProjects returns the project list as JSON.
func (h *Handler) HandleProjects(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	projects, err := h.store.ListProjects(ctx)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	if projects == nil {
		projects = []project.Project{}
	}
	return jsonResource(req.Params.URI, projects)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
