// Package prompts implements MCP prompts: user-triggered workflows that
// tell the assistant which plotline tools to call and in what order.
package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// SuggestPrompt handles the plotline-suggest MCP prompt.
// It walks the AI through one suggest/confirm round for the user's message.
type SuggestPrompt struct{}

func NewSuggestPrompt() *SuggestPrompt {
	return &SuggestPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *SuggestPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("plotline-suggest",
		mcp.WithPromptDescription(
			"Ask what to do next in your story. The assistant classifies your "+
				"message, fetches matching suggestions and confirms the one you pick.",
		),
		mcp.WithArgument("session_id",
			mcp.ArgumentDescription("Conversation session id. Default: default"),
		),
		mcp.WithArgument("message",
			mcp.ArgumentDescription("What you want to work on"),
		),
		mcp.WithArgument("project_id",
			mcp.ArgumentDescription("Project to work on, if not bound to the session yet"),
		),
	)
}

// Handle processes the plotline-suggest prompt request.
func (p *SuggestPrompt) Handle(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	args := req.Params.Arguments
	session := strings.TrimSpace(args["session_id"])
	if session == "" {
		session = "default"
	}
	message := strings.TrimSpace(args["message"])
	if message == "" {
		message = "What can I do next with my story?"
	}

	project := ""
	if id := strings.TrimSpace(args["project_id"]); id != "" {
		project = fmt.Sprintf("Pass `project_id: %q` on the first call.\n", id)
	}

	text := fmt.Sprintf(`The user said: %q

Help them with plotline, session %q.
%s
1. Pick the topics the message is about: initial, story, faction, character, relationship, act, scene, line.
2. Detect intents (e.g. create_character, rename_character, create_scene) with a confidence between 0 and 1.
3. Extract parameters the message names, such as a character name, into a JSON object.
4. Call `+"`plotline_suggest`"+` with the session id, topics, intents, mentions, params and message.
5. Show the suggestions as a short numbered list using their labels.
6. When the user picks one, call `+"`plotline_confirm`"+` with its id. Suggestions marked for review need an explicit yes first.
7. If a confirmation says the suggestion expired, suggest again instead of retrying.
`, message, session, project)

	return &mcp.GetPromptResult{
		Description: "Suggest next steps for the story",
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.NewTextContent(text),
			},
		},
	}, nil
}
