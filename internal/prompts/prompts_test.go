package prompts

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func promptText(t *testing.T, args map[string]string) string {
	t.Helper()
	req := mcp.GetPromptRequest{}
	req.Params.Arguments = args
	result, err := NewSuggestPrompt().Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(result.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(result.Messages))
	}
	tc, ok := result.Messages[0].Content.(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", result.Messages[0].Content)
	}
	return tc.Text
}

func TestSuggestPrompt_Defaults(t *testing.T) {
	text := promptText(t, nil)
	if !strings.Contains(text, `session "default"`) {
		t.Errorf("expected default session in:\n%s", text)
	}
	if !strings.Contains(text, "plotline_suggest") || !strings.Contains(text, "plotline_confirm") {
		t.Error("prompt should name both tools")
	}
	if strings.Contains(text, "project_id:") {
		t.Error("no project hint expected without project_id")
	}
}

func TestSuggestPrompt_Arguments(t *testing.T) {
	text := promptText(t, map[string]string{
		"session_id": "s7",
		"message":    "add a rival for Aria",
		"project_id": "p1",
	})
	for _, want := range []string{`session "s7"`, "add a rival for Aria", `project_id: "p1"`} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in:\n%s", want, text)
		}
	}
}

func TestSuggestPrompt_Definition(t *testing.T) {
	def := NewSuggestPrompt().Definition()
	if def.Name != "plotline-suggest" {
		t.Errorf("name = %s", def.Name)
	}
	if len(def.Arguments) != 3 {
		t.Errorf("arguments = %d, want 3", len(def.Arguments))
	}
}
