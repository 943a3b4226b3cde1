// Package tools implements the MCP tools a chat host uses to drive the
// suggestion engine.
//
// Each tool is a struct holding its dependencies, with Definition()
// returning the mcp.Tool schema and Handle() serving calls. Problems the
// user can fix come back as tool errors with readable text; Go errors are
// reserved for infrastructure faults.
package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/plotline/internal/rules"
	"github.com/HendryAvila/plotline/internal/selector"
)

// intArg extracts an integer argument (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// listArg accepts either a JSON array of strings or a comma-separated string.
func listArg(req mcp.CallToolRequest, key string) []string {
	var out []string
	switch v := req.GetArguments()[key].(type) {
	case []any:
		for _, item := range v {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, part := range strings.Split(v, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// objectArg accepts either a JSON object or a string holding one.
func objectArg(req mcp.CallToolRequest, key string) (map[string]any, error) {
	switch v := req.GetArguments()[key].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return nil, fmt.Errorf("%s must be a JSON object: %w", key, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a JSON object", key)
	}
}

// focusArg reads {"character": "<id>"} style entity selections.
func focusArg(req mcp.CallToolRequest) (map[string]string, error) {
	obj, err := objectArg(req, "focus")
	if err != nil || obj == nil {
		return nil, err
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		out[k] = fmt.Sprint(v)
	}
	return out, nil
}

// intentsArg reads {"create_character": 0.9} or "create_character:0.9,rename_character".
// An intent without a confidence counts as certain.
func intentsArg(req mcp.CallToolRequest) (map[string]float64, error) {
	switch v := req.GetArguments()["intents"].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		out := make(map[string]float64, len(v))
		for k, c := range v {
			f, ok := c.(float64)
			if !ok {
				return nil, fmt.Errorf("confidence for intent %q must be a number", k)
			}
			out[k] = f
		}
		return out, nil
	case string:
		out := map[string]float64{}
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name, conf, found := strings.Cut(part, ":")
			c := 1.0
			if found {
				f, err := strconv.ParseFloat(strings.TrimSpace(conf), 64)
				if err != nil {
					return nil, fmt.Errorf("confidence for intent %q: %w", name, err)
				}
				c = f
			}
			out[strings.TrimSpace(name)] = c
		}
		return out, nil
	default:
		return nil, fmt.Errorf("intents must be an object or a comma-separated list")
	}
}

func topicsOf(names []string) []rules.Topic {
	out := make([]rules.Topic, 0, len(names))
	for _, n := range names {
		out = append(out, rules.NormalizeTopic(n))
	}
	return out
}

// formatInstances renders offered suggestions as a numbered markdown list.
func formatInstances(b *strings.Builder, instances []selector.Instance) {
	for i, inst := range instances {
		fmt.Fprintf(b, "%d. **%s** (%s)\n", i+1, inst.Label, inst.Topic)
		fmt.Fprintf(b, "   %s\n", inst.Text)
		fmt.Fprintf(b, "   id: `%s`", inst.ID)
		if inst.Review {
			b.WriteString(" · confirm with the user first")
		}
		b.WriteString("\n")
		if len(inst.Missing) > 0 {
			fmt.Fprintf(b, "   missing: %s\n", strings.Join(inst.Missing, ", "))
		}
		if len(inst.Params) > 0 {
			keys := make([]string, 0, len(inst.Params))
			for k := range inst.Params {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			parts := make([]string, len(keys))
			for j, k := range keys {
				parts[j] = fmt.Sprintf("%s=%v", k, inst.Params[k])
			}
			fmt.Fprintf(b, "   params: %s\n", strings.Join(parts, ", "))
		}
	}
}

func jsonBlock(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return "```json\n" + string(data) + "\n```\n", nil
}
