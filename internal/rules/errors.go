package rules

import (
	"fmt"
	"strings"
)

// Issue is one problem found while validating a rule set.
type Issue struct {
	Index   int    `json:"index"`
	Feature string `json:"feature,omitempty"`
	Topic   Topic  `json:"topic,omitempty"`
	Field   string `json:"field"`
	Msg     string `json:"message"`
	Source  string `json:"source,omitempty"`
}

func (i Issue) String() string {
	loc := fmt.Sprintf("rule #%d", i.Index)
	if i.Feature != "" {
		loc += fmt.Sprintf(" (%s/%s)", i.Feature, i.Topic)
	}
	if i.Source != "" {
		loc = i.Source + ": " + loc
	}
	return fmt.Sprintf("%s %s: %s", loc, i.Field, i.Msg)
}

// ValidationError lists every issue found in a rejected rule set.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.String()
	}
	noun := "issues"
	if len(e.Issues) == 1 {
		noun = "issue"
	}
	return fmt.Sprintf("rules: rule set rejected, %d %s: %s", len(e.Issues), noun, strings.Join(parts, "; "))
}
