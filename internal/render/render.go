// Package render fills suggestion templates such as
// "Please create character with parameters: {{name}}" from the parameter
// and snapshot layers of the current turn.
package render

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/HendryAvila/plotline/internal/state"
)

// Policy decides what an unresolved optional placeholder becomes.
type Policy string

const (
	PolicyOmit   Policy = "omit"
	PolicyMarker Policy = "marker"

	DefaultMarker = "unspecified"
)

var (
	placeholderRe = regexp.MustCompile(`\{\{([^{}]*)\}\}`)
	nameRe        = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)*$`)
	spacesRe      = regexp.MustCompile(`[ \t]{2,}`)
	punctRe       = regexp.MustCompile(`[ \t]+([,.;:!?)])`)
	openParenRe   = regexp.MustCompile(`\([ \t]+`)
)

// Error is returned when a required placeholder cannot be resolved.
type Error struct {
	Template string
	Missing  []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("render: required placeholder(s) unresolved: %s", strings.Join(e.Missing, ", "))
}

// Result is a rendered template.
type Result struct {
	Text string
	// Params maps each resolved placeholder to its value.
	Params map[string]any
	// Missing lists unresolved optional placeholders, sorted.
	Missing []string
}

type Renderer struct {
	policy Policy
	marker string
}

// New returns a renderer. An unknown policy falls back to omit and an empty
// marker to DefaultMarker.
func New(policy Policy, marker string) *Renderer {
	if policy != PolicyMarker {
		policy = PolicyOmit
	}
	if strings.TrimSpace(marker) == "" {
		marker = DefaultMarker
	}
	return &Renderer{policy: policy, marker: marker}
}

func (r *Renderer) Policy() Policy { return r.policy }

// Render substitutes every placeholder in tmpl. No placeholder syntax
// survives in the output: malformed placeholders are treated as
// unresolved optional ones.
func (r *Renderer) Render(tmpl string, required []string, res state.Resolver) (Result, error) {
	out := Result{Params: map[string]any{}}
	missing := map[string]bool{}

	// Resolved values are parked behind sentinels so the omit cleanup only
	// ever touches template text.
	var values []string
	text := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := strings.TrimSpace(m[2 : len(m)-2])
		if nameRe.MatchString(name) && res != nil {
			if v, ok := res.Lookup(name); ok && state.Present(v) {
				out.Params[name] = v
				values = append(values, sentinel(len(values)), inert(Format(v)))
				return values[len(values)-2]
			}
		}
		missing[name] = true
		if r.policy == PolicyMarker {
			return r.marker
		}
		return ""
	})

	var unresolved []string
	for _, name := range required {
		if missing[strings.TrimSpace(name)] {
			unresolved = append(unresolved, strings.TrimSpace(name))
		}
	}
	if len(unresolved) > 0 {
		sort.Strings(unresolved)
		return Result{}, &Error{Template: tmpl, Missing: unresolved}
	}

	if r.policy == PolicyOmit && len(missing) > 0 {
		text = tidy(text)
	}
	out.Text = strings.NewReplacer(values...).Replace(text)
	for name := range missing {
		out.Missing = append(out.Missing, name)
	}
	sort.Strings(out.Missing)
	return out, nil
}

// Placeholders lists the placeholder names in tmpl in order of first
// appearance.
func Placeholders(tmpl string) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		name := strings.TrimSpace(m[1])
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// ValidName reports whether name is a usable placeholder path.
func ValidName(name string) bool { return nameRe.MatchString(name) }

// Format prints a resolved value the way it appears in suggestion text.
func Format(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case fmt.Stringer:
		return x.String()
	case map[string]any:
		parts := make([]string, 0, len(x))
		for _, k := range state.SortedKeys(x) {
			parts = append(parts, k+": "+Format(x[k]))
		}
		return strings.Join(parts, ", ")
	}
	if items, ok := state.AsList(v); ok {
		parts := make([]string, 0, len(items))
		for _, it := range items {
			parts = append(parts, Format(it))
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(v)
}

func sentinel(i int) string { return "\x00" + strconv.Itoa(i) + "\x00" }

var braces = strings.NewReplacer("{{", "{ {", "}}", "} }")

// inert breaks up brace pairs in a value so it cannot read as a placeholder.
func inert(s string) string {
	for strings.Contains(s, "{{") || strings.Contains(s, "}}") {
		s = braces.Replace(s)
	}
	return s
}

func tidy(s string) string {
	s = spacesRe.ReplaceAllString(s, " ")
	s = punctRe.ReplaceAllString(s, "$1")
	s = openParenRe.ReplaceAllString(s, "(")
	s = strings.ReplaceAll(s, "()", "")
	return strings.TrimSpace(spacesRe.ReplaceAllString(s, " "))
}
