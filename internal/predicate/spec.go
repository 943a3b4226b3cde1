package predicate

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Spec is the declarative form of a predicate as written in rule files.
// Exactly one field must be set per node.
type Spec struct {
	All             []Spec        `yaml:"all,omitempty" json:"all,omitempty"`
	Any             []Spec        `yaml:"any,omitempty" json:"any,omitempty"`
	Not             *Spec         `yaml:"not,omitempty" json:"not,omitempty"`
	Always          *bool         `yaml:"always,omitempty" json:"always,omitempty"`
	Exists          string        `yaml:"exists,omitempty" json:"exists,omitempty"`
	Absent          string        `yaml:"absent,omitempty" json:"absent,omitempty"`
	Count           *CountSpec    `yaml:"count,omitempty" json:"count,omitempty"`
	Some            *MatchSpec    `yaml:"some,omitempty" json:"some,omitempty"`
	None            *MatchSpec    `yaml:"none,omitempty" json:"none,omitempty"`
	Equals          *EqualsSpec   `yaml:"equals,omitempty" json:"equals,omitempty"`
	Intent          *IntentSpec   `yaml:"intent,omitempty" json:"intent,omitempty"`
	Entity          *EntitySpec   `yaml:"entity,omitempty" json:"entity,omitempty"`
	MentionsUnknown *MentionsSpec `yaml:"mentions_unknown,omitempty" json:"mentions_unknown,omitempty"`
}

// CountSpec compares the number of matching items at Path.
type CountSpec struct {
	Path  string         `yaml:"path" json:"path"`
	Where map[string]any `yaml:"where,omitempty" json:"where,omitempty"`
	LT    *int           `yaml:"lt,omitempty" json:"lt,omitempty"`
	LTE   *int           `yaml:"lte,omitempty" json:"lte,omitempty"`
	EQ    *int           `yaml:"eq,omitempty" json:"eq,omitempty"`
	GTE   *int           `yaml:"gte,omitempty" json:"gte,omitempty"`
	GT    *int           `yaml:"gt,omitempty" json:"gt,omitempty"`
}

// MatchSpec selects the items at Path whose fields equal Where.
type MatchSpec struct {
	Path  string         `yaml:"path" json:"path"`
	Where map[string]any `yaml:"where,omitempty" json:"where,omitempty"`
}

type EqualsSpec struct {
	Path  string `yaml:"path" json:"path"`
	Value any    `yaml:"value" json:"value"`
}

// IntentSpec accepts either a bare intent name or a mapping.
type IntentSpec struct {
	Name          string  `yaml:"name" json:"name"`
	MinConfidence float64 `yaml:"min_confidence,omitempty" json:"min_confidence,omitempty"`
}

func (s *IntentSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Name = node.Value
		return nil
	}
	type plain IntentSpec
	return node.Decode((*plain)(s))
}

// EntitySpec accepts either a bare kind or {kind: ...}.
type EntitySpec struct {
	Kind string `yaml:"kind" json:"kind"`
}

func (s *EntitySpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Kind = node.Value
		return nil
	}
	type plain EntitySpec
	return node.Decode((*plain)(s))
}

// MentionsSpec is satisfied when the conversation names something that
// no item at Path carries in Field.
type MentionsSpec struct {
	Path  string `yaml:"path" json:"path"`
	Field string `yaml:"field,omitempty" json:"field,omitempty"`
}

// kinds lists which node kinds are set, in a fixed order.
func (s Spec) kinds() []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(s.All != nil, "all")
	add(s.Any != nil, "any")
	add(s.Not != nil, "not")
	add(s.Always != nil, "always")
	add(s.Exists != "", "exists")
	add(s.Absent != "", "absent")
	add(s.Count != nil, "count")
	add(s.Some != nil, "some")
	add(s.None != nil, "none")
	add(s.Equals != nil, "equals")
	add(s.Intent != nil, "intent")
	add(s.Entity != nil, "entity")
	add(s.MentionsUnknown != nil, "mentions_unknown")
	return out
}

func (c CountSpec) comparator() (string, int, error) {
	type cmp struct {
		op string
		v  *int
	}
	var set []cmp
	for _, c := range []cmp{{"lt", c.LT}, {"lte", c.LTE}, {"eq", c.EQ}, {"gte", c.GTE}, {"gt", c.GT}} {
		if c.v != nil {
			set = append(set, c)
		}
	}
	if len(set) != 1 {
		return "", 0, fmt.Errorf("count needs exactly one of lt, lte, eq, gte, gt (got %d)", len(set))
	}
	return set[0].op, *set[0].v, nil
}
