// Package rules holds the suggestion rule records, validates rule sets and
// publishes the active set through a Registry that is swapped atomically on
// reload.
package rules

import (
	"strings"

	"github.com/HendryAvila/plotline/internal/predicate"
)

// Topic classifies a rule: character, story, dialogue, scene, plot, theme,
// faction, initial and so on.
type Topic string

// Known topics used by the built-in catalogue. Any other topic is accepted.
const (
	TopicCharacter Topic = "character"
	TopicFaction   Topic = "faction"
	TopicStory     Topic = "story"
	TopicTheme     Topic = "theme"
	TopicPlot      Topic = "plot"
	TopicScene     Topic = "scene"
	TopicDialogue  Topic = "dialogue"
	TopicInitial   Topic = "initial"
)

// NormalizeTopic trims and lower-cases a topic.
func NormalizeTopic(s string) Topic {
	return Topic(strings.ToLower(strings.TrimSpace(s)))
}

// ParseTopics splits a comma-separated list, dropping blanks.
func ParseTopics(s string) []Topic {
	var out []Topic
	for _, part := range strings.Split(s, ",") {
		if t := NormalizeTopic(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Rule is one suggestion rule. It is never mutated after loading.
type Rule struct {
	Feature      string          `yaml:"feature" json:"feature"`
	UseCase      string          `yaml:"use_case,omitempty" json:"use_case,omitempty"`
	Initiator    string          `yaml:"initiator,omitempty" json:"initiator,omitempty"`
	When         *predicate.Spec `yaml:"when,omitempty" json:"when,omitempty"`
	Label        string          `yaml:"label" json:"label"`
	Text         string          `yaml:"text" json:"text"`
	Required     []string        `yaml:"required,omitempty" json:"required,omitempty"`
	Params       map[string]any  `yaml:"params,omitempty" json:"params,omitempty"`
	FEOperation  string          `yaml:"fe_operation,omitempty" json:"fe_operation,omitempty"`
	BEOperation  string          `yaml:"be_operation,omitempty" json:"be_operation,omitempty"`
	FENavigation string          `yaml:"fe_navigation,omitempty" json:"fe_navigation,omitempty"`
	Topic        Topic           `yaml:"topic" json:"topic"`
	Priority     int             `yaml:"priority,omitempty" json:"priority,omitempty"`
	Review       bool            `yaml:"review,omitempty" json:"review,omitempty"`
}

// Key is the identity of a rule within a set.
func (r Rule) Key() string {
	return strings.ToLower(strings.TrimSpace(r.Feature)) + "/" + string(NormalizeTopic(string(r.Topic)))
}

// FeatureKey is the case-insensitive feature name used for de-duplication.
func FeatureKey(feature string) string {
	return strings.ToLower(strings.TrimSpace(feature))
}

// OperationSet reports which backend operation names can be dispatched.
type OperationSet interface {
	Has(name string) bool
}

// NameSet is a fixed OperationSet.
type NameSet map[string]struct{}

func Names(names ...string) NameSet {
	s := make(NameSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s NameSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}
