package rules

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HendryAvila/plotline/internal/logging"
	"github.com/HendryAvila/plotline/internal/metrics"
	"github.com/HendryAvila/plotline/internal/predicate"
	"github.com/HendryAvila/plotline/internal/render"
)

// Entry is a loaded rule with its compiled predicate. When the predicate
// failed to compile, Predicate is nil and Err holds the *predicate.Error;
// the selector skips such entries.
type Entry struct {
	Rule      Rule
	Index     int
	Predicate predicate.Predicate
	Err       error
}

// Set is an immutable, validated rule set.
type Set struct {
	generation uint64
	loadedAt   time.Time
	entries    []*Entry
}

func (s *Set) Generation() uint64  { return s.generation }
func (s *Set) LoadedAt() time.Time { return s.loadedAt }
func (s *Set) Len() int            { return len(s.entries) }

// Entries returns all entries in load order.
func (s *Set) Entries() []*Entry {
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Topics returns the topics present in the set, in first-seen order.
func (s *Set) Topics() []Topic {
	var out []Topic
	seen := map[Topic]bool{}
	for _, e := range s.entries {
		if !seen[e.Rule.Topic] {
			seen[e.Rule.Topic] = true
			out = append(out, e.Rule.Topic)
		}
	}
	return out
}

// ForTopics returns the entries whose topic is in topics, in load order.
// No topics means every entry.
func (s *Set) ForTopics(topics ...Topic) []*Entry {
	if len(topics) == 0 {
		return s.Entries()
	}
	want := make(map[Topic]bool, len(topics))
	for _, t := range topics {
		want[NormalizeTopic(string(t))] = true
	}
	var out []*Entry
	for _, e := range s.entries {
		if want[e.Rule.Topic] {
			out = append(out, e)
		}
	}
	return out
}

// Summary is the listing form of an entry.
type Summary struct {
	Feature      string `json:"feature"`
	Topic        Topic  `json:"topic"`
	Label        string `json:"label"`
	Priority     int    `json:"priority,omitempty"`
	BEOperation  string `json:"be_operation,omitempty"`
	FENavigation string `json:"fe_navigation,omitempty"`
	Review       bool   `json:"review,omitempty"`
	Predicate    string `json:"predicate,omitempty"`
	Disabled     string `json:"disabled,omitempty"`
}

// Summaries lists the entries of topics (all when empty) in load order.
func (s *Set) Summaries(topics ...Topic) []Summary {
	entries := s.ForTopics(topics...)
	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		sum := Summary{
			Feature:      e.Rule.Feature,
			Topic:        e.Rule.Topic,
			Label:        e.Rule.Label,
			Priority:     e.Rule.Priority,
			BEOperation:  e.Rule.BEOperation,
			FENavigation: e.Rule.FENavigation,
			Review:       e.Rule.Review,
		}
		if e.Predicate != nil {
			sum.Predicate = e.Predicate.String()
		}
		if e.Err != nil {
			sum.Disabled = e.Err.Error()
		}
		out = append(out, sum)
	}
	return out
}

// Registry publishes the active rule set. Readers call Current and keep
// the *Set they got for the whole evaluation; Load swaps in a new one.
type Registry struct {
	current atomic.Pointer[Set]
	gen     atomic.Uint64
	loadMu  sync.Mutex
	known   OperationSet
	log     *logging.Logger
	metrics *metrics.Metrics
}

// NewRegistry starts with an empty set at generation 0. known is consulted
// for every be_operation; a nil set accepts none.
func NewRegistry(known OperationSet, log *logging.Logger, m *metrics.Metrics) *Registry {
	if known == nil {
		known = NameSet{}
	}
	r := &Registry{known: known, log: logging.OrNop(log).Named("rules"), metrics: m}
	r.current.Store(&Set{loadedAt: time.Now()})
	return r
}

func (r *Registry) Current() *Set      { return r.current.Load() }
func (r *Registry) Generation() uint64 { return r.Current().generation }

// RulesForTopics is a shorthand for Current().ForTopics.
func (r *Registry) RulesForTopics(topics ...Topic) []*Entry {
	return r.Current().ForTopics(topics...)
}

// Load validates rules and, if there are no issues, makes them the active
// set. On failure the previous set stays active and a *ValidationError
// describes every problem.
func (r *Registry) Load(rules []Rule) (*Set, error) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	entries, err := r.build(rules)
	if err != nil {
		r.metrics.Reloaded(false)
		r.log.Warn("rule set rejected", "error", err)
		return nil, err
	}
	set := &Set{
		generation: r.gen.Add(1),
		loadedAt:   time.Now(),
		entries:    entries,
	}
	r.current.Store(set)
	r.metrics.Reloaded(true)
	r.log.Info("rule set loaded", "generation", set.generation, "rules", len(entries))
	return set, nil
}

// Validate checks rules without touching the active set.
func (r *Registry) Validate(rules []Rule) error {
	_, err := r.build(rules)
	return err
}

func (r *Registry) build(rules []Rule) ([]*Entry, error) {
	var issues []Issue
	seen := map[string]int{}
	entries := make([]*Entry, 0, len(rules))

	for i, rule := range rules {
		rule = normalize(rule)
		add := func(field, format string, args ...any) {
			issues = append(issues, Issue{
				Index: i, Feature: rule.Feature, Topic: rule.Topic,
				Field: field, Msg: fmt.Sprintf(format, args...),
			})
		}

		if rule.Feature == "" {
			add("feature", "must not be empty")
		}
		if rule.Topic == "" {
			add("topic", "must not be empty")
		}
		if rule.Feature != "" && rule.Topic != "" {
			if first, dup := seen[rule.Key()]; dup {
				add("feature", "duplicates rule #%d for topic %q", first, rule.Topic)
			} else {
				seen[rule.Key()] = i
			}
		}
		if rule.Label == "" {
			add("label", "must not be empty")
		}
		if rule.Text == "" {
			add("text", "must not be empty")
		}

		placeholders := map[string]bool{}
		for _, name := range append(render.Placeholders(rule.Text), render.Placeholders(rule.Label)...) {
			if !render.ValidName(name) {
				add("text", "invalid placeholder %q", name)
			}
			placeholders[name] = true
		}
		for _, name := range rule.Required {
			if !placeholders[name] {
				add("required", "%q is not a placeholder in text or label", name)
			}
		}
		if rule.BEOperation != "" && !r.known.Has(rule.BEOperation) {
			add("be_operation", "unknown operation %q", rule.BEOperation)
		}

		entry := &Entry{Rule: rule, Index: i}
		p, err := predicate.Compile(rule.When)
		if err != nil {
			entry.Err = err
			r.log.Warn("rule predicate does not compile, rule will be skipped",
				"feature", rule.Feature, "topic", rule.Topic, "error", err)
		} else {
			entry.Predicate = p
		}
		entries = append(entries, entry)
	}

	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return entries, nil
}

func normalize(r Rule) Rule {
	r.Feature = strings.TrimSpace(r.Feature)
	r.Topic = NormalizeTopic(string(r.Topic))
	r.Label = strings.TrimSpace(r.Label)
	r.Text = strings.TrimSpace(r.Text)
	r.BEOperation = strings.TrimSpace(r.BEOperation)
	r.FEOperation = strings.TrimSpace(r.FEOperation)
	r.FENavigation = strings.TrimSpace(r.FENavigation)
	if len(r.Required) > 0 {
		req := make([]string, 0, len(r.Required))
		for _, name := range r.Required {
			if name = strings.TrimSpace(name); name != "" {
				req = append(req, name)
			}
		}
		r.Required = req
	}
	return r
}
