// Package selector turns the active rule set into the ranked, rendered
// suggestions offered for one conversation turn.
package selector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/plotline/internal/logging"
	"github.com/HendryAvila/plotline/internal/metrics"
	"github.com/HendryAvila/plotline/internal/predicate"
	"github.com/HendryAvila/plotline/internal/render"
	"github.com/HendryAvila/plotline/internal/rules"
	"github.com/HendryAvila/plotline/internal/state"
)

// instanceNamespace scopes the name-based UUIDs given to instances.
var instanceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("plotline/suggestion-instance"))

// Instance is one rendered suggestion offered in one turn.
type Instance struct {
	ID           string            `json:"id"`
	SessionID    string            `json:"session_id"`
	Turn         uint64            `json:"turn"`
	ProjectID    string            `json:"project_id,omitempty"`
	Feature      string            `json:"feature"`
	Topic        rules.Topic       `json:"topic"`
	Label        string            `json:"label"`
	Text         string            `json:"text"`
	Params       map[string]any    `json:"params,omitempty"`
	Missing      []string          `json:"missing,omitempty"`
	Score        float64           `json:"score"`
	Priority     int               `json:"priority"`
	Review       bool              `json:"review,omitempty"`
	FEOperation  string            `json:"fe_operation,omitempty"`
	BEOperation  string            `json:"be_operation,omitempty"`
	FENavigation string            `json:"fe_navigation,omitempty"`
	Focus        map[string]string `json:"focus,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Generation   uint64            `json:"generation"`
	Revision     uint64            `json:"revision"`
	Index        int               `json:"index"`
}

// InstanceID derives the identifier of an instance, so the same rule
// evaluated twice in the same turn against the same data gets the same ID.
func InstanceID(session string, turn, generation, revision uint64, topic rules.Topic, feature string) string {
	name := fmt.Sprintf("%s|%d|%d|%d|%s|%s", session, turn, generation, revision, topic, rules.FeatureKey(feature))
	return uuid.NewSHA1(instanceNamespace, []byte(name)).String()
}

// Options tunes a Selector.
type Options struct {
	// Workers bounds parallel predicate evaluation; <= 0 means 8.
	Workers int
	// DefaultMax caps results when Select is called with max <= 0; <= 0 means 5.
	DefaultMax int
}

type Selector struct {
	reg      *rules.Registry
	renderer *render.Renderer
	log      *logging.Logger
	metrics  *metrics.Metrics
	workers  int
	max      int
}

func New(reg *rules.Registry, renderer *render.Renderer, log *logging.Logger, m *metrics.Metrics, opts Options) *Selector {
	if renderer == nil {
		renderer = render.New(render.PolicyOmit, "")
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.DefaultMax <= 0 {
		opts.DefaultMax = 5
	}
	return &Selector{
		reg:      reg,
		renderer: renderer,
		log:      logging.OrNop(log).Named("selector"),
		metrics:  m,
		workers:  opts.Workers,
		max:      opts.DefaultMax,
	}
}

// outcome is the per-rule result, stored by rule position so parallel
// evaluation cannot reorder anything.
type outcome struct {
	inst *Instance
	skip string
}

// Select evaluates the rules of the given topics (all when empty) and
// returns at most max instances ordered by priority, then score, then load
// order, with one instance per feature.
func (s *Selector) Select(ctx context.Context, snap *state.Snapshot, conv state.Conversation, topics []rules.Topic, max int) ([]Instance, error) {
	if snap == nil {
		snap = state.Empty()
	}
	if max <= 0 {
		max = s.max
	}
	set := s.reg.Current()
	entries := set.ForTopics(topics...)
	outcomes := make([]outcome, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, e := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = s.evaluate(e, set.Generation(), snap, conv)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("selector: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("selector: %w", err)
	}

	candidates := make([]Instance, 0, len(outcomes))
	for _, o := range outcomes {
		if o.inst == nil {
			s.metrics.Skipped(o.skip)
			continue
		}
		candidates = append(candidates, *o.inst)
	}
	Rank(candidates)

	out := make([]Instance, 0, max)
	seen := map[string]bool{}
	for _, inst := range candidates {
		key := rules.FeatureKey(inst.Feature)
		if seen[key] {
			s.metrics.Skipped(metrics.SkipDuplicate)
			continue
		}
		seen[key] = true
		if len(out) == max {
			s.metrics.Skipped(metrics.SkipCapped)
			continue
		}
		out = append(out, inst)
	}
	for _, inst := range out {
		s.metrics.Offered(string(inst.Topic), 1)
	}
	s.log.Debug("suggestions selected",
		"session", conv.SessionID, "turn", conv.Turn, "rules", len(entries),
		"candidates", len(candidates), "offered", len(out))
	return out, nil
}

func (s *Selector) evaluate(e *rules.Entry, generation uint64, snap *state.Snapshot, conv state.Conversation) outcome {
	r := e.Rule
	if e.Err != nil {
		s.log.Debug("skipping rule with invalid predicate", "feature", r.Feature, "topic", r.Topic, "error", e.Err)
		return outcome{skip: metrics.SkipEvalError}
	}
	verdict, err := predicate.Evaluate(e.Predicate, snap, conv)
	if err != nil {
		s.log.Warn("predicate evaluation failed, rule skipped", "feature", r.Feature, "topic", r.Topic, "error", err)
		return outcome{skip: metrics.SkipEvalError}
	}
	if !verdict.Applicable {
		return outcome{skip: metrics.SkipNotApplicable}
	}

	res := state.Layers{state.Params(conv.Params), state.Params(r.Params), snap}
	text, err := s.renderer.Render(r.Text, r.Required, res)
	if err == nil {
		var label render.Result
		label, err = s.renderer.Render(r.Label, r.Required, res)
		if err == nil {
			text.Params = mergeParams(text.Params, label.Params)
			text.Missing = mergeMissing(text.Missing, label.Missing)
			return outcome{inst: s.instance(e, generation, snap, conv, verdict, label.Text, text)}
		}
	}
	var rerr *render.Error
	if errors.As(err, &rerr) {
		s.log.Debug("suggestion suppressed, required placeholder missing",
			"feature", r.Feature, "missing", strings.Join(rerr.Missing, ","))
	} else {
		s.log.Warn("render failed", "feature", r.Feature, "error", err)
	}
	return outcome{skip: metrics.SkipRenderError}
}

func (s *Selector) instance(e *rules.Entry, generation uint64, snap *state.Snapshot, conv state.Conversation, v predicate.Verdict, label string, text render.Result) *Instance {
	r := e.Rule
	params := make(map[string]any, len(r.Params)+len(conv.Params)+len(text.Params))
	for k, v := range r.Params {
		params[k] = v
	}
	for k, v := range conv.Params {
		if v != nil {
			params[k] = v
		}
	}
	for k, v := range text.Params {
		params[k] = v
	}
	var focus map[string]string
	if len(conv.Focus) > 0 {
		focus = make(map[string]string, len(conv.Focus))
		for k, v := range conv.Focus {
			focus[k] = v
		}
	}
	return &Instance{
		ID:           InstanceID(conv.SessionID, conv.Turn, generation, snap.Revision, r.Topic, r.Feature),
		SessionID:    conv.SessionID,
		Turn:         conv.Turn,
		ProjectID:    snap.Project,
		Feature:      r.Feature,
		Topic:        r.Topic,
		Label:        label,
		Text:         text.Text,
		Params:       params,
		Missing:      text.Missing,
		Score:        v.Score,
		Priority:     r.Priority,
		Review:       r.Review,
		FEOperation:  r.FEOperation,
		BEOperation:  r.BEOperation,
		FENavigation: r.FENavigation,
		Focus:        focus,
		Reason:       v.Reason,
		Generation:   generation,
		Revision:     snap.Revision,
		Index:        e.Index,
	}
}

// Rank orders instances by priority desc, score desc, then load order.
func Rank(in []Instance) {
	sort.SliceStable(in, func(i, j int) bool {
		a, b := in[i], in[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Index < b.Index
	})
}

func mergeParams(a, b map[string]any) map[string]any {
	for k, v := range b {
		if _, ok := a[k]; !ok {
			a[k] = v
		}
	}
	return a
}

func mergeMissing(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, m := range a {
		seen[m] = true
	}
	for _, m := range b {
		if !seen[m] {
			seen[m] = true
			a = append(a, m)
		}
	}
	sort.Strings(a)
	return a
}
