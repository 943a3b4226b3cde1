// Package engine is the entry point conversation surfaces talk to. It
// remembers, per session, which project and entities the user is working
// on, turns a conversation turn into offered suggestions and carries the
// consequences of a confirmed suggestion back into the session.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/HendryAvila/plotline/internal/dispatch"
	"github.com/HendryAvila/plotline/internal/logging"
	"github.com/HendryAvila/plotline/internal/project"
	"github.com/HendryAvila/plotline/internal/rules"
	"github.com/HendryAvila/plotline/internal/selector"
	"github.com/HendryAvila/plotline/internal/state"
)

// Keys an operation may set in its outcome data.
const (
	DataProjectID  = "project_id"
	DataFocus      = "focus"
	DataNextTopics = "next_topics"
)

// SnapshotSource builds the read-only view predicates run against.
type SnapshotSource interface {
	Snapshot(ctx context.Context, projectID string, focus map[string]string) (*state.Snapshot, error)
}

// Publisher announces suggestion events to frontends.
type Publisher interface {
	SuggestionsChanged(ctx context.Context, session string, payload any) error
	DispatchCompleted(ctx context.Context, session string, payload any) error
}

// Config wires an Engine. Registry, Selector and Router are required.
type Config struct {
	Registry  *rules.Registry
	Selector  *selector.Selector
	Router    *dispatch.Router
	Snapshots SnapshotSource
	Publisher Publisher
	Logger    *logging.Logger
	// DefaultMax caps Suggest when called with max <= 0; 0 leaves it to the selector.
	DefaultMax int
}

// Confirmation is the result of confirming a suggestion, plus the
// suggestions offered next when the operation asked for a follow-up.
type Confirmation struct {
	dispatch.Result
	Next []selector.Instance `json:"next,omitempty"`
}

// Session is what the engine remembers about one conversation.
type Session struct {
	ID      string            `json:"id"`
	Project string            `json:"project,omitempty"`
	Turn    uint64            `json:"turn"`
	Focus   map[string]string `json:"focus,omitempty"`
	Topics  []rules.Topic     `json:"topics,omitempty"`
}

type session struct {
	mu sync.Mutex // serialises turns

	project  string
	focus    map[string]string
	last     *state.Conversation
	topics   []rules.Topic
	max      int
	features []string
}

type Engine struct {
	reg       *rules.Registry
	sel       *selector.Selector
	router    *dispatch.Router
	snapshots SnapshotSource
	pub       Publisher
	log       *logging.Logger
	max       int

	mu       sync.Mutex
	sessions map[string]*session

	pendMu  sync.Mutex
	pending map[string]bool
	wake    chan struct{}
}

func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil || cfg.Selector == nil || cfg.Router == nil {
		return nil, errors.New("engine: registry, selector and router are required")
	}
	e := &Engine{
		reg:       cfg.Registry,
		sel:       cfg.Selector,
		router:    cfg.Router,
		snapshots: cfg.Snapshots,
		pub:       cfg.Publisher,
		log:       logging.OrNop(cfg.Logger).Named("engine"),
		max:       cfg.DefaultMax,
		sessions:  map[string]*session{},
		pending:   map[string]bool{},
		wake:      make(chan struct{}, 1),
	}
	if e.pub != nil {
		e.router.Observe(func(ctx context.Context, sessionID string, res dispatch.Result) {
			if err := e.pub.DispatchCompleted(ctx, sessionID, res); err != nil {
				e.log.Warn("announcing dispatch failed", "session", sessionID, "error", err)
			}
		})
	}
	return e, nil
}

func (e *Engine) session(id string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		s = &session{focus: map[string]string{}}
		e.sessions[id] = s
	}
	return s
}

// Suggest evaluates the rules of topics (all topics when empty) for one
// conversation turn and offers the result. A zero conv.Turn means the
// session's next turn. Project and focus missing from conv are taken from
// what the session last worked on.
func (e *Engine) Suggest(ctx context.Context, conv state.Conversation, topics []rules.Topic, max int) ([]selector.Instance, error) {
	out, _, err := e.suggest(ctx, conv, topics, max)
	return out, err
}

func (e *Engine) suggest(ctx context.Context, conv state.Conversation, topics []rules.Topic, max int) ([]selector.Instance, bool, error) {
	if conv.SessionID == "" {
		return nil, false, errors.New("engine: conversation has no session id")
	}
	if max <= 0 {
		max = e.max
	}
	s := e.session(conv.SessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.ProjectID == "" {
		conv.ProjectID = s.project
	} else if conv.ProjectID != s.project {
		s.project = conv.ProjectID
		s.focus = map[string]string{}
	}
	focus := make(map[string]string, len(s.focus)+len(conv.Focus))
	for k, v := range s.focus {
		focus[k] = v
	}
	for k, v := range conv.Focus {
		if v == "" {
			delete(focus, k)
			continue
		}
		focus[k] = v
	}
	conv.Focus = focus
	s.focus = copyFocus(focus)

	if conv.Turn == 0 {
		conv.Turn = e.router.Turn(conv.SessionID) + 1
	}

	snap, err := e.snapshot(ctx, conv.ProjectID, conv.Focus)
	if err != nil {
		return nil, false, err
	}
	instances, err := e.sel.Select(ctx, snap, conv, topics, max)
	if err != nil {
		return nil, false, err
	}
	if err := e.router.Offer(conv.SessionID, conv.Turn, instances); err != nil {
		return nil, false, err
	}

	last := conv
	last.Turn, last.ProjectID, last.Focus = 0, "", nil
	s.last = &last
	s.topics = append([]rules.Topic(nil), topics...)
	s.max = max
	features := make([]string, len(instances))
	for i, inst := range instances {
		features[i] = inst.Feature
	}
	changed := !slices.Equal(features, s.features)
	s.features = features

	e.log.Debug("turn offered", "session", conv.SessionID, "turn", conv.Turn, "project", conv.ProjectID, "offered", len(instances))
	return instances, changed, nil
}

// snapshot returns an empty view when there is no project to read.
func (e *Engine) snapshot(ctx context.Context, projectID string, focus map[string]string) (*state.Snapshot, error) {
	if projectID == "" || e.snapshots == nil {
		return state.Empty(), nil
	}
	snap, err := e.snapshots.Snapshot(ctx, projectID, focus)
	if errors.Is(err, project.ErrNotFound) {
		e.log.Warn("session project not found, evaluating without it", "project", projectID)
		return state.Empty(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("engine: reading project %s: %w", projectID, err)
	}
	return snap, nil
}

// Confirm runs an offered suggestion. On success the session adopts any
// project or focus the operation reports, and when the operation names
// follow-up topics those are suggested in the next turn.
func (e *Engine) Confirm(ctx context.Context, sessionID, id string, params map[string]any) (Confirmation, error) {
	res, err := e.router.Dispatch(ctx, sessionID, id, params)
	c := Confirmation{Result: res}
	if err != nil || res.State != dispatch.StateSucceeded {
		return c, err
	}

	s := e.session(sessionID)
	s.mu.Lock()
	if p, ok := res.Data[DataProjectID].(string); ok && p != "" && p != s.project {
		s.project = p
		s.focus = map[string]string{}
	}
	if f, ok := res.Data[DataFocus].(map[string]string); ok {
		for k, v := range f {
			s.focus[k] = v
		}
	}
	var conv state.Conversation
	if s.last != nil {
		conv = *s.last
	}
	s.mu.Unlock()

	next, ok := res.Data[DataNextTopics].([]any)
	if !ok || len(next) == 0 {
		return c, nil
	}
	topics := make([]rules.Topic, 0, len(next))
	for _, t := range next {
		if str, ok := t.(string); ok {
			topics = append(topics, rules.NormalizeTopic(str))
		}
	}
	conv.SessionID = sessionID
	c.Next, err = e.Suggest(ctx, conv, topics, 0)
	if err != nil {
		e.log.Warn("follow-up suggestions failed", "session", sessionID, "error", err)
		return c, nil
	}
	return c, nil
}

func (e *Engine) Cancel(sessionID, id string) (dispatch.Offer, error) {
	return e.router.Cancel(sessionID, id)
}

func (e *Engine) Status(sessionID, id string) (dispatch.Offer, error) {
	return e.router.Status(sessionID, id)
}

// Offers lists the session's offered instances and their states.
func (e *Engine) Offers(sessionID string) []dispatch.Offer {
	return e.router.Offers(sessionID)
}

// Bind makes project the session's working project, clearing its focus
// when it changes.
func (e *Engine) Bind(sessionID, projectID string) {
	s := e.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.project != projectID {
		s.project = projectID
		s.focus = map[string]string{}
	}
}

// Session reports what the engine remembers about sessionID.
func (e *Engine) Session(sessionID string) Session {
	s := e.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return Session{
		ID:      sessionID,
		Project: s.project,
		Turn:    e.router.Turn(sessionID),
		Focus:   copyFocus(s.focus),
		Topics:  append([]rules.Topic(nil), s.topics...),
	}
}

// Forget drops everything held for the session.
func (e *Engine) Forget(sessionID string) {
	e.mu.Lock()
	delete(e.sessions, sessionID)
	e.mu.Unlock()
	e.router.Forget(sessionID)
}

// Rules returns the active rule set.
func (e *Engine) Rules() *rules.Set { return e.reg.Current() }

// Reload validates and activates rs. Suggestions offered from the previous
// set are expired. On error the previous set stays active.
func (e *Engine) Reload(rs []rules.Rule) (*rules.Set, error) {
	set, err := e.reg.Load(rs)
	if err != nil {
		return nil, err
	}
	n := e.router.ExpireGeneration(set.Generation())
	e.log.Info("rules reloaded", "generation", set.Generation(), "rules", set.Len(), "expired", n)
	return set, nil
}

// ReloadPath reads a rule file or directory and reloads from it. An empty
// path reloads the built-in catalogue.
func (e *Engine) ReloadPath(path string) (*rules.Set, error) {
	var (
		rs  []rules.Rule
		err error
	)
	if path == "" {
		rs, err = rules.Default()
	} else {
		rs, err = rules.Load(path)
	}
	if err != nil {
		return nil, err
	}
	return e.Reload(rs)
}

func copyFocus(f map[string]string) map[string]string {
	out := make(map[string]string, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
