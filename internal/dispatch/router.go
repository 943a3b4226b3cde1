package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/HendryAvila/plotline/internal/logging"
	"github.com/HendryAvila/plotline/internal/metrics"
	"github.com/HendryAvila/plotline/internal/selector"
)

// --- Collaborators ---

// Invocation is what an operation receives when a suggestion is confirmed.
type Invocation struct {
	Operation string
	Project   string
	Session   string
	Focus     map[string]string
	Params    map[string]any
}

// Outcome is an operation's successful result.
type Outcome struct {
	Message string
	Data    map[string]any
}

// Operation performs one backend action.
type Operation func(ctx context.Context, inv Invocation) (Outcome, error)

// OperationTable resolves be_operation names.
type OperationTable interface {
	Lookup(name string) (Operation, bool)
}

// Navigator delivers fe_navigation targets to the session's frontend.
type Navigator interface {
	Navigate(ctx context.Context, session, target string, data map[string]any) error
}

// RevisionSource reports a project's current revision.
type RevisionSource interface {
	Revision(ctx context.Context, project string) (uint64, error)
}

// GenerationSource reports the active rule set generation.
type GenerationSource interface {
	Generation() uint64
}

// Observer is told about every finished dispatch.
type Observer func(ctx context.Context, session string, res Result)

// --- Records ---

// Offer is the book entry for one offered instance.
type Offer struct {
	Instance  selector.Instance `json:"instance"`
	State     State             `json:"state"`
	OfferedAt string            `json:"offered_at"`
	UpdatedAt string            `json:"updated_at"`
	Result    *Result           `json:"result,omitempty"`
	History   []Transition      `json:"history,omitempty"`
}

func (o *Offer) clone() Offer {
	c := *o
	c.History = append([]Transition(nil), o.History...)
	if o.Result != nil {
		r := *o.Result
		c.Result = &r
	}
	return c
}

// Result reports what a confirmation did.
type Result struct {
	InstanceID      string         `json:"instance_id"`
	Feature         string         `json:"feature"`
	Operation       string         `json:"operation,omitempty"`
	State           State          `json:"state"`
	Message         string         `json:"message,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
	Navigation      string         `json:"navigation,omitempty"`
	NavigationError string         `json:"navigation_error,omitempty"`
	Error           string         `json:"error,omitempty"`
	Duration        time.Duration  `json:"duration_ns"`
}

type book struct {
	turn   uint64
	offers map[string]*Offer
}

// --- Router ---

// Config wires a Router. Operations is required; everything else is optional.
type Config struct {
	Operations  OperationTable
	Navigator   Navigator
	Revisions   RevisionSource
	Generations GenerationSource
	Logger      *logging.Logger
	Metrics     *metrics.Metrics
}

type Router struct {
	mu        sync.Mutex
	books     map[string]*book
	ops       OperationTable
	nav       Navigator
	revs      RevisionSource
	gens      GenerationSource
	log       *logging.Logger
	metrics   *metrics.Metrics
	observers []Observer
}

func NewRouter(cfg Config) *Router {
	return &Router{
		books:   map[string]*book{},
		ops:     cfg.Operations,
		nav:     cfg.Navigator,
		revs:    cfg.Revisions,
		gens:    cfg.Generations,
		log:     logging.OrNop(cfg.Logger).Named("dispatch"),
		metrics: cfg.Metrics,
	}
}

// Observe registers fn for finished dispatches. Not safe to call
// concurrently with Dispatch.
func (r *Router) Observe(fn Observer) {
	r.observers = append(r.observers, fn)
}

// outcomeTurns is how many turns a finished dispatch stays queryable.
const outcomeTurns = 4

// Offer records the instances offered in a turn. A newer turn expires
// whatever the previous turn left offered and drops older records, except
// succeeded or failed ones younger than outcomeTurns. Re-offering within
// the same turn keeps the state of instances already in the book.
func (r *Router) Offer(session string, turn uint64, instances []selector.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.books[session]
	switch {
	case !ok:
		b = &book{turn: turn, offers: map[string]*Offer{}}
		r.books[session] = b
	case turn < b.turn:
		return fmt.Errorf("dispatch: turn %d of session %s is older than current turn %d", turn, session, b.turn)
	case turn > b.turn:
		for id, o := range b.offers {
			if o.Instance.Turn < b.turn && !(o.finished() && turn-o.Instance.Turn <= outcomeTurns) {
				delete(b.offers, id)
				continue
			}
			if o.State == StateOffered {
				_ = o.move(StateExpired, fmt.Sprintf("superseded by turn %d", turn))
			}
		}
		b.turn = turn
	}

	now := timeNow().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	for _, inst := range instances {
		if _, exists := b.offers[inst.ID]; exists {
			continue
		}
		inst.SessionID = session
		inst.Turn = turn
		b.offers[inst.ID] = &Offer{Instance: inst, State: StateOffered, OfferedAt: now, UpdatedAt: now}
	}
	return nil
}

// Dispatch confirms an offered instance and runs its operation with the
// instance parameters overlaid by confirmed (nil values remove a key).
func (r *Router) Dispatch(ctx context.Context, session, id string, confirmed map[string]any) (Result, error) {
	started := time.Now()

	r.mu.Lock()
	o, err := r.lookup(session, id)
	if err != nil {
		r.mu.Unlock()
		return Result{}, err
	}
	if err := r.claim(o); err != nil {
		r.mu.Unlock()
		return r.resultOf(o), err
	}
	inst := o.Instance
	r.mu.Unlock()

	if stale, err := r.projectChanged(ctx, inst); err != nil {
		return r.fail(ctx, session, o, inst.BEOperation, fmt.Errorf("checking project revision: %w", err), started)
	} else if stale {
		return r.expire(o, id, "project changed since the suggestion was offered")
	}

	var op Operation
	if inst.BEOperation != "" {
		var found bool
		if r.ops != nil {
			op, found = r.ops.Lookup(inst.BEOperation)
		}
		if !found {
			derr := &Error{Kind: KindUnknownOperation, InstanceID: id, Msg: fmt.Sprintf("no operation named %q", inst.BEOperation)}
			res, _ := r.fail(ctx, session, o, inst.BEOperation, derr, started)
			return res, derr
		}
	}

	r.mu.Lock()
	_ = o.move(StateExecuting, "")
	r.mu.Unlock()

	var out Outcome
	if op != nil {
		inv := Invocation{
			Operation: inst.BEOperation,
			Project:   inst.ProjectID,
			Session:   session,
			Focus:     copyFocus(inst.Focus),
			Params:    MergeParams(inst.Params, confirmed),
		}
		out, err = op(ctx, inv)
		if err != nil {
			return r.fail(ctx, session, o, inst.BEOperation, &OperationFailure{Operation: inst.BEOperation, Err: err}, started)
		}
	}

	res := Result{
		InstanceID: id,
		Feature:    inst.Feature,
		Operation:  inst.BEOperation,
		State:      StateSucceeded,
		Message:    out.Message,
		Data:       out.Data,
		Navigation: inst.FENavigation,
	}
	if res.Message == "" && op == nil && inst.FENavigation != "" {
		res.Message = "Opened " + inst.FENavigation
	}

	r.mu.Lock()
	_ = o.move(StateSucceeded, "")
	r.mu.Unlock()

	if inst.FENavigation != "" && r.nav != nil {
		if err := r.nav.Navigate(ctx, session, inst.FENavigation, out.Data); err != nil {
			res.NavigationError = err.Error()
			r.log.Warn("navigation failed, operation result kept",
				"session", session, "instance", id, "target", inst.FENavigation, "error", err)
		}
	}
	res.Duration = time.Since(started)

	r.mu.Lock()
	o.Result = &res
	r.mu.Unlock()

	r.metrics.Dispatched(string(StateSucceeded), res.Duration)
	r.log.Info("suggestion dispatched",
		"session", session, "instance", id, "feature", inst.Feature, "operation", inst.BEOperation)
	r.notify(ctx, session, res)
	return res, nil
}

// Cancel records that the user declined an offered instance.
func (r *Router) Cancel(session, id string) (Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, err := r.lookup(session, id)
	if err != nil {
		return Offer{}, err
	}
	if o.State != StateOffered {
		return o.clone(), r.rejection(o)
	}
	_ = o.move(StateCancelled, "declined")
	return o.clone(), nil
}

// Status returns a copy of the book entry.
func (r *Router) Status(session, id string) (Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, err := r.lookup(session, id)
	if err != nil {
		return Offer{}, err
	}
	return o.clone(), nil
}

// Offers lists the session's book, current turn first, best rank first.
func (r *Router) Offers(session string) []Offer {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.books[session]
	if !ok {
		return nil
	}
	out := make([]Offer, 0, len(b.offers))
	for _, o := range b.offers {
		out = append(out, o.clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, c := out[i].Instance, out[j].Instance
		if a.Turn != c.Turn {
			return a.Turn > c.Turn
		}
		if a.Priority != c.Priority {
			return a.Priority > c.Priority
		}
		if a.Score != c.Score {
			return a.Score > c.Score
		}
		return a.Index < c.Index
	})
	return out
}

// Turn returns the session's current turn, or 0 if it has none.
func (r *Router) Turn(session string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.books[session]; ok {
		return b.turn
	}
	return 0
}

// ExpireGeneration expires every offered instance built from a rule set
// other than generation, returning how many changed.
func (r *Router) ExpireGeneration(generation uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, b := range r.books {
		for _, o := range b.offers {
			if o.State == StateOffered && o.Instance.Generation != generation {
				_ = o.move(StateExpired, "rule set reloaded")
				n++
			}
		}
	}
	return n
}

// Forget drops a session's book.
func (r *Router) Forget(session string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.books, session)
}

// --- internals ---

func (r *Router) lookup(session, id string) (*Offer, error) {
	b, ok := r.books[session]
	if !ok {
		return nil, &Error{Kind: KindUnknownInstance, InstanceID: id, Msg: "session has no offered suggestions"}
	}
	o, ok := b.offers[id]
	if !ok {
		return nil, &Error{Kind: KindUnknownInstance, InstanceID: id, Msg: "not offered in this session"}
	}
	return o, nil
}

// claim moves an offered record to confirmed, or explains why it cannot.
// Must hold r.mu.
func (r *Router) claim(o *Offer) error {
	if o.State != StateOffered {
		return r.rejection(o)
	}
	if r.gens != nil && r.gens.Generation() != o.Instance.Generation {
		_ = o.move(StateExpired, "rule set reloaded")
		return &Error{Kind: KindExpired, InstanceID: o.Instance.ID, State: StateExpired, Msg: "rule set reloaded"}
	}
	return o.move(StateConfirmed, "")
}

func (r *Router) rejection(o *Offer) error {
	id := o.Instance.ID
	switch o.State {
	case StateExpired:
		return &Error{Kind: KindExpired, InstanceID: id, State: o.State, Msg: lastReason(o)}
	case StateConfirmed, StateExecuting:
		return &Error{Kind: KindInFlight, InstanceID: id, State: o.State, Msg: "already being executed"}
	default:
		return &Error{Kind: KindNotOffered, InstanceID: id, State: o.State, Msg: "no longer offered"}
	}
}

func (r *Router) projectChanged(ctx context.Context, inst selector.Instance) (bool, error) {
	if r.revs == nil || inst.ProjectID == "" {
		return false, nil
	}
	rev, err := r.revs.Revision(ctx, inst.ProjectID)
	if err != nil {
		return false, err
	}
	return rev > inst.Revision, nil
}

func (r *Router) expire(o *Offer, id, reason string) (Result, error) {
	r.mu.Lock()
	_ = o.move(StateExpired, reason)
	res := r.resultOf(o)
	r.mu.Unlock()
	r.metrics.Dispatched(string(StateExpired), 0)
	return res, &Error{Kind: KindExpired, InstanceID: id, State: StateExpired, Msg: reason}
}

func (r *Router) fail(ctx context.Context, session string, o *Offer, operation string, cause error, started time.Time) (Result, error) {
	r.mu.Lock()
	_ = o.move(StateFailed, cause.Error())
	res := Result{
		InstanceID: o.Instance.ID,
		Feature:    o.Instance.Feature,
		Operation:  operation,
		State:      StateFailed,
		Error:      cause.Error(),
		Duration:   time.Since(started),
	}
	var failure *OperationFailure
	if errors.As(cause, &failure) {
		res.Message = failure.Err.Error()
	}
	o.Result = &res
	r.mu.Unlock()

	r.metrics.Dispatched(string(StateFailed), res.Duration)
	r.log.Warn("suggestion dispatch failed",
		"session", session, "instance", o.Instance.ID, "operation", operation, "error", cause)
	r.notify(ctx, session, res)
	return res, cause
}

func (r *Router) resultOf(o *Offer) Result {
	if o.Result != nil {
		return *o.Result
	}
	return Result{InstanceID: o.Instance.ID, Feature: o.Instance.Feature, Operation: o.Instance.BEOperation, State: o.State}
}

func (r *Router) notify(ctx context.Context, session string, res Result) {
	for _, fn := range r.observers {
		fn(ctx, session, res)
	}
}

func lastReason(o *Offer) string {
	if n := len(o.History); n > 0 {
		return o.History[n-1].Reason
	}
	return ""
}

// MergeParams overlays confirmed onto base without modifying either.
func MergeParams(base, confirmed map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(confirmed))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range confirmed {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

func copyFocus(f map[string]string) map[string]string {
	if f == nil {
		return nil
	}
	out := make(map[string]string, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
